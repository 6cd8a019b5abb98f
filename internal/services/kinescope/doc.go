// Package kinescope uploads recorded segments to Kinescope.
//
// Uploads use the single-request method of the uploader API: the file body is
// streamed with the title and parent folder in headers. After a successful
// upload the video's play link is looked up through the main API.
package kinescope
