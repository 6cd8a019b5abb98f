// Package budget keeps the recordings directory within its storage limits.
//
// Segments whose upload is settled (uploaded or given up on) are deleted first,
// oldest first; segments still waiting for upload are evicted in age order
// only when that is not enough. A segment held by the uploader is never
// deleted: the tracker checks the reservation and removes the file in one
// step. The directory listing is the only input for size and age; a file that
// cannot be deleted is skipped so one locked file does not stop the pass.
package budget
