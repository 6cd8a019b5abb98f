// Package services defines the error markers shared by camrecorder's external
// integrations.
//
// Failures from the capture tool, the upload service and notification
// transports are wrapped with Wrap so callers can classify them with errors.Is
// (retry or give up) and attach an operator hint when logging.
package services
