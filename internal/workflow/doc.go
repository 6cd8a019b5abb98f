// Package workflow orchestrates continuous recording.
//
// Manager runs two lines of execution under one errgroup: the record cycle,
// which frees disk space, captures a segment and hands it to the upload queue
// before immediately starting the next capture, and the upload worker, which
// drains that queue. Segments left on disk by a previous run are queued before
// the first capture. Shutdown is a context cancellation observed at the top of
// each cycle.
package workflow
