// Package queue hands finished segments from the record cycle to the single
// upload worker.
//
// Queue is an unbounded in-memory FIFO; enqueueing never blocks capture. The
// Worker waits on the network gate once per drain cycle, then uploads queued
// segments one at a time in order with bounded exponential retries. Outcomes
// are written to the upload journal and reported through notifications: one
// message per upload, success or failure. Anything still queued at shutdown
// stays on disk and is picked up again on the next start.
package queue
