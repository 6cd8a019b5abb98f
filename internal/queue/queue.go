package queue

import (
	"errors"
	"sync"

	"camrecorder/internal/segment"
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("upload queue closed")

// Queue is an unbounded FIFO of segments awaiting upload. It is the only state
// shared between the record cycle and the upload worker. A popped segment stays
// reserved until released, and the disk budget deletes files only through
// RemoveIfUnreserved, so an upload in progress is never deleted. Segments whose
// upload reached a final outcome are marked settled for the budget.
type Queue struct {
	mu       sync.Mutex
	items    []*segment.Segment
	reserved map[string]struct{}
	settled  map[string]struct{}
	ready    chan struct{}
	closed   bool
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{
		reserved: make(map[string]struct{}),
		settled:  make(map[string]struct{}),
		ready:    make(chan struct{}, 1),
	}
}

// Enqueue appends seg. It never blocks.
func (q *Queue) Enqueue(seg *segment.Segment) error {
	if seg == nil {
		return errors.New("nil segment")
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, seg)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// Ready signals that items may be available. Receivers must re-check Len.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

// Len returns the number of queued segments, not counting reserved ones.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pending returns the queued paths in upload order.
func (q *Queue) Pending() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.items))
	for _, seg := range q.items {
		out = append(out, seg.Path)
	}
	return out
}

// Reserved returns a copy of the paths currently being uploaded.
func (q *Queue) Reserved() map[string]struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]struct{}, len(q.reserved))
	for path := range q.reserved {
		out[path] = struct{}{}
	}
	return out
}

// Pop removes the head of the queue and reserves its path in one step.
func (q *Queue) Pop() (*segment.Segment, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	seg := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	q.reserved[seg.Path] = struct{}{}
	return seg, true
}

// RemoveIfUnreserved calls remove for path unless it is reserved. The check
// and the removal happen under the queue lock, so Pop cannot reserve path in
// between; a later Pop of a removed path finds the file gone.
func (q *Queue) RemoveIfUnreserved(path string, remove func(string) error) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, held := q.reserved[path]; held {
		return false, nil
	}
	if err := remove(path); err != nil {
		return false, err
	}
	delete(q.settled, path)
	return true, nil
}

// Settle marks path as no longer needed for upload.
func (q *Queue) Settle(path string) {
	q.mu.Lock()
	q.settled[path] = struct{}{}
	q.mu.Unlock()
}

// Settled returns a copy of the settled paths.
func (q *Queue) Settled() map[string]struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]struct{}, len(q.settled))
	for path := range q.settled {
		out[path] = struct{}{}
	}
	return out
}

// Release drops the reservation for path.
func (q *Queue) Release(path string) {
	q.mu.Lock()
	delete(q.reserved, path)
	q.mu.Unlock()
}

// Close rejects further Enqueue calls. Queued segments remain until drained.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// Drain removes and returns everything still queued.
func (q *Queue) Drain() []*segment.Segment {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}
