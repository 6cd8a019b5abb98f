package capture

import (
	"context"
	"time"

	"camrecorder/internal/segment"
	"camrecorder/internal/services"
)

// Request describes one segment to record.
type Request struct {
	Namer  segment.Namer
	Source string
	Target time.Duration
	// OnStart, when set, is called once the capture process is running.
	OnStart func(*segment.Segment)
}

// Capture records one segment into a fresh path chosen by the request's namer
// and returns it in a terminal state. A failure to even start the capture tool
// is reported as a failed segment with Result.Err set.
func (d *Driver) Capture(ctx context.Context, req Request) (*segment.Segment, Result) {
	now := d.now()
	path, err := req.Namer.Next(now)
	if err != nil {
		seg := segment.New(req.Namer.Dir, now, req.Target)
		_ = seg.Complete(segment.Failed, 0, 0)
		return seg, Result{State: segment.Failed, Err: services.Wrap(services.ErrConfiguration, "capture", "name", "choose segment path", err)}
	}

	handle, err := d.Start(ctx, req.Source, req.Target, path)
	if err != nil {
		seg := segment.New(path, now, req.Target)
		_ = seg.Complete(segment.Failed, 0, 0)
		removeFailed(d.logger, path)
		return seg, Result{State: segment.Failed, ExitCode: -1, Err: err}
	}
	if req.OnStart != nil {
		req.OnStart(handle.Segment)
	}
	return handle.Segment, d.Await(handle, d.opts.TimeoutMargin)
}
