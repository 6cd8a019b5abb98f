package workflow

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"camrecorder/internal/journal"
	"camrecorder/internal/logging"
	"camrecorder/internal/notifications"
	"camrecorder/internal/segment"
)

// Start enqueues segments left over from a previous run and then launches the
// record cycle and the upload worker. It returns immediately.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if m.deps.Recorder == nil || m.deps.Uploads == nil {
		m.mu.Unlock()
		return errors.New("workflow recorder and uploader required")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.runErr = nil
	m.done = make(chan struct{})
	m.state = recordState{Phase: PhaseIdle, StartedAt: m.now()}
	done := m.done
	m.mu.Unlock()

	count := m.enqueueBacklog(runCtx)
	m.publish(runCtx, notifications.EventRecorderStarted, nil)
	if count > 0 {
		m.publish(runCtx, notifications.EventBacklogEnqueued, notifications.Payload{"count": count})
	}

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		defer m.deps.Queue.Close()
		return m.recordLoop(groupCtx)
	})
	group.Go(func() error {
		return m.deps.Uploads.Run(groupCtx)
	})

	go func() {
		err := group.Wait()
		m.finish(runCtx, err)
		close(done)
	}()
	return nil
}

// Stop requests shutdown and waits for both lines of execution to return.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Wait blocks until the manager stops on its own or through Stop.
func (m *Manager) Wait() error {
	m.mu.RLock()
	done := m.done
	m.mu.RUnlock()
	if done == nil {
		return nil
	}
	<-done
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.runErr
}

func (m *Manager) finish(ctx context.Context, err error) {
	left := m.deps.Queue.Drain()
	for _, seg := range left {
		m.logger.Info("segment left for next start",
			logging.String(logging.FieldSegment, seg.Path),
			logging.String(logging.FieldEventType, "upload_deferred"),
		)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.ErrorWithContext(m.logger, "workflow stopped with error", "workflow_failed", logging.Error(err))
	}
	m.publish(ctx, notifications.EventRecorderStopped, nil)
	m.logger.Info("workflow stopped", logging.Int("deferred_uploads", len(left)))

	m.mu.Lock()
	m.running = false
	m.cancel = nil
	m.runErr = err
	m.state.Phase = PhaseStopped
	m.state.Recording = ""
	m.mu.Unlock()
}

// enqueueBacklog queues segments already on disk that the journal does not
// record as uploaded, oldest first. Uploaded ones are settled for the budget.
func (m *Manager) enqueueBacklog(ctx context.Context) int {
	files, err := segment.Scan(m.cfg.Paths.RecordingsDir, m.cfg.Capture.Extension)
	if err != nil {
		logging.WarnWithContext(m.logger, "could not scan recordings for backlog", "backlog_scan_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "segments from a previous run are not uploaded this session"),
		)
		return 0
	}

	uploaded := map[string]struct{}{}
	if m.deps.Journal != nil {
		if paths, err := m.deps.Journal.UploadedPaths(ctx); err != nil {
			m.logger.Warn("journal read failed; re-uploading every segment on disk", logging.Error(err))
		} else {
			uploaded = paths
		}
	}

	count := 0
	for _, file := range files {
		if _, done := uploaded[file.Path]; done {
			m.deps.Queue.Settle(file.Path)
			continue
		}
		if file.Size == 0 {
			continue
		}
		seg := segment.Restore(file.Path, file.ModTime, file.Size)
		m.journalPending(ctx, seg)
		if err := m.deps.Queue.Enqueue(seg); err != nil {
			m.logger.Warn("backlog enqueue failed", logging.String(logging.FieldSegment, file.Path), logging.Error(err))
			continue
		}
		count++
	}
	if count > 0 {
		m.logger.Info("queued segments from previous run",
			logging.Int("count", count),
			logging.String(logging.FieldEventType, "backlog_enqueued"),
		)
	}
	return count
}

func (m *Manager) journalPending(ctx context.Context, seg *segment.Segment) {
	if m.deps.Journal == nil {
		return
	}
	if err := m.deps.Journal.Record(ctx, seg.Path, seg.Title(), string(seg.Completion()), seg.Size(), journal.StatusPending); err != nil {
		m.logger.Warn("journal record failed", logging.String(logging.FieldSegment, seg.Path), logging.Error(err))
	}
}

func (m *Manager) publish(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if err := m.notifier.Publish(context.WithoutCancel(ctx), event, payload); err != nil {
		m.logger.Debug("notification failed",
			logging.String(logging.FieldEventType, string(event)),
			logging.Error(err),
		)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
