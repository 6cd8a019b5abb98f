package workflow

import (
	"context"

	"camrecorder/internal/budget"
	"camrecorder/internal/capture"
	"camrecorder/internal/journal"
	"camrecorder/internal/logging"
	"camrecorder/internal/metrics"
	"camrecorder/internal/notifications"
	"camrecorder/internal/segment"
	"camrecorder/internal/services"
)

// recordLoop runs idle -> capturing -> dispatched -> idle until shutdown.
// Shutdown is honoured at the top of each cycle; a running capture is left to
// the capture driver.
func (m *Manager) recordLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		m.setPhase(PhaseIdle)
		m.enforceBudget(ctx)

		m.setPhase(PhaseCapturing)
		seg, res := m.deps.Recorder.Capture(ctx, capture.Request{
			Namer:   m.namer,
			Source:  m.cfg.Camera.RTSPURL,
			Target:  m.cfg.SegmentDuration(),
			OnStart: func(s *segment.Segment) { m.captureStarted(ctx, s) },
		})
		m.captureFinished(seg, res)
		metrics.RecordCapture(string(res.State), res.ActualDuration)

		if res.State == segment.Failed {
			m.publish(ctx, notifications.EventCaptureFailed, notifications.Payload{"error": res.Err})
			m.setPhase(PhaseBackoff)
			sleepCtx(ctx, m.failureBackoff)
			continue
		}

		m.setPhase(PhaseDispatched)
		m.journalPending(ctx, seg)
		if err := m.deps.Queue.Enqueue(seg); err != nil {
			m.logger.Warn("segment not queued for upload",
				logging.String(logging.FieldSegment, seg.Path),
				logging.Error(err),
				logging.String(logging.FieldImpact, "segment is uploaded after the next start"),
			)
		}
	}
}

func (m *Manager) enforceBudget(ctx context.Context) {
	if m.deps.Budget == nil {
		return
	}
	res, err := m.deps.Budget.Ensure(ctx, m.deps.Queue)
	if err != nil {
		logging.WarnWithContext(m.logger, "disk budget check failed", "budget_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, services.Hint(err)),
			logging.String(logging.FieldImpact, "recording continues without eviction"),
		)
		return
	}
	m.recordBudget(res)
	metrics.RecordBudget(res.UsageAfter, len(res.Removed), len(res.Errors))

	if m.deps.Journal != nil {
		bg := context.WithoutCancel(ctx)
		for _, removed := range res.Removed {
			err := m.deps.Journal.MarkStatus(bg, removed.Path, journal.StatusEvicted)
			if err != nil {
				err = m.deps.Journal.Record(bg, removed.Path, segment.Title(removed.Path), "", removed.Size, journal.StatusEvicted)
			}
			if err != nil {
				m.logger.Debug("journal eviction record failed", logging.String(logging.FieldSegment, removed.Path), logging.Error(err))
			}
		}
	}

	if !res.Satisfied() {
		m.publish(ctx, notifications.EventLowDisk, notifications.Payload{
			"free_bytes":  res.FreeBytes,
			"usage_bytes": res.UsageAfter,
		})
	}
}

func (m *Manager) captureStarted(ctx context.Context, seg *segment.Segment) {
	m.mu.Lock()
	m.state.Recording = seg.Path
	m.state.RecordingSince = seg.CreatedAt
	m.mu.Unlock()
	m.publish(ctx, notifications.EventRecordingStarted, notifications.Payload{"title": seg.Title()})
}

func (m *Manager) captureFinished(seg *segment.Segment, res capture.Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Recording = ""
	switch res.State {
	case segment.Completed:
		m.state.Completed++
	case segment.Partial:
		m.state.Partial++
	case segment.Failed:
		m.state.Failed++
		if res.Err != nil {
			m.state.LastCaptureError = res.Err.Error()
		}
	}
	if seg != nil && res.State != segment.Failed {
		m.state.LastSegment = seg.Path
	}
}

func (m *Manager) recordBudget(res budget.Result) {
	m.mu.Lock()
	m.state.UsageBytes = res.UsageAfter
	m.state.FreeBytes = res.FreeBytes
	m.state.Evicted += len(res.Removed)
	m.mu.Unlock()
}

func (m *Manager) setPhase(phase Phase) {
	m.mu.Lock()
	m.state.Phase = phase
	m.mu.Unlock()
}
