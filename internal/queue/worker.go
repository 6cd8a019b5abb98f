package queue

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"camrecorder/internal/journal"
	"camrecorder/internal/logging"
	"camrecorder/internal/metrics"
	"camrecorder/internal/notifications"
	"camrecorder/internal/segment"
	"camrecorder/internal/services"
	"camrecorder/internal/services/kinescope"
)

// Uploader delivers one file. kinescope.Client satisfies it.
type Uploader interface {
	Upload(ctx context.Context, path, title string) (kinescope.Video, error)
}

// Gate blocks until the network can carry an upload.
type Gate interface {
	AwaitReady(ctx context.Context) error
}

// Journal persists upload outcomes. journal.Store satisfies it.
type Journal interface {
	Get(ctx context.Context, path string) (*journal.Entry, error)
	Record(ctx context.Context, path, title, completion string, size int64, status journal.Status) error
	MarkStatus(ctx context.Context, path string, status journal.Status) error
	MarkUploaded(ctx context.Context, path, videoID, playbackRef string, attempts int) error
	MarkFailed(ctx context.Context, path string, attempts int, lastError string) error
}

// Policy bounds upload retries and decides what happens to uploaded files.
type Policy struct {
	MaxAttempts  int
	RetryInitial time.Duration
	RetryMax     time.Duration
	// AbandonOnShutdown cancels the upload in progress, including pending
	// retries, when the worker is stopped.
	AbandonOnShutdown bool
	// DeleteAfterUpload removes a segment once uploaded instead of leaving it
	// for the disk budget.
	DeleteAfterUpload bool
}

// WorkerOption customizes a Worker.
type WorkerOption func(*Worker)

// WithJournal records outcomes in j.
func WithJournal(j Journal) WorkerOption {
	return func(w *Worker) {
		w.journal = j
	}
}

// WithNotifier sets the operator notifier.
func WithNotifier(n notifications.Service) WorkerOption {
	return func(w *Worker) {
		if n != nil {
			w.notifier = n
		}
	}
}

// WithLogger sets the worker logger.
func WithLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// Worker states reported by Snapshot.
const (
	StateIdle           = "idle"
	StateWaitingNetwork = "waiting_network"
	StateUploading      = "uploading"
)

// Status is a snapshot of worker activity.
type Status struct {
	State     string
	Current   string
	Attempt   int
	Uploaded  int
	Failed    int
	Skipped   int
	LastError string
}

// Worker is the single upload consumer. Because exactly one worker goroutine
// drains the queue, at most one upload is ever in flight.
type Worker struct {
	queue    *Queue
	uploader Uploader
	gate     Gate
	policy   Policy
	journal  Journal
	notifier notifications.Service
	logger   *slog.Logger

	mu     sync.Mutex
	status Status
}

// NewWorker constructs a worker draining q.
func NewWorker(q *Queue, uploader Uploader, gate Gate, policy Policy, opts ...WorkerOption) *Worker {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	w := &Worker{
		queue:    q,
		uploader: uploader,
		gate:     gate,
		policy:   policy,
		notifier: notifications.NewService(nil),
		logger:   logging.NewNop(),
		status:   Status{State: StateIdle},
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = logging.NewComponentLogger(w.logger, "uploader")
	return w
}

// Snapshot returns the current worker status.
func (w *Worker) Snapshot() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *Worker) update(fn func(*Status)) {
	w.mu.Lock()
	fn(&w.status)
	w.mu.Unlock()
}

// Run drains the queue until ctx is cancelled. Each drain cycle waits once for
// the network gate, then uploads every queued segment in order. Shutdown is
// checked between segments; an upload already in progress is finished unless
// the policy abandons it.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if w.queue.Len() == 0 {
			metrics.SetQueueDepth(0)
			w.update(func(s *Status) { s.State = StateIdle })
			select {
			case <-ctx.Done():
				return nil
			case <-w.queue.Ready():
				continue
			}
		}
		if ctx.Err() != nil {
			return nil
		}

		w.update(func(s *Status) { s.State = StateWaitingNetwork })
		metrics.SetNetworkReady(false)
		if err := w.gate.AwaitReady(ctx); err != nil {
			return nil
		}
		metrics.SetNetworkReady(true)
		w.update(func(s *Status) { s.State = StateUploading })

		for ctx.Err() == nil {
			seg, ok := w.queue.Pop()
			if !ok {
				break
			}
			metrics.SetQueueDepth(w.queue.Len())
			w.process(ctx, seg)
		}
	}
}

func (w *Worker) process(ctx context.Context, seg *segment.Segment) {
	defer w.queue.Release(seg.Path)
	logger := w.logger.With(logging.String(logging.FieldSegment, seg.Path))
	// Journal and notifications must still be written while shutting down.
	bg := context.WithoutCancel(ctx)

	if _, err := os.Stat(seg.Path); errors.Is(err, fs.ErrNotExist) {
		logging.WarnWithContext(logger, "segment vanished before upload; skipping", "upload_skipped",
			logging.String(logging.FieldImpact, "segment will not be uploaded"),
			logging.String(logging.FieldErrorHint, "storage ceiling may be too small for the upload backlog"),
		)
		w.journalMissing(bg, logger, seg)
		w.update(func(s *Status) { s.Skipped++ })
		metrics.RecordUpload("skipped", 0)
		return
	}

	seg.SetUploadState(segment.UploadInFlight)
	w.journalInFlight(bg, logger, seg)
	w.update(func(s *Status) {
		s.Current = seg.Path
		s.Attempt = 0
	})
	defer w.update(func(s *Status) {
		s.Current = ""
		s.Attempt = 0
	})

	uploadCtx := bg
	if w.policy.AbandonOnShutdown {
		uploadCtx = ctx
	}

	started := time.Now()
	attempts := 0
	title := seg.Title()
	upload := func() (kinescope.Video, error) {
		attempts++
		w.update(func(s *Status) { s.Attempt = attempts })
		metrics.RecordUploadAttempt()
		video, err := w.uploader.Upload(uploadCtx, seg.Path, title)
		if err != nil && !services.Retryable(err) {
			return video, backoff.Permanent(err)
		}
		return video, err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = w.policy.RetryInitial
	policy.MaxInterval = w.policy.RetryMax
	video, err := backoff.Retry(uploadCtx, upload,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(w.policy.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("upload attempt failed; retrying",
				logging.Int(logging.FieldAttempt, attempts),
				logging.Int("max_attempts", w.policy.MaxAttempts),
				logging.Duration("retry_in", next.Round(time.Millisecond)),
				logging.Error(err),
				logging.String(logging.FieldEventType, "upload_retry"),
			)
		}),
	)

	switch {
	case err == nil:
		w.succeeded(bg, logger, seg, video, attempts, time.Since(started))
	case ctx.Err() != nil && errors.Is(err, context.Canceled):
		w.interrupted(bg, logger, seg, attempts)
	default:
		w.failed(bg, logger, seg, err, attempts, time.Since(started))
	}
}

func (w *Worker) succeeded(ctx context.Context, logger *slog.Logger, seg *segment.Segment, video kinescope.Video, attempts int, elapsed time.Duration) {
	seg.SetUploadState(segment.Uploaded)
	if err := seg.AttachPlaybackRef(video.Ref()); err != nil {
		logger.Warn("playback reference already set", logging.Error(err))
	}
	if w.journal != nil {
		if err := w.journal.MarkUploaded(ctx, seg.Path, video.ID, video.Ref(), attempts); err != nil {
			logger.Warn("journal update failed", logging.Error(err), logging.String(logging.FieldImpact, "segment may be uploaded again after restart"))
		}
	}
	w.update(func(s *Status) { s.Uploaded++ })
	metrics.RecordUpload(string(segment.Uploaded), elapsed)
	w.releaseFile(logger, seg)
	logger.Info("segment uploaded",
		logging.String("video_id", video.ID),
		logging.String("playback_ref", video.Ref()),
		logging.Int(logging.FieldAttempt, attempts),
		logging.Duration("elapsed", elapsed.Round(time.Millisecond)),
		logging.String(logging.FieldEventType, "upload_completed"),
	)
	if err := w.notifier.Publish(ctx, notifications.EventUploadCompleted, notifications.Payload{
		"title": seg.Title(),
		"link":  video.PlayLink,
	}); err != nil {
		logger.Debug("upload notification failed", logging.Error(err))
	}
}

func (w *Worker) failed(ctx context.Context, logger *slog.Logger, seg *segment.Segment, uploadErr error, attempts int, elapsed time.Duration) {
	seg.SetUploadState(segment.UploadFailed)
	if w.journal != nil {
		if err := w.journal.MarkFailed(ctx, seg.Path, attempts, uploadErr.Error()); err != nil {
			logger.Warn("journal update failed", logging.Error(err))
		}
	}
	w.update(func(s *Status) {
		s.Failed++
		s.LastError = uploadErr.Error()
	})
	w.queue.Settle(seg.Path)
	metrics.RecordUpload(string(segment.UploadFailed), elapsed)
	logging.ErrorWithContext(logger, "upload failed; giving up", "upload_failed",
		logging.Int(logging.FieldAttempt, attempts),
		logging.Error(uploadErr),
		logging.String(logging.FieldErrorHint, services.Hint(uploadErr)),
		logging.String(logging.FieldImpact, "segment stays on disk and is retried after restart"),
	)
	if err := w.notifier.Publish(ctx, notifications.EventUploadFailed, notifications.Payload{
		"title":    seg.Title(),
		"attempts": attempts,
		"error":    uploadErr,
	}); err != nil {
		logger.Warn("upload failure notification failed", logging.Error(err))
	}
}

// releaseFile hands an uploaded segment back to local storage: deleted right
// away when the policy asks for it, otherwise settled so the disk budget evicts
// it before segments still waiting for upload.
func (w *Worker) releaseFile(logger *slog.Logger, seg *segment.Segment) {
	if !w.policy.DeleteAfterUpload {
		w.queue.Settle(seg.Path)
		return
	}
	if err := os.Remove(seg.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logging.WarnWithContext(logger, "could not delete uploaded segment", "upload_cleanup_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "the disk budget evicts it later"),
		)
		w.queue.Settle(seg.Path)
		return
	}
	logger.Debug("deleted uploaded segment")
}

func (w *Worker) interrupted(ctx context.Context, logger *slog.Logger, seg *segment.Segment, attempts int) {
	seg.SetUploadState(segment.UploadPending)
	if w.journal != nil {
		if err := w.journal.MarkStatus(ctx, seg.Path, journal.StatusPending); err != nil {
			logger.Debug("journal update failed", logging.Error(err))
		}
	}
	metrics.RecordUpload("abandoned", 0)
	logger.Info("upload abandoned for shutdown; segment left for next start",
		logging.Int(logging.FieldAttempt, attempts),
		logging.String(logging.FieldEventType, "upload_abandoned"),
	)
}

func (w *Worker) journalInFlight(ctx context.Context, logger *slog.Logger, seg *segment.Segment) {
	if w.journal == nil {
		return
	}
	err := w.journal.MarkStatus(ctx, seg.Path, journal.StatusInFlight)
	if errors.Is(err, journal.ErrNotFound) {
		err = w.journal.Record(ctx, seg.Path, seg.Title(), string(seg.Completion()), seg.Size(), journal.StatusInFlight)
	}
	if err != nil {
		logger.Warn("journal update failed", logging.Error(err))
	}
}

func (w *Worker) journalMissing(ctx context.Context, logger *slog.Logger, seg *segment.Segment) {
	if w.journal == nil {
		return
	}
	if entry, err := w.journal.Get(ctx, seg.Path); err == nil && entry.Status == journal.StatusEvicted {
		return
	}
	err := w.journal.MarkStatus(ctx, seg.Path, journal.StatusMissing)
	if errors.Is(err, journal.ErrNotFound) {
		err = w.journal.Record(ctx, seg.Path, seg.Title(), string(seg.Completion()), seg.Size(), journal.StatusMissing)
	}
	if err != nil {
		logger.Debug("journal update failed", logging.Error(err))
	}
}
