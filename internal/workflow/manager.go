package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"camrecorder/internal/budget"
	"camrecorder/internal/capture"
	"camrecorder/internal/config"
	"camrecorder/internal/journal"
	"camrecorder/internal/logging"
	"camrecorder/internal/notifications"
	"camrecorder/internal/queue"
	"camrecorder/internal/segment"
)

// Recorder captures one segment. capture.Driver satisfies it.
type Recorder interface {
	Capture(ctx context.Context, req capture.Request) (*segment.Segment, capture.Result)
}

// Budget frees disk space before each capture. budget.Manager satisfies it.
type Budget interface {
	Ensure(ctx context.Context, tracker budget.Tracker) (budget.Result, error)
}

// Uploads is the upload consumer. queue.Worker satisfies it.
type Uploads interface {
	Run(ctx context.Context) error
	Snapshot() queue.Status
}

// Journal is the subset of the upload journal the orchestrator writes.
type Journal interface {
	Record(ctx context.Context, path, title, completion string, size int64, status journal.Status) error
	MarkStatus(ctx context.Context, path string, status journal.Status) error
	UploadedPaths(ctx context.Context) (map[string]struct{}, error)
}

// Deps bundles the collaborators of the orchestrator.
type Deps struct {
	Recorder Recorder
	Budget   Budget
	Queue    *queue.Queue
	Uploads  Uploads
	Journal  Journal
	Notifier notifications.Service
	Logger   *slog.Logger
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithFailureBackoff overrides the pause after a failed capture.
func WithFailureBackoff(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.failureBackoff = d
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager runs the record cycle and the upload worker side by side. They share
// only the upload queue and the shutdown context.
type Manager struct {
	cfg      *config.Config
	deps     Deps
	logger   *slog.Logger
	notifier notifications.Service
	namer    segment.Namer

	failureBackoff time.Duration
	now            func() time.Time

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	runErr  error
	state   recordState
}

// NewManager constructs a workflow manager.
func NewManager(cfg *config.Config, deps Deps, opts ...ManagerOption) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.NewService(nil)
	}
	if deps.Queue == nil {
		deps.Queue = queue.New()
	}
	m := &Manager{
		cfg:      cfg,
		deps:     deps,
		logger:   logging.NewComponentLogger(logger, "workflow"),
		notifier: notifier,
		namer: segment.Namer{
			Dir:       cfg.Paths.RecordingsDir,
			Layout:    cfg.Capture.FilenameLayout,
			Extension: cfg.Capture.Extension,
		},
		failureBackoff: cfg.CaptureFailureBackoff(),
		now:            time.Now,
		state:          recordState{Phase: PhaseStopped},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Queue returns the upload queue shared with the worker.
func (m *Manager) Queue() *queue.Queue {
	return m.deps.Queue
}
