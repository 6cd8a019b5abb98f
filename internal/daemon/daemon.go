package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/gofrs/flock"

	"camrecorder/internal/config"
	"camrecorder/internal/journal"
	"camrecorder/internal/logging"
	"camrecorder/internal/segment"
	"camrecorder/internal/workflow"
)

// Workflow is the recorder lifecycle the daemon drives. workflow.Manager
// satisfies it.
type Workflow interface {
	Start(ctx context.Context) error
	Stop()
	Wait() error
	Status() workflow.Status
}

// Journal is the read side of the upload journal.
type Journal interface {
	List(ctx context.Context, limit int) ([]journal.Entry, error)
	Counts(ctx context.Context) (map[journal.Status]int, error)
}

// Daemon coordinates the recorder workflow, the status API and single-instance
// execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	workflow Workflow
	journal  Journal
	api      *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool            `json:"running"`
	PID          int             `json:"pid"`
	LockFilePath string          `json:"lock_file"`
	JournalPath  string          `json:"journal_path"`
	Workflow     workflow.Status `json:"workflow"`
	Journal      map[string]int  `json:"journal,omitempty"`
}

// SegmentView is a segment file on disk joined with its journal entry.
type SegmentView struct {
	Path        string `json:"path"`
	Title       string `json:"title"`
	SizeBytes   int64  `json:"size_bytes"`
	ModTime     string `json:"mod_time"`
	Recording   bool   `json:"recording,omitempty"`
	Status      string `json:"status"`
	Attempts    int    `json:"attempts,omitempty"`
	PlaybackRef string `json:"playback_ref,omitempty"`
	LastError   string `json:"last_error,omitempty"`
}

// New constructs a daemon. The journal may be nil, in which case segment
// listings carry no upload state.
func New(cfg *config.Config, wf Workflow, j Journal, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || wf == nil {
		return nil, errors.New("daemon requires config and workflow manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		workflow: wf,
		journal:  j,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the instance lock, launches the workflow and the status API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another camrecorder instance holds %s", d.lockPath)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.workflow.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		logging.WarnWithContext(d.logger, "status api unavailable", "api_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check paths.api_bind"),
			logging.String(logging.FieldImpact, "recording continues without the status endpoint"),
		)
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("camrecorder daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop shuts the workflow down, waits for it and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.workflow.Stop()
	d.api.stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("camrecorder daemon stopped")
}

// Wait blocks until the workflow exits.
func (d *Daemon) Wait() error {
	return d.workflow.Wait()
}

// Addr returns the status API listen address, or "" when the API is off.
func (d *Daemon) Addr() string {
	return d.api.addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	st := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		LockFilePath: d.lockPath,
		JournalPath:  d.cfg.JournalPath(),
		Workflow:     d.workflow.Status(),
	}
	if d.journal != nil {
		counts, err := d.journal.Counts(ctx)
		if err != nil {
			d.logger.Warn("journal counts unavailable", logging.Error(err))
		} else {
			st.Journal = make(map[string]int, len(counts))
			for status, n := range counts {
				st.Journal[string(status)] = n
			}
		}
	}
	return st
}

// Segments lists the recordings directory oldest first, annotated with the
// journal state of each file.
func (d *Daemon) Segments(ctx context.Context) ([]SegmentView, error) {
	files, err := segment.Scan(d.cfg.Paths.RecordingsDir, d.cfg.Capture.Extension)
	if err != nil {
		return nil, err
	}
	entries := make(map[string]journal.Entry)
	if d.journal != nil {
		list, err := d.journal.List(ctx, 0)
		if err != nil {
			return nil, err
		}
		for _, entry := range list {
			entries[entry.Path] = entry
		}
	}
	recording := d.workflow.Status().Recording

	views := make([]SegmentView, 0, len(files))
	for _, f := range files {
		view := SegmentView{
			Path:      f.Path,
			Title:     segment.Title(f.Path),
			SizeBytes: f.Size,
			ModTime:   f.ModTime.UTC().Format("2006-01-02T15:04:05Z"),
			Recording: f.Path == recording,
			Status:    "untracked",
		}
		if entry, ok := entries[f.Path]; ok {
			view.Status = string(entry.Status)
			view.Attempts = entry.Attempts
			view.PlaybackRef = entry.PlaybackRef
			view.LastError = entry.LastError
		}
		if view.Recording {
			view.Status = "recording"
		}
		views = append(views, view)
	}
	return views, nil
}
