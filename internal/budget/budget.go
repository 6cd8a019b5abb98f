package budget

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/disk"

	"camrecorder/internal/logging"
	"camrecorder/internal/segment"
)

// FreeSpaceFunc reports free bytes on the filesystem holding dir.
type FreeSpaceFunc func(ctx context.Context, dir string) (uint64, error)

// RemoveFunc deletes one segment file.
type RemoveFunc func(path string) error

// FilesystemFree reads free space through gopsutil.
func FilesystemFree(ctx context.Context, dir string) (uint64, error) {
	usage, err := disk.UsageWithContext(ctx, dir)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// Limits bounds local storage. Zero MaxFiles and MinFreeBytes disable those checks.
type Limits struct {
	CeilingBytes int64
	MaxFiles     int
	MinFreeBytes uint64
}

// Manager evicts segments until the recordings directory fits its limits,
// preferring those whose upload is settled.
type Manager struct {
	dir    string
	ext    string
	limits Limits
	free   FreeSpaceFunc
	remove RemoveFunc
	logger *slog.Logger
}

// Option customizes a Manager.
type Option func(*Manager)

// WithFreeSpace overrides the free space source.
func WithFreeSpace(fn FreeSpaceFunc) Option {
	return func(m *Manager) {
		if fn != nil {
			m.free = fn
		}
	}
}

// WithRemove overrides file deletion (tests).
func WithRemove(fn RemoveFunc) Option {
	return func(m *Manager) {
		if fn != nil {
			m.remove = fn
		}
	}
}

// WithLogger sets the manager logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// New constructs a budget manager for segment files with extension ext in dir.
func New(dir, ext string, limits Limits, opts ...Option) (*Manager, error) {
	if dir == "" {
		return nil, errors.New("budget: recordings directory required")
	}
	if limits.CeilingBytes <= 0 {
		return nil, errors.New("budget: ceiling must be positive")
	}
	m := &Manager{
		dir:    dir,
		ext:    ext,
		limits: limits,
		free:   FilesystemFree,
		remove: os.Remove,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.NewComponentLogger(m.logger, "budget")
	return m, nil
}

// RemovalError pairs a segment path with the error that kept it on disk.
type RemovalError struct {
	Path  string
	Error error
}

// Result describes one Ensure pass.
type Result struct {
	Removed []segment.File
	Errors  []RemovalError
	// Forced counts removed segments that had not settled.
	Forced      int
	UsageBefore int64
	UsageAfter  int64
	FilesAfter  int
	FreeBytes   uint64
	satisfied   bool
}

// Satisfied reports whether all limits hold after the pass.
func (r Result) Satisfied() bool {
	return r.satisfied
}

// Usage returns the current total size and count of segment files.
func (m *Manager) Usage() (int64, int, error) {
	files, err := segment.Scan(m.dir, m.ext)
	if err != nil {
		return 0, 0, err
	}
	return segment.TotalSize(files), len(files), nil
}

// Tracker tells the budget which segments the uploader is done with and guards
// deletion against uploads in progress. queue.Queue satisfies it.
type Tracker interface {
	// Settled returns the paths whose upload reached a final outcome.
	Settled() map[string]struct{}
	// RemoveIfUnreserved calls remove for path unless an upload holds it.
	// The reservation check and the removal are atomic with respect to the
	// uploader taking the file; false with a nil error means the path is held.
	RemoveIfUnreserved(path string, remove func(string) error) (bool, error)
}

// Ensure deletes segments until every limit holds. Settled segments go first,
// oldest first; the remaining ones are evicted in age order only when settled
// segments alone cannot satisfy the limits. Segments held by the uploader are
// never touched. Limits are re-evaluated after each deletion and the pass stops
// as soon as they hold. A deletion failure is logged and the next candidate is
// tried. A nil tracker treats every segment as unsettled and unreserved.
func (m *Manager) Ensure(ctx context.Context, tracker Tracker) (Result, error) {
	files, err := segment.Scan(m.dir, m.ext)
	if err != nil {
		return Result{}, fmt.Errorf("budget scan: %w", err)
	}

	usage := segment.TotalSize(files)
	count := len(files)
	result := Result{UsageBefore: usage}

	free, freeKnown := m.readFree(ctx)
	over := func() bool {
		if usage > m.limits.CeilingBytes {
			return true
		}
		if m.limits.MaxFiles > 0 && count > m.limits.MaxFiles {
			return true
		}
		return freeKnown && m.limits.MinFreeBytes > 0 && free < m.limits.MinFreeBytes
	}

	if over() {
		for _, candidate := range evictionOrder(files, tracker) {
			if !over() || ctx.Err() != nil {
				break
			}
			file := candidate.File

			removed, err := m.removeUnlessHeld(tracker, file.Path)
			switch {
			case err != nil && errors.Is(err, fs.ErrNotExist):
				usage -= file.Size
				count--
				continue
			case err != nil:
				result.Errors = append(result.Errors, RemovalError{Path: file.Path, Error: err})
				logging.WarnWithContext(m.logger, "failed to evict segment; trying next oldest", "budget_evict_failed",
					logging.String(logging.FieldSegment, file.Path),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check recordings_dir permissions or whether another program holds the file"),
					logging.String(logging.FieldImpact, "disk space not reclaimed from this file"),
				)
				continue
			case !removed:
				m.logger.Debug("eviction skipped segment being uploaded", logging.String(logging.FieldSegment, file.Path))
				continue
			}

			usage -= file.Size
			count--
			if freeKnown {
				if refreshed, ok := m.readFree(ctx); ok {
					free = refreshed
				} else {
					free += uint64(file.Size)
				}
			}
			result.Removed = append(result.Removed, file)
			if !candidate.Settled {
				result.Forced++
			}
			m.logger.Info("evicted segment",
				logging.String(logging.FieldSegment, file.Path),
				logging.Int64("bytes", file.Size),
				logging.Duration("age", time.Since(file.ModTime).Round(time.Second)),
				logging.Bool("settled", candidate.Settled),
				logging.String(logging.FieldEventType, "segment_evicted"),
			)
		}
	}
	if result.Forced > 0 {
		logging.WarnWithContext(m.logger, "evicted segments that were not uploaded", "budget_forced_eviction",
			logging.Int("count", result.Forced),
			logging.String(logging.FieldErrorHint, "raise storage.max_usage_mb or check the upload backlog"),
			logging.String(logging.FieldImpact, "those recordings are lost"),
		)
	}

	result.UsageAfter = usage
	result.FilesAfter = count
	result.FreeBytes = free
	result.satisfied = !over()
	if !result.satisfied {
		logging.WarnWithContext(m.logger, "storage limits still exceeded after eviction", "budget_unsatisfied",
			logging.Int64("usage_bytes", usage),
			logging.Int64("ceiling_bytes", m.limits.CeilingBytes),
			logging.Int("files", count),
			logging.Int64("free_bytes", int64(free)),
			logging.String(logging.FieldErrorHint, "remaining segments are being uploaded or could not be deleted"),
			logging.String(logging.FieldImpact, "recording continues above the storage budget"),
		)
	}
	return result, nil
}

type candidate struct {
	segment.File
	Settled bool
}

// evictionOrder lists settled segments oldest first, then the rest oldest
// first. files is already sorted by age.
func evictionOrder(files []segment.File, tracker Tracker) []candidate {
	var settled map[string]struct{}
	if tracker != nil {
		settled = tracker.Settled()
	}
	order := make([]candidate, 0, len(files))
	for _, file := range files {
		if _, ok := settled[file.Path]; ok {
			order = append(order, candidate{File: file, Settled: true})
		}
	}
	for _, file := range files {
		if _, ok := settled[file.Path]; !ok {
			order = append(order, candidate{File: file})
		}
	}
	return order
}

func (m *Manager) removeUnlessHeld(tracker Tracker, path string) (bool, error) {
	if tracker == nil {
		return true, m.remove(path)
	}
	return tracker.RemoveIfUnreserved(path, m.remove)
}

func (m *Manager) readFree(ctx context.Context) (uint64, bool) {
	if m.limits.MinFreeBytes == 0 {
		return 0, false
	}
	free, err := m.free(ctx, m.dir)
	if err != nil {
		m.logger.Debug("free space check failed", logging.Error(err))
		return 0, false
	}
	return free, true
}
