package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Status is the last known upload outcome for a segment.
type Status string

const (
	StatusPending  Status = "pending"
	StatusInFlight Status = "in_flight"
	StatusUploaded Status = "uploaded"
	StatusFailed   Status = "upload_failed"
	StatusEvicted  Status = "evicted"
	StatusMissing  Status = "missing"
)

// ErrNotFound is returned when no entry exists for a path.
var ErrNotFound = errors.New("journal entry not found")

// Entry is one row of the journal.
type Entry struct {
	Path        string
	Title       string
	SizeBytes   int64
	Completion  string
	Status      Status
	Attempts    int
	VideoID     string
	PlaybackRef string
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// Record upserts a segment with the given status, keeping the remaining
// columns as they were.
func (s *Store) Record(ctx context.Context, path, title, completion string, size int64, status Status) error {
	ts := s.timestamp()
	err := s.exec(ctx, `
INSERT INTO uploads (path, title, size_bytes, completion, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(path) DO UPDATE SET
    title = excluded.title,
    size_bytes = excluded.size_bytes,
    completion = CASE WHEN excluded.completion = '' THEN uploads.completion ELSE excluded.completion END,
    status = excluded.status,
    updated_at = excluded.updated_at`,
		path, title, size, completion, string(status), ts, ts)
	if err != nil {
		return fmt.Errorf("journal record %s: %w", path, err)
	}
	return nil
}

// MarkUploaded stores a successful delivery.
func (s *Store) MarkUploaded(ctx context.Context, path, videoID, playbackRef string, attempts int) error {
	return s.update(ctx, path, `status = ?, attempts = ?, video_id = ?, playback_ref = ?, last_error = ''`,
		string(StatusUploaded), attempts, videoID, playbackRef)
}

// MarkFailed stores a delivery that exhausted its attempts.
func (s *Store) MarkFailed(ctx context.Context, path string, attempts int, lastError string) error {
	return s.update(ctx, path, `status = ?, attempts = ?, last_error = ?`,
		string(StatusFailed), attempts, lastError)
}

// MarkStatus sets only the status column.
func (s *Store) MarkStatus(ctx context.Context, path string, status Status) error {
	return s.update(ctx, path, `status = ?`, string(status))
}

func (s *Store) update(ctx context.Context, path, assignments string, args ...any) error {
	args = append(args, s.timestamp(), path)
	query := "UPDATE uploads SET " + assignments + ", updated_at = ? WHERE path = ?"
	var affected int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("journal update %s: %w", path, err)
	}
	if affected == 0 {
		return fmt.Errorf("journal update %s: %w", path, ErrNotFound)
	}
	return nil
}

// Get returns the entry for path.
func (s *Store) Get(ctx context.Context, path string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+" WHERE path = ?", path)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("journal get %s: %w", path, err)
	}
	return entry, nil
}

// UploadedPaths returns the set of paths already delivered.
func (s *Store) UploadedPaths(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT path FROM uploads WHERE status = ?", string(StatusUploaded))
	if err != nil {
		return nil, fmt.Errorf("journal uploaded paths: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		out[path] = struct{}{}
	}
	return out, rows.Err()
}

// List returns the most recently updated entries, newest first. limit <= 0
// returns everything.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	query := selectColumns + " ORDER BY updated_at DESC, path"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal list: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// Counts returns the number of entries per status.
func (s *Store) Counts(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(1) FROM uploads GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("journal counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}

// Prune deletes evicted and missing entries last updated before cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			"DELETE FROM uploads WHERE status IN (?, ?) AND updated_at < ?",
			string(StatusEvicted), string(StatusMissing), cutoff.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("journal prune: %w", err)
	}
	return removed, nil
}

const selectColumns = `SELECT path, title, size_bytes, completion, status, attempts, video_id, playback_ref, last_error, created_at, updated_at FROM uploads`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		entry            Entry
		status           string
		created, updated string
	)
	if err := row.Scan(&entry.Path, &entry.Title, &entry.SizeBytes, &entry.Completion, &status,
		&entry.Attempts, &entry.VideoID, &entry.PlaybackRef, &entry.LastError, &created, &updated); err != nil {
		return nil, err
	}
	entry.Status = Status(status)
	entry.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	entry.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return &entry, nil
}
