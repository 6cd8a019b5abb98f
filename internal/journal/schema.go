package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var baseSchema string

// migrations upgrade the journal one version at a time; entry i moves a
// database from user_version i to i+1. Steps only ever add tables, columns or
// indexes so upload history survives an upgrade.
var migrations = []string{
	baseSchema,
}

// currentVersion is the user_version of a fully migrated journal.
func currentVersion() int {
	return len(migrations)
}

// migrate brings the database up to currentVersion. A journal written by a
// newer build is left untouched and reported.
func (s *Store) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read journal version: %w", err)
	}
	if version > currentVersion() {
		return fmt.Errorf("journal %s has version %d; this build understands up to %d", s.path, version, currentVersion())
	}
	for next := version; next < currentVersion(); next++ {
		if err := s.applyMigration(ctx, next); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, from int) error {
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, migrations[from]); err != nil {
			return fmt.Errorf("migrate journal to version %d: %w", from+1, err)
		}
		// PRAGMA does not accept bound parameters.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", from+1)); err != nil {
			return fmt.Errorf("record journal version %d: %w", from+1, err)
		}
		return nil
	})
}

func withTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin journal tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
