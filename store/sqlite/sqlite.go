// Package sqlite persists memory snapshots and run traces in SQLite.
//
// It expects an *sql.DB that uses a SQLite driver; Open registers and uses
// the pure-Go "modernc.org/sqlite" driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/hupe1980/taskgraph/core"
	"github.com/hupe1980/taskgraph/graph"
	"github.com/hupe1980/taskgraph/memory"
	"github.com/hupe1980/taskgraph/store"
)

// Store is a memory.Snapshotter and graph.TraceSink backed by SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ memory.Snapshotter = (*Store)(nil)
	_ graph.TraceSink    = (*Store)(nil)
)

// Open opens the database at dsn (":memory:" works) and initializes the
// schema.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	// a single connection keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)

	s, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// New initializes the schema in db and returns a Store.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("sqlite: init schema: %w", err)
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS memory_items (
			id TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL,
			quality REAL NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS traces (
			run_id TEXT PRIMARY KEY,
			saved_at INTEGER NOT NULL,
			steps INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
	)

	return err
}

// SaveItems replaces the stored snapshot with items in one transaction.
func (s *Store) SaveItems(ctx context.Context, items []memory.Item) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM memory_items`); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO memory_items (id, created_at, quality, payload) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, it := range items {
		payload, encErr := store.EncodeItem(it)
		if encErr != nil {
			return fmt.Errorf("encode item %s: %w", it.ID, encErr)
		}

		if _, err = stmt.ExecContext(ctx, it.ID, it.CreatedAt.UnixNano(), it.Quality, payload); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// LoadItems returns the stored snapshot in creation order.
func (s *Store) LoadItems(ctx context.Context) ([]memory.Item, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM memory_items ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []memory.Item

	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}

		it, err := store.DecodeItem(payload)
		if err != nil {
			return nil, fmt.Errorf("decode item: %w", err)
		}

		items = append(items, it)
	}

	return items, rows.Err()
}

// SaveTrace stores a run trace, replacing an earlier one with the same run id.
func (s *Store) SaveTrace(ctx context.Context, trace *core.Trace) error {
	now := s.now()

	payload, err := store.EncodeTrace(trace, now)
	if err != nil {
		return fmt.Errorf("encode trace: %w", err)
	}

	sum := store.Summarize(trace, now)

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO traces (run_id, saved_at, steps, failed, payload)
		VALUES (?, ?, ?, ?, ?)`,
		sum.RunID, now.UnixNano(), sum.Steps, sum.Failed, payload,
	)

	return err
}

// LoadTrace returns the trace of runID or store.ErrNotFound.
func (s *Store) LoadTrace(ctx context.Context, runID string) (*core.Trace, error) {
	var payload []byte

	err := s.db.QueryRowContext(ctx, `SELECT payload FROM traces WHERE run_id = ?`, runID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	rec, err := store.DecodeTrace(payload)
	if err != nil {
		return nil, fmt.Errorf("decode trace: %w", err)
	}

	return rec.Trace(), nil
}

// ListRuns returns up to limit stored runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]store.RunSummary, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, saved_at, steps, failed FROM traces
		ORDER BY saved_at DESC, run_id
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.RunSummary

	for rows.Next() {
		var (
			r     store.RunSummary
			saved int64
		)

		if err := rows.Scan(&r.RunID, &saved, &r.Steps, &r.Failed); err != nil {
			return nil, err
		}

		r.SavedAt = time.Unix(0, saved)
		out = append(out, r)
	}

	return out, rows.Err()
}
