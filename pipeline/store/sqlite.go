package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps provenance records in a single SQLite file.
//
// It suits single-process pipelines that want run history to survive a
// restart, e.g. the rowflow CLI. The database uses WAL mode and a single
// connection; records are append-only.
//
// Schema:
//   - provenance_records: one row per completed step run
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore opens (creating if needed) the database at path. Use
// ":memory:" for a throwaway database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite supports one writer at a time
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	table := `
		CREATE TABLE IF NOT EXISTS provenance_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pipeline_id TEXT NOT NULL,
			step_id TEXT NOT NULL,
			row_index INTEGER NOT NULL,
			operation TEXT NOT NULL,
			version TEXT NOT NULL,
			inputs TEXT NOT NULL,
			params TEXT NOT NULL,
			disabled INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			error_text TEXT NOT NULL DEFAULT '',
			recorded_at INTEGER NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, table); err != nil {
		return fmt.Errorf("failed to create provenance_records table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"CREATE INDEX IF NOT EXISTS idx_provenance_step ON provenance_records(pipeline_id, step_id, id)"); err != nil {
		return fmt.Errorf("failed to create idx_provenance_step: %w", err)
	}
	return nil
}

// Record appends rec.
func (s *SQLiteStore) Record(ctx context.Context, rec Record) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	inputs, params, err := encodeJSONColumns(rec)
	if err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO provenance_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.PipelineID, rec.StepID, rec.Row, rec.Operation, rec.Version, inputs, params,
		rec.Disabled, rec.Failed, rec.Error, rec.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert provenance record: %w", err)
	}
	return nil
}

// Latest returns the newest record of a step.
func (s *SQLiteStore) Latest(ctx context.Context, pipelineID, stepID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Record{}, ErrClosed
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM provenance_records
		WHERE pipeline_id = ? AND step_id = ?
		ORDER BY id DESC
		LIMIT 1
	`, pipelineID, stepID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to load provenance record: %w", err)
	}
	return rec, nil
}

// History returns records newest first.
func (s *SQLiteStore) History(ctx context.Context, pipelineID, stepID string, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM provenance_records
		WHERE pipeline_id = ? AND step_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, pipelineID, stepID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query provenance records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan provenance record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Forget deletes the records of a step.
func (s *SQLiteStore) Forget(ctx context.Context, pipelineID, stepID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM provenance_records WHERE pipeline_id = ? AND step_id = ?", pipelineID, stepID); err != nil {
		return fmt.Errorf("failed to delete provenance records: %w", err)
	}
	return nil
}

// Close closes the database. It is idempotent.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}
