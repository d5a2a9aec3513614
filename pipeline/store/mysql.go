package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore keeps provenance records in MySQL or MariaDB, for several
// rowflow processes sharing one run history.
//
// DSN format:
//
//	user:password@tcp(localhost:3306)/rowflow
//
// Never hardcode credentials; read the DSN from the environment or the
// configuration file.
type MySQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore connects to dsn, verifies the connection and creates the
// schema if needed.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *MySQLStore) createTables(ctx context.Context) error {
	table := `
		CREATE TABLE IF NOT EXISTS provenance_records (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			pipeline_id VARCHAR(64) NOT NULL,
			step_id VARCHAR(64) NOT NULL,
			row_index INT NOT NULL,
			operation VARCHAR(255) NOT NULL,
			version VARCHAR(64) NOT NULL,
			inputs JSON NOT NULL,
			params JSON NOT NULL,
			disabled BOOLEAN NOT NULL DEFAULT FALSE,
			failed BOOLEAN NOT NULL DEFAULT FALSE,
			error_text TEXT NOT NULL,
			recorded_at BIGINT NOT NULL,
			INDEX idx_provenance_step (pipeline_id, step_id, id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := s.db.ExecContext(ctx, table); err != nil {
		return fmt.Errorf("failed to create provenance_records table: %w", err)
	}
	return nil
}

// Record appends rec.
func (s *MySQLStore) Record(ctx context.Context, rec Record) error {
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
func (s *MySQLStore) Latest(ctx context.Context, pipelineID, stepID string) (Record, error) {
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
func (s *MySQLStore) History(ctx context.Context, pipelineID, stepID string, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	query := `
		SELECT ` + recordColumns + `
		FROM provenance_records
		WHERE pipeline_id = ? AND step_id = ?
		ORDER BY id DESC`
	args := []any{pipelineID, stepID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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
func (s *MySQLStore) Forget(ctx context.Context, pipelineID, stepID string) error {
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

// Close closes the connection pool. It is idempotent.
func (s *MySQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping checks the database connection.
func (s *MySQLStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}
