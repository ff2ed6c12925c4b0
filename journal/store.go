// Package journal keeps a SQLite record of streaming runs and the line errors
// reported during them.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped when schema.sql changes incompatibly.
const schemaVersion = 1

// timeLayout has a fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var (
	// ErrSchemaMismatch is returned when the database was created by another schema version.
	ErrSchemaMismatch = errors.New("journal: schema version mismatch")

	// ErrRunNotFound is returned when no run has the requested job ID.
	ErrRunNotFound = errors.New("journal: run not found")
)

// Status is the outcome of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusComplete  Status = "complete"
	StatusStopped   Status = "stopped"
	StatusCancelled Status = "cancelled"
)

// Run is one streamed program.
type Run struct {
	JobID      string
	SessionID  string
	Program    string
	Port       string
	Firmware   string
	TotalLines int
	AckedLines int
	ErrorCount int
	Status     Status
	Reason     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns the run time, zero while running.
func (r Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// LineError is a rejected program line.
type LineError struct {
	JobID      string
	Line       int
	Code       int
	Message    string
	RecordedAt time.Time
}

// Store manages the journal database.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the journal at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Path returns the database file.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	var exists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if exists == 0 {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin schema tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}

		return tx.Commit()
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has %d, want %d; remove %s", ErrSchemaMismatch, version, schemaVersion, s.path)
	}

	return nil
}

// StartRun records a run that just started.
func (s *Store) StartRun(ctx context.Context, run Run) error {
	if run.Status == "" {
		run.Status = StatusRunning
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (
            job_id, session_id, program, port, firmware, total_lines, status, started_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.JobID,
		run.SessionID,
		nullableString(run.Program),
		nullableString(run.Port),
		nullableString(run.Firmware),
		run.TotalLines,
		string(run.Status),
		formatTime(run.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.JobID, err)
	}

	return nil
}

// UpdateProgress stores the number of answered lines of a running job.
func (s *Store) UpdateProgress(ctx context.Context, jobID string, acked int) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE runs SET acked_lines = ? WHERE job_id = ? AND status = ?",
		acked, jobID, string(StatusRunning),
	)
	if err != nil {
		return fmt.Errorf("update run %s: %w", jobID, err)
	}

	return nil
}

// RecordLineError stores a rejected line and bumps the error count of its run.
func (s *Store) RecordLineError(ctx context.Context, le LineError) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin line error tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO line_errors (job_id, line, code, message, recorded_at) VALUES (?, ?, ?, ?, ?)",
		le.JobID, le.Line, le.Code, nullableString(le.Message), formatTime(le.RecordedAt),
	); err != nil {
		return fmt.Errorf("insert line error: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE runs SET error_count = error_count + 1 WHERE job_id = ?", le.JobID,
	); err != nil {
		return fmt.Errorf("count line error: %w", err)
	}

	return tx.Commit()
}

// FinishRun records the outcome of a run.
func (s *Store) FinishRun(ctx context.Context, jobID string, status Status, acked int, reason string, finishedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE runs SET status = ?, acked_lines = ?, reason = ?, finished_at = ? WHERE job_id = ?",
		string(status), acked, nullableString(reason), formatTime(finishedAt), jobID,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", jobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, jobID)
	}

	return nil
}

const runColumns = `job_id, session_id, program, port, firmware, total_lines, acked_lines,
    error_count, status, reason, started_at, finished_at`

// Run returns the run of jobID.
func (s *Store) Run(ctx context.Context, jobID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE job_id = ?", jobID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, jobID)
	}
	if err != nil {
		return nil, err
	}

	return run, nil
}

// Runs returns the most recent runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, "SELECT "+runColumns+" FROM runs ORDER BY started_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, nil
}

// LineErrors returns the rejected lines of a run in line order.
func (s *Store) LineErrors(ctx context.Context, jobID string) ([]LineError, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT job_id, line, code, message, recorded_at FROM line_errors WHERE job_id = ? ORDER BY line, id",
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("query line errors: %w", err)
	}
	defer rows.Close()

	var out []LineError
	for rows.Next() {
		var (
			le       LineError
			message  sql.NullString
			recorded string
		)
		if err := rows.Scan(&le.JobID, &le.Line, &le.Code, &message, &recorded); err != nil {
			return nil, fmt.Errorf("scan line error: %w", err)
		}
		le.Message = message.String
		le.RecordedAt = parseTime(recorded)
		out = append(out, le)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate line errors: %w", err)
	}

	return out, nil
}

// Prune deletes runs that started before cutoff and returns how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM runs WHERE started_at < ? AND status != ?",
		formatTime(cutoff), string(StatusRunning),
	)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}

	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		run                       Run
		program, port, fw, reason sql.NullString
		status, started           string
		finished                  sql.NullString
	)
	err := sc.Scan(
		&run.JobID, &run.SessionID, &program, &port, &fw, &run.TotalLines, &run.AckedLines,
		&run.ErrorCount, &status, &reason, &started, &finished,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}

	run.Program = program.String
	run.Port = port.String
	run.Firmware = fw.String
	run.Reason = reason.String
	run.Status = Status(status)
	run.StartedAt = parseTime(started)
	if finished.Valid {
		run.FinishedAt = parseTime(finished.String)
	}

	return &run, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
