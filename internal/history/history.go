// Package history stores completed jobs in SQLite so that runs can be
// inspected after batchq exits.
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nixpig/batchq/internal/jobmanager"
	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Record is a completed job.
type Record struct {
	RunID       string
	JobID       int
	Mode        jobmanager.Mode
	Command     string
	ExitCode    int
	Stdout      string
	Stderr      string
	CompletedAt time.Time
}

// FromJob creates a Record for a job reaped by the Manager.
func FromJob(runID string, job jobmanager.Job, at time.Time) Record {
	return Record{
		RunID:       runID,
		JobID:       job.ID(),
		Mode:        job.Mode(),
		Command:     job.Command(),
		ExitCode:    job.ExitCode(),
		Stdout:      job.Stdout(),
		Stderr:      job.Stderr(),
		CompletedAt: at,
	}
}

// Store is a SQLite-backed job history.
type Store struct {
	db *sql.DB
}

// Open opens, creating if needed, the history database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("history path is required")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	s := &Store{db: db}

	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate history: %w", err)
	}

	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, string(b))

	return err
}

// Record appends r to the history.
func (s *Store) Record(ctx context.Context, r Record) error {
	if r.CompletedAt.IsZero() {
		r.CompletedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs(run_id, job_id, mode, command, exit_code, stdout, stderr, completed_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		r.RunID, r.JobID, string(r.Mode), r.Command, r.ExitCode,
		nullStr(r.Stdout), nullStr(r.Stderr),
		r.CompletedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record job %d: %w", r.JobID, err)
	}

	return nil
}

// List returns up to limit records, most recent first. A limit <= 0 returns
// every record.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, job_id, mode, command, exit_code, stdout, stderr, completed_at
		 FROM jobs ORDER BY seq DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r              Record
			mode           string
			stdout, stderr sql.NullString
			completedAt    string
		)

		if err := rows.Scan(
			&r.RunID,
			&r.JobID,
			&mode,
			&r.Command,
			&r.ExitCode,
			&stdout,
			&stderr,
			&completedAt,
		); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}

		r.Mode = jobmanager.Mode(mode)
		r.Stdout = stdout.String
		r.Stderr = stderr.String

		r.CompletedAt, err = time.Parse(time.RFC3339Nano, completedAt)
		if err != nil {
			return nil, fmt.Errorf("parse completed_at %q: %w", completedAt, err)
		}

		records = append(records, r)
	}

	return records, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}

	return s.db.Close()
}

func nullStr(v string) any {
	if v == "" {
		return nil
	}

	return v
}
