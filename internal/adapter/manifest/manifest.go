// Package manifest records pipeline runs and the artifacts each run writes
// in a SQLite database. It enforces that an output path is written at most
// once per run.
package manifest

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrAlreadyClaimed is returned when a run tries to write the same output
// path twice.
var ErrAlreadyClaimed = errors.New("artifact already written in this run")

// Status values for runs and artifacts.
const (
	StatusRunning   = "running"
	StatusPending   = "pending"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Run is one recorded pipeline execution.
type Run struct {
	ID         string
	Label      string
	Status     string
	StartedAt  time.Time
	FinishedAt *time.Time
	Error      string
}

// Artifact is one output file claimed by a run.
type Artifact struct {
	RunID       string
	Path        string
	Stage       string
	Status      string
	Rows        int
	Error       string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Store is a SQLite-backed manifest.
type Store struct {
	db    *sql.DB
	clock clockwork.Clock
}

// Open opens (creating if needed) the manifest at path and applies pending
// migrations. An empty path opens an in-memory database that lives as long
// as the Store.
func Open(ctx context.Context, path string, clock clockwork.Clock) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	// A single connection keeps an in-memory database alive and serializes
	// writers.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping manifest: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, clock: clock}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("set manifest dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("migrate manifest: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) now() string {
	return s.clock.Now().UTC().Format(time.RFC3339Nano)
}

// StartRun records a new running run.
func (s *Store) StartRun(ctx context.Context, runID, label string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, label, status, started_at) VALUES (?, ?, ?, ?)`,
		runID, label, StatusRunning, s.now())
	if err != nil {
		return fmt.Errorf("start run %s: %w", runID, err)
	}
	return nil
}

// FinishRun marks a run succeeded, or failed when runErr is non-nil.
func (s *Store) FinishRun(ctx context.Context, runID string, runErr error) error {
	status, msg := StatusSucceeded, sql.NullString{}
	if runErr != nil {
		status, msg = StatusFailed, sql.NullString{String: runErr.Error(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ?, error = ? WHERE id = ?`,
		status, s.now(), msg, runID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	return nil
}

// Claim reserves path for writing within a run. A second claim of the same
// path in the same run fails with ErrAlreadyClaimed, whatever the outcome of
// the first write.
func (s *Store) Claim(ctx context.Context, runID, path, stage string) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (run_id, path, stage, status, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, path) DO NOTHING`,
		runID, path, stage, StatusPending, s.now())
	if err != nil {
		return fmt.Errorf("claim %s: %w", path, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim %s: %w", path, err)
	}
	if n == 0 {
		return fmt.Errorf("claim %s: %w", path, ErrAlreadyClaimed)
	}
	return nil
}

// Complete marks a claimed artifact as written with the given row count.
func (s *Store) Complete(ctx context.Context, runID, path string, rows int) error {
	return s.settle(ctx, runID, path, StatusSucceeded, rows, sql.NullString{})
}

// Fail marks a claimed artifact as failed.
func (s *Store) Fail(ctx context.Context, runID, path string, cause error) error {
	msg := sql.NullString{String: "unknown error", Valid: true}
	if cause != nil {
		msg.String = cause.Error()
	}
	return s.settle(ctx, runID, path, StatusFailed, 0, msg)
}

func (s *Store) settle(ctx context.Context, runID, path, status string, rows int, msg sql.NullString) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE artifacts SET status = ?, row_count = ?, error = ?, completed_at = ? WHERE run_id = ? AND path = ?`,
		status, rows, msg, s.now(), runID, path)
	if err != nil {
		return fmt.Errorf("settle %s: %w", path, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("settle %s: artifact was never claimed", path)
	}
	return nil
}

// GetRun returns a recorded run.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	var (
		r                 Run
		started           string
		finished, errText sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, label, status, started_at, finished_at, error FROM runs WHERE id = ?`, runID,
	).Scan(&r.ID, &r.Label, &r.Status, &started, &finished, &errText)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return nil, fmt.Errorf("get run %s: started_at: %w", runID, err)
	}
	if r.FinishedAt, err = parseNullTime(finished); err != nil {
		return nil, fmt.Errorf("get run %s: finished_at: %w", runID, err)
	}
	r.Error = errText.String
	return &r, nil
}

// Artifacts lists the artifacts of a run ordered by claim time, then path.
func (s *Store) Artifacts(ctx context.Context, runID string) ([]Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, path, stage, status, row_count, error, created_at, completed_at
		 FROM artifacts WHERE run_id = ? ORDER BY created_at, path`, runID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		var (
			a                  Artifact
			created            string
			errText, completed sql.NullString
		)
		if err := rows.Scan(&a.RunID, &a.Path, &a.Stage, &a.Status, &a.Rows, &errText, &created, &completed); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		if a.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("artifact %s created_at: %w", a.Path, err)
		}
		if a.CompletedAt, err = parseNullTime(completed); err != nil {
			return nil, fmt.Errorf("artifact %s completed_at: %w", a.Path, err)
		}
		a.Error = errText.String
		out = append(out, a)
	}
	return out, rows.Err()
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
