// Package history persists run reports in a local SQLite database so past
// outcomes survive the process.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sectorlab/mbrlab/internal/aggregator"
	"github.com/sectorlab/mbrlab/internal/supervisor"
)

const driverName = "sqlite"

var migrations = [...]string{
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL,
		succeeded INTEGER NOT NULL,
		failed INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS run_results (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		variant TEXT NOT NULL,
		outcome TEXT NOT NULL,
		elapsed_ms INTEGER NOT NULL,
		exit_code INTEGER,
		stderr_tail TEXT NOT NULL,
		PRIMARY KEY (run_id, position)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_run_results_variant ON run_results(variant);`,
}

// Store wraps the SQLite connection holding run history.
type Store struct {
	db *sql.DB
}

// Open initialises the history database at path, creating the directory
// and schema as needed.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure history directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", filepath.ToSlash(path))
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, stmt := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA foreign_keys=ON;"} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("configure history database: %w", err)
		}
	}
	for _, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply history migration: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Close shuts down the underlying connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record persists one finished run with all its results.
func (s *Store) Record(ctx context.Context, report aggregator.RunReport) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, finished_at, succeeded, failed) VALUES (?, ?, ?, ?, ?)`,
		report.ID, report.StartedAt.UnixMilli(), report.FinishedAt.UnixMilli(),
		report.Succeeded, report.Failed,
	); err != nil {
		return fmt.Errorf("insert run %s: %w", report.ID, err)
	}

	for i, result := range report.Results {
		var exitCode any
		if result.ExitCode != nil {
			exitCode = *result.ExitCode
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_results (run_id, position, variant, outcome, elapsed_ms, exit_code, stderr_tail)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			report.ID, i, result.VariantName, string(result.Outcome),
			result.Elapsed.Milliseconds(), exitCode, result.StderrTail,
		); err != nil {
			return fmt.Errorf("insert result %s/%s: %w", report.ID, result.VariantName, err)
		}
	}
	return tx.Commit()
}

// RunSummary is one row of run history.
type RunSummary struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Succeeded  int
	Failed     int
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, succeeded, failed
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var summaries []RunSummary
	for rows.Next() {
		var (
			summary             RunSummary
			startedMS, finishMS int64
		)
		if err := rows.Scan(&summary.ID, &startedMS, &finishMS, &summary.Succeeded, &summary.Failed); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		summary.StartedAt = time.UnixMilli(startedMS)
		summary.FinishedAt = time.UnixMilli(finishMS)
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

// Results returns the ordered results of one recorded run.
func (s *Store) Results(ctx context.Context, runID string) ([]supervisor.ExecutionResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT variant, outcome, elapsed_ms, exit_code, stderr_tail
		 FROM run_results WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("query results for %s: %w", runID, err)
	}
	defer rows.Close()

	var results []supervisor.ExecutionResult
	for rows.Next() {
		var (
			result    supervisor.ExecutionResult
			outcome   string
			elapsedMS int64
			exitCode  sql.NullInt64
		)
		if err := rows.Scan(&result.VariantName, &outcome, &elapsedMS, &exitCode, &result.StderrTail); err != nil {
			return nil, fmt.Errorf("scan result row: %w", err)
		}
		result.Outcome = supervisor.Outcome(outcome)
		result.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		if exitCode.Valid {
			code := int(exitCode.Int64)
			result.ExitCode = &code
		}
		results = append(results, result)
	}
	return results, rows.Err()
}
