// Package history persists pipeline runs to a local SQLite database.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/codex-k8s/shipctl/internal/pipeline"
)

// ErrNotFound is returned when no run matches the requested ID.
var ErrNotFound = errors.New("run not found")

// Summary is a lightweight view of a stored run.
type Summary struct {
	ID          string
	Action      pipeline.Action
	Status      pipeline.Status
	FailedStage pipeline.StageID
	StartedAt   time.Time
	Duration    time.Duration
}

// SQLiteStore stores runs in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.Migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	return s, nil
}

// Migrate creates the schema when missing.
func (s *SQLiteStore) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		status TEXT NOT NULL,
		failed_stage TEXT DEFAULT '',
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		data TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS stage_results (
		run_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		stage TEXT NOT NULL,
		outcome TEXT NOT NULL,
		error TEXT DEFAULT '',
		duration_ms INTEGER NOT NULL,
		PRIMARY KEY (run_id, position),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_action ON runs(action);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save stores run and its stage results, replacing any previous record with the same ID.
func (s *SQLiteStore) Save(ctx context.Context, run *pipeline.Run) error {
	if run == nil || run.ID == "" {
		return errors.New("run has no id")
	}
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, action, status, failed_stage, started_at, finished_at, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			failed_stage = excluded.failed_stage,
			finished_at = excluded.finished_at,
			data = excluded.data
	`, run.ID, string(run.Action), string(run.Status), string(run.FailedStage),
		run.StartedAt.UTC(), run.FinishedAt.UTC(), string(data))
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM stage_results WHERE run_id = ?", run.ID); err != nil {
		return fmt.Errorf("clear stage results: %w", err)
	}
	results := append(append([]pipeline.StageResult(nil), run.Stages...), run.Epilogue)
	for i, r := range results {
		if r.Stage == "" {
			continue
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO stage_results (run_id, position, stage, outcome, error, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?)
		`, run.ID, i, string(r.Stage), string(r.Outcome), r.Error, r.Duration.Milliseconds())
		if err != nil {
			return fmt.Errorf("insert stage result %s: %w", r.Stage, err)
		}
	}
	return tx.Commit()
}

// List returns the most recent runs first. An empty action lists all actions.
func (s *SQLiteStore) List(ctx context.Context, action pipeline.Action, limit int) ([]Summary, error) {
	query := "SELECT id, action, status, failed_stage, started_at, finished_at FROM runs"
	var args []any
	if action != "" {
		query += " WHERE action = ?"
		args = append(args, string(action))
	}
	query += " ORDER BY started_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum              Summary
			action, status   string
			failed           string
			started, finished time.Time
		)
		if err := rows.Scan(&sum.ID, &action, &status, &failed, &started, &finished); err != nil {
			return nil, err
		}
		sum.Action = pipeline.Action(action)
		sum.Status = pipeline.Status(status)
		sum.FailedStage = pipeline.StageID(failed)
		sum.StartedAt = started
		sum.Duration = finished.Sub(started)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Get returns the run whose ID equals id or uniquely starts with it.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*pipeline.Run, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrNotFound
	}
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM runs WHERE id = ?", id).Scan(&data)
	switch {
	case err == nil:
	case errors.Is(err, sql.ErrNoRows):
		if data, err = s.getByPrefix(ctx, id); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("query run: %w", err)
	}

	var run pipeline.Run
	if err := json.Unmarshal([]byte(data), &run); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	return &run, nil
}

// getByPrefix returns the only run whose id starts with prefix.
func (s *SQLiteStore) getByPrefix(ctx context.Context, prefix string) (string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT data FROM runs WHERE id LIKE ? LIMIT 2", likePrefix(prefix)+"%")
	if err != nil {
		return "", fmt.Errorf("query run: %w", err)
	}
	defer rows.Close()

	var found []string
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return "", err
		}
		found = append(found, data)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrNotFound, prefix)
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("run id prefix %q is ambiguous", prefix)
	}
}

// likePrefix strips LIKE wildcards so user input only matches literally.
func likePrefix(s string) string {
	return strings.NewReplacer("%", "", "_", "").Replace(s)
}
