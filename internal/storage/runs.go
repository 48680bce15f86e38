/**
 * PostgreSQL run-history store
 *
 * Records one row per workflow run (status, page counts, token usage,
 * persistence outcome) for accounting and debugging. The store is optional:
 * the workflow treats recording as best-effort and the service runs without
 * it when DATABASE_URL is unset.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// RunStore handles run-history persistence
type RunStore struct {
	db *sql.DB
}

// RunRecord is one recorded workflow run
type RunRecord struct {
	ID               string     `json:"id"`
	ScriptID         int        `json:"script_id"`
	Status           string     `json:"status"`
	TotalPages       int        `json:"total_pages"`
	PagesProcessed   []int      `json:"pages_processed"`
	TotalTokens      int        `json:"total_tokens"`
	PromptTokens     int        `json:"prompt_tokens"`
	CompletionTokens int        `json:"completion_tokens"`
	DatabaseSaved    bool       `json:"database_saved"`
	DatabaseError    string     `json:"database_error,omitempty"`
	ErrorCode        string     `json:"error_code,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	DurationMs       int64      `json:"duration_ms"`
	CreatedAt        time.Time  `json:"created_at"`
}

const schema = `
	CREATE TABLE IF NOT EXISTS mcq_workflow_runs (
		id UUID PRIMARY KEY,
		script_id INTEGER NOT NULL,
		status TEXT NOT NULL,
		total_pages INTEGER NOT NULL DEFAULT 0,
		pages_processed JSONB NOT NULL DEFAULT '[]'::jsonb,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		database_saved BOOLEAN NOT NULL DEFAULT FALSE,
		database_error TEXT NOT NULL DEFAULT '',
		error_code TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		duration_ms BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_mcq_workflow_runs_script
		ON mcq_workflow_runs (script_id, created_at DESC);
`

// NewRunStore creates a run-history store and verifies connectivity
func NewRunStore(databaseURL string) (*RunStore, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to ensure run-history schema: %w", err)
	}

	return &RunStore{db: db}, nil
}

// RecordRun upserts a run record by id
func (s *RunStore) RecordRun(ctx context.Context, run *RunRecord) error {
	if run.ID == "" {
		return fmt.Errorf("run ID is required")
	}

	if run.Status == "" {
		return fmt.Errorf("status is required")
	}

	pagesJSON, err := json.Marshal(run.PagesProcessed)
	if err != nil {
		return fmt.Errorf("failed to marshal pages: %w", err)
	}

	query := `
		INSERT INTO mcq_workflow_runs (
			id, script_id, status, total_pages, pages_processed,
			total_tokens, prompt_tokens, completion_tokens,
			database_saved, database_error, error_code, error_message,
			duration_ms, created_at
		) VALUES (
			$1::uuid, $2, $3, $4, $5::jsonb,
			$6, $7, $8,
			$9, $10, $11, $12,
			$13, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			total_pages = EXCLUDED.total_pages,
			pages_processed = EXCLUDED.pages_processed,
			total_tokens = EXCLUDED.total_tokens,
			prompt_tokens = EXCLUDED.prompt_tokens,
			completion_tokens = EXCLUDED.completion_tokens,
			database_saved = EXCLUDED.database_saved,
			database_error = EXCLUDED.database_error,
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			duration_ms = EXCLUDED.duration_ms
		RETURNING id
	`

	var returnedID string
	err = s.db.QueryRowContext(
		ctx,
		query,
		run.ID,
		run.ScriptID,
		run.Status,
		run.TotalPages,
		pagesJSON,
		run.TotalTokens,
		run.PromptTokens,
		run.CompletionTokens,
		run.DatabaseSaved,
		run.DatabaseError,
		run.ErrorCode,
		run.ErrorMessage,
		run.DurationMs,
	).Scan(&returnedID)

	if err != nil {
		return fmt.Errorf("failed to record run (run=%s, script=%d, status=%s): %w",
			run.ID, run.ScriptID, run.Status, err)
	}

	return nil
}

// GetRunsForScript returns the most recent runs for a script, newest first
func (s *RunStore) GetRunsForScript(ctx context.Context, scriptID int) ([]RunRecord, error) {
	query := `
		SELECT
			id, script_id, status, total_pages, pages_processed,
			total_tokens, prompt_tokens, completion_tokens,
			database_saved, database_error, error_code, error_message,
			duration_ms, created_at
		FROM mcq_workflow_runs
		WHERE script_id = $1
		ORDER BY created_at DESC
		LIMIT 50
	`

	rows, err := s.db.QueryContext(ctx, query, scriptID)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var run RunRecord
		var pagesJSON []byte

		if err := rows.Scan(
			&run.ID, &run.ScriptID, &run.Status, &run.TotalPages, &pagesJSON,
			&run.TotalTokens, &run.PromptTokens, &run.CompletionTokens,
			&run.DatabaseSaved, &run.DatabaseError, &run.ErrorCode, &run.ErrorMessage,
			&run.DurationMs, &run.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		if len(pagesJSON) > 0 {
			if err := json.Unmarshal(pagesJSON, &run.PagesProcessed); err != nil {
				return nil, fmt.Errorf("failed to unmarshal pages: %w", err)
			}
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}

	return runs, nil
}

// Ping checks database connectivity
func (s *RunStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *RunStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
