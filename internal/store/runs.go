package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lox/elyos/internal/models"
)

// StartRun records the start of a pipeline stage and returns the run.
func (s *Store) StartRun(ctx context.Context, stage string) (*models.PipelineRun, error) {
	run := &models.PipelineRun{
		ID:        uuid.NewString(),
		Stage:     stage,
		StartedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs (id, stage, started_at, success)
		VALUES (?, ?, ?, FALSE)
	`, run.ID, run.Stage, run.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("insert pipeline run: %w", err)
	}
	return run, nil
}

// CompleteRun stamps the finish time and stores the outcome of run.
func (s *Store) CompleteRun(ctx context.Context, run *models.PipelineRun) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.db.ExecContext(ctx, `
		UPDATE pipeline_runs SET
			finished_at = ?,
			success = ?,
			rows = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.Success, run.Rows, run.ErrorMessage, run.ID)
	return err
}

// RecentRuns returns the latest stage executions, newest first.
// An empty stage matches every stage.
func (s *Store) RecentRuns(ctx context.Context, stage string, limit int) ([]models.PipelineRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, stage, started_at, finished_at, success, rows, error_message
		FROM pipeline_runs
		WHERE ? = '' OR stage = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, stage, stage, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.PipelineRun
	for rows.Next() {
		var r models.PipelineRun
		if err := rows.Scan(&r.ID, &r.Stage, &r.StartedAt, &r.FinishedAt, &r.Success, &r.Rows, &r.ErrorMessage); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// InsertBenchmarks stores the evaluation of every candidate of one training run.
func (s *Store) InsertBenchmarks(ctx context.Context, benchmarks []models.Benchmark) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin benchmarks: %w", err)
	}
	defer tx.Rollback()

	for _, b := range benchmarks {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO model_benchmarks (run_id, model, mse, r2, selected)
			VALUES (?, ?, ?, ?, ?)
		`, b.RunID, b.Model, b.MSE, b.R2, b.Selected); err != nil {
			return fmt.Errorf("insert benchmark %s: %w", b.Model, err)
		}
	}
	return tx.Commit()
}

// Benchmarks returns the candidates evaluated by one training run.
func (s *Store) Benchmarks(ctx context.Context, runID string) ([]models.Benchmark, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, model, mse, r2, selected
		FROM model_benchmarks
		WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.Benchmark
	for rows.Next() {
		var b models.Benchmark
		if err := rows.Scan(&b.RunID, &b.Model, &b.MSE, &b.R2, &b.Selected); err != nil {
			return nil, err
		}
		results = append(results, b)
	}
	return results, rows.Err()
}
