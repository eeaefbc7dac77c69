package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/davidmoltin/site-integrations/internal/engine"
	"github.com/davidmoltin/site-integrations/internal/models"
)

// ExecutionRepository stores action executions. It implements engine.ExecutionStore.
type ExecutionRepository struct {
	db DBTX
}

// NewExecutionRepository creates a new execution repository
func NewExecutionRepository(db DBTX) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

var _ engine.ExecutionStore = (*ExecutionRepository)(nil)

// SaveExecution inserts an execution or overwrites the stored copy
func (r *ExecutionRepository) SaveExecution(ctx context.Context, exec *models.ActionExecution) error {
	steps, err := json.Marshal(exec.Steps)
	if err != nil {
		return fmt.Errorf("failed to encode steps: %w", err)
	}

	query := `
		INSERT INTO action_executions (
			action_id, action_type, template_id, user_id, status,
			start_time, end_time, steps, errors
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (action_id) DO UPDATE
		SET status = EXCLUDED.status,
		    end_time = EXCLUDED.end_time,
		    steps = EXCLUDED.steps,
		    errors = EXCLUDED.errors,
		    updated_at = NOW()`

	_, err = r.db.ExecContext(
		ctx, query,
		exec.ActionID, exec.ActionType, exec.TemplateID, exec.UserID, exec.Status,
		exec.StartTime, exec.EndTime, steps, pq.Array(exec.Errors),
	)
	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}

	return nil
}

// GetExecution retrieves an execution by action id
func (r *ExecutionRepository) GetExecution(ctx context.Context, actionID string) (*models.ActionExecution, error) {
	query := `
		SELECT action_id, action_type, template_id, user_id, status,
		       start_time, end_time, steps, errors
		FROM action_executions
		WHERE action_id = $1`

	exec, err := scanExecution(r.db.QueryRowContext(ctx, query, actionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrExecutionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	return exec, nil
}

// ListExecutions returns the newest executions first
func (r *ExecutionRepository) ListExecutions(ctx context.Context, limit int) ([]models.ActionExecution, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT action_id, action_type, template_id, user_id, status,
		       start_time, end_time, steps, errors
		FROM action_executions
		ORDER BY start_time DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	executions := []models.ActionExecution{}
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		executions = append(executions, *exec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExecution(row rowScanner) (*models.ActionExecution, error) {
	var (
		exec    models.ActionExecution
		steps   []byte
		errs    pq.StringArray
		endTime sql.NullTime
	)

	err := row.Scan(
		&exec.ActionID, &exec.ActionType, &exec.TemplateID, &exec.UserID, &exec.Status,
		&exec.StartTime, &endTime, &steps, &errs,
	)
	if err != nil {
		return nil, err
	}

	if endTime.Valid {
		t := endTime.Time
		exec.EndTime = &t
	}
	exec.Steps = []models.ExecutionStepResult{}
	if len(steps) > 0 {
		if err := json.Unmarshal(steps, &exec.Steps); err != nil {
			return nil, fmt.Errorf("failed to decode steps: %w", err)
		}
	}
	exec.Errors = []string(errs)
	if exec.Errors == nil {
		exec.Errors = []string{}
	}

	return &exec, nil
}
