package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tickwire/tickwire/pkg/models"
)

// TaskStore manages the tasks mailbox. Inserting a row fires task.new;
// flipping status to completed or failed fires the matching notification.
type TaskStore struct {
	pool *pgxpool.Pool
}

// Create inserts a pending task. The payload is marshaled as-is.
func (s *TaskStore) Create(ctx context.Context, taskType models.TaskType, payload any) (*models.Task, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal task payload: %w", err)
	}

	task := models.Task{Type: taskType, Payload: raw, Status: models.TaskPending}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO tasks (type, payload)
		VALUES ($1, $2)
		RETURNING id, created_at, updated_at
	`, taskType, raw).Scan(&task.ID, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return &task, nil
}

// Claim moves a pending task to processing. Returns false when another
// worker won the race (or the task is past pending).
func (s *TaskStore) Claim(ctx context.Context, id int64) (bool, error) {
	ct, err := s.pool.Exec(ctx, `
		UPDATE tasks SET status = 'processing'
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return false, fmt.Errorf("claim task %d: %w", id, err)
	}
	return ct.RowsAffected() == 1, nil
}

// Complete finishes a processing task with a result. A task already swept to
// failed stays failed; the late result is dropped and ErrNotFound returned.
func (s *TaskStore) Complete(ctx context.Context, id int64, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal task result: %w", err)
	}

	ct, err := s.pool.Exec(ctx, `
		UPDATE tasks SET status = 'completed', result = $2
		WHERE id = $1 AND status = 'processing'
	`, id, raw)
	if err != nil {
		return fmt.Errorf("complete task %d: %w", id, err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Fail marks a task failed with an error message in the result.
func (s *TaskStore) Fail(ctx context.Context, id int64, cause string) error {
	raw, err := json.Marshal(models.TaskError{Error: cause})
	if err != nil {
		return fmt.Errorf("marshal task error: %w", err)
	}

	ct, err := s.pool.Exec(ctx, `
		UPDATE tasks SET status = 'failed', result = $2
		WHERE id = $1 AND status IN ('pending', 'processing')
	`, id, raw)
	if err != nil {
		return fmt.Errorf("fail task %d: %w", id, err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Get reads one task.
func (s *TaskStore) Get(ctx context.Context, id int64) (*models.Task, error) {
	var t models.Task
	err := s.pool.QueryRow(ctx, `
		SELECT id, type, payload, COALESCE(result, 'null'::jsonb), status, created_at, updated_at
		FROM tasks WHERE id = $1
	`, id).Scan(&t.ID, &t.Type, &t.Payload, &t.Result, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	return &t, nil
}

// ListPending returns the oldest pending tasks, for the worker's startup
// backlog scan.
func (s *TaskStore) ListPending(ctx context.Context, limit int) ([]models.Task, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, type, payload, COALESCE(result, 'null'::jsonb), status, created_at, updated_at
		FROM tasks WHERE status = 'pending'
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		var t models.Task
		if err := rows.Scan(&t.ID, &t.Type, &t.Payload, &t.Result, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// FailStale fails tasks stuck in pending or processing longer than maxAge.
// Each transition fires a task.failed notification, unblocking any gateway
// waiter that survived its own timeout.
func (s *TaskStore) FailStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge)
	ct, err := s.pool.Exec(ctx, `
		UPDATE tasks SET status = 'failed', result = '{"error": "task timed out"}'::jsonb
		WHERE status IN ('pending', 'processing') AND created_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("fail stale tasks: %w", err)
	}
	return ct.RowsAffected(), nil
}

// PurgeFinished deletes completed and failed tasks older than maxAge.
func (s *TaskStore) PurgeFinished(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge)
	ct, err := s.pool.Exec(ctx, `
		DELETE FROM tasks
		WHERE status IN ('completed', 'failed') AND updated_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge finished tasks: %w", err)
	}
	return ct.RowsAffected(), nil
}
