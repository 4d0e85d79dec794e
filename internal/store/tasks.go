package store

import (
	"context"
	"fmt"
)

const taskColumns = `id, project_id, user_id, name, description, status, ts, files, actions, comments, version`

func scanTask(row rowScanner) (Task, error) {
	var task Task
	err := row.Scan(
		&task.ID,
		&task.ProjectID,
		&task.UserID,
		&task.Name,
		&task.Description,
		&task.Status,
		&task.Timestamp,
		&task.Files,
		&task.Actions,
		&task.Comments,
		&task.Version,
	)
	return task, err
}

func (s *PostgresStore) CreateTask(ctx context.Context, task Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, project_id, user_id, name, description, status, ts, files, actions, comments, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1)
	`, task.ID, task.ProjectID, task.UserID, task.Name, task.Description, task.Status, task.Timestamp,
		task.Files, task.Actions, task.Comments)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, id string) (Task, error) {
	return scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
}

func (s *PostgresStore) LockTask(ctx context.Context, id string) (Task, error) {
	return scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, id))
}

// SaveTask overwrites the document and bumps its version.
func (s *PostgresStore) SaveTask(ctx context.Context, task Task) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET name = $2, description = $3, status = $4, ts = $5, files = $6, actions = $7, comments = $8,
			version = version + 1
		WHERE id = $1
	`, task.ID, task.Name, task.Description, task.Status, task.Timestamp, task.Files, task.Actions, task.Comments)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) DeleteTask(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) ListTasksByProject(ctx context.Context, projectID string) ([]Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE project_id = $1 ORDER BY ts DESC`, projectID)
}

func (s *PostgresStore) ListTasksByIDs(ctx context.Context, ids []string) ([]Task, error) {
	if len(ids) == 0 {
		return []Task{}, nil
	}
	encoded, err := jsonIDs(ids)
	if err != nil {
		return nil, err
	}
	tasks, err := s.queryTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE id IN (SELECT jsonb_array_elements_text($1::jsonb))
	`, encoded)
	if err != nil {
		return nil, err
	}
	return orderByIDs(ids, tasks, func(t Task) string { return t.ID }), nil
}

func (s *PostgresStore) ListTasksInProjects(ctx context.Context, projectIDs []string) ([]Task, error) {
	if len(projectIDs) == 0 {
		return []Task{}, nil
	}
	encoded, err := jsonIDs(projectIDs)
	if err != nil {
		return nil, err
	}
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE project_id IN (SELECT jsonb_array_elements_text($1::jsonb))
		ORDER BY ts DESC
	`, encoded)
}

func (s *PostgresStore) queryTasks(ctx context.Context, query string, args ...any) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}
