package store

import (
	"context"
	"database/sql"
	"fmt"
)

const projectColumns = `id, project_name, description, logo_url, creator, parent_project, sub_projects, shared_with,
	invitations, files, tasks, transactions, comments, classifiers, created_at, updated_at`

func scanProject(row rowScanner) (Project, error) {
	var (
		project Project
		parent  sql.NullString
	)
	err := row.Scan(
		&project.ID,
		&project.ProjectName,
		&project.Description,
		&project.LogoURL,
		&project.Creator,
		&parent,
		&project.SubProjects,
		&project.SharedWith,
		&project.Invitations,
		&project.Files,
		&project.Tasks,
		&project.Transactions,
		&project.Comments,
		&project.Classifiers,
		&project.CreatedAt,
		&project.UpdatedAt,
	)
	if err != nil {
		return Project{}, err
	}
	if parent.Valid && parent.String != "" {
		value := parent.String
		project.ParentProject = &value
	}
	return project, nil
}

func nullableID(id *string) sql.NullString {
	if id == nil || *id == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *id, Valid: true}
}

func (s *PostgresStore) CreateProject(ctx context.Context, project Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, project_name, description, logo_url, creator, parent_project,
			sub_projects, shared_with, invitations, files, tasks, transactions, comments, classifiers)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		project.ID,
		project.ProjectName,
		project.Description,
		project.LogoURL,
		project.Creator,
		nullableID(project.ParentProject),
		project.SubProjects,
		project.SharedWith,
		project.Invitations,
		project.Files,
		project.Tasks,
		project.Transactions,
		project.Comments,
		project.Classifiers,
	)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, id string) (Project, error) {
	return scanProject(s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
}

// LockProject reads the project and holds a row lock until the transaction ends.
func (s *PostgresStore) LockProject(ctx context.Context, id string) (Project, error) {
	return scanProject(s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1 FOR UPDATE`, id))
}

// SaveProject writes the mutable document fields. The task, transaction and
// comment reference lists are owned by AttachRef/DetachRef and are left as is.
func (s *PostgresStore) SaveProject(ctx context.Context, project Project) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE projects
		SET project_name = $2,
			description = $3,
			logo_url = $4,
			parent_project = $5,
			sub_projects = $6,
			shared_with = $7,
			invitations = $8,
			files = $9,
			classifiers = $10,
			updated_at = NOW()
		WHERE id = $1
	`,
		project.ID,
		project.ProjectName,
		project.Description,
		project.LogoURL,
		nullableID(project.ParentProject),
		project.SubProjects,
		project.SharedWith,
		project.Invitations,
		project.Files,
		project.Classifiers,
	)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) DeleteProject(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) SetProjectParent(ctx context.Context, id string, parent *string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE projects SET parent_project = $2, updated_at = NOW() WHERE id = $1`, id, nullableID(parent))
	if err != nil {
		return fmt.Errorf("set project parent: %w", err)
	}
	return requireRow(result)
}

// ListProjectsByIDs preserves the order of ids and skips ids that no longer resolve.
func (s *PostgresStore) ListProjectsByIDs(ctx context.Context, ids []string) ([]Project, error) {
	if len(ids) == 0 {
		return []Project{}, nil
	}
	encoded, err := jsonIDs(ids)
	if err != nil {
		return nil, err
	}
	projects, err := s.queryProjects(ctx, `
		SELECT `+projectColumns+` FROM projects
		WHERE id IN (SELECT jsonb_array_elements_text($1::jsonb))
	`, encoded)
	if err != nil {
		return nil, err
	}
	return orderByIDs(ids, projects, func(p Project) string { return p.ID }), nil
}

func (s *PostgresStore) ListProjectsSharedWith(ctx context.Context, userID string) ([]Project, error) {
	return s.queryProjects(ctx, `
		SELECT `+projectColumns+` FROM projects
		WHERE shared_with @> jsonb_build_array($1::text)
		ORDER BY created_at DESC
	`, userID)
}

func (s *PostgresStore) SetProjectClassifiers(ctx context.Context, projectID, kind string, labels []string) error {
	encoded, err := jsonIDs(labels)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE projects
		SET classifiers = jsonb_set(classifiers, ARRAY[$2::text], $3::jsonb, true), updated_at = NOW()
		WHERE id = $1
	`, projectID, kind, encoded)
	if err != nil {
		return fmt.Errorf("set project classifiers: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) queryProjects(ctx context.Context, query string, args ...any) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	projects := []Project{}
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, project)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return projects, nil
}
