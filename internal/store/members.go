package store

import (
	"context"
	"fmt"
)

func (s *PostgresStore) CreateMember(ctx context.Context, member Member) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_members (id, project_id, user_id, role, status)
		VALUES ($1, $2, $3, $4, $5)
	`, member.ID, member.ProjectID, member.UserID, member.Role, member.Status)
	if err != nil {
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

// GetMembership prefers the active row when pending rows also exist.
func (s *PostgresStore) GetMembership(ctx context.Context, projectID, userID string) (Member, error) {
	var member Member
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, user_id, role, status, created_at
		FROM project_members
		WHERE project_id = $1 AND user_id = $2
		ORDER BY (status = 'active') DESC, created_at DESC
		LIMIT 1
	`, projectID, userID).Scan(&member.ID, &member.ProjectID, &member.UserID, &member.Role, &member.Status, &member.CreatedAt)
	return member, err
}

func (s *PostgresStore) UpdateMemberStatus(ctx context.Context, id, status string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE project_members SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update member status: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) DeleteMember(ctx context.Context, projectID, userID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM project_members WHERE project_id = $1 AND user_id = $2`, projectID, userID)
	if err != nil {
		return 0, fmt.Errorf("delete member: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete member: %w", err)
	}
	return affected, nil
}

// DeletePendingMembers drops the pending rows a user holds on a project.
func (s *PostgresStore) DeletePendingMembers(ctx context.Context, projectID, userID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM project_members
		WHERE project_id = $1 AND user_id = $2 AND status = 'pending'
	`, projectID, userID)
	if err != nil {
		return 0, fmt.Errorf("delete pending members: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete pending members: %w", err)
	}
	return affected, nil
}

func (s *PostgresStore) DeleteProjectMembers(ctx context.Context, projectID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM project_members WHERE project_id = $1`, projectID); err != nil {
		return fmt.Errorf("delete project members: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListProjectMembers(ctx context.Context, projectID string) ([]MemberView, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pm.user_id, u.name, u.email, pm.role, pm.status
		FROM project_members pm
		JOIN users u ON u.id = pm.user_id
		WHERE pm.project_id = $1
		ORDER BY pm.created_at ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project members: %w", err)
	}
	defer rows.Close()

	members := []MemberView{}
	for rows.Next() {
		var member MemberView
		if err := rows.Scan(&member.UserID, &member.Name, &member.Email, &member.Role, &member.Status); err != nil {
			return nil, fmt.Errorf("scan project member: %w", err)
		}
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate project members: %w", err)
	}
	return members, nil
}
