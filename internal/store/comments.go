package store

import (
	"context"
	"database/sql"
	"fmt"
)

const commentColumns = `id, project_id, user_id, author_name, text, mentions, parent_id, files, created_at`

func scanComment(row rowScanner) (Comment, error) {
	var (
		comment Comment
		parent  sql.NullString
	)
	err := row.Scan(
		&comment.ID,
		&comment.ProjectID,
		&comment.UserID,
		&comment.AuthorName,
		&comment.Text,
		&comment.Mentions,
		&parent,
		&comment.Files,
		&comment.CreatedAt,
	)
	if err != nil {
		return Comment{}, err
	}
	comment.ParentID = parent.String
	return comment, nil
}

func (s *PostgresStore) CreateComment(ctx context.Context, comment Comment) error {
	parent := sql.NullString{String: comment.ParentID, Valid: comment.ParentID != ""}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (id, project_id, user_id, author_name, text, mentions, parent_id, files, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, comment.ID, comment.ProjectID, comment.UserID, comment.AuthorName, comment.Text, comment.Mentions,
		parent, comment.Files, comment.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetComment(ctx context.Context, id string) (Comment, error) {
	return scanComment(s.db.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE id = $1`, id))
}

func (s *PostgresStore) DeleteComment(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) ListCommentsByIDs(ctx context.Context, ids []string) ([]Comment, error) {
	if len(ids) == 0 {
		return []Comment{}, nil
	}
	encoded, err := jsonIDs(ids)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+commentColumns+` FROM comments
		WHERE id IN (SELECT jsonb_array_elements_text($1::jsonb))
	`, encoded)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	comments := []Comment{}
	for rows.Next() {
		comment, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, comment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return orderByIDs(ids, comments, func(c Comment) string { return c.ID }), nil
}
