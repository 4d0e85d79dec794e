package store

import (
	"context"
	"fmt"
)

func (s *PostgresStore) SaveResetToken(ctx context.Context, tokenHash, userID string, ttlSeconds int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token_hash, user_id, expires_at)
		VALUES ($1, $2, NOW() + make_interval(secs => $3))
		ON CONFLICT (token_hash) DO UPDATE SET user_id = EXCLUDED.user_id, expires_at = EXCLUDED.expires_at, used_at = NULL
	`, tokenHash, userID, ttlSeconds)
	if err != nil {
		return fmt.Errorf("save reset token: %w", err)
	}
	return nil
}

// ConsumeResetToken marks the token used and returns its user. Unknown, used
// and expired tokens all yield sql.ErrNoRows.
func (s *PostgresStore) ConsumeResetToken(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		UPDATE password_resets
		SET used_at = NOW()
		WHERE token_hash = $1 AND used_at IS NULL AND expires_at > NOW()
		RETURNING user_id
	`, tokenHash).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}
