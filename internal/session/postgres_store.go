package session

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type resetQuerier interface {
	SaveResetToken(ctx context.Context, tokenHash, userID string, ttlSeconds int) error
	ConsumeResetToken(ctx context.Context, tokenHash string) (string, error)
}

// PostgresStore keeps reset tokens in the password_resets table when Redis is not configured.
type PostgresStore struct {
	q resetQuerier
}

func NewPostgresStore(q resetQuerier) *PostgresStore {
	return &PostgresStore{q: q}
}

func (s *PostgresStore) SaveResetToken(ctx context.Context, tokenHash, userID string, ttl time.Duration) error {
	seconds := int(ttl / time.Second)
	if seconds <= 0 {
		seconds = int(time.Hour / time.Second)
	}
	return s.q.SaveResetToken(ctx, tokenHash, userID, seconds)
}

func (s *PostgresStore) ConsumeResetToken(ctx context.Context, tokenHash string) (string, error) {
	userID, err := s.q.ConsumeResetToken(ctx, tokenHash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrTokenNotFound
	}
	return userID, err
}
