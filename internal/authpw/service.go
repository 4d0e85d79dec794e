// Package authpw provides email/password accounts with one-time reset tokens.
package authpw

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"proin/api/internal/auth"
	"proin/api/internal/session"
	"proin/api/internal/store"
	"proin/api/internal/util"
)

const MinPasswordLength = 6

var (
	ErrInvalidEmail       = errors.New("a valid email is required")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrEmailTaken         = errors.New("a user with this email already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidResetToken  = errors.New("invalid or expired token")
)

// UserStore defines the storage interface for accounts.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
}

type Service struct {
	users    UserStore
	tokens   session.TokenStore
	secret   []byte
	tokenTTL time.Duration
	resetTTL time.Duration
}

func NewService(users UserStore, tokens session.TokenStore, tokenSecret string, tokenTTL, resetTTL time.Duration) *Service {
	return &Service{
		users:    users,
		tokens:   tokens,
		secret:   []byte(tokenSecret),
		tokenTTL: tokenTTL,
		resetTTL: resetTTL,
	}
}

type SignUpRequest struct {
	Email    string
	Password string
	Name     string
}

func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.User, error) {
	email, err := ValidateEmail(req.Email)
	if err != nil {
		return store.User{}, err
	}
	if len(req.Password) < MinPasswordLength {
		return store.User{}, ErrWeakPassword
	}

	_, err = s.users.GetUserByEmail(ctx, email)
	if err == nil {
		return store.User{}, ErrEmailTaken
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = email
	}
	user := store.User{
		ID:           util.NewID("usr"),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		Projects:     store.StringList{},
		Tasks:        store.StringList{},
		Transactions: store.StringList{},
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// SignIn returns ErrInvalidCredentials for unknown emails and wrong passwords alike.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.User, error) {
	email = util.NormalizeEmail(email)
	if email == "" || password == "" {
		return store.User{}, ErrInvalidCredentials
	}
	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// RequestPasswordReset returns an empty token and no error for unknown emails.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, store.User, error) {
	user, err := s.users.GetUserByEmail(ctx, util.NormalizeEmail(email))
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.User{}, nil
	}
	if err != nil {
		return "", store.User{}, fmt.Errorf("lookup user: %w", err)
	}

	token, err := generateToken()
	if err != nil {
		return "", store.User{}, fmt.Errorf("generate reset token: %w", err)
	}
	if err := s.tokens.SaveResetToken(ctx, auth.HashToken(token), user.ID, s.resetTTL); err != nil {
		return "", store.User{}, err
	}
	return token, user, nil
}

func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) (store.User, error) {
	if strings.TrimSpace(token) == "" {
		return store.User{}, ErrInvalidResetToken
	}
	if len(newPassword) < MinPasswordLength {
		return store.User{}, ErrWeakPassword
	}

	userID, err := s.tokens.ConsumeResetToken(ctx, auth.HashToken(token))
	if errors.Is(err, session.ErrTokenNotFound) {
		return store.User{}, ErrInvalidResetToken
	}
	if err != nil {
		return store.User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdateUserPassword(ctx, userID, string(hash)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.User{}, ErrInvalidResetToken
		}
		return store.User{}, fmt.Errorf("update password: %w", err)
	}
	return s.users.GetUserByID(ctx, userID)
}

func (s *Service) IssueToken(user store.User) (string, error) {
	return auth.IssueToken(s.secret, user.ID, user.Email, s.tokenTTL)
}

func (s *Service) ParseToken(token string) (auth.Claims, error) {
	return auth.ParseToken(s.secret, token)
}

// ValidateEmail normalizes the address and rejects display-name forms.
func ValidateEmail(raw string) (string, error) {
	email := util.NormalizeEmail(raw)
	if email == "" {
		return "", ErrInvalidEmail
	}
	parsed, err := mail.ParseAddress(email)
	if err != nil || parsed.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		return "", ErrInvalidEmail
	}
	return email, nil
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
