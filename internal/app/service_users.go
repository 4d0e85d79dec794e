package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"proin/api/internal/auth"
	"proin/api/internal/authpw"
	"proin/api/internal/email"
	"proin/api/internal/store"
)

const forgotPasswordReply = "If the email is registered, a reset link has been sent."

type AuthResult struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Token  string `json:"token"`
}

func (s *Service) authService() (*authpw.Service, error) {
	if s.auth == nil {
		return nil, serverError("Authentication service not configured.")
	}
	return s.auth, nil
}

func mapAuthError(err error) error {
	switch {
	case errors.Is(err, authpw.ErrInvalidEmail):
		return validation("Invalid inputs passed, please check your data.", map[string]any{"email": err.Error()})
	case errors.Is(err, authpw.ErrWeakPassword):
		return validation("Invalid inputs passed, please check your data.", map[string]any{"password": err.Error()})
	case errors.Is(err, authpw.ErrEmailTaken):
		return conflict("User exists already, please login instead.")
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return forbidden("Invalid credentials, could not log you in.")
	case errors.Is(err, authpw.ErrInvalidResetToken):
		return validation("Invalid or expired token", nil)
	default:
		return err
	}
}

func (s *Service) issue(user store.User) (AuthResult, error) {
	token, err := s.auth.IssueToken(user)
	if err != nil {
		return AuthResult{}, fmt.Errorf("issue token: %w", err)
	}
	return AuthResult{UserID: user.ID, Email: user.Email, Name: user.Name, Token: token}, nil
}

func (s *Service) loginURL() string {
	return strings.TrimRight(s.cfg.Server.FrontendURL, "/") + "/auth"
}

// SignUp creates the account and sends a welcome email asynchronously.
func (s *Service) SignUp(ctx context.Context, emailAddr, password, name string) (result AuthResult, err error) {
	defer s.observe("user.signup", time.Now(), &err)

	svc, err := s.authService()
	if err != nil {
		return AuthResult{}, err
	}
	user, err := svc.SignUp(ctx, authpw.SignUpRequest{Email: emailAddr, Password: password, Name: name})
	if err != nil {
		return AuthResult{}, s.fail(ctx, "user.signup", mapAuthError(err), creationFailed("Signing up failed, please try again later."))
	}
	result, err = s.issue(user)
	if err != nil {
		return AuthResult{}, s.fail(ctx, "user.signup", err, creationFailed("Signing up failed, please try again later."))
	}

	msg, err := email.WelcomeMessage(user.Email, user.Name, s.loginURL())
	if err != nil {
		s.logger.Error(ctx, "render welcome email", zap.String("userId", user.ID), zap.Error(err))
	} else {
		s.notifier.Notify(ctx, "welcome", msg)
	}
	return result, nil
}

func (s *Service) Login(ctx context.Context, emailAddr, password string) (result AuthResult, err error) {
	defer s.observe("user.login", time.Now(), &err)

	svc, err := s.authService()
	if err != nil {
		return AuthResult{}, err
	}
	user, err := svc.SignIn(ctx, emailAddr, password)
	if err != nil {
		return AuthResult{}, s.fail(ctx, "user.login", mapAuthError(err), serverError("Logging in failed, please try again later."))
	}
	result, err = s.issue(user)
	if err != nil {
		return AuthResult{}, s.fail(ctx, "user.login", err, serverError("Logging in failed, please try again later."))
	}
	return result, nil
}

// ForgotPassword answers the same way whether or not the email is registered.
func (s *Service) ForgotPassword(ctx context.Context, emailAddr string) (message string, err error) {
	defer s.observe("user.forgot_password", time.Now(), &err)

	svc, err := s.authService()
	if err != nil {
		return "", err
	}
	token, user, err := svc.RequestPasswordReset(ctx, emailAddr)
	if err != nil {
		return "", s.fail(ctx, "user.forgot_password", err, serverError("Something went wrong, please try again later."))
	}
	if token == "" {
		return forgotPasswordReply, nil
	}

	resetURL := strings.TrimRight(s.cfg.Server.FrontendURL, "/") + "/reset-password/" + token
	msg, err := email.PasswordResetMessage(user.Email, user.Name, resetURL)
	if err != nil {
		s.logger.Error(ctx, "render password reset email", zap.String("userId", user.ID), zap.Error(err))
	} else {
		s.notifier.Notify(ctx, "password_reset", msg)
	}
	return forgotPasswordReply, nil
}

func (s *Service) ResetPassword(ctx context.Context, token, password string) (result AuthResult, err error) {
	defer s.observe("user.reset_password", time.Now(), &err)

	svc, err := s.authService()
	if err != nil {
		return AuthResult{}, err
	}
	user, err := svc.ResetPassword(ctx, token, password)
	if err != nil {
		return AuthResult{}, s.fail(ctx, "user.reset_password", mapAuthError(err), serverError("Something went wrong, please try again later."))
	}
	result, err = s.issue(user)
	if err != nil {
		return AuthResult{}, s.fail(ctx, "user.reset_password", err, serverError("Something went wrong, please try again later."))
	}
	return result, nil
}

func (s *Service) Me(ctx context.Context, id Identity) (user store.User, err error) {
	user, err = s.loadUser(ctx, s.store, id.UserID)
	if err != nil {
		return store.User{}, s.fail(ctx, "user.me", err, serverError("Something went wrong, please try again later."))
	}
	return user, nil
}

// IdentityFromToken validates a bearer token and returns the caller it names.
func (s *Service) IdentityFromToken(token string) (Identity, error) {
	svc, err := s.authService()
	if err != nil {
		return Identity{}, err
	}
	claims, err := svc.ParseToken(token)
	if err != nil {
		return Identity{}, err
	}
	if claims.UserID == "" {
		return Identity{}, auth.ErrInvalidToken
	}
	return Identity{UserID: claims.UserID, Email: claims.Email}, nil
}
