package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"

	"github.com/sakif/script-runner/internal/apperror"
	"github.com/sakif/script-runner/internal/auth"
	"github.com/sakif/script-runner/internal/model"
	"github.com/sakif/script-runner/internal/repository"
)

// AuthService handles login, invitation-gated registration, and the
// shared-password admin session.
type AuthService struct {
	users         repository.UserRepository
	invitations   repository.InvitationRepository
	passwords     *auth.PasswordService
	tokens        *auth.TokenService
	adminPassword string
	logger        *slog.Logger
}

func NewAuthService(
	users repository.UserRepository,
	invitations repository.InvitationRepository,
	passwords *auth.PasswordService,
	tokens *auth.TokenService,
	adminPassword string,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:         users,
		invitations:   invitations,
		passwords:     passwords,
		tokens:        tokens,
		adminPassword: adminPassword,
		logger:        logger,
	}
}

// Login verifies credentials and returns the user together with a session
// token. Unknown email and wrong password produce the same error, so the
// login form cannot be used to enumerate accounts.
func (s *AuthService) Login(ctx context.Context, email, password string) (*model.User, string, error) {
	email = normalizeEmail(email)
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, "", apperror.Unauthorized("invalid email or password")
		}
		return nil, "", err
	}
	if !user.IsActive {
		return nil, "", apperror.Unauthorized("account is disabled")
	}
	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		return nil, "", apperror.Unauthorized("invalid email or password")
	}

	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, "", err
	}
	if err := s.users.RecordLogin(ctx, user.ID); err != nil {
		s.logger.Warn("recording login time failed", slog.String("userId", user.ID), slog.String("error", err.Error()))
	}
	s.logger.Info("user logged in", slog.String("userId", user.ID), slog.String("email", user.Email))
	return user, token, nil
}

// Register creates an account from a valid, unused invitation. The token
// must match a pending invitation for exactly the supplied email, and is
// consumed on success.
func (s *AuthService) Register(ctx context.Context, email, password, invitationToken string) (*model.User, string, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, "", apperror.ValidationFailed("email", "email is required")
	}
	if len(password) < 8 {
		return nil, "", apperror.ValidationFailed("password", "password must be at least 8 characters")
	}

	inv, err := s.invitations.GetInvitationByToken(ctx, invitationToken)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, "", apperror.ValidationFailed("token", "invalid invitation token")
		}
		return nil, "", err
	}
	if inv.Used {
		return nil, "", apperror.ValidationFailed("token", "invitation has already been used")
	}
	if !strings.EqualFold(inv.Email, email) {
		return nil, "", apperror.ValidationFailed("email", "invitation was issued for a different email address")
	}

	if _, err := s.users.GetUserByEmail(ctx, email); err == nil {
		return nil, "", apperror.Conflict("user", email)
	} else if !errors.Is(err, apperror.ErrNotFound) {
		return nil, "", err
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, "", err
	}
	user := &model.User{
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, "", err
	}
	if err := s.invitations.MarkInvitationUsed(ctx, inv.ID); err != nil {
		s.logger.Error("marking invitation used failed", slog.String("invitationId", inv.ID), slog.String("error", err.Error()))
	}

	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, "", err
	}
	s.logger.Info("user registered", slog.String("userId", user.ID), slog.String("email", user.Email))
	return user, token, nil
}

// AdminLogin checks the shared admin password and returns an admin session
// token.
func (s *AuthService) AdminLogin(password string) (string, error) {
	if s.adminPassword == "" {
		return "", apperror.Unauthorized("admin access is not configured")
	}
	if subtle.ConstantTimeCompare([]byte(password), []byte(s.adminPassword)) != 1 {
		return "", apperror.Unauthorized("invalid admin password")
	}
	return s.tokens.Generate(auth.AdminSubject)
}

// CurrentUser loads the account for an authenticated session.
func (s *AuthService) CurrentUser(ctx context.Context, userID string) (*model.User, error) {
	return s.users.GetUserByID(ctx, userID)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
