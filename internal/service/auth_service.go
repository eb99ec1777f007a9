package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/auth-service/internal/auth"
	"github.com/spec-kit/auth-service/internal/config"
	"github.com/spec-kit/auth-service/internal/domain"
	"github.com/spec-kit/auth-service/internal/events"
	"github.com/spec-kit/auth-service/internal/repository"
	apperrors "github.com/spec-kit/auth-service/pkg/util"
)

// AuthService coordinates registration, login, token refresh and revocation.
type AuthService struct {
	users      repository.UserRepository
	resets     repository.PasswordResetRepository
	tokens     *auth.TokenManager
	revoked    auth.RevocationRegistry
	dispatcher events.Dispatcher
	bcryptCost int
	resetTTL   time.Duration
}

// AuthDependencies encapsulates collaborator requirements for auth service.
type AuthDependencies struct {
	UserRepo          repository.UserRepository
	PasswordResetRepo repository.PasswordResetRepository
	TokenManager      *auth.TokenManager
	Revocations       auth.RevocationRegistry
	Dispatcher        events.Dispatcher
}

// NewAuthService builds the service.
func NewAuthService(cfg config.Config, deps AuthDependencies) *AuthService {
	return &AuthService{
		users:      deps.UserRepo,
		resets:     deps.PasswordResetRepo,
		tokens:     deps.TokenManager,
		revoked:    deps.Revocations,
		dispatcher: deps.Dispatcher,
		bcryptCost: cfg.Auth.BcryptCost,
		resetTTL:   time.Duration(cfg.Auth.PasswordResetTTLMinutes) * time.Minute,
	}
}

// Register creates a new account. The role is always the default
// unprivileged role; privilege is never client-assignable here.
func (s *AuthService) Register(ctx context.Context, username, email, password string) (*domain.User, error) {
	if err := s.ensureAbsent(ctx, username, email); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         domain.DefaultRole,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, apperrors.NewUpstreamUnavailable(err)
	}

	s.publish(ctx, events.EventUserRegistered, user.Username, events.UserRegisteredPayload{
		Username: user.Username,
		Email:    user.Email,
		Role:     user.Role,
	})
	return user, nil
}

// Login verifies credentials and issues a fresh session pair. Unknown
// username and wrong password are indistinguishable to the caller; a dummy
// hash comparison on the unknown-username path keeps latency comparable.
func (s *AuthService) Login(ctx context.Context, username, password string) (*domain.User, *domain.SessionPair, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			auth.CompareDummy(password)
			return nil, nil, apperrors.NewInvalidCredentials()
		}
		return nil, nil, apperrors.NewUpstreamUnavailable(err)
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, nil, apperrors.NewInvalidCredentials()
	}

	pair, err := s.issuePair(user)
	if err != nil {
		return nil, nil, err
	}

	s.publish(ctx, events.EventUserLoggedIn, user.Username, events.UserLoggedInPayload{Username: user.Username})
	return user, pair, nil
}

// Refresh verifies the refresh token and mints a new session pair. The
// account's current role is re-read from the store so a promotion or
// demotion since issuance takes effect immediately. The consumed refresh
// token is revoked, bounding replay to a single use.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*domain.User, *domain.SessionPair, error) {
	claims, err := s.tokens.Verify(refreshToken)
	if err != nil {
		return nil, nil, apperrors.NewInvalidToken("invalid refresh token")
	}
	if s.tokens.IsExpired(claims, s.tokens.Now()) {
		return nil, nil, apperrors.NewTokenExpired()
	}
	revoked, err := s.revoked.IsRevoked(ctx, refreshToken)
	if err != nil {
		return nil, nil, apperrors.NewUpstreamUnavailable(err)
	}
	if revoked {
		return nil, nil, apperrors.NewTokenRevoked()
	}

	user, err := s.users.GetByUsername(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, apperrors.NewInvalidToken("unknown subject")
		}
		return nil, nil, apperrors.NewUpstreamUnavailable(err)
	}

	pair, err := s.issuePair(user)
	if err != nil {
		return nil, nil, err
	}

	if err := s.revoked.Revoke(ctx, refreshToken, claims.ExpiresAt.Time); err != nil {
		return nil, nil, apperrors.NewUpstreamUnavailable(err)
	}
	return user, pair, nil
}

// Logout revokes the presented token for the remainder of its lifetime.
func (s *AuthService) Logout(ctx context.Context, tokenStr string) error {
	claims, err := s.tokens.Verify(tokenStr)
	if err != nil {
		return apperrors.NewInvalidToken("invalid token")
	}
	if err := s.revoked.Revoke(ctx, tokenStr, claims.ExpiresAt.Time); err != nil {
		return apperrors.NewUpstreamUnavailable(err)
	}

	s.publish(ctx, events.EventSessionRevoked, claims.Subject, events.SessionRevokedPayload{
		ExpiresAt: claims.ExpiresAt.Time,
	})
	return nil
}

// ChangePassword verifies the current password before persisting a new hash.
func (s *AuthService) ChangePassword(ctx context.Context, username, currentPassword, newPassword string) error {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewInvalidCredentials()
		}
		return apperrors.NewUpstreamUnavailable(err)
	}
	if err := auth.ComparePassword(user.PasswordHash, currentPassword); err != nil {
		return apperrors.NewInvalidCredentials()
	}

	hash, err := auth.HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	if err := s.users.Update(ctx, user); err != nil {
		return apperrors.NewUpstreamUnavailable(err)
	}

	s.publish(ctx, events.EventPasswordChanged, user.Username, events.PasswordChangedPayload{Username: user.Username})
	return nil
}

// RequestPasswordReset persists a reset token for the account email.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) (*repository.PasswordResetToken, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("account", nil)
		}
		return nil, apperrors.NewUpstreamUnavailable(err)
	}

	token := &repository.PasswordResetToken{
		UserID:    user.ID,
		Token:     uuid.NewString(),
		ExpiresAt: s.tokens.Now().Add(s.resetTTL),
	}
	if err := s.resets.Create(ctx, token); err != nil {
		return nil, apperrors.NewUpstreamUnavailable(err)
	}
	return token, nil
}

// ConfirmPasswordReset validates the reset token and updates the password.
func (s *AuthService) ConfirmPasswordReset(ctx context.Context, tokenStr, newPassword string) error {
	token, err := s.resets.GetByToken(ctx, tokenStr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewInvalidToken("unknown reset token")
		}
		return apperrors.NewUpstreamUnavailable(err)
	}
	if token.UsedAt != nil || s.tokens.Now().After(token.ExpiresAt) {
		return apperrors.NewTokenExpired()
	}

	user, err := s.users.GetByID(ctx, token.UserID)
	if err != nil {
		return apperrors.NewUpstreamUnavailable(err)
	}

	hash, err := auth.HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	if err := s.users.Update(ctx, user); err != nil {
		return apperrors.NewUpstreamUnavailable(err)
	}
	return s.resets.MarkUsed(ctx, token.ID)
}

func (s *AuthService) issuePair(user *domain.User) (*domain.SessionPair, error) {
	access, accessClaims, err := s.tokens.IssueAccessToken(user.Username, user.Role)
	if err != nil {
		return nil, err
	}
	refresh, refreshClaims, err := s.tokens.IssueRefreshToken(user.Username)
	if err != nil {
		return nil, err
	}
	return &domain.SessionPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessClaims.ExpiresAt.Time,
		RefreshExpiresAt: refreshClaims.ExpiresAt.Time,
	}, nil
}

func (s *AuthService) ensureAbsent(ctx context.Context, username, email string) error {
	if _, err := s.users.GetByUsername(ctx, username); err == nil {
		return apperrors.NewAlreadyExists("username")
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NewUpstreamUnavailable(err)
	}
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return apperrors.NewAlreadyExists("email")
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NewUpstreamUnavailable(err)
	}
	return nil
}

func (s *AuthService) publish(ctx context.Context, eventType events.EventType, subject string, payload interface{}) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Subject:   subject,
		Timestamp: s.tokens.Now(),
		Payload:   payload,
	})
}
