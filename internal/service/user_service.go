package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/auth-service/internal/domain"
	"github.com/spec-kit/auth-service/internal/events"
	"github.com/spec-kit/auth-service/internal/repository"
	apperrors "github.com/spec-kit/auth-service/pkg/util"
)

// UserService exposes profile operations for the authenticated subject.
type UserService struct {
	users      repository.UserRepository
	dispatcher events.Dispatcher
}

// NewUserService builds the service.
func NewUserService(users repository.UserRepository, dispatcher events.Dispatcher) *UserService {
	return &UserService{users: users, dispatcher: dispatcher}
}

// GetProfile returns the account for the given subject.
func (s *UserService) GetProfile(ctx context.Context, username string) (*domain.User, error) {
	return s.getByUsername(ctx, username)
}

// UpdateProfile changes the account username.
func (s *UserService) UpdateProfile(ctx context.Context, username, newUsername string) (*domain.User, error) {
	user, err := s.getByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if newUsername != "" && newUsername != user.Username {
		if _, err := s.users.GetByUsername(ctx, newUsername); err == nil {
			return nil, apperrors.NewAlreadyExists("username")
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewUpstreamUnavailable(err)
		}
		user.Username = newUsername
	}
	if err := s.users.Update(ctx, user); err != nil {
		return nil, apperrors.NewUpstreamUnavailable(err)
	}
	return user, nil
}

// DeleteAccount removes the account.
func (s *UserService) DeleteAccount(ctx context.Context, username string) error {
	user, err := s.getByUsername(ctx, username)
	if err != nil {
		return err
	}
	if err := s.users.Delete(ctx, user.ID); err != nil {
		return apperrors.NewUpstreamUnavailable(err)
	}

	if s.dispatcher != nil {
		_ = s.dispatcher.Publish(ctx, events.Event{
			ID:      uuid.NewString(),
			Type:    events.EventAccountDeleted,
			Subject: user.Username,
		})
	}
	return nil
}

func (s *UserService) getByUsername(ctx context.Context, username string) (*domain.User, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("account", nil)
		}
		return nil, apperrors.NewUpstreamUnavailable(err)
	}
	return user, nil
}
