// Package accounts implements operator review of investor accounts.
package accounts

import (
	"context"
	"errors"
	"fmt"

	"bot-dashboard/internal/database"
	"bot-dashboard/internal/events"

	"github.com/rs/zerolog"
)

const maxRejectionReason = 500

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrInvalidStatus   = errors.New("invalid approval status")
	ErrOperatorAccount = errors.New("operator accounts cannot be modified")
	ErrReasonTooLong   = errors.New("rejection reason is too long")
)

// Store is the persistence the accounts service needs
type Store interface {
	GetUserByID(ctx context.Context, userID string) (*database.User, error)
	ListUsersByStatus(ctx context.Context, status database.ApprovalStatus) ([]*database.User, error)
	SetApprovalStatus(ctx context.Context, userID string, status database.ApprovalStatus, operatorID, reason string) (bool, error)
	DeleteUserCascade(ctx context.Context, userID string) (bool, error)
	RevokeAllUserSessions(ctx context.Context, userID string) error
}

// Service handles account approval and removal
type Service struct {
	store  Store
	bus    *events.EventBus
	logger zerolog.Logger
}

// NewService creates a new accounts service
func NewService(store Store, bus *events.EventBus, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		bus:    bus,
		logger: logger.With().Str("component", "accounts").Logger(),
	}
}

// ListByStatus lists investors in the given approval state, newest first
func (s *Service) ListByStatus(ctx context.Context, status database.ApprovalStatus) ([]*database.User, error) {
	if !status.IsValid() {
		return nil, ErrInvalidStatus
	}
	users, err := s.store.ListUsersByStatus(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	if users == nil {
		users = []*database.User{}
	}
	return users, nil
}

// Approve marks a user as approved
func (s *Service) Approve(ctx context.Context, userID, operatorID string) error {
	return s.review(ctx, userID, operatorID, database.ApprovalApproved, "")
}

// Reject marks a user as rejected and ends their sessions
func (s *Service) Reject(ctx context.Context, userID, operatorID, reason string) error {
	if len(reason) > maxRejectionReason {
		return ErrReasonTooLong
	}
	return s.review(ctx, userID, operatorID, database.ApprovalRejected, reason)
}

func (s *Service) review(ctx context.Context, userID, operatorID string, status database.ApprovalStatus, reason string) error {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return ErrUserNotFound
	}
	if user.IsOperator {
		return ErrOperatorAccount
	}

	found, err := s.store.SetApprovalStatus(ctx, userID, status, operatorID, reason)
	if err != nil {
		return fmt.Errorf("failed to set approval status: %w", err)
	}
	if !found {
		return ErrUserNotFound
	}

	if status == database.ApprovalRejected {
		if err := s.store.RevokeAllUserSessions(ctx, userID); err != nil {
			s.logger.Warn().Err(err).Str("user_id", userID).Msg("Failed to revoke sessions of rejected user")
		}
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("operator_id", operatorID).
		Str("status", string(status)).
		Msg("User reviewed")

	s.bus.PublishUserReviewed(userID, status == database.ApprovalApproved, reason)
	if status == database.ApprovalRejected {
		s.bus.PublishUserLogout(userID)
	}
	return nil
}

// Delete removes an investor and all of their data
func (s *Service) Delete(ctx context.Context, userID, operatorID string) error {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return ErrUserNotFound
	}
	if user.IsOperator {
		return ErrOperatorAccount
	}

	found, err := s.store.DeleteUserCascade(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if !found {
		return ErrUserNotFound
	}

	s.logger.Info().Str("user_id", userID).Str("operator_id", operatorID).Msg("User deleted")
	s.bus.PublishUserLogout(userID)
	return nil
}
