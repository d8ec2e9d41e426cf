package auth

import (
	"context"
	"errors"
	"fmt"

	"bot-dashboard/internal/database"

	"github.com/rs/zerolog"
)

// OperatorStore is what SeedOperator needs from persistence
type OperatorStore interface {
	GetUserByEmail(ctx context.Context, email string) (*database.User, error)
	CreateUser(ctx context.Context, user *database.User) error
	PromoteOperator(ctx context.Context, userID, passwordHash string) error
}

// OperatorSeed describes the operator account that must exist at startup
type OperatorSeed struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// SeedOperator ensures an operator account exists with the configured
// credentials. It creates the account if missing, or resets the password and
// operator flag if the stored ones differ. An empty email or password skips seeding.
func SeedOperator(ctx context.Context, store OperatorStore, pm *PasswordManager, seed OperatorSeed, logger zerolog.Logger) error {
	if seed.Email == "" || seed.Password == "" {
		logger.Info().Msg("Operator seed not configured, skipping")
		return nil
	}

	user, err := store.GetUserByEmail(ctx, seed.Email)
	if err != nil {
		return fmt.Errorf("failed to check for operator user: %w", err)
	}

	if user == nil {
		hash, err := pm.HashPassword(seed.Password)
		if err != nil {
			return fmt.Errorf("failed to hash operator password: %w", err)
		}

		firstName := seed.FirstName
		if firstName == "" {
			firstName = "Operator"
		}
		operator := &database.User{
			Email:          seed.Email,
			PasswordHash:   hash,
			FirstName:      firstName,
			LastName:       seed.LastName,
			IsOperator:     true,
			ApprovalStatus: database.ApprovalApproved,
		}
		if err := store.CreateUser(ctx, operator); err != nil {
			if errors.Is(err, database.ErrDuplicate) {
				return nil
			}
			return fmt.Errorf("failed to create operator user: %w", err)
		}

		logger.Info().Str("user_id", operator.ID).Str("email", seed.Email).Msg("Operator user created")
		return nil
	}

	if ok, needsRehash := pm.VerifyPassword(seed.Password, user.PasswordHash); ok && !needsRehash && user.IsOperator {
		logger.Debug().Str("email", seed.Email).Msg("Operator user exists with correct credentials")
		return nil
	}

	hash, err := pm.HashPassword(seed.Password)
	if err != nil {
		return fmt.Errorf("failed to hash operator password: %w", err)
	}
	if err := store.PromoteOperator(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("failed to update operator user: %w", err)
	}

	logger.Info().Str("user_id", user.ID).Msg("Operator credentials updated")
	return nil
}
