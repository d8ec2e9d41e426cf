package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bot-dashboard/internal/database"
	"bot-dashboard/internal/events"

	"github.com/rs/zerolog"
)

// Store is the persistence the auth service needs
type Store interface {
	CreateUser(ctx context.Context, user *database.User) error
	GetUserByID(ctx context.Context, userID string) (*database.User, error)
	GetUserByEmail(ctx context.Context, email string) (*database.User, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	UpdateUserPassword(ctx context.Context, userID, passwordHash string, temporary bool) error
	UpdateUserLastLogin(ctx context.Context, userID string) error

	CreateSession(ctx context.Context, session *database.UserSession) error
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (*database.UserSession, error)
	RevokeSession(ctx context.Context, sessionID string) error
	RevokeAllUserSessions(ctx context.Context, userID string) error
	CountActiveSessions(ctx context.Context, userID string) (int, error)
	RevokeOldestSession(ctx context.Context, userID string) error
	DeleteExpiredSessions(ctx context.Context) (int64, error)

	ListSecretQuestions(ctx context.Context) ([]database.SecretQuestion, error)
	GetSecretQuestion(ctx context.Context, id int) (*database.SecretQuestion, error)
}

// PlanAssigner gives newly registered users their starting plan
type PlanAssigner interface {
	AssignBasicPlan(ctx context.Context, userID string) error
}

// Service handles authentication operations
type Service struct {
	store           Store
	plans           PlanAssigner
	bus             *events.EventBus
	jwtManager      *JWTManager
	passwordManager *PasswordManager
	config          Config
	logger          zerolog.Logger
	now             func() time.Time
}

// NewService creates a new authentication service
func NewService(store Store, config Config, logger zerolog.Logger) (*Service, error) {
	if config.JWTSecret == "" {
		return nil, errors.New("JWT secret is required")
	}

	defaults := DefaultConfig()
	if config.AccessTokenDuration == 0 {
		config.AccessTokenDuration = defaults.AccessTokenDuration
	}
	if config.RefreshTokenDuration == 0 {
		config.RefreshTokenDuration = defaults.RefreshTokenDuration
	}
	if config.TempPasswordLength == 0 {
		config.TempPasswordLength = defaults.TempPasswordLength
	}
	if config.BcryptCost == 0 {
		config.BcryptCost = defaults.BcryptCost
	}

	return &Service{
		store:           store,
		jwtManager:      NewJWTManager(config.JWTSecret, config.AccessTokenDuration, config.RefreshTokenDuration),
		passwordManager: NewPasswordManager(config.BcryptCost, config.MinPasswordLength),
		config:          config,
		logger:          logger.With().Str("component", "auth").Logger(),
		now:             time.Now,
	}, nil
}

// SetPlanAssigner wires the plan service used on registration
func (s *Service) SetPlanAssigner(p PlanAssigner) {
	s.plans = p
}

// SetEventBus wires the event bus used to announce logouts
func (s *Service) SetEventBus(bus *events.EventBus) {
	s.bus = bus
}

// GetJWTManager returns the JWT manager for use in middleware
func (s *Service) GetJWTManager() *JWTManager {
	return s.jwtManager
}

// PasswordManager returns the password manager used by the service
func (s *Service) PasswordManager() *PasswordManager {
	return s.passwordManager
}

// Register creates a new pending user account
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*database.User, error) {
	exists, err := s.store.EmailExists(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}
	if exists {
		return nil, ErrEmailExists
	}

	if err := s.passwordManager.ValidatePasswordStrength(req.Password); err != nil {
		return nil, AuthError{Code: ErrWeakPassword.Code, Message: err.Error()}
	}

	question, err := s.store.GetSecretQuestion(ctx, req.SecretQuestionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get secret question: %w", err)
	}
	if question == nil {
		return nil, ErrInvalidQuestion
	}

	passwordHash, err := s.passwordManager.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	answerHash, err := s.passwordManager.HashSecretAnswer(req.SecretAnswer)
	if err != nil {
		return nil, AuthError{Code: ErrWrongSecretAnswer.Code, Message: err.Error()}
	}

	questionID := question.ID
	user := &database.User{
		Email:            req.Email,
		PasswordHash:     passwordHash,
		FirstName:        req.FirstName,
		LastName:         req.LastName,
		Country:          req.Country,
		Phone:            req.Phone,
		TelegramHandle:   req.TelegramHandle,
		SecretQuestionID: &questionID,
		SecretAnswerHash: answerHash,
		ApprovalStatus:   database.ApprovalPending,
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if s.plans != nil {
		if err := s.plans.AssignBasicPlan(ctx, user.ID); err != nil {
			s.logger.Warn().Err(err).Str("user_id", user.ID).Msg("Failed to assign basic plan")
		}
	}

	s.logger.Info().Str("user_id", user.ID).Str("email", user.Email).Msg("User registered, pending approval")
	return user, nil
}

// Login authenticates a user and returns tokens
func (s *Service) Login(ctx context.Context, req LoginRequest, ipAddress, userAgent string) (*LoginResponse, error) {
	user, err := s.store.GetUserByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}

	ok, needsRehash := s.passwordManager.VerifyPassword(req.Password, user.PasswordHash)
	if !ok {
		s.logger.Debug().Str("user_id", user.ID).Msg("Password verification failed")
		return nil, ErrInvalidCredentials
	}

	if !user.IsOperator {
		switch user.ApprovalStatus {
		case database.ApprovalPending:
			return nil, ErrPendingApproval
		case database.ApprovalRejected:
			return nil, ErrAccountRejected
		}
	}

	if needsRehash {
		if upgraded, err := s.passwordManager.HashPassword(req.Password); err == nil {
			if err := s.store.UpdateUserPassword(ctx, user.ID, upgraded, user.IsTemporaryPassword); err != nil {
				s.logger.Warn().Err(err).Str("user_id", user.ID).Msg("Failed to upgrade legacy password hash")
			}
		}
	}

	tokenPair, err := s.issueSession(ctx, user, ipAddress, userAgent)
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdateUserLastLogin(ctx, user.ID); err != nil {
		s.logger.Warn().Err(err).Str("user_id", user.ID).Msg("Failed to update last login")
	}

	s.logger.Info().Str("user_id", user.ID).Str("ip", ipAddress).Msg("User logged in")
	return &LoginResponse{
		User:         NewUserResponse(user),
		AccessToken:  tokenPair.AccessToken,
		RefreshToken: tokenPair.RefreshToken,
		ExpiresIn:    tokenPair.ExpiresIn,
	}, nil
}

func claimsFor(user *database.User) UserClaims {
	return UserClaims{
		UserID:             user.ID,
		Email:              user.Email,
		IsOperator:         user.IsOperator,
		MustChangePassword: user.IsTemporaryPassword,
	}
}

// issueSession creates a token pair and stores the refresh token hash,
// evicting the oldest session once the per-user cap is reached.
func (s *Service) issueSession(ctx context.Context, user *database.User, ipAddress, userAgent string) (*TokenPair, error) {
	tokenPair, err := s.jwtManager.GenerateTokenPair(claimsFor(user))
	if err != nil {
		return nil, fmt.Errorf("failed to generate tokens: %w", err)
	}

	if s.config.MaxSessionsPerUser > 0 {
		count, err := s.store.CountActiveSessions(ctx, user.ID)
		if err != nil {
			s.logger.Warn().Err(err).Str("user_id", user.ID).Msg("Failed to count sessions")
		} else if count >= s.config.MaxSessionsPerUser {
			if err := s.store.RevokeOldestSession(ctx, user.ID); err != nil {
				s.logger.Warn().Err(err).Str("user_id", user.ID).Msg("Failed to revoke oldest session")
			}
		}
	}

	session := &database.UserSession{
		UserID:           user.ID,
		RefreshTokenHash: HashRefreshToken(tokenPair.RefreshToken),
		IPAddress:        ipAddress,
		UserAgent:        userAgent,
		ExpiresAt:        s.now().Add(s.jwtManager.GetRefreshTokenDuration()),
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return tokenPair, nil
}

// RefreshTokens rotates the refresh token and issues a new access token
func (s *Service) RefreshTokens(ctx context.Context, refreshToken string) (*RefreshResponse, error) {
	session, err := s.store.GetSessionByTokenHash(ctx, HashRefreshToken(refreshToken))
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return nil, ErrInvalidToken
	}
	if session.RevokedAt != nil {
		return nil, ErrSessionRevoked
	}
	if session.ExpiresAt.Before(s.now()) {
		return nil, ErrTokenExpired
	}

	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	if !user.IsOperator && user.ApprovalStatus != database.ApprovalApproved {
		return nil, ErrUnauthorized
	}

	if err := s.store.RevokeSession(ctx, session.ID); err != nil {
		return nil, fmt.Errorf("failed to revoke old session: %w", err)
	}

	tokenPair, err := s.issueSession(ctx, user, session.IPAddress, session.UserAgent)
	if err != nil {
		return nil, err
	}

	return &RefreshResponse{
		AccessToken:  tokenPair.AccessToken,
		RefreshToken: tokenPair.RefreshToken,
		ExpiresIn:    tokenPair.ExpiresIn,
	}, nil
}

// Logout revokes the session owning the refresh token
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	session, err := s.store.GetSessionByTokenHash(ctx, HashRefreshToken(refreshToken))
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return nil // Already logged out or invalid token
	}
	return s.store.RevokeSession(ctx, session.ID)
}

// LogoutAll revokes all sessions for a user
func (s *Service) LogoutAll(ctx context.Context, userID string) error {
	if err := s.store.RevokeAllUserSessions(ctx, userID); err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}
	s.bus.PublishUserLogout(userID)
	return nil
}

// Me returns the current user
func (s *Service) Me(ctx context.Context, userID string) (*database.User, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// ChangePassword sets a new password. Accounts on a temporary password may
// skip the current password check.
func (s *Service) ChangePassword(ctx context.Context, userID string, req ChangePasswordRequest) error {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return ErrUserNotFound
	}

	if !user.IsTemporaryPassword || req.CurrentPassword != "" {
		if ok, _ := s.passwordManager.VerifyPassword(req.CurrentPassword, user.PasswordHash); !ok {
			return ErrInvalidCredentials
		}
	}

	if err := s.passwordManager.ValidatePasswordStrength(req.NewPassword); err != nil {
		return AuthError{Code: ErrWeakPassword.Code, Message: err.Error()}
	}

	newHash, err := s.passwordManager.HashPassword(req.NewPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.store.UpdateUserPassword(ctx, userID, newHash, false); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	// Force re-login everywhere
	if err := s.store.RevokeAllUserSessions(ctx, userID); err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("Failed to revoke sessions after password change")
	}
	s.bus.PublishUserLogout(userID)

	s.logger.Info().Str("user_id", userID).Msg("Password changed")
	return nil
}

// SecretQuestions lists the questions offered at registration
func (s *Service) SecretQuestions(ctx context.Context) ([]database.SecretQuestion, error) {
	questions, err := s.store.ListSecretQuestions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list secret questions: %w", err)
	}
	return questions, nil
}

// GetSecretQuestion returns the recovery question of an account
func (s *Service) GetSecretQuestion(ctx context.Context, email string) (*database.SecretQuestion, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	if user.SecretQuestionID == nil || user.SecretAnswerHash == "" {
		return nil, ErrNoRecoveryQuestion
	}

	question, err := s.store.GetSecretQuestion(ctx, *user.SecretQuestionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get secret question: %w", err)
	}
	if question == nil {
		return nil, ErrNoRecoveryQuestion
	}
	return question, nil
}

// RecoverPassword checks the secret answer and, when correct, replaces the
// password with a temporary one that is returned exactly once.
func (s *Service) RecoverPassword(ctx context.Context, email, answer string) (string, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return "", ErrUserNotFound
	}
	if user.SecretAnswerHash == "" {
		return "", ErrNoRecoveryQuestion
	}
	if !s.passwordManager.VerifySecretAnswer(answer, user.SecretAnswerHash) {
		s.logger.Warn().Str("user_id", user.ID).Msg("Wrong secret answer on recovery")
		return "", ErrWrongSecretAnswer
	}

	temp, err := GenerateTemporaryPassword(s.config.TempPasswordLength)
	if err != nil {
		return "", err
	}
	hash, err := s.passwordManager.HashPassword(temp)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.store.UpdateUserPassword(ctx, user.ID, hash, true); err != nil {
		return "", fmt.Errorf("failed to update password: %w", err)
	}
	if err := s.store.RevokeAllUserSessions(ctx, user.ID); err != nil {
		s.logger.Warn().Err(err).Str("user_id", user.ID).Msg("Failed to revoke sessions after recovery")
	}

	s.logger.Info().Str("user_id", user.ID).Msg("Password recovered with temporary password")
	return temp, nil
}

// CleanupExpiredSessions removes expired sessions from the database
func (s *Service) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	return s.store.DeleteExpiredSessions(ctx)
}

// StartSessionCleanup deletes expired sessions on every tick until ctx is done
func (s *Service) StartSessionCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.CleanupExpiredSessions(ctx)
				if err != nil {
					s.logger.Error().Err(err).Msg("Session cleanup failed")
					continue
				}
				if n > 0 {
					s.logger.Info().Int64("deleted", n).Msg("Expired sessions removed")
				}
			}
		}
	}()
}
