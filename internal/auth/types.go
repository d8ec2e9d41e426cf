package auth

import (
	"time"

	"bot-dashboard/internal/database"
)

// UserClaims represents the JWT claims for a user
type UserClaims struct {
	UserID             string `json:"user_id"`
	Email              string `json:"email"`
	IsOperator         bool   `json:"is_operator"`
	MustChangePassword bool   `json:"must_change_password"`
}

// TokenPair represents an access and refresh token pair
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"` // Access token expiry in seconds
	TokenType    string `json:"token_type"` // Always "Bearer"
}

// RegisterRequest represents a user registration request
type RegisterRequest struct {
	Email            string `json:"email" binding:"required,email"`
	Password         string `json:"password" binding:"required,min=8"`
	FirstName        string `json:"first_name" binding:"required"`
	LastName         string `json:"last_name" binding:"required"`
	Country          string `json:"country"`
	Phone            string `json:"phone"`
	TelegramHandle   string `json:"telegram_handle"`
	SecretQuestionID int    `json:"secret_question_id" binding:"required"`
	SecretAnswer     string `json:"secret_answer" binding:"required"`
}

// LoginRequest represents a user login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents a successful login response
type LoginResponse struct {
	User         UserResponse `json:"user"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresIn    int64        `json:"expires_in"`
}

// UserResponse represents user data returned to the client
type UserResponse struct {
	ID                  string     `json:"id"`
	Email               string     `json:"email"`
	FirstName           string     `json:"first_name"`
	LastName            string     `json:"last_name"`
	Country             string     `json:"country,omitempty"`
	Phone               string     `json:"phone,omitempty"`
	TelegramHandle      string     `json:"telegram_handle,omitempty"`
	IsOperator          bool       `json:"is_operator"`
	IsTemporaryPassword bool       `json:"is_temporary_password"`
	ApprovalStatus      string     `json:"approval_status"`
	CreatedAt           time.Time  `json:"created_at"`
	LastLoginAt         *time.Time `json:"last_login_at,omitempty"`
}

// NewUserResponse converts a stored user into its client form
func NewUserResponse(u *database.User) UserResponse {
	return UserResponse{
		ID:                  u.ID,
		Email:               u.Email,
		FirstName:           u.FirstName,
		LastName:            u.LastName,
		Country:             u.Country,
		Phone:               u.Phone,
		TelegramHandle:      u.TelegramHandle,
		IsOperator:          u.IsOperator,
		IsTemporaryPassword: u.IsTemporaryPassword,
		ApprovalStatus:      string(u.ApprovalStatus),
		CreatedAt:           u.CreatedAt,
		LastLoginAt:         u.LastLoginAt,
	}
}

// RefreshRequest represents a token refresh request
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// RefreshResponse represents a token refresh response
type RefreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// ChangePasswordRequest represents a password change request. The current
// password may be omitted while the account has a temporary password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password" binding:"required,min=8"`
}

// RecoveryQuestionRequest asks for the secret question of an account
type RecoveryQuestionRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// RecoveryQuestionResponse carries the secret question of an account
type RecoveryQuestionResponse struct {
	QuestionID int    `json:"question_id"`
	Question   string `json:"question"`
}

// RecoveryResetRequest answers the secret question
type RecoveryResetRequest struct {
	Email  string `json:"email" binding:"required,email"`
	Answer string `json:"answer" binding:"required"`
}

// RecoveryResetResponse returns the one time temporary password
type RecoveryResetResponse struct {
	TemporaryPassword string `json:"temporary_password"`
}

// Config holds authentication configuration
type Config struct {
	// JWT settings
	JWTSecret            string        `json:"jwt_secret"`
	AccessTokenDuration  time.Duration `json:"access_token_duration"`
	RefreshTokenDuration time.Duration `json:"refresh_token_duration"`

	// Password settings
	MinPasswordLength  int `json:"min_password_length"`
	TempPasswordLength int `json:"temp_password_length"`
	BcryptCost         int `json:"bcrypt_cost"`

	// Session settings
	MaxSessionsPerUser int `json:"max_sessions_per_user"`
}

// DefaultConfig returns default authentication configuration
func DefaultConfig() Config {
	return Config{
		JWTSecret:            "", // Must be set
		AccessTokenDuration:  15 * time.Minute,
		RefreshTokenDuration: 7 * 24 * time.Hour,
		MinPasswordLength:    MinPasswordLength,
		TempPasswordLength:   DefaultTempPasswordLength,
		BcryptCost:           DefaultBcryptCost,
		MaxSessionsPerUser:   10,
	}
}

// Error types for authentication
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e AuthError) Error() string {
	return e.Message
}

// Common authentication errors
var (
	ErrInvalidCredentials   = AuthError{Code: "INVALID_CREDENTIALS", Message: "invalid email or password"}
	ErrUserNotFound         = AuthError{Code: "USER_NOT_FOUND", Message: "user not found"}
	ErrEmailExists          = AuthError{Code: "EMAIL_EXISTS", Message: "email already registered"}
	ErrInvalidToken         = AuthError{Code: "INVALID_TOKEN", Message: "invalid or expired token"}
	ErrTokenExpired         = AuthError{Code: "TOKEN_EXPIRED", Message: "token has expired"}
	ErrSessionRevoked       = AuthError{Code: "SESSION_REVOKED", Message: "session has been revoked"}
	ErrUnauthorized         = AuthError{Code: "UNAUTHORIZED", Message: "unauthorized access"}
	ErrForbidden            = AuthError{Code: "FORBIDDEN", Message: "access forbidden"}
	ErrPendingApproval      = AuthError{Code: "PENDING_APPROVAL", Message: "account is pending operator approval"}
	ErrAccountRejected      = AuthError{Code: "ACCOUNT_REJECTED", Message: "account registration was rejected"}
	ErrWeakPassword         = AuthError{Code: "WEAK_PASSWORD", Message: "password does not meet requirements"}
	ErrInvalidQuestion      = AuthError{Code: "INVALID_SECRET_QUESTION", Message: "secret question does not exist"}
	ErrWrongSecretAnswer    = AuthError{Code: "WRONG_SECRET_ANSWER", Message: "secret answer is incorrect"}
	ErrNoRecoveryQuestion   = AuthError{Code: "NO_RECOVERY_QUESTION", Message: "account has no recovery question"}
	ErrPasswordChangeNeeded = AuthError{Code: "PASSWORD_CHANGE_REQUIRED", Message: "password change required"}
	ErrRateLimited          = AuthError{Code: "RATE_LIMITED", Message: "too many requests, please try again later"}
)
