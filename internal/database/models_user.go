package database

import (
	"time"
)

// ApprovalStatus is the review state of an account
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// IsValid reports whether s is a known approval status
func (s ApprovalStatus) IsValid() bool {
	switch s {
	case ApprovalPending, ApprovalApproved, ApprovalRejected:
		return true
	}
	return false
}

// User represents a platform user. Operators share the table with investors.
type User struct {
	ID                  string         `json:"id"`
	Email               string         `json:"email"`
	PasswordHash        string         `json:"-"` // Never serialize
	FirstName           string         `json:"first_name"`
	LastName            string         `json:"last_name"`
	Country             string         `json:"country,omitempty"`
	Phone               string         `json:"phone,omitempty"`
	TelegramHandle      string         `json:"telegram_handle,omitempty"`
	SecretQuestionID    *int           `json:"secret_question_id,omitempty"`
	SecretAnswerHash    string         `json:"-"`
	IsTemporaryPassword bool           `json:"is_temporary_password"`
	IsOperator          bool           `json:"is_operator"`
	ApprovalStatus      ApprovalStatus `json:"approval_status"`
	ApprovalDate        *time.Time     `json:"approval_date,omitempty"`
	ApprovedBy          *string        `json:"approved_by,omitempty"`
	RejectionReason     string         `json:"rejection_reason,omitempty"`
	PasswordChangedAt   *time.Time     `json:"password_changed_at,omitempty"`
	LastLoginAt         *time.Time     `json:"last_login_at,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// FullName joins first and last name
func (u *User) FullName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// UserSession represents an active user session with refresh token
type UserSession struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	RefreshTokenHash string     `json:"-"` // Never serialize
	IPAddress        string     `json:"ip_address,omitempty"`
	UserAgent        string     `json:"user_agent,omitempty"`
	ExpiresAt        time.Time  `json:"expires_at"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	LastUsedAt       time.Time  `json:"last_used_at"`
}

// SecretQuestion is a password recovery question offered at registration
type SecretQuestion struct {
	ID       int    `json:"id"`
	Question string `json:"question"`
}
