package activation

import (
	"context"
	"errors"
	"time"
)

// DefaultDurationDays is the countdown length used when nothing else applies
const DefaultDurationDays = 30

// dayLength is the unit the countdown is measured in
const dayLength = 24 * time.Hour

var (
	// ErrInvalidDuration is returned when a supplied duration is not positive
	ErrInvalidDuration = errors.New("activation duration must be a positive number of days")
	// ErrMissingUserID is returned when an operation is called without a user
	ErrMissingUserID = errors.New("user id is required")
	// ErrUserNotFound is returned when the id does not name an approved investor
	ErrUserNotFound = errors.New("approved investor not found")
)

// ResumePolicy decides which duration wins when a user with banked days is
// re-activated and the operator also supplied an explicit duration.
type ResumePolicy string

const (
	// ResumeBanked resumes from the banked days and ignores the supplied duration
	ResumeBanked ResumePolicy = "banked"
	// PreferExplicitDays uses the supplied duration whenever one is given
	PreferExplicitDays ResumePolicy = "explicit"
)

// ParseResumePolicy maps a config value to a policy, defaulting to ResumeBanked
func ParseResumePolicy(s string) ResumePolicy {
	if ResumePolicy(s) == PreferExplicitDays {
		return PreferExplicitDays
	}
	return ResumeBanked
}

// Record is the persisted activation row for one user.
// Days remaining is never stored; it is derived from the clock on every read.
type Record struct {
	UserID              string     `json:"user_id"`
	IsActive            bool       `json:"is_active"`
	ActivatedAt         *time.Time `json:"activated_at,omitempty"`
	TotalDurationDays   int        `json:"total_duration_days"`
	PausedDaysRemaining *int       `json:"paused_days_remaining,omitempty"`
	LastPauseDate       *time.Time `json:"last_pause_date,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// State is the read model returned to callers
type State struct {
	UserID              string     `json:"user_id"`
	IsActive            bool       `json:"is_active"`
	DaysRemaining       int        `json:"days_remaining"`
	TotalDurationDays   int        `json:"total_duration_days"`
	ActivatedAt         *time.Time `json:"activated_at,omitempty"`
	PausedDaysRemaining *int       `json:"paused_days_remaining,omitempty"`
	LastPauseDate       *time.Time `json:"last_pause_date,omitempty"`
}

// UserActivation pairs a user summary with their activation state for the
// operator view.
type UserActivation struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	State     *State `json:"activation"`
}

// UserSummary is the minimal user information the operator view needs
type UserSummary struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
}

// MergeFunc computes the next row from the current one. current is nil when
// the user has no row yet. It must not perform I/O.
type MergeFunc func(current *Record) *Record

// Store persists activation rows
type Store interface {
	// GetActivation returns nil, nil when no row exists
	GetActivation(ctx context.Context, userID string) (*Record, error)
	// UpsertActivation reads the current row, applies merge and writes the
	// result atomically. Nothing is written when an error is returned.
	UpsertActivation(ctx context.Context, userID string, merge MergeFunc) (*Record, error)
	// ListActivations returns all rows keyed by user id
	ListActivations(ctx context.Context) (map[string]*Record, error)
}

// UserLister lists the users shown on the operator activation page
type UserLister interface {
	ListApprovedInvestors(ctx context.Context) ([]UserSummary, error)
	// GetApprovedInvestor returns nil, nil when userID is not an approved
	// non-operator account
	GetApprovedInvestor(ctx context.Context, userID string) (*UserSummary, error)
}

// Clock returns the current time
type Clock func() time.Time
