package database

import (
	"time"
)

// Exchange is one of the venues a user can connect capital to
type Exchange string

const (
	ExchangeBinance Exchange = "binance"
	ExchangeBlofin  Exchange = "blofin"
	ExchangeBybit   Exchange = "bybit"
)

// SupportedExchanges lists exchanges in display order
var SupportedExchanges = []Exchange{ExchangeBinance, ExchangeBlofin, ExchangeBybit}

// IsValid reports whether e is a supported exchange
func (e Exchange) IsValid() bool {
	for _, s := range SupportedExchanges {
		if e == s {
			return true
		}
	}
	return false
}

// RequestStatus is the review state of deposits, withdrawals and plan changes
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// UserCapital is the capital a user has connected to a single exchange
type UserCapital struct {
	ID            int64     `json:"id"`
	UserID        string    `json:"user_id"`
	Exchange      Exchange  `json:"exchange"`
	CapitalAmount float64   `json:"capital_amount"`
	IsConnected   bool      `json:"is_connected"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// UserCapitalWithUser is a capital row joined with its owner for operator views
type UserCapitalWithUser struct {
	UserCapital
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// FundTransaction is a deposit or withdrawal request
type FundTransaction struct {
	ID              int64         `json:"id"`
	UserID          string        `json:"user_id"`
	Exchange        Exchange      `json:"exchange"`
	Amount          float64       `json:"amount"`
	Status          RequestStatus `json:"status"`
	RejectionReason string        `json:"rejection_reason,omitempty"`
	ProcessedAt     *time.Time    `json:"processed_at,omitempty"`
	ProcessedBy     *string       `json:"processed_by,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`

	// Populated on operator listings
	UserEmail string `json:"user_email,omitempty"`
	UserName  string `json:"user_name,omitempty"`
}

// TransactionKind selects the deposits or withdrawals table
type TransactionKind string

const (
	KindDeposit    TransactionKind = "deposit"
	KindWithdrawal TransactionKind = "withdrawal"
)

func (k TransactionKind) table() string {
	if k == KindWithdrawal {
		return "withdrawals"
	}
	return "deposits"
}

// ExchangeTotals holds transaction sums per exchange
type ExchangeTotals struct {
	Exchange           Exchange `json:"exchange"`
	Deposits           float64  `json:"deposits"`
	Withdrawals        float64  `json:"withdrawals"`
	PendingWithdrawals float64  `json:"pending_withdrawals"`
}

// BotEarning is a single earning entry credited to a user
type BotEarning struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Amount    float64   `json:"amount"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SubscriptionPlan is a plan users can subscribe to
type SubscriptionPlan struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Price        float64   `json:"price"`
	DurationDays int       `json:"duration_days"`
	Features     []string  `json:"features"`
	IsActive     bool      `json:"is_active"`
	DisplayOrder int       `json:"display_order"`
	CreatedBy    *string   `json:"created_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UserPlan is the plan currently assigned to a user
type UserPlan struct {
	ID          int64             `json:"id"`
	UserID      string            `json:"user_id"`
	PlanID      int64             `json:"plan_id"`
	ActivatedAt time.Time         `json:"activated_at"`
	ExpiresAt   time.Time         `json:"expires_at"`
	IsActive    bool              `json:"is_active"`
	Plan        *SubscriptionPlan `json:"plan,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// PlanChangeRequest is a user request to move to another plan
type PlanChangeRequest struct {
	ID              int64         `json:"id"`
	UserID          string        `json:"user_id"`
	CurrentPlanID   *int64        `json:"current_plan_id,omitempty"`
	RequestedPlanID int64         `json:"requested_plan_id"`
	Status          RequestStatus `json:"status"`
	RequestedAt     time.Time     `json:"requested_at"`
	ProcessedAt     *time.Time    `json:"processed_at,omitempty"`
	ProcessedBy     *string       `json:"processed_by,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`

	// Populated on operator listings
	UserEmail         string `json:"user_email,omitempty"`
	UserName          string `json:"user_name,omitempty"`
	CurrentPlanName   string `json:"current_plan_name,omitempty"`
	RequestedPlanName string `json:"requested_plan_name,omitempty"`
}

// SystemConfig is a boolean feature flag
type SystemConfig struct {
	Key         string    `json:"key"`
	Value       bool      `json:"value"`
	Description string    `json:"description,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
	UpdatedBy   *string   `json:"updated_by,omitempty"`
}

// Announcement is a post mirrored from the announcement channel
type Announcement struct {
	ID          int64     `json:"id"`
	Text        string    `json:"text"`
	PostedAt    time.Time `json:"date"`
	HasPhoto    bool      `json:"hasPhoto"`
	HasVideo    bool      `json:"hasVideo"`
	HasDocument bool      `json:"hasDocument"`
	Hidden      bool      `json:"hidden"`
	HiddenBy    *string   `json:"hidden_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
