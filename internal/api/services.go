package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"bot-dashboard/internal/accounts"
	"bot-dashboard/internal/activation"
	"bot-dashboard/internal/announcements"
	"bot-dashboard/internal/database"
	"bot-dashboard/internal/funds"
	"bot-dashboard/internal/logging"
	"bot-dashboard/internal/plans"
	"bot-dashboard/internal/sysconfig"

	"github.com/gin-gonic/gin"
)

// ActivationService drives the bot activation countdown
type ActivationService interface {
	SetActivation(ctx context.Context, userID string, activate bool, days *int) (*activation.State, error)
	GetActivation(ctx context.Context, userID string) (*activation.State, error)
	ListForOperator(ctx context.Context) ([]activation.UserActivation, error)
}

// AccountService reviews and deletes user accounts
type AccountService interface {
	ListByStatus(ctx context.Context, status database.ApprovalStatus) ([]*database.User, error)
	Approve(ctx context.Context, userID, operatorID string) error
	Reject(ctx context.Context, userID, operatorID, reason string) error
	Delete(ctx context.Context, userID, operatorID string) error
}

// FundsService handles capital, deposits, withdrawals and earnings
type FundsService interface {
	GetCapital(ctx context.Context, userID string) (*database.UserCapital, error)
	Invest(ctx context.Context, userID string, exchange database.Exchange, amount float64) (*database.UserCapital, error)
	WithdrawCapital(ctx context.Context, userID string) error
	ExchangeStatus(ctx context.Context, userID string) ([]funds.ExchangeConnection, error)
	UsersByExchange(ctx context.Context) ([]funds.ExchangeBucket, error)

	CreateDeposit(ctx context.Context, userID string, exchange database.Exchange, amount float64) (*database.FundTransaction, error)
	CreateWithdrawal(ctx context.Context, userID string, exchange database.Exchange, amount float64) (*database.FundTransaction, error)
	ListDeposits(ctx context.Context, userID string) ([]*database.FundTransaction, error)
	ListWithdrawals(ctx context.Context, userID string) ([]*database.FundTransaction, error)
	ListPendingDeposits(ctx context.Context) ([]*database.FundTransaction, error)
	ListPendingWithdrawals(ctx context.Context) ([]*database.FundTransaction, error)
	ApproveDeposit(ctx context.Context, id int64, operatorID string) (*database.FundTransaction, error)
	RejectDeposit(ctx context.Context, id int64, operatorID, reason string) (*database.FundTransaction, error)
	ApproveWithdrawal(ctx context.Context, id int64, operatorID string) (*database.FundTransaction, error)
	RejectWithdrawal(ctx context.Context, id int64, operatorID, reason string) (*database.FundTransaction, error)

	Balance(ctx context.Context, userID string) (*funds.Balance, error)
	CalculatedBalance(ctx context.Context, userID string) (*funds.CalculatedBalance, error)
	ListEarnings(ctx context.Context, userID string) ([]*database.BotEarning, error)
	TotalEarnings(ctx context.Context, userID string) (float64, error)
	RecordEarning(ctx context.Context, userID string, amount float64, note string) (*database.BotEarning, error)
}

// PlanService manages plans and plan change requests
type PlanService interface {
	ListPlans(ctx context.Context) ([]*database.SubscriptionPlan, error)
	ActivePlans(ctx context.Context) ([]*database.SubscriptionPlan, error)
	CreatePlan(ctx context.Context, in plans.PlanInput, operatorID string) (*database.SubscriptionPlan, error)
	UpdatePlan(ctx context.Context, id int64, in plans.PlanInput) (*database.SubscriptionPlan, error)
	DeletePlan(ctx context.Context, id int64) error
	UserPlan(ctx context.Context, userID string) (*database.UserPlan, error)
	RequestChange(ctx context.Context, userID string, planID int64) (*database.PlanChangeRequest, error)
	UserRequests(ctx context.Context, userID string) ([]*database.PlanChangeRequest, error)
	PendingRequests(ctx context.Context) ([]*database.PlanChangeRequest, error)
	ApproveChange(ctx context.Context, requestID int64, operatorID string) (*database.PlanChangeRequest, error)
	RejectChange(ctx context.Context, requestID int64, operatorID string) (*database.PlanChangeRequest, error)
}

// ConfigService reads and writes feature flags
type ConfigService interface {
	Enabled(ctx context.Context, key string) bool
	Get(ctx context.Context, key string) (*database.SystemConfig, error)
	List(ctx context.Context) ([]*database.SystemConfig, error)
	Set(ctx context.Context, key string, value bool, operatorID string) error
}

// AnnouncementService serves channel announcements
type AnnouncementService interface {
	Sync(ctx context.Context) (int, error)
	List(ctx context.Context, includeHidden bool) ([]*database.Announcement, error)
	SetHidden(ctx context.Context, id int64, hidden bool, operatorID string) error
}

// errorStatus maps service errors to HTTP status codes
var errorStatus = []struct {
	err    error
	status int
}{
	{activation.ErrInvalidDuration, http.StatusBadRequest},
	{activation.ErrMissingUserID, http.StatusBadRequest},
	{activation.ErrUserNotFound, http.StatusNotFound},

	{accounts.ErrUserNotFound, http.StatusNotFound},
	{accounts.ErrInvalidStatus, http.StatusBadRequest},
	{accounts.ErrReasonTooLong, http.StatusBadRequest},
	{accounts.ErrOperatorAccount, http.StatusForbidden},

	{funds.ErrInvalidAmount, http.StatusBadRequest},
	{funds.ErrWholeAmount, http.StatusBadRequest},
	{funds.ErrInvalidExchange, http.StatusBadRequest},
	{funds.ErrInvalidEarning, http.StatusBadRequest},
	{funds.ErrInsufficientBalance, http.StatusBadRequest},
	{funds.ErrCapitalExists, http.StatusConflict},
	{funds.ErrNoCapital, http.StatusNotFound},
	{funds.ErrNotFound, http.StatusNotFound},
	{funds.ErrNotPending, http.StatusConflict},

	{plans.ErrInvalidPlan, http.StatusBadRequest},
	{plans.ErrPlanInactive, http.StatusBadRequest},
	{plans.ErrPlansDisabled, http.StatusForbidden},
	{plans.ErrPlanNotFound, http.StatusNotFound},
	{plans.ErrRequestNotFound, http.StatusNotFound},
	{plans.ErrSamePlan, http.StatusConflict},
	{plans.ErrRequestPending, http.StatusConflict},
	{plans.ErrNotPending, http.StatusConflict},
	{plans.ErrPlanInUse, http.StatusConflict},
	{plans.ErrPlanNameTaken, http.StatusConflict},
	{plans.ErrBasicPlan, http.StatusConflict},

	{sysconfig.ErrUnknownKey, http.StatusBadRequest},
	{announcements.ErrNotFound, http.StatusNotFound},
}

// respondServiceError writes the status for a known service error and a
// generic 500 for anything else
func respondServiceError(c *gin.Context, err error, action string) {
	for _, m := range errorStatus {
		if errors.Is(err, m.err) {
			errorResponse(c, m.status, err.Error())
			return
		}
	}

	logger := logging.FromContext(c.Request.Context())
	logger.Error().Err(err).Str("action", action).Msg("Request failed")
	errorResponse(c, http.StatusInternalServerError, "failed to "+action)
}

// parseID reads a positive integer path parameter
func parseID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		errorResponse(c, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}
