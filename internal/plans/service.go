// Package plans manages subscription plans and user plan change requests.
package plans

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"bot-dashboard/internal/database"
	"bot-dashboard/internal/events"
	"bot-dashboard/internal/sysconfig"

	"github.com/rs/zerolog"
)

var (
	ErrPlansDisabled   = errors.New("plan changes are disabled")
	ErrPlanNotFound    = errors.New("plan not found")
	ErrPlanInactive    = errors.New("plan is not available")
	ErrSamePlan        = errors.New("already subscribed to this plan")
	ErrRequestPending  = errors.New("a plan change request is already pending")
	ErrRequestNotFound = errors.New("plan change request not found")
	ErrNotPending      = errors.New("plan change request is not pending")
	ErrPlanInUse       = errors.New("plan has subscribed users")
	ErrPlanNameTaken   = errors.New("plan name already exists")
	ErrBasicPlan       = errors.New("the basic plan cannot be deleted")
	ErrInvalidPlan     = errors.New("invalid plan")
)

// Store is the persistence the plans service needs
type Store interface {
	ListPlans(ctx context.Context) ([]*database.SubscriptionPlan, error)
	ListActivePlans(ctx context.Context) ([]*database.SubscriptionPlan, error)
	GetPlan(ctx context.Context, id int64) (*database.SubscriptionPlan, error)
	GetPlanByName(ctx context.Context, name string) (*database.SubscriptionPlan, error)
	CreatePlan(ctx context.Context, p *database.SubscriptionPlan) error
	UpdatePlan(ctx context.Context, p *database.SubscriptionPlan) (bool, error)
	DeletePlan(ctx context.Context, id int64) (bool, error)
	CountPlanUsers(ctx context.Context, planID int64) (int, error)

	GetUserPlan(ctx context.Context, userID string) (*database.UserPlan, error)
	AssignUserPlan(ctx context.Context, userID string, planID int64, expiresAt time.Time) error

	CreatePlanChangeRequest(ctx context.Context, pr *database.PlanChangeRequest) error
	GetPlanChangeRequest(ctx context.Context, id int64) (*database.PlanChangeRequest, error)
	ListUserPlanChangeRequests(ctx context.Context, userID string) ([]*database.PlanChangeRequest, error)
	ListPendingPlanChangeRequests(ctx context.Context) ([]*database.PlanChangeRequest, error)
	ApprovePlanChangeRequest(ctx context.Context, id int64, operatorID string, now time.Time) (*database.PlanChangeRequest, error)
	RejectPlanChangeRequest(ctx context.Context, id int64, operatorID string) (*database.PlanChangeRequest, error)
}

// Flags reports feature flag state
type Flags interface {
	Enabled(ctx context.Context, key string) bool
}

// PlanInput is the operator editable part of a plan
type PlanInput struct {
	Name         string   `json:"name" binding:"required"`
	Description  string   `json:"description"`
	Price        float64  `json:"price"`
	DurationDays int      `json:"duration_days" binding:"required"`
	Features     []string `json:"features"`
	IsActive     bool     `json:"is_active"`
	DisplayOrder int      `json:"display_order"`
}

func (in PlanInput) validate() error {
	switch {
	case strings.TrimSpace(in.Name) == "":
		return fmt.Errorf("%w: name is required", ErrInvalidPlan)
	case in.Price < 0 || math.IsNaN(in.Price) || math.IsInf(in.Price, 0):
		return fmt.Errorf("%w: price must not be negative", ErrInvalidPlan)
	case in.DurationDays <= 0:
		return fmt.Errorf("%w: duration_days must be positive", ErrInvalidPlan)
	}
	return nil
}

func (in PlanInput) apply(p *database.SubscriptionPlan) {
	p.Name = strings.TrimSpace(in.Name)
	p.Description = in.Description
	p.Price = in.Price
	p.DurationDays = in.DurationDays
	p.Features = in.Features
	if p.Features == nil {
		p.Features = []string{}
	}
	p.IsActive = in.IsActive
	p.DisplayOrder = in.DisplayOrder
}

// Service handles plans and plan changes
type Service struct {
	store  Store
	flags  Flags
	bus    *events.EventBus
	clock  func() time.Time
	logger zerolog.Logger
}

// NewService creates a new plans service. flags may be nil, which leaves
// plan changes enabled.
func NewService(store Store, flags Flags, bus *events.EventBus, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		flags:  flags,
		bus:    bus,
		clock:  time.Now,
		logger: logger.With().Str("component", "plans").Logger(),
	}
}

// =====================================================
// PLAN CATALOGUE
// =====================================================

// ListPlans returns every plan for operators
func (s *Service) ListPlans(ctx context.Context) ([]*database.SubscriptionPlan, error) {
	list, err := s.store.ListPlans(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	return nonNil(list), nil
}

// ActivePlans returns the plans users may pick
func (s *Service) ActivePlans(ctx context.Context) ([]*database.SubscriptionPlan, error) {
	list, err := s.store.ListActivePlans(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	return nonNil(list), nil
}

func nonNil(list []*database.SubscriptionPlan) []*database.SubscriptionPlan {
	if list == nil {
		return []*database.SubscriptionPlan{}
	}
	return list
}

// CreatePlan adds a plan
func (s *Service) CreatePlan(ctx context.Context, in PlanInput, operatorID string) (*database.SubscriptionPlan, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	p := &database.SubscriptionPlan{}
	in.apply(p)
	if operatorID != "" {
		p.CreatedBy = &operatorID
	}

	if err := s.store.CreatePlan(ctx, p); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return nil, ErrPlanNameTaken
		}
		return nil, fmt.Errorf("failed to create plan: %w", err)
	}

	s.logger.Info().Int64("plan_id", p.ID).Str("name", p.Name).Str("operator_id", operatorID).Msg("Plan created")
	return p, nil
}

// UpdatePlan overwrites a plan
func (s *Service) UpdatePlan(ctx context.Context, id int64, in PlanInput) (*database.SubscriptionPlan, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	p, err := s.store.GetPlan(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	if p == nil {
		return nil, ErrPlanNotFound
	}
	in.apply(p)

	found, err := s.store.UpdatePlan(ctx, p)
	if err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return nil, ErrPlanNameTaken
		}
		return nil, fmt.Errorf("failed to update plan: %w", err)
	}
	if !found {
		return nil, ErrPlanNotFound
	}

	s.logger.Info().Int64("plan_id", id).Msg("Plan updated")
	return p, nil
}

// DeletePlan removes a plan nobody is subscribed to
func (s *Service) DeletePlan(ctx context.Context, id int64) error {
	p, err := s.store.GetPlan(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get plan: %w", err)
	}
	if p == nil {
		return ErrPlanNotFound
	}
	if p.Name == database.BasicPlanName {
		return ErrBasicPlan
	}

	n, err := s.store.CountPlanUsers(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to count plan users: %w", err)
	}
	if n > 0 {
		return ErrPlanInUse
	}

	found, err := s.store.DeletePlan(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete plan: %w", err)
	}
	if !found {
		return ErrPlanNotFound
	}

	s.logger.Info().Int64("plan_id", id).Msg("Plan deleted")
	return nil
}

// =====================================================
// USER PLANS
// =====================================================

// UserPlan returns the user's current plan, nil when none
func (s *Service) UserPlan(ctx context.Context, userID string) (*database.UserPlan, error) {
	up, err := s.store.GetUserPlan(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user plan: %w", err)
	}
	return up, nil
}

// AssignBasicPlan gives a user the basic plan for its duration
func (s *Service) AssignBasicPlan(ctx context.Context, userID string) error {
	basic, err := s.store.GetPlanByName(ctx, database.BasicPlanName)
	if err != nil {
		return fmt.Errorf("failed to get basic plan: %w", err)
	}
	if basic == nil {
		return ErrPlanNotFound
	}

	expiresAt := s.clock().AddDate(0, 0, basic.DurationDays)
	if err := s.store.AssignUserPlan(ctx, userID, basic.ID, expiresAt); err != nil {
		return fmt.Errorf("failed to assign basic plan: %w", err)
	}

	s.logger.Debug().Str("user_id", userID).Int64("plan_id", basic.ID).Msg("Basic plan assigned")
	return nil
}

// =====================================================
// PLAN CHANGE REQUESTS
// =====================================================

// RequestChange files a request to move userID onto planID
func (s *Service) RequestChange(ctx context.Context, userID string, planID int64) (*database.PlanChangeRequest, error) {
	if s.flags != nil && !s.flags.Enabled(ctx, sysconfig.KeyPlansEnabled) {
		return nil, ErrPlansDisabled
	}

	plan, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	if plan == nil {
		return nil, ErrPlanNotFound
	}
	if !plan.IsActive {
		return nil, ErrPlanInactive
	}

	current, err := s.store.GetUserPlan(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user plan: %w", err)
	}

	pr := &database.PlanChangeRequest{UserID: userID, RequestedPlanID: planID}
	if current != nil {
		if current.PlanID == planID {
			return nil, ErrSamePlan
		}
		currentID := current.PlanID
		pr.CurrentPlanID = &currentID
	}

	if err := s.store.CreatePlanChangeRequest(ctx, pr); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return nil, ErrRequestPending
		}
		return nil, fmt.Errorf("failed to create plan change request: %w", err)
	}

	s.logger.Info().
		Str("user_id", userID).
		Int64("request_id", pr.ID).
		Int64("plan_id", planID).
		Msg("Plan change requested")
	return pr, nil
}

// UserRequests returns the user's plan change requests, newest first
func (s *Service) UserRequests(ctx context.Context, userID string) ([]*database.PlanChangeRequest, error) {
	list, err := s.store.ListUserPlanChangeRequests(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list plan change requests: %w", err)
	}
	if list == nil {
		list = []*database.PlanChangeRequest{}
	}
	return list, nil
}

// PendingRequests returns every pending request, oldest first
func (s *Service) PendingRequests(ctx context.Context) ([]*database.PlanChangeRequest, error) {
	list, err := s.store.ListPendingPlanChangeRequests(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list plan change requests: %w", err)
	}
	if list == nil {
		list = []*database.PlanChangeRequest{}
	}
	return list, nil
}

// ApproveChange moves the user onto the requested plan
func (s *Service) ApproveChange(ctx context.Context, requestID int64, operatorID string) (*database.PlanChangeRequest, error) {
	pr, err := s.store.ApprovePlanChangeRequest(ctx, requestID, operatorID, s.clock())
	if err != nil {
		return nil, fmt.Errorf("failed to approve plan change: %w", err)
	}
	return s.processed(ctx, requestID, pr, operatorID)
}

// RejectChange rejects a pending request
func (s *Service) RejectChange(ctx context.Context, requestID int64, operatorID string) (*database.PlanChangeRequest, error) {
	pr, err := s.store.RejectPlanChangeRequest(ctx, requestID, operatorID)
	if err != nil {
		return nil, fmt.Errorf("failed to reject plan change: %w", err)
	}
	return s.processed(ctx, requestID, pr, operatorID)
}

func (s *Service) processed(ctx context.Context, requestID int64, pr *database.PlanChangeRequest, operatorID string) (*database.PlanChangeRequest, error) {
	if pr == nil {
		existing, err := s.store.GetPlanChangeRequest(ctx, requestID)
		if err != nil {
			return nil, fmt.Errorf("failed to get plan change request: %w", err)
		}
		if existing == nil {
			return nil, ErrRequestNotFound
		}
		return nil, ErrNotPending
	}

	s.logger.Info().
		Int64("request_id", requestID).
		Str("user_id", pr.UserID).
		Str("status", string(pr.Status)).
		Str("operator_id", operatorID).
		Msg("Plan change processed")
	s.bus.PublishPlanChangeProcessed(pr.UserID, pr.ID, string(pr.Status))
	return pr, nil
}
