package activation

import (
	"context"
	"fmt"
	"time"

	"bot-dashboard/internal/events"

	"github.com/rs/zerolog"
)

// Tracker owns the bot activation countdown for every user
type Tracker struct {
	store  Store
	users  UserLister
	bus    *events.EventBus
	clock  Clock
	policy ResumePolicy
	logger zerolog.Logger
}

// Option configures a Tracker
type Option func(*Tracker)

// WithClock overrides the time source
func WithClock(clock Clock) Option {
	return func(t *Tracker) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// WithPolicy sets the resume policy
func WithPolicy(policy ResumePolicy) Option {
	return func(t *Tracker) {
		t.policy = policy
	}
}

// WithEventBus publishes activation changes on bus
func WithEventBus(bus *events.EventBus) Option {
	return func(t *Tracker) {
		t.bus = bus
	}
}

// WithUserLister enables the operator listing and restricts SetActivation to
// approved investors
func WithUserLister(users UserLister) Option {
	return func(t *Tracker) {
		t.users = users
	}
}

// NewTracker creates a new activation tracker
func NewTracker(store Store, logger zerolog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		store:  store,
		clock:  time.Now,
		policy: ResumeBanked,
		logger: logger.With().Str("component", "activation_tracker").Logger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Policy returns the configured resume policy
func (t *Tracker) Policy() ResumePolicy {
	return t.policy
}

// SetActivation activates or deactivates the bot for userID. days is only
// consulted on activation and must be positive when supplied.
func (t *Tracker) SetActivation(ctx context.Context, userID string, activate bool, days *int) (*State, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}
	if days != nil && *days <= 0 {
		return nil, ErrInvalidDuration
	}
	if t.users != nil {
		user, err := t.users.GetApprovedInvestor(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up user: %w", err)
		}
		if user == nil {
			return nil, ErrUserNotFound
		}
	}

	now := t.clock()
	var merge MergeFunc
	if activate {
		merge = ApplyActivate(userID, now, days, t.policy)
	} else {
		merge = ApplyDeactivate(userID, now)
	}

	rec, err := t.store.UpsertActivation(ctx, userID, merge)
	if err != nil {
		t.logger.Error().
			Err(err).
			Str("user_id", userID).
			Bool("activate", activate).
			Msg("Failed to persist bot activation")
		return nil, fmt.Errorf("failed to update bot activation: %w", err)
	}

	state := ToState(rec, now)
	t.logger.Info().
		Str("user_id", userID).
		Bool("is_active", state.IsActive).
		Int("days_remaining", state.DaysRemaining).
		Int("total_duration_days", state.TotalDurationDays).
		Msg("Bot activation updated")

	t.bus.PublishActivationChanged(userID, state.IsActive, state.DaysRemaining, state.TotalDurationDays)
	return state, nil
}

// GetActivation returns the current state for userID. A user without a row
// gets the default state. On a store failure the default state is returned
// together with the error so callers can still render something.
func (t *Tracker) GetActivation(ctx context.Context, userID string) (*State, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}

	rec, err := t.store.GetActivation(ctx, userID)
	if err != nil {
		t.logger.Warn().Err(err).Str("user_id", userID).Msg("Failed to load bot activation")
		return DefaultState(userID), fmt.Errorf("failed to get bot activation: %w", err)
	}
	if rec == nil {
		return DefaultState(userID), nil
	}
	return ToState(rec, t.clock()), nil
}

// ListForOperator returns every approved investor with their activation state
func (t *Tracker) ListForOperator(ctx context.Context) ([]UserActivation, error) {
	if t.users == nil {
		return nil, fmt.Errorf("activation tracker has no user lister")
	}

	users, err := t.users.ListApprovedInvestors(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	records, err := t.store.ListActivations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list bot activations: %w", err)
	}

	now := t.clock()
	result := make([]UserActivation, 0, len(users))
	for _, u := range users {
		state := DefaultState(u.ID)
		if rec, ok := records[u.ID]; ok {
			state = ToState(rec, now)
		}
		result = append(result, UserActivation{
			UserID:    u.ID,
			Email:     u.Email,
			FirstName: u.FirstName,
			LastName:  u.LastName,
			State:     state,
		})
	}
	return result, nil
}
