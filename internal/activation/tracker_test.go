package activation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// MockStore is an in-memory Store for testing
type MockStore struct {
	mu        sync.Mutex
	rows      map[string]*Record
	failGet   error
	failWrite error

	upsertCalls int
}

func NewMockStore() *MockStore {
	return &MockStore{rows: make(map[string]*Record)}
}

func (m *MockStore) GetActivation(ctx context.Context, userID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet != nil {
		return nil, m.failGet
	}
	rec, ok := m.rows[userID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *MockStore) UpsertActivation(ctx context.Context, userID string, merge MergeFunc) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertCalls++
	if m.failWrite != nil {
		return nil, m.failWrite
	}
	var current *Record
	if rec, ok := m.rows[userID]; ok {
		cp := *rec
		current = &cp
	}
	next := merge(current)
	m.rows[userID] = next
	cp := *next
	return &cp, nil
}

func (m *MockStore) ListActivations(ctx context.Context) (map[string]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*Record, len(m.rows))
	for k, v := range m.rows {
		cp := *v
		out[k] = &cp
	}
	return out, nil
}

func (m *MockStore) row(userID string) *Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[userID]
}

// fakeClock is a settable time source
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func intPtr(v int) *int { return &v }

func newTestTracker(store Store, clock *fakeClock, opts ...Option) *Tracker {
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewTracker(store, zerolog.Nop(), opts...)
}

func TestGetActivationDefaultForUnknownUser(t *testing.T) {
	store := NewMockStore()
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	tracker := newTestTracker(store, clock)

	state, err := tracker.GetActivation(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if state.IsActive {
		t.Error("Expected inactive default state")
	}
	if state.DaysRemaining != 0 {
		t.Errorf("Expected 0 days remaining, got %d", state.DaysRemaining)
	}
	if state.TotalDurationDays != DefaultDurationDays {
		t.Errorf("Expected total %d, got %d", DefaultDurationDays, state.TotalDurationDays)
	}
}

func TestGetActivationStoreFailureReturnsDefault(t *testing.T) {
	store := NewMockStore()
	store.failGet = errors.New("connection refused")
	clock := &fakeClock{now: time.Now()}
	tracker := newTestTracker(store, clock)

	state, err := tracker.GetActivation(context.Background(), "user-1")
	if err == nil {
		t.Fatal("Expected error to be reported")
	}
	if state == nil || state.IsActive || state.DaysRemaining != 0 || state.TotalDurationDays != DefaultDurationDays {
		t.Errorf("Expected default state on failure, got %+v", state)
	}
}

func TestActivationCountdown(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name     string
		elapsed  time.Duration
		expected int
	}{
		{"fresh", 0, 30},
		{"under one day", 23*time.Hour + 59*time.Minute, 30},
		{"exactly one day", 24 * time.Hour, 29},
		{"ten and a half days", 10*24*time.Hour + 12*time.Hour, 20},
		{"exactly expired", 30 * 24 * time.Hour, 0},
		{"long expired", 45 * 24 * time.Hour, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMockStore()
			clock := &fakeClock{now: start}
			tracker := newTestTracker(store, clock)

			if _, err := tracker.SetActivation(context.Background(), "user-1", true, intPtr(30)); err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			clock.Advance(tt.elapsed)

			state, err := tracker.GetActivation(context.Background(), "user-1")
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if state.DaysRemaining != tt.expected {
				t.Errorf("Expected %d days remaining, got %d", tt.expected, state.DaysRemaining)
			}
			if !state.IsActive {
				t.Error("Expected expired countdown to stay active")
			}
		})
	}
}

func TestPauseBanksRemainingDays(t *testing.T) {
	store := NewMockStore()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	tracker := newTestTracker(store, clock)
	ctx := context.Background()

	if _, err := tracker.SetActivation(ctx, "user-1", true, intPtr(30)); err != nil {
		t.Fatalf("activate: %v", err)
	}
	clock.Advance(10 * 24 * time.Hour)

	state, err := tracker.SetActivation(ctx, "user-1", false, nil)
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if state.IsActive {
		t.Error("Expected inactive after deactivate")
	}
	if state.DaysRemaining != 20 {
		t.Errorf("Expected 20 banked days, got %d", state.DaysRemaining)
	}

	row := store.row("user-1")
	if row.ActivatedAt != nil {
		t.Error("Expected activated_at to be cleared on pause")
	}
	if row.PausedDaysRemaining == nil || *row.PausedDaysRemaining != 20 {
		t.Errorf("Expected paused_days_remaining 20, got %v", row.PausedDaysRemaining)
	}
	if row.LastPauseDate == nil || !row.LastPauseDate.Equal(clock.now) {
		t.Errorf("Expected last_pause_date %v, got %v", clock.now, row.LastPauseDate)
	}

	// Time spent paused must not consume the bank
	clock.Advance(100 * 24 * time.Hour)
	state, _ = tracker.GetActivation(ctx, "user-1")
	if state.DaysRemaining != 20 {
		t.Errorf("Expected bank to hold at 20 while paused, got %d", state.DaysRemaining)
	}
}

func TestResumeUsesBankOverSuppliedDays(t *testing.T) {
	store := NewMockStore()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	tracker := newTestTracker(store, clock)
	ctx := context.Background()

	tracker.SetActivation(ctx, "user-1", true, intPtr(30))
	clock.Advance(10 * 24 * time.Hour)
	tracker.SetActivation(ctx, "user-1", false, nil)
	clock.Advance(5 * 24 * time.Hour)

	state, err := tracker.SetActivation(ctx, "user-1", true, intPtr(45))
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if state.TotalDurationDays != 20 {
		t.Errorf("Expected total 20 from bank, got %d", state.TotalDurationDays)
	}
	if state.DaysRemaining != 20 {
		t.Errorf("Expected 20 days remaining, got %d", state.DaysRemaining)
	}

	row := store.row("user-1")
	if row.PausedDaysRemaining != nil {
		t.Errorf("Expected bank to be cleared, got %d", *row.PausedDaysRemaining)
	}
	if row.ActivatedAt == nil || !row.ActivatedAt.Equal(clock.now) {
		t.Errorf("Expected activated_at %v, got %v", clock.now, row.ActivatedAt)
	}
}

func TestResumePreferExplicitDaysPolicy(t *testing.T) {
	store := NewMockStore()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	tracker := newTestTracker(store, clock, WithPolicy(PreferExplicitDays))
	ctx := context.Background()

	tracker.SetActivation(ctx, "user-1", true, intPtr(30))
	clock.Advance(10 * 24 * time.Hour)
	tracker.SetActivation(ctx, "user-1", false, nil)

	state, err := tracker.SetActivation(ctx, "user-1", true, intPtr(45))
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if state.TotalDurationDays != 45 {
		t.Errorf("Expected explicit 45 days to win, got %d", state.TotalDurationDays)
	}

	// Without explicit days the bank still applies
	clock.Advance(24 * time.Hour)
	tracker.SetActivation(ctx, "user-1", false, nil)
	state, _ = tracker.SetActivation(ctx, "user-1", true, nil)
	if state.TotalDurationDays != 44 {
		t.Errorf("Expected bank of 44 days, got %d", state.TotalDurationDays)
	}
}

func TestFreshActivation(t *testing.T) {
	tests := []struct {
		name     string
		days     *int
		expected int
	}{
		{"explicit days", intPtr(45), 45},
		{"default days", nil, DefaultDurationDays},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMockStore()
			clock := &fakeClock{now: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}
			tracker := newTestTracker(store, clock)

			state, err := tracker.SetActivation(context.Background(), "user-1", true, tt.days)
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if !state.IsActive {
				t.Error("Expected active state")
			}
			if state.TotalDurationDays != tt.expected || state.DaysRemaining != tt.expected {
				t.Errorf("Expected total and remaining %d, got %d/%d", tt.expected, state.TotalDurationDays, state.DaysRemaining)
			}
		})
	}
}

func TestZeroBankDoesNotResume(t *testing.T) {
	store := NewMockStore()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	tracker := newTestTracker(store, clock)
	ctx := context.Background()

	tracker.SetActivation(ctx, "user-1", true, intPtr(5))
	clock.Advance(9 * 24 * time.Hour)
	state, _ := tracker.SetActivation(ctx, "user-1", false, nil)
	if state.DaysRemaining != 0 {
		t.Fatalf("Expected empty bank, got %d", state.DaysRemaining)
	}

	state, _ = tracker.SetActivation(ctx, "user-1", true, intPtr(60))
	if state.TotalDurationDays != 60 {
		t.Errorf("Expected supplied 60 days with an empty bank, got %d", state.TotalDurationDays)
	}
}

func TestDeactivateWithoutRow(t *testing.T) {
	store := NewMockStore()
	clock := &fakeClock{now: time.Now()}
	tracker := newTestTracker(store, clock)

	state, err := tracker.SetActivation(context.Background(), "user-1", false, nil)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if state.IsActive || state.DaysRemaining != 0 || state.TotalDurationDays != DefaultDurationDays {
		t.Errorf("Unexpected state %+v", state)
	}

	row := store.row("user-1")
	if row == nil {
		t.Fatal("Expected a row to be inserted")
	}
	if row.PausedDaysRemaining != nil || row.LastPauseDate != nil || row.ActivatedAt != nil {
		t.Errorf("Expected no bank or dates on a fresh inactive row, got %+v", row)
	}
}

func TestDoubleDeactivateKeepsBank(t *testing.T) {
	store := NewMockStore()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	tracker := newTestTracker(store, clock)
	ctx := context.Background()

	tracker.SetActivation(ctx, "user-1", true, intPtr(30))
	clock.Advance(3 * 24 * time.Hour)
	tracker.SetActivation(ctx, "user-1", false, nil)
	clock.Advance(3 * 24 * time.Hour)

	state, err := tracker.SetActivation(ctx, "user-1", false, nil)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if state.DaysRemaining != 27 {
		t.Errorf("Expected bank of 27 to survive, got %d", state.DaysRemaining)
	}
}

func TestNegativeClockSkewCountsAsZero(t *testing.T) {
	store := NewMockStore()
	clock := &fakeClock{now: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)}
	tracker := newTestTracker(store, clock)
	ctx := context.Background()

	tracker.SetActivation(ctx, "user-1", true, intPtr(30))
	clock.Advance(-48 * time.Hour)

	state, _ := tracker.GetActivation(ctx, "user-1")
	if state.DaysRemaining != 30 {
		t.Errorf("Expected 30 days with activation in the future, got %d", state.DaysRemaining)
	}

	state, _ = tracker.SetActivation(ctx, "user-1", false, nil)
	if state.DaysRemaining != 30 {
		t.Errorf("Expected full bank of 30, got %d", state.DaysRemaining)
	}
}

func TestSetActivationRejectsInvalidDays(t *testing.T) {
	store := NewMockStore()
	tracker := newTestTracker(store, &fakeClock{now: time.Now()})

	for _, days := range []int{0, -5} {
		_, err := tracker.SetActivation(context.Background(), "user-1", true, intPtr(days))
		if !errors.Is(err, ErrInvalidDuration) {
			t.Errorf("Expected ErrInvalidDuration for %d, got %v", days, err)
		}
	}
	if store.upsertCalls != 0 {
		t.Errorf("Expected no writes, got %d", store.upsertCalls)
	}
}

func TestSetActivationWriteFailureLeavesRow(t *testing.T) {
	store := NewMockStore()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	tracker := newTestTracker(store, clock)
	ctx := context.Background()

	tracker.SetActivation(ctx, "user-1", true, intPtr(30))
	before := *store.row("user-1")

	store.failWrite = errors.New("write failed")
	clock.Advance(5 * 24 * time.Hour)
	if _, err := tracker.SetActivation(ctx, "user-1", false, nil); err == nil {
		t.Fatal("Expected write error to be returned")
	}

	after := store.row("user-1")
	if after.IsActive != before.IsActive || !after.ActivatedAt.Equal(*before.ActivatedAt) {
		t.Errorf("Expected row to be untouched, got %+v", after)
	}
}

type mockUserLister struct {
	users []UserSummary
}

func (m *mockUserLister) ListApprovedInvestors(ctx context.Context) ([]UserSummary, error) {
	return m.users, nil
}

func (m *mockUserLister) GetApprovedInvestor(ctx context.Context, userID string) (*UserSummary, error) {
	for _, u := range m.users {
		if u.ID == userID {
			cp := u
			return &cp, nil
		}
	}
	return nil, nil
}

func TestSetActivationRejectsUnknownUser(t *testing.T) {
	store := NewMockStore()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	users := &mockUserLister{users: []UserSummary{{ID: "a", Email: "a@example.com"}}}
	tracker := newTestTracker(store, clock, WithUserLister(users))
	ctx := context.Background()

	for _, id := range []string{"missing", "not-a-uuid", "operator"} {
		if _, err := tracker.SetActivation(ctx, id, true, intPtr(10)); !errors.Is(err, ErrUserNotFound) {
			t.Errorf("Expected ErrUserNotFound for %q, got %v", id, err)
		}
		if _, err := tracker.SetActivation(ctx, id, false, nil); !errors.Is(err, ErrUserNotFound) {
			t.Errorf("Expected ErrUserNotFound on deactivate for %q, got %v", id, err)
		}
	}
	if store.upsertCalls != 0 {
		t.Errorf("Expected no writes for unknown users, got %d", store.upsertCalls)
	}

	if _, err := tracker.SetActivation(ctx, "a", true, intPtr(10)); err != nil {
		t.Errorf("Expected approved investor to be activated, got %v", err)
	}
}

func TestListForOperator(t *testing.T) {
	store := NewMockStore()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	users := &mockUserLister{users: []UserSummary{
		{ID: "a", Email: "a@example.com"},
		{ID: "b", Email: "b@example.com"},
	}}
	tracker := newTestTracker(store, clock, WithUserLister(users))
	ctx := context.Background()

	tracker.SetActivation(ctx, "a", true, intPtr(10))
	clock.Advance(2 * 24 * time.Hour)

	list, err := tracker.ListForOperator(ctx)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(list))
	}
	if list[0].State.DaysRemaining != 8 || !list[0].State.IsActive {
		t.Errorf("Expected user a active with 8 days, got %+v", list[0].State)
	}
	if list[1].State.IsActive || list[1].State.TotalDurationDays != DefaultDurationDays {
		t.Errorf("Expected default state for user b, got %+v", list[1].State)
	}
}
