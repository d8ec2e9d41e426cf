package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bot-dashboard/internal/activation"
	"bot-dashboard/internal/auth"
	"bot-dashboard/internal/cache"
	"bot-dashboard/internal/database"
	"bot-dashboard/internal/funds"
	"bot-dashboard/internal/plans"

	"github.com/rs/zerolog"
)

// ==================== FAKES ====================

type fakeActivation struct {
	state    *activation.State
	err      error
	lastUser string
	lastOn   bool
	lastDays *int
}

func (f *fakeActivation) SetActivation(ctx context.Context, userID string, activate bool, days *int) (*activation.State, error) {
	f.lastUser, f.lastOn, f.lastDays = userID, activate, days
	if days != nil && *days <= 0 {
		return nil, activation.ErrInvalidDuration
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.state, nil
}

func (f *fakeActivation) GetActivation(ctx context.Context, userID string) (*activation.State, error) {
	if f.err != nil {
		return activation.DefaultState(userID), f.err
	}
	return f.state, nil
}

func (f *fakeActivation) ListForOperator(ctx context.Context) ([]activation.UserActivation, error) {
	return []activation.UserActivation{{UserID: "u1", State: f.state}}, nil
}

type fakeConfig struct {
	flags map[string]bool
}

func (f *fakeConfig) Enabled(ctx context.Context, key string) bool {
	v, ok := f.flags[key]
	return !ok || v
}

func (f *fakeConfig) Get(ctx context.Context, key string) (*database.SystemConfig, error) {
	return &database.SystemConfig{Key: key, Value: f.Enabled(ctx, key)}, nil
}

func (f *fakeConfig) List(ctx context.Context) ([]*database.SystemConfig, error) {
	return []*database.SystemConfig{}, nil
}

func (f *fakeConfig) Set(ctx context.Context, key string, value bool, operatorID string) error {
	f.flags[key] = value
	return nil
}

// fakeFunds overrides the calls under test; anything else panics
type fakeFunds struct {
	FundsService
	investErr error
}

func (f *fakeFunds) Invest(ctx context.Context, userID string, exchange database.Exchange, amount float64) (*database.UserCapital, error) {
	if f.investErr != nil {
		return nil, f.investErr
	}
	return &database.UserCapital{UserID: userID, Exchange: exchange, CapitalAmount: amount, IsConnected: true}, nil
}

type fakePlans struct {
	PlanService
	err error
}

func (f *fakePlans) RequestChange(ctx context.Context, userID string, planID int64) (*database.PlanChangeRequest, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &database.PlanChangeRequest{ID: 1, UserID: userID, RequestedPlanID: planID, Status: database.RequestPending}, nil
}

type fakeHealth struct{ err error }

func (f fakeHealth) HealthCheck(ctx context.Context) error { return f.err }

type fakeCacheStats struct{}

func (fakeCacheStats) GetStats() cache.Stats { return cache.Stats{Healthy: false, FailureCount: 3} }

// ==================== HELPERS ====================

func newTestServer(t *testing.T, svc Services) *Server {
	t.Helper()
	authSvc, err := auth.NewService(nil, auth.Config{JWTSecret: "test-secret"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}
	svc.Auth = authSvc
	if svc.Activation == nil {
		svc.Activation = &fakeActivation{}
	}
	if svc.Config == nil {
		svc.Config = &fakeConfig{flags: map[string]bool{}}
	}
	if svc.Funds == nil {
		svc.Funds = &fakeFunds{}
	}
	if svc.Plans == nil {
		svc.Plans = &fakePlans{}
	}

	s, err := NewServer(ServerConfig{ProductionMode: true, AuthRateLimit: 1}, svc, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func tokenFor(t *testing.T, s *Server, claims auth.UserClaims) string {
	t.Helper()
	token, err := s.svc.Auth.GetJWTManager().GenerateAccessToken(claims)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return token
}

func doRequest(s *Server, method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v (%s)", err, w.Body.String())
	}
	return response
}

var (
	investor = auth.UserClaims{UserID: "user-1", Email: "user@example.com"}
	operator = auth.UserClaims{UserID: "op-1", Email: "op@example.com", IsOperator: true}
)

// ==================== TESTS ====================

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, Services{Health: fakeHealth{}})

	w := doRequest(s, http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	response := decode(t, w)
	if response["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got '%v'", response["status"])
	}
	if _, ok := response["cache"]; ok {
		t.Error("Expected no cache section without redis")
	}

	s = newTestServer(t, Services{Health: fakeHealth{}, Cache: fakeCacheStats{}})
	w = doRequest(s, http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected degraded redis to keep status 200, got %d", w.Code)
	}
	stats, ok := decode(t, w)["cache"].(map[string]interface{})
	if !ok || stats["healthy"] != false {
		t.Errorf("Expected unhealthy cache stats, got %v", stats)
	}

	s = newTestServer(t, Services{Health: fakeHealth{err: errors.New("db down")}})
	if w := doRequest(s, http.MethodGet, "/health", "", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t, Services{})

	if w := doRequest(s, http.MethodGet, "/api/bot/activation", "", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", w.Code)
	}
	if w := doRequest(s, http.MethodGet, "/api/bot/activation", "not-a-jwt", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for bad token, got %d", w.Code)
	}
}

func TestTemporaryPasswordBlocked(t *testing.T) {
	s := newTestServer(t, Services{})
	token := tokenFor(t, s, auth.UserClaims{UserID: "user-1", MustChangePassword: true})

	if w := doRequest(s, http.MethodGet, "/api/bot/activation", token, ""); w.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", w.Code)
	}
}

func TestGetActivation(t *testing.T) {
	act := &fakeActivation{state: &activation.State{UserID: "user-1", IsActive: true, DaysRemaining: 12, TotalDurationDays: 30}}
	s := newTestServer(t, Services{Activation: act})
	token := tokenFor(t, s, investor)

	w := doRequest(s, http.MethodGet, "/api/bot/activation", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	data := decode(t, w)["data"].(map[string]interface{})
	if data["days_remaining"] != float64(12) || data["is_active"] != true {
		t.Errorf("Unexpected activation %v", data)
	}
}

func TestGetActivationFallsBackToDefault(t *testing.T) {
	act := &fakeActivation{err: errors.New("db down")}
	s := newTestServer(t, Services{Activation: act})

	w := doRequest(s, http.MethodGet, "/api/bot/activation", tokenFor(t, s, investor), "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	data := decode(t, w)["data"].(map[string]interface{})
	if data["is_active"] != false || data["days_remaining"] != float64(0) || data["total_duration_days"] != float64(30) {
		t.Errorf("Expected default state, got %v", data)
	}
}

func TestSetActivationRequiresOperator(t *testing.T) {
	s := newTestServer(t, Services{})

	w := doRequest(s, http.MethodPut, "/api/operator/activations/user-1", tokenFor(t, s, investor), `{"activate":true}`)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", w.Code)
	}
}

func TestSetActivation(t *testing.T) {
	act := &fakeActivation{state: &activation.State{UserID: "user-1", IsActive: true, DaysRemaining: 45, TotalDurationDays: 45}}
	s := newTestServer(t, Services{Activation: act})
	token := tokenFor(t, s, operator)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"activate with days", `{"activate":true,"days":45}`, http.StatusOK},
		{"deactivate", `{"activate":false}`, http.StatusOK},
		{"zero days", `{"activate":true,"days":0}`, http.StatusBadRequest},
		{"negative days", `{"activate":true,"days":-3}`, http.StatusBadRequest},
		{"missing activate", `{"days":10}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(s, http.MethodPut, "/api/operator/activations/user-1", token, tt.body)
			if w.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d (%s)", tt.wantStatus, w.Code, w.Body.String())
			}
		})
	}

	doRequest(s, http.MethodPut, "/api/operator/activations/user-9", token, `{"activate":true,"days":45}`)
	if act.lastUser != "user-9" || !act.lastOn || act.lastDays == nil || *act.lastDays != 45 {
		t.Errorf("Unexpected call user=%s on=%v days=%v", act.lastUser, act.lastOn, act.lastDays)
	}
}

func TestSetActivationStoreFailure(t *testing.T) {
	act := &fakeActivation{err: errors.New("connection reset")}
	s := newTestServer(t, Services{Activation: act})

	w := doRequest(s, http.MethodPut, "/api/operator/activations/user-1", tokenFor(t, s, operator), `{"activate":true}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Expected status 500, got %d", w.Code)
	}
	if response := decode(t, w); response["success"] != false {
		t.Errorf("Expected success false, got %v", response["success"])
	}
}

func TestSetActivationUnknownUser(t *testing.T) {
	act := &fakeActivation{err: activation.ErrUserNotFound}
	s := newTestServer(t, Services{Activation: act})

	w := doRequest(s, http.MethodPut, "/api/operator/activations/not-a-uuid", tokenFor(t, s, operator), `{"activate":true,"days":10}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected status 404, got %d", w.Code)
	}
}

func TestInvestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"ok", nil, http.StatusCreated},
		{"exists", funds.ErrCapitalExists, http.StatusConflict},
		{"fraction", funds.ErrWholeAmount, http.StatusBadRequest},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, Services{Funds: &fakeFunds{investErr: tt.err}})
			w := doRequest(s, http.MethodPost, "/api/capital", tokenFor(t, s, investor), `{"exchange":"bybit","amount":500}`)
			if w.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, w.Code)
			}
		})
	}
}

func TestRequestPlanChange(t *testing.T) {
	s := newTestServer(t, Services{Plans: &fakePlans{}})
	token := tokenFor(t, s, investor)

	if w := doRequest(s, http.MethodPost, "/api/plans/change-requests", token, `{"plan_id":3}`); w.Code != http.StatusCreated {
		t.Errorf("Expected status 201, got %d", w.Code)
	}

	s = newTestServer(t, Services{Plans: &fakePlans{err: plans.ErrPlansDisabled}})
	if w := doRequest(s, http.MethodPost, "/api/plans/change-requests", tokenFor(t, s, investor), `{"plan_id":3}`); w.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", w.Code)
	}
}

func TestGetFlag(t *testing.T) {
	s := newTestServer(t, Services{Config: &fakeConfig{flags: map[string]bool{"plans_enabled": false}}})
	token := tokenFor(t, s, investor)

	data := decode(t, doRequest(s, http.MethodGet, "/api/config/plans_enabled", token, ""))["data"].(map[string]interface{})
	if data["value"] != false {
		t.Errorf("Expected plans_enabled false, got %v", data["value"])
	}

	data = decode(t, doRequest(s, http.MethodGet, "/api/config/announcements_enabled", token, ""))["data"].(map[string]interface{})
	if data["value"] != true {
		t.Errorf("Expected missing flag to read true, got %v", data["value"])
	}
}

func TestParseIDRejectsGarbage(t *testing.T) {
	s := newTestServer(t, Services{})
	w := doRequest(s, http.MethodPost, "/api/operator/deposits/abc/approve", tokenFor(t, s, operator), "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	if !rl.Allow("ip") || !rl.Allow("ip") {
		t.Fatal("Expected first two requests allowed")
	}
	if rl.Allow("ip") {
		t.Error("Expected third request blocked")
	}
	if !rl.Allow("other") {
		t.Error("Expected other key allowed")
	}

	now = now.Add(61 * time.Second)
	if !rl.Allow("ip") {
		t.Error("Expected request allowed after window")
	}
}

func TestAuthRoutesRateLimited(t *testing.T) {
	s := newTestServer(t, Services{})

	// An invalid body is rejected before the service is called
	if w := doRequest(s, http.MethodPost, "/api/auth/login", "", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
	if w := doRequest(s, http.MethodPost, "/api/auth/login", "", `{}`); w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected status 429, got %d", w.Code)
	}
}

func TestParseOrigins(t *testing.T) {
	got := ParseOrigins(" http://a.test, ,http://b.test ")
	if len(got) != 2 || got[0] != "http://a.test" || got[1] != "http://b.test" {
		t.Errorf("Unexpected origins %v", got)
	}
}
