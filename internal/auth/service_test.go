package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"bot-dashboard/internal/database"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// MockStore is an in-memory Store
type MockStore struct {
	mu        sync.Mutex
	users     map[string]*database.User
	sessions  map[string]*database.UserSession
	questions map[int]string
	nextID    int
	failWrite error
}

func NewMockStore() *MockStore {
	return &MockStore{
		users:     make(map[string]*database.User),
		sessions:  make(map[string]*database.UserSession),
		questions: map[int]string{1: "What was the name of your first pet?"},
	}
}

func (m *MockStore) id(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s-%d", prefix, m.nextID)
}

func (m *MockStore) CreateUser(ctx context.Context, user *database.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite != nil {
		return m.failWrite
	}
	for _, u := range m.users {
		if strings.EqualFold(u.Email, user.Email) {
			return database.ErrDuplicate
		}
	}
	user.ID = m.id("user")
	user.CreatedAt = time.Now()
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *MockStore) GetUserByID(ctx context.Context, userID string) (*database.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (m *MockStore) GetUserByEmail(ctx context.Context, email string) (*database.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MockStore) EmailExists(ctx context.Context, email string) (bool, error) {
	u, err := m.GetUserByEmail(ctx, email)
	return u != nil, err
}

func (m *MockStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string, temporary bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return errors.New("no such user")
	}
	u.PasswordHash = passwordHash
	u.IsTemporaryPassword = temporary
	return nil
}

func (m *MockStore) UpdateUserLastLogin(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		now := time.Now()
		u.LastLoginAt = &now
	}
	return nil
}

func (m *MockStore) CreateSession(ctx context.Context, session *database.UserSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session.ID = m.id("session")
	session.CreatedAt = time.Now().Add(time.Duration(m.nextID) * time.Millisecond)
	cp := *session
	m.sessions[session.ID] = &cp
	return nil
}

func (m *MockStore) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*database.UserSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.RefreshTokenHash == tokenHash {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MockStore) RevokeSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok && s.RevokedAt == nil {
		now := time.Now()
		s.RevokedAt = &now
	}
	return nil
}

func (m *MockStore) RevokeAllUserSessions(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, s := range m.sessions {
		if s.UserID == userID && s.RevokedAt == nil {
			s.RevokedAt = &now
		}
	}
	return nil
}

func (m *MockStore) activeSessions(userID string) []*database.UserSession {
	var out []*database.UserSession
	for _, s := range m.sessions {
		if s.UserID == userID && s.RevokedAt == nil {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *MockStore) CountActiveSessions(ctx context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.activeSessions(userID)), nil
}

func (m *MockStore) RevokeOldestSession(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	active := m.activeSessions(userID)
	if len(active) > 0 {
		now := time.Now()
		active[0].RevokedAt = &now
	}
	return nil
}

func (m *MockStore) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.sessions {
		if s.ExpiresAt.Before(time.Now()) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func (m *MockStore) ListSecretQuestions(ctx context.Context) ([]database.SecretQuestion, error) {
	var out []database.SecretQuestion
	for id, q := range m.questions {
		out = append(out, database.SecretQuestion{ID: id, Question: q})
	}
	return out, nil
}

func (m *MockStore) GetSecretQuestion(ctx context.Context, id int) (*database.SecretQuestion, error) {
	if q, ok := m.questions[id]; ok {
		return &database.SecretQuestion{ID: id, Question: q}, nil
	}
	return nil, nil
}

type mockPlans struct {
	assigned []string
	err      error
}

func (p *mockPlans) AssignBasicPlan(ctx context.Context, userID string) error {
	p.assigned = append(p.assigned, userID)
	return p.err
}

func newTestService(t *testing.T) (*Service, *MockStore) {
	t.Helper()
	store := NewMockStore()
	svc, err := NewService(store, Config{
		JWTSecret:          "test-secret",
		BcryptCost:         bcrypt.MinCost,
		MaxSessionsPerUser: 2,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	return svc, store
}

func validRegistration(email string) RegisterRequest {
	return RegisterRequest{
		Email:            email,
		Password:         "Password1",
		FirstName:        "Ada",
		LastName:         "Lovelace",
		SecretQuestionID: 1,
		SecretAnswer:     " Fluffy ",
	}
}

func registerApproved(t *testing.T, svc *Service, store *MockStore, email string) *database.User {
	t.Helper()
	user, err := svc.Register(context.Background(), validRegistration(email))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	store.users[user.ID].ApprovalStatus = database.ApprovalApproved
	return user
}

func TestNewServiceRequiresSecret(t *testing.T) {
	if _, err := NewService(NewMockStore(), Config{}, zerolog.Nop()); err == nil {
		t.Error("Expected error for empty JWT secret")
	}
}

func TestRegister(t *testing.T) {
	svc, store := newTestService(t)
	plans := &mockPlans{}
	svc.SetPlanAssigner(plans)

	user, err := svc.Register(context.Background(), validRegistration("ada@example.com"))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if user.ApprovalStatus != database.ApprovalPending {
		t.Errorf("Expected pending, got %s", user.ApprovalStatus)
	}
	if user.SecretQuestionID == nil || *user.SecretQuestionID != 1 {
		t.Errorf("Expected question 1, got %v", user.SecretQuestionID)
	}
	stored := store.users[user.ID]
	if stored.PasswordHash == "Password1" || stored.SecretAnswerHash == "" {
		t.Error("Expected hashed credentials")
	}
	if len(plans.assigned) != 1 || plans.assigned[0] != user.ID {
		t.Errorf("Expected basic plan assigned to %s, got %v", user.ID, plans.assigned)
	}
}

func TestRegisterPlanFailureIsNotFatal(t *testing.T) {
	svc, _ := newTestService(t)
	svc.SetPlanAssigner(&mockPlans{err: errors.New("no basic plan")})

	if _, err := svc.Register(context.Background(), validRegistration("ada@example.com")); err != nil {
		t.Errorf("Expected registration to succeed, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, validRegistration("taken@example.com")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	weak := validRegistration("weak@example.com")
	weak.Password = "password"
	badQuestion := validRegistration("q@example.com")
	badQuestion.SecretQuestionID = 99

	tests := []struct {
		name string
		req  RegisterRequest
		code string
	}{
		{"duplicate email", validRegistration("TAKEN@example.com"), ErrEmailExists.Code},
		{"weak password", weak, ErrWeakPassword.Code},
		{"unknown question", badQuestion, ErrInvalidQuestion.Code},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tt.req)
			var authErr AuthError
			if !errors.As(err, &authErr) || authErr.Code != tt.code {
				t.Errorf("Expected %s, got %v", tt.code, err)
			}
		})
	}
}

func TestLoginApprovalGate(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	user, _ := svc.Register(ctx, validRegistration("ada@example.com"))
	login := LoginRequest{Email: "ada@example.com", Password: "Password1"}

	if _, err := svc.Login(ctx, login, "127.0.0.1", "test"); err != ErrPendingApproval {
		t.Errorf("Expected ErrPendingApproval, got %v", err)
	}

	store.users[user.ID].ApprovalStatus = database.ApprovalRejected
	if _, err := svc.Login(ctx, login, "127.0.0.1", "test"); err != ErrAccountRejected {
		t.Errorf("Expected ErrAccountRejected, got %v", err)
	}

	store.users[user.ID].ApprovalStatus = database.ApprovalApproved
	resp, err := svc.Login(ctx, login, "127.0.0.1", "test")
	if err != nil {
		t.Fatalf("Expected login to succeed, got %v", err)
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		t.Error("Expected tokens")
	}
	if resp.User.ID != user.ID {
		t.Errorf("Expected user %s, got %s", user.ID, resp.User.ID)
	}

	if _, err := svc.Login(ctx, LoginRequest{Email: "ada@example.com", Password: "nope"}, "", ""); err != ErrInvalidCredentials {
		t.Errorf("Expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(ctx, LoginRequest{Email: "ghost@example.com", Password: "Password1"}, "", ""); err != ErrInvalidCredentials {
		t.Errorf("Expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestLoginUpgradesLegacyHash(t *testing.T) {
	svc, store := newTestService(t)
	sum := sha256.Sum256([]byte("Legacy123"))
	user := &database.User{
		Email:          "old@example.com",
		PasswordHash:   hex.EncodeToString(sum[:]),
		ApprovalStatus: database.ApprovalApproved,
	}
	store.CreateUser(context.Background(), user)

	if _, err := svc.Login(context.Background(), LoginRequest{Email: "old@example.com", Password: "Legacy123"}, "", ""); err != nil {
		t.Fatalf("Expected legacy login to succeed, got %v", err)
	}
	if !strings.HasPrefix(store.users[user.ID].PasswordHash, "$2") {
		t.Errorf("Expected bcrypt hash after upgrade, got %s", store.users[user.ID].PasswordHash)
	}
}

func TestLoginSessionCap(t *testing.T) {
	svc, store := newTestService(t)
	user := registerApproved(t, svc, store, "ada@example.com")
	login := LoginRequest{Email: "ada@example.com", Password: "Password1"}

	for i := 0; i < 3; i++ {
		if _, err := svc.Login(context.Background(), login, "", ""); err != nil {
			t.Fatalf("login %d: %v", i, err)
		}
	}
	if n := len(store.activeSessions(user.ID)); n != 2 {
		t.Errorf("Expected 2 active sessions, got %d", n)
	}
}

func TestRefreshRotation(t *testing.T) {
	svc, store := newTestService(t)
	registerApproved(t, svc, store, "ada@example.com")
	ctx := context.Background()

	resp, err := svc.Login(ctx, LoginRequest{Email: "ada@example.com", Password: "Password1"}, "", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	refreshed, err := svc.RefreshTokens(ctx, resp.RefreshToken)
	if err != nil {
		t.Fatalf("Expected refresh to succeed, got %v", err)
	}
	if refreshed.RefreshToken == resp.RefreshToken {
		t.Error("Expected a new refresh token")
	}

	if _, err := svc.RefreshTokens(ctx, resp.RefreshToken); err != ErrSessionRevoked {
		t.Errorf("Expected old token to be revoked, got %v", err)
	}
	if _, err := svc.RefreshTokens(ctx, "unknown"); err != ErrInvalidToken {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}
}

func TestRefreshExpired(t *testing.T) {
	svc, store := newTestService(t)
	registerApproved(t, svc, store, "ada@example.com")
	ctx := context.Background()

	resp, _ := svc.Login(ctx, LoginRequest{Email: "ada@example.com", Password: "Password1"}, "", "")
	svc.now = func() time.Time { return time.Now().Add(30 * 24 * time.Hour) }

	if _, err := svc.RefreshTokens(ctx, resp.RefreshToken); err != ErrTokenExpired {
		t.Errorf("Expected ErrTokenExpired, got %v", err)
	}
}

func TestLogout(t *testing.T) {
	svc, store := newTestService(t)
	user := registerApproved(t, svc, store, "ada@example.com")
	ctx := context.Background()

	resp, _ := svc.Login(ctx, LoginRequest{Email: "ada@example.com", Password: "Password1"}, "", "")
	if err := svc.Logout(ctx, resp.RefreshToken); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if n := len(store.activeSessions(user.ID)); n != 0 {
		t.Errorf("Expected no active sessions, got %d", n)
	}
	if err := svc.Logout(ctx, "unknown"); err != nil {
		t.Errorf("Expected unknown token logout to be a no-op, got %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	svc, store := newTestService(t)
	user := registerApproved(t, svc, store, "ada@example.com")
	ctx := context.Background()
	svc.Login(ctx, LoginRequest{Email: "ada@example.com", Password: "Password1"}, "", "")

	err := svc.ChangePassword(ctx, user.ID, ChangePasswordRequest{CurrentPassword: "wrong", NewPassword: "NewPassword2"})
	if err != ErrInvalidCredentials {
		t.Errorf("Expected ErrInvalidCredentials, got %v", err)
	}

	err = svc.ChangePassword(ctx, user.ID, ChangePasswordRequest{CurrentPassword: "Password1", NewPassword: "NewPassword2"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if n := len(store.activeSessions(user.ID)); n != 0 {
		t.Errorf("Expected sessions revoked, got %d active", n)
	}
	if _, err := svc.Login(ctx, LoginRequest{Email: "ada@example.com", Password: "NewPassword2"}, "", ""); err != nil {
		t.Errorf("Expected login with new password, got %v", err)
	}
}

func TestRecoverPasswordFlow(t *testing.T) {
	svc, store := newTestService(t)
	user := registerApproved(t, svc, store, "ada@example.com")
	ctx := context.Background()

	q, err := svc.GetSecretQuestion(ctx, "ada@example.com")
	if err != nil || q.ID != 1 {
		t.Fatalf("Expected question 1, got %v %v", q, err)
	}
	if _, err := svc.GetSecretQuestion(ctx, "ghost@example.com"); err != ErrUserNotFound {
		t.Errorf("Expected ErrUserNotFound, got %v", err)
	}

	if _, err := svc.RecoverPassword(ctx, "ada@example.com", "rex"); err != ErrWrongSecretAnswer {
		t.Errorf("Expected ErrWrongSecretAnswer, got %v", err)
	}

	temp, err := svc.RecoverPassword(ctx, "ada@example.com", "FLUFFY")
	if err != nil {
		t.Fatalf("Expected recovery to succeed, got %v", err)
	}
	if !store.users[user.ID].IsTemporaryPassword {
		t.Error("Expected temporary password flag")
	}

	resp, err := svc.Login(ctx, LoginRequest{Email: "ada@example.com", Password: temp}, "", "")
	if err != nil {
		t.Fatalf("Expected login with temporary password, got %v", err)
	}
	claims, _ := svc.GetJWTManager().ValidateAccessToken(resp.AccessToken)
	if !claims.MustChangePassword {
		t.Error("Expected must_change_password claim")
	}

	// Temporary password accounts may skip the current password
	if err := svc.ChangePassword(ctx, user.ID, ChangePasswordRequest{NewPassword: "Brandnew9"}); err != nil {
		t.Fatalf("Expected change without current password, got %v", err)
	}
	if store.users[user.ID].IsTemporaryPassword {
		t.Error("Expected temporary flag cleared")
	}
}

func TestSeedOperator(t *testing.T) {
	store := NewMockStore()
	pm := NewPasswordManager(bcrypt.MinCost, 8)
	ctx := context.Background()
	seed := OperatorSeed{Email: "ops@example.com", Password: "Operator1"}

	if err := SeedOperator(ctx, store, pm, seed, zerolog.Nop()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	op, _ := store.GetUserByEmail(ctx, "ops@example.com")
	if op == nil || !op.IsOperator || op.ApprovalStatus != database.ApprovalApproved {
		t.Fatalf("Expected approved operator, got %+v", op)
	}

	seed.Password = "Rotated22"
	if err := SeedOperator(ctx, store, pm, seed, zerolog.Nop()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(store.users) != 1 {
		t.Errorf("Expected a single user, got %d", len(store.users))
	}

	if err := SeedOperator(ctx, store, pm, OperatorSeed{}, zerolog.Nop()); err != nil {
		t.Errorf("Expected empty seed to be skipped, got %v", err)
	}
}

// PromoteOperator lets MockStore satisfy OperatorStore
func (m *MockStore) PromoteOperator(ctx context.Context, userID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return errors.New("no such user")
	}
	u.IsOperator = true
	u.ApprovalStatus = database.ApprovalApproved
	u.PasswordHash = passwordHash
	return nil
}
