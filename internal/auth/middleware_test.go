package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newProtectedRouter(m *JWTManager) *gin.Engine {
	router := gin.New()
	group := router.Group("/api")
	group.Use(Middleware(m))
	group.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": GetUserID(c)})
	})
	group.GET("/dashboard", RequirePasswordChanged(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	group.GET("/operator", RequireOperator(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func doRequest(router *gin.Engine, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestMiddleware(t *testing.T) {
	m := NewJWTManager("test-secret", time.Minute, time.Hour)
	router := newProtectedRouter(m)

	investor, _ := m.GenerateAccessToken(UserClaims{UserID: "u1"})
	operator, _ := m.GenerateAccessToken(UserClaims{UserID: "op", IsOperator: true})
	temporary, _ := m.GenerateAccessToken(UserClaims{UserID: "u2", MustChangePassword: true})

	tests := []struct {
		name   string
		path   string
		token  string
		status int
	}{
		{"missing token", "/api/me", "", http.StatusUnauthorized},
		{"bad token", "/api/me", "garbage", http.StatusUnauthorized},
		{"valid token", "/api/me", investor, http.StatusOK},
		{"investor on operator route", "/api/operator", investor, http.StatusForbidden},
		{"operator on operator route", "/api/operator", operator, http.StatusOK},
		{"temporary password blocked", "/api/dashboard", temporary, http.StatusForbidden},
		{"temporary password may read me", "/api/me", temporary, http.StatusOK},
		{"normal password passes", "/api/dashboard", investor, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(router, tt.path, tt.token)
			if w.Code != tt.status {
				t.Errorf("Expected status %d, got %d (%s)", tt.status, w.Code, w.Body.String())
			}
		})
	}
}

func TestMiddlewareRejectsNonBearer(t *testing.T) {
	m := NewJWTManager("test-secret", time.Minute, time.Hour)
	router := newProtectedRouter(m)
	token, _ := m.GenerateAccessToken(UserClaims{UserID: "u1"})

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Basic "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
}
