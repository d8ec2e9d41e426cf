package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// Context keys for user data
	ContextKeyUserID             = "user_id"
	ContextKeyEmail              = "user_email"
	ContextKeyIsOperator         = "user_is_operator"
	ContextKeyMustChangePassword = "user_must_change_password"
	ContextKeyClaims             = "user_claims"
)

func abortAuth(c *gin.Context, status int, authErr AuthError, message string) {
	if message == "" {
		message = authErr.Message
	}
	c.AbortWithStatusJSON(status, gin.H{
		"error":   true,
		"code":    authErr.Code,
		"message": message,
	})
}

// bearerToken extracts the token from the Authorization header, or from the
// token query parameter for websocket upgrades that cannot set headers.
func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if token := c.Query("token"); token != "" && c.IsWebsocket() {
			return token, true
		}
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", false
	}
	return parts[1], true
}

// Middleware creates a JWT authentication middleware
func Middleware(jwtManager *JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			abortAuth(c, http.StatusUnauthorized, ErrUnauthorized, "missing or malformed authorization header")
			return
		}

		claims, err := jwtManager.ValidateAccessToken(tokenString)
		if err != nil {
			authErr, ok := err.(AuthError)
			if !ok {
				authErr = ErrInvalidToken
			}
			abortAuth(c, http.StatusUnauthorized, authErr, "")
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyEmail, claims.Email)
		c.Set(ContextKeyIsOperator, claims.IsOperator)
		c.Set(ContextKeyMustChangePassword, claims.MustChangePassword)
		c.Set(ContextKeyClaims, claims)

		c.Next()
	}
}

// RequireOperator middleware ensures the user is an operator
func RequireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsOperator(c) {
			abortAuth(c, http.StatusForbidden, ErrForbidden, "operator access required")
			return
		}
		c.Next()
	}
}

// RequirePasswordChanged blocks accounts still on a temporary password
func RequirePasswordChanged() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetBool(ContextKeyMustChangePassword) {
			abortAuth(c, http.StatusForbidden, ErrPasswordChangeNeeded, "")
			return
		}
		c.Next()
	}
}

// GetUserID extracts the user ID from the Gin context
func GetUserID(c *gin.Context) string {
	return c.GetString(ContextKeyUserID)
}

// GetUserClaims extracts the full user claims from the Gin context
func GetUserClaims(c *gin.Context) *UserClaims {
	if claims, exists := c.Get(ContextKeyClaims); exists {
		if uc, ok := claims.(*UserClaims); ok {
			return uc
		}
	}
	return nil
}

// IsOperator checks if the current user is an operator
func IsOperator(c *gin.Context) bool {
	return c.GetBool(ContextKeyIsOperator)
}
