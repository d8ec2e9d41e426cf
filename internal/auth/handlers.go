package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handlers contains the auth HTTP handlers
type Handlers struct {
	service *Service
}

// NewHandlers creates a new Handlers instance
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

func validationError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "VALIDATION_ERROR",
		"message": err.Error(),
	})
}

// statusFor maps auth errors onto HTTP status codes
func statusFor(authErr AuthError) int {
	switch authErr.Code {
	case ErrEmailExists.Code:
		return http.StatusConflict
	case ErrPendingApproval.Code, ErrAccountRejected.Code, ErrForbidden.Code, ErrPasswordChangeNeeded.Code:
		return http.StatusForbidden
	case ErrUserNotFound.Code, ErrNoRecoveryQuestion.Code:
		return http.StatusNotFound
	case ErrWeakPassword.Code, ErrInvalidQuestion.Code:
		return http.StatusBadRequest
	case ErrRateLimited.Code:
		return http.StatusTooManyRequests
	}
	return http.StatusUnauthorized
}

// respondError writes an AuthError as-is and hides anything else
func respondError(c *gin.Context, err error, fallback string) {
	var authErr AuthError
	if errors.As(err, &authErr) {
		c.JSON(statusFor(authErr), gin.H{
			"error":   authErr.Code,
			"message": authErr.Message,
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "INTERNAL_ERROR",
		"message": fallback,
	})
}

// Register handles user registration
// POST /api/auth/register
func (h *Handlers) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationError(c, err)
		return
	}

	user, err := h.service.Register(c.Request.Context(), req)
	if err != nil {
		respondError(c, err, "failed to register user")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "registration successful, awaiting operator approval",
		"user":    NewUserResponse(user),
	})
}

// Login handles user login
// POST /api/auth/login
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationError(c, err)
		return
	}

	response, err := h.service.Login(c.Request.Context(), req, c.ClientIP(), c.GetHeader("User-Agent"))
	if err != nil {
		respondError(c, err, "failed to login")
		return
	}

	c.JSON(http.StatusOK, response)
}

// Refresh handles token refresh
// POST /api/auth/refresh
func (h *Handlers) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationError(c, err)
		return
	}

	response, err := h.service.RefreshTokens(c.Request.Context(), req.RefreshToken)
	if err != nil {
		respondError(c, err, "failed to refresh tokens")
		return
	}

	c.JSON(http.StatusOK, response)
}

// Logout handles user logout
// POST /api/auth/logout
func (h *Handlers) Logout(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationError(c, err)
		return
	}

	if err := h.service.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		respondError(c, err, "failed to logout")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "logged out successfully"})
}

// LogoutAll revokes every session of the current user
// POST /api/auth/logout-all
func (h *Handlers) LogoutAll(c *gin.Context) {
	if err := h.service.LogoutAll(c.Request.Context(), GetUserID(c)); err != nil {
		respondError(c, err, "failed to logout from all devices")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "logged out from all devices"})
}

// ChangePassword handles password change
// POST /api/auth/change-password
func (h *Handlers) ChangePassword(c *gin.Context) {
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationError(c, err)
		return
	}

	if err := h.service.ChangePassword(c.Request.Context(), GetUserID(c), req); err != nil {
		respondError(c, err, "failed to change password")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "password changed successfully, please login again"})
}

// SecretQuestions lists the recovery questions offered at registration
// GET /api/auth/secret-questions
func (h *Handlers) SecretQuestions(c *gin.Context) {
	questions, err := h.service.SecretQuestions(c.Request.Context())
	if err != nil {
		respondError(c, err, "failed to load secret questions")
		return
	}

	c.JSON(http.StatusOK, gin.H{"questions": questions})
}

// RecoveryQuestion returns the secret question of an account
// POST /api/auth/recovery/question
func (h *Handlers) RecoveryQuestion(c *gin.Context) {
	var req RecoveryQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationError(c, err)
		return
	}

	question, err := h.service.GetSecretQuestion(c.Request.Context(), req.Email)
	if err != nil {
		respondError(c, err, "failed to load secret question")
		return
	}

	c.JSON(http.StatusOK, RecoveryQuestionResponse{QuestionID: question.ID, Question: question.Question})
}

// RecoveryReset answers the secret question and returns a temporary password
// POST /api/auth/recovery/reset
func (h *Handlers) RecoveryReset(c *gin.Context) {
	var req RecoveryResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationError(c, err)
		return
	}

	temp, err := h.service.RecoverPassword(c.Request.Context(), req.Email, req.Answer)
	if err != nil {
		respondError(c, err, "failed to reset password")
		return
	}

	c.JSON(http.StatusOK, RecoveryResetResponse{TemporaryPassword: temp})
}

// GetMe returns the current user's information
// GET /api/auth/me
func (h *Handlers) GetMe(c *gin.Context) {
	user, err := h.service.Me(c.Request.Context(), GetUserID(c))
	if err != nil {
		respondError(c, err, "failed to get user")
		return
	}

	c.JSON(http.StatusOK, NewUserResponse(user))
}

// RegisterRoutes registers all auth routes. The limiter, when set, guards the
// credential endpoints.
func (h *Handlers) RegisterRoutes(router *gin.RouterGroup, jwtManager *JWTManager, limiter gin.HandlerFunc) {
	public := router.Group("")
	if limiter != nil {
		public.Use(limiter)
	}
	{
		public.GET("/secret-questions", h.SecretQuestions)
		public.POST("/register", h.Register)
		public.POST("/login", h.Login)
		public.POST("/refresh", h.Refresh)
		public.POST("/logout", h.Logout)
		public.POST("/recovery/question", h.RecoveryQuestion)
		public.POST("/recovery/reset", h.RecoveryReset)
	}

	// Temporary-password accounts may still reach these
	protected := router.Group("")
	protected.Use(Middleware(jwtManager))
	{
		protected.GET("/me", h.GetMe)
		protected.POST("/logout-all", h.LogoutAll)
		protected.POST("/change-password", h.ChangePassword)
	}
}
