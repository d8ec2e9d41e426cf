package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"bot-dashboard/internal/auth"
	"bot-dashboard/internal/cache"
	"bot-dashboard/internal/events"
	"bot-dashboard/internal/logging"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RateLimiter provides simple in-memory rate limiting per key
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int           // max requests
	window   time.Duration // time window
	now      func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	windowStart := now.Add(-r.window)

	// Filter out old requests
	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// Middleware limits requests per client IP and route
func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		if !r.Allow(c.ClientIP() + " " + path) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   auth.ErrRateLimited.Code,
				"message": auth.ErrRateLimited.Message,
			})
			return
		}
		c.Next()
	}
}

// HealthChecker reports database health
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// CacheStats reports Redis health. Redis is optional and never fails the check.
type CacheStats interface {
	GetStats() cache.Stats
}

// Services are the components the HTTP layer serves
type Services struct {
	Auth          *auth.Service
	Activation    ActivationService
	Accounts      AccountService
	Funds         FundsService
	Plans         PlanService
	Config        ConfigService
	Announcements AnnouncementService
	Health        HealthChecker
	Cache         CacheStats
	EventBus      *events.EventBus
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Host           string
	ProductionMode bool
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	// AuthRateLimit is the number of auth requests allowed per IP per minute
	AuthRateLimit int
	TLSCertFile   string
	TLSKeyFile    string
}

// Server represents the HTTP API server
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	config      ServerConfig
	svc         Services
	hub         *UserWSHub
	rateLimiter *RateLimiter
	logger      zerolog.Logger
	startedAt   time.Time
}

// NewServer creates a new API server
func NewServer(config ServerConfig, svc Services, logger zerolog.Logger) (*Server, error) {
	if svc.Auth == nil {
		return nil, errors.New("auth service is required")
	}

	// Set Gin mode
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	if config.AuthRateLimit <= 0 {
		config.AuthRateLimit = 10
	}

	router := gin.New()

	// Middleware
	router.Use(logging.GinMiddleware(logger))
	router.Use(gin.Recovery())

	// CORS middleware
	corsConfig := cors.DefaultConfig()
	if len(config.AllowedOrigins) == 0 || (len(config.AllowedOrigins) == 1 && config.AllowedOrigins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = config.AllowedOrigins
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", logging.TraceHeader}
	corsConfig.ExposeHeaders = []string{"Content-Length", logging.TraceHeader}
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:      router,
		config:      config,
		svc:         svc,
		hub:         NewUserWSHub(logger),
		rateLimiter: NewRateLimiter(config.AuthRateLimit, time.Minute),
		logger:      logger.With().Str("component", "api").Logger(),
		startedAt:   time.Now(),
	}
	server.hub.Attach(svc.EventBus)

	server.setupRoutes()
	return server, nil
}

// Router exposes the gin engine
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Hub returns the websocket hub
func (s *Server) Hub() *UserWSHub {
	return s.hub
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", s.handleHealth)

	// Auth routes
	authHandlers := auth.NewHandlers(s.svc.Auth)
	authGroup := s.router.Group("/api/auth")
	authHandlers.RegisterRoutes(authGroup, s.svc.Auth.GetJWTManager(), s.rateLimiter.Middleware())

	// Everything else requires a valid token and a permanent password
	api := s.router.Group("/api")
	api.Use(auth.Middleware(s.svc.Auth.GetJWTManager()))
	api.Use(auth.RequirePasswordChanged())
	{
		api.GET("/ws", s.handleUserWebSocket)

		api.GET("/bot/activation", s.handleGetActivation)

		api.GET("/capital", s.handleGetCapital)
		api.POST("/capital", s.handleInvest)
		api.DELETE("/capital", s.handleWithdrawCapital)
		api.GET("/exchanges/status", s.handleExchangeStatus)

		api.GET("/balance", s.handleGetBalance)
		api.GET("/balance/calculated", s.handleGetCalculatedBalance)
		api.GET("/earnings", s.handleGetEarnings)

		api.GET("/deposits", s.handleListDeposits)
		api.POST("/deposits", s.handleCreateDeposit)
		api.GET("/withdrawals", s.handleListWithdrawals)
		api.POST("/withdrawals", s.handleCreateWithdrawal)

		api.GET("/plans", s.handleActivePlans)
		api.GET("/plans/current", s.handleCurrentPlan)
		api.GET("/plans/change-requests", s.handleListPlanRequests)
		api.POST("/plans/change-requests", s.handleRequestPlanChange)

		api.GET("/announcements", s.handleListAnnouncements)
		api.GET("/config/:key", s.handleGetFlag)
	}

	operator := api.Group("/operator")
	operator.Use(auth.RequireOperator())
	{
		operator.GET("/users", s.handleListUsers)
		operator.GET("/users/by-exchange", s.handleUsersByExchange)
		operator.POST("/users/:id/approve", s.handleApproveUser)
		operator.POST("/users/:id/reject", s.handleRejectUser)
		operator.DELETE("/users/:id", s.handleDeleteUser)

		operator.GET("/activations", s.handleListActivations)
		operator.PUT("/activations/:userId", s.handleSetActivation)

		operator.GET("/deposits/pending", s.handlePendingDeposits)
		operator.POST("/deposits/:id/approve", s.handleApproveDeposit)
		operator.POST("/deposits/:id/reject", s.handleRejectDeposit)
		operator.GET("/withdrawals/pending", s.handlePendingWithdrawals)
		operator.POST("/withdrawals/:id/approve", s.handleApproveWithdrawal)
		operator.POST("/withdrawals/:id/reject", s.handleRejectWithdrawal)

		operator.POST("/earnings", s.handleRecordEarning)

		operator.GET("/plans", s.handleListPlans)
		operator.POST("/plans", s.handleCreatePlan)
		operator.PUT("/plans/:id", s.handleUpdatePlan)
		operator.DELETE("/plans/:id", s.handleDeletePlan)
		operator.GET("/plan-requests", s.handlePendingPlanRequests)
		operator.POST("/plan-requests/:id/approve", s.handleApprovePlanRequest)
		operator.POST("/plan-requests/:id/reject", s.handleRejectPlanRequest)

		operator.GET("/config", s.handleListConfig)
		operator.GET("/config/:key", s.handleGetConfig)
		operator.PUT("/config/:key", s.handleSetConfig)

		operator.GET("/announcements", s.handleListAllAnnouncements)
		operator.PUT("/announcements/:id/visibility", s.handleSetAnnouncementVisibility)
		operator.POST("/announcements/sync", s.handleSyncAnnouncements)
	}
}

// Start starts the HTTP server and the websocket hub
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	readTimeout := s.config.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	writeTimeout := s.config.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 15 * time.Second
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go s.hub.Run(ctx)

	s.logger.Info().Str("address", addr).Bool("tls", s.config.TLSCertFile != "").Msg("Starting HTTP server")

	var err error
	if s.config.TLSCertFile != "" && s.config.TLSKeyFile != "" {
		err = s.httpServer.ListenAndServeTLS(s.config.TLSCertFile, s.config.TLSKeyFile)
	} else {
		err = s.httpServer.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

// handleHealth returns server health status
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.svc.Health != nil {
		if err := s.svc.Health.HealthCheck(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Database health check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": "unhealthy",
			})
			return
		}
	}

	body := gin.H{
		"status":     "healthy",
		"database":   "healthy",
		"uptime":     time.Since(s.startedAt).Round(time.Second).String(),
		"ws_clients": s.hub.GetTotalClientCount(),
	}
	if s.svc.Cache != nil {
		body["cache"] = s.svc.Cache.GetStats()
	}
	c.JSON(http.StatusOK, body)
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"success": false,
		"error":   true,
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

// createdResponse is successResponse with 201
func createdResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    data,
	})
}

// getUserIDRequired returns the user ID from the context and sends error if not authenticated
func getUserIDRequired(c *gin.Context) (string, bool) {
	userID := auth.GetUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   auth.ErrUnauthorized.Code,
			"message": auth.ErrUnauthorized.Message,
		})
		return "", false
	}
	return userID, true
}

// ParseOrigins splits a comma separated origin list
func ParseOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
