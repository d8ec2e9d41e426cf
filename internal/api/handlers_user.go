package api

import (
	"net/http"

	"bot-dashboard/internal/database"
	"bot-dashboard/internal/logging"

	"github.com/gin-gonic/gin"
)

// ==================== BOT ACTIVATION ====================

// handleGetActivation returns the caller's countdown. A read failure still
// renders the default state.
func (s *Server) handleGetActivation(c *gin.Context) {
	userID, ok := getUserIDRequired(c)
	if !ok {
		return
	}

	state, err := s.svc.Activation.GetActivation(c.Request.Context(), userID)
	if err != nil {
		logger := logging.FromContext(c.Request.Context())
		logger.Warn().Err(err).Str("user_id", userID).Msg("Serving default bot activation")
	}
	successResponse(c, state)
}

// ==================== CAPITAL ====================

type investRequest struct {
	Exchange database.Exchange `json:"exchange" binding:"required"`
	Amount   float64           `json:"amount" binding:"required"`
}

func (s *Server) handleGetCapital(c *gin.Context) {
	userID, ok := getUserIDRequired(c)
	if !ok {
		return
	}

	capital, err := s.svc.Funds.GetCapital(c.Request.Context(), userID)
	if err != nil {
		respondServiceError(c, err, "get capital")
		return
	}
	successResponse(c, capital)
}

func (s *Server) handleInvest(c *gin.Context) {
	userID, ok := getUserIDRequired(c)
	if !ok {
		return
	}

	var req investRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	capital, err := s.svc.Funds.Invest(c.Request.Context(), userID, req.Exchange, req.Amount)
	if err != nil {
		respondServiceError(c, err, "invest")
		return
	}
	createdResponse(c, capital)
}

func (s *Server) handleWithdrawCapital(c *gin.Context) {
	userID, ok := getUserIDRequired(c)
	if !ok {
		return
	}

	if err := s.svc.Funds.WithdrawCapital(c.Request.Context(), userID); err != nil {
		respondServiceError(c, err, "withdraw capital")
		return
	}
	successResponse(c, nil)
}

func (s *Server) handleExchangeStatus(c *gin.Context) {
	userID, ok := getUserIDRequired(c)
	if !ok {
		return
	}

	status, err := s.svc.Funds.ExchangeStatus(c.Request.Context(), userID)
	if err != nil {
		respondServiceError(c, err, "get exchange status")
		return
	}
	successResponse(c, status)
}

// ==================== BALANCE & EARNINGS ====================

func (s *Server) handleGetBalance(c *gin.Context) {
	userID, ok := getUserIDRequired(c)
	if !ok {
		return
	}

	balance, err := s.svc.Funds.Balance(c.Request.Context(), userID)
	if err != nil {
		respondServiceError(c, err, "get balance")
		return
	}
	successResponse(c, balance)
}

func (s *Server) handleGetCalculatedBalance(c *gin.Context) {
	userID, ok := getUserIDRequired(c)
	if !ok {
		return
	}

	balance, err := s.svc.Funds.CalculatedBalance(c.Request.Context(), userID)
	if err != nil {
		respondServiceError(c, err, "get balance")
		return
	}
	successResponse(c, balance)
}

func (s *Server) handleGetEarnings(c *gin.Context) {
	userID, ok := getUserIDRequired(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	earnings, err := s.svc.Funds.ListEarnings(ctx, userID)
	if err != nil {
		respondServiceError(c, err, "list earnings")
		return
	}
	total, err := s.svc.Funds.TotalEarnings(ctx, userID)
	if err != nil {
		respondServiceError(c, err, "list earnings")
		return
	}

	successResponse(c, gin.H{
		"earnings": earnings,
		"total":    total,
	})
}

// ==================== DEPOSITS & WITHDRAWALS ====================

type transactionRequest struct {
	Exchange database.Exchange `json:"exchange" binding:"required"`
	Amount   float64           `json:"amount" binding:"required"`
}

func (s *Server) handleListDeposits(c *gin.Context) {
	userID, ok := getUserIDRequired(c)
	if !ok {
		return
	}

	list, err := s.svc.Funds.ListDeposits(c.Request.Context(), userID)
	if err != nil {
		respondServiceError(c, err, "list deposits")
		return
	}
	successResponse(c, list)
}

func (s *Server) handleCreateDeposit(c *gin.Context) {
	userID, ok := getUserIDRequired(c)
	if !ok {
		return
	}

	var req transactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	tx, err := s.svc.Funds.CreateDeposit(c.Request.Context(), userID, req.Exchange, req.Amount)
	if err != nil {
		respondServiceError(c, err, "create deposit")
		return
	}
	createdResponse(c, tx)
}

func (s *Server) handleListWithdrawals(c *gin.Context) {
	userID, ok := getUserIDRequired(c)
	if !ok {
		return
	}

	list, err := s.svc.Funds.ListWithdrawals(c.Request.Context(), userID)
	if err != nil {
		respondServiceError(c, err, "list withdrawals")
		return
	}
	successResponse(c, list)
}

func (s *Server) handleCreateWithdrawal(c *gin.Context) {
	userID, ok := getUserIDRequired(c)
	if !ok {
		return
	}

	var req transactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	tx, err := s.svc.Funds.CreateWithdrawal(c.Request.Context(), userID, req.Exchange, req.Amount)
	if err != nil {
		respondServiceError(c, err, "create withdrawal")
		return
	}
	createdResponse(c, tx)
}

// ==================== PLANS ====================

type planChangeRequest struct {
	PlanID int64 `json:"plan_id" binding:"required"`
}

func (s *Server) handleActivePlans(c *gin.Context) {
	list, err := s.svc.Plans.ActivePlans(c.Request.Context())
	if err != nil {
		respondServiceError(c, err, "list plans")
		return
	}
	successResponse(c, list)
}

func (s *Server) handleCurrentPlan(c *gin.Context) {
	userID, ok := getUserIDRequired(c)
	if !ok {
		return
	}

	up, err := s.svc.Plans.UserPlan(c.Request.Context(), userID)
	if err != nil {
		respondServiceError(c, err, "get plan")
		return
	}
	successResponse(c, up)
}

func (s *Server) handleListPlanRequests(c *gin.Context) {
	userID, ok := getUserIDRequired(c)
	if !ok {
		return
	}

	list, err := s.svc.Plans.UserRequests(c.Request.Context(), userID)
	if err != nil {
		respondServiceError(c, err, "list plan change requests")
		return
	}
	successResponse(c, list)
}

func (s *Server) handleRequestPlanChange(c *gin.Context) {
	userID, ok := getUserIDRequired(c)
	if !ok {
		return
	}

	var req planChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	pr, err := s.svc.Plans.RequestChange(c.Request.Context(), userID, req.PlanID)
	if err != nil {
		respondServiceError(c, err, "request plan change")
		return
	}
	createdResponse(c, pr)
}

// ==================== ANNOUNCEMENTS & FLAGS ====================

func (s *Server) handleListAnnouncements(c *gin.Context) {
	list, err := s.svc.Announcements.List(c.Request.Context(), false)
	if err != nil {
		respondServiceError(c, err, "list announcements")
		return
	}
	successResponse(c, list)
}

func (s *Server) handleGetFlag(c *gin.Context) {
	key := c.Param("key")
	successResponse(c, gin.H{
		"key":   key,
		"value": s.svc.Config.Enabled(c.Request.Context(), key),
	})
}
