package api

import (
	"context"
	"net/http"

	"bot-dashboard/internal/database"
	"bot-dashboard/internal/plans"

	"github.com/gin-gonic/gin"
)

// ==================== ACCOUNTS ====================

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleListUsers(c *gin.Context) {
	status := database.ApprovalStatus(c.DefaultQuery("status", string(database.ApprovalPending)))

	users, err := s.svc.Accounts.ListByStatus(c.Request.Context(), status)
	if err != nil {
		respondServiceError(c, err, "list users")
		return
	}
	successResponse(c, users)
}

func (s *Server) handleApproveUser(c *gin.Context) {
	operatorID, ok := getUserIDRequired(c)
	if !ok {
		return
	}

	if err := s.svc.Accounts.Approve(c.Request.Context(), c.Param("id"), operatorID); err != nil {
		respondServiceError(c, err, "approve user")
		return
	}
	successResponse(c, gin.H{"user_id": c.Param("id"), "status": database.ApprovalApproved})
}

func (s *Server) handleRejectUser(c *gin.Context) {
	operatorID, ok := getUserIDRequired(c)
	if !ok {
		return
	}

	var req rejectRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			errorResponse(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}
	}

	if err := s.svc.Accounts.Reject(c.Request.Context(), c.Param("id"), operatorID, req.Reason); err != nil {
		respondServiceError(c, err, "reject user")
		return
	}
	successResponse(c, gin.H{"user_id": c.Param("id"), "status": database.ApprovalRejected})
}

func (s *Server) handleDeleteUser(c *gin.Context) {
	operatorID, ok := getUserIDRequired(c)
	if !ok {
		return
	}

	if err := s.svc.Accounts.Delete(c.Request.Context(), c.Param("id"), operatorID); err != nil {
		respondServiceError(c, err, "delete user")
		return
	}
	successResponse(c, nil)
}

func (s *Server) handleUsersByExchange(c *gin.Context) {
	buckets, err := s.svc.Funds.UsersByExchange(c.Request.Context())
	if err != nil {
		respondServiceError(c, err, "list users by exchange")
		return
	}
	successResponse(c, buckets)
}

// ==================== BOT ACTIVATION ====================

type setActivationRequest struct {
	Activate *bool `json:"activate" binding:"required"`
	Days     *int  `json:"days"`
}

func (s *Server) handleListActivations(c *gin.Context) {
	list, err := s.svc.Activation.ListForOperator(c.Request.Context())
	if err != nil {
		respondServiceError(c, err, "list bot activations")
		return
	}
	successResponse(c, list)
}

func (s *Server) handleSetActivation(c *gin.Context) {
	var req setActivationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	state, err := s.svc.Activation.SetActivation(c.Request.Context(), c.Param("userId"), *req.Activate, req.Days)
	if err != nil {
		respondServiceError(c, err, "update bot activation")
		return
	}
	successResponse(c, state)
}

// ==================== DEPOSITS & WITHDRAWALS ====================

func (s *Server) handlePendingDeposits(c *gin.Context) {
	list, err := s.svc.Funds.ListPendingDeposits(c.Request.Context())
	if err != nil {
		respondServiceError(c, err, "list deposits")
		return
	}
	successResponse(c, list)
}

func (s *Server) handlePendingWithdrawals(c *gin.Context) {
	list, err := s.svc.Funds.ListPendingWithdrawals(c.Request.Context())
	if err != nil {
		respondServiceError(c, err, "list withdrawals")
		return
	}
	successResponse(c, list)
}

func (s *Server) handleApproveDeposit(c *gin.Context) {
	s.processTransaction(c, "approve deposit", func(id int64, operatorID, _ string) (*database.FundTransaction, error) {
		return s.svc.Funds.ApproveDeposit(c.Request.Context(), id, operatorID)
	})
}

func (s *Server) handleRejectDeposit(c *gin.Context) {
	s.processTransaction(c, "reject deposit", func(id int64, operatorID, reason string) (*database.FundTransaction, error) {
		return s.svc.Funds.RejectDeposit(c.Request.Context(), id, operatorID, reason)
	})
}

func (s *Server) handleApproveWithdrawal(c *gin.Context) {
	s.processTransaction(c, "approve withdrawal", func(id int64, operatorID, _ string) (*database.FundTransaction, error) {
		return s.svc.Funds.ApproveWithdrawal(c.Request.Context(), id, operatorID)
	})
}

func (s *Server) handleRejectWithdrawal(c *gin.Context) {
	s.processTransaction(c, "reject withdrawal", func(id int64, operatorID, reason string) (*database.FundTransaction, error) {
		return s.svc.Funds.RejectWithdrawal(c.Request.Context(), id, operatorID, reason)
	})
}

func (s *Server) processTransaction(c *gin.Context, action string, fn func(id int64, operatorID, reason string) (*database.FundTransaction, error)) {
	operatorID, ok := getUserIDRequired(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req rejectRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			errorResponse(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}
	}

	tx, err := fn(id, operatorID, req.Reason)
	if err != nil {
		respondServiceError(c, err, action)
		return
	}
	successResponse(c, tx)
}

// ==================== EARNINGS ====================

type recordEarningRequest struct {
	UserID string  `json:"user_id" binding:"required"`
	Amount float64 `json:"amount" binding:"required"`
	Note   string  `json:"note"`
}

func (s *Server) handleRecordEarning(c *gin.Context) {
	var req recordEarningRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	earning, err := s.svc.Funds.RecordEarning(c.Request.Context(), req.UserID, req.Amount, req.Note)
	if err != nil {
		respondServiceError(c, err, "record earning")
		return
	}
	createdResponse(c, earning)
}

// ==================== PLANS ====================

func (s *Server) handleListPlans(c *gin.Context) {
	list, err := s.svc.Plans.ListPlans(c.Request.Context())
	if err != nil {
		respondServiceError(c, err, "list plans")
		return
	}
	successResponse(c, list)
}

func (s *Server) handleCreatePlan(c *gin.Context) {
	operatorID, ok := getUserIDRequired(c)
	if !ok {
		return
	}

	var in plans.PlanInput
	if err := c.ShouldBindJSON(&in); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	plan, err := s.svc.Plans.CreatePlan(c.Request.Context(), in, operatorID)
	if err != nil {
		respondServiceError(c, err, "create plan")
		return
	}
	createdResponse(c, plan)
}

func (s *Server) handleUpdatePlan(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var in plans.PlanInput
	if err := c.ShouldBindJSON(&in); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	plan, err := s.svc.Plans.UpdatePlan(c.Request.Context(), id, in)
	if err != nil {
		respondServiceError(c, err, "update plan")
		return
	}
	successResponse(c, plan)
}

func (s *Server) handleDeletePlan(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	if err := s.svc.Plans.DeletePlan(c.Request.Context(), id); err != nil {
		respondServiceError(c, err, "delete plan")
		return
	}
	successResponse(c, nil)
}

func (s *Server) handlePendingPlanRequests(c *gin.Context) {
	list, err := s.svc.Plans.PendingRequests(c.Request.Context())
	if err != nil {
		respondServiceError(c, err, "list plan change requests")
		return
	}
	successResponse(c, list)
}

func (s *Server) handleApprovePlanRequest(c *gin.Context) {
	s.processPlanRequest(c, "approve plan change", s.svc.Plans.ApproveChange)
}

func (s *Server) handleRejectPlanRequest(c *gin.Context) {
	s.processPlanRequest(c, "reject plan change", s.svc.Plans.RejectChange)
}

func (s *Server) processPlanRequest(c *gin.Context, action string, fn func(ctx context.Context, id int64, operatorID string) (*database.PlanChangeRequest, error)) {
	operatorID, ok := getUserIDRequired(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	pr, err := fn(c.Request.Context(), id, operatorID)
	if err != nil {
		respondServiceError(c, err, action)
		return
	}
	successResponse(c, pr)
}

// ==================== FEATURE FLAGS ====================

type setConfigRequest struct {
	Value *bool `json:"value" binding:"required"`
}

func (s *Server) handleListConfig(c *gin.Context) {
	list, err := s.svc.Config.List(c.Request.Context())
	if err != nil {
		respondServiceError(c, err, "list config")
		return
	}
	successResponse(c, list)
}

func (s *Server) handleGetConfig(c *gin.Context) {
	cfg, err := s.svc.Config.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		respondServiceError(c, err, "get config")
		return
	}
	successResponse(c, cfg)
}

func (s *Server) handleSetConfig(c *gin.Context) {
	operatorID, ok := getUserIDRequired(c)
	if !ok {
		return
	}

	var req setConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	key := c.Param("key")
	if err := s.svc.Config.Set(c.Request.Context(), key, *req.Value, operatorID); err != nil {
		respondServiceError(c, err, "update config")
		return
	}
	successResponse(c, gin.H{"key": key, "value": *req.Value})
}

// ==================== ANNOUNCEMENTS ====================

type visibilityRequest struct {
	Hidden *bool `json:"hidden" binding:"required"`
}

func (s *Server) handleListAllAnnouncements(c *gin.Context) {
	list, err := s.svc.Announcements.List(c.Request.Context(), true)
	if err != nil {
		respondServiceError(c, err, "list announcements")
		return
	}
	successResponse(c, list)
}

func (s *Server) handleSetAnnouncementVisibility(c *gin.Context) {
	operatorID, ok := getUserIDRequired(c)
	if !ok {
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req visibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if err := s.svc.Announcements.SetHidden(c.Request.Context(), id, *req.Hidden, operatorID); err != nil {
		respondServiceError(c, err, "update announcement")
		return
	}
	successResponse(c, gin.H{"id": id, "hidden": *req.Hidden})
}

func (s *Server) handleSyncAnnouncements(c *gin.Context) {
	n, err := s.svc.Announcements.Sync(c.Request.Context())
	if err != nil {
		respondServiceError(c, err, "sync announcements")
		return
	}
	successResponse(c, gin.H{"synced": n})
}
