package handler

import (
	"custodial-ledger/internal/adapter/http/dto"
	"custodial-ledger/internal/adapter/http/middleware"
	"custodial-ledger/internal/core/ports"
	"custodial-ledger/pkg/apperror"
	"custodial-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// WithdrawalHandler handles withdrawal request endpoints.
type WithdrawalHandler struct {
	withdrawalSvc ports.WithdrawalService
}

// NewWithdrawalHandler creates a new WithdrawalHandler.
func NewWithdrawalHandler(withdrawalSvc ports.WithdrawalService) *WithdrawalHandler {
	return &WithdrawalHandler{withdrawalSvc: withdrawalSvc}
}

// pathID parses the :id path parameter, answering 400 when malformed.
func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("id must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}

// Create handles POST /api/v1/withdrawals.
func (h *WithdrawalHandler) Create(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	var req dto.WithdrawalRequest
	if !bindJSON(c, &req) {
		return
	}
	amount, ok := mustAmount(c, req.Amount)
	if !ok {
		return
	}

	wr, err := h.withdrawalSvc.Request(c.Request.Context(), userID, amount, req.Notes)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.FromWithdrawal(wr))
}

// List handles GET /api/v1/withdrawals for the caller.
func (h *WithdrawalHandler) List(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	list, err := h.withdrawalSvc.ListByUser(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.FromWithdrawals(list))
}

// Get handles GET /api/v1/withdrawals/:id. Students only see their own.
func (h *WithdrawalHandler) Get(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	wr, err := h.withdrawalSvc.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	if wr.UserID != userID && c.GetString(middleware.CtxRole) != ports.RoleOperator {
		response.Error(c, apperror.ErrNotFound("withdrawal request"))
		return
	}

	response.OK(c, dto.FromWithdrawal(wr))
}

// Approve handles POST /api/v1/withdrawals/:id/approve. Operator only.
func (h *WithdrawalHandler) Approve(c *gin.Context) {
	operatorID, ok := callerID(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req dto.ApproveWithdrawalRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}

	wr, err := h.withdrawalSvc.Approve(c.Request.Context(), id, operatorID, req.TxHash)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.FromWithdrawal(wr))
}

// Reject handles POST /api/v1/withdrawals/:id/reject. Operator only.
func (h *WithdrawalHandler) Reject(c *gin.Context) {
	operatorID, ok := callerID(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req dto.RejectRequest
	if !bindJSON(c, &req) {
		return
	}

	wr, err := h.withdrawalSvc.Reject(c.Request.Context(), id, operatorID, req.Notes)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.FromWithdrawal(wr))
}
