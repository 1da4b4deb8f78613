package handler

import (
	"custodial-ledger/internal/adapter/http/dto"
	"custodial-ledger/internal/core/ports"
	"custodial-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// SettlementHandler handles business settlement endpoints.
type SettlementHandler struct {
	settlementSvc ports.SettlementService
}

// NewSettlementHandler creates a new SettlementHandler.
func NewSettlementHandler(settlementSvc ports.SettlementService) *SettlementHandler {
	return &SettlementHandler{settlementSvc: settlementSvc}
}

// Create handles POST /api/v1/settlements. The caller must be a member of
// the business.
func (h *SettlementHandler) Create(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	var req dto.CreateSettlementRequest
	if !bindJSON(c, &req) {
		return
	}

	sr, err := h.settlementSvc.CreateRequest(c.Request.Context(), ports.CreateSettlementInput{
		UserID:     userID,
		EventID:    req.EventID,
		BusinessID: req.BusinessID,
		Method:     req.Method,
		Notes:      req.Notes,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.FromSettlement(sr))
}

// Get handles GET /api/v1/settlements/:id. Operator only.
func (h *SettlementHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	sr, err := h.settlementSvc.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.FromSettlement(sr))
}

// ListByEvent handles GET /api/v1/events/:id/settlements. Operator only.
func (h *SettlementHandler) ListByEvent(c *gin.Context) {
	list, err := h.settlementSvc.ListByEvent(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.FromSettlements(list))
}

// Approve handles POST /api/v1/settlements/:id/approve. Operator only.
func (h *SettlementHandler) Approve(c *gin.Context) {
	operatorID, ok := callerID(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	sr, err := h.settlementSvc.Approve(c.Request.Context(), id, operatorID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.FromSettlement(sr))
}

// Reject handles POST /api/v1/settlements/:id/reject. Operator only.
func (h *SettlementHandler) Reject(c *gin.Context) {
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

	sr, err := h.settlementSvc.Reject(c.Request.Context(), id, operatorID, req.Notes)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.FromSettlement(sr))
}
