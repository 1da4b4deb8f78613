package handler

import (
	"custodial-ledger/internal/adapter/http/dto"
	"custodial-ledger/internal/adapter/http/middleware"
	"custodial-ledger/internal/core/domain"
	"custodial-ledger/internal/core/ports"
	"custodial-ledger/pkg/apperror"
	"custodial-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// WalletHandler handles wallet endpoints of the calling student.
type WalletHandler struct {
	walletSvc ports.WalletService
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(walletSvc ports.WalletService) *WalletHandler {
	return &WalletHandler{walletSvc: walletSvc}
}

// callerID returns the authenticated user id, answering 401 when missing.
func callerID(c *gin.Context) (string, bool) {
	id := c.GetString(middleware.CtxUserID)
	if id == "" {
		response.Error(c, apperror.ErrInvalidToken())
		return "", false
	}
	return id, true
}

// bindJSON binds and sanitizes a request body, answering 400 on failure.
func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return false
	}
	dto.SanitizeStruct(req)
	return true
}

// mustAmount parses an amount that already passed binding validation.
func mustAmount(c *gin.Context, raw string) (decimal.Decimal, bool) {
	d, ok := dto.ParseAmount(raw)
	if !ok {
		response.Error(c, apperror.ErrInvalidAmount())
	}
	return d, ok
}

// CreateWallet handles POST /api/v1/wallet. Students open their own
// wallet; operators may open business wallets.
func (h *WalletHandler) CreateWallet(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	var req dto.CreateWalletRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}

	owner := domain.UserOwner(userID)
	if req.OwnerType == string(domain.OwnerTypeBusiness) {
		if c.GetString(middleware.CtxRole) != ports.RoleOperator {
			response.Error(c, apperror.ErrForbidden())
			return
		}
		if req.OwnerID == "" {
			response.Error(c, apperror.Validation("owner_id is required for business wallets"))
			return
		}
		owner = domain.BusinessOwner(req.OwnerID)
	}

	address, err := h.walletSvc.CreateWallet(c.Request.Context(), owner)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.WalletResponse{Address: address})
}

// GetBalance handles GET /api/v1/wallet/balance.
func (h *WalletHandler) GetBalance(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	balance, err := h.walletSvc.GetBalance(c.Request.Context(), domain.UserOwner(userID))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.FromBalance(balance))
}

// GetLedger handles GET /api/v1/wallet/ledger.
func (h *WalletHandler) GetLedger(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	var q dto.LedgerQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 || q.PageSize > maxPageSize {
		q.PageSize = defaultPageSize
	}

	params := ports.LedgerListParams{
		Owner:    domain.UserOwner(userID),
		Page:     q.Page,
		PageSize: q.PageSize,
	}
	if q.Status != "" {
		status := domain.EntryStatus(q.Status)
		params.Status = &status
	}
	if q.Type != "" {
		entryType := domain.EntryType(q.Type)
		params.Type = &entryType
	}

	entries, total, err := h.walletSvc.GetLedger(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Page(c, dto.FromEntries(entries), q.Page, q.PageSize, total)
}

// Transfer handles POST /api/v1/wallet/transfer.
func (h *WalletHandler) Transfer(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	var req dto.TransferRequest
	if !bindJSON(c, &req) {
		return
	}
	amount, ok := mustAmount(c, req.Amount)
	if !ok {
		return
	}

	result, err := h.walletSvc.SendToUser(c.Request.Context(), userID, req.ToUserID, amount, req.Note)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.FromTransferResult(result))
}

// Pay handles POST /api/v1/wallet/pay.
func (h *WalletHandler) Pay(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	var req dto.PayRequest
	if !bindJSON(c, &req) {
		return
	}
	amount, ok := mustAmount(c, req.Amount)
	if !ok {
		return
	}

	result, err := h.walletSvc.Pay(c.Request.Context(), userID, req.BusinessID, amount, req.Note)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.FromTransferResult(result))
}

// Recharge handles POST /api/v1/recharges. Operator only.
func (h *WalletHandler) Recharge(c *gin.Context) {
	var req dto.RechargeRequest
	if !bindJSON(c, &req) {
		return
	}
	amountUSD, ok := mustAmount(c, req.AmountUSD)
	if !ok {
		return
	}

	result, err := h.walletSvc.Recharge(c.Request.Context(), ports.RechargeRequest{
		UserID:       req.UserID,
		AmountUSD:    amountUSD,
		PaymentRef:   req.PaymentRef,
		CardLastFour: req.CardLastFour,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.FromTransferResult(result))
}
