package handler

import (
	"context"

	"custodial-ledger/internal/adapter/http/dto"
	"custodial-ledger/internal/core/ports"
	"custodial-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// RateUpdater persists a new USD/token rate and refreshes the cache.
type RateUpdater interface {
	UpdateRate(ctx context.Context, usdPerToken decimal.Decimal) error
}

// TreasuryHandler handles treasury configuration endpoints. Operator only.
type TreasuryHandler struct {
	treasury ports.TreasuryProvider
	rates    RateUpdater
}

// NewTreasuryHandler creates a new TreasuryHandler.
func NewTreasuryHandler(treasury ports.TreasuryProvider, rates RateUpdater) *TreasuryHandler {
	return &TreasuryHandler{treasury: treasury, rates: rates}
}

// GetSettings handles GET /api/v1/treasury.
func (h *TreasuryHandler) GetSettings(c *gin.Context) {
	settings, err := h.treasury.Settings(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, gin.H{
		"address":       settings.TreasuryAddress,
		"contract_hash": settings.ContractHash,
		"symbol":        settings.Symbol,
		"decimals":      settings.Decimals,
		"network":       settings.Network,
		"usd_per_token": settings.USDPerToken.String(),
	})
}

// UpdateRate handles PUT /api/v1/treasury/rate.
func (h *TreasuryHandler) UpdateRate(c *gin.Context) {
	var req dto.RateRequest
	if !bindJSON(c, &req) {
		return
	}
	rate, ok := mustAmount(c, req.USDPerToken)
	if !ok {
		return
	}

	if err := h.rates.UpdateRate(c.Request.Context(), rate); err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, gin.H{"usd_per_token": rate.String()})
}
