package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SettlementStatus represents the state of a business settlement request.
type SettlementStatus string

const (
	SettlementStatusPending  SettlementStatus = "pendiente"
	SettlementStatusApproved SettlementStatus = "aprobada" // reserved, never produced
	SettlementStatusPaid     SettlementStatus = "pagado"
	SettlementStatusRejected SettlementStatus = "rechazado"
)

// ActiveSettlementStatuses block a new request for the same business.
// A paid settlement stays active: the sweep happens once per business.
var ActiveSettlementStatuses = []SettlementStatus{
	SettlementStatusPending,
	SettlementStatusApproved,
	SettlementStatusPaid,
}

var settlementTransitions = map[SettlementStatus][]SettlementStatus{
	SettlementStatusPending:  {SettlementStatusPaid, SettlementStatusRejected},
	SettlementStatusApproved: {SettlementStatusPaid, SettlementStatusRejected},
	SettlementStatusPaid:     {},
	SettlementStatusRejected: {},
}

// CanTransitionTo reports whether s may move to next.
func (s SettlementStatus) CanTransitionTo(next SettlementStatus) bool {
	for _, allowed := range settlementTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsActive reports whether s counts against the one-request-per-business rule.
func (s SettlementStatus) IsActive() bool {
	for _, a := range ActiveSettlementStatuses {
		if s == a {
			return true
		}
	}
	return false
}

// SettlementRequest is a one-time sweep of a business balance to the treasury.
type SettlementRequest struct {
	ID              uuid.UUID        `json:"id"`
	EventID         string           `json:"event_id"`
	BusinessID      string           `json:"business_id"`
	RequestedAmount decimal.Decimal  `json:"requested_amount"`
	TokenSymbol     string           `json:"token_symbol"`
	Method          string           `json:"method"`
	Notes           *string          `json:"notes,omitempty"`
	Status          SettlementStatus `json:"status"`
	CreatedBy       string           `json:"created_by"`
	ApprovedBy      *string          `json:"approved_by,omitempty"`
	TxHash          *string          `json:"tx_hash,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	PaidAt          *time.Time       `json:"paid_at,omitempty"`
}
