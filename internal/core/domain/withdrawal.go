package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WithdrawalStatus represents the state of a user withdrawal request.
type WithdrawalStatus string

const (
	WithdrawalStatusPending    WithdrawalStatus = "pendiente"
	WithdrawalStatusProcessing WithdrawalStatus = "en_proceso"
	WithdrawalStatusCompleted  WithdrawalStatus = "completado"
	WithdrawalStatusRejected   WithdrawalStatus = "rechazado"
)

// ActiveWithdrawalStatuses block a new request for the same user.
var ActiveWithdrawalStatuses = []WithdrawalStatus{
	WithdrawalStatusPending,
	WithdrawalStatusProcessing,
}

// An en_proceso request has a payout in flight and can only be completed
// or released, never rejected.
var withdrawalTransitions = map[WithdrawalStatus][]WithdrawalStatus{
	WithdrawalStatusPending:    {WithdrawalStatusProcessing, WithdrawalStatusCompleted, WithdrawalStatusRejected},
	WithdrawalStatusProcessing: {WithdrawalStatusPending, WithdrawalStatusCompleted},
	WithdrawalStatusCompleted:  {},
	WithdrawalStatusRejected:   {},
}

// CanTransitionTo reports whether s may move to next.
func (s WithdrawalStatus) CanTransitionTo(next WithdrawalStatus) bool {
	for _, allowed := range withdrawalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsActive reports whether s counts against the one-request-per-user rule.
func (s WithdrawalStatus) IsActive() bool {
	return s == WithdrawalStatusPending || s == WithdrawalStatusProcessing
}

// WithdrawalRequest is a user-initiated payout, paid from the user's account
// into the treasury once an operator approves it.
type WithdrawalRequest struct {
	ID          uuid.UUID        `json:"id"`
	UserID      string           `json:"user_id"`
	Amount      decimal.Decimal  `json:"amount"`
	TokenSymbol string           `json:"token_symbol"`
	Status      WithdrawalStatus `json:"status"`
	Notes       *string          `json:"notes,omitempty"`
	ProcessedBy *string          `json:"processed_by,omitempty"`
	ProcessedAt *time.Time       `json:"processed_at,omitempty"`
	TxHash      *string          `json:"tx_hash,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}
