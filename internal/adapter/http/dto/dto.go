package dto

import (
	"time"

	"custodial-ledger/internal/core/domain"
	"custodial-ledger/internal/core/ports"
)

// TransferRequest is the request body for a student-to-student transfer.
type TransferRequest struct {
	ToUserID string `json:"to_user_id" binding:"required,max=64,safe_id"`
	Amount   string `json:"amount" binding:"required,amount"`
	Note     string `json:"note" binding:"max=255"`
}

// PayRequest is the request body for paying a business.
type PayRequest struct {
	BusinessID string `json:"business_id" binding:"required,max=64,safe_id"`
	Amount     string `json:"amount" binding:"required,amount"`
	Note       string `json:"note" binding:"max=255"`
}

// RechargeRequest is the request body for a card-funded recharge, posted by
// an operator once the payment provider has settled.
type RechargeRequest struct {
	UserID       string `json:"user_id" binding:"required,max=64,safe_id"`
	AmountUSD    string `json:"amount_usd" binding:"required,amount"`
	PaymentRef   string `json:"payment_ref" binding:"required,max=100,safe_id"`
	CardLastFour string `json:"card_last_four" binding:"omitempty,len=4,numeric"`
}

// CreateWalletRequest is the request body for opening a custodial account.
// An empty owner_type opens the caller's own student wallet.
type CreateWalletRequest struct {
	OwnerType string `json:"owner_type" binding:"omitempty,oneof=user business"`
	OwnerID   string `json:"owner_id" binding:"omitempty,max=64,safe_id"`
}

// WithdrawalRequest is the request body for a withdrawal request.
type WithdrawalRequest struct {
	Amount string  `json:"amount" binding:"required,amount"`
	Notes  *string `json:"notes,omitempty" binding:"omitempty,max=500"`
}

// ApproveWithdrawalRequest optionally carries the hash of a payout made
// outside the system.
type ApproveWithdrawalRequest struct {
	TxHash *string `json:"tx_hash,omitempty" binding:"omitempty,max=66"`
}

// RejectRequest is the request body for rejecting a request.
type RejectRequest struct {
	Notes string `json:"notes" binding:"required,max=500"`
}

// CreateSettlementRequest is the request body for a settlement request.
type CreateSettlementRequest struct {
	EventID    string  `json:"event_id" binding:"required,max=64,safe_id"`
	BusinessID string  `json:"business_id" binding:"required,max=64,safe_id"`
	Method     string  `json:"method" binding:"required,max=50"`
	Notes      *string `json:"notes,omitempty" binding:"omitempty,max=500"`
}

// RateRequest is the request body for changing the USD/token rate.
type RateRequest struct {
	USDPerToken string `json:"usd_per_token" binding:"required,amount"`
}

// LedgerQuery holds the query string of a ledger listing.
type LedgerQuery struct {
	Page     int    `form:"page" binding:"omitempty,min=1"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	Status   string `form:"status" binding:"omitempty,oneof=pendiente en_proceso completada fallida"`
	Type     string `form:"type" binding:"omitempty,oneof=transferencia pago recarga retiro liquidacion"`
}

// WalletResponse is the response body for a created wallet.
type WalletResponse struct {
	Address string `json:"address"`
}

// BalanceResponse is the response body for a balance query.
type BalanceResponse struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
	Symbol  string `json:"symbol"`
	Network string `json:"network"`
}

// TransferResponse is the response body for a confirmed movement.
type TransferResponse struct {
	EntryID string `json:"entry_id"`
	TxHash  string `json:"tx_hash"`
	Status  string `json:"status"`
}

// EntryResponse is one ledger row.
type EntryResponse struct {
	ID          string         `json:"id"`
	OwnerType   string         `json:"owner_type"`
	OwnerID     string         `json:"owner_id"`
	Type        string         `json:"type"`
	Direction   string         `json:"direction"`
	Status      string         `json:"status"`
	Amount      string         `json:"amount"`
	Currency    string         `json:"currency"`
	TxHash      *string        `json:"tx_hash,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   string         `json:"created_at"`
	CompletedAt *string        `json:"completed_at,omitempty"`
}

// SettlementResponse is one settlement request.
type SettlementResponse struct {
	ID              string  `json:"id"`
	EventID         string  `json:"event_id"`
	BusinessID      string  `json:"business_id"`
	RequestedAmount string  `json:"requested_amount"`
	TokenSymbol     string  `json:"token_symbol"`
	Method          string  `json:"method"`
	Notes           *string `json:"notes,omitempty"`
	Status          string  `json:"status"`
	CreatedBy       string  `json:"created_by"`
	ApprovedBy      *string `json:"approved_by,omitempty"`
	TxHash          *string `json:"tx_hash,omitempty"`
	CreatedAt       string  `json:"created_at"`
	PaidAt          *string `json:"paid_at,omitempty"`
}

// WithdrawalResponse is one withdrawal request.
type WithdrawalResponse struct {
	ID          string  `json:"id"`
	UserID      string  `json:"user_id"`
	Amount      string  `json:"amount"`
	TokenSymbol string  `json:"token_symbol"`
	Status      string  `json:"status"`
	Notes       *string `json:"notes,omitempty"`
	ProcessedBy *string `json:"processed_by,omitempty"`
	ProcessedAt *string `json:"processed_at,omitempty"`
	TxHash      *string `json:"tx_hash,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

// FromBalance maps a balance snapshot.
func FromBalance(b *ports.Balance) BalanceResponse {
	return BalanceResponse{
		Address: b.Address,
		Balance: domain.FormatAmount(b.Balance),
		Symbol:  b.Symbol,
		Network: b.Network,
	}
}

// FromTransferResult maps a confirmed movement.
func FromTransferResult(r *ports.TransferResult) TransferResponse {
	return TransferResponse{
		EntryID: r.EntryID.String(),
		TxHash:  r.Hash,
		Status:  string(r.Status),
	}
}

// FromEntry maps a ledger row.
func FromEntry(e *domain.LedgerEntry) EntryResponse {
	return EntryResponse{
		ID:          e.ID.String(),
		OwnerType:   string(e.OwnerType),
		OwnerID:     e.OwnerID,
		Type:        string(e.Type),
		Direction:   string(e.Direction),
		Status:      string(e.Status),
		Amount:      e.Amount,
		Currency:    e.Currency,
		TxHash:      e.Reference,
		Metadata:    e.Metadata,
		CreatedAt:   formatTime(e.CreatedAt),
		CompletedAt: formatTimePtr(e.CompletedAt),
	}
}

// FromEntries maps a page of ledger rows.
func FromEntries(entries []domain.LedgerEntry) []EntryResponse {
	out := make([]EntryResponse, 0, len(entries))
	for i := range entries {
		out = append(out, FromEntry(&entries[i]))
	}
	return out
}

// FromSettlement maps a settlement request.
func FromSettlement(s *domain.SettlementRequest) SettlementResponse {
	return SettlementResponse{
		ID:              s.ID.String(),
		EventID:         s.EventID,
		BusinessID:      s.BusinessID,
		RequestedAmount: domain.FormatAmount(s.RequestedAmount),
		TokenSymbol:     s.TokenSymbol,
		Method:          s.Method,
		Notes:           s.Notes,
		Status:          string(s.Status),
		CreatedBy:       s.CreatedBy,
		ApprovedBy:      s.ApprovedBy,
		TxHash:          s.TxHash,
		CreatedAt:       formatTime(s.CreatedAt),
		PaidAt:          formatTimePtr(s.PaidAt),
	}
}

// FromSettlements maps a list of settlement requests.
func FromSettlements(list []domain.SettlementRequest) []SettlementResponse {
	out := make([]SettlementResponse, 0, len(list))
	for i := range list {
		out = append(out, FromSettlement(&list[i]))
	}
	return out
}

// FromWithdrawal maps a withdrawal request.
func FromWithdrawal(w *domain.WithdrawalRequest) WithdrawalResponse {
	return WithdrawalResponse{
		ID:          w.ID.String(),
		UserID:      w.UserID,
		Amount:      domain.FormatAmount(w.Amount),
		TokenSymbol: w.TokenSymbol,
		Status:      string(w.Status),
		Notes:       w.Notes,
		ProcessedBy: w.ProcessedBy,
		ProcessedAt: formatTimePtr(w.ProcessedAt),
		TxHash:      w.TxHash,
		CreatedAt:   formatTime(w.CreatedAt),
	}
}

// FromWithdrawals maps a list of withdrawal requests.
func FromWithdrawals(list []domain.WithdrawalRequest) []WithdrawalResponse {
	out := make([]WithdrawalResponse, 0, len(list))
	for i := range list {
		out = append(out, FromWithdrawal(&list[i]))
	}
	return out
}
