package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryType represents the kind of balance-affecting action.
type EntryType string

const (
	EntryTypeTransfer   EntryType = "transferencia"
	EntryTypePayment    EntryType = "pago"
	EntryTypeRecharge   EntryType = "recarga"
	EntryTypeWithdrawal EntryType = "retiro"
	EntryTypeSettlement EntryType = "liquidacion"
)

// EntryStatus represents the lifecycle state of a ledger entry.
type EntryStatus string

const (
	EntryStatusPending    EntryStatus = "pendiente"
	EntryStatusProcessing EntryStatus = "en_proceso"
	EntryStatusCompleted  EntryStatus = "completada"
	EntryStatusFailed     EntryStatus = "fallida"
)

// Direction is the side of the movement as seen from the owning account.
type Direction string

const (
	DirectionIncoming Direction = "entrante"
	DirectionOutgoing Direction = "saliente"
)

// entryTransitions lists the legal moves of the ledger state machine.
// A pending row may only leave through a chain call, so it never jumps to
// completada directly.
var entryTransitions = map[EntryStatus][]EntryStatus{
	EntryStatusPending:    {EntryStatusProcessing, EntryStatusFailed},
	EntryStatusProcessing: {EntryStatusCompleted, EntryStatusFailed},
	EntryStatusCompleted:  {},
	EntryStatusFailed:     {},
}

// CanTransitionTo reports whether s may move to next.
func (s EntryStatus) CanTransitionTo(next EntryStatus) bool {
	for _, allowed := range entryTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal returns true for completada and fallida.
func (s EntryStatus) IsTerminal() bool {
	return s == EntryStatusCompleted || s == EntryStatusFailed
}

// Metadata keys written by the orchestrator.
const (
	MetaCounterparty        = "counterparty"
	MetaError               = "error"
	MetaConfirmationTimeout = "confirmation_timeout"
	MetaBlockIndex          = "block_index"
	MetaGasConsumed         = "gas_consumed"
	MetaVMState             = "vm_state"
	MetaReconciled          = "reconciled"
	MetaValidUntilBlock     = "valid_until_block"
	// MetaOutcomeUnknown is true on a fallida entry whose transaction may
	// still land; the reconciler clears it once the chain answers.
	MetaOutcomeUnknown = "outcome_unknown"
	// MetaLateOutcome records what the chain did with such a transaction:
	// one of the LateOutcome* values.
	MetaLateOutcome = "late_outcome"
)

// Late outcomes of a transaction whose confirmation was given up on.
const (
	LateOutcomeLanded  = "landed"
	LateOutcomeFaulted = "faulted"
	LateOutcomeExpired = "expired"
	LateOutcomeMissing = "not_found"
)

// ValidUntilBlock reads the valid-until block stored in metadata. Values
// decoded from JSON arrive as float64.
func ValidUntilBlock(md map[string]any) uint32 {
	switch v := md[MetaValidUntilBlock].(type) {
	case uint32:
		return v
	case int:
		if v > 0 {
			return uint32(v)
		}
	case int64:
		if v > 0 {
			return uint32(v)
		}
	case float64:
		if v > 0 {
			return uint32(v)
		}
	}
	return 0
}

// LedgerEntry is the off-chain record of one balance-affecting operation.
type LedgerEntry struct {
	ID          uuid.UUID      `json:"id"`
	UserID      *string        `json:"user_id,omitempty"`
	OwnerType   OwnerType      `json:"owner_type"`
	OwnerID     string         `json:"owner_id"`
	Reference   *string        `json:"reference,omitempty"` // chain tx hash
	Type        EntryType      `json:"type"`
	Status      EntryStatus    `json:"status"`
	Direction   Direction      `json:"direction"`
	Amount      string         `json:"amount"` // fixed 4-decimal string
	Currency    string         `json:"currency"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// NewLedgerEntry builds a pendiente entry for the given owner.
func NewLedgerEntry(owner OwnerRef, entryType EntryType, direction Direction, amount decimal.Decimal, currency string, metadata map[string]any) *LedgerEntry {
	now := time.Now().UTC()
	e := &LedgerEntry{
		ID:        uuid.New(),
		OwnerType: owner.Type,
		OwnerID:   owner.ID,
		Type:      entryType,
		Status:    EntryStatusPending,
		Direction: direction,
		Amount:    FormatAmount(amount),
		Currency:  currency,
		Metadata:  copyMetadata(metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if owner.Type == OwnerTypeUser {
		id := owner.ID
		e.UserID = &id
	}
	return e
}

// EntryUpdate describes a status move of a ledger entry.
type EntryUpdate struct {
	Status      EntryStatus
	Reference   *string
	Metadata    map[string]any // merged into the existing metadata
	CompletedAt *time.Time
}

func copyMetadata(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
