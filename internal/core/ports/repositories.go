package ports

import (
	"context"
	"errors"
	"time"

	"custodial-ledger/internal/core/domain"

	"github.com/google/uuid"
)

var (
	// ErrUniqueViolation is returned when an insert hits a unique index,
	// including the partial "one active request" indexes.
	ErrUniqueViolation = errors.New("unique constraint violated")
	// ErrStaleStatus is returned by conditional updates when the row is no
	// longer in the expected status.
	ErrStaleStatus = errors.New("row is not in the expected status")
)

// AccountRepository defines persistence operations for custodial accounts.
type AccountRepository interface {
	Create(ctx context.Context, account *domain.CustodialAccount) error
	GetByOwner(ctx context.Context, owner domain.OwnerRef) (*domain.CustodialAccount, error)
	GetByAddress(ctx context.Context, address string) (*domain.CustodialAccount, error)
}

// LedgerRepository defines persistence for ledger entries.
// Rows are never deleted; Update is conditional on the current status.
type LedgerRepository interface {
	Create(ctx context.Context, entry *domain.LedgerEntry) error
	Update(ctx context.Context, id uuid.UUID, from domain.EntryStatus, update domain.EntryUpdate) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.LedgerEntry, error)
	List(ctx context.Context, params LedgerListParams) ([]domain.LedgerEntry, int64, error)
	ListStale(ctx context.Context, status domain.EntryStatus, updatedBefore time.Time, limit int) ([]domain.LedgerEntry, error)
	// ListUnresolved returns fallida entries whose transaction was broadcast
	// but never confirmed either way, oldest first.
	ListUnresolved(ctx context.Context, updatedBefore time.Time, limit int) ([]domain.LedgerEntry, error)
}

// LedgerListParams holds filter + pagination for listing ledger entries.
type LedgerListParams struct {
	Owner    domain.OwnerRef
	Status   *domain.EntryStatus
	Type     *domain.EntryType
	Page     int
	PageSize int
}

// SettlementRepository defines persistence for settlement requests.
type SettlementRepository interface {
	// Create fails with ErrUniqueViolation when the business already has an
	// active request.
	Create(ctx context.Context, req *domain.SettlementRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.SettlementRequest, error)
	HasActive(ctx context.Context, businessID string) (bool, error)
	Transition(ctx context.Context, id uuid.UUID, from domain.SettlementStatus, update SettlementUpdate) error
	ListByEvent(ctx context.Context, eventID string) ([]domain.SettlementRequest, error)
}

// SettlementUpdate holds the fields written on a settlement status move.
type SettlementUpdate struct {
	Status     domain.SettlementStatus
	ApprovedBy *string
	TxHash     *string
	Notes      *string
	PaidAt     *time.Time
}

// WithdrawalRepository defines persistence for withdrawal requests.
type WithdrawalRepository interface {
	// Create fails with ErrUniqueViolation when the user already has an
	// active request.
	Create(ctx context.Context, req *domain.WithdrawalRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WithdrawalRequest, error)
	HasActive(ctx context.Context, userID string) (bool, error)
	Transition(ctx context.Context, id uuid.UUID, from domain.WithdrawalStatus, update WithdrawalUpdate) error
	ListByUser(ctx context.Context, userID string) ([]domain.WithdrawalRequest, error)
}

// WithdrawalUpdate holds the fields written on a withdrawal status move.
type WithdrawalUpdate struct {
	Status      domain.WithdrawalStatus
	ProcessedBy *string
	ProcessedAt *time.Time
	TxHash      *string
	Notes       *string
}

// DirectoryRepository reads event, business and membership facts owned by
// the directory component.
type DirectoryRepository interface {
	GetEvent(ctx context.Context, eventID string) (*domain.Event, error)
	GetBusiness(ctx context.Context, businessID string) (*domain.Business, error)
	IsMember(ctx context.Context, businessID, userID string) (bool, error)
}

// SettingsRepository stores administrative treasury settings.
type SettingsRepository interface {
	Get(ctx context.Context, key string) (*string, error)
	Put(ctx context.Context, key, value string) error
}

// Transactor runs fn inside one database transaction. Repositories called
// with the ctx passed to fn join that transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
