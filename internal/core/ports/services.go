package ports

import (
	"context"
	"errors"
	"math/big"

	"custodial-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// KeyVault encrypts key material at rest with an authenticated cipher.
type KeyVault interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(blob string) (string, error)
}

// GeneratedKey is fresh key material returned by a KeyGenerator.
type GeneratedKey struct {
	Address    string
	PrivateKey string // WIF
	Mnemonic   *string
}

// KeyGenerator creates chain keypairs.
type KeyGenerator interface {
	GenerateKey() (*GeneratedKey, error)
	AddressFromKey(privateKey string) (string, error)
}

// ReceiptStatus is the normalized outcome of a confirmed transaction.
type ReceiptStatus string

const (
	ReceiptStatusSuccess ReceiptStatus = "success"
	ReceiptStatusFailed  ReceiptStatus = "failed"
)

// Receipt describes a transaction included on chain.
type Receipt struct {
	Hash        string
	Status      ReceiptStatus
	VMState     string
	GasConsumed int64
	BlockIndex  uint32
	Exception   string
}

var (
	// ErrTransactionExpired means the chain passed the transaction's
	// valid-until block without including it. The transfer did not happen.
	ErrTransactionExpired = errors.New("transaction expired without inclusion")
	// ErrOutcomeUnknown marks a transfer that was broadcast but whose
	// inclusion could not be established before giving up.
	ErrOutcomeUnknown = errors.New("transfer outcome unknown")
)

// Submission identifies a broadcast transaction. ValidUntilBlock is the
// last block that may include it; zero means unknown.
type Submission struct {
	Hash            string
	ValidUntilBlock uint32
}

// ChainGateway talks to the one network and token contract the system uses.
// All amounts are integers in the smallest unit.
type ChainGateway interface {
	TokenInfo(ctx context.Context) (symbol string, decimals int, err error)
	TokenBalance(ctx context.Context, address string) (*big.Int, error)
	NativeBalance(ctx context.Context, address string) (*big.Int, error)
	SubmitTokenTransfer(ctx context.Context, privateKey, to string, amount *big.Int) (*Submission, error)
	SubmitNativeTransfer(ctx context.Context, privateKey, to string, amount *big.Int) (*Submission, error)
	// AwaitConfirmation blocks until the transaction is included, expires,
	// or ctx ends. A non-nil error or a non-success receipt are both failures;
	// only ErrTransactionExpired proves nothing moved.
	AwaitConfirmation(ctx context.Context, tx Submission) (*Receipt, error)
	// LookupTransaction checks inclusion without waiting. It returns
	// ErrTransactionExpired once tx can no longer be included.
	LookupTransaction(ctx context.Context, tx Submission) (*Receipt, bool, error)
}

// AccountLocker serializes signing per account.
type AccountLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// LedgerEventPublisher announces ledger status changes to other systems.
type LedgerEventPublisher interface {
	PublishEntry(ctx context.Context, entry *domain.LedgerEntry) error
}

// --- Service Ports (Business Logic) ---

// AccountRegistry manages custodial accounts. Decrypted keys are only
// reachable inside WithSigningKey.
type AccountRegistry interface {
	Create(ctx context.Context, owner domain.OwnerRef) (*domain.CustodialAccount, error)
	Get(ctx context.Context, owner domain.OwnerRef) (*domain.CustodialAccount, error)
	MustGet(ctx context.Context, owner domain.OwnerRef) (*domain.CustodialAccount, error)
	WithSigningKey(ctx context.Context, account *domain.CustodialAccount, fn func(privateKey string) error) error
}

// TreasuryProvider exposes the cached token/treasury configuration.
type TreasuryProvider interface {
	Settings(ctx context.Context) (*domain.TreasurySettings, error)
	TreasuryAccount(ctx context.Context) (*domain.CustodialAccount, error)
	Reload(ctx context.Context) error
}

// GasMaintainer keeps signer accounts funded with native currency.
type GasMaintainer interface {
	EnsureGasBalance(ctx context.Context, address string) error
}

// TransferService is the orchestrator of every outgoing token movement.
type TransferService interface {
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
	RecordIncoming(ctx context.Context, entry *domain.LedgerEntry) error
}

// TransferRequest holds validated input for a token transfer.
type TransferRequest struct {
	From      domain.OwnerRef
	ToAddress string
	Amount    decimal.Decimal
	Metadata  map[string]any

	// Ledger row shape; zero values mean transferencia / saliente / From.
	EntryType   domain.EntryType
	Direction   domain.Direction
	LedgerOwner *domain.OwnerRef
}

// TransferResult is the outcome of a confirmed transfer.
type TransferResult struct {
	EntryID uuid.UUID
	Hash    string
	Status  domain.EntryStatus
}

// Balance is an owner's current on-chain token balance.
type Balance struct {
	Address string
	Balance decimal.Decimal
	Symbol  string
	Network string
}

// WalletService exposes balance/ledger queries and user-facing movements.
type WalletService interface {
	CreateWallet(ctx context.Context, owner domain.OwnerRef) (string, error)
	GetBalance(ctx context.Context, owner domain.OwnerRef) (*Balance, error)
	GetLedger(ctx context.Context, params LedgerListParams) ([]domain.LedgerEntry, int64, error)
	SendToUser(ctx context.Context, fromUserID, toUserID string, amount decimal.Decimal, note string) (*TransferResult, error)
	Pay(ctx context.Context, userID, businessID string, amount decimal.Decimal, note string) (*TransferResult, error)
	Recharge(ctx context.Context, req RechargeRequest) (*TransferResult, error)
}

// RechargeRequest is a card-funded top-up settled by the payment provider.
type RechargeRequest struct {
	UserID       string
	AmountUSD    decimal.Decimal
	PaymentRef   string
	CardLastFour string
}

// SettlementService runs the business → treasury settlement workflow.
type SettlementService interface {
	CreateRequest(ctx context.Context, in CreateSettlementInput) (*domain.SettlementRequest, error)
	Approve(ctx context.Context, id uuid.UUID, approverID string) (*domain.SettlementRequest, error)
	Reject(ctx context.Context, id uuid.UUID, approverID string, notes string) (*domain.SettlementRequest, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.SettlementRequest, error)
	ListByEvent(ctx context.Context, eventID string) ([]domain.SettlementRequest, error)
}

// CreateSettlementInput holds input for a new settlement request.
type CreateSettlementInput struct {
	UserID     string
	EventID    string
	BusinessID string
	Method     string
	Notes      *string
}

// WithdrawalService runs the user withdrawal workflow.
type WithdrawalService interface {
	Request(ctx context.Context, userID string, amount decimal.Decimal, notes *string) (*domain.WithdrawalRequest, error)
	Approve(ctx context.Context, id uuid.UUID, approverID string, txHash *string) (*domain.WithdrawalRequest, error)
	Reject(ctx context.Context, id uuid.UUID, approverID string, notes string) (*domain.WithdrawalRequest, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.WithdrawalRequest, error)
	ListByUser(ctx context.Context, userID string) ([]domain.WithdrawalRequest, error)
}

// TokenService validates caller identity tokens issued by the auth layer.
type TokenService interface {
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed caller identity.
type TokenClaims struct {
	Subject string
	Role    string
}

// RoleOperator marks callers allowed to approve and reject requests.
const RoleOperator = "operator"
