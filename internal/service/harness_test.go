package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"custodial-ledger/internal/adapter/storage/memory"
	"custodial-ledger/internal/core/domain"
	"custodial-ledger/internal/core/ports"
	"custodial-ledger/internal/testutil"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	testSymbol   = "CLT"
	testDecimals = 8
	testGasMin   = 50
	testGasTopUp = 100
)

// recordingPublisher keeps the status history of every published entry.
type recordingPublisher struct {
	mu       sync.Mutex
	statuses map[uuid.UUID][]domain.EntryStatus
}

func (p *recordingPublisher) PublishEntry(_ context.Context, e *domain.LedgerEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.statuses == nil {
		p.statuses = make(map[uuid.UUID][]domain.EntryStatus)
	}
	p.statuses[e.ID] = append(p.statuses[e.ID], e.Status)
	return nil
}

func (p *recordingPublisher) history(id uuid.UUID) []domain.EntryStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.EntryStatus(nil), p.statuses[id]...)
}

// harness wires the real services over memory repositories and a fake chain.
type harness struct {
	chain        *testutil.FakeChain
	ledger       *memory.LedgerRepo
	settleRepo   *memory.SettlementRepo
	withdrawRepo *memory.WithdrawalRepo
	directory    *memory.DirectoryRepo
	settings     *memory.SettingsRepo
	events       *recordingPublisher

	accounts    *AccountService
	treasury    *TreasuryManager
	gas         *GasService
	transfers   *TransferService
	wallet      *WalletService
	settlements *SettlementService
	withdrawals *WithdrawalService

	treasuryAccount *domain.CustodialAccount
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	log := zerolog.Nop()

	h := &harness{
		chain:        testutil.NewFakeChain(testSymbol, testDecimals),
		ledger:       memory.NewLedgerRepo(),
		settleRepo:   memory.NewSettlementRepo(),
		withdrawRepo: memory.NewWithdrawalRepo(),
		directory:    memory.NewDirectoryRepo(),
		settings:     memory.NewSettingsRepo(),
		events:       &recordingPublisher{},
	}
	locker := memory.NewKeyedLocker()

	h.accounts = NewAccountService(memory.NewAccountRepo(), testVault(t), h.chain, "testnet", log)
	treasury, err := h.accounts.ImportTreasury(ctx, "")
	require.NoError(t, err)
	h.treasuryAccount = treasury
	h.chain.SetNativeBalance(treasury.Address, 1_000_000)

	h.treasury = NewTreasuryManager(h.chain, h.accounts, h.settings, TreasuryConfig{
		ContractHash:       "0xcontract",
		Network:            "testnet",
		DefaultUSDPerToken: decimal.NewFromInt(1),
	}, log)
	h.gas = NewGasService(h.chain, h.treasury, h.accounts, GasConfig{
		MinBalance:   testGasMin,
		TopUpAmount:  testGasTopUp,
		MaxAttempts:  2,
		RetryBackoff: time.Millisecond,
	}, log)
	h.transfers = NewTransferService(h.accounts, h.ledger, h.chain, h.gas, h.treasury, locker, h.events, log)
	h.wallet = NewWalletService(h.accounts, h.transfers, h.ledger, h.chain, h.treasury, h.directory, log)
	h.settlements = NewSettlementService(h.settleRepo, h.directory, h.accounts, h.transfers, h.chain, h.treasury, locker, memory.Transactor{}, log)
	h.withdrawals = NewWithdrawalService(h.withdrawRepo, h.accounts, h.transfers, h.chain, h.treasury, locker, log)
	return h
}

// fund creates owner's account with a token balance and enough gas.
func (h *harness) fund(t *testing.T, owner domain.OwnerRef, tokens string) *domain.CustodialAccount {
	t.Helper()
	acc, err := h.accounts.Create(context.Background(), owner)
	require.NoError(t, err)
	h.chain.SetTokenBalance(acc.Address, tokens)
	h.chain.SetNativeBalance(acc.Address, testGasMin*10)
	return acc
}

func (h *harness) entries(t *testing.T, owner domain.OwnerRef) []domain.LedgerEntry {
	t.Helper()
	out, _, err := h.ledger.List(context.Background(), ports.LedgerListParams{Owner: owner, Page: 1, PageSize: 100})
	require.NoError(t, err)
	return out
}

func (h *harness) balance(addr string) string {
	return domain.FormatAmount(h.chain.TokenBalanceOf(addr))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func strPtr(s string) *string {
	return &s
}
