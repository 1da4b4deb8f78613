package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"custodial-ledger/internal/core/domain"
	"custodial-ledger/internal/core/ports"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithdrawalRepo_ConcurrentCreateAllowsOneActive(t *testing.T) {
	repo := NewWithdrawalRepo()
	ctx := context.Background()

	var ok, conflicts int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.Create(ctx, &domain.WithdrawalRequest{
				ID:     uuid.New(),
				UserID: "u-1",
				Amount: decimal.NewFromInt(1),
				Status: domain.WithdrawalStatusPending,
			})
			switch {
			case err == nil:
				atomic.AddInt32(&ok, 1)
			case errors.Is(err, ports.ErrUniqueViolation):
				atomic.AddInt32(&conflicts, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok)
	assert.Equal(t, int32(9), conflicts)
}

func TestWithdrawalRepo_NewRequestAfterTerminal(t *testing.T) {
	repo := NewWithdrawalRepo()
	ctx := context.Background()
	first := &domain.WithdrawalRequest{ID: uuid.New(), UserID: "u-1", Status: domain.WithdrawalStatusPending}
	require.NoError(t, repo.Create(ctx, first))

	require.NoError(t, repo.Transition(ctx, first.ID, domain.WithdrawalStatusPending, ports.WithdrawalUpdate{
		Status: domain.WithdrawalStatusRejected,
	}))

	active, err := repo.HasActive(ctx, "u-1")
	require.NoError(t, err)
	assert.False(t, active)
	assert.NoError(t, repo.Create(ctx, &domain.WithdrawalRequest{ID: uuid.New(), UserID: "u-1", Status: domain.WithdrawalStatusPending}))
}

func TestSettlementRepo_PaidStaysActive(t *testing.T) {
	repo := NewSettlementRepo()
	ctx := context.Background()
	s := &domain.SettlementRequest{ID: uuid.New(), BusinessID: "b-1", EventID: "ev", Status: domain.SettlementStatusPending}
	require.NoError(t, repo.Create(ctx, s))

	hash := "0xaa"
	require.NoError(t, repo.Transition(ctx, s.ID, domain.SettlementStatusPending, ports.SettlementUpdate{
		Status: domain.SettlementStatusPaid,
		TxHash: &hash,
	}))

	err := repo.Create(ctx, &domain.SettlementRequest{ID: uuid.New(), BusinessID: "b-1", Status: domain.SettlementStatusPending})
	assert.ErrorIs(t, err, ports.ErrUniqueViolation)

	err = repo.Transition(ctx, s.ID, domain.SettlementStatusPending, ports.SettlementUpdate{Status: domain.SettlementStatusRejected})
	assert.ErrorIs(t, err, ports.ErrStaleStatus)
}

func TestLedgerRepo_UpdateMergesMetadata(t *testing.T) {
	repo := NewLedgerRepo()
	ctx := context.Background()
	e := domain.NewLedgerEntry(domain.UserOwner("u-1"), domain.EntryTypeTransfer, domain.DirectionOutgoing,
		decimal.NewFromInt(5), "CLT", map[string]any{domain.MetaCounterparty: "0xb"})
	require.NoError(t, repo.Create(ctx, e))

	ref := "0xhash"
	require.NoError(t, repo.Update(ctx, e.ID, domain.EntryStatusPending, domain.EntryUpdate{
		Status:    domain.EntryStatusProcessing,
		Reference: &ref,
		Metadata:  map[string]any{domain.MetaVMState: "HALT"},
	}))

	got, err := repo.GetByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EntryStatusProcessing, got.Status)
	assert.Equal(t, "0xhash", *got.Reference)
	assert.Equal(t, "0xb", got.Metadata[domain.MetaCounterparty])
	assert.Equal(t, "HALT", got.Metadata[domain.MetaVMState])

	err = repo.Update(ctx, e.ID, domain.EntryStatusPending, domain.EntryUpdate{Status: domain.EntryStatusFailed})
	assert.ErrorIs(t, err, ports.ErrStaleStatus)
}

func TestLedgerRepo_ListPaginatesNewestFirst(t *testing.T) {
	repo := NewLedgerRepo()
	ctx := context.Background()
	owner := domain.UserOwner("u-1")

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		e := domain.NewLedgerEntry(owner, domain.EntryTypeTransfer, domain.DirectionOutgoing, decimal.NewFromInt(int64(i+1)), "CLT", nil)
		e.CreatedAt = e.CreatedAt.Add(time.Duration(i) * time.Second)
		require.NoError(t, repo.Create(ctx, e))
		ids = append(ids, e.ID)
	}
	other := domain.NewLedgerEntry(domain.UserOwner("u-2"), domain.EntryTypeTransfer, domain.DirectionOutgoing, decimal.NewFromInt(1), "CLT", nil)
	require.NoError(t, repo.Create(ctx, other))

	page, total, err := repo.List(ctx, ports.LedgerListParams{Owner: owner, Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, page, 2)
	assert.Equal(t, ids[4], page[0].ID)

	page, _, err = repo.List(ctx, ports.LedgerListParams{Owner: owner, Page: 3, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[0], page[0].ID)

	page, _, err = repo.List(ctx, ports.LedgerListParams{Owner: owner, Page: 9, PageSize: 2})
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestLedgerRepo_ListStale(t *testing.T) {
	repo := NewLedgerRepo()
	ctx := context.Background()
	e := domain.NewLedgerEntry(domain.UserOwner("u-1"), domain.EntryTypeTransfer, domain.DirectionOutgoing, decimal.NewFromInt(1), "CLT", nil)
	require.NoError(t, repo.Create(ctx, e))

	stale, err := repo.ListStale(ctx, domain.EntryStatusPending, time.Now().Add(-time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, stale)

	repo.Backdate(e.ID, time.Hour)
	stale, err = repo.ListStale(ctx, domain.EntryStatusPending, time.Now().Add(-time.Minute), 10)
	require.NoError(t, err)
	assert.Len(t, stale, 1)
}

func TestAccountRepo_UniqueOwner(t *testing.T) {
	repo := NewAccountRepo()
	ctx := context.Background()
	a := &domain.CustodialAccount{ID: uuid.New(), OwnerType: domain.OwnerTypeUser, OwnerID: "u-1", Address: "0x01"}
	require.NoError(t, repo.Create(ctx, a))

	dup := &domain.CustodialAccount{ID: uuid.New(), OwnerType: domain.OwnerTypeUser, OwnerID: "u-1", Address: "0x02"}
	assert.ErrorIs(t, repo.Create(ctx, dup), ports.ErrUniqueViolation)

	got, err := repo.GetByAddress(ctx, "0x01")
	require.NoError(t, err)
	assert.Equal(t, "u-1", got.OwnerID)

	missing, err := repo.GetByOwner(ctx, domain.UserOwner("nobody"))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestKeyedLocker(t *testing.T) {
	l := NewKeyedLocker()

	unlock, err := l.Lock(context.Background(), "user:u-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "user:u-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := l.Lock(context.Background(), "user:u-2")
	require.NoError(t, err)
	other()

	unlock()
	unlock() // idempotent

	again, err := l.Lock(context.Background(), "user:u-1")
	require.NoError(t, err)
	again()
}

func TestKeyedLocker_ForgetsReleasedKeys(t *testing.T) {
	l := NewKeyedLocker()

	unlock, err := l.Lock(context.Background(), "withdrawal:w-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "withdrawal:w-1")
	require.Error(t, err)

	for i := 0; i < 10; i++ {
		u, err := l.Lock(context.Background(), fmt.Sprintf("settlement:s-%d", i))
		require.NoError(t, err)
		u()
	}
	assert.Len(t, l.locks, 1)

	unlock()
	assert.Empty(t, l.locks)
}

func TestLedgerRepo_ListUnresolved(t *testing.T) {
	repo := NewLedgerRepo()
	ctx := context.Background()

	unknown := domain.NewLedgerEntry(domain.UserOwner("u-1"), domain.EntryTypeTransfer, domain.DirectionOutgoing,
		decimal.RequireFromString("1"), "CLT", map[string]any{domain.MetaOutcomeUnknown: true})
	unknown.Status = domain.EntryStatusFailed
	settled := domain.NewLedgerEntry(domain.UserOwner("u-1"), domain.EntryTypeTransfer, domain.DirectionOutgoing,
		decimal.RequireFromString("2"), "CLT", map[string]any{domain.MetaOutcomeUnknown: false})
	settled.Status = domain.EntryStatusFailed
	definite := domain.NewLedgerEntry(domain.UserOwner("u-1"), domain.EntryTypeTransfer, domain.DirectionOutgoing,
		decimal.RequireFromString("3"), "CLT", map[string]any{})
	definite.Status = domain.EntryStatusFailed
	for _, e := range []*domain.LedgerEntry{unknown, settled, definite} {
		require.NoError(t, repo.Create(ctx, e))
		repo.Backdate(e.ID, time.Hour)
	}

	got, err := repo.ListUnresolved(ctx, time.Now().Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, unknown.ID, got[0].ID)

	got, err = repo.ListUnresolved(ctx, time.Now().Add(-2*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRateLimiter_PerKeyBuckets(t *testing.T) {
	rl := NewRateLimiter()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := rl.Allow(ctx, "a", 3, time.Hour)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	res, err := rl.Allow(ctx, "a", 3, time.Hour)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Zero(t, res.Remaining)

	res, err = rl.Allow(ctx, "b", 3, time.Hour)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(2), res.Remaining)
}
