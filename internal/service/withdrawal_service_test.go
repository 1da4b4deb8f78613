package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"custodial-ledger/internal/core/domain"
	"custodial-ledger/internal/core/ports"
	"custodial-ledger/pkg/apperror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithdrawal_OverBalanceIsNotPersisted(t *testing.T) {
	h := newHarness(t)
	h.fund(t, domain.UserOwner("u1"), "100")

	_, err := h.withdrawals.Request(context.Background(), "u1", dec("150"), nil)
	assert.Equal(t, "BAL_001", apperror.Code(err))

	list, err := h.withdrawals.ListByUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestWithdrawal_RequestValidation(t *testing.T) {
	h := newHarness(t)
	h.fund(t, domain.UserOwner("u1"), "100")
	ctx := context.Background()

	_, err := h.withdrawals.Request(ctx, "u1", dec("0"), nil)
	assert.Equal(t, "VAL_001", apperror.Code(err))
	_, err = h.withdrawals.Request(ctx, "u1", dec("0.00001"), nil)
	assert.Equal(t, "VAL_002", apperror.Code(err))
	_, err = h.withdrawals.Request(ctx, "ghost", dec("1"), nil)
	assert.Equal(t, "NF_002", apperror.Code(err))
}

func TestWithdrawal_ConcurrentRequestsOneWins(t *testing.T) {
	h := newHarness(t)
	h.fund(t, domain.UserOwner("u1"), "100")

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.withdrawals.Request(context.Background(), "u1", dec("10"), nil)
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		if err == nil {
			ok++
		} else if apperror.Code(err) == "CON_001" {
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, conflicts)
}

func TestWithdrawal_ApprovePaysTreasury(t *testing.T) {
	h := newHarness(t)
	acc := h.fund(t, domain.UserOwner("u1"), "100")
	ctx := context.Background()

	req, err := h.withdrawals.Request(ctx, "u1", dec("25.5"), strPtr("tuition refund"))
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalStatusPending, req.Status)

	done, err := h.withdrawals.Approve(ctx, req.ID, "op-1", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalStatusCompleted, done.Status)
	require.NotNil(t, done.TxHash)
	assert.Equal(t, "op-1", *done.ProcessedBy)
	assert.NotNil(t, done.ProcessedAt)

	assert.Equal(t, "74.5000", h.balance(acc.Address))
	assert.Equal(t, "25.5000", h.balance(h.treasuryAccount.Address))

	entries := h.entries(t, domain.UserOwner("u1"))
	require.Len(t, entries, 1)
	assert.Equal(t, domain.EntryTypeWithdrawal, entries[0].Type)
	assert.Equal(t, *done.TxHash, *entries[0].Reference)
	assert.Equal(t, req.ID.String(), entries[0].Metadata["withdrawal_id"])

	// A finished request frees the slot.
	_, err = h.withdrawals.Request(ctx, "u1", dec("1"), nil)
	require.NoError(t, err)
}

func TestWithdrawal_ApproveTwiceMovesNoFunds(t *testing.T) {
	h := newHarness(t)
	acc := h.fund(t, domain.UserOwner("u1"), "100")
	ctx := context.Background()

	req, err := h.withdrawals.Request(ctx, "u1", dec("10"), nil)
	require.NoError(t, err)
	_, err = h.withdrawals.Approve(ctx, req.ID, "op", nil)
	require.NoError(t, err)
	submits := h.chain.Submits()

	_, err = h.withdrawals.Approve(ctx, req.ID, "op", nil)
	assert.Equal(t, "CON_002", apperror.Code(err))
	_, err = h.withdrawals.Approve(ctx, req.ID, "op", strPtr("0xabc"))
	assert.Equal(t, "CON_002", apperror.Code(err))
	assert.Equal(t, submits, h.chain.Submits())
	assert.Equal(t, "90.0000", h.balance(acc.Address))
}

func TestWithdrawal_FailedPayoutReleasesClaim(t *testing.T) {
	h := newHarness(t)
	acc := h.fund(t, domain.UserOwner("u1"), "100")
	ctx := context.Background()

	req, err := h.withdrawals.Request(ctx, "u1", dec("10"), nil)
	require.NoError(t, err)

	h.chain.FaultNext()
	_, err = h.withdrawals.Approve(ctx, req.ID, "op", nil)
	assert.Equal(t, "CHAIN_002", apperror.Code(err))

	got, err := h.withdrawals.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalStatusPending, got.Status)
	assert.Equal(t, "100.0000", h.balance(acc.Address))

	done, err := h.withdrawals.Approve(ctx, req.ID, "op", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalStatusCompleted, done.Status)
}

func TestWithdrawal_ManualCompletion(t *testing.T) {
	h := newHarness(t)
	acc := h.fund(t, domain.UserOwner("u1"), "100")
	ctx := context.Background()

	req, err := h.withdrawals.Request(ctx, "u1", dec("10"), nil)
	require.NoError(t, err)

	done, err := h.withdrawals.Approve(ctx, req.ID, "op", strPtr(" 0xexternal "))
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalStatusCompleted, done.Status)
	assert.Equal(t, "0xexternal", *done.TxHash)
	assert.Zero(t, h.chain.Submits())
	assert.Equal(t, "100.0000", h.balance(acc.Address))
}

func TestWithdrawal_InFlightNeedsHash(t *testing.T) {
	h := newHarness(t)
	h.fund(t, domain.UserOwner("u1"), "100")
	ctx := context.Background()

	req, err := h.withdrawals.Request(ctx, "u1", dec("10"), nil)
	require.NoError(t, err)
	require.NoError(t, h.withdrawRepo.Transition(ctx, req.ID, domain.WithdrawalStatusPending, ports.WithdrawalUpdate{
		Status: domain.WithdrawalStatusProcessing,
	}))

	_, err = h.withdrawals.Approve(ctx, req.ID, "op", nil)
	assert.Equal(t, "CON_001", apperror.Code(err))

	done, err := h.withdrawals.Approve(ctx, req.ID, "op", strPtr("0xdone"))
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalStatusCompleted, done.Status)
}

func TestWithdrawal_Reject(t *testing.T) {
	h := newHarness(t)
	acc := h.fund(t, domain.UserOwner("u1"), "100")
	ctx := context.Background()

	req, err := h.withdrawals.Request(ctx, "u1", dec("10"), nil)
	require.NoError(t, err)

	rejected, err := h.withdrawals.Reject(ctx, req.ID, "op", "duplicate")
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalStatusRejected, rejected.Status)
	assert.Equal(t, "duplicate", *rejected.Notes)
	assert.Equal(t, "100.0000", h.balance(acc.Address))

	_, err = h.withdrawals.Reject(ctx, req.ID, "op", "")
	assert.Equal(t, "CON_002", apperror.Code(err))
	_, err = h.withdrawals.Approve(ctx, req.ID, "op", nil)
	assert.Equal(t, "CON_002", apperror.Code(err))
}

func TestWithdrawal_SubmitErrorKeepsRequestRetryable(t *testing.T) {
	h := newHarness(t)
	h.fund(t, domain.UserOwner("u1"), "100")
	ctx := context.Background()

	req, err := h.withdrawals.Request(ctx, "u1", dec("10"), nil)
	require.NoError(t, err)

	h.chain.FailSubmit(errors.New("rpc timeout"))
	_, err = h.withdrawals.Approve(ctx, req.ID, "op", nil)
	require.Error(t, err)

	got, err := h.withdrawals.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalStatusPending, got.Status)

	entries := h.entries(t, domain.UserOwner("u1"))
	require.Len(t, entries, 1)
	assert.Equal(t, domain.EntryStatusFailed, entries[0].Status)
}

func TestWithdrawal_RejectWaitsForRunningPayout(t *testing.T) {
	h := newHarness(t)
	acc := h.fund(t, domain.UserOwner("u1"), "100")
	ctx := context.Background()

	req, err := h.withdrawals.Request(ctx, "u1", dec("10"), nil)
	require.NoError(t, err)

	rejectErr := make(chan error, 1)
	h.chain.BeforeConfirm(func(string) {
		h.chain.BeforeConfirm(nil)
		go func() {
			_, err := h.withdrawals.Reject(ctx, req.ID, "op-2", "changed my mind")
			rejectErr <- err
		}()
		// give the reject time to reach the request lock
		time.Sleep(20 * time.Millisecond)
	})

	done, err := h.withdrawals.Approve(ctx, req.ID, "op-1", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalStatusCompleted, done.Status)

	assert.Equal(t, "CON_002", apperror.Code(<-rejectErr))
	got, err := h.withdrawals.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalStatusCompleted, got.Status)
	assert.Equal(t, "op-1", *got.ProcessedBy)
	assert.Nil(t, got.Notes)
	assert.Equal(t, "90.0000", h.balance(acc.Address))
}

func TestWithdrawal_InFlightCannotBeRejected(t *testing.T) {
	h := newHarness(t)
	h.fund(t, domain.UserOwner("u1"), "100")
	ctx := context.Background()

	req, err := h.withdrawals.Request(ctx, "u1", dec("10"), nil)
	require.NoError(t, err)
	require.NoError(t, h.withdrawRepo.Transition(ctx, req.ID, domain.WithdrawalStatusPending, ports.WithdrawalUpdate{
		Status: domain.WithdrawalStatusProcessing,
	}))

	_, err = h.withdrawals.Reject(ctx, req.ID, "op", "")
	assert.Equal(t, "CON_001", apperror.Code(err))

	got, err := h.withdrawals.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalStatusProcessing, got.Status)
}

func TestWithdrawal_UnknownOutcomeKeepsClaim(t *testing.T) {
	h := newHarness(t)
	acc := h.fund(t, domain.UserOwner("u1"), "100")
	ctx := context.Background()

	req, err := h.withdrawals.Request(ctx, "u1", dec("10"), nil)
	require.NoError(t, err)

	h.chain.FailConfirm(fmt.Errorf("await: %w", context.DeadlineExceeded))
	_, err = h.withdrawals.Approve(ctx, req.ID, "op", nil)
	assert.Equal(t, "CHAIN_003", apperror.Code(err))
	h.chain.FailConfirm(nil)

	got, err := h.withdrawals.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.WithdrawalStatusProcessing, got.Status)

	// The broadcast transaction may still land, so nothing may pay again.
	submits := h.chain.Submits()
	_, err = h.withdrawals.Approve(ctx, req.ID, "op", nil)
	assert.Equal(t, "CON_001", apperror.Code(err))
	_, err = h.withdrawals.Reject(ctx, req.ID, "op", "")
	assert.Equal(t, "CON_001", apperror.Code(err))
	assert.Equal(t, submits, h.chain.Submits())

	entries := h.entries(t, domain.UserOwner("u1"))
	require.Len(t, entries, 1)
	assert.Equal(t, true, entries[0].Metadata[domain.MetaOutcomeUnknown])
	h.chain.Settle(*entries[0].Reference)
	assert.Equal(t, "90.0000", h.balance(acc.Address))
}
