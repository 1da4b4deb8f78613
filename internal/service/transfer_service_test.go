package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"custodial-ledger/internal/core/domain"
	"custodial-ledger/internal/core/ports"
	"custodial-ledger/internal/testutil"
	"custodial-ledger/pkg/apperror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransfer_Completed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.fund(t, domain.UserOwner("alice"), "100")
	bob := h.fund(t, domain.UserOwner("bob"), "0")

	res, err := h.transfers.Transfer(ctx, ports.TransferRequest{
		From:      domain.UserOwner("alice"),
		ToAddress: bob.Address,
		Amount:    dec("30"),
		Metadata:  map[string]any{"note": "lunch"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.EntryStatusCompleted, res.Status)
	assert.NotEmpty(t, res.Hash)

	assert.Equal(t, "70.0000", h.balance(alice.Address))
	assert.Equal(t, "30.0000", h.balance(bob.Address))

	entry, err := h.ledger.GetByID(ctx, res.EntryID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, domain.EntryStatusCompleted, entry.Status)
	assert.Equal(t, domain.DirectionOutgoing, entry.Direction)
	assert.Equal(t, domain.EntryTypeTransfer, entry.Type)
	assert.Equal(t, "30.0000", entry.Amount)
	assert.Equal(t, testSymbol, entry.Currency)
	require.NotNil(t, entry.Reference)
	assert.Equal(t, res.Hash, *entry.Reference)
	require.NotNil(t, entry.CompletedAt)
	assert.Equal(t, bob.Address, entry.Metadata[domain.MetaCounterparty])
	assert.Equal(t, "lunch", entry.Metadata["note"])
	assert.Equal(t, "HALT", entry.Metadata[domain.MetaVMState])

	assert.Equal(t, []domain.EntryStatus{
		domain.EntryStatusPending,
		domain.EntryStatusProcessing,
		domain.EntryStatusCompleted,
	}, h.events.history(res.EntryID))
}

func TestTransfer_RejectedBeforeAnyWrite(t *testing.T) {
	tests := []struct {
		name   string
		from   string
		amount string
		code   string
	}{
		{"insufficient balance", "alice", "150", "BAL_001"},
		{"zero amount", "alice", "0", "VAL_001"},
		{"negative amount", "alice", "-5", "VAL_001"},
		{"too many decimals", "alice", "1.00001", "VAL_002"},
		{"unknown sender", "nobody", "1", "NF_002"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.fund(t, domain.UserOwner("alice"), "100")
			bob := h.fund(t, domain.UserOwner("bob"), "0")

			_, err := h.transfers.Transfer(context.Background(), ports.TransferRequest{
				From:      domain.UserOwner(tt.from),
				ToAddress: bob.Address,
				Amount:    dec(tt.amount),
			})
			assert.Equal(t, tt.code, apperror.Code(err))
			assert.Empty(t, h.entries(t, domain.UserOwner(tt.from)))
			assert.Zero(t, h.chain.Submits())
		})
	}
}

func TestTransfer_SameAccount(t *testing.T) {
	h := newHarness(t)
	alice := h.fund(t, domain.UserOwner("alice"), "100")

	_, err := h.transfers.Transfer(context.Background(), ports.TransferRequest{
		From:      domain.UserOwner("alice"),
		ToAddress: alice.Address,
		Amount:    dec("1"),
	})
	assert.Equal(t, "VAL_002", apperror.Code(err))
}

func TestTransfer_BalanceReadFailure(t *testing.T) {
	h := newHarness(t)
	h.fund(t, domain.UserOwner("alice"), "100")
	bob := h.fund(t, domain.UserOwner("bob"), "0")
	h.chain.FailBalance(errors.New("rpc down"))

	_, err := h.transfers.Transfer(context.Background(), ports.TransferRequest{
		From:      domain.UserOwner("alice"),
		ToAddress: bob.Address,
		Amount:    dec("1"),
	})
	assert.Equal(t, "CHAIN_004", apperror.Code(err))
	assert.Empty(t, h.entries(t, domain.UserOwner("alice")))
}

func TestTransfer_SubmissionFailureEndsFallida(t *testing.T) {
	h := newHarness(t)
	alice := h.fund(t, domain.UserOwner("alice"), "100")
	bob := h.fund(t, domain.UserOwner("bob"), "0")
	h.chain.FailSubmit(errors.New("mempool full"))

	_, err := h.transfers.Transfer(context.Background(), ports.TransferRequest{
		From:      domain.UserOwner("alice"),
		ToAddress: bob.Address,
		Amount:    dec("10"),
	})
	assert.Equal(t, "CHAIN_001", apperror.Code(err))

	entries := h.entries(t, domain.UserOwner("alice"))
	require.Len(t, entries, 1)
	assert.Equal(t, domain.EntryStatusFailed, entries[0].Status)
	assert.Nil(t, entries[0].Reference)
	assert.Contains(t, entries[0].Metadata[domain.MetaError], "mempool full")
	assert.Equal(t, "100.0000", h.balance(alice.Address))
}

func TestTransfer_ConfirmationTimeout(t *testing.T) {
	h := newHarness(t)
	h.fund(t, domain.UserOwner("alice"), "100")
	bob := h.fund(t, domain.UserOwner("bob"), "0")
	h.chain.FailConfirm(fmt.Errorf("await: %w", context.DeadlineExceeded))

	_, err := h.transfers.Transfer(context.Background(), ports.TransferRequest{
		From:      domain.UserOwner("alice"),
		ToAddress: bob.Address,
		Amount:    dec("10"),
	})
	assert.Equal(t, "CHAIN_003", apperror.Code(err))
	assert.ErrorIs(t, err, ports.ErrOutcomeUnknown)

	entries := h.entries(t, domain.UserOwner("alice"))
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, domain.EntryStatusFailed, e.Status)
	assert.NotEmpty(t, e.Metadata[domain.MetaError])
	assert.Equal(t, true, e.Metadata[domain.MetaConfirmationTimeout])
	assert.Equal(t, true, e.Metadata[domain.MetaOutcomeUnknown])
	assert.NotZero(t, domain.ValidUntilBlock(e.Metadata))
	require.NotNil(t, e.Reference)
	assert.True(t, h.chain.Pending(*e.Reference))

	assert.Equal(t, "0.0000", h.balance(bob.Address))
	assert.Equal(t, []domain.EntryStatus{
		domain.EntryStatusPending,
		domain.EntryStatusProcessing,
		domain.EntryStatusFailed,
	}, h.events.history(e.ID))
}

func TestTransfer_FaultedTransaction(t *testing.T) {
	h := newHarness(t)
	h.fund(t, domain.UserOwner("alice"), "100")
	bob := h.fund(t, domain.UserOwner("bob"), "0")
	h.chain.FaultNext()

	_, err := h.transfers.Transfer(context.Background(), ports.TransferRequest{
		From:      domain.UserOwner("alice"),
		ToAddress: bob.Address,
		Amount:    dec("10"),
	})
	assert.Equal(t, "CHAIN_002", apperror.Code(err))

	entries := h.entries(t, domain.UserOwner("alice"))
	require.Len(t, entries, 1)
	assert.Equal(t, domain.EntryStatusFailed, entries[0].Status)
	assert.Equal(t, "FAULT", entries[0].Metadata[domain.MetaVMState])
	assert.Nil(t, entries[0].Metadata[domain.MetaConfirmationTimeout])
	assert.Equal(t, "0.0000", h.balance(bob.Address))
}

func TestTransfer_CancelledCallerStillFinalizes(t *testing.T) {
	h := newHarness(t)
	h.fund(t, domain.UserOwner("alice"), "100")
	bob := h.fund(t, domain.UserOwner("bob"), "0")
	h.chain.FailConfirm(context.Canceled)

	_, err := h.transfers.Transfer(context.Background(), ports.TransferRequest{
		From:      domain.UserOwner("alice"),
		ToAddress: bob.Address,
		Amount:    dec("10"),
	})
	assert.Equal(t, "CHAIN_002", apperror.Code(err))
	assert.ErrorIs(t, err, ports.ErrOutcomeUnknown)

	entries := h.entries(t, domain.UserOwner("alice"))
	require.Len(t, entries, 1)
	assert.Equal(t, domain.EntryStatusFailed, entries[0].Status)
	assert.Equal(t, true, entries[0].Metadata[domain.MetaOutcomeUnknown])
	assert.Nil(t, entries[0].Metadata[domain.MetaConfirmationTimeout])
}

func TestTransfer_ExpiredTransactionIsDefinitive(t *testing.T) {
	h := newHarness(t)
	alice := h.fund(t, domain.UserOwner("alice"), "100")
	bob := h.fund(t, domain.UserOwner("bob"), "0")
	h.chain.BeforeConfirm(func(string) { h.chain.AdvanceBlocks(testutil.ValidityWindow + 1) })

	_, err := h.transfers.Transfer(context.Background(), ports.TransferRequest{
		From:      domain.UserOwner("alice"),
		ToAddress: bob.Address,
		Amount:    dec("10"),
	})
	assert.Equal(t, "CHAIN_002", apperror.Code(err))
	assert.ErrorIs(t, err, ports.ErrTransactionExpired)
	assert.NotErrorIs(t, err, ports.ErrOutcomeUnknown)

	entries := h.entries(t, domain.UserOwner("alice"))
	require.Len(t, entries, 1)
	assert.Equal(t, domain.EntryStatusFailed, entries[0].Status)
	assert.Nil(t, entries[0].Metadata[domain.MetaOutcomeUnknown])

	// An expired transaction can never be included.
	h.chain.Settle(*entries[0].Reference)
	assert.Equal(t, "100.0000", h.balance(alice.Address))
	assert.Equal(t, "0.0000", h.balance(bob.Address))
}

func TestTransfer_TopsUpGasFirst(t *testing.T) {
	h := newHarness(t)
	alice := h.fund(t, domain.UserOwner("alice"), "100")
	bob := h.fund(t, domain.UserOwner("bob"), "0")
	h.chain.SetNativeBalance(alice.Address, 0)

	_, err := h.transfers.Transfer(context.Background(), ports.TransferRequest{
		From:      domain.UserOwner("alice"),
		ToAddress: bob.Address,
		Amount:    dec("5"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(testGasTopUp), h.chain.NativeBalanceOf(alice.Address))
	assert.Equal(t, int64(1_000_000-testGasTopUp), h.chain.NativeBalanceOf(h.treasuryAccount.Address))
}

func TestTransfer_GasTopUpFailureAborts(t *testing.T) {
	h := newHarness(t)
	alice := h.fund(t, domain.UserOwner("alice"), "100")
	bob := h.fund(t, domain.UserOwner("bob"), "0")
	h.chain.SetNativeBalance(alice.Address, 0)
	h.chain.SetNativeBalance(h.treasuryAccount.Address, 0)

	_, err := h.transfers.Transfer(context.Background(), ports.TransferRequest{
		From:      domain.UserOwner("alice"),
		ToAddress: bob.Address,
		Amount:    dec("5"),
	})
	assert.Equal(t, "GAS_001", apperror.Code(err))
	assert.Empty(t, h.entries(t, domain.UserOwner("alice")))
	assert.Equal(t, "100.0000", h.balance(alice.Address))
}

func TestTransfer_SameAccountIsSerialized(t *testing.T) {
	h := newHarness(t)
	alice := h.fund(t, domain.UserOwner("alice"), "100")
	bob := h.fund(t, domain.UserOwner("bob"), "0")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.transfers.Transfer(context.Background(), ports.TransferRequest{
				From:      domain.UserOwner("alice"),
				ToAddress: bob.Address,
				Amount:    dec("60"),
			})
		}(i)
	}
	wg.Wait()

	var ok, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperror.Code(err) == "BAL_001":
			insufficient++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, insufficient)
	assert.Equal(t, "40.0000", h.balance(alice.Address))
	assert.Len(t, h.entries(t, domain.UserOwner("alice")), 1)
}

func TestTransfer_LedgerOwnerOverride(t *testing.T) {
	h := newHarness(t)
	h.fund(t, domain.UserOwner("alice"), "100")
	bob := h.fund(t, domain.UserOwner("bob"), "0")
	owner := domain.UserOwner("bob")

	res, err := h.transfers.Transfer(context.Background(), ports.TransferRequest{
		From:        domain.UserOwner("alice"),
		ToAddress:   bob.Address,
		Amount:      dec("1"),
		EntryType:   domain.EntryTypeRecharge,
		Direction:   domain.DirectionIncoming,
		LedgerOwner: &owner,
	})
	require.NoError(t, err)

	entry, err := h.ledger.GetByID(context.Background(), res.EntryID)
	require.NoError(t, err)
	assert.Equal(t, "bob", entry.OwnerID)
	assert.Equal(t, domain.DirectionIncoming, entry.Direction)
	assert.Empty(t, h.entries(t, domain.UserOwner("alice")))
}

func TestRecordIncoming(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	out := domain.NewLedgerEntry(domain.TreasuryOwner(), domain.EntryTypeSettlement, domain.DirectionOutgoing, dec("1"), testSymbol, nil)
	assert.Equal(t, "VAL_002", apperror.Code(h.transfers.RecordIncoming(ctx, out)))

	in := domain.NewLedgerEntry(domain.TreasuryOwner(), domain.EntryTypeSettlement, domain.DirectionIncoming, dec("1"), testSymbol, nil)
	require.NoError(t, h.transfers.RecordIncoming(ctx, in))

	got, err := h.ledger.GetByID(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EntryStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
}
