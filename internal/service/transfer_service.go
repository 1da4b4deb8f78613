package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"custodial-ledger/internal/core/domain"
	"custodial-ledger/internal/core/ports"
	"custodial-ledger/internal/metrics"
	"custodial-ledger/pkg/apperror"

	"github.com/rs/zerolog"
)

// ledgerWriteTimeout bounds the final ledger write after the caller's
// context has been cancelled.
const ledgerWriteTimeout = 10 * time.Second

// TransferService implements ports.TransferService. Every outgoing token
// movement goes through Transfer, which couples the chain call with a
// status-tracked ledger row.
type TransferService struct {
	accounts ports.AccountRegistry
	ledger   ports.LedgerRepository
	chain    ports.ChainGateway
	gas      ports.GasMaintainer
	treasury ports.TreasuryProvider
	locker   ports.AccountLocker
	events   ports.LedgerEventPublisher
	log      zerolog.Logger
}

// NewTransferService creates a new transfer orchestrator.
func NewTransferService(
	accounts ports.AccountRegistry,
	ledger ports.LedgerRepository,
	chain ports.ChainGateway,
	gas ports.GasMaintainer,
	treasury ports.TreasuryProvider,
	locker ports.AccountLocker,
	events ports.LedgerEventPublisher,
	log zerolog.Logger,
) *TransferService {
	return &TransferService{
		accounts: accounts,
		ledger:   ledger,
		chain:    chain,
		gas:      gas,
		treasury: treasury,
		locker:   locker,
		events:   events,
		log:      log,
	}
}

// Transfer sends req.Amount tokens from req.From to req.ToAddress.
//
// Validation, balance and gas failures return before any ledger row exists.
// Once the pendiente row is written, every outcome ends in a ledger write:
// completada on a HALT receipt, fallida with the error otherwise.
func (s *TransferService) Transfer(ctx context.Context, req ports.TransferRequest) (*ports.TransferResult, error) {
	if !req.Amount.IsPositive() {
		return nil, apperror.ErrInvalidAmount()
	}
	if !req.Amount.Equal(req.Amount.Truncate(domain.AmountPrecision)) {
		return nil, apperror.Validation(fmt.Sprintf("amount supports at most %d decimals", domain.AmountPrecision))
	}
	if req.ToAddress == "" {
		return nil, apperror.Validation("destination address is required")
	}
	req = withDefaults(req)

	settings, err := s.treasury.Settings(ctx)
	if err != nil {
		return nil, err
	}
	units, err := domain.ToBaseUnits(req.Amount, settings.Decimals)
	if err != nil {
		return nil, apperror.Validation(err.Error())
	}

	from, err := s.accounts.MustGet(ctx, req.From)
	if err != nil {
		return nil, err
	}
	if from.Address == req.ToAddress {
		return nil, apperror.Validation("source and destination are the same account")
	}

	unlock, err := s.locker.Lock(ctx, from.Address)
	if err != nil {
		return nil, apperror.ErrLockTimeout(err)
	}
	defer unlock()

	balance, err := s.chain.TokenBalance(ctx, from.Address)
	if err != nil {
		return nil, apperror.ErrChainUnavailable(fmt.Errorf("read token balance: %w", err))
	}
	if balance.Sign() < 0 {
		return nil, apperror.ErrChainUnavailable(fmt.Errorf("negative balance %s reported for %s", balance, from.Address))
	}
	if units.Cmp(balance) > 0 {
		return nil, apperror.ErrInsufficientBalance()
	}

	if err := s.gas.EnsureGasBalance(ctx, from.Address); err != nil {
		return nil, err
	}

	metadata := make(map[string]any, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata[domain.MetaCounterparty] = req.ToAddress

	entry := domain.NewLedgerEntry(*req.LedgerOwner, req.EntryType, req.Direction, req.Amount, settings.Symbol, metadata)
	if err := s.ledger.Create(ctx, entry); err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	s.publish(ctx, entry)

	log := s.log.With().
		Str("entry_id", entry.ID.String()).
		Str("owner", req.From.String()).
		Str("type", string(req.EntryType)).
		Logger()
	start := time.Now()

	var sub *ports.Submission
	err = s.accounts.WithSigningKey(ctx, from, func(privateKey string) error {
		tx, err := s.chain.SubmitTokenTransfer(ctx, privateKey, req.ToAddress, units)
		if err != nil {
			return err
		}
		sub = tx
		return nil
	})
	if err != nil {
		s.fail(ctx, entry, err, start)
		log.Error().Err(err).Msg("transfer submission failed")
		if apperror.Code(err) != "" {
			return nil, err
		}
		return nil, apperror.ErrChainSubmission(err)
	}

	hash := sub.Hash
	if err := s.advance(ctx, entry, domain.EntryUpdate{
		Status:    domain.EntryStatusProcessing,
		Reference: &hash,
		Metadata:  map[string]any{domain.MetaValidUntilBlock: sub.ValidUntilBlock},
	}); err != nil {
		// The transaction is on its way; leave the row for an operator.
		log.Error().Err(err).Str("tx_hash", hash).Msg("failed to record broadcast transfer")
		return nil, apperror.ErrDatabaseError(err)
	}
	log = log.With().Str("tx_hash", hash).Logger()

	receipt, err := s.chain.AwaitConfirmation(ctx, *sub)
	if err != nil {
		return nil, s.failUnconfirmed(ctx, entry, err, start, log)
	}
	if receipt.Status != ports.ReceiptStatusSuccess {
		cause := fmt.Errorf("transaction ended in %s: %s", receipt.VMState, receipt.Exception)
		s.fail(ctx, entry, cause, start, receiptMetadata(receipt))
		log.Error().Str("vm_state", receipt.VMState).Msg("transfer faulted")
		return nil, apperror.ErrChainConfirmation(cause)
	}

	now := time.Now().UTC()
	if err := s.advance(ctx, entry, domain.EntryUpdate{
		Status:      domain.EntryStatusCompleted,
		Metadata:    receiptMetadata(receipt),
		CompletedAt: &now,
	}); err != nil {
		log.Error().Err(err).Msg("failed to record confirmed transfer")
		return nil, apperror.ErrDatabaseError(err)
	}
	metrics.RecordTransfer(string(entry.Type), string(entry.Status), time.Since(start))
	log.Info().Str("amount", entry.Amount).Msg("transfer completed")

	return &ports.TransferResult{
		EntryID: entry.ID,
		Hash:    hash,
		Status:  domain.EntryStatusCompleted,
	}, nil
}

// RecordIncoming appends an already-confirmed entrante row, e.g. the
// treasury side of a settlement.
func (s *TransferService) RecordIncoming(ctx context.Context, entry *domain.LedgerEntry) error {
	if entry.Direction != domain.DirectionIncoming {
		return apperror.Validation("incoming entries must have direction entrante")
	}
	now := time.Now().UTC()
	entry.Status = domain.EntryStatusCompleted
	entry.CompletedAt = &now
	if err := s.ledger.Create(ctx, entry); err != nil {
		return apperror.ErrDatabaseError(err)
	}
	s.publish(ctx, entry)
	return nil
}

func withDefaults(req ports.TransferRequest) ports.TransferRequest {
	if req.EntryType == "" {
		req.EntryType = domain.EntryTypeTransfer
	}
	if req.Direction == "" {
		req.Direction = domain.DirectionOutgoing
	}
	if req.LedgerOwner == nil {
		owner := req.From
		req.LedgerOwner = &owner
	}
	return req
}

// advance moves entry to update.Status, conditional on its current status,
// and mirrors the change into entry.
func (s *TransferService) advance(ctx context.Context, entry *domain.LedgerEntry, update domain.EntryUpdate) error {
	if !entry.Status.CanTransitionTo(update.Status) {
		return apperror.ErrInvalidTransition(string(entry.Status), string(update.Status))
	}
	if err := s.ledger.Update(ctx, entry.ID, entry.Status, update); err != nil {
		return err
	}

	entry.Status = update.Status
	if update.Reference != nil {
		ref := *update.Reference
		entry.Reference = &ref
	}
	for k, v := range update.Metadata {
		entry.Metadata[k] = v
	}
	if update.CompletedAt != nil {
		entry.CompletedAt = update.CompletedAt
	}
	entry.UpdatedAt = time.Now().UTC()
	s.publish(ctx, entry)
	return nil
}

// failUnconfirmed finalizes an entry whose confirmation wait ended without
// a receipt. Only an expired transaction is known not to have moved funds;
// anything else is flagged for the reconciler and reported as
// ports.ErrOutcomeUnknown.
func (s *TransferService) failUnconfirmed(ctx context.Context, entry *domain.LedgerEntry, err error, start time.Time, log zerolog.Logger) error {
	if errors.Is(err, ports.ErrTransactionExpired) {
		s.fail(ctx, entry, err, start)
		log.Error().Err(err).Msg("transfer expired before inclusion")
		return apperror.ErrChainConfirmation(err)
	}

	timedOut := errors.Is(err, context.DeadlineExceeded)
	md := map[string]any{domain.MetaOutcomeUnknown: true}
	if timedOut {
		md[domain.MetaConfirmationTimeout] = true
	}
	s.fail(ctx, entry, err, start, md)
	log.Error().Err(err).Bool("timeout", timedOut).Msg("transfer confirmation failed, outcome unknown")

	cause := fmt.Errorf("%w: %w", ports.ErrOutcomeUnknown, err)
	if timedOut {
		return apperror.ErrChainTimeout(cause)
	}
	return apperror.ErrChainConfirmation(cause)
}

// fail finalizes entry as fallida. It runs even when ctx is already done so
// the row never stays open because the caller went away.
func (s *TransferService) fail(ctx context.Context, entry *domain.LedgerEntry, cause error, start time.Time, extra ...map[string]any) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerWriteTimeout)
	defer cancel()

	md := map[string]any{domain.MetaError: cause.Error()}
	for _, m := range extra {
		for k, v := range m {
			md[k] = v
		}
	}

	if err := s.advance(wctx, entry, domain.EntryUpdate{Status: domain.EntryStatusFailed, Metadata: md}); err != nil {
		s.log.Error().Err(err).Str("entry_id", entry.ID.String()).Msg("failed to mark ledger entry fallida")
		return
	}
	metrics.RecordTransfer(string(entry.Type), string(entry.Status), time.Since(start))
}

func (s *TransferService) publish(ctx context.Context, entry *domain.LedgerEntry) {
	if err := s.events.PublishEntry(ctx, entry); err != nil {
		s.log.Warn().Err(err).Str("entry_id", entry.ID.String()).Msg("ledger event not published")
	}
}

func receiptMetadata(r *ports.Receipt) map[string]any {
	return map[string]any{
		domain.MetaVMState:     r.VMState,
		domain.MetaGasConsumed: r.GasConsumed,
		domain.MetaBlockIndex:  r.BlockIndex,
	}
}
