package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"custodial-ledger/internal/core/domain"
	"custodial-ledger/internal/core/ports"
	"custodial-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// WithdrawalService implements ports.WithdrawalService. Approve and Reject
// hold the per-request lock for their whole run, and approval claims the
// request (pendiente -> en_proceso) before moving funds.
type WithdrawalService struct {
	repo      ports.WithdrawalRepository
	accounts  ports.AccountRegistry
	transfers ports.TransferService
	chain     ports.ChainGateway
	treasury  ports.TreasuryProvider
	locker    ports.AccountLocker
	log       zerolog.Logger
}

// NewWithdrawalService creates a new withdrawal workflow.
func NewWithdrawalService(
	repo ports.WithdrawalRepository,
	accounts ports.AccountRegistry,
	transfers ports.TransferService,
	chain ports.ChainGateway,
	treasury ports.TreasuryProvider,
	locker ports.AccountLocker,
	log zerolog.Logger,
) *WithdrawalService {
	return &WithdrawalService{
		repo:      repo,
		accounts:  accounts,
		transfers: transfers,
		chain:     chain,
		treasury:  treasury,
		locker:    locker,
		log:       log,
	}
}

func withdrawalLockKey(id uuid.UUID) string {
	return "withdrawal:" + id.String()
}

func errWithdrawalExists() error {
	return apperror.ErrConflict("an active withdrawal request already exists")
}

// Request records a pendiente withdrawal after checking the on-chain balance.
func (s *WithdrawalService) Request(ctx context.Context, userID string, amount decimal.Decimal, notes *string) (*domain.WithdrawalRequest, error) {
	if !amount.IsPositive() {
		return nil, apperror.ErrInvalidAmount()
	}
	if !amount.Equal(amount.Truncate(domain.AmountPrecision)) {
		return nil, apperror.Validation(fmt.Sprintf("amount supports at most %d decimals", domain.AmountPrecision))
	}

	account, err := s.accounts.MustGet(ctx, domain.UserOwner(userID))
	if err != nil {
		return nil, err
	}
	settings, err := s.treasury.Settings(ctx)
	if err != nil {
		return nil, err
	}
	units, err := s.chain.TokenBalance(ctx, account.Address)
	if err != nil {
		return nil, apperror.ErrChainUnavailable(fmt.Errorf("read token balance: %w", err))
	}
	if amount.GreaterThan(domain.FromBaseUnits(units, settings.Decimals)) {
		return nil, apperror.ErrInsufficientBalance()
	}

	active, err := s.repo.HasActive(ctx, userID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if active {
		return nil, errWithdrawalExists()
	}

	now := time.Now().UTC()
	req := &domain.WithdrawalRequest{
		ID:          uuid.New(),
		UserID:      userID,
		Amount:      amount,
		TokenSymbol: settings.Symbol,
		Status:      domain.WithdrawalStatusPending,
		Notes:       notes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, req); err != nil {
		if errors.Is(err, ports.ErrUniqueViolation) {
			return nil, errWithdrawalExists()
		}
		return nil, apperror.ErrDatabaseError(err)
	}

	s.log.Info().Str("withdrawal_id", req.ID.String()).Str("user_id", userID).Str("amount", amount.String()).Msg("withdrawal requested")
	return req, nil
}

// Approve completes a withdrawal. With txHash the payout happened outside
// the system and is only recorded; without it the user's tokens are sent
// to the treasury.
func (s *WithdrawalService) Approve(ctx context.Context, id uuid.UUID, approverID string, txHash *string) (*domain.WithdrawalRequest, error) {
	unlock, err := s.locker.Lock(ctx, withdrawalLockKey(id))
	if err != nil {
		return nil, apperror.ErrLockTimeout(err)
	}
	defer unlock()

	req, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !req.Status.IsActive() {
		return nil, apperror.ErrAlreadyProcessed()
	}

	if txHash != nil && strings.TrimSpace(*txHash) != "" {
		return s.complete(ctx, req.ID, req.Status, approverID, strings.TrimSpace(*txHash))
	}
	if req.Status == domain.WithdrawalStatusProcessing {
		return nil, apperror.ErrConflict("withdrawal is already being processed; supply the transaction hash to complete it")
	}

	if err := s.repo.Transition(ctx, id, domain.WithdrawalStatusPending, ports.WithdrawalUpdate{
		Status:      domain.WithdrawalStatusProcessing,
		ProcessedBy: &approverID,
	}); err != nil {
		if errors.Is(err, ports.ErrStaleStatus) {
			return nil, s.lostClaim(ctx, id)
		}
		return nil, apperror.ErrDatabaseError(err)
	}

	log := s.log.With().Str("withdrawal_id", id.String()).Str("user_id", req.UserID).Logger()

	settings, err := s.treasury.Settings(ctx)
	if err == nil {
		var result *ports.TransferResult
		result, err = s.transfers.Transfer(ctx, ports.TransferRequest{
			From:      domain.UserOwner(req.UserID),
			ToAddress: settings.TreasuryAddress,
			Amount:    req.Amount,
			EntryType: domain.EntryTypeWithdrawal,
			Metadata:  map[string]any{"withdrawal_id": id.String()},
		})
		if err == nil {
			return s.complete(ctx, id, domain.WithdrawalStatusProcessing, approverID, result.Hash)
		}
	}

	if errors.Is(err, ports.ErrOutcomeUnknown) {
		// The payout may still land; the reconciler settles the claim.
		log.Error().Err(err).Msg("withdrawal payout outcome unknown, request kept en_proceso")
		return nil, err
	}
	s.release(ctx, id)
	log.Warn().Err(err).Msg("withdrawal payout failed, request released")
	return nil, err
}

// Reject closes a pendiente request without moving funds.
func (s *WithdrawalService) Reject(ctx context.Context, id uuid.UUID, approverID string, notes string) (*domain.WithdrawalRequest, error) {
	unlock, err := s.locker.Lock(ctx, withdrawalLockKey(id))
	if err != nil {
		return nil, apperror.ErrLockTimeout(err)
	}
	defer unlock()

	req, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status == domain.WithdrawalStatusProcessing {
		return nil, apperror.ErrConflict("withdrawal payout is in progress")
	}
	if !req.Status.CanTransitionTo(domain.WithdrawalStatusRejected) {
		return nil, apperror.ErrAlreadyProcessed()
	}

	now := time.Now().UTC()
	update := ports.WithdrawalUpdate{
		Status:      domain.WithdrawalStatusRejected,
		ProcessedBy: &approverID,
		ProcessedAt: &now,
	}
	if notes != "" {
		update.Notes = &notes
	}
	if err := s.repo.Transition(ctx, id, req.Status, update); err != nil {
		if errors.Is(err, ports.ErrStaleStatus) {
			return nil, apperror.ErrAlreadyProcessed()
		}
		return nil, apperror.ErrDatabaseError(err)
	}

	s.log.Info().Str("withdrawal_id", id.String()).Str("approver", approverID).Msg("withdrawal rejected")
	return s.load(ctx, id)
}

// Get returns one withdrawal request.
func (s *WithdrawalService) Get(ctx context.Context, id uuid.UUID) (*domain.WithdrawalRequest, error) {
	return s.load(ctx, id)
}

// ListByUser returns a user's withdrawal requests, newest first.
func (s *WithdrawalService) ListByUser(ctx context.Context, userID string) ([]domain.WithdrawalRequest, error) {
	reqs, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	return reqs, nil
}

func (s *WithdrawalService) complete(ctx context.Context, id uuid.UUID, from domain.WithdrawalStatus, approverID, hash string) (*domain.WithdrawalRequest, error) {
	now := time.Now().UTC()
	err := s.repo.Transition(context.WithoutCancel(ctx), id, from, ports.WithdrawalUpdate{
		Status:      domain.WithdrawalStatusCompleted,
		ProcessedBy: &approverID,
		ProcessedAt: &now,
		TxHash:      &hash,
	})
	if err != nil {
		if errors.Is(err, ports.ErrStaleStatus) {
			return nil, apperror.ErrAlreadyProcessed()
		}
		s.log.Error().Err(err).Str("withdrawal_id", id.String()).Str("tx_hash", hash).Msg("withdrawal paid but not recorded")
		return nil, apperror.ErrDatabaseError(err)
	}

	s.log.Info().Str("withdrawal_id", id.String()).Str("tx_hash", hash).Msg("withdrawal completed")
	return s.load(ctx, id)
}

// release returns a claimed request to pendiente after a failed payout.
func (s *WithdrawalService) release(ctx context.Context, id uuid.UUID) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerWriteTimeout)
	defer cancel()
	err := s.repo.Transition(wctx, id, domain.WithdrawalStatusProcessing, ports.WithdrawalUpdate{
		Status: domain.WithdrawalStatusPending,
	})
	if err != nil {
		s.log.Error().Err(err).Str("withdrawal_id", id.String()).Msg("failed to release withdrawal claim")
	}
}

// lostClaim explains why a pendiente -> en_proceso claim did not apply.
func (s *WithdrawalService) lostClaim(ctx context.Context, id uuid.UUID) error {
	req, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !req.Status.IsActive() {
		return apperror.ErrAlreadyProcessed()
	}
	return apperror.ErrConflict("withdrawal is already being processed")
}

func (s *WithdrawalService) load(ctx context.Context, id uuid.UUID) (*domain.WithdrawalRequest, error) {
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if req == nil {
		return nil, apperror.ErrNotFound("withdrawal request")
	}
	return req, nil
}
