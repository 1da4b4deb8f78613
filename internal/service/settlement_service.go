package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"custodial-ledger/internal/core/domain"
	"custodial-ledger/internal/core/ports"
	"custodial-ledger/internal/metrics"
	"custodial-ledger/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultSettlementMethod = "transferencia"

// SettlementService implements ports.SettlementService: a business sweeps
// its whole balance to the treasury once its event has ended.
type SettlementService struct {
	repo       ports.SettlementRepository
	directory  ports.DirectoryRepository
	accounts   ports.AccountRegistry
	transfers  ports.TransferService
	chain      ports.ChainGateway
	treasury   ports.TreasuryProvider
	locker     ports.AccountLocker
	transactor ports.Transactor
	log        zerolog.Logger
}

// NewSettlementService creates a new settlement workflow.
func NewSettlementService(
	repo ports.SettlementRepository,
	directory ports.DirectoryRepository,
	accounts ports.AccountRegistry,
	transfers ports.TransferService,
	chain ports.ChainGateway,
	treasury ports.TreasuryProvider,
	locker ports.AccountLocker,
	transactor ports.Transactor,
	log zerolog.Logger,
) *SettlementService {
	return &SettlementService{
		repo:       repo,
		directory:  directory,
		accounts:   accounts,
		transfers:  transfers,
		chain:      chain,
		treasury:   treasury,
		locker:     locker,
		transactor: transactor,
		log:        log,
	}
}

func errSettlementExists() error {
	return apperror.ErrConflict("an active settlement request already exists for this business")
}

// CreateRequest snapshots the business balance into a pendiente request.
func (s *SettlementService) CreateRequest(ctx context.Context, in ports.CreateSettlementInput) (*domain.SettlementRequest, error) {
	if in.UserID == "" || in.EventID == "" || in.BusinessID == "" {
		return nil, apperror.Validation("user, event and business are required")
	}

	event, err := s.directory.GetEvent(ctx, in.EventID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if event == nil {
		return nil, apperror.ErrNotFound("event")
	}
	if !event.Status.IsTerminal() {
		return nil, apperror.Validation("event has not ended")
	}

	business, err := s.directory.GetBusiness(ctx, in.BusinessID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if business == nil {
		return nil, apperror.ErrNotFound("business")
	}
	if business.EventID != in.EventID {
		return nil, apperror.Validation("business does not belong to the event")
	}

	member, err := s.directory.IsMember(ctx, in.BusinessID, in.UserID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if !member {
		return nil, apperror.ErrForbidden()
	}

	active, err := s.repo.HasActive(ctx, in.BusinessID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if active {
		return nil, errSettlementExists()
	}

	account, err := s.accounts.MustGet(ctx, domain.BusinessOwner(in.BusinessID))
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
	if units.Sign() <= 0 {
		return nil, apperror.ErrNothingToSettle()
	}

	method := strings.TrimSpace(in.Method)
	if method == "" {
		method = defaultSettlementMethod
	}
	now := time.Now().UTC()
	req := &domain.SettlementRequest{
		ID:              uuid.New(),
		EventID:         in.EventID,
		BusinessID:      in.BusinessID,
		RequestedAmount: domain.FromBaseUnits(units, settings.Decimals),
		TokenSymbol:     settings.Symbol,
		Method:          method,
		Notes:           in.Notes,
		Status:          domain.SettlementStatusPending,
		CreatedBy:       in.UserID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Create(ctx, req); err != nil {
		if errors.Is(err, ports.ErrUniqueViolation) {
			return nil, errSettlementExists()
		}
		return nil, apperror.ErrDatabaseError(err)
	}

	s.log.Info().
		Str("settlement_id", req.ID.String()).
		Str("business_id", req.BusinessID).
		Str("amount", req.RequestedAmount.String()).
		Msg("settlement requested")
	return req, nil
}

// Approve sweeps the business's current balance to the treasury. The
// request stays pendiente when the sweep fails, so approval can be retried.
func (s *SettlementService) Approve(ctx context.Context, id uuid.UUID, approverID string) (*domain.SettlementRequest, error) {
	unlock, err := s.locker.Lock(ctx, settlementLockKey(id))
	if err != nil {
		return nil, apperror.ErrLockTimeout(err)
	}
	defer unlock()

	req, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != domain.SettlementStatusPending {
		return nil, apperror.ErrAlreadyProcessed()
	}

	business := domain.BusinessOwner(req.BusinessID)
	account, err := s.accounts.MustGet(ctx, business)
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
	// The ledger keeps four decimals; finer dust stays on the account.
	amount := domain.FromBaseUnits(units, settings.Decimals).Truncate(domain.AmountPrecision)
	if !amount.IsPositive() {
		return nil, apperror.ErrNothingToSettle()
	}

	log := s.log.With().Str("settlement_id", id.String()).Str("business_id", req.BusinessID).Logger()

	result, err := s.transfers.Transfer(ctx, ports.TransferRequest{
		From:      business,
		ToAddress: settings.TreasuryAddress,
		Amount:    amount,
		EntryType: domain.EntryTypeSettlement,
		Metadata: map[string]any{
			"settlement_id": id.String(),
			"event_id":      req.EventID,
		},
	})
	if err != nil {
		log.Warn().Err(err).Msg("settlement sweep failed, request left pendiente")
		return nil, err
	}

	now := time.Now().UTC()
	hash := result.Hash
	err = s.transactor.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Transition(ctx, id, domain.SettlementStatusPending, ports.SettlementUpdate{
			Status:     domain.SettlementStatusPaid,
			ApprovedBy: &approverID,
			TxHash:     &hash,
			PaidAt:     &now,
		}); err != nil {
			return err
		}
		incoming := domain.NewLedgerEntry(domain.TreasuryOwner(), domain.EntryTypeSettlement, domain.DirectionIncoming, amount, settings.Symbol, map[string]any{
			domain.MetaCounterparty: account.Address,
			"settlement_id":         id.String(),
			"business_id":           req.BusinessID,
		})
		incoming.Reference = &hash
		return s.transfers.RecordIncoming(ctx, incoming)
	})
	if err != nil {
		metrics.RecordLedgerWriteFailure(metricSettlementEntry)
		log.Error().Err(err).Str("tx_hash", hash).Msg("sweep confirmed but settlement not recorded")
		if apperror.Code(err) != "" {
			return nil, err
		}
		return nil, apperror.ErrDatabaseError(err)
	}

	log.Info().Str("tx_hash", hash).Str("amount", amount.String()).Msg("settlement paid")
	return s.load(ctx, id)
}

// Reject closes a pendiente request without moving funds. It waits out any
// approval holding the request.
func (s *SettlementService) Reject(ctx context.Context, id uuid.UUID, approverID string, notes string) (*domain.SettlementRequest, error) {
	unlock, err := s.locker.Lock(ctx, settlementLockKey(id))
	if err != nil {
		return nil, apperror.ErrLockTimeout(err)
	}
	defer unlock()

	req, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !req.Status.CanTransitionTo(domain.SettlementStatusRejected) {
		return nil, apperror.ErrAlreadyProcessed()
	}

	update := ports.SettlementUpdate{Status: domain.SettlementStatusRejected, ApprovedBy: &approverID}
	if notes != "" {
		update.Notes = &notes
	}
	if err := s.repo.Transition(ctx, id, req.Status, update); err != nil {
		if errors.Is(err, ports.ErrStaleStatus) {
			return nil, apperror.ErrAlreadyProcessed()
		}
		return nil, apperror.ErrDatabaseError(err)
	}

	s.log.Info().Str("settlement_id", id.String()).Str("approver", approverID).Msg("settlement rejected")
	return s.load(ctx, id)
}

// Get returns one settlement request.
func (s *SettlementService) Get(ctx context.Context, id uuid.UUID) (*domain.SettlementRequest, error) {
	return s.load(ctx, id)
}

// ListByEvent returns an event's settlement requests, newest first.
func (s *SettlementService) ListByEvent(ctx context.Context, eventID string) ([]domain.SettlementRequest, error) {
	reqs, err := s.repo.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	return reqs, nil
}

func settlementLockKey(id uuid.UUID) string {
	return "settlement:" + id.String()
}

func (s *SettlementService) load(ctx context.Context, id uuid.UUID) (*domain.SettlementRequest, error) {
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if req == nil {
		return nil, apperror.ErrNotFound("settlement request")
	}
	return req, nil
}
