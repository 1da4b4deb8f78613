package service

import (
	"context"
	"fmt"
	"strings"

	"custodial-ledger/internal/core/domain"
	"custodial-ledger/internal/core/ports"
	"custodial-ledger/internal/metrics"
	"custodial-ledger/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100

	metricIncomingEntry   = "incoming"
	metricSettlementEntry = "settlement"
)

// WalletService implements ports.WalletService on top of the registry and
// the transfer orchestrator.
type WalletService struct {
	accounts  ports.AccountRegistry
	transfers ports.TransferService
	ledger    ports.LedgerRepository
	chain     ports.ChainGateway
	treasury  ports.TreasuryProvider
	directory ports.DirectoryRepository
	log       zerolog.Logger
}

// NewWalletService creates a new wallet service.
func NewWalletService(
	accounts ports.AccountRegistry,
	transfers ports.TransferService,
	ledger ports.LedgerRepository,
	chain ports.ChainGateway,
	treasury ports.TreasuryProvider,
	directory ports.DirectoryRepository,
	log zerolog.Logger,
) *WalletService {
	return &WalletService{
		accounts:  accounts,
		transfers: transfers,
		ledger:    ledger,
		chain:     chain,
		treasury:  treasury,
		directory: directory,
		log:       log,
	}
}

// CreateWallet creates owner's custodial account and returns its address.
func (s *WalletService) CreateWallet(ctx context.Context, owner domain.OwnerRef) (string, error) {
	account, err := s.accounts.Create(ctx, owner)
	if err != nil {
		return "", err
	}
	return account.Address, nil
}

// GetBalance reads owner's token balance from the chain.
func (s *WalletService) GetBalance(ctx context.Context, owner domain.OwnerRef) (*ports.Balance, error) {
	account, err := s.accounts.MustGet(ctx, owner)
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
	return &ports.Balance{
		Address: account.Address,
		Balance: domain.FromBaseUnits(units, settings.Decimals),
		Symbol:  settings.Symbol,
		Network: settings.Network,
	}, nil
}

// GetLedger returns one page of an owner's ledger, newest first.
func (s *WalletService) GetLedger(ctx context.Context, params ports.LedgerListParams) ([]domain.LedgerEntry, int64, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 {
		params.PageSize = defaultPageSize
	}
	if params.PageSize > maxPageSize {
		params.PageSize = maxPageSize
	}
	entries, total, err := s.ledger.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.ErrDatabaseError(err)
	}
	return entries, total, nil
}

// SendToUser moves tokens between two students.
func (s *WalletService) SendToUser(ctx context.Context, fromUserID, toUserID string, amount decimal.Decimal, note string) (*ports.TransferResult, error) {
	if fromUserID == toUserID {
		return nil, apperror.Validation("cannot send to yourself")
	}
	return s.sendTo(ctx, domain.UserOwner(fromUserID), domain.UserOwner(toUserID), domain.EntryTypeTransfer, amount, note, nil, false)
}

// Pay moves tokens from a student to a business.
func (s *WalletService) Pay(ctx context.Context, userID, businessID string, amount decimal.Decimal, note string) (*ports.TransferResult, error) {
	business, err := s.directory.GetBusiness(ctx, businessID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if business == nil {
		return nil, apperror.ErrNotFound("business")
	}
	event, err := s.directory.GetEvent(ctx, business.EventID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if event == nil || event.Status != domain.EventStatusActive {
		return nil, apperror.ErrConflict("event is not accepting payments")
	}
	extra := map[string]any{"business_id": businessID, "event_id": business.EventID}
	return s.sendTo(ctx, domain.UserOwner(userID), domain.BusinessOwner(businessID), domain.EntryTypePayment, amount, note, extra, false)
}

// Recharge credits a student with tokens bought by card. The treasury pays
// at the configured USD/token rate.
func (s *WalletService) Recharge(ctx context.Context, req ports.RechargeRequest) (*ports.TransferResult, error) {
	if !req.AmountUSD.IsPositive() {
		return nil, apperror.ErrInvalidAmount()
	}
	if strings.TrimSpace(req.PaymentRef) == "" {
		return nil, apperror.Validation("payment reference is required")
	}
	settings, err := s.treasury.Settings(ctx)
	if err != nil {
		return nil, err
	}
	tokens := settings.TokensForUSD(req.AmountUSD)
	if !tokens.IsPositive() {
		return nil, apperror.ErrInvalidAmount()
	}

	extra := map[string]any{
		"amount_usd":    req.AmountUSD.StringFixed(2),
		"usd_per_token": settings.USDPerToken.String(),
		"payment_ref":   req.PaymentRef,
	}
	if req.CardLastFour != "" {
		extra["card_last_four"] = req.CardLastFour
	}

	return s.sendTo(ctx, domain.TreasuryOwner(), domain.UserOwner(req.UserID), domain.EntryTypeRecharge, tokens, "", extra, true)
}

// sendTo runs a transfer and, once confirmed, records the matching entrante
// row for the recipient. With recipientOnly the orchestrated row itself is
// the recipient's entrante row and nothing is recorded on the sender side.
func (s *WalletService) sendTo(
	ctx context.Context,
	from, to domain.OwnerRef,
	entryType domain.EntryType,
	amount decimal.Decimal,
	note string,
	extra map[string]any,
	recipientOnly bool,
) (*ports.TransferResult, error) {
	recipient, err := s.accounts.MustGet(ctx, to)
	if err != nil {
		return nil, err
	}
	sender, err := s.accounts.MustGet(ctx, from)
	if err != nil {
		return nil, err
	}

	metadata := map[string]any{"to_owner": to.String()}
	if note != "" {
		metadata["note"] = note
	}
	for k, v := range extra {
		metadata[k] = v
	}

	req := ports.TransferRequest{
		From:      from,
		ToAddress: recipient.Address,
		Amount:    amount,
		Metadata:  metadata,
		EntryType: entryType,
	}
	if recipientOnly {
		req.LedgerOwner = &to
		req.Direction = domain.DirectionIncoming
	}
	result, err := s.transfers.Transfer(ctx, req)
	if err != nil {
		return nil, err
	}
	if recipientOnly {
		return result, nil
	}

	settings, err := s.treasury.Settings(ctx)
	if err != nil {
		metrics.RecordLedgerWriteFailure(metricIncomingEntry)
		s.log.Error().Err(err).Str("tx_hash", result.Hash).Str("owner", to.String()).Msg("failed to record incoming entry")
		return result, nil
	}
	incoming := domain.NewLedgerEntry(to, entryType, domain.DirectionIncoming, amount, settings.Symbol, map[string]any{
		domain.MetaCounterparty: sender.Address,
		"from_owner":            from.String(),
		"source_entry_id":       result.EntryID.String(),
	})
	hash := result.Hash
	incoming.Reference = &hash
	if err := s.transfers.RecordIncoming(ctx, incoming); err != nil {
		metrics.RecordLedgerWriteFailure(metricIncomingEntry)
		s.log.Error().Err(err).Str("tx_hash", hash).Str("owner", to.String()).Msg("failed to record incoming entry")
	}
	return result, nil
}
