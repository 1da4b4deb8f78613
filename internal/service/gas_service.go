package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"custodial-ledger/internal/core/domain"
	"custodial-ledger/internal/core/ports"
	"custodial-ledger/internal/metrics"
	"custodial-ledger/pkg/apperror"

	"github.com/rs/zerolog"
)

// GasConfig holds native currency thresholds in base units.
type GasConfig struct {
	MinBalance   int64
	TopUpAmount  int64
	MaxAttempts  int
	RetryBackoff time.Duration
}

// GasService implements ports.GasMaintainer. Top-ups are paid by the
// treasury and confirmed before the caller proceeds.
type GasService struct {
	chain       ports.ChainGateway
	treasury    ports.TreasuryProvider
	accounts    ports.AccountRegistry
	minBalance  *big.Int
	topUp       *big.Int
	maxAttempts int
	backoff     time.Duration
	log         zerolog.Logger
}

// NewGasService creates a new gas maintenance service.
func NewGasService(
	chain ports.ChainGateway,
	treasury ports.TreasuryProvider,
	accounts ports.AccountRegistry,
	cfg GasConfig,
	log zerolog.Logger,
) *GasService {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &GasService{
		chain:       chain,
		treasury:    treasury,
		accounts:    accounts,
		minBalance:  big.NewInt(cfg.MinBalance),
		topUp:       big.NewInt(cfg.TopUpAmount),
		maxAttempts: attempts,
		backoff:     cfg.RetryBackoff,
		log:         log,
	}
}

// EnsureGasBalance tops up address when its native balance is below the
// minimum. It is a no-op otherwise.
func (s *GasService) EnsureGasBalance(ctx context.Context, address string) error {
	balance, err := s.chain.NativeBalance(ctx, address)
	if err != nil {
		return apperror.ErrGasTopUpFailed(fmt.Errorf("read native balance: %w", err))
	}
	if balance.Cmp(s.minBalance) >= 0 {
		return nil
	}

	treasury, err := s.treasury.TreasuryAccount(ctx)
	if err != nil {
		return apperror.ErrGasTopUpFailed(err)
	}
	if treasury.Address == address {
		return apperror.ErrGasTopUpFailed(errors.New("treasury native balance is below the minimum"))
	}

	log := s.log.With().Str("address", address).Str("balance", balance.String()).Logger()

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		hash, err := s.sendTopUp(ctx, treasury, address)
		metrics.RecordGasTopUp(err == nil)
		if err == nil {
			log.Info().Str("tx_hash", hash).Str("amount", s.topUp.String()).Msg("gas topped up")
			return nil
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt).Msg("gas top-up failed")

		if attempt == s.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return apperror.ErrGasTopUpFailed(errors.Join(lastErr, ctx.Err()))
		case <-time.After(s.backoff):
		}
	}
	return apperror.ErrGasTopUpFailed(lastErr)
}

func (s *GasService) sendTopUp(ctx context.Context, treasury *domain.CustodialAccount, address string) (string, error) {
	var sub *ports.Submission
	err := s.accounts.WithSigningKey(ctx, treasury, func(privateKey string) error {
		tx, err := s.chain.SubmitNativeTransfer(ctx, privateKey, address, s.topUp)
		if err != nil {
			return fmt.Errorf("submit top-up: %w", err)
		}
		sub = tx
		return nil
	})
	if err != nil {
		return "", err
	}

	hash := sub.Hash
	receipt, err := s.chain.AwaitConfirmation(ctx, *sub)
	if err != nil {
		return hash, fmt.Errorf("confirm top-up %s: %w", hash, err)
	}
	if receipt.Status != ports.ReceiptStatusSuccess {
		return hash, fmt.Errorf("top-up %s ended in %s: %s", hash, receipt.VMState, receipt.Exception)
	}
	return hash, nil
}
