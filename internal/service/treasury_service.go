package service

import (
	"context"
	"fmt"
	"sync"

	"custodial-ledger/internal/core/domain"
	"custodial-ledger/internal/core/ports"
	"custodial-ledger/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// TreasuryManager implements ports.TreasuryProvider. Settings are loaded on
// first use, cached for the process, and refreshed only through Reload.
type TreasuryManager struct {
	chain        ports.ChainGateway
	accounts     ports.AccountRegistry
	settings     ports.SettingsRepository
	contractHash string
	network      string
	defaultRate  decimal.Decimal
	log          zerolog.Logger

	group    singleflight.Group
	mu       sync.RWMutex
	cached   *domain.TreasurySettings
	treasury *domain.CustodialAccount
}

// TreasuryConfig holds the static part of the treasury configuration.
type TreasuryConfig struct {
	ContractHash       string
	Network            string
	DefaultUSDPerToken decimal.Decimal
}

// NewTreasuryManager creates a new treasury manager.
func NewTreasuryManager(
	chain ports.ChainGateway,
	accounts ports.AccountRegistry,
	settings ports.SettingsRepository,
	cfg TreasuryConfig,
	log zerolog.Logger,
) *TreasuryManager {
	return &TreasuryManager{
		chain:        chain,
		accounts:     accounts,
		settings:     settings,
		contractHash: cfg.ContractHash,
		network:      cfg.Network,
		defaultRate:  cfg.DefaultUSDPerToken,
		log:          log,
	}
}

// Settings returns the cached settings, loading them on first call.
// Concurrent first callers share one load.
func (m *TreasuryManager) Settings(ctx context.Context) (*domain.TreasurySettings, error) {
	m.mu.RLock()
	cached := m.cached
	m.mu.RUnlock()
	if cached != nil {
		out := *cached
		return &out, nil
	}

	v, err, _ := m.group.Do("settings", func() (interface{}, error) {
		return m.load(ctx)
	})
	if err != nil {
		return nil, err
	}
	out := *v.(*domain.TreasurySettings)
	return &out, nil
}

func (m *TreasuryManager) load(ctx context.Context) (*domain.TreasurySettings, error) {
	symbol, decimals, err := m.chain.TokenInfo(ctx)
	if err != nil {
		return nil, apperror.ErrChainUnavailable(fmt.Errorf("token info: %w", err))
	}

	treasury, err := m.accounts.MustGet(ctx, domain.TreasuryOwner())
	if err != nil {
		return nil, err
	}

	rate := m.defaultRate
	stored, err := m.settings.Get(ctx, domain.SettingUSDPerToken)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if stored != nil {
		parsed, err := decimal.NewFromString(*stored)
		if err != nil {
			m.log.Warn().Str("value", *stored).Msg("stored usd_per_token is not a number, using default")
		} else {
			rate = parsed
		}
	}

	s := &domain.TreasurySettings{
		ContractHash:    m.contractHash,
		Decimals:        decimals,
		Symbol:          symbol,
		Network:         m.network,
		TreasuryAddress: treasury.Address,
		USDPerToken:     rate,
	}

	m.mu.Lock()
	m.cached = s
	m.treasury = treasury
	m.mu.Unlock()

	m.log.Info().
		Str("symbol", symbol).
		Int("decimals", decimals).
		Str("treasury", treasury.Address).
		Str("usd_per_token", rate.String()).
		Msg("treasury settings loaded")
	return s, nil
}

// TreasuryAccount returns the central treasury's custodial account.
func (m *TreasuryManager) TreasuryAccount(ctx context.Context) (*domain.CustodialAccount, error) {
	if _, err := m.Settings(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc := *m.treasury
	return &acc, nil
}

// Reload drops the cache and loads fresh settings.
func (m *TreasuryManager) Reload(ctx context.Context) error {
	m.mu.Lock()
	m.cached = nil
	m.mu.Unlock()
	m.group.Forget("settings")

	_, err := m.Settings(ctx)
	return err
}

// UpdateRate persists a new USD/token rate and reloads.
func (m *TreasuryManager) UpdateRate(ctx context.Context, usdPerToken decimal.Decimal) error {
	if !usdPerToken.IsPositive() {
		return apperror.Validation("usd_per_token must be positive")
	}
	if err := m.settings.Put(ctx, domain.SettingUSDPerToken, usdPerToken.String()); err != nil {
		return apperror.ErrDatabaseError(err)
	}
	return m.Reload(ctx)
}
