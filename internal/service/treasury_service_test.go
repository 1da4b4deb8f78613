package service

import (
	"context"
	"errors"
	"testing"

	"custodial-ledger/internal/core/domain"
	"custodial-ledger/internal/core/ports/mocks"
	"custodial-ledger/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type treasuryMocks struct {
	chain    *mocks.MockChainGateway
	accounts *mocks.MockAccountRegistry
	settings *mocks.MockSettingsRepository
}

func newTreasuryManager(t *testing.T) (*TreasuryManager, *treasuryMocks) {
	ctrl := gomock.NewController(t)
	m := &treasuryMocks{
		chain:    mocks.NewMockChainGateway(ctrl),
		accounts: mocks.NewMockAccountRegistry(ctrl),
		settings: mocks.NewMockSettingsRepository(ctrl),
	}
	mgr := NewTreasuryManager(m.chain, m.accounts, m.settings, TreasuryConfig{
		ContractHash:       "0xcontract",
		Network:            "testnet",
		DefaultUSDPerToken: decimal.RequireFromString("0.5"),
	}, zerolog.Nop())
	return mgr, m
}

var testTreasury = &domain.CustodialAccount{
	OwnerType: domain.OwnerTypeTreasury,
	OwnerID:   domain.TreasuryOwner().ID,
	Address:   "0x00000000000000000000000000000000000000ff",
}

func (m *treasuryMocks) expectLoad(times int, stored *string) {
	m.chain.EXPECT().TokenInfo(gomock.Any()).Return("CLT", 8, nil).Times(times)
	m.accounts.EXPECT().MustGet(gomock.Any(), domain.TreasuryOwner()).Return(testTreasury, nil).Times(times)
	m.settings.EXPECT().Get(gomock.Any(), domain.SettingUSDPerToken).Return(stored, nil).Times(times)
}

func TestTreasuryManager_LoadsOnce(t *testing.T) {
	mgr, m := newTreasuryManager(t)
	m.expectLoad(1, nil)
	ctx := context.Background()

	first, err := mgr.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "CLT", first.Symbol)
	assert.Equal(t, 8, first.Decimals)
	assert.Equal(t, "0xcontract", first.ContractHash)
	assert.Equal(t, "testnet", first.Network)
	assert.Equal(t, testTreasury.Address, first.TreasuryAddress)
	assert.Equal(t, "0.5", first.USDPerToken.String())

	first.Symbol = "mutated"
	second, err := mgr.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "CLT", second.Symbol)

	acc, err := mgr.TreasuryAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, testTreasury.Address, acc.Address)
}

func TestTreasuryManager_StoredRate(t *testing.T) {
	mgr, m := newTreasuryManager(t)
	m.expectLoad(1, strPtr("2.5"))

	s, err := mgr.Settings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2.5", s.USDPerToken.String())
}

func TestTreasuryManager_UnparsableRateFallsBack(t *testing.T) {
	mgr, m := newTreasuryManager(t)
	m.expectLoad(1, strPtr("two dollars"))

	s, err := mgr.Settings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0.5", s.USDPerToken.String())
}

func TestTreasuryManager_ChainUnavailable(t *testing.T) {
	mgr, m := newTreasuryManager(t)
	m.chain.EXPECT().TokenInfo(gomock.Any()).Return("", 0, errors.New("dial tcp: refused"))

	_, err := mgr.Settings(context.Background())
	assert.Equal(t, "CHAIN_004", apperror.Code(err))
}

func TestTreasuryManager_MissingTreasuryAccount(t *testing.T) {
	mgr, m := newTreasuryManager(t)
	m.chain.EXPECT().TokenInfo(gomock.Any()).Return("CLT", 8, nil)
	m.accounts.EXPECT().MustGet(gomock.Any(), domain.TreasuryOwner()).
		Return(nil, apperror.ErrAccountNotFound(domain.TreasuryOwner().String()))

	_, err := mgr.TreasuryAccount(context.Background())
	assert.Equal(t, "NF_002", apperror.Code(err))
}

func TestTreasuryManager_Reload(t *testing.T) {
	mgr, m := newTreasuryManager(t)
	m.expectLoad(2, nil)
	ctx := context.Background()

	_, err := mgr.Settings(ctx)
	require.NoError(t, err)
	require.NoError(t, mgr.Reload(ctx))
	_, err = mgr.Settings(ctx)
	require.NoError(t, err)
}

func TestTreasuryManager_UpdateRate(t *testing.T) {
	mgr, m := newTreasuryManager(t)
	ctx := context.Background()

	err := mgr.UpdateRate(ctx, decimal.Zero)
	assert.Equal(t, "VAL_002", apperror.Code(err))

	m.settings.EXPECT().Put(gomock.Any(), domain.SettingUSDPerToken, "1.25").Return(nil)
	m.expectLoad(1, strPtr("1.25"))
	require.NoError(t, mgr.UpdateRate(ctx, decimal.RequireFromString("1.25")))

	s, err := mgr.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.25", s.USDPerToken.String())
}
