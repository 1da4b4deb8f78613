package domain

import (
	"github.com/shopspring/decimal"
)

// SettingUSDPerToken is the treasury_settings key of the USD/token rate.
const SettingUSDPerToken = "usd_per_token"

// TreasurySettings is the resolved, process-wide token and treasury configuration.
type TreasurySettings struct {
	ContractHash    string
	Decimals        int
	Symbol          string
	Network         string
	TreasuryAddress string
	USDPerToken     decimal.Decimal
}

// TokensForUSD converts a fiat amount into tokens at the configured rate,
// truncated to the ledger precision.
func (s TreasurySettings) TokensForUSD(usd decimal.Decimal) decimal.Decimal {
	if s.USDPerToken.IsZero() {
		return decimal.Zero
	}
	return usd.DivRound(s.USDPerToken, AmountPrecision+4).Truncate(AmountPrecision)
}
