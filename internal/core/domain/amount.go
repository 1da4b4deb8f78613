package domain

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// AmountPrecision is the number of decimals kept in ledger amount strings.
const AmountPrecision = 4

// FormatAmount renders an amount at the ledger's fixed precision.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(AmountPrecision)
}

// ParseAmount parses a decimal string amount.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return d, nil
}

// ToBaseUnits scales a token amount to the contract's smallest unit.
// Fractions below the smallest unit are rejected rather than rounded.
func ToBaseUnits(amount decimal.Decimal, decimals int) (*big.Int, error) {
	scaled := amount.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("amount %s has more than %d decimals", amount.String(), decimals)
	}
	return scaled.BigInt(), nil
}

// FromBaseUnits converts an on-chain integer amount to a token amount.
func FromBaseUnits(units *big.Int, decimals int) decimal.Decimal {
	if units == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(units, -int32(decimals))
}
