package neo

import (
	"fmt"
	"strings"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"
)

// NormalizeAddress accepts a base58 N3 address or a 0x-prefixed script hash
// and returns the canonical lower-case "0x" + little-endian hex form the
// ledger stores. Base58 is case-sensitive, so it is never stored as-is.
func NormalizeAddress(in string) (string, error) {
	u, err := ParseAddress(in)
	if err != nil {
		return "", err
	}
	return FormatScriptHash(u), nil
}

// ParseAddress decodes either address form into a script hash.
func ParseAddress(in string) (util.Uint160, error) {
	s := strings.TrimSpace(in)
	if s == "" {
		return util.Uint160{}, fmt.Errorf("empty address")
	}
	if hex, ok := cutHexPrefix(s); ok {
		u, err := util.Uint160DecodeStringLE(strings.ToLower(hex))
		if err != nil {
			return util.Uint160{}, fmt.Errorf("invalid script hash %q: %w", in, err)
		}
		return u, nil
	}
	u, err := address.StringToUint160(s)
	if err != nil {
		return util.Uint160{}, fmt.Errorf("invalid address %q: %w", in, err)
	}
	return u, nil
}

// FormatScriptHash renders a script hash in the stored form.
func FormatScriptHash(u util.Uint160) string {
	return "0x" + u.StringLE()
}

// Base58 renders a stored address as the user-facing N3 address.
func Base58(stored string) (string, error) {
	u, err := ParseAddress(stored)
	if err != nil {
		return "", err
	}
	return address.Uint160ToString(u), nil
}

func cutHexPrefix(s string) (string, bool) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s[2:], true
	}
	return "", false
}

func parseTxHash(hash string) (util.Uint256, error) {
	h := hash
	if hex, ok := cutHexPrefix(hash); ok {
		h = hex
	}
	u, err := util.Uint256DecodeStringLE(strings.ToLower(h))
	if err != nil {
		return util.Uint256{}, fmt.Errorf("invalid tx hash %q: %w", hash, err)
	}
	return u, nil
}

func formatTxHash(u util.Uint256) string {
	return "0x" + u.StringLE()
}
