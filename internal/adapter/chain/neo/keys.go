package neo

import (
	"fmt"

	"custodial-ledger/internal/core/ports"

	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"
	"github.com/nspcc-dev/neo-go/pkg/wallet"
)

// KeyGenerator implements ports.KeyGenerator with neo-go secp256r1 keys.
// Private keys are exchanged in WIF.
type KeyGenerator struct{}

func NewKeyGenerator() KeyGenerator { return KeyGenerator{} }

// GenerateKey creates a fresh keypair. N3 accounts have no mnemonic.
func (KeyGenerator) GenerateKey() (*ports.GeneratedKey, error) {
	pk, err := keys.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}
	defer pk.Destroy()

	return &ports.GeneratedKey{
		Address:    FormatScriptHash(pk.GetScriptHash()),
		PrivateKey: pk.WIF(),
	}, nil
}

// AddressFromKey derives the stored address of a WIF key.
func (KeyGenerator) AddressFromKey(privateKey string) (string, error) {
	pk, err := keys.NewPrivateKeyFromWIF(privateKey)
	if err != nil {
		return "", fmt.Errorf("decode wif: %w", err)
	}
	defer pk.Destroy()
	return FormatScriptHash(pk.GetScriptHash()), nil
}

func accountFromWIF(wif string) (*wallet.Account, error) {
	pk, err := keys.NewPrivateKeyFromWIF(wif)
	if err != nil {
		return nil, fmt.Errorf("decode wif: %w", err)
	}
	return wallet.NewAccountFromPrivateKey(pk), nil
}
