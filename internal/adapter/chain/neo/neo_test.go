package neo

import (
	"context"
	"errors"
	"strings"
	"testing"

	"custodial-ledger/internal/core/ports"

	"github.com/nspcc-dev/neo-go/pkg/core/state"
	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"
	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/neorpc/result"
	"github.com/nspcc-dev/neo-go/pkg/vm/vmstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAddress_Base58AndHexAgree(t *testing.T) {
	pk, err := keys.NewPrivateKey()
	require.NoError(t, err)

	base58 := pk.Address()
	fromBase58, err := NormalizeAddress(base58)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(fromBase58, "0x"))
	assert.Equal(t, strings.ToLower(fromBase58), fromBase58)

	fromHex, err := NormalizeAddress(strings.ToUpper(fromBase58[2:]))
	assert.Error(t, err, "hex without prefix is read as base58")
	assert.Empty(t, fromHex)

	fromHex, err = NormalizeAddress("0X" + strings.ToUpper(fromBase58[2:]))
	require.NoError(t, err)
	assert.Equal(t, fromBase58, fromHex)

	back, err := Base58(fromBase58)
	require.NoError(t, err)
	assert.Equal(t, base58, back)
}

func TestNormalizeAddress_Invalid(t *testing.T) {
	for _, in := range []string{"", "   ", "0xzz", "0x1234", "NotAnAddress"} {
		_, err := NormalizeAddress(in)
		assert.Error(t, err, in)
	}
}

func TestKeyGenerator(t *testing.T) {
	gen := NewKeyGenerator()

	k, err := gen.GenerateKey()
	require.NoError(t, err)
	assert.Nil(t, k.Mnemonic)

	addr, err := gen.AddressFromKey(k.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, k.Address, addr)

	other, err := gen.GenerateKey()
	require.NoError(t, err)
	assert.NotEqual(t, k.Address, other.Address)

	_, err = gen.AddressFromKey("not-a-wif")
	assert.Error(t, err)
}

func TestAccountFromWIF(t *testing.T) {
	pk, err := keys.NewPrivateKey()
	require.NoError(t, err)

	acc, err := accountFromWIF(pk.WIF())
	require.NoError(t, err)
	assert.Equal(t, pk.Address(), address.Uint160ToString(acc.ScriptHash()))
}

func TestReceiptFromLog(t *testing.T) {
	halt := &result.ApplicationLog{Executions: []state.Execution{{VMState: vmstate.Halt, GasConsumed: 9977780}}}
	r := receiptFromLog("0xaa", halt)
	assert.Equal(t, ports.ReceiptStatusSuccess, r.Status)
	assert.Equal(t, "HALT", r.VMState)
	assert.Equal(t, int64(9977780), r.GasConsumed)

	fault := &result.ApplicationLog{Executions: []state.Execution{{VMState: vmstate.Fault, FaultException: "insufficient funds"}}}
	r = receiptFromLog("0xbb", fault)
	assert.Equal(t, ports.ReceiptStatusFailed, r.Status)
	assert.Equal(t, "insufficient funds", r.Exception)

	r = receiptFromLog("0xcc", &result.ApplicationLog{})
	assert.Equal(t, ports.ReceiptStatusFailed, r.Status)
	assert.Equal(t, ports.ReceiptStatusFailed, receiptFromLog("0xdd", nil).Status)
}

func TestTxHashRoundTrip(t *testing.T) {
	const hash = "0x0a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20212223242526272829"
	u, err := parseTxHash(hash)
	require.NoError(t, err)
	assert.Equal(t, hash, formatTxHash(u))

	_, err = parseTxHash("0x12")
	assert.Error(t, err)
}

func TestIsNotFoundError(t *testing.T) {
	assert.True(t, isNotFoundError(errors.New("Unknown transaction")))
	assert.True(t, isNotFoundError(errors.New("rpc error: Unknown script container (-103)")))
	assert.True(t, isNotFoundError(errors.New("application log not found")))
	assert.False(t, isNotFoundError(errors.New("connection refused")))
	assert.False(t, isNotFoundError(context.DeadlineExceeded))
	assert.False(t, isNotFoundError(nil))
}

func TestNewLimiter(t *testing.T) {
	unlimited := newLimiter(0, 0)
	assert.NoError(t, unlimited.Wait(context.Background()))

	limited := newLimiter(5, 0)
	assert.Equal(t, 1, limited.Burst())
}

func TestExpired(t *testing.T) {
	tests := []struct {
		name   string
		height uint32
		vub    uint32
		want   bool
	}{
		{"unknown vub never expires", 1_000_000, 0, false},
		{"before vub", 90, 100, false},
		{"at vub may still include", 100, 100, false},
		{"past vub", 101, 100, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, expired(tt.height, tt.vub))
		})
	}
}
