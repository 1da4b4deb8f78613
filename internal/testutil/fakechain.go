// Package testutil provides in-process fakes shared by service and handler tests.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"custodial-ledger/internal/core/ports"

	"github.com/shopspring/decimal"
)

type txState int

const (
	txPending txState = iota
	txHalted
	txFaulted
	txExpired
)

// ValidityWindow is how many blocks past the current height a submitted
// transaction stays includable.
const ValidityWindow = 100

type fakeTx struct {
	hash   string
	native bool
	from   string
	to     string
	amount *big.Int
	vub    uint32
	state  txState
}

// FakeChain is an in-memory ports.ChainGateway and ports.KeyGenerator.
// Transfers take effect when confirmed, so a failed or timed-out
// confirmation never credits the recipient.
type FakeChain struct {
	mu       sync.Mutex
	symbol   string
	decimals int
	token    map[string]*big.Int
	native   map[string]*big.Int
	keys     map[string]string // private key -> address
	txs      map[string]*fakeTx
	seq      int
	height   uint32

	submitErr  error
	confirmErr error
	faultNext  bool
	balanceErr error
	submits    int

	beforeConfirm func(hash string)
}

// NewFakeChain creates a chain whose token has the given symbol and decimals.
func NewFakeChain(symbol string, decimals int) *FakeChain {
	return &FakeChain{
		symbol:   symbol,
		decimals: decimals,
		token:    make(map[string]*big.Int),
		native:   make(map[string]*big.Int),
		keys:     make(map[string]string),
		txs:      make(map[string]*fakeTx),
	}
}

func key(addr string) string { return strings.ToLower(addr) }

// SetTokenBalance sets addr's token balance from a decimal string.
func (c *FakeChain) SetTokenBalance(addr, amount string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token[key(addr)] = decimal.RequireFromString(amount).Shift(int32(c.decimals)).BigInt()
}

// TokenBalanceOf returns addr's token balance as a decimal.
func (c *FakeChain) TokenBalanceOf(addr string) decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return decimal.NewFromBigInt(c.balance(c.token, addr), -int32(c.decimals))
}

// SetNativeBalance sets addr's native balance in base units.
func (c *FakeChain) SetNativeBalance(addr string, units int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.native[key(addr)] = big.NewInt(units)
}

// NativeBalanceOf returns addr's native balance in base units.
func (c *FakeChain) NativeBalanceOf(addr string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balance(c.native, addr).Int64()
}

// FailSubmit makes every submission fail with err until cleared with nil.
func (c *FakeChain) FailSubmit(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitErr = err
}

// FailConfirm makes AwaitConfirmation return err and leave the tx pending.
func (c *FakeChain) FailConfirm(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmErr = err
}

// FaultNext makes the next confirmed transaction end in FAULT.
func (c *FakeChain) FaultNext() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faultNext = true
}

// FailBalance makes balance reads fail with err until cleared with nil.
func (c *FakeChain) FailBalance(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balanceErr = err
}

// Submits returns the number of accepted submissions.
func (c *FakeChain) Submits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submits
}

// BeforeConfirm registers fn to run at the start of every
// AwaitConfirmation, outside the chain's lock, so tests can interleave other
// calls with an in-flight transfer.
func (c *FakeChain) BeforeConfirm(fn func(hash string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.beforeConfirm = fn
}

// AdvanceBlocks moves the chain height forward by n blocks.
func (c *FakeChain) AdvanceBlocks(n uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.height += n
}

// Settle finalizes a pending transaction as if a block included it later.
// Expired transactions can no longer be included.
func (c *FakeChain) Settle(hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tx, ok := c.txs[hash]; ok && tx.state == txPending && !c.expire(tx) {
		c.finalize(tx)
	}
}

// Pending reports whether hash was submitted and not yet included.
func (c *FakeChain) Pending(hash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	tx, ok := c.txs[hash]
	return ok && tx.state == txPending
}

func (c *FakeChain) balance(m map[string]*big.Int, addr string) *big.Int {
	if b, ok := m[key(addr)]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// GenerateKey implements ports.KeyGenerator.
func (c *FakeChain) GenerateKey() (*ports.GeneratedKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	k := &ports.GeneratedKey{
		Address:    fmt.Sprintf("0x%040x", c.seq),
		PrivateKey: fmt.Sprintf("wif-%d", c.seq),
	}
	c.keys[k.PrivateKey] = k.Address
	return k, nil
}

// AddressFromKey implements ports.KeyGenerator.
func (c *FakeChain) AddressFromKey(privateKey string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	addr, ok := c.keys[privateKey]
	if !ok {
		return "", errors.New("unknown key")
	}
	return addr, nil
}

// ImportKey registers an externally created key, e.g. a configured treasury WIF.
func (c *FakeChain) ImportKey(privateKey, address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys[privateKey] = key(address)
}

func (c *FakeChain) TokenInfo(ctx context.Context) (string, int, error) {
	return c.symbol, c.decimals, nil
}

func (c *FakeChain) TokenBalance(ctx context.Context, address string) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.balanceErr != nil {
		return nil, c.balanceErr
	}
	return c.balance(c.token, address), nil
}

func (c *FakeChain) NativeBalance(ctx context.Context, address string) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.balanceErr != nil {
		return nil, c.balanceErr
	}
	return c.balance(c.native, address), nil
}

func (c *FakeChain) SubmitTokenTransfer(ctx context.Context, privateKey, to string, amount *big.Int) (*ports.Submission, error) {
	return c.submit(privateKey, to, amount, false)
}

func (c *FakeChain) SubmitNativeTransfer(ctx context.Context, privateKey, to string, amount *big.Int) (*ports.Submission, error) {
	return c.submit(privateKey, to, amount, true)
}

func (c *FakeChain) submit(privateKey, to string, amount *big.Int, native bool) (*ports.Submission, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.submitErr != nil {
		return nil, c.submitErr
	}
	from, ok := c.keys[privateKey]
	if !ok {
		return nil, errors.New("invalid signing key")
	}
	c.seq++
	c.submits++
	tx := &fakeTx{
		hash:   fmt.Sprintf("0x%064x", c.seq),
		native: native,
		from:   key(from),
		to:     key(to),
		amount: new(big.Int).Set(amount),
		vub:    c.height + ValidityWindow,
	}
	c.txs[tx.hash] = tx
	return &ports.Submission{Hash: tx.hash, ValidUntilBlock: tx.vub}, nil
}

// expire marks a pending tx expired once the height passes its vub.
func (c *FakeChain) expire(tx *fakeTx) bool {
	if tx.state == txPending && c.height > tx.vub {
		tx.state = txExpired
	}
	return tx.state == txExpired
}

// finalize executes tx. An overdraft faults like the contract would.
func (c *FakeChain) finalize(tx *fakeTx) {
	m := c.token
	if tx.native {
		m = c.native
	}
	from := c.balance(m, tx.from)
	if c.faultNext || from.Cmp(tx.amount) < 0 {
		c.faultNext = false
		tx.state = txFaulted
		return
	}
	m[tx.from] = from.Sub(from, tx.amount)
	to := c.balance(m, tx.to)
	m[tx.to] = to.Add(to, tx.amount)
	tx.state = txHalted
}

func receipt(tx *fakeTx) *ports.Receipt {
	r := &ports.Receipt{Hash: tx.hash, BlockIndex: 1, GasConsumed: 1000}
	if tx.state == txHalted {
		r.Status = ports.ReceiptStatusSuccess
		r.VMState = "HALT"
	} else {
		r.Status = ports.ReceiptStatusFailed
		r.VMState = "FAULT"
		r.Exception = "transfer failed"
	}
	return r
}

func (c *FakeChain) AwaitConfirmation(ctx context.Context, sub ports.Submission) (*ports.Receipt, error) {
	c.mu.Lock()
	hook := c.beforeConfirm
	c.mu.Unlock()
	if hook != nil {
		hook(sub.Hash)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	tx, ok := c.txs[sub.Hash]
	if !ok {
		return nil, fmt.Errorf("transaction %s not found", sub.Hash)
	}
	if c.expire(tx) {
		return nil, fmt.Errorf("transaction %s: %w", sub.Hash, ports.ErrTransactionExpired)
	}
	if c.confirmErr != nil {
		return nil, c.confirmErr
	}
	if tx.state == txPending {
		c.finalize(tx)
	}
	return receipt(tx), nil
}

func (c *FakeChain) LookupTransaction(ctx context.Context, sub ports.Submission) (*ports.Receipt, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tx, ok := c.txs[sub.Hash]
	if !ok {
		if sub.ValidUntilBlock != 0 && c.height > sub.ValidUntilBlock {
			return nil, false, fmt.Errorf("transaction %s: %w", sub.Hash, ports.ErrTransactionExpired)
		}
		return nil, false, nil
	}
	if c.expire(tx) {
		return nil, false, fmt.Errorf("transaction %s: %w", sub.Hash, ports.ErrTransactionExpired)
	}
	if tx.state == txPending {
		return nil, false, nil
	}
	return receipt(tx), true, nil
}
