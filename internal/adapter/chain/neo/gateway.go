// Package neo is the Neo N3 chain gateway: NEP-17 token and GAS balances,
// signed transfers, and confirmation by polling the application log.
package neo

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"custodial-ledger/internal/core/ports"

	"github.com/nspcc-dev/neo-go/pkg/neorpc/result"
	"github.com/nspcc-dev/neo-go/pkg/rpcclient"
	"github.com/nspcc-dev/neo-go/pkg/rpcclient/actor"
	"github.com/nspcc-dev/neo-go/pkg/rpcclient/gas"
	"github.com/nspcc-dev/neo-go/pkg/rpcclient/invoker"
	"github.com/nspcc-dev/neo-go/pkg/rpcclient/nep17"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/nspcc-dev/neo-go/pkg/vm/vmstate"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	// DefaultTxWaitTimeout bounds a confirmation wait when the caller's ctx has none.
	DefaultTxWaitTimeout = 2 * time.Minute
	// DefaultPollInterval is the application log polling period.
	DefaultPollInterval = 2 * time.Second
)

// Options configures a Gateway.
type Options struct {
	Endpoint       string
	ContractHash   string
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	RPCRate        float64
	RPCBurst       int
}

// Gateway implements ports.ChainGateway against one RPC node and one
// NEP-17 contract.
type Gateway struct {
	client   *rpcclient.Client
	contract util.Uint160
	limiter  *rate.Limiter
	timeout  time.Duration
	poll     time.Duration
	log      zerolog.Logger
}

// Dial connects to the RPC node and initializes network parameters.
func Dial(ctx context.Context, opts Options, log zerolog.Logger) (*Gateway, error) {
	contract, err := ParseAddress(opts.ContractHash)
	if err != nil {
		return nil, fmt.Errorf("contract hash: %w", err)
	}

	client, err := rpcclient.New(ctx, opts.Endpoint, rpcclient.Options{})
	if err != nil {
		return nil, fmt.Errorf("dial neo rpc: %w", err)
	}
	if err := client.Init(); err != nil {
		client.Close()
		return nil, fmt.Errorf("init neo rpc: %w", err)
	}

	g := &Gateway{
		client:   client,
		contract: contract,
		limiter:  newLimiter(opts.RPCRate, opts.RPCBurst),
		timeout:  opts.ConfirmTimeout,
		poll:     opts.PollInterval,
		log:      log.With().Str("component", "chain").Logger(),
	}
	if g.timeout <= 0 {
		g.timeout = DefaultTxWaitTimeout
	}
	if g.poll <= 0 {
		g.poll = DefaultPollInterval
	}

	g.log.Info().Str("endpoint", opts.Endpoint).Str("contract", FormatScriptHash(contract)).Msg("Neo RPC client initialized")
	return g, nil
}

func newLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// Close releases the RPC client.
func (g *Gateway) Close() {
	g.client.Close()
}

func (g *Gateway) wait(ctx context.Context) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rpc throttle: %w", err)
	}
	return nil
}

func (g *Gateway) tokenReader() *nep17.TokenReader {
	return nep17.NewReader(invoker.New(g.client, nil), g.contract)
}

// TokenInfo reads the contract's symbol and decimals.
func (g *Gateway) TokenInfo(ctx context.Context) (string, int, error) {
	if err := g.wait(ctx); err != nil {
		return "", 0, err
	}
	reader := g.tokenReader()
	symbol, err := reader.Symbol()
	if err != nil {
		return "", 0, fmt.Errorf("read token symbol: %w", err)
	}
	decimals, err := reader.Decimals()
	if err != nil {
		return "", 0, fmt.Errorf("read token decimals: %w", err)
	}
	return symbol, decimals, nil
}

// TokenBalance returns the NEP-17 balance of address in the smallest unit.
func (g *Gateway) TokenBalance(ctx context.Context, addr string) (*big.Int, error) {
	u, err := ParseAddress(addr)
	if err != nil {
		return nil, err
	}
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	bal, err := g.tokenReader().BalanceOf(u)
	if err != nil {
		return nil, fmt.Errorf("token balanceOf: %w", err)
	}
	return bal, nil
}

// NativeBalance returns the GAS balance of address in fractions.
func (g *Gateway) NativeBalance(ctx context.Context, addr string) (*big.Int, error) {
	u, err := ParseAddress(addr)
	if err != nil {
		return nil, err
	}
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	bal, err := gas.NewReader(invoker.New(g.client, nil)).BalanceOf(u)
	if err != nil {
		return nil, fmt.Errorf("gas balanceOf: %w", err)
	}
	return bal, nil
}

// SubmitTokenTransfer signs and broadcasts a NEP-17 transfer.
func (g *Gateway) SubmitTokenTransfer(ctx context.Context, privateKey, to string, amount *big.Int) (*ports.Submission, error) {
	return g.submit(ctx, privateKey, to, amount, func(a *actor.Actor) *nep17.Token {
		return nep17.New(a, g.contract)
	})
}

// SubmitNativeTransfer signs and broadcasts a GAS transfer.
func (g *Gateway) SubmitNativeTransfer(ctx context.Context, privateKey, to string, amount *big.Int) (*ports.Submission, error) {
	return g.submit(ctx, privateKey, to, amount, func(a *actor.Actor) *nep17.Token {
		return gas.New(a)
	})
}

func (g *Gateway) submit(ctx context.Context, privateKey, to string, amount *big.Int, token func(*actor.Actor) *nep17.Token) (*ports.Submission, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("transfer amount must be positive")
	}
	toU160, err := ParseAddress(to)
	if err != nil {
		return nil, err
	}
	acc, err := accountFromWIF(privateKey)
	if err != nil {
		return nil, err
	}
	if err := g.wait(ctx); err != nil {
		return nil, err
	}

	act, err := actor.NewSimple(g.client, acc)
	if err != nil {
		return nil, fmt.Errorf("create actor: %w", err)
	}

	// Transfer test-invokes first, so a FAULT (e.g. insufficient funds) is
	// reported here without broadcasting.
	h, vub, err := token(act).Transfer(acc.ScriptHash(), toU160, amount, nil)
	if err != nil {
		return nil, fmt.Errorf("broadcast transfer: %w", err)
	}

	sub := &ports.Submission{Hash: formatTxHash(h), ValidUntilBlock: vub}
	g.log.Debug().Str("tx_hash", sub.Hash).Uint32("valid_until_block", vub).Msg("transfer broadcast")
	return sub, nil
}

// AwaitConfirmation polls the application log until the transaction is
// included, its valid-until block passes, ctx ends, or the configured
// confirmation timeout passes.
func (g *Gateway) AwaitConfirmation(ctx context.Context, tx ports.Submission) (*ports.Receipt, error) {
	h, err := parseTxHash(tx.Hash)
	if err != nil {
		return nil, err
	}

	wctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	ticker := time.NewTicker(g.poll)
	defer ticker.Stop()

	for {
		select {
		case <-wctx.Done():
			return nil, fmt.Errorf("await %s: %w", tx.Hash, wctx.Err())
		case <-ticker.C:
			receipt, found, err := g.check(wctx, h, tx.ValidUntilBlock)
			if err != nil {
				return nil, err
			}
			if found {
				return receipt, nil
			}
		}
	}
}

// LookupTransaction checks once whether the transaction was included.
func (g *Gateway) LookupTransaction(ctx context.Context, tx ports.Submission) (*ports.Receipt, bool, error) {
	h, err := parseTxHash(tx.Hash)
	if err != nil {
		return nil, false, err
	}
	return g.check(ctx, h, tx.ValidUntilBlock)
}

// check looks the transaction up and, when it is unknown, reports
// ports.ErrTransactionExpired if the chain is already past vub. The height
// is read before the lookup so an inclusion at vub is always seen.
func (g *Gateway) check(ctx context.Context, h util.Uint256, vub uint32) (*ports.Receipt, bool, error) {
	var height uint32
	if vub != 0 {
		if err := g.wait(ctx); err != nil {
			return nil, false, err
		}
		count, err := g.client.GetBlockCount()
		if err != nil {
			return nil, false, fmt.Errorf("get block count: %w", err)
		}
		if count > 0 {
			height = count - 1
		}
	}

	receipt, found, err := g.lookup(ctx, h)
	if err != nil || found {
		return receipt, found, err
	}
	if expired(height, vub) {
		return nil, false, fmt.Errorf("%s valid until block %d, chain at %d: %w",
			formatTxHash(h), vub, height, ports.ErrTransactionExpired)
	}
	return nil, false, nil
}

// expired reports whether a transaction valid until vub can no longer be
// included at chain height height.
func expired(height, vub uint32) bool {
	return vub != 0 && height > vub
}

func (g *Gateway) lookup(ctx context.Context, h util.Uint256) (*ports.Receipt, bool, error) {
	if err := g.wait(ctx); err != nil {
		return nil, false, err
	}
	appLog, err := g.client.GetApplicationLog(h, nil)
	if err != nil {
		if isNotFoundError(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get application log: %w", err)
	}

	receipt := receiptFromLog(formatTxHash(h), appLog)
	if height, err := g.client.GetTransactionHeight(h); err == nil {
		receipt.BlockIndex = height
	}
	return receipt, true, nil
}

// receiptFromLog maps an application log to a receipt. Only an explicit
// HALT of the first execution counts as success.
func receiptFromLog(hash string, appLog *result.ApplicationLog) *ports.Receipt {
	r := &ports.Receipt{Hash: hash, Status: ports.ReceiptStatusFailed}
	if appLog == nil || len(appLog.Executions) == 0 {
		r.Exception = "application log has no executions"
		return r
	}
	exec := appLog.Executions[0]
	r.VMState = exec.VMState.String()
	r.GasConsumed = exec.GasConsumed
	r.Exception = exec.FaultException
	if exec.VMState == vmstate.Halt {
		r.Status = ports.ReceiptStatusSuccess
	}
	return r
}

// isNotFoundError reports whether the node does not know the transaction
// yet, which is transient while it waits in the mempool.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unknown transaction") ||
		strings.Contains(msg, "unknown script container") ||
		strings.Contains(msg, "not found")
}
