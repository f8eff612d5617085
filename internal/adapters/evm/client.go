package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	apperrors "github.com/wagerpay/settlement_service/internal/domain/errors"
	"github.com/wagerpay/settlement_service/internal/infrastructure/config"
	"github.com/wagerpay/settlement_service/pkg/logger"
	"github.com/wagerpay/settlement_service/pkg/metrics"
)

const (
	defaultCallTimeout    = 15 * time.Second
	defaultRateLimit      = 10 // requests per second when unconfigured
	receiptPollInterval   = 2 * time.Second
	defaultReceiptTimeout = 3 * time.Minute
)

// Client wraps an EVM JSON-RPC endpoint with a circuit breaker, a rate
// limiter and per-call timeouts. All chain access in the service goes
// through it.
type Client struct {
	chainKey       string
	chainID        *big.Int
	eth            *ethclient.Client
	circuitBreaker *gobreaker.CircuitBreaker
	rateLimiter    *rate.Limiter
	logger         *logger.Logger
}

// Dial connects to the chain's RPC endpoint and verifies the reported
// chain ID matches configuration before returning.
func Dial(ctx context.Context, chainKey string, cfg config.ChainConfig, log *logger.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPC)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc for chain %s: %w", chainKey, err)
	}

	cbSettings := gobreaker.Settings{
		Name:        fmt.Sprintf("evm-%s", chainKey),
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		// A pending transaction legitimately has no receipt yet; don't
		// let receipt polling trip the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ethereum.NotFound)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Info("RPC circuit breaker state changed",
				"name", name, "from", from.String(), "to", to.String())
		},
	}

	limit := cfg.RPCRateLimitPerSecond
	if limit <= 0 {
		limit = defaultRateLimit
	}

	c := &Client{
		chainKey:       chainKey,
		eth:            eth,
		circuitBreaker: gobreaker.NewCircuitBreaker(cbSettings),
		rateLimiter:    rate.NewLimiter(rate.Limit(limit), limit),
		logger:         log,
	}

	chainID, err := c.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("failed to fetch chain id for %s: %w", chainKey, err)
	}
	if chainID.Int64() != cfg.ChainID {
		eth.Close()
		return nil, fmt.Errorf("chain %s: rpc reports chain id %d, config says %d",
			chainKey, chainID.Int64(), cfg.ChainID)
	}
	c.chainID = chainID

	return c, nil
}

// ChainKey returns the configured key for this chain.
func (c *Client) ChainKey() string {
	return c.chainKey
}

// Signer returns the EIP-155 signer for this chain.
func (c *Client) Signer() types.Signer {
	return types.LatestSignerForChainID(c.chainID)
}

// ChainIDCached returns the chain ID verified at dial time.
func (c *Client) ChainIDCached() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// call funnels every RPC through the rate limiter and circuit breaker
// with a bounded timeout, and records the outcome metric.
func call[T any](ctx context.Context, c *Client, method string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return zero, fmt.Errorf("rate limiter: %w", err)
	}

	result, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, defaultCallTimeout)
		defer cancel()
		return fn(callCtx)
	})

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.RPCCallCounter.WithLabelValues(c.chainKey, method, outcome).Inc()

	if err != nil {
		return zero, err
	}
	return result.(T), nil
}

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return call(ctx, c, "eth_chainId", func(ctx context.Context) (*big.Int, error) {
		return c.eth.ChainID(ctx)
	})
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return call(ctx, c, "eth_blockNumber", func(ctx context.Context) (uint64, error) {
		return c.eth.BlockNumber(ctx)
	})
}

func (c *Client) BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error) {
	return call(ctx, c, "eth_getBlockByNumber", func(ctx context.Context) (*types.Block, error) {
		return c.eth.BlockByNumber(ctx, number)
	})
}

func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return call(ctx, c, "eth_getBlockByNumber", func(ctx context.Context) (*types.Header, error) {
		return c.eth.HeaderByNumber(ctx, number)
	})
}

func (c *Client) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return call(ctx, c, "eth_getBalance", func(ctx context.Context) (*big.Int, error) {
		return c.eth.BalanceAt(ctx, account, blockNumber)
	})
}

func (c *Client) NonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return call(ctx, c, "eth_getTransactionCount", func(ctx context.Context) (uint64, error) {
		return c.eth.PendingNonceAt(ctx, account)
	})
}

func (c *Client) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return call(ctx, c, "eth_maxPriorityFeePerGas", func(ctx context.Context) (*big.Int, error) {
		return c.eth.SuggestGasTipCap(ctx)
	})
}

func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return call(ctx, c, "eth_estimateGas", func(ctx context.Context) (uint64, error) {
		return c.eth.EstimateGas(ctx, msg)
	})
}

func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	return call(ctx, c, "eth_call", func(ctx context.Context) ([]byte, error) {
		return c.eth.CallContract(ctx, msg, nil)
	})
}

func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return call(ctx, c, "eth_getLogs", func(ctx context.Context) ([]types.Log, error) {
		return c.eth.FilterLogs(ctx, q)
	})
}

func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return call(ctx, c, "eth_getTransactionReceipt", func(ctx context.Context) (*types.Receipt, error) {
		return c.eth.TransactionReceipt(ctx, txHash)
	})
}

func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	_, err := call(ctx, c, "eth_sendRawTransaction", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.eth.SendTransaction(ctx, tx)
	})
	return err
}

// SendAndWait broadcasts a signed transaction and blocks until it is
// mined or the context's deadline passes. A receipt with a failed status
// is returned alongside an error so callers can inspect it.
func (c *Client) SendAndWait(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if err := c.SendTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to broadcast transaction: %w", err)
	}

	waitCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, defaultReceiptTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.TransactionReceipt(waitCtx, tx.Hash())
		if err == nil && receipt != nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, fmt.Errorf("transaction %s reverted", tx.Hash().Hex())
			}
			return receipt, nil
		}

		select {
		case <-waitCtx.Done():
			// The transaction was broadcast; it may still mine. Callers
			// must not re-send on this error.
			return nil, fmt.Errorf("%w: timed out waiting for transaction %s", apperrors.ErrTxIndeterminate, tx.Hash().Hex())
		case <-ticker.C:
		}
	}
}
