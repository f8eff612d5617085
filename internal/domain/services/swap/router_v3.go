package swap

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/wagerpay/settlement_service/internal/adapters/evm"
	"github.com/wagerpay/settlement_service/internal/domain/entities"
	apperrors "github.com/wagerpay/settlement_service/internal/domain/errors"
	"github.com/wagerpay/settlement_service/internal/infrastructure/config"
	"github.com/wagerpay/settlement_service/pkg/logger"
)

const v3SwapGasLimit = 250_000

// feeTiers are probed in order; the first tier that quotes is used.
var feeTiers = []uint32{500, 3000, 10000, 100}

type exactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

type quoteExactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	AmountIn          *big.Int
	Fee               *big.Int
	SqrtPriceLimitX96 *big.Int
}

// defaultFeeTier is used when swapping without a quote.
const defaultFeeTier = 3000

// RouterStrategy swaps through the V3 swap router, sending the native
// amount as transaction value. A quoter is required unless the chain
// explicitly opts into unbounded slippage: without a quoted expected
// output there is no defensible minimum, and an unprotected swap hands
// the whole deposit to whoever is sandwiching the pool.
type RouterStrategy struct {
	client  *evm.Client
	router  common.Address
	quoter  common.Address
	wrapped common.Address
	stable  common.Address
	cfg     config.ChainConfig
	logger  *logger.Logger
}

func NewRouterStrategy(client *evm.Client, cfg config.ChainConfig, log *logger.Logger) *RouterStrategy {
	return &RouterStrategy{
		client:  client,
		router:  common.HexToAddress(cfg.V3Router),
		quoter:  common.HexToAddress(cfg.V3Quoter),
		wrapped: common.HexToAddress(cfg.WrappedNative),
		stable:  common.HexToAddress(cfg.StableToken),
		cfg:     cfg,
		logger:  log,
	}
}

func (s *RouterStrategy) Name() string { return "v3_router" }

func (s *RouterStrategy) GasBudget() uint64 { return v3SwapGasLimit }

func (s *RouterStrategy) Swap(ctx context.Context, req Request) (*entities.SwapResult, error) {
	fee := uint32(defaultFeeTier)
	minOut := big.NewInt(0)
	if s.quoter == (common.Address{}) {
		if !s.cfg.AllowUnboundedSlippage {
			return nil, apperrors.ErrQuoteRequired
		}
		s.logger.Warn("swapping without a quote, slippage is unbounded",
			"strategy", s.Name(), "fee_tier", fee)
	} else {
		tier, quoted, err := s.quote(ctx, req.AmountIn)
		if err != nil {
			return nil, err
		}
		fee = tier
		minOut = ApplySlippage(quoted, s.cfg.SlippageBps)
	}

	beforeBal, err := s.client.TokenBalance(ctx, s.stable, req.Recipient)
	if err != nil {
		beforeBal = nil
	}

	data, err := evm.V3RouterABI.Pack("exactInputSingle", exactInputSingleParams{
		TokenIn:           s.wrapped,
		TokenOut:          s.stable,
		Fee:               big.NewInt(int64(fee)),
		Recipient:         req.Recipient,
		AmountIn:          req.AmountIn,
		AmountOutMinimum:  minOut,
		SqrtPriceLimitX96: big.NewInt(0),
	})
	if err != nil {
		return nil, err
	}

	receipt, err := s.client.Execute(ctx, req.Key, evm.TxRequest{
		To:       s.router,
		Value:    req.AmountIn,
		Data:     data,
		GasLimit: v3SwapGasLimit,
		Fees:     req.Fees,
	})
	if err != nil {
		return nil, fmt.Errorf("router swap failed: %w", err)
	}

	afterBal, err := s.client.TokenBalance(ctx, s.stable, req.Recipient)
	if err != nil {
		afterBal = nil
	}

	return &entities.SwapResult{
		Strategy:   s.Name(),
		TxHash:     receipt.TxHash.Hex(),
		AmountIn:   req.AmountIn,
		AmountOut:  realizedOut(beforeBal, afterBal, receipt, s.stable, req.Recipient, minOut),
		MinOut:     minOut,
		GasReserve: req.GasReserve,
	}, nil
}

// quote probes the fee tiers and returns the first that produces a
// non-zero output.
func (s *RouterStrategy) quote(ctx context.Context, amountIn *big.Int) (uint32, *big.Int, error) {
	for _, tier := range feeTiers {
		data, err := evm.V3QuoterABI.Pack("quoteExactInputSingle", quoteExactInputSingleParams{
			TokenIn:           s.wrapped,
			TokenOut:          s.stable,
			AmountIn:          amountIn,
			Fee:               big.NewInt(int64(tier)),
			SqrtPriceLimitX96: big.NewInt(0),
		})
		if err != nil {
			return 0, nil, err
		}

		out, err := s.client.CallContract(ctx, ethereum.CallMsg{To: &s.quoter, Data: data})
		if err != nil {
			// Uninitialized pools revert; try the next tier.
			continue
		}
		results, err := evm.V3QuoterABI.Unpack("quoteExactInputSingle", out)
		if err != nil {
			continue
		}
		amountOut := results[0].(*big.Int)
		if amountOut.Sign() > 0 {
			return tier, amountOut, nil
		}
	}
	return 0, nil, apperrors.ErrNoLiquidity
}
