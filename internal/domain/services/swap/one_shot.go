package swap

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wagerpay/settlement_service/internal/adapters/evm"
	"github.com/wagerpay/settlement_service/internal/domain/entities"
	apperrors "github.com/wagerpay/settlement_service/internal/domain/errors"
	"github.com/wagerpay/settlement_service/internal/infrastructure/config"
	"github.com/wagerpay/settlement_service/pkg/logger"
)

const oneShotGasLimit = 300_000

// OneShotStrategy sends the whole deposit into a purpose-built contract
// that swaps to the stable token and distributes the proceeds to the
// treasury wallets in one transaction. Cheapest path when the contract
// is deployed on the chain.
//
// The output floor still comes from the quoter; the contract enforces
// it on its internal swap.
type OneShotStrategy struct {
	client   *evm.Client
	contract common.Address
	stable   common.Address
	quoter   *RouterStrategy // reused for quoting only
	cfg      config.ChainConfig
	logger   *logger.Logger
}

func NewOneShotStrategy(client *evm.Client, cfg config.ChainConfig, log *logger.Logger) *OneShotStrategy {
	return &OneShotStrategy{
		client:   client,
		contract: common.HexToAddress(cfg.OneShotSwap),
		stable:   common.HexToAddress(cfg.StableToken),
		quoter:   NewRouterStrategy(client, cfg, log),
		cfg:      cfg,
		logger:   log,
	}
}

func (s *OneShotStrategy) Name() string { return "one_shot" }

func (s *OneShotStrategy) GasBudget() uint64 { return oneShotGasLimit }

func (s *OneShotStrategy) Swap(ctx context.Context, req Request) (*entities.SwapResult, error) {
	minOut := big.NewInt(0)
	if s.quoter.quoter == (common.Address{}) {
		if !s.cfg.AllowUnboundedSlippage {
			return nil, apperrors.ErrQuoteRequired
		}
		s.logger.Warn("swapping without a quote, slippage is unbounded", "strategy", s.Name())
	} else {
		_, quoted, err := s.quoter.quote(ctx, req.AmountIn)
		if err != nil {
			return nil, err
		}
		minOut = ApplySlippage(quoted, s.cfg.SlippageBps)
	}

	data, err := evm.OneShotABI.Pack("swapNativeToStableAndDistribute", minOut)
	if err != nil {
		return nil, err
	}

	receipt, err := s.client.Execute(ctx, req.Key, evm.TxRequest{
		To:       s.contract,
		Value:    req.AmountIn,
		Data:     data,
		GasLimit: oneShotGasLimit,
		Fees:     req.Fees,
	})
	if err != nil {
		return nil, fmt.Errorf("one-shot swap failed: %w", err)
	}

	// Proceeds never touch the deposit address; sum what the contract
	// moved out of the pool instead.
	out := stableOutFromReceipt(receipt, s.stable, s.contract, nil)
	if out == nil {
		out = new(big.Int).Set(minOut)
	}

	return &entities.SwapResult{
		Strategy:    s.Name(),
		TxHash:      receipt.TxHash.Hex(),
		AmountIn:    req.AmountIn,
		AmountOut:   out,
		MinOut:      minOut,
		GasReserve:  req.GasReserve,
		Distributed: true,
	}, nil
}
