package swap

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wagerpay/settlement_service/internal/adapters/evm"
	"github.com/wagerpay/settlement_service/internal/domain/entities"
	apperrors "github.com/wagerpay/settlement_service/internal/domain/errors"
	"github.com/wagerpay/settlement_service/internal/infrastructure/config"
	"github.com/wagerpay/settlement_service/pkg/logger"
)

// Router picks a swap strategy for each deposit. Strategies run in the
// configured order; a strategy that cannot serve the request (no pool,
// no quote, not enough value to cover its gas) is skipped and the next
// one tried. Only execution failures stop the chain.
type Router struct {
	client     *evm.Client
	cfg        config.ChainConfig
	strategies []Strategy
	logger     *logger.Logger
}

// defaultOrder when the chain config doesn't pin one.
var defaultOrder = []string{"one_shot", "v3_router", "v2_pair"}

// NewRouter builds the strategy chain from chain configuration. Only
// strategies whose contract addresses are configured are included.
func NewRouter(client *evm.Client, cfg config.ChainConfig, log *logger.Logger) (*Router, error) {
	order := cfg.StrategyOrder
	if len(order) == 0 {
		order = defaultOrder
	}

	var strategies []Strategy
	for _, name := range order {
		switch name {
		case "one_shot":
			if cfg.OneShotSwap != "" {
				strategies = append(strategies, NewOneShotStrategy(client, cfg, log))
			}
		case "v3_router":
			if cfg.V3Router != "" {
				strategies = append(strategies, NewRouterStrategy(client, cfg, log))
			}
		case "v2_pair":
			if cfg.V2Factory != "" && cfg.WrappedNative != "" {
				strategies = append(strategies, NewPairDirectStrategy(client, cfg, log))
			}
		default:
			return nil, apperrors.ConfigurationError("strategy_order", fmt.Sprintf("unknown swap strategy %q", name))
		}
	}
	if len(strategies) == 0 {
		return nil, apperrors.ConfigurationError("strategy_order", "no swap strategy is configured for this chain")
	}

	return &Router{
		client:     client,
		cfg:        cfg,
		strategies: strategies,
		logger:     log,
	}, nil
}

// Strategies exposes the configured chain for logging and tests.
func (r *Router) Strategies() []string {
	names := make([]string, 0, len(r.strategies))
	for _, s := range r.strategies {
		names = append(names, s.Name())
	}
	return names
}

// Swap converts amountIn native units held by the deposit address into
// the stable token. The gas each strategy needs is reserved off the top
// of amountIn before the strategy runs; if nothing is left the deposit
// is too small to settle.
func (r *Router) Swap(ctx context.Context, key *ecdsa.PrivateKey, from common.Address, amountIn *big.Int) (*entities.SwapResult, error) {
	fees, err := r.client.EstimateFees(ctx, r.cfg)
	if err != nil {
		return nil, fmt.Errorf("fee estimation failed: %w", err)
	}
	return r.trySwap(ctx, key, from, amountIn, fees)
}

func (r *Router) trySwap(ctx context.Context, key *ecdsa.PrivateKey, from common.Address, amountIn *big.Int, fees *evm.FeeEstimate) (*entities.SwapResult, error) {
	var lastErr error
	for _, strategy := range r.strategies {
		reserve := fees.Reserve(strategy.GasBudget())
		effective := new(big.Int).Sub(amountIn, reserve)
		if effective.Sign() <= 0 {
			r.logger.Warn("Deposit too small to cover swap gas",
				"strategy", strategy.Name(),
				"amount_in", amountIn.String(),
				"gas_reserve", reserve.String())
			lastErr = apperrors.ErrInsufficientGas
			continue
		}

		result, err := strategy.Swap(ctx, Request{
			Key:        key,
			From:       from,
			Recipient:  from,
			AmountIn:   effective,
			GasReserve: reserve,
			Fees:       fees,
		})
		if err == nil {
			return result, nil
		}

		lastErr = err
		if errors.Is(err, apperrors.ErrNoLiquidity) || errors.Is(err, apperrors.ErrQuoteRequired) {
			r.logger.Info("Swap strategy unavailable, trying next",
				"strategy", strategy.Name(), "reason", err.Error())
			continue
		}
		// Execution failures are not retried on another venue: the
		// first legs of a multi-tx strategy may already have landed.
		return nil, fmt.Errorf("strategy %s: %w", strategy.Name(), err)
	}

	return nil, fmt.Errorf("no swap strategy could settle the deposit: %w", lastErr)
}
