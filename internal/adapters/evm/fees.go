package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/wagerpay/settlement_service/internal/infrastructure/config"
)

// transferGasLimit is the fixed cost of a plain native transfer.
const transferGasLimit = 21000

// FeeEstimate holds EIP-1559 fee fields for one transaction.
type FeeEstimate struct {
	GasTipCap *big.Int
	GasFeeCap *big.Int
}

// EstimateFees derives fee caps from the chain head, clamped to the
// configured ceilings when set.
func (c *Client) EstimateFees(ctx context.Context, cfg config.ChainConfig) (*FeeEstimate, error) {
	head, err := c.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chain head: %w", err)
	}
	if head.BaseFee == nil {
		return nil, fmt.Errorf("chain %s has no base fee, legacy fee chains are not supported", c.chainKey)
	}

	tip, err := c.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tip suggestion: %w", err)
	}

	if cap := parseWei(cfg.MaxPriorityFeeGwei); cap != nil {
		capWei := new(big.Int).Mul(cap, big.NewInt(1_000_000_000))
		if tip.Cmp(capWei) > 0 {
			tip = capWei
		}
	}

	// feeCap = 2*baseFee + tip absorbs two consecutive full blocks of
	// base-fee growth.
	feeCap := new(big.Int).Mul(head.BaseFee, big.NewInt(2))
	feeCap.Add(feeCap, tip)

	if cap := parseWei(cfg.MaxFeePerGasWei); cap != nil && feeCap.Cmp(cap) > 0 {
		feeCap = cap
		if tip.Cmp(feeCap) > 0 {
			tip = new(big.Int).Set(feeCap)
		}
	}

	return &FeeEstimate{GasTipCap: tip, GasFeeCap: feeCap}, nil
}

// Bump raises both fee fields by pct percent for replacement
// transactions.
func (f *FeeEstimate) Bump(pct int64) *FeeEstimate {
	mul := big.NewInt(100 + pct)
	tip := new(big.Int).Mul(f.GasTipCap, mul)
	tip.Div(tip, big.NewInt(100))
	feeCap := new(big.Int).Mul(f.GasFeeCap, mul)
	feeCap.Div(feeCap, big.NewInt(100))
	return &FeeEstimate{GasTipCap: tip, GasFeeCap: feeCap}
}

// Reserve returns the native amount to hold back for a transaction with
// the given gas limit at these fees.
func (f *FeeEstimate) Reserve(gasLimit uint64) *big.Int {
	return new(big.Int).Mul(f.GasFeeCap, new(big.Int).SetUint64(gasLimit))
}

// TransferReserve is the worst-case fee for a plain native transfer.
func (f *FeeEstimate) TransferReserve() *big.Int {
	return f.Reserve(transferGasLimit)
}

// parseWei parses a decimal wei string, returning nil for empty or "0"
// values, which mean "no cap".
func parseWei(s string) *big.Int {
	if s == "" || s == "0" {
		return nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() <= 0 {
		return nil
	}
	return v
}
