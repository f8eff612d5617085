package swap

import (
	"context"
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/wagerpay/settlement_service/internal/adapters/evm"
	"github.com/wagerpay/settlement_service/internal/domain/entities"
)

// Request carries one swap attempt. AmountIn is the effective input
// after the gas reserve has been held back; strategies never touch the
// reserve.
type Request struct {
	Key        *ecdsa.PrivateKey
	From       common.Address
	Recipient  common.Address
	AmountIn   *big.Int
	GasReserve *big.Int
	Fees       *evm.FeeEstimate
}

// Strategy converts a native deposit into the chain's stable token.
// Strategies are tried in configured order; a strategy that cannot
// serve a request returns ErrNoLiquidity or ErrQuoteRequired and the
// router moves on.
type Strategy interface {
	Name() string
	// GasBudget is the total gas the strategy's transactions may burn.
	// The router reserves this much native value before handing the
	// remainder to Swap.
	GasBudget() uint64
	Swap(ctx context.Context, req Request) (*entities.SwapResult, error)
}

// ConstantProductOut computes the V2 constant-product output for
// amountIn against the given reserves, including the 0.3% pool fee.
// All math is integer; rounding always favors the pool.
func ConstantProductOut(amountIn, reserveIn, reserveOut *big.Int) *big.Int {
	amountInWithFee := new(big.Int).Mul(amountIn, big.NewInt(997))
	numerator := new(big.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, big.NewInt(1000))
	denominator.Add(denominator, amountInWithFee)
	return numerator.Div(numerator, denominator)
}

// ApplySlippage lowers an expected output by bps basis points to form
// the on-chain minimum.
func ApplySlippage(amount *big.Int, bps int64) *big.Int {
	out := new(big.Int).Mul(amount, big.NewInt(10000-bps))
	return out.Div(out, big.NewInt(10000))
}

// realizedOut settles on the stable amount the recipient actually
// received. The recipient's balance delta across the swap is the ground
// truth; when either read failed (nil), the receipt's Transfer logs are
// consulted, and only then the floor. Crediting the floor when more was
// delivered strands the difference on the deposit address, where native
// sweeps never touch it.
func realizedOut(before, after *big.Int, receipt *types.Receipt, stable, recipient common.Address, floor *big.Int) *big.Int {
	if before != nil && after != nil {
		delta := new(big.Int).Sub(after, before)
		if delta.Sign() > 0 {
			return delta
		}
	}
	return stableOutFromReceipt(receipt, stable, recipient, floor)
}

// stableOutFromReceipt recovers the actual stable amount delivered to
// recipient from the swap receipt's Transfer logs. Falls back to
// fallback when no matching log is found.
func stableOutFromReceipt(receipt *types.Receipt, stable, recipient common.Address, fallback *big.Int) *big.Int {
	transferTopic := evm.ERC20ABI.Events["Transfer"].ID
	for _, lg := range receipt.Logs {
		if lg.Address != stable || len(lg.Topics) != 3 || lg.Topics[0] != transferTopic {
			continue
		}
		to := common.BytesToAddress(lg.Topics[2].Bytes())
		if to != recipient {
			continue
		}
		return new(big.Int).SetBytes(lg.Data)
	}
	return fallback
}
