package entities

import (
	"fmt"
	"math/big"
)

// SwapResult is the outcome of converting a deposit into the chain's
// stable settlement token.
type SwapResult struct {
	Strategy   string   `json:"strategy"`
	TxHash     string   `json:"tx_hash"`
	AmountIn   *big.Int `json:"amount_in"`   // input after gas reservation
	AmountOut  *big.Int `json:"amount_out"`  // stable token units received
	MinOut     *big.Int `json:"min_out"`     // slippage floor enforced on-chain
	GasReserve *big.Int `json:"gas_reserve"` // native units held back for fees

	// Distributed is set when the strategy's contract already split the
	// proceeds between treasury and fee wallets, so no separate split
	// step is needed.
	Distributed bool `json:"distributed"`
}

// SplitResult records how a swap's proceeds were divided between the
// master treasury and the platform fee wallet.
type SplitResult struct {
	Total        *big.Int `json:"total"`
	MasterAmount *big.Int `json:"master_amount"`
	FeeAmount    *big.Int `json:"fee_amount"`
	MasterTxHash string   `json:"master_tx_hash"`
	FeeTxHash    string   `json:"fee_tx_hash"`
	Gasless      bool     `json:"gasless"`
}

// Validate checks split conservation: the two legs must consume the
// total exactly, with the remainder of integer division going to the
// master side.
func (r *SplitResult) Validate() error {
	if r.Total == nil || r.MasterAmount == nil || r.FeeAmount == nil {
		return fmt.Errorf("split result has nil amounts")
	}
	sum := new(big.Int).Add(r.MasterAmount, r.FeeAmount)
	if sum.Cmp(r.Total) != 0 {
		return fmt.Errorf("split does not conserve total: %s + %s != %s",
			r.MasterAmount, r.FeeAmount, r.Total)
	}
	if r.MasterAmount.Sign() < 0 || r.FeeAmount.Sign() < 0 {
		return fmt.Errorf("split produced a negative leg")
	}
	return nil
}

// SweepStatus represents the outcome of sweeping one deposit address.
type SweepStatus string

const (
	SweepStatusSwept   SweepStatus = "swept"
	SweepStatusSkipped SweepStatus = "skipped"
	SweepStatusFailed  SweepStatus = "failed"
)

// SweepOutcome is the per-address result of a sweep pass.
type SweepOutcome struct {
	From   string      `json:"from"`
	Status SweepStatus `json:"status"`
	TxHash string      `json:"tx_hash,omitempty"`
	Amount *big.Int    `json:"amount,omitempty"`
	Reason string      `json:"reason,omitempty"`
}
