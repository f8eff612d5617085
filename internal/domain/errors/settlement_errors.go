package errors

import (
	"errors"
	"strings"
)

// Settlement pipeline error categories. The split between retryable and
// terminal matters: transient RPC faults may be retried within a job,
// while on-chain conditions (no liquidity, insufficient gas, reverts)
// must fail the job before any transaction is sent or after a clean stop.
var (
	// ErrInsufficientGas indicates the signer balance cannot cover the
	// reserved gas budget. Raised before any transaction is sent.
	ErrInsufficientGas = errors.New("insufficient balance for gas reservation")

	// ErrNoLiquidity indicates no pool with usable liquidity was found
	// for the token pair across configured venues.
	ErrNoLiquidity = errors.New("no liquidity for token pair")

	// ErrNoUserForAddress indicates a deposit arrived at an address with
	// no matching user record. The funds remain on-chain, unresolved.
	ErrNoUserForAddress = errors.New("no user record for deposit address")

	// ErrDuplicateDeposit indicates the deposit identity was already
	// admitted or settled.
	ErrDuplicateDeposit = errors.New("deposit already processed")

	// ErrQuoteRequired indicates a strategy was configured to require a
	// real price quote and none could be obtained.
	ErrQuoteRequired = errors.New("price quote required but unavailable")

	// ErrRelayRejected indicates a gasless relay refused or failed the
	// meta-transfer. The split must not fall back to funding the
	// depositor, so this is terminal for the split step.
	ErrRelayRejected = errors.New("gasless relay rejected")

	// ErrTransactionReverted indicates an on-chain execution failure.
	ErrTransactionReverted = errors.New("transaction reverted")

	// ErrRPCUnavailable indicates a transient node/transport failure.
	ErrRPCUnavailable = errors.New("rpc endpoint unavailable")

	// ErrTxIndeterminate indicates a transaction was broadcast but its
	// outcome is unknown (receipt wait timed out). Never retried: the
	// transaction may still mine, and re-running a multi-transaction
	// sequence on top of legs that already landed strands funds
	// mid-swap. Operators redrive after inspecting the chain.
	ErrTxIndeterminate = errors.New("transaction outcome indeterminate")
)

// ShouldRetry reports whether an error is worth retrying with backoff.
// Terminal on-chain conditions are never retried; unknown errors default
// to retryable since transient transport failures dominate in practice.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, ErrInsufficientGas),
		errors.Is(err, ErrNoLiquidity),
		errors.Is(err, ErrNoUserForAddress),
		errors.Is(err, ErrDuplicateDeposit),
		errors.Is(err, ErrQuoteRequired),
		errors.Is(err, ErrRelayRejected),
		errors.Is(err, ErrTransactionReverted),
		errors.Is(err, ErrTxIndeterminate),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrConfiguration):
		return false
	case errors.Is(err, ErrRPCUnavailable),
		errors.Is(err, ErrServiceUnavailable):
		return true
	}

	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Retryable
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "revert") ||
		strings.Contains(msg, "insufficient funds") ||
		strings.Contains(msg, "nonce too low") ||
		// A broadcast happened; retrying re-sends already-landed legs.
		strings.Contains(msg, "timed out waiting for transaction") {
		return false
	}
	if strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection") ||
		strings.Contains(msg, "temporar") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "unavailable") {
		return true
	}

	return true
}
