package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldRetryTerminalSentinels(t *testing.T) {
	for _, err := range []error{
		ErrInsufficientGas,
		ErrNoLiquidity,
		ErrNoUserForAddress,
		ErrDuplicateDeposit,
		ErrQuoteRequired,
		ErrTransactionReverted,
	} {
		assert.False(t, ShouldRetry(err), "%v must be terminal", err)
	}
}

func TestShouldRetryWrappedSentinel(t *testing.T) {
	wrapped := fmt.Errorf("strategy v2_pair: %w", ErrNoLiquidity)
	assert.False(t, ShouldRetry(wrapped))
}

func TestShouldRetryTransient(t *testing.T) {
	assert.True(t, ShouldRetry(ErrRPCUnavailable))
	assert.True(t, ShouldRetry(errors.New("dial tcp: connection refused")))
	assert.True(t, ShouldRetry(errors.New("request timeout exceeded")))
}

func TestShouldRetryMessageHeuristics(t *testing.T) {
	assert.False(t, ShouldRetry(errors.New("execution reverted: STF")))
	assert.False(t, ShouldRetry(errors.New("insufficient funds for gas * price + value")))
	assert.False(t, ShouldRetry(errors.New("nonce too low")))
}

// A receipt wait that times out after broadcast must never be retried:
// the transaction may still mine, and re-running a multi-transaction
// strategy re-sends legs that already landed.
func TestShouldRetryIndeterminateBroadcast(t *testing.T) {
	wrapped := fmt.Errorf("pair swap failed: %w: timed out waiting for transaction 0xabc", ErrTxIndeterminate)
	assert.False(t, ShouldRetry(wrapped))

	// Same outcome when only the message survives wrapping.
	flattened := errors.New("pair swap failed: timed out waiting for transaction 0xabc: context deadline exceeded")
	assert.False(t, ShouldRetry(flattened))
}

func TestShouldRetryHonorsDomainErrorFlag(t *testing.T) {
	err := InternalError("flaky downstream", nil).WithRetryable(true)
	assert.True(t, ShouldRetry(err))

	err = InternalError("broken invariant", nil).WithRetryable(false)
	assert.False(t, ShouldRetry(err))
}

func TestDomainErrorUnwrapAndIs(t *testing.T) {
	err := InternalError("wrapper", errors.New("boom"))

	assert.True(t, errors.Is(err, ErrInternal))
	assert.Equal(t, "INTERNAL_ERROR", GetErrorCode(err))
	assert.Equal(t, "wrapper", err.Error())
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(NotFoundError("settlement")))
	assert.False(t, IsNotFound(errors.New("plain")))
}
