package swap

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bigFromString(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	require.True(t, ok, "invalid big int literal %s", s)
	return v
}

func TestConstantProductOut(t *testing.T) {
	// 1 native in against a 500 native / 1,000,000 stable pool
	// (18 and 6 decimals respectively).
	amountIn := bigFromString(t, "1000000000000000000")
	reserveIn := bigFromString(t, "500000000000000000000")
	reserveOut := bigFromString(t, "1000000000000")

	out := ConstantProductOut(amountIn, reserveIn, reserveOut)
	assert.Equal(t, "1990031876", out.String())
}

func TestConstantProductOutRoundsDown(t *testing.T) {
	// Tiny input against a large pool truncates to zero; the caller
	// must treat that as no liquidity, never as a free trade.
	out := ConstantProductOut(big.NewInt(1), bigFromString(t, "1000000000000000000"), big.NewInt(1000))
	assert.Equal(t, int64(0), out.Int64())
}

func TestConstantProductOutNeverExceedsReserve(t *testing.T) {
	reserveIn := big.NewInt(1000)
	reserveOut := big.NewInt(2000)

	// Even an absurdly large input cannot drain more than the reserve.
	out := ConstantProductOut(bigFromString(t, "1000000000000000000000000"), reserveIn, reserveOut)
	assert.True(t, out.Cmp(reserveOut) < 0, "output %s must stay below reserve %s", out, reserveOut)
}

func TestApplySlippage(t *testing.T) {
	expected := bigFromString(t, "1990031876")

	minOut := ApplySlippage(expected, 50)
	assert.Equal(t, "1980081716", minOut.String())

	// Zero tolerance keeps the full amount.
	assert.Equal(t, expected.String(), ApplySlippage(expected, 0).String())

	// Input is never mutated.
	assert.Equal(t, "1990031876", expected.String())
}

func TestApplySlippageSmallAmounts(t *testing.T) {
	// Floor division: 100*9950/10000 = 99.
	assert.Equal(t, int64(99), ApplySlippage(big.NewInt(100), 50).Int64())
	assert.Equal(t, int64(0), ApplySlippage(big.NewInt(1), 50).Int64())
}
