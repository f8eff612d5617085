package evm

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFeeEstimateBump(t *testing.T) {
	f := &FeeEstimate{
		GasTipCap: big.NewInt(1_000_000_000),
		GasFeeCap: big.NewInt(40_000_000_000),
	}

	bumped := f.Bump(25)
	assert.Equal(t, "1250000000", bumped.GasTipCap.String())
	assert.Equal(t, "50000000000", bumped.GasFeeCap.String())

	// Original is untouched.
	assert.Equal(t, "1000000000", f.GasTipCap.String())
	assert.Equal(t, "40000000000", f.GasFeeCap.String())
}

func TestFeeEstimateBumpRoundsDown(t *testing.T) {
	f := &FeeEstimate{GasTipCap: big.NewInt(3), GasFeeCap: big.NewInt(7)}
	bumped := f.Bump(25)
	// 3*125/100 = 3, 7*125/100 = 8, integer division.
	assert.Equal(t, "3", bumped.GasTipCap.String())
	assert.Equal(t, "8", bumped.GasFeeCap.String())
}

func TestFeeEstimateReserve(t *testing.T) {
	f := &FeeEstimate{
		GasTipCap: big.NewInt(1_000_000_000),
		GasFeeCap: big.NewInt(30_000_000_000),
	}

	assert.Equal(t, "6000000000000000", f.Reserve(200_000).String())
	assert.Equal(t, "630000000000000", f.TransferReserve().String())
}

func TestParseWei(t *testing.T) {
	assert.Nil(t, parseWei(""))
	assert.Nil(t, parseWei("0"))
	assert.Nil(t, parseWei("-5"))
	assert.Nil(t, parseWei("not a number"))

	v := parseWei("1000000000000000000")
	assert.NotNil(t, v)
	assert.Equal(t, "1000000000000000000", v.String())
}
