package split

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagerpay/settlement_service/internal/domain/entities"
)

func TestComputeDefaultFee(t *testing.T) {
	// 10 USDC at 6 decimals, 10% fee.
	total := big.NewInt(10_000_000)

	master, fee := Compute(total, 1000)
	assert.Equal(t, int64(9_000_000), master.Int64())
	assert.Equal(t, int64(1_000_000), fee.Int64())
}

func TestComputeRemainderGoesToMaster(t *testing.T) {
	// 1001 units at 10%: fee truncates to 100, master absorbs the
	// rounding unit.
	master, fee := Compute(big.NewInt(1001), 1000)
	assert.Equal(t, int64(901), master.Int64())
	assert.Equal(t, int64(100), fee.Int64())

	// A single unit never produces a fee.
	master, fee = Compute(big.NewInt(1), 1000)
	assert.Equal(t, int64(1), master.Int64())
	assert.Equal(t, int64(0), fee.Int64())
}

func TestComputeEdgeBps(t *testing.T) {
	total := big.NewInt(123_456_789)

	master, fee := Compute(total, 0)
	assert.Equal(t, total.String(), master.String())
	assert.Equal(t, int64(0), fee.Int64())

	master, fee = Compute(total, 10000)
	assert.Equal(t, int64(0), master.Int64())
	assert.Equal(t, total.String(), fee.String())
}

func TestComputeConservesTotal(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		total := new(big.Int).SetUint64(rng.Uint64())
		bps := rng.Int63n(10001)

		master, fee := Compute(total, bps)
		sum := new(big.Int).Add(master, fee)
		require.Equal(t, total.String(), sum.String(),
			"total=%s bps=%d", total, bps)
		require.True(t, master.Sign() >= 0)
		require.True(t, fee.Sign() >= 0)
	}
}

func TestSplitResultValidate(t *testing.T) {
	master, fee := Compute(big.NewInt(10_000_000), 1000)
	result := &entities.SplitResult{
		Total:        big.NewInt(10_000_000),
		MasterAmount: master,
		FeeAmount:    fee,
	}
	assert.NoError(t, result.Validate())

	result.FeeAmount = big.NewInt(999_999)
	err := result.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not conserve")
}
