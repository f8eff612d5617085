package swap

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagerpay/settlement_service/internal/adapters/evm"
	"github.com/wagerpay/settlement_service/internal/domain/entities"
	apperrors "github.com/wagerpay/settlement_service/internal/domain/errors"
	"github.com/wagerpay/settlement_service/pkg/logger"
)

type stubStrategy struct {
	name      string
	gasBudget uint64
	result    *entities.SwapResult
	err       error

	calls   int
	lastReq Request
}

func (s *stubStrategy) Name() string      { return s.name }
func (s *stubStrategy) GasBudget() uint64 { return s.gasBudget }

func (s *stubStrategy) Swap(_ context.Context, req Request) (*entities.SwapResult, error) {
	s.calls++
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func newTestRouter(strategies ...Strategy) *Router {
	return &Router{
		strategies: strategies,
		logger:     logger.New("error", "test"),
	}
}

// gasFeeCap 10 wei keeps reserve arithmetic readable: a 100k gas budget
// reserves exactly 1_000_000 wei.
func testFees() *evm.FeeEstimate {
	return &evm.FeeEstimate{GasTipCap: big.NewInt(1), GasFeeCap: big.NewInt(10)}
}

func TestRouterDustSendsNoTransactions(t *testing.T) {
	first := &stubStrategy{name: "v3_router", gasBudget: 100_000}
	second := &stubStrategy{name: "v2_pair", gasBudget: 200_000}
	r := newTestRouter(first, second)

	// 1_000_000 wei is exactly the cheapest strategy's gas reserve;
	// nothing is left to swap, and no strategy may broadcast.
	_, err := r.trySwap(context.Background(), nil, common.Address{1}, big.NewInt(1_000_000), testFees())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInsufficientGas)
	assert.Zero(t, first.calls)
	assert.Zero(t, second.calls)
}

func TestRouterReservesGasOffTheTop(t *testing.T) {
	strategy := &stubStrategy{
		name:      "v3_router",
		gasBudget: 100_000,
		result:    &entities.SwapResult{Strategy: "v3_router", AmountOut: big.NewInt(5)},
	}
	r := newTestRouter(strategy)

	result, err := r.trySwap(context.Background(), nil, common.Address{1}, big.NewInt(3_000_000), testFees())
	require.NoError(t, err)
	assert.Equal(t, "v3_router", result.Strategy)
	require.Equal(t, 1, strategy.calls)
	assert.Equal(t, "2000000", strategy.lastReq.AmountIn.String())
	assert.Equal(t, "1000000", strategy.lastReq.GasReserve.String())
	assert.Equal(t, common.Address{1}, strategy.lastReq.Recipient)
}

func TestRouterFallsThroughUnavailableStrategies(t *testing.T) {
	first := &stubStrategy{name: "one_shot", gasBudget: 100_000, err: apperrors.ErrNoLiquidity}
	second := &stubStrategy{name: "v3_router", gasBudget: 100_000, err: apperrors.ErrQuoteRequired}
	third := &stubStrategy{
		name:      "v2_pair",
		gasBudget: 100_000,
		result:    &entities.SwapResult{Strategy: "v2_pair", AmountOut: big.NewInt(5)},
	}
	r := newTestRouter(first, second, third)

	result, err := r.trySwap(context.Background(), nil, common.Address{1}, big.NewInt(3_000_000), testFees())
	require.NoError(t, err)
	assert.Equal(t, "v2_pair", result.Strategy)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
}

func TestRouterStopsOnExecutionFailure(t *testing.T) {
	first := &stubStrategy{name: "v3_router", gasBudget: 100_000, err: errors.New("execution reverted")}
	second := &stubStrategy{name: "v2_pair", gasBudget: 100_000}
	r := newTestRouter(first, second)

	// An execution failure may have landed transactions; retrying on
	// another venue would double-spend the deposit.
	_, err := r.trySwap(context.Background(), nil, common.Address{1}, big.NewInt(3_000_000), testFees())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execution reverted")
	assert.Zero(t, second.calls)
}
