package swap

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/wagerpay/settlement_service/internal/adapters/evm"
	"github.com/wagerpay/settlement_service/internal/domain/entities"
	apperrors "github.com/wagerpay/settlement_service/internal/domain/errors"
	"github.com/wagerpay/settlement_service/internal/infrastructure/config"
	"github.com/wagerpay/settlement_service/pkg/logger"
)

// Gas limits for the three transactions the direct-pair path sends.
const (
	wrapGasLimit     = 60_000
	erc20XferGas     = 80_000
	pairSwapGasLimit = 200_000
)

// PairDirectStrategy swaps by talking to the V2 pair contract itself:
// wrap the native amount, transfer the wrapped token to the pair, then
// call swap with an output floor computed from on-chain reserves. No
// router contract is involved, so it works on chains where only the
// factory and pairs are deployed.
type PairDirectStrategy struct {
	client  *evm.Client
	factory common.Address
	wrapped common.Address
	stable  common.Address
	cfg     config.ChainConfig
	logger  *logger.Logger
}

func NewPairDirectStrategy(client *evm.Client, cfg config.ChainConfig, log *logger.Logger) *PairDirectStrategy {
	return &PairDirectStrategy{
		client:  client,
		factory: common.HexToAddress(cfg.V2Factory),
		wrapped: common.HexToAddress(cfg.WrappedNative),
		stable:  common.HexToAddress(cfg.StableToken),
		cfg:     cfg,
		logger:  log,
	}
}

func (s *PairDirectStrategy) Name() string { return "v2_pair" }

func (s *PairDirectStrategy) GasBudget() uint64 {
	return wrapGasLimit + erc20XferGas + pairSwapGasLimit
}

func (s *PairDirectStrategy) Swap(ctx context.Context, req Request) (*entities.SwapResult, error) {
	pair, err := s.getPair(ctx)
	if err != nil {
		return nil, err
	}

	reserveIn, reserveOut, err := s.orientedReserves(ctx, pair)
	if err != nil {
		return nil, err
	}
	if reserveIn.Sign() == 0 || reserveOut.Sign() == 0 {
		return nil, apperrors.ErrNoLiquidity
	}

	expectedOut := ConstantProductOut(req.AmountIn, reserveIn, reserveOut)
	if expectedOut.Sign() == 0 {
		return nil, apperrors.ErrNoLiquidity
	}
	minOut := ApplySlippage(expectedOut, s.cfg.SlippageBps)

	// Balance snapshot before the first leg; the post-swap delta is the
	// realized output.
	beforeBal, err := s.client.TokenBalance(ctx, s.stable, req.Recipient)
	if err != nil {
		beforeBal = nil
	}

	// 1. Wrap the native input.
	wrapData, err := evm.WrappedABI.Pack("deposit")
	if err != nil {
		return nil, err
	}
	if _, err := s.client.Execute(ctx, req.Key, evm.TxRequest{
		To:       s.wrapped,
		Value:    req.AmountIn,
		Data:     wrapData,
		GasLimit: wrapGasLimit,
		Fees:     req.Fees,
	}); err != nil {
		return nil, fmt.Errorf("wrap failed: %w", err)
	}

	// 2. Move the wrapped tokens onto the pair.
	xferData, err := evm.ERC20ABI.Pack("transfer", pair, req.AmountIn)
	if err != nil {
		return nil, err
	}
	if _, err := s.client.Execute(ctx, req.Key, evm.TxRequest{
		To:       s.wrapped,
		Data:     xferData,
		GasLimit: erc20XferGas,
		Fees:     req.Fees,
	}); err != nil {
		return nil, fmt.Errorf("transfer to pair failed: %w", err)
	}

	// 3. Swap. Output slot depends on token ordering inside the pair.
	amount0Out, amount1Out := big.NewInt(0), minOut
	if !s.wrappedIsToken0() {
		amount0Out, amount1Out = minOut, big.NewInt(0)
	}
	swapData, err := evm.V2PairABI.Pack("swap", amount0Out, amount1Out, req.Recipient, []byte{})
	if err != nil {
		return nil, err
	}
	receipt, err := s.client.Execute(ctx, req.Key, evm.TxRequest{
		To:       pair,
		Data:     swapData,
		GasLimit: pairSwapGasLimit,
		Fees:     req.Fees,
	})
	if err != nil {
		return nil, fmt.Errorf("pair swap failed: %w", err)
	}

	afterBal, err := s.client.TokenBalance(ctx, s.stable, req.Recipient)
	if err != nil {
		afterBal = nil
	}

	return &entities.SwapResult{
		Strategy:   s.Name(),
		TxHash:     receipt.TxHash.Hex(),
		AmountIn:   req.AmountIn,
		AmountOut:  realizedOut(beforeBal, afterBal, receipt, s.stable, req.Recipient, minOut),
		MinOut:     minOut,
		GasReserve: req.GasReserve,
	}, nil
}

func (s *PairDirectStrategy) getPair(ctx context.Context) (common.Address, error) {
	data, err := evm.V2FactoryABI.Pack("getPair", s.wrapped, s.stable)
	if err != nil {
		return common.Address{}, err
	}
	out, err := s.client.CallContract(ctx, ethereum.CallMsg{To: &s.factory, Data: data})
	if err != nil {
		return common.Address{}, fmt.Errorf("getPair call failed: %w", err)
	}
	results, err := evm.V2FactoryABI.Unpack("getPair", out)
	if err != nil {
		return common.Address{}, err
	}
	pair := results[0].(common.Address)
	if pair == (common.Address{}) {
		return common.Address{}, apperrors.ErrNoLiquidity
	}
	return pair, nil
}

// orientedReserves returns (reserveWrapped, reserveStable) regardless of
// the pair's internal token order.
func (s *PairDirectStrategy) orientedReserves(ctx context.Context, pair common.Address) (*big.Int, *big.Int, error) {
	data, err := evm.V2PairABI.Pack("getReserves")
	if err != nil {
		return nil, nil, err
	}
	out, err := s.client.CallContract(ctx, ethereum.CallMsg{To: &pair, Data: data})
	if err != nil {
		return nil, nil, fmt.Errorf("getReserves call failed: %w", err)
	}
	results, err := evm.V2PairABI.Unpack("getReserves", out)
	if err != nil {
		return nil, nil, err
	}
	reserve0 := results[0].(*big.Int)
	reserve1 := results[1].(*big.Int)

	if s.wrappedIsToken0() {
		return reserve0, reserve1, nil
	}
	return reserve1, reserve0, nil
}

// wrappedIsToken0 mirrors the factory's sort: token0 is the numerically
// lower address.
func (s *PairDirectStrategy) wrappedIsToken0() bool {
	return strings.ToLower(s.wrapped.Hex()) < strings.ToLower(s.stable.Hex())
}
