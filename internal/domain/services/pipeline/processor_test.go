package pipeline

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagerpay/settlement_service/internal/domain/entities"
	apperrors "github.com/wagerpay/settlement_service/internal/domain/errors"
	"github.com/wagerpay/settlement_service/internal/domain/services/wallet"
	"github.com/wagerpay/settlement_service/internal/infrastructure/config"
	"github.com/wagerpay/settlement_service/pkg/logger"
	"github.com/wagerpay/settlement_service/pkg/retry"
)

const (
	testProcessorMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	testStableToken       = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
)

type memSettlements struct {
	existing   *entities.Settlement
	settled    *entities.Settlement
	failReason string
}

func (s *memSettlements) TryBegin(_ context.Context, event *entities.DepositEvent) (bool, *entities.Settlement, error) {
	if s.existing != nil {
		return false, s.existing, nil
	}
	return true, &entities.Settlement{
		ID:          uuid.New(),
		ChainKey:    event.ChainKey,
		TxHash:      event.TxHash,
		LogIndex:    event.LogIndex,
		Token:       event.Token,
		DepositAddr: event.ToAddress,
		AmountIn:    event.Amount.String(),
		Status:      entities.SettlementStatusPending,
	}, nil
}

func (s *memSettlements) MarkSettled(_ context.Context, _ *sqlx.Tx, settlement *entities.Settlement) error {
	s.settled = settlement
	return nil
}

func (s *memSettlements) MarkFailed(_ context.Context, _ uuid.UUID, reason string) error {
	s.failReason = reason
	return nil
}

type memUsers struct {
	user *entities.User

	creditedAmount decimal.Decimal
	reference      string
	description    string
	credits        int
}

func (u *memUsers) FindByDepositAddress(_ context.Context, _ string) (*entities.User, error) {
	if u.user == nil {
		return nil, apperrors.ErrNoUserForAddress
	}
	return u.user, nil
}

func (u *memUsers) CreditBalance(_ context.Context, _ *sqlx.Tx, _ uuid.UUID, amount decimal.Decimal, reference, description string) error {
	u.credits++
	u.creditedAmount = amount
	u.reference = reference
	u.description = description
	return nil
}

type stubSwapper struct {
	result *entities.SwapResult
	calls  int
}

func (s *stubSwapper) Swap(_ context.Context, _ *ecdsa.PrivateKey, _ common.Address, _ *big.Int) (*entities.SwapResult, error) {
	s.calls++
	return s.result, nil
}

type stubSplitter struct {
	result   *entities.SplitResult
	calls    int
	lastfrom common.Address
	total    *big.Int
}

func (s *stubSplitter) Execute(_ context.Context, _ *ecdsa.PrivateKey, from common.Address, total *big.Int) (*entities.SplitResult, error) {
	s.calls++
	s.lastfrom = from
	s.total = total
	return s.result, nil
}

type processorFixture struct {
	processor   *Processor
	settlements *memSettlements
	users       *memUsers
	swapper     *stubSwapper
	splitter    *stubSplitter
}

func newProcessorFixture(t *testing.T) *processorFixture {
	t.Helper()

	deriver, err := wallet.NewDeriverFromMnemonic(testProcessorMnemonic, "")
	require.NoError(t, err)
	depositAddr, err := deriver.Address(0)
	require.NoError(t, err)

	swapper := &stubSwapper{result: &entities.SwapResult{
		Strategy:  "v3_router",
		TxHash:    "0xswap",
		AmountIn:  big.NewInt(1_000_000),
		AmountOut: big.NewInt(1_000_000),
		MinOut:    big.NewInt(990_000),
	}}
	splitter := &stubSplitter{result: &entities.SplitResult{
		Total:        big.NewInt(1_000_000),
		MasterAmount: big.NewInt(990_000),
		FeeAmount:    big.NewInt(10_000),
		MasterTxHash: "0xsplitmaster",
		FeeTxHash:    "0xsplitfee",
	}}
	settlements := &memSettlements{}
	users := &memUsers{user: &entities.User{
		ID:             uuid.New(),
		WalletIndex:    0,
		DepositAddress: depositAddr.Hex(),
	}}

	chains := map[string]*ChainRuntime{
		"base": {
			Cfg: config.ChainConfig{
				StableToken:         testStableToken,
				StableTokenDecimals: 6,
			},
			Router:   swapper,
			Splitter: splitter,
		},
	}

	policy := retry.Policy{MaxRetries: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1.0}
	retrier := retry.NewRetrier(policy, logger.New("error", "test").Zap())
	cfg := config.SettlementConfig{FeeBps: 100, StepTimeout: 5}

	p := NewProcessor(nil, settlements, users, deriver, chains, cfg, retrier, logger.New("error", "test"))
	// Unit tests have no database; the credit step runs against the
	// stores directly.
	p.runTx = func(_ context.Context, fn func(*sqlx.Tx) error) error {
		return fn(nil)
	}

	return &processorFixture{
		processor:   p,
		settlements: settlements,
		users:       users,
		swapper:     swapper,
		splitter:    splitter,
	}
}

func nativeDeposit(toAddress string) *entities.DepositJob {
	return entities.NewDepositJob(entities.DepositEvent{
		ChainKey:    "base",
		TxHash:      "0xdeadbeef",
		LogIndex:    0,
		Token:       entities.NativeToken,
		ToAddress:   toAddress,
		Amount:      big.NewInt(2_000_000_000_000_000),
		BlockNumber: 100,
		ObservedAt:  time.Now().UTC(),
	})
}

func TestProcessorSettlesNativeDeposit(t *testing.T) {
	f := newProcessorFixture(t)
	job := nativeDeposit(f.users.user.DepositAddress)

	f.processor.Process(context.Background(), job)

	assert.Equal(t, 1, f.swapper.calls)
	assert.Equal(t, 1, f.splitter.calls)
	assert.Equal(t, "1000000", f.splitter.total.String())

	require.NotNil(t, f.settlements.settled)
	assert.Equal(t, entities.SettlementStatusSettled, f.settlements.settled.Status)
	assert.Equal(t, "1000000", f.settlements.settled.StableOut)
	assert.Equal(t, "990000", f.settlements.settled.UserShare)
	assert.Equal(t, "10000", f.settlements.settled.TreasuryShare)
	require.NotNil(t, f.settlements.settled.SwapTxHash)
	assert.Equal(t, "0xswap", *f.settlements.settled.SwapTxHash)

	// 990_000 at six decimals credits 0.99 stable units.
	assert.Equal(t, 1, f.users.credits)
	assert.True(t, f.users.creditedAmount.Equal(decimal.RequireFromString("0.99")),
		"credited %s", f.users.creditedAmount.String())
	assert.Equal(t, job.Event.IdentityKey(), f.users.reference)

	// The audit row must trace the credit to its on-chain legs.
	assert.Contains(t, f.users.description, "strategy=v3_router")
	assert.Contains(t, f.users.description, "swap_tx=0xswap")
	assert.Contains(t, f.users.description, "split_tx=0xsplitmaster")
	assert.Contains(t, f.users.description, "fee_tx=0xsplitfee")
}

func TestProcessorStableDirectSkipsSwap(t *testing.T) {
	f := newProcessorFixture(t)
	job := nativeDeposit(f.users.user.DepositAddress)
	job.Event.Token = testStableToken
	job.Event.Amount = big.NewInt(5_000_000)

	f.processor.Process(context.Background(), job)

	assert.Zero(t, f.swapper.calls)
	assert.Equal(t, 1, f.splitter.calls)
	assert.Equal(t, "5000000", f.splitter.total.String())

	require.NotNil(t, f.settlements.settled)
	assert.Equal(t, entities.SettlementStatusSettled, f.settlements.settled.Status)
	assert.Equal(t, "stable_direct", f.settlements.settled.Strategy)
	assert.Contains(t, f.users.description, "strategy=stable_direct")
}

func TestProcessorUnsupportedTokenMarksFailed(t *testing.T) {
	f := newProcessorFixture(t)
	job := nativeDeposit(f.users.user.DepositAddress)
	job.Event.Token = "0x1111111111111111111111111111111111111111"

	f.processor.Process(context.Background(), job)

	assert.Zero(t, f.swapper.calls)
	assert.Zero(t, f.splitter.calls)
	assert.Zero(t, f.users.credits)
	assert.Contains(t, f.settlements.failReason, "unsupported deposit token")
}

func TestProcessorDuplicateDropped(t *testing.T) {
	f := newProcessorFixture(t)
	f.settlements.existing = &entities.Settlement{
		ID:     uuid.New(),
		Status: entities.SettlementStatusSettled,
	}

	f.processor.Process(context.Background(), nativeDeposit(f.users.user.DepositAddress))

	assert.Zero(t, f.swapper.calls)
	assert.Zero(t, f.users.credits)
	assert.Nil(t, f.settlements.settled)
}

func TestProcessorUnknownAddressClosesRow(t *testing.T) {
	f := newProcessorFixture(t)
	f.users.user = nil

	f.processor.Process(context.Background(), nativeDeposit("0x2222222222222222222222222222222222222222"))

	assert.Zero(t, f.swapper.calls)
	assert.Zero(t, f.users.credits)
	require.NotNil(t, f.settlements.settled)
	assert.Equal(t, entities.SettlementStatusCreditedNoUser, f.settlements.settled.Status)
}
