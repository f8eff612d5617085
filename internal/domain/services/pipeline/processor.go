package pipeline

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/wagerpay/settlement_service/internal/adapters/evm"
	"github.com/wagerpay/settlement_service/internal/domain/entities"
	apperrors "github.com/wagerpay/settlement_service/internal/domain/errors"
	"github.com/wagerpay/settlement_service/internal/domain/services/gas"
	"github.com/wagerpay/settlement_service/internal/domain/services/split"
	"github.com/wagerpay/settlement_service/internal/domain/services/swap"
	"github.com/wagerpay/settlement_service/internal/domain/services/wallet"
	"github.com/wagerpay/settlement_service/internal/infrastructure/config"
	"github.com/wagerpay/settlement_service/internal/infrastructure/database"
	"github.com/wagerpay/settlement_service/internal/infrastructure/repositories"
	"github.com/wagerpay/settlement_service/pkg/logger"
	"github.com/wagerpay/settlement_service/pkg/metrics"
	"github.com/wagerpay/settlement_service/pkg/retry"
)

// Swapper converts a deposit into the chain's stable token.
type Swapper interface {
	Swap(ctx context.Context, key *ecdsa.PrivateKey, from common.Address, amountIn *big.Int) (*entities.SwapResult, error)
}

// SplitExecutor moves swap proceeds to the treasury wallets.
type SplitExecutor interface {
	Execute(ctx context.Context, key *ecdsa.PrivateKey, from common.Address, total *big.Int) (*entities.SplitResult, error)
}

// SettlementStore is the slice of the settlement repository the
// processor drives.
type SettlementStore interface {
	TryBegin(ctx context.Context, event *entities.DepositEvent) (bool, *entities.Settlement, error)
	MarkSettled(ctx context.Context, tx *sqlx.Tx, s *entities.Settlement) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

// UserStore resolves deposit owners and credits balances.
type UserStore interface {
	FindByDepositAddress(ctx context.Context, address string) (*entities.User, error)
	CreditBalance(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, amount decimal.Decimal, reference, description string) error
}

var (
	_ Swapper         = (*swap.Router)(nil)
	_ SplitExecutor   = (*split.Service)(nil)
	_ SettlementStore = (*repositories.SettlementRepository)(nil)
	_ UserStore       = (*repositories.UserRepository)(nil)
)

// ChainRuntime bundles everything the processor needs for one chain.
type ChainRuntime struct {
	Client   *evm.Client
	Cfg      config.ChainConfig
	Router   Swapper
	Splitter SplitExecutor
	Sponsor  *gas.Sponsor // nil when sponsorship is disabled
	Sweeper  *gas.Sweeper // nil when sweeping is disabled
}

// Processor executes the settlement steps for one deposit: claim the
// durable settlement row, resolve the user, swap to stable, split to
// the treasury wallets, credit the user's balance. Each step runs under
// its own timeout and bounded retry; any terminal failure lands in the
// settlement row's failure_reason for redrive.
type Processor struct {
	db          *sqlx.DB
	settlements SettlementStore
	users       UserStore
	deriver     *wallet.Deriver
	chains      map[string]*ChainRuntime
	cfg         config.SettlementConfig
	retrier     *retry.Retrier
	logger      *logger.Logger

	// runTx wraps the credit-and-mark step in a database transaction.
	runTx func(ctx context.Context, fn func(*sqlx.Tx) error) error
}

func NewProcessor(
	db *sqlx.DB,
	settlements SettlementStore,
	users UserStore,
	deriver *wallet.Deriver,
	chains map[string]*ChainRuntime,
	cfg config.SettlementConfig,
	retrier *retry.Retrier,
	log *logger.Logger,
) *Processor {
	p := &Processor{
		db:          db,
		settlements: settlements,
		users:       users,
		deriver:     deriver,
		chains:      chains,
		cfg:         cfg,
		retrier:     retrier,
		logger:      log,
	}
	p.runTx = func(ctx context.Context, fn func(*sqlx.Tx) error) error {
		return database.WithTransaction(ctx, p.db, fn)
	}
	return p
}

func (p *Processor) stepTimeout() time.Duration {
	if p.cfg.StepTimeout > 0 {
		return time.Duration(p.cfg.StepTimeout) * time.Second
	}
	return 2 * time.Minute
}

// Process settles one deposit end to end. Errors never propagate to the
// queue; they are recorded on the settlement row.
func (p *Processor) Process(ctx context.Context, job *entities.DepositJob) {
	event := &job.Event
	log := p.logger

	runtime, ok := p.chains[event.ChainKey]
	if !ok {
		log.Error("Deposit for unconfigured chain dropped",
			"chain", event.ChainKey, "tx", event.TxHash)
		return
	}

	claimCtx, cancel := context.WithTimeout(ctx, p.stepTimeout())
	created, settlement, err := p.settlements.TryBegin(claimCtx, event)
	cancel()
	if err != nil {
		log.Error("Failed to claim settlement",
			"chain", event.ChainKey, "tx", event.TxHash, "error", err)
		return
	}
	if !created {
		// Already seen. Re-process only rows an operator redrove back
		// to pending; settled, failed and in-progress rows stay put.
		if settlement.Status != entities.SettlementStatusPending {
			metrics.DuplicateJobsCounter.WithLabelValues(event.ChainKey).Inc()
			return
		}
	}

	if err := p.settle(ctx, runtime, event, settlement); err != nil {
		metrics.DepositsFailedCounter.WithLabelValues(event.ChainKey, failureLabel(err)).Inc()
		log.Error("Settlement failed",
			"chain", event.ChainKey,
			"tx", event.TxHash,
			"amount", event.Amount.String(),
			"error", err)
		if markErr := p.settlements.MarkFailed(ctx, settlement.ID, err.Error()); markErr != nil {
			log.Error("Failed to record settlement failure",
				"settlement", settlement.ID.String(), "error", markErr)
		}
	}
}

func (p *Processor) settle(ctx context.Context, runtime *ChainRuntime, event *entities.DepositEvent, settlement *entities.Settlement) error {
	// Step 1: resolve the deposit's owner.
	var user *entities.User
	err := p.step(ctx, func(stepCtx context.Context) error {
		var err error
		user, err = p.users.FindByDepositAddress(stepCtx, event.ToAddress)
		return err
	})
	if errors.Is(err, apperrors.ErrNoUserForAddress) {
		// Funds are on a derived address nobody owns a row for. Leave
		// them in place for an operator sweep and record the anomaly.
		p.logger.Error("Deposit to unknown address",
			"chain", event.ChainKey, "address", event.ToAddress, "tx", event.TxHash)
		return p.finishNoUser(ctx, settlement)
	}
	if err != nil {
		return fmt.Errorf("user lookup failed: %w", err)
	}

	depositKey, err := p.deriver.PrivateKey(user.WalletIndex)
	if err != nil {
		return fmt.Errorf("key derivation failed: %w", err)
	}
	from := common.HexToAddress(event.ToAddress)

	// Step 2: convert the deposit into the stable token.
	var swapResult *entities.SwapResult
	stableDeposit := !event.IsNative() &&
		strings.EqualFold(event.Token, runtime.Cfg.StableToken)
	switch {
	case stableDeposit:
		// Already the settlement token; nothing to swap.
		swapResult = &entities.SwapResult{
			Strategy:   "stable_direct",
			AmountIn:   event.Amount,
			AmountOut:  event.Amount,
			MinOut:     event.Amount,
			GasReserve: big.NewInt(0),
		}
	case event.IsNative():
		err = p.step(ctx, func(stepCtx context.Context) error {
			var err error
			swapResult, err = runtime.Router.Swap(stepCtx, depositKey, from, event.Amount)
			return err
		})
		if err != nil {
			return fmt.Errorf("swap failed: %w", err)
		}
	default:
		return fmt.Errorf("unsupported deposit token %s", event.Token)
	}

	// Step 3: split the proceeds, unless the swap contract already did.
	var splitResult *entities.SplitResult
	if swapResult.Distributed {
		master, fee := split.Compute(swapResult.AmountOut, p.cfg.FeeBps)
		splitResult = &entities.SplitResult{
			Total:        swapResult.AmountOut,
			MasterAmount: master,
			FeeAmount:    fee,
			Gasless:      false,
		}
	} else {
		// Sponsored top-up only matters for the non-gasless path, where
		// the deposit address pays for its own transfers.
		if !p.cfg.GaslessSplit && runtime.Sponsor != nil {
			err = p.step(ctx, func(stepCtx context.Context) error {
				_, err := runtime.Sponsor.TopUp(stepCtx, from)
				return err
			})
			if err != nil {
				return fmt.Errorf("gas top-up failed: %w", err)
			}
		}

		err = p.step(ctx, func(stepCtx context.Context) error {
			var err error
			splitResult, err = runtime.Splitter.Execute(stepCtx, depositKey, from, swapResult.AmountOut)
			return err
		})
		if err != nil {
			return fmt.Errorf("split failed: %w", err)
		}
	}

	// Step 4: credit the user and mark the settlement, atomically.
	userShare := p.toStableUnits(splitResult.MasterAmount, runtime.Cfg.StableTokenDecimals)
	identity := event.IdentityKey()
	description := auditDescription(swapResult, splitResult)

	settlement.Status = entities.SettlementStatusSettled
	settlement.UserID = &user.ID
	settlement.StableOut = swapResult.AmountOut.String()
	settlement.UserShare = splitResult.MasterAmount.String()
	settlement.TreasuryShare = splitResult.FeeAmount.String()
	settlement.Strategy = swapResult.Strategy
	if swapResult.TxHash != "" {
		settlement.SwapTxHash = &swapResult.TxHash
	}
	if splitResult.MasterTxHash != "" {
		settlement.SplitTxHash = &splitResult.MasterTxHash
	}

	err = p.step(ctx, func(stepCtx context.Context) error {
		return p.runTx(stepCtx, func(tx *sqlx.Tx) error {
			if err := p.users.CreditBalance(stepCtx, tx, user.ID, userShare, identity, description); err != nil {
				return err
			}
			return p.settlements.MarkSettled(stepCtx, tx, settlement)
		})
	})
	if err != nil {
		return fmt.Errorf("credit failed after on-chain settlement: %w", err)
	}

	metrics.DepositsSettledCounter.WithLabelValues(event.ChainKey, swapResult.Strategy).Inc()

	// Return whatever native dust the steps left behind. Best effort;
	// the maintenance pass catches anything missed here.
	if runtime.Sweeper != nil {
		sweepCtx, cancel := context.WithTimeout(ctx, p.stepTimeout())
		if _, sweepErr := runtime.Sweeper.SweepRange(sweepCtx, user.WalletIndex, user.WalletIndex); sweepErr != nil {
			p.logger.Warn("Residual sweep failed",
				"chain", event.ChainKey, "address", event.ToAddress, "error", sweepErr)
		}
		cancel()
	}

	p.logger.Info("Deposit settled",
		"chain", event.ChainKey,
		"tx", event.TxHash,
		"user", user.ID.String(),
		"strategy", swapResult.Strategy,
		"stable_out", swapResult.AmountOut.String(),
		"user_share", splitResult.MasterAmount.String(),
		"fee_share", splitResult.FeeAmount.String())
	return nil
}

// finishNoUser closes the settlement row without side effects.
func (p *Processor) finishNoUser(ctx context.Context, settlement *entities.Settlement) error {
	return p.runTx(ctx, func(tx *sqlx.Tx) error {
		settlement.Status = entities.SettlementStatusCreditedNoUser
		return p.settlements.MarkSettled(ctx, tx, settlement)
	})
}

// auditDescription renders the on-chain trail behind a credit so the
// audit row stands alone: which venue settled the deposit and the swap
// and split transaction hashes.
func auditDescription(swapResult *entities.SwapResult, splitResult *entities.SplitResult) string {
	parts := []string{"strategy=" + swapResult.Strategy}
	if swapResult.TxHash != "" {
		parts = append(parts, "swap_tx="+swapResult.TxHash)
	}
	if splitResult.MasterTxHash != "" {
		parts = append(parts, "split_tx="+splitResult.MasterTxHash)
	}
	if splitResult.FeeTxHash != "" {
		parts = append(parts, "fee_tx="+splitResult.FeeTxHash)
	}
	return strings.Join(parts, " ")
}

// step runs fn under the per-step timeout with bounded retries for
// transient failures.
func (p *Processor) step(ctx context.Context, fn func(context.Context) error) error {
	return p.retrier.Do(ctx, func() error {
		stepCtx, cancel := context.WithTimeout(ctx, p.stepTimeout())
		defer cancel()
		return fn(stepCtx)
	})
}

// toStableUnits converts smallest-unit integers into the decimal the
// balance column stores.
func (p *Processor) toStableUnits(amount *big.Int, decimals int) decimal.Decimal {
	if decimals <= 0 {
		decimals = 6
	}
	return decimal.NewFromBigInt(amount, -int32(decimals))
}

func failureLabel(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrInsufficientGas):
		return "insufficient_gas"
	case errors.Is(err, apperrors.ErrNoLiquidity):
		return "no_liquidity"
	case errors.Is(err, apperrors.ErrQuoteRequired):
		return "quote_required"
	case errors.Is(err, apperrors.ErrTransactionReverted):
		return "reverted"
	default:
		return "error"
	}
}
