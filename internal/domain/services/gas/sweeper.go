package gas

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wagerpay/settlement_service/internal/adapters/evm"
	"github.com/wagerpay/settlement_service/internal/domain/entities"
	"github.com/wagerpay/settlement_service/internal/domain/services/wallet"
	"github.com/wagerpay/settlement_service/internal/infrastructure/config"
	"github.com/wagerpay/settlement_service/pkg/logger"
	"github.com/wagerpay/settlement_service/pkg/metrics"
)

const feeBumpPct = 25

// WalletIndexLister supplies the wallet indexes and addresses to sweep.
type WalletIndexLister interface {
	ListWalletIndexes(ctx context.Context) (map[uint32]string, error)
}

// Sweeper collects residual native balances left on deposit addresses
// after settlement (gas reserves that went unspent, dust below the
// settlement minimum) into the treasury.
type Sweeper struct {
	client   *evm.Client
	deriver  *wallet.Deriver
	users    WalletIndexLister
	cfg      config.SweepConfig
	chainCfg config.ChainConfig
	logger   *logger.Logger
}

func NewSweeper(client *evm.Client, deriver *wallet.Deriver, users WalletIndexLister, cfg config.SweepConfig, chainCfg config.ChainConfig, log *logger.Logger) *Sweeper {
	return &Sweeper{
		client:   client,
		deriver:  deriver,
		users:    users,
		cfg:      cfg,
		chainCfg: chainCfg,
		logger:   log,
	}
}

// SweepAll sweeps every known deposit address. One address failing never
// stops the pass; each outcome is reported individually.
func (s *Sweeper) SweepAll(ctx context.Context) ([]entities.SweepOutcome, error) {
	indexes, err := s.users.ListWalletIndexes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallet indexes: %w", err)
	}

	outcomes := make([]entities.SweepOutcome, 0, len(indexes))
	for index, address := range indexes {
		outcome := s.sweepOne(ctx, index, address)
		outcomes = append(outcomes, outcome)
		metrics.SweepOutcomeCounter.WithLabelValues(s.client.ChainKey(), string(outcome.Status)).Inc()

		if ctx.Err() != nil {
			break
		}
	}
	return outcomes, nil
}

// SweepRange sweeps a contiguous range of wallet indexes regardless of
// what the user table says. Operator escape hatch for addresses that
// received funds before their user row existed.
func (s *Sweeper) SweepRange(ctx context.Context, fromIndex, toIndex uint32) ([]entities.SweepOutcome, error) {
	if toIndex < fromIndex {
		return nil, fmt.Errorf("invalid sweep range [%d, %d]", fromIndex, toIndex)
	}

	outcomes := make([]entities.SweepOutcome, 0, toIndex-fromIndex+1)
	for index := fromIndex; index <= toIndex; index++ {
		address, err := s.deriver.Address(index)
		if err != nil {
			outcomes = append(outcomes, entities.SweepOutcome{
				Status: entities.SweepStatusFailed,
				Reason: fmt.Sprintf("derivation failed for index %d: %v", index, err),
			})
			continue
		}
		outcome := s.sweepOne(ctx, index, address.Hex())
		outcomes = append(outcomes, outcome)
		metrics.SweepOutcomeCounter.WithLabelValues(s.client.ChainKey(), string(outcome.Status)).Inc()

		if ctx.Err() != nil {
			break
		}
	}
	return outcomes, nil
}

func (s *Sweeper) sweepOne(ctx context.Context, index uint32, address string) entities.SweepOutcome {
	from := common.HexToAddress(address)
	outcome := entities.SweepOutcome{From: address}

	balance, err := s.client.BalanceAt(ctx, from, nil)
	if err != nil {
		outcome.Status = entities.SweepStatusFailed
		outcome.Reason = fmt.Sprintf("balance read failed: %v", err)
		return outcome
	}

	minSweep, ok := new(big.Int).SetString(s.cfg.MinSweepWei, 10)
	if !ok {
		minSweep = big.NewInt(0)
	}
	if balance.Cmp(minSweep) < 0 {
		outcome.Status = entities.SweepStatusSkipped
		outcome.Reason = "balance below sweep minimum"
		return outcome
	}

	key, err := s.deriver.PrivateKey(index)
	if err != nil {
		outcome.Status = entities.SweepStatusFailed
		outcome.Reason = fmt.Sprintf("key derivation failed: %v", err)
		return outcome
	}

	destination := common.HexToAddress(s.cfg.Destination)

	fees, err := s.client.EstimateFees(ctx, s.chainCfg)
	if err != nil {
		outcome.Status = entities.SweepStatusFailed
		outcome.Reason = fmt.Sprintf("fee estimation failed: %v", err)
		return outcome
	}

	maxAttempts := s.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		// Everything except the transfer's own worst-case fee.
		transferable := new(big.Int).Sub(balance, fees.TransferReserve())
		if transferable.Sign() <= 0 {
			outcome.Status = entities.SweepStatusSkipped
			outcome.Reason = "balance does not cover transfer fee"
			return outcome
		}

		receipt, err := s.client.Execute(ctx, key, evm.TxRequest{
			To:       destination,
			Value:    transferable,
			GasLimit: 21_000,
			Fees:     fees,
		})
		if err == nil {
			outcome.Status = entities.SweepStatusSwept
			outcome.TxHash = receipt.TxHash.Hex()
			outcome.Amount = transferable
			s.logger.Info("Swept deposit address",
				"from", address, "amount_wei", transferable.String(), "tx", outcome.TxHash)
			return outcome
		}

		lastErr = err
		fees = fees.Bump(feeBumpPct)
		s.logger.Warn("Sweep attempt failed, bumping fees",
			"from", address, "attempt", attempt+1, "error", err)
	}

	outcome.Status = entities.SweepStatusFailed
	outcome.Reason = fmt.Sprintf("all sweep attempts failed: %v", lastErr)
	return outcome
}
