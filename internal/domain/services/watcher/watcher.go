package watcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/redis/go-redis/v9"

	"github.com/wagerpay/settlement_service/internal/adapters/evm"
	"github.com/wagerpay/settlement_service/internal/domain/entities"
	"github.com/wagerpay/settlement_service/internal/infrastructure/cache"
	"github.com/wagerpay/settlement_service/internal/infrastructure/config"
	"github.com/wagerpay/settlement_service/pkg/logger"
	"github.com/wagerpay/settlement_service/pkg/metrics"
)

// transferTopic is the keccak hash of the ERC-20 Transfer event.
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// Sink accepts discovered deposits. Enqueue returns false when the
// queue is full; the watcher re-offers on the next poll because it only
// advances its cursor past accepted blocks.
type Sink interface {
	Enqueue(event entities.DepositEvent) bool
}

// AddressLister supplies the deposit addresses to watch.
type AddressLister interface {
	ListDepositAddresses(ctx context.Context) ([]string, error)
}

// Watcher scans one chain for deposits to watched addresses and feeds
// them into the settlement pipeline. Two detection modes: transaction
// scanning with ERC-20 Transfer logs, or balance-delta polling for
// chains with unreliable log filters.
type Watcher struct {
	client   *evm.Client
	cache    cache.RedisClient
	users    AddressLister
	set      *WatchedSet
	sink     Sink
	cfg      config.ChainConfig
	chainKey string
	stable   common.Address

	resyncInterval time.Duration
	logger         *logger.Logger

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func New(client *evm.Client, cacheClient cache.RedisClient, users AddressLister, sink Sink, cfg config.ChainConfig, resyncInterval time.Duration, log *logger.Logger) *Watcher {
	w := &Watcher{
		client:         client,
		cache:          cacheClient,
		users:          users,
		set:            NewWatchedSet(),
		sink:           sink,
		cfg:            cfg,
		resyncInterval: resyncInterval,
		logger:         log,
	}
	if client != nil {
		w.chainKey = client.ChainKey()
	}
	if cfg.StableToken != "" {
		w.stable = common.HexToAddress(cfg.StableToken)
	}
	return w
}

// WatchedAddresses exposes the live set for diagnostics.
func (w *Watcher) WatchedAddresses() []string {
	return w.set.Snapshot()
}

// Start begins the scan and resync loops. Calling Start on a running
// watcher is a no-op.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}

	// Prime the watched set before the first scan so deposits landing
	// during startup are not missed.
	addresses, err := w.users.ListDepositAddresses(ctx)
	if err != nil {
		return fmt.Errorf("failed to load watched addresses: %w", err)
	}
	w.set.Replace(addresses)

	w.started = true
	w.stopCh = make(chan struct{})

	w.wg.Add(2)
	go w.scanLoop()
	go w.resyncLoop()

	w.logger.Info("Chain watcher started",
		"chain", w.chainKey,
		"mode", w.detectionMode(),
		"watched", w.set.Len())
	return nil
}

// Shutdown stops the loops and waits for them to drain. Safe to call
// more than once.
func (w *Watcher) Shutdown(timeout time.Duration) error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = false
	close(w.stopCh)
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("watcher for chain %s did not stop in time", w.chainKey)
	}
}

func (w *Watcher) detectionMode() entities.DetectionMode {
	if w.cfg.DetectionMode == string(entities.DetectionModeBalances) {
		return entities.DetectionModeBalances
	}
	return entities.DetectionModeTransactions
}

func (w *Watcher) pollInterval() time.Duration {
	if w.cfg.PollInterval > 0 {
		return time.Duration(w.cfg.PollInterval) * time.Second
	}
	return 5 * time.Second
}

func (w *Watcher) resyncLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.resyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			addresses, err := w.users.ListDepositAddresses(ctx)
			cancel()
			if err != nil {
				w.logger.Warn("Watched address resync failed",
					"chain", w.chainKey, "error", err)
				continue
			}
			w.set.Replace(addresses)
		}
	}
}

func (w *Watcher) scanLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval())
	defer ticker.Stop()

	var cursor uint64

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			var err error
			switch w.detectionMode() {
			case entities.DetectionModeBalances:
				err = w.scanBalances(ctx)
			default:
				cursor, err = w.scanBlocks(ctx, cursor)
			}
			cancel()
			if err != nil {
				w.logger.Warn("Scan pass failed",
					"chain", w.chainKey, "error", err)
			}
		}
	}
}

// confirmedHead is the highest block with the required confirmation
// count, where the block itself counts as the first confirmation:
// head minus (confirmations-1), floored at zero confirmations. ok is
// false while the chain is shorter than the required depth.
func confirmedHead(head, confirmations uint64) (confirmed uint64, ok bool) {
	var depth uint64
	if confirmations > 0 {
		depth = confirmations - 1
	}
	if head < depth {
		return 0, false
	}
	return head - depth, true
}

// scanBlocks processes blocks from the cursor up to the confirmed head
// and returns the new cursor. The cursor only advances past blocks
// whose deposits were all accepted by the sink, so a full queue stalls
// the scan instead of dropping deposits.
func (w *Watcher) scanBlocks(ctx context.Context, cursor uint64) (uint64, error) {
	head, err := w.client.BlockNumber(ctx)
	if err != nil {
		return cursor, err
	}
	confirmed, ok := confirmedHead(head, w.cfg.Confirmations)
	if !ok {
		return cursor, nil
	}

	if cursor == 0 {
		// First pass starts at the confirmed head; history is not
		// replayed.
		return confirmed, nil
	}

	for n := cursor + 1; n <= confirmed; n++ {
		if err := w.processBlock(ctx, n); err != nil {
			return n - 1, err
		}
		cursor = n
	}
	return cursor, nil
}

func (w *Watcher) processBlock(ctx context.Context, number uint64) error {
	block, err := w.client.BlockByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return fmt.Errorf("failed to fetch block %d: %w", number, err)
	}

	// Native transfers addressed to watched addresses.
	for _, tx := range block.Transactions() {
		to := tx.To()
		if to == nil || tx.Value().Sign() <= 0 {
			continue
		}
		if !w.set.Contains(to.Hex()) {
			continue
		}

		from := ""
		if sender, err := w.client.Signer().Sender(tx); err == nil {
			from = sender.Hex()
		}

		if !w.emit(entities.DepositEvent{
			ChainKey:    w.chainKey,
			TxHash:      tx.Hash().Hex(),
			LogIndex:    0,
			Token:       entities.NativeToken,
			ToAddress:   strings.ToLower(to.Hex()),
			FromAddress: from,
			Amount:      new(big.Int).Set(tx.Value()),
			BlockNumber: number,
			ObservedAt:  time.Now().UTC(),
		}) {
			return fmt.Errorf("settlement queue full at block %d", number)
		}
	}

	// Stable-token transfers into watched addresses.
	query, ok := w.logQuery(number)
	if !ok {
		return nil
	}
	logs, err := w.client.FilterLogs(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to filter logs for block %d: %w", number, err)
	}

	for _, lg := range logs {
		if len(lg.Topics) != 3 {
			continue
		}
		to := common.BytesToAddress(lg.Topics[2].Bytes())
		if !w.set.Contains(to.Hex()) {
			continue
		}
		amount := new(big.Int).SetBytes(lg.Data)
		if amount.Sign() <= 0 {
			continue
		}

		if !w.emit(entities.DepositEvent{
			ChainKey:    w.chainKey,
			TxHash:      lg.TxHash.Hex(),
			LogIndex:    lg.Index,
			Token:       strings.ToLower(lg.Address.Hex()),
			ToAddress:   strings.ToLower(to.Hex()),
			FromAddress: common.BytesToAddress(lg.Topics[1].Bytes()).Hex(),
			Amount:      amount,
			BlockNumber: number,
			ObservedAt:  time.Now().UTC(),
		}) {
			return fmt.Errorf("settlement queue full at block %d", number)
		}
	}

	return nil
}

// logQuery builds the single-block Transfer filter, scoped to the
// chain's settlement token. Only that token is watched; other ERC-20s
// land untracked rather than queueing deposits the pipeline cannot
// settle. ok is false on chains with no stable token configured, which
// skips the log pass entirely.
func (w *Watcher) logQuery(number uint64) (ethereum.FilterQuery, bool) {
	if w.stable == (common.Address{}) {
		return ethereum.FilterQuery{}, false
	}
	return ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(number),
		ToBlock:   new(big.Int).SetUint64(number),
		Addresses: []common.Address{w.stable},
		Topics:    [][]common.Hash{{transferTopic}},
	}, true
}

// scanBalances detects deposits as positive balance deltas against a
// Redis baseline, which survives restarts. Negative deltas (sweeps,
// outgoing settlement legs) only lower the baseline.
func (w *Watcher) scanBalances(ctx context.Context) error {
	head, err := w.client.BlockNumber(ctx)
	if err != nil {
		return err
	}
	confirmed, ok := confirmedHead(head, w.cfg.Confirmations)
	if !ok {
		return nil
	}

	for _, address := range w.set.Snapshot() {
		balance, err := w.client.BalanceAt(ctx, common.HexToAddress(address), new(big.Int).SetUint64(confirmed))
		if err != nil {
			w.logger.Warn("Balance read failed",
				"chain", w.chainKey, "address", address, "error", err)
			continue
		}
		w.checkBalance(ctx, address, balance, confirmed)
	}
	return nil
}

// checkBalance compares one address balance against its Redis baseline
// and emits the positive delta as a deposit. The baseline only advances
// after the sink accepts the event. A baseline read that fails for any
// reason other than a missing key leaves the baseline alone; rewriting
// it on a transport blip would erase a pending delta.
func (w *Watcher) checkBalance(ctx context.Context, address string, balance *big.Int, block uint64) {
	key := w.baselineKey(address)

	var baselineStr string
	err := w.cache.Get(ctx, key, &baselineStr)
	switch {
	case err == nil:
	case errors.Is(err, redis.Nil):
		// No baseline yet: record the current balance and treat only
		// future increases as deposits.
		if err := w.cache.Set(ctx, key, balance.String(), 0); err != nil {
			w.logger.Warn("Failed to store balance baseline", "address", address, "error", err)
		}
		return
	default:
		w.logger.Warn("Baseline read failed, skipping address",
			"chain", w.chainKey, "address", address, "error", err)
		return
	}

	baseline, ok := new(big.Int).SetString(baselineStr, 10)
	if !ok {
		baseline = big.NewInt(0)
	}

	delta := new(big.Int).Sub(balance, baseline)
	if delta.Sign() <= 0 {
		if delta.Sign() < 0 {
			if err := w.cache.Set(ctx, key, balance.String(), 0); err != nil {
				w.logger.Warn("Failed to lower balance baseline", "address", address, "error", err)
			}
		}
		return
	}

	accepted := w.emit(entities.DepositEvent{
		ChainKey: w.chainKey,
		// Balance mode has no originating transaction; the synthetic
		// hash keys on (address, block) so the same delta is never
		// double-counted.
		TxHash:      fmt.Sprintf("balance:%s:%d", address, block),
		LogIndex:    0,
		Token:       entities.NativeToken,
		ToAddress:   address,
		Amount:      delta,
		BlockNumber: block,
		ObservedAt:  time.Now().UTC(),
	})
	if accepted {
		if err := w.cache.Set(ctx, key, balance.String(), 0); err != nil {
			w.logger.Warn("Failed to advance balance baseline", "address", address, "error", err)
		}
	}
}

func (w *Watcher) baselineKey(address string) string {
	return fmt.Sprintf("watcher:baseline:%s:%s", w.chainKey, strings.ToLower(address))
}

func (w *Watcher) emit(event entities.DepositEvent) bool {
	mode := string(w.detectionMode())
	if !w.sink.Enqueue(event) {
		w.logger.Warn("Settlement queue full, deposit deferred",
			"chain", event.ChainKey, "tx", event.TxHash)
		return false
	}
	metrics.DepositsDetectedCounter.WithLabelValues(event.ChainKey, mode).Inc()
	w.logger.Info("Deposit detected",
		"chain", event.ChainKey,
		"tx", event.TxHash,
		"to", event.ToAddress,
		"amount", event.Amount.String(),
		"token", event.Token)
	return true
}
