package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagerpay/settlement_service/internal/domain/entities"
	"github.com/wagerpay/settlement_service/internal/infrastructure/config"
	"github.com/wagerpay/settlement_service/pkg/logger"
)

// memoryCache mirrors the JSON round-trip and key-not-found wrapping of
// the Redis-backed client. getErr simulates a transport failure.
type memoryCache struct {
	data   map[string][]byte
	getErr error
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: map[string][]byte{}}
}

func (m *memoryCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.data[key] = data
	return nil
}

func (m *memoryCache) Get(_ context.Context, key string, dest interface{}) error {
	if m.getErr != nil {
		return fmt.Errorf("failed to get key '%s' from Redis: %w", key, m.getErr)
	}
	val, ok := m.data[key]
	if !ok {
		return fmt.Errorf("key '%s' not found: %w", key, redis.Nil)
	}
	return json.Unmarshal(val, dest)
}

func (m *memoryCache) Del(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func (m *memoryCache) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.data[key]
	return ok, nil
}

func (m *memoryCache) Keys(context.Context, string) ([]string, error) { return nil, nil }
func (m *memoryCache) Ping(context.Context) error                     { return nil }
func (m *memoryCache) Close() error                                   { return nil }
func (m *memoryCache) Client() *redis.Client                          { return nil }

func (m *memoryCache) baseline(t *testing.T, key string) string {
	t.Helper()
	var s string
	require.NoError(t, m.Get(context.Background(), key, &s))
	return s
}

type captureSink struct {
	events []entities.DepositEvent
	reject bool
}

func (s *captureSink) Enqueue(event entities.DepositEvent) bool {
	if s.reject {
		return false
	}
	s.events = append(s.events, event)
	return true
}

func newTestWatcher(cacheClient *memoryCache, sink *captureSink, cfg config.ChainConfig) *Watcher {
	return New(nil, cacheClient, nil, sink, cfg, time.Minute, logger.New("error", "test"))
}

func TestConfirmedHead(t *testing.T) {
	tests := []struct {
		name          string
		head          uint64
		confirmations uint64
		want          uint64
		ok            bool
	}{
		{"zero confirmations scan the head", 100, 0, 100, true},
		{"one confirmation counts the block itself", 100, 1, 100, true},
		{"twelve confirmations scan eleven behind", 100, 12, 89, true},
		{"short chain waits", 5, 12, 0, false},
		{"depth exactly reachable", 11, 12, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := confirmedHead(tt.head, tt.confirmations)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLogQueryScopedToStableToken(t *testing.T) {
	stable := "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	w := newTestWatcher(newMemoryCache(), &captureSink{}, config.ChainConfig{StableToken: stable})

	query, ok := w.logQuery(42)
	require.True(t, ok)
	require.Len(t, query.Addresses, 1)
	assert.Equal(t, common.HexToAddress(stable), query.Addresses[0])
	assert.Equal(t, uint64(42), query.FromBlock.Uint64())
	assert.Equal(t, uint64(42), query.ToBlock.Uint64())
	require.Len(t, query.Topics, 1)
	assert.Equal(t, []common.Hash{transferTopic}, query.Topics[0])
}

func TestLogQuerySkippedWithoutStableToken(t *testing.T) {
	w := newTestWatcher(newMemoryCache(), &captureSink{}, config.ChainConfig{})

	_, ok := w.logQuery(42)
	assert.False(t, ok)
}

func TestCheckBalanceEstablishesBaseline(t *testing.T) {
	cacheClient := newMemoryCache()
	sink := &captureSink{}
	w := newTestWatcher(cacheClient, sink, config.ChainConfig{})
	addr := "0xaaaa000000000000000000000000000000000001"

	w.checkBalance(context.Background(), addr, big.NewInt(500), 10)

	// Pre-existing funds are not a deposit.
	assert.Empty(t, sink.events)
	assert.Equal(t, "500", cacheClient.baseline(t, w.baselineKey(addr)))
}

func TestCheckBalanceEmitsPositiveDelta(t *testing.T) {
	cacheClient := newMemoryCache()
	sink := &captureSink{}
	w := newTestWatcher(cacheClient, sink, config.ChainConfig{})
	addr := "0xaaaa000000000000000000000000000000000001"
	key := w.baselineKey(addr)

	require.NoError(t, cacheClient.Set(context.Background(), key, "500", 0))
	w.checkBalance(context.Background(), addr, big.NewInt(800), 11)

	require.Len(t, sink.events, 1)
	assert.Equal(t, "300", sink.events[0].Amount.String())
	assert.Equal(t, entities.NativeToken, sink.events[0].Token)
	assert.Equal(t, uint64(11), sink.events[0].BlockNumber)
	assert.Equal(t, "800", cacheClient.baseline(t, key))
}

func TestCheckBalanceTransportErrorLeavesBaseline(t *testing.T) {
	cacheClient := newMemoryCache()
	sink := &captureSink{}
	w := newTestWatcher(cacheClient, sink, config.ChainConfig{})
	addr := "0xaaaa000000000000000000000000000000000001"
	key := w.baselineKey(addr)

	require.NoError(t, cacheClient.Set(context.Background(), key, "500", 0))

	// A Redis outage must not reset the baseline: the pending delta
	// would be erased.
	cacheClient.getErr = fmt.Errorf("connection refused")
	w.checkBalance(context.Background(), addr, big.NewInt(800), 11)
	assert.Empty(t, sink.events)

	cacheClient.getErr = nil
	assert.Equal(t, "500", cacheClient.baseline(t, key))

	// Once Redis recovers the delta is still detected.
	w.checkBalance(context.Background(), addr, big.NewInt(800), 12)
	require.Len(t, sink.events, 1)
	assert.Equal(t, "300", sink.events[0].Amount.String())
}

func TestCheckBalanceRejectedEventKeepsBaseline(t *testing.T) {
	cacheClient := newMemoryCache()
	sink := &captureSink{reject: true}
	w := newTestWatcher(cacheClient, sink, config.ChainConfig{})
	addr := "0xaaaa000000000000000000000000000000000001"
	key := w.baselineKey(addr)

	require.NoError(t, cacheClient.Set(context.Background(), key, "500", 0))
	w.checkBalance(context.Background(), addr, big.NewInt(800), 11)

	// A full queue defers the deposit; the baseline stays so the next
	// pass re-offers the same delta.
	assert.Equal(t, "500", cacheClient.baseline(t, key))
}

func TestCheckBalanceLowersBaselineAfterSweep(t *testing.T) {
	cacheClient := newMemoryCache()
	sink := &captureSink{}
	w := newTestWatcher(cacheClient, sink, config.ChainConfig{})
	addr := "0xaaaa000000000000000000000000000000000001"
	key := w.baselineKey(addr)

	require.NoError(t, cacheClient.Set(context.Background(), key, "500", 0))
	w.checkBalance(context.Background(), addr, big.NewInt(100), 11)

	assert.Empty(t, sink.events)
	assert.Equal(t, "100", cacheClient.baseline(t, key))
}
