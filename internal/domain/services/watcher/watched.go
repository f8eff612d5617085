package watcher

import (
	"strings"
	"sync"
)

// WatchedSet is the set of deposit addresses the watcher tracks.
// Addresses are stored lowercased; membership checks are
// case-insensitive. Safe for concurrent use: the scan loop reads while
// the resync loop replaces.
type WatchedSet struct {
	mu        sync.RWMutex
	addresses map[string]struct{}
}

func NewWatchedSet() *WatchedSet {
	return &WatchedSet{
		addresses: make(map[string]struct{}),
	}
}

// Replace swaps in a new address list wholesale.
func (s *WatchedSet) Replace(addresses []string) {
	next := make(map[string]struct{}, len(addresses))
	for _, a := range addresses {
		next[strings.ToLower(a)] = struct{}{}
	}

	s.mu.Lock()
	s.addresses = next
	s.mu.Unlock()
}

// Contains reports whether the address is watched.
func (s *WatchedSet) Contains(address string) bool {
	key := strings.ToLower(address)
	s.mu.RLock()
	_, ok := s.addresses[key]
	s.mu.RUnlock()
	return ok
}

// Snapshot returns the current addresses, lowercased.
func (s *WatchedSet) Snapshot() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.addresses))
	for a := range s.addresses {
		out = append(out, a)
	}
	return out
}

// Len returns the number of watched addresses.
func (s *WatchedSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.addresses)
}
