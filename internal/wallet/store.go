package wallet

import (
	"context"
	"errors"
	"sync"
)

// ErrEmptySession is returned when a store is asked about a blank session key.
var ErrEmptySession = errors.New("wallet: empty session key")

// Store reads and writes the balance that belongs to one player session.
//
// Concurrent Put calls for the same session are last-write-wins. Two trades
// fired at once from the same browser can both settle against the same
// starting balance; nothing here serialises them.
type Store interface {
	// Get reports ok=false when the session has never been written.
	Get(ctx context.Context, session string) (Balance, bool, error)
	Put(ctx context.Context, session string, b Balance) error
}

// MemoryStore keeps balances in process memory. Balances are lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	balances map[string]Balance
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{balances: make(map[string]Balance)}
}

func (s *MemoryStore) Get(_ context.Context, session string) (Balance, bool, error) {
	if session == "" {
		return Balance{}, false, ErrEmptySession
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.balances[session]
	return b, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, session string, b Balance) error {
	if session == "" {
		return ErrEmptySession
	}
	s.mu.Lock()
	s.balances[session] = b
	s.mu.Unlock()
	return nil
}

// Len returns the number of known sessions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.balances)
}
