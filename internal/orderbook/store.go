package orderbook

import (
	"sync/atomic"

	"github.com/shopspring/decimal"
)

// Store holds the current snapshot. One goroutine writes (the feed), any
// number read. Writes swap a pointer, so a reader sees either the old
// snapshot or the new one, never bids from one and asks from the other.
type Store struct {
	current atomic.Pointer[Snapshot]
	writes  atomic.Uint64
}

func NewStore() *Store {
	return &Store{}
}

// Write replaces the whole snapshot. The caller must not modify s afterwards.
func (st *Store) Write(s Snapshot) {
	st.current.Store(&s)
	st.writes.Add(1)
}

// Read returns the latest snapshot, or the zero Snapshot before the first write.
func (st *Store) Read() Snapshot {
	if p := st.current.Load(); p != nil {
		return *p
	}
	return Snapshot{}
}

// Top returns best bid/ask of the latest snapshot.
func (st *Store) Top() (bid, ask decimal.Decimal, ok bool) {
	return st.Read().Top()
}

// Writes counts completed writes; handy for tests and health output.
func (st *Store) Writes() uint64 {
	return st.writes.Load()
}
