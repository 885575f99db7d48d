// Package feed keeps the order book snapshot fresh. It runs for the life of
// the process and swallows every venue failure: the game keeps working on the
// last good snapshot until the venue answers again.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"BTCSpotGame/internal/binance"
	"BTCSpotGame/internal/orderbook"
)

// Publisher receives every snapshot the feed writes.
type Publisher interface {
	PublishMarket(orderbook.Snapshot)
}

// Mirror copies snapshots to an external store. Failures are logged only.
type Mirror interface {
	Mirror(ctx context.Context, s orderbook.Snapshot) error
}

// Stats is a point-in-time view of feed health.
type Stats struct {
	Attempts            uint64    `json:"attempts"`
	Failures            uint64    `json:"failures"`
	ConsecutiveFailures uint64    `json:"consecutive_failures"`
	LastSuccess         time.Time `json:"last_success"`
	LastError           string    `json:"last_error,omitempty"`
}

// Options shared by both feed modes.
type Options struct {
	Symbol string
	Depth  int
	// Interval is the poll period in poll mode and the reconnect delay in stream mode.
	Interval time.Duration
	// Timeout bounds one REST call in poll mode.
	Timeout time.Duration
}

// sink applies venue payloads to the store and tracks health. It is shared by
// the poller and the streamer.
type sink struct {
	opts   Options
	store  *orderbook.Store
	pub    Publisher
	mirror Mirror
	log    logrus.FieldLogger
	now    func() time.Time

	attempts    atomic.Uint64
	failures    atomic.Uint64
	consecutive atomic.Uint64
	lastSuccess atomic.Int64
	lastErr     atomic.Pointer[string]
}

func newSink(opts Options, store *orderbook.Store, pub Publisher, log logrus.FieldLogger) *sink {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &sink{opts: opts, store: store, pub: pub, log: log, now: time.Now}
}

// errOneSidedBook rejects payloads that decode cleanly but carry no book,
// such as `{}` or a stream subscription ack.
var errOneSidedBook = errors.New("depth payload has no bids or asks")

// apply normalises a payload and, if it is well formed, replaces the snapshot.
// A payload missing either side never replaces a good book.
func (s *sink) apply(ctx context.Context, raw *binance.DepthSnapshot) error {
	if raw == nil {
		return fmt.Errorf("empty depth payload")
	}
	snap, err := orderbook.FromLevels(s.opts.Symbol, raw.LastUpdateID, raw.Bids, raw.Asks, s.opts.Depth)
	if err != nil {
		return fmt.Errorf("normalise depth: %w", err)
	}
	if len(snap.Bids) == 0 || len(snap.Asks) == 0 {
		return errOneSidedBook
	}
	snap.UpdatedAt = s.now()

	s.store.Write(snap)

	if s.mirror != nil {
		if err := s.mirror.Mirror(ctx, snap); err != nil {
			s.log.WithError(err).Warn("snapshot mirror failed")
		}
	}
	if s.pub != nil {
		s.pub.PublishMarket(snap)
	}
	return nil
}

func (s *sink) succeeded() {
	s.consecutive.Store(0)
	s.lastSuccess.Store(s.now().UnixNano())
}

func (s *sink) failed(err error) {
	n := s.consecutive.Add(1)
	s.failures.Add(1)
	msg := err.Error()
	s.lastErr.Store(&msg)
	s.log.WithError(err).WithField("consecutive_failures", n).Warn("market data update failed, keeping last snapshot")
}

// Stats reports counters since start.
func (s *sink) Stats() Stats {
	st := Stats{
		Attempts:            s.attempts.Load(),
		Failures:            s.failures.Load(),
		ConsecutiveFailures: s.consecutive.Load(),
	}
	if ns := s.lastSuccess.Load(); ns != 0 {
		st.LastSuccess = time.Unix(0, ns)
	}
	if p := s.lastErr.Load(); p != nil {
		st.LastError = *p
	}
	return st
}

// Runner is what main starts: either a Poller or a Streamer.
type Runner interface {
	Run(ctx context.Context) error
	Stats() Stats
}
