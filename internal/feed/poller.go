package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"BTCSpotGame/internal/binance"
	"BTCSpotGame/internal/orderbook"
)

// Fetcher is the request/response side of the venue.
type Fetcher interface {
	GetDepthSnapshot(ctx context.Context, symbol string, limit int) (*binance.DepthSnapshot, error)
}

// Poller asks the venue for the top of book every Interval.
type Poller struct {
	*sink
	fetcher Fetcher
	// After is the clock between cycles; tests swap it for one that fires at once.
	After func(time.Duration) <-chan time.Time
}

func NewPoller(fetcher Fetcher, store *orderbook.Store, pub Publisher, opts Options, log logrus.FieldLogger) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Poller{
		sink:    newSink(opts, store, pub, log),
		fetcher: fetcher,
		After:   time.After,
	}
}

// WithMirror copies every accepted snapshot to m.
func (p *Poller) WithMirror(m Mirror) *Poller {
	p.mirror = m
	return p
}

// Run polls until ctx is cancelled. The sleep is a fixed interval after each
// cycle, success or not. It only returns ctx.Err().
func (p *Poller) Run(ctx context.Context) error {
	p.log.WithFields(logrus.Fields{
		"symbol":   p.opts.Symbol,
		"depth":    p.opts.Depth,
		"interval": p.opts.Interval,
	}).Info("starting REST depth poller")

	for {
		_ = p.Poll(ctx)
		if ctx.Err() != nil {
			p.log.Info("depth poller stopped")
			return ctx.Err()
		}

		select {
		case <-ctx.Done():
			p.log.Info("depth poller stopped")
			return ctx.Err()
		case <-p.After(p.opts.Interval):
		}
	}
}

// Poll runs one fetch-normalise-write cycle. A failure leaves the store
// untouched. Panics inside the cycle are turned into errors.
func (p *Poller) Poll(ctx context.Context) (err error) {
	p.attempts.Add(1)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in poll cycle: %v", r)
		}
		if err != nil {
			if ctx.Err() == nil {
				p.failed(err)
			}
			return
		}
		p.succeeded()
	}()

	reqCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	raw, err := p.fetcher.GetDepthSnapshot(reqCtx, p.opts.Symbol, p.opts.Depth)
	if err != nil {
		return fmt.Errorf("fetch depth: %w", err)
	}
	if err := p.apply(ctx, raw); err != nil {
		return err
	}
	p.log.WithField("last_update_id", raw.LastUpdateID).Debug("market updated")
	return nil
}
