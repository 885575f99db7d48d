package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"BTCSpotGame/internal/binance"
	"BTCSpotGame/internal/orderbook"
)

// Streamer holds one partial-depth websocket subscription and reconnects
// after a fixed delay whenever it drops.
type Streamer struct {
	*sink
	client *binance.StreamClient
}

// NewStreamer subscribes to url (see binance.StreamURL). opts.Interval is the reconnect delay.
func NewStreamer(url string, store *orderbook.Store, pub Publisher, opts Options, log logrus.FieldLogger) *Streamer {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	s := &Streamer{sink: newSink(opts, store, pub, log)}
	s.client = &binance.StreamClient{
		URL:            url,
		ReconnectDelay: opts.Interval,
		Log:            s.log,
		OnError:        s.transportFailed,
	}
	return s
}

// WithMirror copies every accepted snapshot to m.
func (s *Streamer) WithMirror(m Mirror) *Streamer {
	s.mirror = m
	return s
}

// WithClock replaces the reconnect timer.
func (s *Streamer) WithClock(after func(time.Duration) <-chan time.Time) *Streamer {
	s.client.After = after
	return s
}

// Run blocks until ctx is cancelled and returns ctx.Err().
func (s *Streamer) Run(ctx context.Context) error {
	s.log.WithFields(logrus.Fields{
		"url":   s.client.URL,
		"depth": s.opts.Depth,
	}).Info("starting depth stream")

	s.client.OnSnapshot = func(raw binance.DepthSnapshot) {
		s.handle(ctx, raw)
	}
	s.client.Start(ctx)
	return ctx.Err()
}

// transportFailed counts a dial, read or decode failure as a failed attempt.
func (s *Streamer) transportFailed(err error) {
	s.attempts.Add(1)
	s.failed(err)
}

func (s *Streamer) handle(ctx context.Context, raw binance.DepthSnapshot) {
	s.attempts.Add(1)
	defer func() {
		if r := recover(); r != nil {
			s.failed(fmt.Errorf("panic applying stream frame: %v", r))
		}
	}()
	if err := s.apply(ctx, &raw); err != nil {
		s.failed(err)
		return
	}
	s.succeeded()
}
