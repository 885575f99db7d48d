// Package game ties the balance store, the market snapshot and the settlement
// rules together into the two things a player can do: look at their balance
// and trade all of it.
package game

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"BTCSpotGame/internal/settlement"
	"BTCSpotGame/internal/wallet"
)

// QuoteSource gives the current best bid and ask.
type QuoteSource interface {
	Top() (bid, ask decimal.Decimal, ok bool)
}

// BalancePublisher pushes a player's new balance to their viewers.
type BalancePublisher interface {
	PublishBalance(session string, bal wallet.Balance)
}

// Service runs trades for sessions.
//
// Two trades for the same session racing each other both read the same
// starting balance and the later Put wins. There is no per-session lock.
type Service struct {
	wallets     wallet.Store
	quotes      QuoteSource
	pub         BalancePublisher
	rules       settlement.Rules
	startingUSD decimal.Decimal
	log         logrus.FieldLogger
}

func NewService(wallets wallet.Store, quotes QuoteSource, pub BalancePublisher, rules settlement.Rules, startingUSDT decimal.Decimal, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		wallets:     wallets,
		quotes:      quotes,
		pub:         pub,
		rules:       rules,
		startingUSD: startingUSDT,
		log:         log.WithField("component", "game"),
	}
}

// Balance returns the stored balance, or the starting balance when the
// session has none yet. Nothing is written.
func (s *Service) Balance(ctx context.Context, session string) (wallet.Balance, error) {
	bal, ok, err := s.wallets.Get(ctx, session)
	if err != nil {
		return wallet.Balance{}, fmt.Errorf("load balance: %w", err)
	}
	if !ok {
		return wallet.NewBalance(s.startingUSD), nil
	}
	return bal, nil
}

// EnsureBalance is Balance plus persisting the starting balance on first visit.
func (s *Service) EnsureBalance(ctx context.Context, session string) (wallet.Balance, error) {
	bal, ok, err := s.wallets.Get(ctx, session)
	if err != nil {
		return wallet.Balance{}, fmt.Errorf("load balance: %w", err)
	}
	if ok {
		return bal, nil
	}
	bal = wallet.NewBalance(s.startingUSD)
	if err := s.wallets.Put(ctx, session, bal); err != nil {
		return wallet.Balance{}, fmt.Errorf("init balance: %w", err)
	}
	s.log.WithField("session", session).Info("new player")
	return bal, nil
}

// Trade converts the session's whole balance on side. Only executed trades
// are written back and published; a rejection returns the unchanged balance
// with a nil error.
func (s *Service) Trade(ctx context.Context, session string, side settlement.Side) (settlement.Outcome, error) {
	bal, err := s.Balance(ctx, session)
	if err != nil {
		return settlement.Outcome{}, err
	}

	bid, ask, _ := s.quotes.Top()
	out := settlement.Settle(side, bal, settlement.Quote{Bid: bid, Ask: ask}, s.rules)

	entry := s.log.WithFields(logrus.Fields{
		"session": session,
		"side":    side.String(),
		"status":  out.Status,
	})
	if !out.Executed() {
		entry.Info("trade rejected")
		return out, nil
	}

	if err := s.wallets.Put(ctx, session, out.Balance); err != nil {
		return settlement.Outcome{}, fmt.Errorf("save balance: %w", err)
	}
	entry.WithFields(logrus.Fields{
		"price":   out.Price.String(),
		"fee":     out.Fee.String(),
		"balance": out.Balance.String(),
	}).Info("trade executed")

	if s.pub != nil {
		s.pub.PublishBalance(session, out.Balance)
	}
	return out, nil
}
