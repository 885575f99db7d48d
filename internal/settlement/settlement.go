// Package settlement converts a whole balance from one asset to the other at
// the top of book. Everything here is pure: no I/O, no clocks, no globals.
package settlement

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"BTCSpotGame/internal/wallet"
)

// ErrInvalidSide is returned by ParseSide for anything other than buy/sell.
var ErrInvalidSide = errors.New("side must be buy or sell")

// Side is the direction of an all-in trade.
type Side int

const (
	// Buy spends all USDT on BTC at the best ask.
	Buy Side = iota + 1
	// Sell turns all BTC into USDT at the best bid.
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// ParseSide accepts "buy" or "sell" in any case.
func ParseSide(value string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidSide, value)
	}
}

// Status is the result class of a settlement attempt.
type Status string

const (
	StatusExecuted          Status = "executed"
	StatusMarketNotReady    Status = "rejected_market_not_ready"
	StatusInsufficientFunds Status = "rejected_insufficient_funds"
)

// Quote is the top of book a trade is priced against. A zero Bid or Ask means
// that side of the book is empty.
type Quote struct {
	Bid decimal.Decimal
	Ask decimal.Decimal
}

// Ready reports whether both sides have a usable price.
func (q Quote) Ready() bool {
	return q.Bid.IsPositive() && q.Ask.IsPositive()
}

// Outcome is what Settle decided. Balance equals the input balance unless
// Status is StatusExecuted.
type Outcome struct {
	Status  Status
	Side    Side
	Balance wallet.Balance
	// Price is the ask for a buy and the bid for a sell; zero when the market was not ready.
	Price decimal.Decimal
	// Fee is charged in the asset being sold.
	Fee decimal.Decimal
}

// Executed is shorthand for Status == StatusExecuted.
func (o Outcome) Executed() bool {
	return o.Status == StatusExecuted
}

// Message is the text shown to the player.
func (o Outcome) Message() string {
	switch o.Status {
	case StatusExecuted:
		return "Trade executed"
	case StatusMarketNotReady:
		return "Market not ready"
	case StatusInsufficientFunds:
		return "Insufficient balance"
	default:
		return string(o.Status)
	}
}

// Settle prices an all-in trade.
//
// Buy:  fee = usdt*FeeRate, btc  = round((usdt-fee)/ask, BTCPrecision), usdt = 0.
// Sell: fee = btc*FeeRate,  usdt = round((btc-fee)*bid, USDTPrecision), btc = 0.
//
// Rounding is applied once, to the converted amount, half away from zero.
// An empty book wins over every balance check.
func Settle(side Side, bal wallet.Balance, q Quote, r Rules) Outcome {
	out := Outcome{Side: side, Balance: bal, Fee: decimal.Zero}

	if !q.Ready() {
		out.Status = StatusMarketNotReady
		return out
	}

	switch side {
	case Buy:
		out.Price = q.Ask
		if bal.USDT.LessThan(r.MinTradeUSDT) {
			out.Status = StatusInsufficientFunds
			return out
		}
		fee := bal.USDT.Mul(r.FeeRate)
		out.Fee = fee
		out.Balance = wallet.Balance{
			USDT: decimal.Zero,
			BTC:  bal.USDT.Sub(fee).DivRound(q.Ask, r.BTCPrecision),
		}

	case Sell:
		out.Price = q.Bid
		if bal.BTC.Mul(q.Bid).LessThan(r.MinTradeUSDT) {
			out.Status = StatusInsufficientFunds
			return out
		}
		fee := bal.BTC.Mul(r.FeeRate)
		out.Fee = fee
		out.Balance = wallet.Balance{
			USDT: bal.BTC.Sub(fee).Mul(q.Bid).Round(r.USDTPrecision),
			BTC:  decimal.Zero,
		}

	default:
		// ParseSide never yields this; treat it like a trade that cannot be funded.
		out.Status = StatusInsufficientFunds
		return out
	}

	out.Status = StatusExecuted
	return out
}
