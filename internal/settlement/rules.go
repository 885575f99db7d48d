package settlement

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MaxPrecision is the most decimal places a balance may be rounded to.
const MaxPrecision = 18

// Rules are the fee and sizing constants of the game.
type Rules struct {
	FeeRate       decimal.Decimal
	MinTradeUSDT  decimal.Decimal
	BTCPrecision  int32
	USDTPrecision int32
}

// DefaultRules: 0.1% fee, 10.1 USDT minimum notional, 8 decimals on both assets.
func DefaultRules() Rules {
	return Rules{
		FeeRate:       decimal.RequireFromString("0.001"),
		MinTradeUSDT:  decimal.RequireFromString("10.1"),
		BTCPrecision:  8,
		USDTPrecision: 8,
	}
}

// Validate rejects constants that would let a trade create or destroy value
// in nonsensical ways. It is meant to run once at startup.
func (r Rules) Validate() error {
	if r.FeeRate.IsNegative() || r.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("fee rate %s must be in [0, 1)", r.FeeRate)
	}
	if r.MinTradeUSDT.IsNegative() {
		return fmt.Errorf("minimum trade %s must not be negative", r.MinTradeUSDT)
	}
	if r.BTCPrecision < 0 || r.BTCPrecision > MaxPrecision {
		return fmt.Errorf("btc precision %d must be in 0..%d", r.BTCPrecision, MaxPrecision)
	}
	if r.USDTPrecision < 0 || r.USDTPrecision > MaxPrecision {
		return fmt.Errorf("usdt precision %d must be in 0..%d", r.USDTPrecision, MaxPrecision)
	}
	return nil
}
