package wallet

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Balance is one player's holdings. After any executed trade at most one side is non-zero.
type Balance struct {
	USDT decimal.Decimal
	BTC  decimal.Decimal
}

// NewBalance returns the starting balance handed to a new player.
func NewBalance(usdt decimal.Decimal) Balance {
	return Balance{USDT: usdt, BTC: decimal.Zero}
}

// Equal compares amounts numerically, so 0.10 equals 0.1.
func (b Balance) Equal(o Balance) bool {
	return b.USDT.Equal(o.USDT) && b.BTC.Equal(o.BTC)
}

func (b Balance) String() string {
	return fmt.Sprintf("BTC=%s | USDT=%s", b.BTC.String(), b.USDT.String())
}

// MarshalJSON renders {"btc": <number>, "usdt": <number>}, the shape the browser expects.
func (b Balance) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		BTC  json.Number `json:"btc"`
		USDT json.Number `json:"usdt"`
	}{
		BTC:  json.Number(b.BTC.String()),
		USDT: json.Number(b.USDT.String()),
	})
}

// UnmarshalJSON accepts quoted or bare numbers.
func (b *Balance) UnmarshalJSON(data []byte) error {
	var raw struct {
		BTC  decimal.Decimal `json:"btc"`
		USDT decimal.Decimal `json:"usdt"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	b.BTC = raw.BTC
	b.USDT = raw.USDT
	return nil
}
