package orderbook

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Level 价格档位
type Level struct {
	Price  decimal.Decimal
	Volume decimal.Decimal
}

// Snapshot is an immutable top-N view of the book. Bids are sorted best
// (highest) first, asks best (lowest) first.
type Snapshot struct {
	Symbol       string
	LastUpdateID int64
	Bids         []Level
	Asks         []Level
	UpdatedAt    time.Time
}

// Empty reports whether the snapshot has nothing to trade against.
func (s Snapshot) Empty() bool {
	return len(s.Bids) == 0 || len(s.Asks) == 0
}

// Top returns the best bid and ask. ok is false when either side is empty.
func (s Snapshot) Top() (bid, ask decimal.Decimal, ok bool) {
	if s.Empty() {
		return decimal.Zero, decimal.Zero, false
	}
	return s.Bids[0].Price, s.Asks[0].Price, true
}

// MarshalJSON renders the browser's market payload:
// {"bids": [["price","volume"], ...], "asks": [...]}.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Bids [][2]string `json:"bids"`
		Asks [][2]string `json:"asks"`
	}{
		Bids: pairs(s.Bids),
		Asks: pairs(s.Asks),
	})
}

func pairs(levels []Level) [][2]string {
	out := make([][2]string, 0, len(levels))
	for _, l := range levels {
		out = append(out, [2]string{l.Price.String(), l.Volume.String()})
	}
	return out
}

// FromLevels builds a snapshot from venue [price, qty] string pairs.
// Zero-quantity levels are dropped, bids are sorted descending, asks
// ascending, and each side is cut to depth (depth <= 0 keeps everything).
// A level that does not parse fails the whole payload.
func FromLevels(symbol string, lastUpdateID int64, bids, asks [][]string, depth int) (Snapshot, error) {
	b, err := parseLevels(bids)
	if err != nil {
		return Snapshot{}, fmt.Errorf("bids: %w", err)
	}
	a, err := parseLevels(asks)
	if err != nil {
		return Snapshot{}, fmt.Errorf("asks: %w", err)
	}

	// 买盘降序 (价格高的排前面)
	sort.SliceStable(b, func(i, j int) bool { return b[i].Price.GreaterThan(b[j].Price) })
	// 卖盘升序 (价格低的排前面)
	sort.SliceStable(a, func(i, j int) bool { return a[i].Price.LessThan(a[j].Price) })

	if depth > 0 {
		if len(b) > depth {
			b = b[:depth]
		}
		if len(a) > depth {
			a = a[:depth]
		}
	}

	return Snapshot{
		Symbol:       symbol,
		LastUpdateID: lastUpdateID,
		Bids:         b,
		Asks:         a,
	}, nil
}

func parseLevels(levels [][]string) ([]Level, error) {
	out := make([]Level, 0, len(levels))
	for i, level := range levels {
		if len(level) < 2 {
			return nil, fmt.Errorf("level %d: want [price, qty], got %d fields", i, len(level))
		}
		price, err := decimal.NewFromString(level[0])
		if err != nil {
			return nil, fmt.Errorf("level %d price %q: %w", i, level[0], err)
		}
		qty, err := decimal.NewFromString(level[1])
		if err != nil {
			return nil, fmt.Errorf("level %d qty %q: %w", i, level[1], err)
		}
		if !price.IsPositive() || qty.IsNegative() {
			return nil, fmt.Errorf("level %d: price %s qty %s out of range", i, price, qty)
		}
		if qty.IsZero() {
			continue
		}
		out = append(out, Level{Price: price, Volume: qty})
	}
	return out, nil
}
