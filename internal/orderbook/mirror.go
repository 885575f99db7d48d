package orderbook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMirror copies each snapshot to Redis key "OrderBook:<SYMBOL>" so that
// other processes can read the book without talking to the venue.
type RedisMirror struct {
	rdb     redis.Cmdable
	key     string
	timeout time.Duration
}

// NewRedisMirror uses a short timeout per write so a slow Redis cannot stall the feed loop.
func NewRedisMirror(rdb redis.Cmdable, symbol string, timeout time.Duration) *RedisMirror {
	if timeout <= 0 {
		timeout = 50 * time.Millisecond
	}
	return &RedisMirror{rdb: rdb, key: "OrderBook:" + symbol, timeout: timeout}
}

// mirrorLevel 极简的价格档位，省带宽
type mirrorLevel struct {
	Price string `json:"p"`
	Qty   string `json:"q"`
}

type mirrorPayload struct {
	Symbol       string        `json:"s"`
	LastUpdateID int64         `json:"u"`
	Timestamp    int64         `json:"t"`
	Bids         []mirrorLevel `json:"b"`
	Asks         []mirrorLevel `json:"a"`
}

func toMirrorLevels(levels []Level) []mirrorLevel {
	out := make([]mirrorLevel, 0, len(levels))
	for _, l := range levels {
		out = append(out, mirrorLevel{Price: l.Price.String(), Qty: l.Volume.String()})
	}
	return out
}

// Key is the Redis key the mirror writes to.
func (m *RedisMirror) Key() string {
	return m.key
}

// Mirror writes s with no expiry.
func (m *RedisMirror) Mirror(ctx context.Context, s Snapshot) error {
	data, err := json.Marshal(mirrorPayload{
		Symbol:       s.Symbol,
		LastUpdateID: s.LastUpdateID,
		Timestamp:    s.UpdatedAt.UnixMilli(),
		Bids:         toMirrorLevels(s.Bids),
		Asks:         toMirrorLevels(s.Asks),
	})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	rCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if err := m.rdb.Set(rCtx, m.key, data, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", m.key, err)
	}
	return nil
}
