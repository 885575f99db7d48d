package wallet

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const (
	keyPrefix = "Wallet:"
	fieldUSDT = "usdt"
	fieldBTC  = "btc"
)

// RedisStore keeps each session's balance in a hash "Wallet:<session>" with
// decimal-string fields usdt and btc. Keys never expire.
type RedisStore struct {
	rdb redis.Cmdable
}

func NewRedisStore(rdb redis.Cmdable) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Get(ctx context.Context, session string) (Balance, bool, error) {
	if session == "" {
		return Balance{}, false, ErrEmptySession
	}
	key := keyPrefix + session
	vals, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return Balance{}, false, fmt.Errorf("hgetall %s: %w", key, err)
	}
	if len(vals) == 0 {
		return Balance{}, false, nil
	}

	usdt, err := parseField(vals, fieldUSDT)
	if err != nil {
		return Balance{}, false, fmt.Errorf("read %s: %w", key, err)
	}
	btc, err := parseField(vals, fieldBTC)
	if err != nil {
		return Balance{}, false, fmt.Errorf("read %s: %w", key, err)
	}
	return Balance{USDT: usdt, BTC: btc}, true, nil
}

func (s *RedisStore) Put(ctx context.Context, session string, b Balance) error {
	if session == "" {
		return ErrEmptySession
	}
	key := keyPrefix + session
	if err := s.rdb.HSet(ctx, key, fieldUSDT, b.USDT.String(), fieldBTC, b.BTC.String()).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", key, err)
	}
	return nil
}

// parseField treats a missing field as zero, the same way a missing cookie read as 0.
func parseField(vals map[string]string, field string) (decimal.Decimal, error) {
	raw, ok := vals[field]
	if !ok || raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("field %s=%q: %w", field, raw, err)
	}
	return d, nil
}
