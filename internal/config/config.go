package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"BTCSpotGame/internal/settlement"
)

const (
	FeedModePoll   = "poll"
	FeedModeStream = "stream"
)

type Config struct {
	HTTP    HTTPConfig    `json:"http"`
	Binance BinanceConfig `json:"binance"`
	Feed    FeedConfig    `json:"feed"`
	Game    GameConfig    `json:"game"`
	Redis   RedisConfig   `json:"redis"`
	Log     LogConfig     `json:"log"`
}

type HTTPConfig struct {
	Addr string `json:"addr"`
}

// BinanceConfig 行情来源，只用公开接口，不需要 API key
type BinanceConfig struct {
	Symbol      string `json:"symbol"`
	RestBaseURL string `json:"rest_base_url"`
	WSBaseURL   string `json:"ws_base_url"`
}

type FeedConfig struct {
	Mode           string   `json:"mode"`
	Depth          int      `json:"depth"`
	FetchInterval  Duration `json:"fetch_interval"`
	RequestTimeout Duration `json:"request_timeout"`
	ReconnectDelay Duration `json:"reconnect_delay"`
}

// GameConfig 交易规则。金额全部用 decimal，避免浮点误差
type GameConfig struct {
	FeeRate       decimal.Decimal `json:"fee_rate"`
	MinTradeUSDT  decimal.Decimal `json:"min_trade_usdt"`
	BTCPrecision  int32           `json:"btc_precision"`
	USDTPrecision int32           `json:"usdt_precision"`
	DefaultUSDT   decimal.Decimal `json:"default_usdt"`
}

// RedisConfig 为空 Addr 时使用内存存储
type RedisConfig struct {
	Addr           string `json:"addr"`
	Password       string `json:"password"`
	DB             int    `json:"db"`
	MirrorSnapshot bool   `json:"mirror_snapshot"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Duration reads "1s" / "250ms" style strings from JSON.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"1s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Default returns the configuration used when neither file nor environment says otherwise.
func Default() Config {
	rules := settlement.DefaultRules()
	return Config{
		HTTP: HTTPConfig{Addr: ":8080"},
		Binance: BinanceConfig{
			Symbol:      "BTCUSDT",
			RestBaseURL: "https://api.binance.com",
			WSBaseURL:   "wss://stream.binance.com:9443",
		},
		Feed: FeedConfig{
			Mode:           FeedModePoll,
			Depth:          5,
			FetchInterval:  Duration{time.Second},
			RequestTimeout: Duration{5 * time.Second},
			ReconnectDelay: Duration{2 * time.Second},
		},
		Game: GameConfig{
			FeeRate:       rules.FeeRate,
			MinTradeUSDT:  rules.MinTradeUSDT,
			BTCPrecision:  rules.BTCPrecision,
			USDTPrecision: rules.USDTPrecision,
			DefaultUSDT:   decimal.NewFromInt(100),
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// LoadConfig 读取顺序：默认值 -> JSON 文件 -> 环境变量，最后校验。
// 文件不存在不算错误，只用默认值和环境变量。
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		file, err := os.Open(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			defer file.Close()
			if err := json.NewDecoder(file).Decode(&cfg); err != nil {
				return nil, fmt.Errorf("decode %s: %w", path, err)
			}
		}
	}

	// 环境变量优先级高于配置文件
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	if port := os.Getenv("PORT"); port != "" {
		c.HTTP.Addr = ":" + port
	}
	c.HTTP.Addr = getString("HTTP_ADDR", c.HTTP.Addr)

	c.Binance.Symbol = getString("BINANCE_SYMBOL", c.Binance.Symbol)
	c.Binance.RestBaseURL = getString("BINANCE_REST_URL", c.Binance.RestBaseURL)
	c.Binance.WSBaseURL = getString("BINANCE_WS_URL", c.Binance.WSBaseURL)

	c.Feed.Mode = getString("FEED_MODE", c.Feed.Mode)
	var err error
	if c.Feed.Depth, err = getInt("FEED_DEPTH", c.Feed.Depth); err != nil {
		return err
	}
	if c.Feed.FetchInterval.Duration, err = getDuration("FEED_INTERVAL", c.Feed.FetchInterval.Duration); err != nil {
		return err
	}
	if c.Feed.RequestTimeout.Duration, err = getDuration("FEED_TIMEOUT", c.Feed.RequestTimeout.Duration); err != nil {
		return err
	}
	if c.Feed.ReconnectDelay.Duration, err = getDuration("FEED_RECONNECT_DELAY", c.Feed.ReconnectDelay.Duration); err != nil {
		return err
	}

	if c.Game.FeeRate, err = getDecimal("GAME_FEE_RATE", c.Game.FeeRate); err != nil {
		return err
	}
	if c.Game.MinTradeUSDT, err = getDecimal("GAME_MIN_TRADE_USDT", c.Game.MinTradeUSDT); err != nil {
		return err
	}
	if c.Game.DefaultUSDT, err = getDecimal("GAME_DEFAULT_USDT", c.Game.DefaultUSDT); err != nil {
		return err
	}
	if c.Game.BTCPrecision, err = getPrecision("GAME_BTC_PRECISION", c.Game.BTCPrecision); err != nil {
		return err
	}
	if c.Game.USDTPrecision, err = getPrecision("GAME_USDT_PRECISION", c.Game.USDTPrecision); err != nil {
		return err
	}

	c.Redis.Addr = getString("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getString("REDIS_PASSWORD", c.Redis.Password)
	if c.Redis.DB, err = getInt("REDIS_DB", c.Redis.DB); err != nil {
		return err
	}
	if c.Redis.MirrorSnapshot, err = getBool("REDIS_MIRROR_SNAPSHOT", c.Redis.MirrorSnapshot); err != nil {
		return err
	}

	c.Log.Level = getString("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getString("LOG_FORMAT", c.Log.Format)
	return nil
}

// normalise makes file and environment values compare the same way.
func (c *Config) normalise() {
	c.Binance.Symbol = strings.ToUpper(strings.TrimSpace(c.Binance.Symbol))
	c.Feed.Mode = strings.ToLower(strings.TrimSpace(c.Feed.Mode))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
}

// Validate fails fast on anything that would make the feed or the game misbehave.
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	if c.Binance.Symbol == "" {
		return errors.New("binance.symbol is required")
	}

	switch c.Feed.Mode {
	case FeedModePoll:
		if c.Feed.Depth < 1 || c.Feed.Depth > 5000 {
			return fmt.Errorf("feed.depth %d must be in 1..5000 for poll mode", c.Feed.Depth)
		}
		if c.Binance.RestBaseURL == "" {
			return errors.New("binance.rest_base_url is required for poll mode")
		}
	case FeedModeStream:
		// partial depth streams only exist for these levels
		if c.Feed.Depth != 5 && c.Feed.Depth != 10 && c.Feed.Depth != 20 {
			return fmt.Errorf("feed.depth %d must be 5, 10 or 20 for stream mode", c.Feed.Depth)
		}
		if c.Binance.WSBaseURL == "" {
			return errors.New("binance.ws_base_url is required for stream mode")
		}
	default:
		return fmt.Errorf("feed.mode %q must be %q or %q", c.Feed.Mode, FeedModePoll, FeedModeStream)
	}
	if c.Feed.FetchInterval.Duration <= 0 || c.Feed.RequestTimeout.Duration <= 0 || c.Feed.ReconnectDelay.Duration <= 0 {
		return errors.New("feed intervals must be positive")
	}

	if err := c.Rules().Validate(); err != nil {
		return fmt.Errorf("game: %w", err)
	}
	if c.Game.DefaultUSDT.IsNegative() {
		return fmt.Errorf("game.default_usdt %s must not be negative", c.Game.DefaultUSDT)
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("log.format %q must be json or text", c.Log.Format)
	}
	return nil
}

// Rules converts the game section into settlement rules.
func (c *Config) Rules() settlement.Rules {
	return settlement.Rules{
		FeeRate:       c.Game.FeeRate,
		MinTradeUSDT:  c.Game.MinTradeUSDT,
		BTCPrecision:  c.Game.BTCPrecision,
		USDTPrecision: c.Game.USDTPrecision,
	}
}

func getString(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func getInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("convert %s value %q to int: %w", key, value, err)
	}
	return parsed, nil
}

// getPrecision range-checks before narrowing so that a huge value cannot wrap
// into a valid one.
func getPrecision(key string, fallback int32) (int32, error) {
	p, err := getInt(key, int(fallback))
	if err != nil {
		return 0, err
	}
	if p < 0 || p > settlement.MaxPrecision {
		return 0, fmt.Errorf("%s value %d must be in 0..%d", key, p, settlement.MaxPrecision)
	}
	return int32(p), nil
}

func getBool(key string, fallback bool) (bool, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("convert %s value %q to bool: %w", key, value, err)
	}
	return parsed, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("convert %s value %q to duration: %w", key, value, err)
	}
	return parsed, nil
}

func getDecimal(key string, fallback decimal.Decimal) (decimal.Decimal, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("convert %s value %q to decimal: %w", key, value, err)
	}
	return parsed, nil
}
