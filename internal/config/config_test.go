package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/path/config.json")
	if err != nil {
		t.Fatalf("missing file should fall back to defaults: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" || cfg.Binance.Symbol != "BTCUSDT" || cfg.Feed.Mode != FeedModePoll {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.Feed.FetchInterval.Duration != time.Second || cfg.Feed.RequestTimeout.Duration != 5*time.Second {
		t.Errorf("unexpected feed timings %+v", cfg.Feed)
	}
	r := cfg.Rules()
	if !r.FeeRate.Equal(decimal.RequireFromString("0.001")) || !r.MinTradeUSDT.Equal(decimal.RequireFromString("10.1")) {
		t.Errorf("unexpected rules %+v", r)
	}
	if r.BTCPrecision != 8 || r.USDTPrecision != 8 || !cfg.Game.DefaultUSDT.Equal(decimal.NewFromInt(100)) {
		t.Errorf("unexpected precisions/default balance %+v", cfg.Game)
	}
}

func TestLoadConfig_FileValues(t *testing.T) {
	path := writeConfig(t, `{
		"http": {"addr": ":9000"},
		"feed": {"mode": "stream", "depth": 10, "reconnect_delay": "3s"},
		"game": {"fee_rate": "0.002", "min_trade_usdt": 5, "default_usdt": "250"},
		"redis": {"addr": "127.0.0.1:6379", "db": 2, "mirror_snapshot": true}
	}`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.HTTP.Addr != ":9000" || cfg.Feed.Mode != FeedModeStream || cfg.Feed.Depth != 10 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Feed.ReconnectDelay.Duration != 3*time.Second {
		t.Errorf("expected 3s reconnect delay, got %v", cfg.Feed.ReconnectDelay)
	}
	// 文件里没写的字段保留默认值
	if cfg.Feed.FetchInterval.Duration != time.Second {
		t.Errorf("unset field lost its default: %v", cfg.Feed.FetchInterval)
	}
	if !cfg.Game.FeeRate.Equal(decimal.RequireFromString("0.002")) || !cfg.Game.MinTradeUSDT.Equal(decimal.NewFromInt(5)) {
		t.Errorf("game values not applied: %+v", cfg.Game)
	}
	if !cfg.Redis.MirrorSnapshot || cfg.Redis.DB != 2 {
		t.Errorf("redis values not applied: %+v", cfg.Redis)
	}
}

func TestLoadConfig_EnvVarOverride(t *testing.T) {
	path := writeConfig(t, `{"binance": {"symbol": "ETHUSDT"}, "feed": {"depth": 20}}`)

	t.Setenv("BINANCE_SYMBOL", "btcusdt")
	t.Setenv("FEED_INTERVAL", "250ms")
	t.Setenv("GAME_FEE_RATE", "0")
	t.Setenv("GAME_BTC_PRECISION", "6")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("PORT", "5000")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Binance.Symbol != "BTCUSDT" {
		t.Errorf("env var should override symbol, got %s", cfg.Binance.Symbol)
	}
	if cfg.Feed.FetchInterval.Duration != 250*time.Millisecond {
		t.Errorf("env var should override interval, got %v", cfg.Feed.FetchInterval)
	}
	if !cfg.Game.FeeRate.IsZero() || cfg.Game.BTCPrecision != 6 {
		t.Errorf("env var should override game rules, got %+v", cfg.Game)
	}
	if cfg.Redis.Addr != "redis:6379" || cfg.HTTP.Addr != ":5000" {
		t.Errorf("unexpected redis/http %+v %+v", cfg.Redis, cfg.HTTP)
	}
	// 没有环境变量的字段保留文件值
	if cfg.Feed.Depth != 20 {
		t.Errorf("file value should remain when no env var set, got %d", cfg.Feed.Depth)
	}
}

func TestLoadConfig_HTTPAddrWinsOverPort(t *testing.T) {
	t.Setenv("PORT", "5000")
	t.Setenv("HTTP_ADDR", "127.0.0.1:7000")
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTP.Addr != "127.0.0.1:7000" {
		t.Errorf("expected HTTP_ADDR to win, got %s", cfg.HTTP.Addr)
	}
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	if _, err := LoadConfig(writeConfig(t, "{invalid json}")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestLoadConfig_BadDuration(t *testing.T) {
	if _, err := LoadConfig(writeConfig(t, `{"feed": {"fetch_interval": "soon"}}`)); err == nil {
		t.Error("expected error for bad duration")
	}
}

func TestLoadConfig_BadEnvValue(t *testing.T) {
	tests := map[string]string{
		"FEED_DEPTH":            "five",
		"FEED_TIMEOUT":          "5",
		"GAME_FEE_RATE":         "one percent",
		"REDIS_MIRROR_SNAPSHOT": "sometimes",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := LoadConfig("")
			if err == nil || !strings.Contains(err.Error(), key) {
				t.Errorf("expected error naming %s, got %v", key, err)
			}
		})
	}
}

func TestLoadConfig_PrecisionOutOfRange(t *testing.T) {
	// 4294967304 would wrap to 8 if narrowed to int32 unchecked
	for _, value := range []string{"4294967304", "-1", "19"} {
		t.Run(value, func(t *testing.T) {
			t.Setenv("GAME_BTC_PRECISION", value)
			_, err := LoadConfig("")
			if err == nil || !strings.Contains(err.Error(), "GAME_BTC_PRECISION") {
				t.Errorf("expected precision %s to be rejected, got %v", value, err)
			}
		})
	}

	t.Setenv("GAME_USDT_PRECISION", "4294967304")
	if _, err := LoadConfig(""); err == nil || !strings.Contains(err.Error(), "GAME_USDT_PRECISION") {
		t.Errorf("expected usdt precision to be rejected, got %v", err)
	}
}

func TestLoadConfig_NormalisesFileValues(t *testing.T) {
	path := writeConfig(t, `{
		"binance": {"symbol": " btcusdt "},
		"feed": {"mode": "Stream", "depth": 10},
		"log": {"level": "DEBUG", "format": "Text"}
	}`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("mixed-case file values should load: %v", err)
	}
	if cfg.Feed.Mode != FeedModeStream || cfg.Binance.Symbol != "BTCUSDT" {
		t.Errorf("file values not normalised: mode=%q symbol=%q", cfg.Feed.Mode, cfg.Binance.Symbol)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Errorf("log values not normalised: %+v", cfg.Log)
	}

	t.Setenv("FEED_MODE", "POLL")
	if cfg, err = LoadConfig(path); err != nil || cfg.Feed.Mode != FeedModePoll {
		t.Errorf("env mode should be normalised too, got %v %v", cfg, err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown mode", func(c *Config) { c.Feed.Mode = "carrier-pigeon" }},
		{"stream depth", func(c *Config) { c.Feed.Mode = FeedModeStream; c.Feed.Depth = 7 }},
		{"poll depth", func(c *Config) { c.Feed.Depth = 0 }},
		{"zero interval", func(c *Config) { c.Feed.FetchInterval.Duration = 0 }},
		{"fee of one", func(c *Config) { c.Game.FeeRate = decimal.NewFromInt(1) }},
		{"negative fee", func(c *Config) { c.Game.FeeRate = decimal.RequireFromString("-0.001") }},
		{"negative precision", func(c *Config) { c.Game.BTCPrecision = -1 }},
		{"negative default", func(c *Config) { c.Game.DefaultUSDT = decimal.NewFromInt(-1) }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"empty symbol", func(c *Config) { c.Binance.Symbol = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}
