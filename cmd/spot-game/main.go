package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"BTCSpotGame/internal/binance"
	"BTCSpotGame/internal/broadcast"
	"BTCSpotGame/internal/config"
	"BTCSpotGame/internal/feed"
	"BTCSpotGame/internal/game"
	"BTCSpotGame/internal/httpapi"
	"BTCSpotGame/internal/orderbook"
	"BTCSpotGame/internal/wallet"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON config file (optional)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	// .env is optional; real environment variables still win
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.WithError(err).Warn("failed to read .env")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	configureLogger(logger, cfg.Log)

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			logger.Fatalf("failed to connect to redis: %v", err)
		}
		defer rdb.Close()
		logger.WithField("addr", cfg.Redis.Addr).Info("redis connected")
	}

	var wallets wallet.Store
	if rdb != nil {
		wallets = wallet.NewRedisStore(rdb)
	} else {
		wallets = wallet.NewMemoryStore()
		logger.Warn("no redis configured, balances live in memory and are lost on restart")
	}

	book := orderbook.NewStore()
	hub := broadcast.NewHub(logger)
	runner := newFeed(cfg, book, hub, rdb, logger)

	svc := game.NewService(wallets, book, hub, cfg.Rules(), cfg.Game.DefaultUSDT, logger)
	handler := httpapi.NewHandler(svc, book, hub, runner, cfg.Binance.Symbol, logger)

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return runner.Run(gctx)
	})
	g.Go(func() error {
		logger.Infof("HTTP server listening on %s", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	logger.WithFields(logrus.Fields{
		"symbol": cfg.Binance.Symbol,
		"mode":   cfg.Feed.Mode,
		"depth":  cfg.Feed.Depth,
	}).Info("spot game started")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("spot game stopped with error: %v", err)
	}
	logger.Info("spot game stopped")
}

func newFeed(cfg *config.Config, book *orderbook.Store, hub *broadcast.Hub, rdb *redis.Client, logger *logrus.Logger) feed.Runner {
	log := logger.WithField("component", "feed")
	opts := feed.Options{
		Symbol:   cfg.Binance.Symbol,
		Depth:    cfg.Feed.Depth,
		Interval: cfg.Feed.FetchInterval.Duration,
		Timeout:  cfg.Feed.RequestTimeout.Duration,
	}

	var mirror feed.Mirror
	if rdb != nil && cfg.Redis.MirrorSnapshot {
		mirror = orderbook.NewRedisMirror(rdb, cfg.Binance.Symbol, 50*time.Millisecond)
	}

	if cfg.Feed.Mode == config.FeedModeStream {
		opts.Interval = cfg.Feed.ReconnectDelay.Duration
		url := binance.StreamURL(cfg.Binance.WSBaseURL, cfg.Binance.Symbol, cfg.Feed.Depth)
		s := feed.NewStreamer(url, book, hub, opts, log)
		if mirror != nil {
			s.WithMirror(mirror)
		}
		return s
	}

	client := binance.NewDepthClient(cfg.Binance.RestBaseURL, cfg.Feed.RequestTimeout.Duration)
	p := feed.NewPoller(client, book, hub, opts, log)
	if mirror != nil {
		p.WithMirror(mirror)
	}
	return p
}

func configureLogger(logger *logrus.Logger, cfg config.LogConfig) {
	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	// already validated
	level, _ := logrus.ParseLevel(cfg.Level)
	logger.SetLevel(level)
}
