package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"orbwatch/internal/arbitrage"
	"orbwatch/internal/cache"
	"orbwatch/internal/config"
	"orbwatch/internal/database"
	"orbwatch/internal/poller"
	"orbwatch/internal/scout"
	"orbwatch/internal/server"
)

func main() {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("cannot load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.URL())
	if err != nil {
		logger.Error("cannot connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	repo := &database.PostgresRepository{Pool: pool}
	if err := repo.Migrate(ctx); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	snapCache := cache.NewSnapshotCache(rdb)

	source, err := scout.NewSource(cfg.Scout.Source, logger, cfg.Scout)
	if err != nil {
		logger.Error("cannot create rate source", "error", err)
		os.Exit(1)
	}

	finder, err := arbitrage.NewFinder(arbitrage.Policy{
		MinProfitPct:    cfg.Arbitrage.MinProfitPercentage,
		Hops:            cfg.Arbitrage.Hops,
		SlippagePerStep: cfg.Arbitrage.SlippagePerStep,
		MaxResults:      cfg.Arbitrage.MaxResults,
	}, logger)
	if err != nil {
		logger.Error("invalid arbitrage policy", "error", err)
		os.Exit(1)
	}

	hub := server.NewHub(logger)

	p := poller.New(logger, source, snapCache, repo, finder, hub, poller.Config{
		Market:          cfg.Market,
		Interval:        time.Duration(cfg.Poller.IntervalSeconds) * time.Second,
		TTL:             time.Duration(cfg.Poller.TTLSeconds) * time.Second,
		WatchCurrencies: cfg.Arbitrage.WatchCurrencies,
		ScanAmount:      cfg.Arbitrage.ScanAmount,
	})

	handlers := server.NewHandlers(p, repo, finder.Policy(), defaultStart(cfg), logger)
	srv := server.NewServer(server.Config{
		Port:        cfg.Server.Port,
		CORSOrigins: cfg.Server.CORSOrigins,
	}, handlers, hub, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	go hub.Run(ctx)
	go p.Run(ctx)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
}

// defaultStart picks the starting currency for searches that do not name one.
func defaultStart(cfg config.Config) string {
	if len(cfg.Arbitrage.WatchCurrencies) > 0 {
		return cfg.Arbitrage.WatchCurrencies[0]
	}
	return "chaos"
}
