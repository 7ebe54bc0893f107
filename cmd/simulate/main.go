// Command simulate runs a market configuration from a YAML file and prints
// one JSON summary per run. With -database-url the runs are also archived.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/p2psolar/market-engine/internal/config"
	"github.com/p2psolar/market-engine/internal/logging"
	"github.com/p2psolar/market-engine/internal/market"
	"github.com/p2psolar/market-engine/internal/model"
	"github.com/p2psolar/market-engine/internal/store"
)

func main() {
	var (
		cfgPath  = flag.String("config", "sim.yaml", "simulation config yaml path")
		runs     = flag.Int("runs", 0, "override n_runs from the config")
		exchange = flag.String("exchange", "", "override exchange_type (double_auction or amm)")
		dbURL    = flag.String("database-url", os.Getenv("DATABASE_URL"), "archive runs to this PostgreSQL database")
		logLevel = flag.String("log-level", getenv("LOG_LEVEL", "info"), "debug, info, warn or error")
		logFile  = flag.String("log-file", os.Getenv("LOG_FILE"), "also write logs to this rotated file")
	)
	flag.Parse()

	logger, closer := logging.New(logging.Config{Level: *logLevel, File: *logFile})
	defer closer.Close()
	slog.SetDefault(logger)

	if err := run(*cfgPath, *runs, *exchange, *dbURL, logger); err != nil {
		logger.Error("simulation failed", "err", err)
		closer.Close()
		os.Exit(1)
	}
}

func run(cfgPath string, runs int, exchange, dbURL string, logger *slog.Logger) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if runs > 0 {
		cfg.NRuns = runs
	}
	if exchange != "" {
		cfg.ExchangeType = model.ExchangeType(exchange)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	results, err := market.RunBatch(ctx, cfg, market.NewSlogObserver(logger), logger)
	if err != nil {
		return err
	}

	if dbURL != "" {
		pool, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer pool.Close()
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		for _, res := range results {
			if err := store.Archive(ctx, pg, res); err != nil {
				return fmt.Errorf("archive run %s: %w", res.RunID, err)
			}
		}
		logger.Info("runs archived", "count", len(results))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, res := range results {
		if err := enc.Encode(store.NewRunRecord(res)); err != nil {
			return err
		}
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
