package market

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/p2psolar/market-engine/internal/amm"
	"github.com/p2psolar/market-engine/internal/auction"
	"github.com/p2psolar/market-engine/internal/config"
	"github.com/p2psolar/market-engine/internal/ledger"
	"github.com/p2psolar/market-engine/internal/limits"
	"github.com/p2psolar/market-engine/internal/model"
)

// Build assembles run number run of cfg with fresh ledger and pool state.
// The forecast seed is cfg.Seed+run so runs differ but stay reproducible.
func Build(cfg *config.Simulation, run int, obs Observer, logger *slog.Logger) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	households := make([]model.Household, len(cfg.Households))
	load := make([][]float64, len(cfg.Households))
	production := make([][]float64, len(cfg.Households))
	for i, h := range cfg.Households {
		households[i] = h.Household
		load[i] = h.Load
		if h.HasPV {
			production[i] = h.Production
		}
	}

	provider, err := NewSeriesProvider(load, production, ForecastOptions{
		Perfect: cfg.PerfectForecasting,
		Sigma:   cfg.Sigma(),
		Seed:    cfg.Seed + int64(run),
	})
	if err != nil {
		return nil, err
	}

	book, err := ledger.New(len(households), cfg.Intervals)
	if err != nil {
		return nil, err
	}

	exchange, err := newExchange(cfg, logger)
	if err != nil {
		return nil, err
	}

	return New(Options{
		Households: households,
		Provider:   provider,
		Exchange:   exchange,
		Ledger:     book,
		Observer:   obs,
	})
}

func newExchange(cfg *config.Simulation, logger *slog.Logger) (Exchange, error) {
	switch cfg.ExchangeType {
	case model.ExchangeDoubleAuction:
		engine := auction.NewEngine(auction.Config{
			MaxRounds: cfg.AuctionMaxRounds,
			Hook: func(e auction.Event) {
				if e.Trade == nil {
					logger.Debug("auction stopped", "interval", e.Interval, "rounds", e.Round, "reason", e.Reason)
				}
			},
		})
		return NewAuctionExchange(engine), nil

	case model.ExchangeAMM:
		pool, err := amm.NewPool(
			amm.WithFee(cfg.AMMFee),
			amm.WithRatioTolerance(cfg.AMMRatioTolerance),
			amm.WithHook(func(e amm.Event) {
				if e.Err != nil {
					logger.Warn("pool operation failed", "op", e.Op, "error", e.Err)
				}
			}),
		)
		if err != nil {
			return nil, err
		}
		x, y, err := amm.SizeForPrice(cfg.AMMLiquidityK, cfg.AMMInitialPrice)
		if err != nil {
			return nil, err
		}
		if _, err := pool.Setup(x, y); err != nil {
			return nil, err
		}
		limiter := limits.NewTradeLimiter(cfg.AMMMaxReserveFraction, cfg.AMMMaxPerHousehold)
		return NewAMMExchange(pool, limiter), nil
	}
	return nil, fmt.Errorf("market: unknown exchange type %q", cfg.ExchangeType)
}

// RunBatch executes cfg.NRuns independent runs in parallel. Each run owns
// its ledger and pool; results are indexed by run number. The first failing
// run cancels the rest.
func RunBatch(ctx context.Context, cfg *config.Simulation, obs Observer, logger *slog.Logger) ([]*RunResult, error) {
	n := max(cfg.NRuns, 1)
	results := make([]*RunResult, n)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			orch, err := Build(cfg, i, obs, logger)
			if err != nil {
				return fmt.Errorf("run %d: %w", i, err)
			}
			res, err := orch.Run(ctx)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
