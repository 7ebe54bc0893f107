// Package api exposes simulation runs over HTTP: submit a configuration,
// then read back the archived summary, trades, ledger rows and pool state.
//
// Simulation math is float64; every quantity leaving this package is
// converted to shopspring/decimal first.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/p2psolar/market-engine/internal/amm"
	"github.com/p2psolar/market-engine/internal/config"
	"github.com/p2psolar/market-engine/internal/market"
	"github.com/p2psolar/market-engine/internal/metrics"
	"github.com/p2psolar/market-engine/internal/model"
	"github.com/p2psolar/market-engine/internal/store"
)

// MaxRunsPerRequest bounds n_runs for a single POST.
const MaxRunsPerRequest = 64

// Service runs simulations on request and serves the archive.
type Service struct {
	store    store.Store
	observer market.Observer
	logger   *slog.Logger
}

// NewService creates a new API service. obs receives every run event; pass
// nil if nothing beyond logging is needed.
func NewService(st store.Store, obs market.Observer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    st,
		observer: market.MultiObserver{market.NewSlogObserver(logger), obs},
		logger:   logger,
	}
}

// Routes mounts the handlers on r. Callers add /ws separately.
func (s *Service) Routes(r chi.Router) {
	r.Post("/runs", s.CreateRuns)
	r.Get("/runs", s.ListRuns)
	r.Get("/runs/{runID}", s.GetRun)
	r.Get("/runs/{runID}/intervals", s.GetIntervals)
	r.Get("/runs/{runID}/trades", s.GetTrades)
	r.Get("/runs/{runID}/ledger/{household}/{interval}", s.GetLedgerEntry)
	r.Get("/runs/{runID}/pool", s.GetPool)
	r.Get("/runs/{runID}/pool/quote", s.QuotePool)
}

// CreateRunsResponse is returned from POST /runs.
type CreateRunsResponse struct {
	Runs []store.RunRecord `json:"runs"`
}

// CreateRuns handles POST /api/v1/runs
// Runs the posted simulation n_runs times and archives every result.
func (s *Service) CreateRuns(w http.ResponseWriter, r *http.Request) {
	var cfg config.Simulation
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if cfg.NRuns > MaxRunsPerRequest {
		writeError(w, "n_runs exceeds "+strconv.Itoa(MaxRunsPerRequest), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	metrics.ActiveRuns.Add(float64(cfg.NRuns))
	results, err := market.RunBatch(ctx, &cfg, s.observer, s.logger)
	metrics.ActiveRuns.Sub(float64(cfg.NRuns))
	if err != nil {
		s.logger.Error("simulation failed", "exchange", cfg.ExchangeType, "err", err)
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	resp := CreateRunsResponse{Runs: make([]store.RunRecord, 0, len(results))}
	for _, res := range results {
		if err := store.Archive(ctx, s.store, res); err != nil {
			writeError(w, "failed to archive run", http.StatusInternalServerError)
			return
		}
		resp.Runs = append(resp.Runs, *store.NewRunRecord(res))
	}

	s.logger.Info("runs completed",
		"exchange", cfg.ExchangeType,
		"runs", len(results),
		"households", len(cfg.Households),
		"intervals", cfg.Intervals,
	)

	writeJSON(w, http.StatusCreated, resp)
}

// ListRuns handles GET /api/v1/runs
// Optionally filtered by ?exchange=amm|double_auction.
func (s *Service) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context())
	if err != nil {
		writeError(w, "failed to list runs", http.StatusInternalServerError)
		return
	}

	filtered := make([]store.RunRecord, 0, len(runs))
	ex := model.ExchangeType(r.URL.Query().Get("exchange"))
	for _, run := range runs {
		if ex == "" || run.Exchange == ex {
			filtered = append(filtered, run)
		}
	}
	writeJSON(w, http.StatusOK, filtered)
}

// GetRun handles GET /api/v1/runs/{runID}
func (s *Service) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// GetIntervals handles GET /api/v1/runs/{runID}/intervals
// Returns per-interval volume and the interval and running average seller prices.
func (s *Service) GetIntervals(w http.ResponseWriter, r *http.Request) {
	ivs, err := s.store.GetIntervals(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if ivs == nil {
		ivs = []store.IntervalRecord{}
	}
	writeJSON(w, http.StatusOK, ivs)
}

// GetTrades handles GET /api/v1/runs/{runID}/trades
// Optionally filtered by ?interval=N.
func (s *Service) GetTrades(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := chi.URLParam(r, "runID")

	if _, err := s.store.GetRun(ctx, runID); err != nil {
		writeStoreError(w, err)
		return
	}
	trades, err := s.store.GetTrades(ctx, runID)
	if err != nil {
		writeError(w, "failed to load trades", http.StatusInternalServerError)
		return
	}

	if q := r.URL.Query().Get("interval"); q != "" {
		interval, err := strconv.Atoi(q)
		if err != nil {
			writeError(w, "interval must be an integer", http.StatusBadRequest)
			return
		}
		var filtered []store.TradeRecord
		for _, tr := range trades {
			if tr.Interval == interval {
				filtered = append(filtered, tr)
			}
		}
		trades = filtered
	}
	if trades == nil {
		trades = []store.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// GetLedgerEntry handles GET /api/v1/runs/{runID}/ledger/{household}/{interval}
func (s *Service) GetLedgerEntry(w http.ResponseWriter, r *http.Request) {
	household, err1 := strconv.Atoi(chi.URLParam(r, "household"))
	interval, err2 := strconv.Atoi(chi.URLParam(r, "interval"))
	if err1 != nil || err2 != nil {
		writeError(w, "household and interval must be integers", http.StatusBadRequest)
		return
	}

	e, err := s.store.GetLedgerEntry(r.Context(), chi.URLParam(r, "runID"), household, interval)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// GetPool handles GET /api/v1/runs/{runID}/pool
func (s *Service) GetPool(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetPoolState(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// QuoteResponse is returned from GET /runs/{runID}/pool/quote.
type QuoteResponse struct {
	Side      model.Side      `json:"side"`
	Token     model.Token     `json:"token"`
	Quantity  decimal.Decimal `json:"quantity"`
	Amount    decimal.Decimal `json:"amount"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	SpotPrice decimal.Decimal `json:"spot_price"`
}

// QuotePool handles GET /api/v1/runs/{runID}/pool/quote?side=buy&token=x&qty=5
// Quotes against the run's final pool without changing anything.
func (s *Service) QuotePool(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	side, token := model.Side(q.Get("side")), model.Token(q.Get("token"))
	if token == "" {
		token = model.TokenX
	}
	qty, err := decimal.NewFromString(q.Get("qty"))
	if err != nil || !qty.IsPositive() {
		writeError(w, "qty must be a positive number", http.StatusBadRequest)
		return
	}

	rec, err := s.store.GetPoolState(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	pool, err := amm.Restore(model.PoolState{
		ReserveX: rec.ReserveX.InexactFloat64(),
		ReserveY: rec.ReserveY.InexactFloat64(),
		LPTokens: rec.LPTokens.InexactFloat64(),
		FeeRate:  rec.FeeRate.InexactFloat64(),
	})
	if err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	amount, err := pool.Quote(side, token, qty.InexactFloat64())
	switch {
	case errors.Is(err, amm.ErrUnknownSide), errors.Is(err, amm.ErrUnknownToken):
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		writeError(w, err.Error(), http.StatusConflict)
		return
	}
	spot, _ := pool.SpotPrice()

	writeJSON(w, http.StatusOK, QuoteResponse{
		Side:      side,
		Token:     token,
		Quantity:  qty,
		Amount:    decimal.NewFromFloat(amount),
		UnitPrice: decimal.NewFromFloat(amount).Div(qty),
		SpotPrice: decimal.NewFromFloat(spot),
	})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	writeError(w, "archive unavailable", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
