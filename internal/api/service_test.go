package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/p2psolar/market-engine/internal/api"
	"github.com/p2psolar/market-engine/internal/market"
	"github.com/p2psolar/market-engine/internal/model"
	"github.com/p2psolar/market-engine/internal/store"
)

// newTestEnv creates a Service with an in-memory store and chi router.
func newTestEnv(t *testing.T) (*store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	svc := api.NewService(ms, nil, nil)

	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)
	return ms, r
}

func simBody(exchange model.ExchangeType, runs int) map[string]any {
	return map[string]any{
		"exchange_type":       exchange,
		"n_runs":              runs,
		"perfect_forecasting": true,
		"amm_liquidity_k":     1e6,
		"households": []map[string]any{
			{"index": 0, "wta": 0.2, "wtp": 0.4, "load": []float64{3, 3}},
			{"index": 1, "has_pv": true, "wta": 0.1, "wtp": 0.3, "load": []float64{1, 1}, "production": []float64{4, 5}},
		},
	}
}

func do(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createRuns(t *testing.T, router chi.Router, body any) []store.RunRecord {
	t.Helper()
	w := do(t, router, "POST", "/api/v1/runs", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp api.CreateRunsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.Runs
}

// --- Run submission ---

func TestCreateRuns_DoubleAuction(t *testing.T) {
	_, router := newTestEnv(t)
	runs := createRuns(t, router, simBody(model.ExchangeDoubleAuction, 2))

	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID == runs[1].ID {
		t.Error("run ids must be distinct")
	}
	for _, run := range runs {
		if run.Exchange != model.ExchangeDoubleAuction || run.Intervals != 2 || run.Households != 2 {
			t.Errorf("unexpected run %+v", run)
		}
		// 3 kWh in each interval at the buyer's WTP of 0.4.
		if !run.Volume.Equal(decimal.NewFromInt(6)) || run.Trades != 2 {
			t.Errorf("volume/trades = %s/%d", run.Volume, run.Trades)
		}
	}

	w := do(t, router, "GET", "/api/v1/runs/"+runs[0].ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET run: %d %s", w.Code, w.Body.String())
	}
}

func TestCreateRuns_InvalidInput(t *testing.T) {
	_, router := newTestEnv(t)

	noHouseholds := simBody(model.ExchangeDoubleAuction, 1)
	delete(noHouseholds, "households")

	tooMany := simBody(model.ExchangeDoubleAuction, api.MaxRunsPerRequest+1)

	ammNoK := simBody(model.ExchangeAMM, 1)
	ammNoK["amm_liquidity_k"] = 0

	tests := []struct {
		name string
		body any
	}{
		{"malformed json", "{"},
		{"no households", noHouseholds},
		{"too many runs", tooMany},
		{"amm without liquidity", ammNoK},
		{"unknown exchange", map[string]any{"exchange_type": "cda", "households": []map[string]any{{"load": []float64{1}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, "POST", "/api/v1/runs", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestListRuns_FilterByExchange(t *testing.T) {
	_, router := newTestEnv(t)
	createRuns(t, router, simBody(model.ExchangeDoubleAuction, 1))
	createRuns(t, router, simBody(model.ExchangeAMM, 2))

	tests := []struct {
		query string
		want  int
	}{
		{"", 3},
		{"?exchange=amm", 2},
		{"?exchange=double_auction", 1},
	}
	for _, tt := range tests {
		w := do(t, router, "GET", "/api/v1/runs"+tt.query, nil)
		var runs []store.RunRecord
		json.Unmarshal(w.Body.Bytes(), &runs)
		if len(runs) != tt.want {
			t.Errorf("GET /runs%s: expected %d runs, got %d", tt.query, tt.want, len(runs))
		}
	}
}

// --- Archive reads ---

func TestGetTrades_IntervalFilter(t *testing.T) {
	_, router := newTestEnv(t)
	run := createRuns(t, router, simBody(model.ExchangeDoubleAuction, 1))[0]

	w := do(t, router, "GET", "/api/v1/runs/"+run.ID+"/trades?interval=1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var trades []store.TradeRecord
	json.Unmarshal(w.Body.Bytes(), &trades)
	if len(trades) != 1 || trades[0].Interval != 1 || trades[0].BuyerID != 0 || trades[0].SellerID != 1 {
		t.Errorf("unexpected trades %+v", trades)
	}

	w = do(t, router, "GET", "/api/v1/runs/"+run.ID+"/trades?interval=x", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad interval, got %d", w.Code)
	}
}

func TestGetIntervals_SellerPrices(t *testing.T) {
	_, router := newTestEnv(t)
	run := createRuns(t, router, simBody(model.ExchangeDoubleAuction, 1))[0]

	w := do(t, router, "GET", "/api/v1/runs/"+run.ID+"/intervals", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var ivs []store.IntervalRecord
	json.Unmarshal(w.Body.Bytes(), &ivs)
	if len(ivs) != 2 {
		t.Fatalf("expected 2 intervals, got %d", len(ivs))
	}
	// Household 1 sells 3 kWh each interval at household 0's WTP.
	for i, iv := range ivs {
		if iv.Interval != i || iv.Trades != 1 {
			t.Errorf("interval %d: unexpected %+v", i, iv)
		}
		if math.Abs(iv.AverageSellerPrice.InexactFloat64()-0.4) > 1e-9 ||
			math.Abs(iv.RunningAverageSellerPrice.InexactFloat64()-0.4) > 1e-9 {
			t.Errorf("interval %d prices = %s/%s, want 0.4", i, iv.AverageSellerPrice, iv.RunningAverageSellerPrice)
		}
	}
	if math.Abs(run.AverageSellerPrice.InexactFloat64()-0.4) > 1e-9 {
		t.Errorf("run average seller price = %s", run.AverageSellerPrice)
	}

	if w := do(t, router, "GET", "/api/v1/runs/missing/intervals", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown run, got %d", w.Code)
	}
}

func TestCreateRuns_HouseholdIndexMismatch(t *testing.T) {
	_, router := newTestEnv(t)
	body := simBody(model.ExchangeDoubleAuction, 1)
	body["households"].([]map[string]any)[0]["index"] = 1

	if w := do(t, router, "POST", "/api/v1/runs", body); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetLedgerEntry(t *testing.T) {
	_, router := newTestEnv(t)
	run := createRuns(t, router, simBody(model.ExchangeDoubleAuction, 1))[0]

	w := do(t, router, "GET", "/api/v1/runs/"+run.ID+"/ledger/1/0", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var e store.LedgerRecord
	json.Unmarshal(w.Body.Bytes(), &e)
	if !e.SoldQuantity.Equal(decimal.NewFromInt(3)) {
		t.Errorf("sold quantity = %s, want 3", e.SoldQuantity)
	}
	if math.Abs(e.SoldRevenue.InexactFloat64()-1.2) > 1e-9 {
		t.Errorf("sold revenue = %s, want 1.2", e.SoldRevenue)
	}

	tests := []struct {
		path string
		code int
	}{
		{"/ledger/0/0", http.StatusOK},
		{"/ledger/9/0", http.StatusNotFound},
		{"/ledger/a/0", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if w := do(t, router, "GET", "/api/v1/runs/"+run.ID+tt.path, nil); w.Code != tt.code {
			t.Errorf("GET %s: expected %d, got %d", tt.path, tt.code, w.Code)
		}
	}
}

func TestGetRun_NotFound(t *testing.T) {
	_, router := newTestEnv(t)
	for _, path := range []string{"/api/v1/runs/missing", "/api/v1/runs/missing/trades", "/api/v1/runs/missing/pool"} {
		if w := do(t, router, "GET", path, nil); w.Code != http.StatusNotFound {
			t.Errorf("GET %s: expected 404, got %d", path, w.Code)
		}
	}
}

// --- Pool ---

func TestPool_AuctionRunHasNone(t *testing.T) {
	_, router := newTestEnv(t)
	run := createRuns(t, router, simBody(model.ExchangeDoubleAuction, 1))[0]

	if w := do(t, router, "GET", "/api/v1/runs/"+run.ID+"/pool", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestPool_AMMSnapshotAndQuote(t *testing.T) {
	_, router := newTestEnv(t)
	run := createRuns(t, router, simBody(model.ExchangeAMM, 1))[0]

	w := do(t, router, "GET", "/api/v1/runs/"+run.ID+"/pool", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var pool store.PoolRecord
	json.Unmarshal(w.Body.Bytes(), &pool)
	if !pool.ReserveX.IsPositive() || !pool.ReserveY.IsPositive() {
		t.Errorf("unexpected pool %+v", pool)
	}

	w = do(t, router, "GET", "/api/v1/runs/"+run.ID+"/pool/quote?side=buy&token=x&qty=1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("quote: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var q api.QuoteResponse
	json.Unmarshal(w.Body.Bytes(), &q)
	if !q.Amount.IsPositive() || !q.UnitPrice.GreaterThan(q.SpotPrice) {
		t.Errorf("buying should cost more than spot: %+v", q)
	}

	tests := []struct {
		query string
		code  int
	}{
		{"side=hold&qty=1", http.StatusBadRequest},
		{"side=buy&qty=-1", http.StatusBadRequest},
		{"side=buy&qty=abc", http.StatusBadRequest},
		{"side=buy&token=x&qty=1e12", http.StatusConflict},
	}
	for _, tt := range tests {
		if w := do(t, router, "GET", "/api/v1/runs/"+run.ID+"/pool/quote?"+tt.query, nil); w.Code != tt.code {
			t.Errorf("quote %s: expected %d, got %d", tt.query, tt.code, w.Code)
		}
	}
}

// --- WebSocket ---

func TestWSHub_StreamsRunEvents(t *testing.T) {
	hub := api.NewWSHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.OnEvent(market.Event{Kind: market.EventIntervalStarted, RunID: "r"})
	hub.OnEvent(market.Event{Kind: market.EventRunFinished, RunID: "r", Trades: 7})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var e market.Event
	json.Unmarshal(data, &e)
	if e.Kind != market.EventRunFinished || e.Trades != 7 {
		t.Errorf("expected run_finished (interval_started is not streamed), got %+v", e)
	}
}
