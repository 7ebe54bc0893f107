package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/p2psolar/market-engine/internal/model"
)

const sample = `
exchange_type: amm
seed: 7
n_runs: 4
amm_liquidity_k: 1000000
amm_fee: 0.003
households:
  - index: 0
    has_pv: true
    floor_area: 120
    wta: 0.10
    wtp: 0.30
    load: [1, 2, 3]
    production: [4, 0, 0, 1]
  - index: 1
    wta: 0.20
    wtp: 0.40
    load: [2, 2]
`

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.ExchangeType != model.ExchangeAMM || cfg.NRuns != 4 || cfg.Seed != 7 {
		t.Errorf("unexpected header fields: %+v", cfg)
	}
	if cfg.Intervals != 4 {
		t.Errorf("intervals should default to the longest series, got %d", cfg.Intervals)
	}
	if cfg.ForecastSigma == nil || *cfg.ForecastSigma != DefaultForecastSigma {
		t.Errorf("forecast sigma = %v", cfg.ForecastSigma)
	}
	if cfg.AMMMaxReserveFraction != DefaultMaxReserveFraction {
		t.Errorf("reserve fraction = %g", cfg.AMMMaxReserveFraction)
	}
	// mean of (0.1+0.3)/2 and (0.2+0.4)/2
	if cfg.AMMInitialPrice != 0.25 {
		t.Errorf("initial price = %g, want 0.25", cfg.AMMInitialPrice)
	}

	h := cfg.Households[0]
	if !h.HasPV || h.FloorArea != 120 || h.WTA != 0.10 || len(h.Production) != 4 {
		t.Errorf("household 0 decoded wrong: %+v", h)
	}
}

func TestParse_DefaultsToDoubleAuction(t *testing.T) {
	cfg, err := Parse([]byte("households:\n  - wta: 1\n    wtp: 2\n    load: [1]\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.ExchangeType != model.ExchangeDoubleAuction || cfg.NRuns != 1 || cfg.Intervals != 1 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want error
	}{
		{"no households", "intervals: 3\n", ErrNoHouseholds},
		{"no intervals", "households:\n  - wta: 1\n", ErrNoIntervals},
		{"unknown exchange", "exchange_type: cda\nhouseholds:\n  - load: [1]\n", nil},
		{"negative load", "households:\n  - load: [1, -1]\n", nil},
		{"amm without k", "exchange_type: amm\nhouseholds:\n  - wta: 1\n    load: [1]\n", nil},
		{"amm bad fee", "exchange_type: amm\namm_liquidity_k: 1\namm_fee: 1\nhouseholds:\n  - wta: 1\n    load: [1]\n", nil},
		{"negative sigma", "forecast_sigma: -0.1\nhouseholds:\n  - load: [1]\n", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestParse_ExplicitZeroSigmaKept(t *testing.T) {
	cfg, err := Parse([]byte("forecast_sigma: 0\nhouseholds:\n  - load: [1]\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.ForecastSigma == nil || *cfg.ForecastSigma != 0 || cfg.Sigma() != 0 {
		t.Errorf("explicit zero sigma replaced: %v", cfg.ForecastSigma)
	}

	var unset Simulation
	if unset.Sigma() != DefaultForecastSigma {
		t.Errorf("unset sigma = %g", unset.Sigma())
	}
}

func TestParse_HouseholdIndices(t *testing.T) {
	households := func(indices ...string) string {
		out := "households:\n"
		for _, idx := range indices {
			out += "  - " + idx + "load: [1]\n"
		}
		return out
	}

	tests := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{"in order", households("index: 0\n    ", "index: 1\n    ", "index: 2\n    "), false},
		{"omitted everywhere", households("", "", ""), false},
		{"duplicate", households("index: 0\n    ", "index: 0\n    ", "index: 2\n    "), true},
		{"same index twice", households("index: 7\n    ", "index: 7\n    "), true},
		{"out of order", households("index: 1\n    ", "index: 0\n    "), true},
		{"one based", households("index: 1\n    ", "index: 2\n    "), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			if tt.wantErr {
				if !errors.Is(err, ErrHouseholdIndex) {
					t.Errorf("expected ErrHouseholdIndex, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			for i, h := range cfg.Households {
				if h.Index != i {
					t.Errorf("household %d has index %d", i, h.Index)
				}
			}
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Households) != 2 {
		t.Errorf("expected 2 households, got %d", len(cfg.Households))
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("CACHE_TTL", "1m")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DATABASE_URL", "")

	s, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if s.Port != "9090" || s.CacheTTL != time.Minute || s.Logging.Level != "debug" || s.DatabaseURL != "" {
		t.Errorf("unexpected server config %+v", s)
	}

	t.Setenv("PORT", "http")
	if _, err := FromEnv(); err == nil {
		t.Error("expected error for non-numeric PORT")
	}
}
