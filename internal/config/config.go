// Package config loads simulation settings from YAML and server settings
// from the environment.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/p2psolar/market-engine/internal/logging"
	"github.com/p2psolar/market-engine/internal/model"
)

// Defaults applied by Simulation.ApplyDefaults.
const (
	DefaultForecastSigma      = 0.30
	DefaultMaxReserveFraction = 0.5
	DefaultRatioTolerance     = 1e-7
)

var (
	// ErrNoHouseholds is returned when a simulation lists no households.
	ErrNoHouseholds = errors.New("config: at least one household is required")

	// ErrNoIntervals is returned when neither intervals nor any series is given.
	ErrNoIntervals = errors.New("config: intervals must be positive")

	// ErrHouseholdIndex is returned when household indices are not 0..N-1 in
	// list order. The index is the household id and its ledger row.
	ErrHouseholdIndex = errors.New("config: household index must equal its position in the list")
)

// Simulation is the on-disk shape of one simulation configuration.
type Simulation struct {
	ExchangeType model.ExchangeType `yaml:"exchange_type" json:"exchange_type"`

	// Intervals defaults to the longest load/production series.
	Intervals int   `yaml:"intervals" json:"intervals"`
	NRuns     int   `yaml:"n_runs" json:"n_runs"`
	Seed      int64 `yaml:"seed" json:"seed"`

	PerfectForecasting bool     `yaml:"perfect_forecasting" json:"perfect_forecasting"`
	ForecastSigma      *float64 `yaml:"forecast_sigma" json:"forecast_sigma,omitempty"` // nil: default; 0: no noise

	AuctionMaxRounds int `yaml:"auction_max_rounds" json:"auction_max_rounds"`

	AMMLiquidityK         float64 `yaml:"amm_liquidity_k" json:"amm_liquidity_k"`
	AMMInitialPrice       float64 `yaml:"amm_initial_price" json:"amm_initial_price"` // 0: mean of (wta+wtp)/2
	AMMFee                float64 `yaml:"amm_fee" json:"amm_fee"`
	AMMRatioTolerance     float64 `yaml:"amm_ratio_tolerance" json:"amm_ratio_tolerance"`
	AMMMaxReserveFraction float64 `yaml:"amm_max_reserve_fraction" json:"amm_max_reserve_fraction"`
	AMMMaxPerHousehold    float64 `yaml:"amm_max_per_household" json:"amm_max_per_household"`

	Households []Household `yaml:"households" json:"households"`
}

// Household adds the per-interval load and production series to the fixed
// household parameters. Series shorter than the run are zero-padded.
type Household struct {
	model.Household `yaml:",inline"`
	Load            []float64 `yaml:"load" json:"load"`
	Production      []float64 `yaml:"production" json:"production"`
}

// Load reads, defaults and validates a YAML simulation file.
func Load(path string) (*Simulation, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML (JSON is valid YAML), applies defaults and validates.
func Parse(raw []byte) (*Simulation, error) {
	var cfg Simulation
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero-valued optional fields.
func (c *Simulation) ApplyDefaults() {
	if c.ExchangeType == "" {
		c.ExchangeType = model.ExchangeDoubleAuction
	}
	if c.NRuns <= 0 {
		c.NRuns = 1
	}
	// No index given anywhere: number households by position.
	if len(c.Households) > 1 && !c.anyIndex() {
		for i := range c.Households {
			c.Households[i].Index = i
		}
	}
	if c.Intervals == 0 {
		for _, h := range c.Households {
			c.Intervals = max(c.Intervals, len(h.Load), len(h.Production))
		}
	}
	if c.ForecastSigma == nil {
		sigma := DefaultForecastSigma
		c.ForecastSigma = &sigma
	}
	if c.AMMRatioTolerance == 0 {
		c.AMMRatioTolerance = DefaultRatioTolerance
	}
	if c.AMMMaxReserveFraction == 0 {
		c.AMMMaxReserveFraction = DefaultMaxReserveFraction
	}
	if c.AMMInitialPrice == 0 && len(c.Households) > 0 {
		var sum float64
		for _, h := range c.Households {
			sum += (h.WTA + h.WTP) / 2
		}
		c.AMMInitialPrice = sum / float64(len(c.Households))
	}
}

func (c *Simulation) anyIndex() bool {
	for _, h := range c.Households {
		if h.Index != 0 {
			return true
		}
	}
	return false
}

// Sigma is the forecast noise standard deviation, DefaultForecastSigma if unset.
func (c *Simulation) Sigma() float64 {
	if c.ForecastSigma == nil {
		return DefaultForecastSigma
	}
	return *c.ForecastSigma
}

// Validate checks the configuration for values the engines would reject.
func (c *Simulation) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if !c.ExchangeType.Valid() {
		return fmt.Errorf("config: unknown exchange_type %q", c.ExchangeType)
	}
	if len(c.Households) == 0 {
		return ErrNoHouseholds
	}
	if c.Intervals <= 0 {
		return ErrNoIntervals
	}
	if sigma := c.Sigma(); sigma < 0 || math.IsNaN(sigma) {
		return fmt.Errorf("config: forecast_sigma must be non-negative, got %g", sigma)
	}

	seen := make(map[int]bool, len(c.Households))
	for i, h := range c.Households {
		if seen[h.Index] {
			return fmt.Errorf("%w: duplicate index %d", ErrHouseholdIndex, h.Index)
		}
		seen[h.Index] = true
		if h.Index != i {
			return fmt.Errorf("%w: entry %d has index %d", ErrHouseholdIndex, i, h.Index)
		}
		if h.WTA < 0 || h.WTP < 0 {
			return fmt.Errorf("config: household %d: wta/wtp must be non-negative", i)
		}
		for t, v := range h.Load {
			if v < 0 {
				return fmt.Errorf("config: household %d: negative load at interval %d", i, t)
			}
		}
		for t, v := range h.Production {
			if v < 0 {
				return fmt.Errorf("config: household %d: negative production at interval %d", i, t)
			}
		}
	}

	if c.ExchangeType == model.ExchangeAMM {
		if c.AMMLiquidityK <= 0 {
			return fmt.Errorf("config: amm_liquidity_k must be positive, got %g", c.AMMLiquidityK)
		}
		if c.AMMInitialPrice <= 0 {
			return fmt.Errorf("config: amm_initial_price must be positive, got %g", c.AMMInitialPrice)
		}
		if c.AMMFee < 0 || c.AMMFee >= 1 {
			return fmt.Errorf("config: amm_fee must be in [0, 1), got %g", c.AMMFee)
		}
	}
	return nil
}

// Server holds process settings read from the environment.
type Server struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	CacheTTL    time.Duration
	Logging     logging.Config
}

// FromEnv reads PORT, DATABASE_URL, REDIS_URL, CACHE_TTL, LOG_LEVEL and LOG_FILE.
func FromEnv() (Server, error) {
	s := Server{
		Port:        os.Getenv("PORT"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		CacheTTL:    30 * time.Second,
		Logging: logging.Config{
			Level: os.Getenv("LOG_LEVEL"),
			File:  os.Getenv("LOG_FILE"),
		},
	}
	if s.Port == "" {
		s.Port = "8080"
	}
	if _, err := strconv.Atoi(s.Port); err != nil {
		return Server{}, fmt.Errorf("config: invalid PORT %q", s.Port)
	}
	if ttl := os.Getenv("CACHE_TTL"); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			return Server{}, fmt.Errorf("config: invalid CACHE_TTL: %w", err)
		}
		s.CacheTTL = d
	}
	return s, nil
}
