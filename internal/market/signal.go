package market

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// SignalProvider forecasts each household's position for an interval.
// Values are gross; exchanges net them against the ledger.
type SignalProvider interface {
	ForecastDemand(household, interval int) float64
	ForecastExcess(household, interval int) float64
}

// ForecastOptions controls production forecast error.
type ForecastOptions struct {
	Perfect bool
	Sigma   float64
	Seed    int64
}

// SeriesProvider derives signals from per-household load and production
// series. Missing samples read as zero.
type SeriesProvider struct {
	load       [][]float64
	production [][]float64
}

// NewSeriesProvider copies the series and, unless opts.Perfect, scales every
// production sample by a draw from N(1, Sigma) clipped at zero. The draws are
// fixed at construction so a run is reproducible from its seed.
func NewSeriesProvider(load, production [][]float64, opts ForecastOptions) (*SeriesProvider, error) {
	if len(load) != len(production) {
		return nil, fmt.Errorf("market: %d load series but %d production series", len(load), len(production))
	}
	if opts.Sigma < 0 {
		return nil, errors.New("market: forecast sigma must be non-negative")
	}

	var rng *rand.Rand
	if !opts.Perfect && opts.Sigma > 0 {
		rng = rand.New(rand.NewSource(opts.Seed))
	}

	p := &SeriesProvider{
		load:       make([][]float64, len(load)),
		production: make([][]float64, len(production)),
	}
	for h := range load {
		p.load[h] = append([]float64(nil), load[h]...)
		p.production[h] = make([]float64, len(production[h]))
		for t, v := range production[h] {
			if rng != nil {
				v *= math.Max(0, 1+opts.Sigma*rng.NormFloat64())
			}
			p.production[h][t] = v
		}
	}
	return p, nil
}

func sample(series [][]float64, h, t int) float64 {
	if h < 0 || h >= len(series) || t < 0 || t >= len(series[h]) {
		return 0
	}
	return series[h][t]
}

// ForecastDemand returns max(load - production, 0).
func (p *SeriesProvider) ForecastDemand(household, interval int) float64 {
	return math.Max(sample(p.load, household, interval)-sample(p.production, household, interval), 0)
}

// ForecastExcess returns max(production - load, 0).
func (p *SeriesProvider) ForecastExcess(household, interval int) float64 {
	return math.Max(sample(p.production, household, interval)-sample(p.load, household, interval), 0)
}
