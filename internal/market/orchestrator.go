// Package market drives a simulation run: it asks a SignalProvider for each
// household's position, clears every interval through an Exchange, and
// commits the outcome to a Ledger. Intervals run strictly in order; the
// ledger and pool after interval t are the inputs to interval t+1.
package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/p2psolar/market-engine/internal/ledger"
	"github.com/p2psolar/market-engine/internal/model"
)

// ErrAlreadyRun is returned when Run is called twice on one orchestrator.
var ErrAlreadyRun = errors.New("market: orchestrator already ran")

// Options wires an Orchestrator. Households[i].Index must be i: the index is
// both the signal id and the ledger row.
type Options struct {
	RunID      string
	Households []model.Household
	Provider   SignalProvider
	Exchange   Exchange
	Ledger     *ledger.Ledger
	Observer   Observer
}

// Orchestrator runs one simulation. It is single-use and not safe for
// concurrent use.
type Orchestrator struct {
	runID      string
	households []model.Household
	provider   SignalProvider
	exchange   Exchange
	ledger     *ledger.Ledger
	observer   Observer
	ran        bool
}

// New validates opts and returns an orchestrator.
func New(opts Options) (*Orchestrator, error) {
	switch {
	case opts.Provider == nil:
		return nil, errors.New("market: signal provider is required")
	case opts.Exchange == nil:
		return nil, errors.New("market: exchange is required")
	case opts.Ledger == nil:
		return nil, errors.New("market: ledger is required")
	case len(opts.Households) != opts.Ledger.Households():
		return nil, fmt.Errorf("market: %d households but ledger has %d rows",
			len(opts.Households), opts.Ledger.Households())
	}
	for i, h := range opts.Households {
		if h.Index != i {
			return nil, fmt.Errorf("market: household at position %d has index %d", i, h.Index)
		}
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.Observer == nil {
		opts.Observer = MultiObserver(nil)
	}
	return &Orchestrator{
		runID:      opts.RunID,
		households: opts.Households,
		provider:   opts.Provider,
		exchange:   opts.Exchange,
		ledger:     opts.Ledger,
		observer:   opts.Observer,
	}, nil
}

// RunID identifies the run in events and in the archive.
func (o *Orchestrator) RunID() string { return o.runID }

// Summary aggregates a finished run. AverageSellerPrice covers household
// sellers only; sales by the AMM pool are excluded.
type Summary struct {
	Trades             int     `json:"trades"`
	Volume             float64 `json:"volume"`
	Value              float64 `json:"value"`
	AverageSellerPrice float64 `json:"average_seller_price"`
	Rejections         int     `json:"rejections"`
}

// RunResult is the outcome of a completed run.
type RunResult struct {
	RunID      string             `json:"run_id"`
	Exchange   model.ExchangeType `json:"exchange"`
	Households []model.Household  `json:"households"`
	Intervals  []IntervalResult   `json:"intervals"`
	Trades     []model.Trade      `json:"-"`
	Rejections []Rejection        `json:"-"`
	Pool       *model.PoolState   `json:"pool,omitempty"`
	Ledger     *ledger.Ledger     `json:"-"`
	Summary    Summary            `json:"summary"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
}

// Signals builds the signal vector for interval t.
func (o *Orchestrator) Signals(t int) []model.HouseholdSignal {
	signals := make([]model.HouseholdSignal, len(o.households))
	for i, h := range o.households {
		signals[i] = model.HouseholdSignal{
			HouseholdID: h.Index,
			Demand:      o.provider.ForecastDemand(h.Index, t),
			Excess:      o.provider.ForecastExcess(h.Index, t),
			WTA:         h.WTA,
			WTP:         h.WTP,
		}
	}
	return signals
}

// Step clears a single interval and notifies the observer.
func (o *Orchestrator) Step(ctx context.Context, t int) (IntervalResult, error) {
	o.emit(Event{Kind: EventIntervalStarted, Interval: t})

	res, err := o.exchange.Clear(ctx, t, o.Signals(t), o.ledger)
	if err != nil {
		return res, fmt.Errorf("interval %d: %w", t, err)
	}
	res.AverageSellerPrice, _ = o.ledger.IntervalAverageSellerPrice(t)
	res.RunningAverageSellerPrice, _ = o.ledger.RunningAverageSellerPrice(t)

	for i := range res.Trades {
		o.emit(Event{Kind: EventTrade, Interval: t, Trade: &res.Trades[i]})
	}
	for i := range res.Rejections {
		o.emit(Event{Kind: EventRejection, Interval: t, Rejection: &res.Rejections[i]})
	}
	if res.Pool != nil {
		o.emit(Event{Kind: EventPoolUpdated, Interval: t, Pool: res.Pool})
	}
	o.emit(Event{
		Kind:     EventIntervalCleared,
		Interval: t,
		Trades:   len(res.Trades),
		Volume:   res.Volume(),
		Reason:   res.Reason,

		AverageSellerPrice: res.AverageSellerPrice,
	})
	return res, nil
}

// Run clears intervals 0..N-1 in order, N being the ledger's interval count.
// The first fatal error aborts the run; the context is checked between
// intervals.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	if o.ran {
		return nil, ErrAlreadyRun
	}
	o.ran = true

	out := &RunResult{
		RunID:      o.runID,
		Exchange:   o.exchange.Type(),
		Households: o.households,
		Ledger:     o.ledger,
		StartedAt:  time.Now().UTC(),
	}

	for t := 0; t < o.ledger.Intervals(); t++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := o.Step(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", o.runID, err)
		}
		out.Intervals = append(out.Intervals, res)
		out.Rejections = append(out.Rejections, res.Rejections...)
	}

	out.Trades = o.ledger.Trades()
	out.Pool = o.exchange.PoolState()
	out.FinishedAt = time.Now().UTC()
	out.Summary = summarize(out)

	o.emit(Event{
		Kind:     EventRunFinished,
		Interval: o.ledger.Intervals() - 1,
		Trades:   out.Summary.Trades,
		Volume:   out.Summary.Volume,

		AverageSellerPrice: out.Summary.AverageSellerPrice,
	})
	return out, nil
}

func summarize(r *RunResult) Summary {
	s := Summary{Trades: len(r.Trades), Rejections: len(r.Rejections)}
	for _, tr := range r.Trades {
		s.Volume += tr.Quantity
		s.Value += tr.Value()
	}
	if n := len(r.Intervals); n > 0 {
		s.AverageSellerPrice = r.Intervals[n-1].RunningAverageSellerPrice
	}
	return s
}

func (o *Orchestrator) emit(e Event) {
	e.RunID = o.runID
	e.Exchange = o.exchange.Type()
	o.observer.OnEvent(e)
}
