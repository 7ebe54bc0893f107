package market

import (
	"log/slog"

	"github.com/p2psolar/market-engine/internal/model"
)

// EventKind names an orchestrator event.
type EventKind string

const (
	EventIntervalStarted EventKind = "interval_started"
	EventTrade           EventKind = "trade"
	EventRejection       EventKind = "rejection"
	EventIntervalCleared EventKind = "interval_cleared"
	EventPoolUpdated     EventKind = "pool_updated"
	EventRunFinished     EventKind = "run_finished"
)

// Event is delivered to observers. Only the fields relevant to Kind are set.
type Event struct {
	Kind      EventKind          `json:"kind"`
	RunID     string             `json:"run_id"`
	Interval  int                `json:"interval"`
	Exchange  model.ExchangeType `json:"exchange"`
	Trade     *model.Trade       `json:"trade,omitempty"`
	Rejection *Rejection         `json:"rejection,omitempty"`
	Pool      *model.PoolState   `json:"pool,omitempty"`
	Trades    int                `json:"trades,omitempty"`
	Volume    float64            `json:"volume,omitempty"`
	Reason    string             `json:"reason,omitempty"`

	// Volume-weighted price household sellers received, for the interval
	// (interval_cleared) or the whole run (run_finished).
	AverageSellerPrice float64 `json:"average_seller_price,omitempty"`
}

// Observer receives events synchronously from the run goroutine. Batch runs
// share observers across goroutines, so implementations must be safe for
// concurrent use.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// MultiObserver fans events out in order. Nil entries are skipped.
type MultiObserver []Observer

func (m MultiObserver) OnEvent(e Event) {
	for _, o := range m {
		if o != nil {
			o.OnEvent(e)
		}
	}
}

// SlogObserver logs events: per-trade detail at debug, summaries at info.
type SlogObserver struct {
	logger *slog.Logger
}

// NewSlogObserver returns an observer writing to logger, or slog.Default if nil.
func NewSlogObserver(logger *slog.Logger) *SlogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogObserver{logger: logger}
}

func (o *SlogObserver) OnEvent(e Event) {
	l := o.logger.With("run_id", e.RunID, "interval", e.Interval)
	switch e.Kind {
	case EventTrade:
		l.Debug("trade",
			"trade_id", e.Trade.ID,
			"buyer", e.Trade.BuyerID,
			"seller", e.Trade.SellerID,
			"quantity", e.Trade.Quantity,
			"unit_price", e.Trade.UnitPrice,
		)
	case EventRejection:
		l.Debug("order rejected",
			"household", e.Rejection.HouseholdID,
			"side", e.Rejection.Side,
			"quantity", e.Rejection.Quantity,
			"reason", e.Rejection.Reason,
		)
	case EventIntervalCleared:
		l.Info("interval cleared",
			"trades", e.Trades,
			"volume", e.Volume,
			"avg_seller_price", e.AverageSellerPrice,
			"reason", e.Reason,
		)
	case EventPoolUpdated:
		l.Debug("pool updated", "reserve_x", e.Pool.ReserveX, "reserve_y", e.Pool.ReserveY, "k", e.Pool.K)
	case EventRunFinished:
		l.Info("run finished",
			"exchange", e.Exchange,
			"trades", e.Trades,
			"volume", e.Volume,
			"avg_seller_price", e.AverageSellerPrice,
		)
	}
}
