package metrics

import (
	"sync"
	"time"

	"github.com/p2psolar/market-engine/internal/market"
)

type intervalKey struct {
	run      string
	interval int
}

// Observer feeds orchestrator events into the collectors above.
// It is safe to share across concurrent runs.
type Observer struct {
	mu      sync.Mutex
	started map[intervalKey]time.Time
}

// NewObserver creates a metrics observer.
func NewObserver() *Observer {
	return &Observer{started: make(map[intervalKey]time.Time)}
}

func (o *Observer) OnEvent(e market.Event) {
	ex := string(e.Exchange)
	switch e.Kind {
	case market.EventIntervalStarted:
		o.mu.Lock()
		o.started[intervalKey{e.RunID, e.Interval}] = time.Now()
		o.mu.Unlock()

	case market.EventTrade:
		TradesTotal.WithLabelValues(ex).Inc()
		EnergyTraded.WithLabelValues(ex).Add(e.Trade.Quantity)
		MoneyTraded.WithLabelValues(ex).Add(e.Trade.Value())

	case market.EventRejection:
		RejectionsTotal.WithLabelValues(ex, e.Rejection.Reason).Inc()

	case market.EventPoolUpdated:
		PoolReserve.WithLabelValues("x").Set(e.Pool.ReserveX)
		PoolReserve.WithLabelValues("y").Set(e.Pool.ReserveY)

	case market.EventIntervalCleared:
		key := intervalKey{e.RunID, e.Interval}
		o.mu.Lock()
		start, ok := o.started[key]
		delete(o.started, key)
		o.mu.Unlock()
		if ok {
			IntervalClearDuration.WithLabelValues(ex).Observe(time.Since(start).Seconds())
		}

	case market.EventRunFinished:
		RunsTotal.WithLabelValues(ex).Inc()
	}
}
