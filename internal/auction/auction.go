// Package auction implements the pay-as-bid double auction that clears the
// local energy market once per interval.
//
// Buyers are households with residual demand, ranked by willingness to pay
// (highest first). Sellers are households with residual excess, ranked by
// willingness to accept (lowest first). Ties go to the lower household id.
// The k-th buyer is paired with the k-th seller; a pair trades
// min(excess, demand) at the buyer's WTP when WTA <= WTP.
//
// Residuals are always computed against the ledger, so clearing the same
// interval twice never double-counts what was already traded.
package auction

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/p2psolar/market-engine/internal/model"
)

// ErrDuplicateHousehold is returned when two signals share a household id.
var ErrDuplicateHousehold = errors.New("auction: duplicate household signal")

// Reason explains why a clearing pass stopped.
type Reason string

const (
	ReasonNoDemand   Reason = "no_demand"
	ReasonNoExcess   Reason = "no_excess"
	ReasonNoCrossing Reason = "no_crossing"
	ReasonRoundLimit Reason = "round_limit"
)

// Book is the ledger view the engine needs.
type Book interface {
	Sold(household, interval int) (qty, revenue float64, err error)
	Bought(household, interval int) (qty, expenditure float64, err error)
	RecordTrade(tr model.Trade) error
}

// Event is emitted for every trade and once at termination.
type Event struct {
	Interval int
	Round    int
	Trade    *model.Trade
	Reason   Reason
}

// Hook receives engine events.
type Hook func(Event)

// Config configures the engine.
//
// MaxRounds caps the number of matching passes per Clear call. 0 means one
// pass. A negative value repeats until a termination condition holds; every
// pass that trades zeroes at least one participant and a pass without trades
// ends the call, so this always terminates.
type Config struct {
	MaxRounds int
	Hook      Hook
}

// Engine holds no inventory; all state lives in the Book.
type Engine struct {
	maxRounds int
	hook      Hook
}

// NewEngine creates a clearing engine.
func NewEngine(cfg Config) *Engine {
	rounds := cfg.MaxRounds
	if rounds == 0 {
		rounds = 1
	}
	return &Engine{maxRounds: rounds, hook: cfg.Hook}
}

// Report summarises one Clear call.
type Report struct {
	Interval int           `json:"interval"`
	Rounds   int           `json:"rounds"`
	Trades   []model.Trade `json:"trades"`
	Reason   Reason        `json:"reason"`
}

// Volume is the total energy traded.
func (r Report) Volume() float64 {
	var v float64
	for _, tr := range r.Trades {
		v += tr.Quantity
	}
	return v
}

type participant struct {
	id    int
	price float64 // WTP for buyers, WTA for sellers
	qty   float64 // residual demand or excess
}

// Clear matches buyers and sellers for interval and records every trade in
// book. Invalid signals are rejected before anything is written.
func (e *Engine) Clear(interval int, signals []model.HouseholdSignal, book Book) (Report, error) {
	seen := make(map[int]bool, len(signals))
	for _, s := range signals {
		if err := s.Validate(); err != nil {
			return Report{}, err
		}
		if seen[s.HouseholdID] {
			return Report{}, fmt.Errorf("%w: %d", ErrDuplicateHousehold, s.HouseholdID)
		}
		seen[s.HouseholdID] = true
	}

	rep := Report{Interval: interval}
	for {
		buyers, sellers, err := residuals(interval, signals, book)
		if err != nil {
			return rep, err
		}

		if reason, done := terminated(buyers, sellers); done {
			rep.Reason = reason
			break
		}
		if e.maxRounds > 0 && rep.Rounds >= e.maxRounds {
			rep.Reason = ReasonRoundLimit
			break
		}

		rep.Rounds++
		trades, err := e.pass(interval, rep.Rounds, buyers, sellers, book)
		rep.Trades = append(rep.Trades, trades...)
		if err != nil {
			return rep, err
		}
		if len(trades) == 0 {
			// Only self-pairs crossed.
			rep.Reason = ReasonNoCrossing
			break
		}
	}

	e.emit(Event{Interval: interval, Round: rep.Rounds, Reason: rep.Reason})
	return rep, nil
}

func (e *Engine) pass(interval, round int, buyers, sellers []participant, book Book) ([]model.Trade, error) {
	var trades []model.Trade
	n := min(len(buyers), len(sellers))
	for k := 0; k < n; k++ {
		b, s := buyers[k], sellers[k]
		if s.price > b.price || b.id == s.id {
			continue
		}
		tr := model.Trade{
			ID:        uuid.New().String(),
			Interval:  interval,
			BuyerID:   b.id,
			SellerID:  s.id,
			Quantity:  min(s.qty, b.qty),
			UnitPrice: b.price,
			Exchange:  model.ExchangeDoubleAuction,
		}
		if err := book.RecordTrade(tr); err != nil {
			return trades, fmt.Errorf("record trade %d->%d: %w", s.id, b.id, err)
		}
		trades = append(trades, tr)
		e.emit(Event{Interval: interval, Round: round, Trade: &tr})
	}
	return trades, nil
}

// residuals returns buyers and sellers ranked for pairing, with quantities
// net of what the book already holds for this interval.
func residuals(interval int, signals []model.HouseholdSignal, book Book) ([]participant, []participant, error) {
	var buyers, sellers []participant
	for _, s := range signals {
		bought, _, err := book.Bought(s.HouseholdID, interval)
		if err != nil {
			return nil, nil, err
		}
		sold, _, err := book.Sold(s.HouseholdID, interval)
		if err != nil {
			return nil, nil, err
		}
		if d := max(s.Demand-bought, 0); d > 0 {
			buyers = append(buyers, participant{id: s.HouseholdID, price: s.WTP, qty: d})
		}
		if x := max(s.Excess-sold, 0); x > 0 {
			sellers = append(sellers, participant{id: s.HouseholdID, price: s.WTA, qty: x})
		}
	}

	sort.SliceStable(buyers, func(i, j int) bool {
		if buyers[i].price != buyers[j].price {
			return buyers[i].price > buyers[j].price
		}
		return buyers[i].id < buyers[j].id
	})
	sort.SliceStable(sellers, func(i, j int) bool {
		if sellers[i].price != sellers[j].price {
			return sellers[i].price < sellers[j].price
		}
		return sellers[i].id < sellers[j].id
	})
	return buyers, sellers, nil
}

func terminated(buyers, sellers []participant) (Reason, bool) {
	switch {
	case len(buyers) == 0:
		return ReasonNoDemand, true
	case len(sellers) == 0:
		return ReasonNoExcess, true
	case buyers[0].price < sellers[0].price:
		return ReasonNoCrossing, true
	}
	return "", false
}

func (e *Engine) emit(ev Event) {
	if e.hook != nil {
		e.hook(ev)
	}
}
