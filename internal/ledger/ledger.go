// Package ledger records per-household, per-interval energy flows for one
// simulation run.
//
// Entries live in a flat arena indexed by (household, interval). Reads return
// copies, so no two rows can alias each other. Accumulators only grow; the
// trade log is append-only.
package ledger

import (
	"errors"
	"fmt"

	"github.com/p2psolar/market-engine/internal/model"
)

var (
	// ErrOutOfRange is returned for a household or interval outside the arena.
	ErrOutOfRange = errors.New("ledger: household or interval out of range")

	// ErrNegativeAmount is returned when a record would decrease an accumulator.
	ErrNegativeAmount = errors.New("ledger: amounts must be non-negative")

	// ErrInvalidDimensions is returned by New for non-positive sizes.
	ErrInvalidDimensions = errors.New("ledger: households and intervals must be positive")
)

// Ledger is not safe for concurrent use. Each run owns exactly one.
type Ledger struct {
	households int
	intervals  int
	entries    []model.LedgerEntry
	trades     []model.Trade

	// per-interval sums over all households' sales
	soldQty     []float64
	soldRevenue []float64
}

// New allocates a zeroed arena of households × intervals entries.
func New(households, intervals int) (*Ledger, error) {
	if households <= 0 || intervals <= 0 {
		return nil, ErrInvalidDimensions
	}
	return &Ledger{
		households:  households,
		intervals:   intervals,
		entries:     make([]model.LedgerEntry, households*intervals),
		soldQty:     make([]float64, intervals),
		soldRevenue: make([]float64, intervals),
	}, nil
}

// Households returns the number of household rows.
func (l *Ledger) Households() int { return l.households }

// Intervals returns the number of interval columns.
func (l *Ledger) Intervals() int { return l.intervals }

func (l *Ledger) index(h, t int) (int, error) {
	if h < 0 || h >= l.households || t < 0 || t >= l.intervals {
		return 0, fmt.Errorf("%w: household=%d interval=%d", ErrOutOfRange, h, t)
	}
	return h*l.intervals + t, nil
}

// Entry returns a copy of the accumulators for (h, t).
func (l *Ledger) Entry(h, t int) (model.LedgerEntry, error) {
	i, err := l.index(h, t)
	if err != nil {
		return model.LedgerEntry{}, err
	}
	return l.entries[i], nil
}

// Sold returns the quantity sold and revenue earned by h during t.
func (l *Ledger) Sold(h, t int) (qty, revenue float64, err error) {
	e, err := l.Entry(h, t)
	return e.SoldQuantity, e.SoldRevenue, err
}

// Bought returns the quantity bought and money spent by h during t.
func (l *Ledger) Bought(h, t int) (qty, expenditure float64, err error) {
	e, err := l.Entry(h, t)
	return e.BoughtQuantity, e.BoughtExpenditure, err
}

// RecordSale adds a sale to h's accumulators for t.
func (l *Ledger) RecordSale(h, t int, qty, revenue float64) error {
	if qty < 0 || revenue < 0 {
		return fmt.Errorf("%w: sale qty=%g revenue=%g", ErrNegativeAmount, qty, revenue)
	}
	i, err := l.index(h, t)
	if err != nil {
		return err
	}
	l.entries[i].SoldQuantity += qty
	l.entries[i].SoldRevenue += revenue
	l.soldQty[t] += qty
	l.soldRevenue[t] += revenue
	return nil
}

// RecordPurchase adds a purchase to h's accumulators for t.
func (l *Ledger) RecordPurchase(h, t int, qty, expenditure float64) error {
	if qty < 0 || expenditure < 0 {
		return fmt.Errorf("%w: purchase qty=%g expenditure=%g", ErrNegativeAmount, qty, expenditure)
	}
	i, err := l.index(h, t)
	if err != nil {
		return err
	}
	l.entries[i].BoughtQuantity += qty
	l.entries[i].BoughtExpenditure += expenditure
	return nil
}

// RecordTrade appends tr to the trade log and applies each household leg.
// A leg whose id is model.PoolID is not a ledger row and is skipped.
// Both legs are validated before anything is written.
func (l *Ledger) RecordTrade(tr model.Trade) error {
	if tr.Quantity <= 0 || tr.UnitPrice < 0 {
		return fmt.Errorf("%w: trade qty=%g price=%g", ErrNegativeAmount, tr.Quantity, tr.UnitPrice)
	}
	if tr.SellerID != model.PoolID {
		if _, err := l.index(tr.SellerID, tr.Interval); err != nil {
			return err
		}
	}
	if tr.BuyerID != model.PoolID {
		if _, err := l.index(tr.BuyerID, tr.Interval); err != nil {
			return err
		}
	}

	value := tr.Value()
	if tr.SellerID != model.PoolID {
		_ = l.RecordSale(tr.SellerID, tr.Interval, tr.Quantity, value)
	}
	if tr.BuyerID != model.PoolID {
		_ = l.RecordPurchase(tr.BuyerID, tr.Interval, tr.Quantity, value)
	}
	l.trades = append(l.trades, tr)
	return nil
}

// Trades returns a copy of the trade log in recording order.
func (l *Ledger) Trades() []model.Trade {
	out := make([]model.Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

// IntervalAverageSellerPrice is the volume-weighted price sellers received
// during t, or 0 if nothing was sold.
func (l *Ledger) IntervalAverageSellerPrice(t int) (float64, error) {
	if t < 0 || t >= l.intervals {
		return 0, fmt.Errorf("%w: interval=%d", ErrOutOfRange, t)
	}
	if l.soldQty[t] == 0 {
		return 0, nil
	}
	return l.soldRevenue[t] / l.soldQty[t], nil
}

// RunningAverageSellerPrice is the volume-weighted seller price over
// intervals 0..t inclusive.
func (l *Ledger) RunningAverageSellerPrice(t int) (float64, error) {
	if t < 0 || t >= l.intervals {
		return 0, fmt.Errorf("%w: interval=%d", ErrOutOfRange, t)
	}
	var qty, revenue float64
	for i := 0; i <= t; i++ {
		qty += l.soldQty[i]
		revenue += l.soldRevenue[i]
	}
	if qty == 0 {
		return 0, nil
	}
	return revenue / qty, nil
}
