// Package limits caps the size of AMM trades so a single household can never
// exhaust the pool.
//
// A constant-product pool quotes an unbounded price as a buy approaches the
// whole reserve, and refuses a buy at or beyond it. The limiter clips each
// request to a fraction of the current reserve and, optionally, to a
// per-household budget for the interval.
package limits

import (
	"errors"
	"math"
)

var (
	// ErrReserveFractionExceeded is returned when the reserve leaves no room
	// for any trade.
	ErrReserveFractionExceeded = errors.New("limits: reserve fraction leaves nothing to trade")

	// ErrHouseholdLimitExceeded is returned when the household has used its
	// whole per-interval budget.
	ErrHouseholdLimitExceeded = errors.New("limits: per-household interval limit exceeded")
)

// DefaultMaxReserveFraction keeps every buy well clear of the asymptote.
const DefaultMaxReserveFraction = 0.5

// TradeLimiter clips AMM trade sizes.
type TradeLimiter struct {
	// MaxReserveFraction is the largest share of the reserve one trade may take.
	MaxReserveFraction float64

	// MaxPerHousehold is the largest quantity one household may trade per
	// interval. Zero means no limit.
	MaxPerHousehold float64
}

// NewTradeLimiter creates a limiter. Fractions outside (0, 1) fall back to
// DefaultMaxReserveFraction; a negative per-household limit means no limit.
func NewTradeLimiter(maxReserveFraction, maxPerHousehold float64) *TradeLimiter {
	if !(maxReserveFraction > 0 && maxReserveFraction < 1) {
		maxReserveFraction = DefaultMaxReserveFraction
	}
	if maxPerHousehold < 0 {
		maxPerHousehold = 0
	}
	return &TradeLimiter{
		MaxReserveFraction: maxReserveFraction,
		MaxPerHousehold:    maxPerHousehold,
	}
}

// Cap returns how much of requested may trade against reserve, given that
// the household already traded alreadyTraded this interval.
//
// A nil limiter lets everything through.
func (l *TradeLimiter) Cap(requested, reserve, alreadyTraded float64) (float64, error) {
	if l == nil {
		return requested, nil
	}

	allowed := requested

	// 1. Per-household budget.
	if l.MaxPerHousehold > 0 {
		left := l.MaxPerHousehold - alreadyTraded
		if left <= 0 {
			return 0, ErrHouseholdLimitExceeded
		}
		allowed = math.Min(allowed, left)
	}

	// 2. Share of the reserve.
	room := l.MaxReserveFraction * reserve
	if room <= 0 {
		return 0, ErrReserveFractionExceeded
	}
	return math.Min(allowed, room), nil
}
