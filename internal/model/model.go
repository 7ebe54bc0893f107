// Package model defines the core domain types shared across the market engine.
// Quantities are energy in kWh (token X) and money (token Y). Simulation math
// runs in float64; values are converted to decimal only at the archive and API
// boundaries.
package model

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrNegativeQuantity is returned when a signal carries negative demand or excess.
	ErrNegativeQuantity = errors.New("model: demand and excess must be non-negative")
	// ErrNonFiniteQuantity is returned when a signal carries NaN or infinite demand or excess.
	ErrNonFiniteQuantity = errors.New("model: demand and excess must be finite")
)

// PoolID stands in for the counterparty id when a household trades against the AMM pool.
const PoolID = -1

// ExchangeType selects the market institution for a run.
type ExchangeType string

const (
	ExchangeDoubleAuction ExchangeType = "double_auction"
	ExchangeAMM           ExchangeType = "amm"
)

// Valid reports whether t names a supported institution.
func (t ExchangeType) Valid() bool {
	return t == ExchangeDoubleAuction || t == ExchangeAMM
}

// Side is the direction of an AMM trade from the trader's point of view.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Token identifies one of the two pool assets. X is energy, Y is money.
type Token string

const (
	TokenX Token = "x"
	TokenY Token = "y"
)

// Household is the fixed per-run description of one market participant.
type Household struct {
	Index     int     `json:"index" yaml:"index"`
	HasPV     bool    `json:"has_pv" yaml:"has_pv"`
	FloorArea float64 `json:"floor_area" yaml:"floor_area"`
	WTA       float64 `json:"wta" yaml:"wta"` // seller's floor price per kWh
	WTP       float64 `json:"wtp" yaml:"wtp"` // buyer's ceiling price per kWh
}

// HouseholdSignal is one household's position for the current interval.
// Demand and Excess are usually mutually exclusive but both may be positive.
type HouseholdSignal struct {
	HouseholdID int     `json:"household_id"`
	Demand      float64 `json:"demand"`
	Excess      float64 `json:"excess"`
	WTA         float64 `json:"wta"`
	WTP         float64 `json:"wtp"`
}

// Validate rejects non-finite or negative demand or excess.
func (s HouseholdSignal) Validate() error {
	if !finite(s.Demand) || !finite(s.Excess) {
		return fmt.Errorf("%w: household %d demand=%g excess=%g",
			ErrNonFiniteQuantity, s.HouseholdID, s.Demand, s.Excess)
	}
	if s.Demand < 0 || s.Excess < 0 {
		return fmt.Errorf("%w: household %d demand=%g excess=%g",
			ErrNegativeQuantity, s.HouseholdID, s.Demand, s.Excess)
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Trade is an immutable record of energy changing hands.
// For AMM trades one of BuyerID/SellerID is PoolID and UnitPrice is the
// average fill price (money per kWh).
type Trade struct {
	ID        string       `json:"id"`
	Interval  int          `json:"interval"`
	BuyerID   int          `json:"buyer_id"`
	SellerID  int          `json:"seller_id"`
	Quantity  float64      `json:"quantity"`
	UnitPrice float64      `json:"unit_price"`
	Exchange  ExchangeType `json:"exchange"`
}

// Value is the money that changed hands.
func (t Trade) Value() float64 {
	return t.Quantity * t.UnitPrice
}

// LedgerEntry holds one household's accumulators for one interval.
type LedgerEntry struct {
	SoldQuantity      float64 `json:"sold_quantity"`
	SoldRevenue       float64 `json:"sold_revenue"`
	BoughtQuantity    float64 `json:"bought_quantity"`
	BoughtExpenditure float64 `json:"bought_expenditure"`
}

// IsZero reports whether nothing was recorded.
func (e LedgerEntry) IsZero() bool {
	return e == LedgerEntry{}
}

// PoolState is a snapshot of the AMM pool.
type PoolState struct {
	ReserveX float64 `json:"reserve_x"`
	ReserveY float64 `json:"reserve_y"`
	K        float64 `json:"k"`
	LPTokens float64 `json:"lp_tokens"`
	FeeRate  float64 `json:"fee_rate"`
}
