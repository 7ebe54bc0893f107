package amm

import "github.com/p2psolar/market-engine/internal/model"

// Status tags a Result as accepted or rejected.
type Status int

const (
	StatusAccepted Status = iota + 1
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusAccepted:
		return "accepted"
	case StatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Result is the outcome of a trade or liquidity operation.
//
// Trades fill Side, Token, Quantity and Price, where Price is the amount of
// the other token paid (buy) or received (sell). Liquidity operations fill
// AmountX, AmountY and LPTokens. Rejected results carry a Reason and the
// quote that was refused, if any.
type Result struct {
	Status   Status      `json:"status"`
	Side     model.Side  `json:"side,omitempty"`
	Token    model.Token `json:"token,omitempty"`
	Quantity float64     `json:"quantity,omitempty"`
	Price    float64     `json:"price,omitempty"`
	AmountX  float64     `json:"amount_x,omitempty"`
	AmountY  float64     `json:"amount_y,omitempty"`
	LPTokens float64     `json:"lp_tokens,omitempty"`
	Reason   error       `json:"-"`
}

func rejected(reason error) Result {
	return Result{Status: StatusRejected, Reason: reason}
}

// Accepted reports whether the operation went through.
func (r Result) Accepted() bool { return r.Status == StatusAccepted }

// Rejected reports whether a market rule refused the operation.
func (r Result) Rejected() bool { return r.Status == StatusRejected }

// UnitPrice is Price per unit of Quantity, or 0 for non-trade results.
func (r Result) UnitPrice() float64 {
	if r.Quantity == 0 {
		return 0
	}
	return r.Price / r.Quantity
}
