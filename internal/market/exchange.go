package market

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/p2psolar/market-engine/internal/amm"
	"github.com/p2psolar/market-engine/internal/auction"
	"github.com/p2psolar/market-engine/internal/ledger"
	"github.com/p2psolar/market-engine/internal/limits"
	"github.com/p2psolar/market-engine/internal/model"
)

// Rejection records an order a market rule refused. The interval carries on.
type Rejection struct {
	Interval    int        `json:"interval"`
	HouseholdID int        `json:"household_id"`
	Side        model.Side `json:"side"`
	Quantity    float64    `json:"quantity"`
	Quote       float64    `json:"quote,omitempty"`
	Limit       float64    `json:"limit,omitempty"`
	Reason      string     `json:"reason"`
}

// IntervalResult is what one exchange produced for one interval. The seller
// price averages are filled in by the orchestrator from the ledger.
type IntervalResult struct {
	Interval   int              `json:"interval"`
	Trades     []model.Trade    `json:"trades"`
	Rejections []Rejection      `json:"rejections,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	Pool       *model.PoolState `json:"pool,omitempty"`

	AverageSellerPrice        float64 `json:"average_seller_price"`
	RunningAverageSellerPrice float64 `json:"running_average_seller_price"`
}

// Volume is the total energy traded in the interval.
func (r IntervalResult) Volume() float64 {
	var v float64
	for _, tr := range r.Trades {
		v += tr.Quantity
	}
	return v
}

// Exchange clears one interval against a ledger. Fatal errors abort the run
// and leave the interval's already-committed trades in place.
type Exchange interface {
	Type() model.ExchangeType
	Clear(ctx context.Context, interval int, signals []model.HouseholdSignal, book *ledger.Ledger) (IntervalResult, error)
	// PoolState is nil for exchanges without a pool.
	PoolState() *model.PoolState
}

// AuctionExchange clears through the double-auction engine.
type AuctionExchange struct {
	engine *auction.Engine
}

func NewAuctionExchange(engine *auction.Engine) *AuctionExchange {
	return &AuctionExchange{engine: engine}
}

func (x *AuctionExchange) Type() model.ExchangeType { return model.ExchangeDoubleAuction }

func (x *AuctionExchange) PoolState() *model.PoolState { return nil }

func (x *AuctionExchange) Clear(_ context.Context, interval int, signals []model.HouseholdSignal, book *ledger.Ledger) (IntervalResult, error) {
	rep, err := x.engine.Clear(interval, signals, book)
	if err != nil {
		return IntervalResult{Interval: interval}, err
	}
	return IntervalResult{Interval: interval, Trades: rep.Trades, Reason: string(rep.Reason)}, nil
}

// AMMExchange clears every household against a single constant-product
// pool. Energy is token X and money is token Y.
//
// Sellers go first in household order, each selling its residual excess
// for at least WTA per kWh. Buyers follow, each buying its residual demand,
// clipped by the limiter, for at most WTP per kWh.
type AMMExchange struct {
	pool    *amm.Pool
	limiter *limits.TradeLimiter
}

// NewAMMExchange wraps an initialized pool. A nil limiter leaves buys unclipped.
func NewAMMExchange(pool *amm.Pool, limiter *limits.TradeLimiter) *AMMExchange {
	return &AMMExchange{pool: pool, limiter: limiter}
}

func (x *AMMExchange) Type() model.ExchangeType { return model.ExchangeAMM }

func (x *AMMExchange) PoolState() *model.PoolState {
	s := x.pool.State()
	return &s
}

func (x *AMMExchange) Clear(_ context.Context, interval int, signals []model.HouseholdSignal, book *ledger.Ledger) (IntervalResult, error) {
	res := IntervalResult{Interval: interval}

	ordered := append([]model.HouseholdSignal(nil), signals...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].HouseholdID < ordered[j].HouseholdID })
	for i, s := range ordered {
		if err := s.Validate(); err != nil {
			return res, err
		}
		if i > 0 && ordered[i-1].HouseholdID == s.HouseholdID {
			return res, fmt.Errorf("%w: %d", auction.ErrDuplicateHousehold, s.HouseholdID)
		}
	}

	for _, s := range ordered {
		sold, _, err := book.Sold(s.HouseholdID, interval)
		if err != nil {
			return res, err
		}
		qty := s.Excess - sold
		if qty <= 0 {
			continue
		}
		if x.limiter != nil && x.limiter.MaxPerHousehold > 0 {
			qty = math.Min(qty, x.limiter.MaxPerHousehold-sold)
			if qty <= 0 {
				res.Rejections = append(res.Rejections, Rejection{
					Interval: interval, HouseholdID: s.HouseholdID, Side: model.SideSell,
					Quantity: s.Excess - sold, Reason: limits.ErrHouseholdLimitExceeded.Error(),
				})
				continue
			}
		}
		if err := x.trade(&res, s, model.SideSell, qty, s.WTA*qty, book); err != nil {
			return res, err
		}
	}

	for _, s := range ordered {
		bought, _, err := book.Bought(s.HouseholdID, interval)
		if err != nil {
			return res, err
		}
		want := s.Demand - bought
		if want <= 0 {
			continue
		}
		qty, err := x.limiter.Cap(want, x.pool.State().ReserveX, bought)
		if err != nil {
			res.Rejections = append(res.Rejections, Rejection{
				Interval: interval, HouseholdID: s.HouseholdID, Side: model.SideBuy,
				Quantity: want, Reason: err.Error(),
			})
			continue
		}
		if err := x.trade(&res, s, model.SideBuy, qty, s.WTP*qty, book); err != nil {
			return res, err
		}
	}

	res.Pool = x.PoolState()
	return res, nil
}

func (x *AMMExchange) trade(res *IntervalResult, s model.HouseholdSignal, side model.Side, qty, limit float64, book *ledger.Ledger) error {
	var (
		out amm.Result
		err error
	)
	if side == model.SideSell {
		out, err = x.pool.SellMinPrice(model.TokenX, qty, limit)
	} else {
		out, err = x.pool.BuyMaxPrice(model.TokenX, qty, limit)
	}
	if err != nil {
		return fmt.Errorf("household %d %s %g: %w", s.HouseholdID, side, qty, err)
	}
	if out.Rejected() {
		res.Rejections = append(res.Rejections, Rejection{
			Interval: res.Interval, HouseholdID: s.HouseholdID, Side: side,
			Quantity: qty, Quote: out.Price, Limit: limit, Reason: out.Reason.Error(),
		})
		return nil
	}

	tr := model.Trade{
		ID:        uuid.NewString(),
		Interval:  res.Interval,
		BuyerID:   s.HouseholdID,
		SellerID:  model.PoolID,
		Quantity:  out.Quantity,
		UnitPrice: out.UnitPrice(),
		Exchange:  model.ExchangeAMM,
	}
	if side == model.SideSell {
		tr.BuyerID, tr.SellerID = model.PoolID, s.HouseholdID
	}
	if err := book.RecordTrade(tr); err != nil {
		return err
	}
	res.Trades = append(res.Trades, tr)
	return nil
}
