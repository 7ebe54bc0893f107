// Package amm implements a constant-product automated market maker for the
// local energy market.
//
// The pool holds two reserves: X (energy, kWh) and Y (money). Prices follow
// the Uniswap v2 invariant
//
//	reserve_x * reserve_y = k
//
// with a proportional fee taken from the input side. The fee stays in the
// pool, so k grows after every trade when fee > 0 and is unchanged when
// fee = 0. k is recomputed from the reserves after every mutation.
//
// All arithmetic is float64. Ratio checks use an absolute tolerance because
// reserves drift with every trade.
//
// Three outcome kinds are kept apart:
//   - precondition violations return a non-nil error and leave the pool unchanged
//   - market-rule rejections return a Rejected Result and a nil error
//   - accepted operations return an Accepted Result and mutate the pool
package amm

import (
	"errors"
	"fmt"
	"math"

	"github.com/p2psolar/market-engine/internal/model"
)

// DefaultRatioTolerance is the absolute tolerance for liquidity ratio checks.
const DefaultRatioTolerance = 1e-7

var (
	// ErrNonPositiveQuantity is returned when a quantity argument is <= 0.
	ErrNonPositiveQuantity = errors.New("amm: quantity must be positive")

	// ErrPoolInitialized is returned by Setup on a pool that still holds reserves.
	ErrPoolInitialized = errors.New("amm: pool already initialized")

	// ErrPoolNotInitialized is returned for operations on an empty pool.
	ErrPoolNotInitialized = errors.New("amm: pool not initialized")

	// ErrInsufficientLiquidity is returned when a buy requests the whole
	// reserve or more.
	ErrInsufficientLiquidity = errors.New("amm: requested quantity exceeds pool reserve")

	// ErrDepletedReserve is returned when a result would leave a reserve <= 0.
	ErrDepletedReserve = errors.New("amm: operation would deplete a reserve")

	// ErrInsufficientLPTokens is returned when burning more LP than outstanding.
	ErrInsufficientLPTokens = errors.New("amm: burn exceeds outstanding LP tokens")

	// ErrInvalidFee is returned for a fee rate outside [0, 1).
	ErrInvalidFee = errors.New("amm: fee rate must be in [0, 1)")

	// ErrUnknownSide and ErrUnknownToken are returned for values outside the enums.
	ErrUnknownSide  = errors.New("amm: unknown trade side")
	ErrUnknownToken = errors.New("amm: token is not traded in this pool")
)

// Market-rule rejections. These travel in Result.Reason, never as errors.
var (
	ErrRatioMismatch       = errors.New("amm: liquidity ratio does not match reserves")
	ErrLimitPrice          = errors.New("amm: quoted price outside limit")
	ErrInsufficientXAmount = errors.New("amm: optimal x amount below minimum")
	ErrInsufficientYAmount = errors.New("amm: optimal y amount below minimum")
)

// IsMarketRule reports whether err is a market-rule rejection reason rather
// than a precondition violation.
func IsMarketRule(err error) bool {
	return errors.Is(err, ErrRatioMismatch) ||
		errors.Is(err, ErrLimitPrice) ||
		errors.Is(err, ErrInsufficientXAmount) ||
		errors.Is(err, ErrInsufficientYAmount)
}

// Event describes one pool operation for observers.
type Event struct {
	Op     string
	Before model.PoolState
	After  model.PoolState
	Result Result
	Err    error
}

// Hook receives pool events. It must not call back into the pool.
type Hook func(Event)

// Pool is a single two-asset constant-product pool. It is not safe for
// concurrent use; each simulation run owns its own Pool.
type Pool struct {
	reserveX float64
	reserveY float64
	k        float64
	lpTokens float64
	fee      float64
	ratioTol float64
	hook     Hook
}

// Option configures a Pool at construction.
type Option func(*Pool) error

// WithFee sets the initial fee rate.
func WithFee(rate float64) Option {
	return func(p *Pool) error {
		if !validFee(rate) {
			return ErrInvalidFee
		}
		p.fee = rate
		return nil
	}
}

// WithRatioTolerance sets the absolute tolerance used by ProvideLiquidity.
func WithRatioTolerance(tol float64) Option {
	return func(p *Pool) error {
		if tol <= 0 {
			return fmt.Errorf("amm: ratio tolerance must be positive, got %g", tol)
		}
		p.ratioTol = tol
		return nil
	}
}

// WithHook installs an observer for pool events.
func WithHook(h Hook) Option {
	return func(p *Pool) error {
		p.hook = h
		return nil
	}
}

// NewPool creates an empty pool. Call Setup before trading.
func NewPool(opts ...Option) (*Pool, error) {
	p := &Pool{ratioTol: DefaultRatioTolerance}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Restore rebuilds a pool from a snapshot. K is recomputed from the reserves.
func Restore(s model.PoolState, opts ...Option) (*Pool, error) {
	if !positive(s.ReserveX, s.ReserveY, s.LPTokens) {
		return nil, ErrPoolNotInitialized
	}
	p, err := NewPool(append([]Option{WithFee(s.FeeRate)}, opts...)...)
	if err != nil {
		return nil, err
	}
	p.reserveX, p.reserveY = s.ReserveX, s.ReserveY
	p.k = s.ReserveX * s.ReserveY
	p.lpTokens = s.LPTokens
	return p, nil
}

func validFee(rate float64) bool {
	return rate >= 0 && rate < 1 && !math.IsNaN(rate)
}

func positive(qs ...float64) bool {
	for _, q := range qs {
		if !(q > 0) || math.IsInf(q, 1) {
			return false
		}
	}
	return true
}

// State returns a snapshot of the pool.
func (p *Pool) State() model.PoolState {
	return model.PoolState{
		ReserveX: p.reserveX,
		ReserveY: p.reserveY,
		K:        p.k,
		LPTokens: p.lpTokens,
		FeeRate:  p.fee,
	}
}

// Initialized reports whether the pool holds reserves.
func (p *Pool) Initialized() bool {
	return p.reserveX > 0 && p.reserveY > 0
}

// SpotPrice is the marginal price of X in units of Y, ignoring fees.
func (p *Pool) SpotPrice() (float64, error) {
	if !p.Initialized() {
		return 0, ErrPoolNotInitialized
	}
	return p.reserveY / p.reserveX, nil
}

// SizeForPrice returns reserves with x*y = k and y/x = price.
func SizeForPrice(k, price float64) (x, y float64, err error) {
	if !positive(k, price) {
		return 0, 0, ErrNonPositiveQuantity
	}
	return math.Sqrt(k / price), math.Sqrt(k * price), nil
}

// Setup seeds the pool with qtyX and qtyY and returns the LP tokens minted
// to the caller, sqrt(qtyX*qtyY).
func (p *Pool) Setup(qtyX, qtyY float64) (float64, error) {
	before := p.State()
	if !positive(qtyX, qtyY) {
		return 0, p.fail("setup", before, ErrNonPositiveQuantity)
	}
	if p.reserveX != 0 || p.reserveY != 0 {
		return 0, p.fail("setup", before, ErrPoolInitialized)
	}

	p.reserveX = qtyX
	p.reserveY = qtyY
	p.k = qtyX * qtyY
	p.lpTokens = math.Sqrt(p.k)

	p.emit("setup", before, Result{Status: StatusAccepted, AmountX: qtyX, AmountY: qtyY, LPTokens: p.lpTokens}, nil)
	return p.lpTokens, nil
}

// SetFee changes the fee for subsequent quotes and trades.
func (p *Pool) SetFee(rate float64) error {
	if !validFee(rate) {
		return ErrInvalidFee
	}
	before := p.State()
	p.fee = rate
	p.emit("set_fee", before, Result{Status: StatusAccepted}, nil)
	return nil
}

func (p *Pool) gamma() float64 {
	return 1 - p.fee
}

// reserves returns (traded, counter) reserves for token.
func (p *Pool) reserves(token model.Token) (float64, float64, error) {
	switch token {
	case model.TokenX:
		return p.reserveX, p.reserveY, nil
	case model.TokenY:
		return p.reserveY, p.reserveX, nil
	default:
		return 0, 0, fmt.Errorf("%w: %q", ErrUnknownToken, token)
	}
}

// Quote returns the amount of the other token the trader pays (buy) or
// receives (sell) for qty of token. It never mutates the pool.
//
//	buy:  (k / (R_in - Δ) - R_out) / γ
//	sell: R_out - k / (R_in + Δ·γ)
//
// where R_in is the reserve of token, R_out the other reserve and γ = 1 - fee.
func (p *Pool) Quote(side model.Side, token model.Token, qty float64) (float64, error) {
	if !positive(qty) {
		return 0, ErrNonPositiveQuantity
	}
	if !p.Initialized() {
		return 0, ErrPoolNotInitialized
	}
	rIn, rOut, err := p.reserves(token)
	if err != nil {
		return 0, err
	}

	switch side {
	case model.SideBuy:
		if qty >= rIn {
			return 0, fmt.Errorf("%w: want %g, reserve %g", ErrInsufficientLiquidity, qty, rIn)
		}
		return (p.k/(rIn-qty) - rOut) / p.gamma(), nil
	case model.SideSell:
		return rOut - p.k/(rIn+qty*p.gamma()), nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownSide, side)
	}
}

// Execute trades qty of token against the pool. A non-nil limit bounds the
// counter amount: sells require price >= *limit, buys require price <= *limit.
// A limit miss is a Rejected result with a nil error.
func (p *Pool) Execute(side model.Side, token model.Token, qty float64, limit *float64) (Result, error) {
	op := string(side) + "_" + string(token)
	before := p.State()

	price, err := p.Quote(side, token, qty)
	if err != nil {
		return Result{}, p.fail(op, before, err)
	}

	if limit != nil {
		if (side == model.SideSell && price < *limit) || (side == model.SideBuy && price > *limit) {
			res := rejected(ErrLimitPrice)
			res.Side, res.Token, res.Quantity, res.Price = side, token, qty, price
			p.emit(op, before, res, nil)
			return res, nil
		}
	}

	newX, newY := p.reserveX, p.reserveY
	switch {
	case side == model.SideBuy && token == model.TokenX:
		newX, newY = newX-qty, newY+price
	case side == model.SideBuy && token == model.TokenY:
		newX, newY = newX+price, newY-qty
	case side == model.SideSell && token == model.TokenX:
		newX, newY = newX+qty, newY-price
	default:
		newX, newY = newX-price, newY+qty
	}
	if !(newX > 0) || !(newY > 0) {
		return Result{}, p.fail(op, before, ErrDepletedReserve)
	}

	p.reserveX, p.reserveY = newX, newY
	p.k = newX * newY

	res := Result{Status: StatusAccepted, Side: side, Token: token, Quantity: qty, Price: price}
	p.emit(op, before, res, nil)
	return res, nil
}

// Buy buys qty of token with no price bound.
func (p *Pool) Buy(token model.Token, qty float64) (Result, error) {
	return p.Execute(model.SideBuy, token, qty, nil)
}

// Sell sells qty of token with no price bound.
func (p *Pool) Sell(token model.Token, qty float64) (Result, error) {
	return p.Execute(model.SideSell, token, qty, nil)
}

// BuyMaxPrice buys qty of token only if it costs at most maxPrice of the other token.
func (p *Pool) BuyMaxPrice(token model.Token, qty, maxPrice float64) (Result, error) {
	return p.Execute(model.SideBuy, token, qty, &maxPrice)
}

// SellMinPrice sells qty of token only if it returns at least minPrice of the other token.
func (p *Pool) SellMinPrice(token model.Token, qty, minPrice float64) (Result, error) {
	return p.Execute(model.SideSell, token, qty, &minPrice)
}

func (p *Pool) emit(op string, before model.PoolState, res Result, err error) {
	if p.hook == nil {
		return
	}
	p.hook(Event{Op: op, Before: before, After: p.State(), Result: res, Err: err})
}

func (p *Pool) fail(op string, before model.PoolState, err error) error {
	p.emit(op, before, Result{}, err)
	return err
}
