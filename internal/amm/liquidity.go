package amm

import (
	"fmt"
	"math"
)

// ProvideLiquidity adds qtyX and qtyY at the current reserve ratio and mints
// LP tokens pro rata to the X contribution. A ratio off by more than the
// configured tolerance is rejected without touching the pool.
func (p *Pool) ProvideLiquidity(qtyX, qtyY float64) (Result, error) {
	before := p.State()
	if !positive(qtyX, qtyY) {
		return Result{}, p.fail("provide_liquidity", before, ErrNonPositiveQuantity)
	}
	if !p.Initialized() {
		return Result{}, p.fail("provide_liquidity", before, ErrPoolNotInitialized)
	}

	if math.Abs(qtyX/qtyY-p.reserveX/p.reserveY) >= p.ratioTol {
		res := rejected(ErrRatioMismatch)
		res.AmountX, res.AmountY = qtyX, qtyY
		p.emit("provide_liquidity", before, res, nil)
		return res, nil
	}

	res := p.mint(qtyX, qtyY)
	p.emit("provide_liquidity", before, res, nil)
	return res, nil
}

// ProvideLiquidityMinAmount adds liquidity like a Uniswap v2 router: it takes
// as much of the desired amounts as the current ratio allows, and rejects
// if the matched amount of the scarcer side falls below its minimum.
func (p *Pool) ProvideLiquidityMinAmount(xDesired, yDesired, xMin, yMin float64) (Result, error) {
	const op = "provide_liquidity_min"
	before := p.State()
	if !positive(xDesired, yDesired) || xMin < 0 || yMin < 0 {
		return Result{}, p.fail(op, before, ErrNonPositiveQuantity)
	}
	if !p.Initialized() {
		return Result{}, p.fail(op, before, ErrPoolNotInitialized)
	}

	var res Result
	if yOptimal := xDesired * (p.reserveY / p.reserveX); yOptimal <= yDesired {
		if yOptimal < yMin {
			res = rejected(ErrInsufficientYAmount)
			res.AmountX, res.AmountY = xDesired, yOptimal
		} else {
			res = p.mint(xDesired, yOptimal)
		}
	} else {
		xOptimal := yDesired * (p.reserveX / p.reserveY)
		if xOptimal > xDesired || xOptimal < xMin {
			res = rejected(ErrInsufficientXAmount)
			res.AmountX, res.AmountY = xOptimal, yDesired
		} else {
			res = p.mint(xOptimal, yDesired)
		}
	}

	p.emit(op, before, res, nil)
	return res, nil
}

func (p *Pool) mint(qtyX, qtyY float64) Result {
	minted := (qtyX / p.reserveX) * p.lpTokens
	p.lpTokens += minted
	p.reserveX += qtyX
	p.reserveY += qtyY
	p.k = p.reserveX * p.reserveY
	return Result{Status: StatusAccepted, AmountX: qtyX, AmountY: qtyY, LPTokens: minted}
}

// WithdrawLiquidity burns lp tokens and returns the pro-rata share of both
// reserves. Burning every outstanding token empties the pool, after which
// Setup may be called again.
func (p *Pool) WithdrawLiquidity(lp float64) (qtyX, qtyY float64, err error) {
	const op = "withdraw_liquidity"
	before := p.State()
	if !positive(lp) {
		return 0, 0, p.fail(op, before, ErrNonPositiveQuantity)
	}
	if !p.Initialized() || p.lpTokens <= 0 {
		return 0, 0, p.fail(op, before, ErrPoolNotInitialized)
	}
	if lp > p.lpTokens {
		return 0, 0, p.fail(op, before, fmt.Errorf("%w: burn %g, outstanding %g", ErrInsufficientLPTokens, lp, p.lpTokens))
	}

	if lp == p.lpTokens {
		qtyX, qtyY = p.reserveX, p.reserveY
		p.reserveX, p.reserveY, p.lpTokens, p.k = 0, 0, 0, 0
	} else {
		share := lp / p.lpTokens
		qtyX = share * p.reserveX
		qtyY = share * p.reserveY
		p.reserveX -= qtyX
		p.reserveY -= qtyY
		p.lpTokens -= lp
		p.k = p.reserveX * p.reserveY
	}

	p.emit(op, before, Result{Status: StatusAccepted, AmountX: qtyX, AmountY: qtyY, LPTokens: lp}, nil)
	return qtyX, qtyY, nil
}
