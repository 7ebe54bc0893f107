package amm

import (
	"errors"
	"testing"

	"pgregory.net/rapid"
)

func TestProvideLiquidity_MintsProRata(t *testing.T) {
	p := newPool(t, 1000, 1000)

	res, err := p.ProvideLiquidity(100, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Accepted() {
		t.Fatalf("expected accepted, got %+v", res)
	}
	if !near(res.LPTokens, 100) {
		t.Errorf("expected 100 lp minted, got %g", res.LPTokens)
	}
	st := p.State()
	if st.ReserveX != 1100 || st.ReserveY != 1100 || !near(st.LPTokens, 1100) {
		t.Errorf("unexpected state %+v", st)
	}
	if !near(st.K, 1100*1100) {
		t.Errorf("k should track reserves after liquidity change, got %g", st.K)
	}
}

func TestProvideLiquidity_WrongRatioRejected(t *testing.T) {
	p := newPool(t, 1000, 2000)
	before := p.State()

	res, err := p.ProvideLiquidity(100, 100)
	if err != nil {
		t.Fatalf("ratio mismatch must not be an error: %v", err)
	}
	if !res.Rejected() || !errors.Is(res.Reason, ErrRatioMismatch) {
		t.Fatalf("expected ErrRatioMismatch rejection, got %+v", res)
	}
	if p.State() != before {
		t.Errorf("state changed: %+v -> %+v", before, p.State())
	}
}

func TestProvideLiquidity_Preconditions(t *testing.T) {
	empty, _ := NewPool()
	if _, err := empty.ProvideLiquidity(1, 1); !errors.Is(err, ErrPoolNotInitialized) {
		t.Errorf("expected ErrPoolNotInitialized, got %v", err)
	}
	p := newPool(t, 10, 10)
	if _, err := p.ProvideLiquidity(0, 1); !errors.Is(err, ErrNonPositiveQuantity) {
		t.Errorf("expected ErrNonPositiveQuantity, got %v", err)
	}
}

func TestProvideThenWithdraw_RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		rx := rapid.Float64Range(1, 1e6).Draw(t, "rx")
		ry := rapid.Float64Range(1, 1e6).Draw(t, "ry")
		f := rapid.Float64Range(0.001, 10).Draw(t, "f")

		p, _ := NewPool()
		p.Setup(rx, ry)

		x, y := f*rx, f*ry
		res, err := p.ProvideLiquidity(x, y)
		if err != nil {
			t.Fatalf("provide: %v", err)
		}
		if !res.Accepted() {
			t.Fatalf("matching ratio rejected: %+v", res)
		}

		gotX, gotY, err := p.WithdrawLiquidity(res.LPTokens)
		if err != nil {
			t.Fatalf("withdraw: %v", err)
		}
		if !near(gotX, x) || !near(gotY, y) {
			t.Fatalf("round trip mismatch: put (%g,%g) got (%g,%g)", x, y, gotX, gotY)
		}
	})
}

func TestProvideLiquidityMinAmount(t *testing.T) {
	tests := []struct {
		name                   string
		xDes, yDes, xMin, yMin float64
		wantAccepted           bool
		wantReason             error
		wantX, wantY           float64
	}{
		{"x binds", 100, 300, 0, 150, true, nil, 100, 200},
		{"y binds", 100, 100, 40, 0, true, nil, 50, 100},
		{"y below floor", 100, 300, 0, 250, false, ErrInsufficientYAmount, 0, 0},
		{"x below floor", 100, 100, 60, 0, false, ErrInsufficientXAmount, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPool(t, 1000, 2000)
			before := p.State()

			res, err := p.ProvideLiquidityMinAmount(tt.xDes, tt.yDes, tt.xMin, tt.yMin)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Accepted() != tt.wantAccepted {
				t.Fatalf("expected accepted=%v, got %+v", tt.wantAccepted, res)
			}
			if !tt.wantAccepted {
				if !errors.Is(res.Reason, tt.wantReason) {
					t.Errorf("expected reason %v, got %v", tt.wantReason, res.Reason)
				}
				if p.State() != before {
					t.Errorf("rejected add mutated pool")
				}
				return
			}
			if !near(res.AmountX, tt.wantX) || !near(res.AmountY, tt.wantY) {
				t.Errorf("expected (%g,%g), got (%g,%g)", tt.wantX, tt.wantY, res.AmountX, res.AmountY)
			}
			st := p.State()
			if !near(st.ReserveY/st.ReserveX, 2) {
				t.Errorf("ratio drifted to %g", st.ReserveY/st.ReserveX)
			}
		})
	}
}

func TestWithdrawLiquidity_Preconditions(t *testing.T) {
	empty, _ := NewPool()
	if _, _, err := empty.WithdrawLiquidity(1); !errors.Is(err, ErrPoolNotInitialized) {
		t.Errorf("expected ErrPoolNotInitialized, got %v", err)
	}

	p := newPool(t, 100, 100)
	before := p.State()
	if _, _, err := p.WithdrawLiquidity(101); !errors.Is(err, ErrInsufficientLPTokens) {
		t.Errorf("expected ErrInsufficientLPTokens, got %v", err)
	}
	if p.State() != before {
		t.Errorf("failed withdraw mutated pool")
	}
}

func TestWithdrawLiquidity_FullBurnEmptiesPool(t *testing.T) {
	p := newPool(t, 100, 400)
	x, y, err := p.WithdrawLiquidity(200)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if x != 100 || y != 400 {
		t.Errorf("expected (100,400), got (%g,%g)", x, y)
	}
	if p.Initialized() {
		t.Error("pool should be empty")
	}
	if _, err := p.Setup(5, 5); err != nil {
		t.Errorf("setup after full withdrawal should succeed: %v", err)
	}
}
