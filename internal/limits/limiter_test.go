package limits

import (
	"testing"
)

func TestCap_WithinLimits(t *testing.T) {
	limiter := NewTradeLimiter(0.5, 100)

	got, err := limiter.Cap(10, 1000, 0)
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if got != 10 {
		t.Errorf("expected full request of 10, got %g", got)
	}
}

func TestCap_ClippedToReserveFraction(t *testing.T) {
	limiter := NewTradeLimiter(0.25, 0)

	got, err := limiter.Cap(500, 1000, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 250 {
		t.Errorf("expected 250 (25%% of reserve), got %g", got)
	}
}

func TestCap_ClippedToHouseholdBudget(t *testing.T) {
	limiter := NewTradeLimiter(0.5, 100)

	// 95 already traded, 10 requested: only 5 left.
	got, err := limiter.Cap(10, 1000, 95)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 5 {
		t.Errorf("expected 5, got %g", got)
	}
}

func TestCap_HouseholdBudgetExhausted(t *testing.T) {
	limiter := NewTradeLimiter(0.5, 100)

	_, err := limiter.Cap(10, 1000, 100)
	if err != ErrHouseholdLimitExceeded {
		t.Errorf("expected ErrHouseholdLimitExceeded, got %v", err)
	}
}

func TestCap_EmptyReserve(t *testing.T) {
	limiter := NewTradeLimiter(0.5, 0)

	_, err := limiter.Cap(10, 0, 0)
	if err != ErrReserveFractionExceeded {
		t.Errorf("expected ErrReserveFractionExceeded, got %v", err)
	}
}

func TestNewTradeLimiter_Defaults(t *testing.T) {
	tests := []struct {
		fraction, perHousehold float64
		wantFraction, wantPer  float64
	}{
		{0, 10, DefaultMaxReserveFraction, 10},
		{1, 10, DefaultMaxReserveFraction, 10},
		{-3, -1, DefaultMaxReserveFraction, 0},
		{0.2, 0, 0.2, 0},
	}
	for _, tt := range tests {
		l := NewTradeLimiter(tt.fraction, tt.perHousehold)
		if l.MaxReserveFraction != tt.wantFraction || l.MaxPerHousehold != tt.wantPer {
			t.Errorf("NewTradeLimiter(%g,%g) = %+v", tt.fraction, tt.perHousehold, l)
		}
	}
}

func TestCap_NilLimiter(t *testing.T) {
	var limiter *TradeLimiter
	got, err := limiter.Cap(42, 1, 0)
	if err != nil || got != 42 {
		t.Errorf("nil limiter should pass through, got %g, %v", got, err)
	}
}
