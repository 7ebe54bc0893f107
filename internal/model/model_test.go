package model

import (
	"errors"
	"math"
	"testing"
)

func TestHouseholdSignal_Validate(t *testing.T) {
	tests := []struct {
		name string
		sig  HouseholdSignal
		want error
	}{
		{"zero", HouseholdSignal{}, nil},
		{"demand and excess", HouseholdSignal{Demand: 2, Excess: 1}, nil},
		{"negative demand", HouseholdSignal{Demand: -1}, ErrNegativeQuantity},
		{"negative excess", HouseholdSignal{Excess: -0.5}, ErrNegativeQuantity},
		{"nan demand", HouseholdSignal{Demand: math.NaN()}, ErrNonFiniteQuantity},
		{"nan excess", HouseholdSignal{Excess: math.NaN()}, ErrNonFiniteQuantity},
		{"infinite demand", HouseholdSignal{Demand: math.Inf(1)}, ErrNonFiniteQuantity},
		{"negative infinite excess", HouseholdSignal{Excess: math.Inf(-1)}, ErrNonFiniteQuantity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sig.Validate()
			if tt.want == nil {
				if err != nil {
					t.Errorf("unexpected error %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}
