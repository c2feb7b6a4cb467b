package economy

import (
	"math"
	"testing"
)

func defaultTuning() Tuning {
	return Tuning{
		BaseRatePerSecond:     1.0,
		PerFieldRatePerSecond: 0.125,
		BaseFieldPrice:        10,
		PriceMultiplier:       1.15,
		StorageCap:            5000,
		Rounding:              RoundNearest,
	}
}

func TestNewStateStartsAtConfiguredDefaults(t *testing.T) {
	tuning := defaultTuning()
	s := NewState(tuning)

	if s.Catnip != 0 {
		t.Errorf("expected 0 starting catnip, got %v", s.Catnip)
	}
	if s.CatnipFields != 0 {
		t.Errorf("expected 0 starting fields, got %d", s.CatnipFields)
	}
	if s.NextFieldPrice != 10 {
		t.Errorf("expected base field price 10, got %v", s.NextFieldPrice)
	}
}

func TestProductionRateScalesWithFields(t *testing.T) {
	tuning := defaultTuning()

	s := NewState(tuning)
	if rate := s.ProductionPerSecond(tuning); rate != 1.0 {
		t.Errorf("expected base rate 1.0 with no fields, got %v", rate)
	}

	s.CatnipFields = 4
	if rate := s.ProductionPerSecond(tuning); rate != 1.5 {
		t.Errorf("expected 1.5/s with 4 fields, got %v", rate)
	}
}

func TestApplyProductionAccumulates(t *testing.T) {
	tuning := defaultTuning()
	s := NewState(tuning)

	s = ApplyProduction(tuning, s, 0.2)
	if math.Abs(s.Catnip-0.2) > 1e-9 {
		t.Errorf("expected 0.2 catnip after one 0.2s tick, got %v", s.Catnip)
	}

	s.CatnipFields = 2
	s = ApplyProduction(tuning, s, 1.0)
	// 0.2 + 1.0*(1 + 2*0.125) = 1.45
	if math.Abs(s.Catnip-1.45) > 1e-9 {
		t.Errorf("expected 1.45 catnip, got %v", s.Catnip)
	}
}

func TestApplyProductionClampsToStorageCap(t *testing.T) {
	tuning := defaultTuning()
	tuning.StorageCap = 100

	s := NewState(tuning)
	s.Catnip = 99.9
	s = ApplyProduction(tuning, s, 10)

	if s.Catnip != 100 {
		t.Errorf("expected catnip clamped to cap 100, got %v", s.Catnip)
	}
}

func TestApplyProductionPanicsOnInvalidDelta(t *testing.T) {
	tuning := defaultTuning()
	s := NewState(tuning)

	for _, delta := range []float64{-1, math.NaN(), math.Inf(1)} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("expected panic for delta %v", delta)
				}
			}()
			ApplyProduction(tuning, s, delta)
		}()
	}
}

func TestPurchaseAtExactPriceSucceeds(t *testing.T) {
	tuning := defaultTuning()
	s := NewState(tuning)
	s.Catnip = 10

	next, accepted := TryPurchaseField(tuning, s)
	if !accepted {
		t.Fatal("expected purchase at exact price to succeed")
	}
	if next.Catnip != 0 {
		t.Errorf("expected 0 catnip after spending the full balance, got %v", next.Catnip)
	}
	if next.CatnipFields != 1 {
		t.Errorf("expected 1 field, got %d", next.CatnipFields)
	}
	// round(10 * 1.15) = 12
	if next.NextFieldPrice != 12 {
		t.Errorf("expected next price 12, got %v", next.NextFieldPrice)
	}
}

func TestPurchaseWithInsufficientFundsDeclines(t *testing.T) {
	tuning := defaultTuning()
	s := NewState(tuning)
	s.Catnip = 9.99

	next, accepted := TryPurchaseField(tuning, s)
	if accepted {
		t.Fatal("expected purchase below price to be declined")
	}
	if next != s {
		t.Errorf("declined purchase must not change state: got %+v, want %+v", next, s)
	}
}

func TestPriceCompoundsAcrossPurchases(t *testing.T) {
	tuning := defaultTuning()
	s := NewState(tuning)
	s.Catnip = 1000

	wantPrices := []float64{12, 14, 16, 18, 21}
	for i, want := range wantPrices {
		var accepted bool
		s, accepted = TryPurchaseField(tuning, s)
		if !accepted {
			t.Fatalf("purchase %d unexpectedly declined", i+1)
		}
		if s.NextFieldPrice != want {
			t.Errorf("after purchase %d: expected next price %v, got %v", i+1, want, s.NextFieldPrice)
		}
	}
	if s.CatnipFields != len(wantPrices) {
		t.Errorf("expected %d fields, got %d", len(wantPrices), s.CatnipFields)
	}
}

func TestRoundingPolicies(t *testing.T) {
	cases := []struct {
		policy RoundingPolicy
		want   float64
	}{
		{RoundNearest, 12},
		{RoundUp, 12},
		{RoundNone, 11.5},
	}

	for _, tc := range cases {
		tuning := defaultTuning()
		tuning.Rounding = tc.policy

		s := NewState(tuning)
		s.Catnip = 10
		next, accepted := TryPurchaseField(tuning, s)
		if !accepted {
			t.Fatalf("policy %s: purchase unexpectedly declined", tc.policy)
		}
		if next.NextFieldPrice != tc.want {
			t.Errorf("policy %s: expected next price %v, got %v", tc.policy, tc.want, next.NextFieldPrice)
		}
	}
}

func TestResetRestoresDefaults(t *testing.T) {
	tuning := defaultTuning()
	s := NewState(tuning)
	s.Catnip = 500
	s.CatnipFields = 7
	s.NextFieldPrice = 30

	s = Reset(tuning)
	if s != NewState(tuning) {
		t.Errorf("expected reset to restore defaults, got %+v", s)
	}
}
