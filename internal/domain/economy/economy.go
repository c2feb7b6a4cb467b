// Package economy defines the per-participant resource model.
// This package is PURE and must NOT import any infrastructure packages
// (network, events, platform, storage).
package economy

import (
	"fmt"
	"math"
)

// RoundingPolicy controls how the next field price is rounded after a
// purchase. Changing the policy changes long-run prices, so it is part of the
// persisted tuning contract.
type RoundingPolicy string

const (
	RoundNearest RoundingPolicy = "round"
	RoundUp      RoundingPolicy = "ceil"
	RoundNone    RoundingPolicy = "none"
)

// Tuning holds the constants the economy formulas run on. One Tuning is
// shared by every participant; it never changes mid-session.
type Tuning struct {
	BaseRatePerSecond     float64
	PerFieldRatePerSecond float64
	BaseFieldPrice        float64
	PriceMultiplier       float64 // must be > 1
	StorageCap            float64
	Rounding              RoundingPolicy
}

// State is one participant's economic state. It is a value type: callers
// receive copies and hand mutated copies back to the store.
type State struct {
	Catnip         float64 `json:"catnip"`
	CatnipFields   int     `json:"catnip_fields"`
	NextFieldPrice float64 `json:"next_field_price"`
}

// NewState returns the configured starting state for a fresh participant.
func NewState(t Tuning) State {
	return State{
		Catnip:         0,
		CatnipFields:   0,
		NextFieldPrice: t.BaseFieldPrice,
	}
}

// ProductionPerSecond returns the participant's current generation rate.
func (s State) ProductionPerSecond(t Tuning) float64 {
	return t.BaseRatePerSecond + float64(s.CatnipFields)*t.PerFieldRatePerSecond
}

// ApplyProduction adds elapsedSeconds worth of generation to the state and
// clamps the result to [0, StorageCap]. A negative or non-finite elapsed time
// is a programming error, not a recoverable condition, and panics.
func ApplyProduction(t Tuning, s State, elapsedSeconds float64) State {
	if elapsedSeconds < 0 || math.IsNaN(elapsedSeconds) || math.IsInf(elapsedSeconds, 0) {
		panic(fmt.Sprintf("economy: invalid time delta %v", elapsedSeconds))
	}

	s.Catnip += elapsedSeconds * s.ProductionPerSecond(t)
	if s.Catnip > t.StorageCap {
		s.Catnip = t.StorageCap
	}
	if s.Catnip < 0 {
		s.Catnip = 0
	}
	return s
}

// TryPurchaseField attempts to buy one field. On success the price is
// deducted, the field count incremented, and the next price compounded by the
// multiplier. On failure the state is returned unchanged so the caller can
// surface the current price and balance.
func TryPurchaseField(t Tuning, s State) (State, bool) {
	if s.Catnip < s.NextFieldPrice {
		return s, false
	}

	s.Catnip -= s.NextFieldPrice
	s.CatnipFields++
	s.NextFieldPrice = roundPrice(t, s.NextFieldPrice*t.PriceMultiplier)
	return s, true
}

// Reset returns the configured default starting state. Used by the
// administrative reset path.
func Reset(t Tuning) State {
	return NewState(t)
}

func roundPrice(t Tuning, price float64) float64 {
	switch t.Rounding {
	case RoundUp:
		return math.Ceil(price)
	case RoundNone:
		return price
	default:
		return math.Round(price)
	}
}
