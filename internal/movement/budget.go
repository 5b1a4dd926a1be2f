// Package movement implements the per-round movement budget rules.
//
// Every function here is pure and deterministic so that a client predicting
// its own movement and the server confirming it derive identical numbers from
// identical inputs.
package movement

import (
	"math"

	"dragons-keep/server/internal/geometry"
)

// Consume spends distance from budget.
//
// A non-positive request or an exhausted budget is a no-op that returns
// (0, budget). A request that fits is applied in full. A request that exceeds
// the budget is truncated to exactly the remaining budget and the budget
// drops to zero. An infinite request exhausts the budget.
func Consume(budget, distance float64) (applied, remaining float64) {
	if !(distance > 0) {
		return 0, budget
	}
	if !(budget > 0) {
		return 0, budget
	}
	if distance <= budget {
		return distance, budget - distance
	}
	return budget, 0
}

// Fraction reports how much of a requested distance Consume would apply,
// in [0, 1]. Partial moves yield exactly budget/distance.
func Fraction(budget, distance float64) float64 {
	if !(distance > 0) || !(budget > 0) {
		return 0
	}
	if distance <= budget {
		return 1
	}
	return budget / distance
}

// Step is the outcome of applying a displacement vector against a budget.
type Step struct {
	Applied   geometry.Vec2 `json:"applied"`
	Distance  float64       `json:"distance"`
	Fraction  float64       `json:"fraction"`
	Remaining float64       `json:"remaining"`
}

// Truncated reports whether the requested displacement was cut short.
func (s Step) Truncated() bool {
	return s.Fraction > 0 && s.Fraction < 1
}

// Apply runs Consume on the length of displacement and scales the vector by
// the applied fraction, so the actor slides to a stop at the edge of reach.
func Apply(budget float64, displacement geometry.Vec2) Step {
	if !displacement.Finite() {
		return Step{Remaining: budget}
	}
	requested := displacement.Len()
	applied, remaining := Consume(budget, requested)
	fraction := Fraction(budget, requested)
	if math.IsInf(requested, 1) && budget > 0 {
		fraction = overflowFraction(budget, displacement)
	}
	step := Step{Distance: applied, Fraction: fraction, Remaining: remaining}
	switch {
	case fraction == 1:
		step.Applied = displacement
	case fraction > 0:
		step.Applied = displacement.Scale(fraction)
	}
	return step
}

// overflowFraction computes budget/|d| for a finite d whose length overflows,
// scaling the components down first.
func overflowFraction(budget float64, d geometry.Vec2) float64 {
	m := math.Max(math.Abs(d.X), math.Abs(d.Y))
	return (budget / m) / math.Hypot(d.X/m, d.Y/m)
}

// ResetForNewRound returns the budget a player starts a round with. It does
// not depend on any leftover budget. Negative speeds clamp to zero.
func ResetForNewRound(defaultSpeed float64) float64 {
	if math.IsNaN(defaultSpeed) || defaultSpeed < 0 {
		return 0
	}
	return defaultSpeed
}
