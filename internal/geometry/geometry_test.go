package geometry

import (
	"math"
	"testing"
)

func TestVecArithmetic(t *testing.T) {
	v := Vec2{X: 3, Y: 4}
	if got := v.Len(); got != 5 {
		t.Fatalf("expected length 5, got %v", got)
	}
	if got := v.Add(Vec2{X: 1, Y: -1}); got != (Vec2{X: 4, Y: 3}) {
		t.Fatalf("unexpected sum %+v", got)
	}
	if got := v.Sub(Vec2{X: 3, Y: 0}); got != (Vec2{X: 0, Y: 4}) {
		t.Fatalf("unexpected difference %+v", got)
	}
	if got := v.Scale(0.5); got != (Vec2{X: 1.5, Y: 2}) {
		t.Fatalf("unexpected scaled vector %+v", got)
	}
	if got := Distance(Vec2{}, v); got != 5 {
		t.Fatalf("expected distance 5, got %v", got)
	}
}

func TestFinite(t *testing.T) {
	if !(Vec2{X: 1, Y: 2}).Finite() {
		t.Fatalf("expected finite vector")
	}
	for _, v := range []Vec2{{X: math.NaN()}, {Y: math.Inf(1)}, {X: math.Inf(-1)}} {
		if v.Finite() {
			t.Fatalf("expected %+v to be non-finite", v)
		}
	}
}

func TestClamp(t *testing.T) {
	cases := []struct{ in, want float64 }{{-1, 0}, {0.5, 0.5}, {3, 1}}
	for _, tc := range cases {
		if got := Clamp(tc.in, 0, 1); got != tc.want {
			t.Fatalf("Clamp(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
