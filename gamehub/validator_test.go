package gamehub

import (
	"math"
	"testing"
)

func near(a, b Vector3) bool {
	return math.Abs(a.X-b.X) < 1e-9 && math.Abs(a.Y-b.Y) < 1e-9 && math.Abs(a.Z-b.Z) < 1e-9
}

func TestValidatorAcceptsWithinLimits(t *testing.T) {
	v := Validator{Policy: MovementPolicy{MaxSpeed: 10, MaxTeleportDistance: 20}}
	got := v.Validate(Vector3{}, Vector3{X: 3, Z: 4}, 1)
	if !got.Valid || got.Corrected != (Vector3{X: 3, Z: 4}) {
		t.Fatalf("Validate = %+v", got)
	}
}

func TestValidatorClampsSpeed(t *testing.T) {
	v := Validator{Policy: MovementPolicy{MaxSpeed: 5}}
	got := v.Validate(Vector3{X: 1}, Vector3{X: 21}, 2)
	if got.Valid {
		t.Fatal("a move at 10 u/s should exceed 5 u/s")
	}
	if want := (Vector3{X: 11}); !near(got.Corrected, want) {
		t.Fatalf("Corrected = %+v, want %+v", got.Corrected, want)
	}
}

func TestValidatorRejectsTeleport(t *testing.T) {
	v := Validator{Policy: MovementPolicy{MaxTeleportDistance: 3}}
	last := Vector3{X: 1, Y: 1}
	got := v.Validate(last, Vector3{X: 10, Y: 1}, 60)
	if got.Valid || got.Corrected != last {
		t.Fatalf("Validate = %+v, want rejection back to %+v", got, last)
	}
}

func TestValidatorRejectsBadElapsed(t *testing.T) {
	v := Validator{}
	last := Vector3{Y: 2}
	for _, elapsed := range []float64{0, -1, math.NaN()} {
		got := v.Validate(last, Vector3{Y: 3}, elapsed)
		if got.Valid || got.Corrected != last {
			t.Errorf("elapsed=%v: Validate = %+v", elapsed, got)
		}
	}
}

func TestValidatorZeroPolicyAllowsAnything(t *testing.T) {
	got := Validator{}.Validate(Vector3{}, Vector3{X: 1e6}, 0.001)
	if !got.Valid {
		t.Fatalf("Validate = %+v", got)
	}
}
