package gamehub

import (
	"fmt"
	"math"
)

type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vector3) Sub(o Vector3) Vector3 { return Vector3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vector3) Add(o Vector3) Vector3 { return Vector3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vector3) Scale(f float64) Vector3 {
	return Vector3{v.X * f, v.Y * f, v.Z * f}
}
func (v Vector3) Length() float64 { return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z) }

type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// Transform is a player's authoritative pose as seen by the room.
type Transform struct {
	ID       string     `json:"id"`
	Position Vector3    `json:"position"`
	Rotation Quaternion `json:"rotation"`
}

// MovementPolicy limits how far a player may move. A zero limit disables that check.
type MovementPolicy struct {
	MaxSpeed            float64
	MaxTeleportDistance float64
}

type MovementResult struct {
	Valid     bool
	Reason    string
	Corrected Vector3
}

// Validator checks proposed moves against a MovementPolicy. It holds no state.
type Validator struct {
	Policy MovementPolicy
}

// Validate judges a move from last to proposed made elapsed seconds after the
// previous accepted one.
func (v Validator) Validate(last, proposed Vector3, elapsed float64) MovementResult {
	if elapsed <= 0 || math.IsNaN(elapsed) {
		return MovementResult{Valid: false, Reason: "invalid elapsed time", Corrected: last}
	}

	delta := proposed.Sub(last)
	distance := delta.Length()

	if limit := v.Policy.MaxSpeed; limit > 0 {
		if speed := distance / elapsed; speed > limit {
			corrected := last.Add(delta.Scale(limit * elapsed / distance))
			return MovementResult{
				Valid:     false,
				Reason:    fmt.Sprintf("speed %.2f exceeds %.2f", speed, limit),
				Corrected: corrected,
			}
		}
	}

	if limit := v.Policy.MaxTeleportDistance; limit > 0 && distance > limit {
		return MovementResult{
			Valid:     false,
			Reason:    fmt.Sprintf("teleport distance %.2f exceeds %.2f", distance, limit),
			Corrected: last,
		}
	}

	return MovementResult{Valid: true, Corrected: proposed}
}
