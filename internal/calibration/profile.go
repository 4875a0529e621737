package calibration

import (
	"fmt"
	"math"
	"time"

	"github.com/rahul/kuruma/internal/motion"
)

// DefaultMinimumSpeedPercent is the lowest duty cycle that still moves the
// chassis on the reference motors.
const DefaultMinimumSpeedPercent = 30

// Profile holds per-wheel speed corrections and the minimum viable speed.
type Profile struct {
	LeftCorrection      float64 `yaml:"left_correction" json:"left_correction"`
	RightCorrection     float64 `yaml:"right_correction" json:"right_correction"`
	MinimumSpeedPercent int     `yaml:"minimum_speed_percent" json:"minimum_speed_percent"`
}

func DefaultProfile() Profile {
	return Profile{
		LeftCorrection:      1.0,
		RightCorrection:     1.0,
		MinimumSpeedPercent: DefaultMinimumSpeedPercent,
	}
}

func (p Profile) Validate() error {
	if !(p.LeftCorrection > 0) || math.IsInf(p.LeftCorrection, 0) {
		return fmt.Errorf("left_correction must be positive, got %v", p.LeftCorrection)
	}
	if !(p.RightCorrection > 0) || math.IsInf(p.RightCorrection, 0) {
		return fmt.Errorf("right_correction must be positive, got %v", p.RightCorrection)
	}
	if p.MinimumSpeedPercent < 0 || p.MinimumSpeedPercent > 100 {
		return fmt.Errorf("minimum_speed_percent must be within [0,100], got %d", p.MinimumSpeedPercent)
	}
	return nil
}

func (p Profile) String() string {
	return fmt.Sprintf("left=%.2f right=%.2f min=%d%%", p.LeftCorrection, p.RightCorrection, p.MinimumSpeedPercent)
}

// Spin is the rotation a single wheel is commanded to.
type Spin string

const (
	SpinForward  Spin = "forward"
	SpinBackward Spin = "backward"
	SpinIdle     Spin = "idle"
)

// WheelCommand is what one wheel is actually driven with.
type WheelCommand struct {
	Spin         Spin `json:"spin"`
	SpeedPercent int  `json:"speed_percent"`
}

var idle = WheelCommand{Spin: SpinIdle}

// EffectiveAction is an action with calibrated per-wheel commands.
type EffectiveAction struct {
	Action   motion.Action `json:"action"`
	Left     WheelCommand  `json:"left"`
	Right    WheelCommand  `json:"right"`
	Duration time.Duration `json:"duration"`
}

func (e EffectiveAction) IsStop() bool {
	return e.Action.Direction == motion.DirectionStop
}

// spinsFor encodes how each direction maps onto the two wheels. Turning in
// place drives the wheels in opposite directions: turn_left runs the left
// wheel backward and the right wheel forward.
func spinsFor(d motion.Direction) (left, right Spin) {
	switch d {
	case motion.DirectionForward:
		return SpinForward, SpinForward
	case motion.DirectionBackward:
		return SpinBackward, SpinBackward
	case motion.DirectionTurnLeft:
		return SpinBackward, SpinForward
	case motion.DirectionTurnRight:
		return SpinForward, SpinBackward
	}
	return SpinIdle, SpinIdle
}

// Apply computes the wheel commands actually dispatched for an action.
func Apply(a motion.Action, p Profile) EffectiveAction {
	eff := EffectiveAction{Action: a, Left: idle, Right: idle}
	if a.Direction == motion.DirectionStop {
		return eff
	}
	eff.Duration = time.Duration(a.DurationSeconds * float64(time.Second))

	leftSpin, rightSpin := spinsFor(a.Direction)
	if a.Target == motion.TargetBoth || a.Target == motion.TargetLeft {
		eff.Left = wheel(leftSpin, a.SpeedPercent, p.LeftCorrection, p.MinimumSpeedPercent)
	}
	if a.Target == motion.TargetBoth || a.Target == motion.TargetRight {
		eff.Right = wheel(rightSpin, a.SpeedPercent, p.RightCorrection, p.MinimumSpeedPercent)
	}
	return eff
}

func wheel(spin Spin, speed int, correction float64, floor int) WheelCommand {
	s := CorrectedSpeed(speed, correction, floor)
	if s == 0 {
		return idle
	}
	return WheelCommand{Spin: spin, SpeedPercent: s}
}

// CorrectedSpeed applies a correction multiplier and the minimum speed floor.
// A zero request stays zero; the result never leaves [0,100].
func CorrectedSpeed(speed int, correction float64, floor int) int {
	if speed <= 0 {
		return 0
	}
	corrected := math.Trunc(float64(speed) * correction)
	if corrected < float64(floor) {
		corrected = float64(floor)
	}
	if corrected > 100 {
		corrected = 100
	}
	if corrected < 0 {
		corrected = 0
	}
	return int(corrected)
}
