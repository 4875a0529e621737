package motion

import (
	"fmt"
	"strings"
)

// Direction is the motion a step asks the chassis to perform.
type Direction string

const (
	DirectionForward   Direction = "forward"
	DirectionBackward  Direction = "backward"
	DirectionTurnLeft  Direction = "turn_left"
	DirectionTurnRight Direction = "turn_right"
	DirectionStop      Direction = "stop"
)

// AllDirections returns every direction in declaration order.
func AllDirections() []Direction {
	return []Direction{
		DirectionForward,
		DirectionBackward,
		DirectionTurnLeft,
		DirectionTurnRight,
		DirectionStop,
	}
}

func (d Direction) Valid() bool {
	switch d {
	case DirectionForward, DirectionBackward, DirectionTurnLeft, DirectionTurnRight, DirectionStop:
		return true
	}
	return false
}

// Target selects which wheel(s) a step addresses.
type Target string

const (
	TargetBoth  Target = "both"
	TargetLeft  Target = "left"
	TargetRight Target = "right"
)

// AllTargets returns every target in declaration order.
func AllTargets() []Target {
	return []Target{TargetBoth, TargetLeft, TargetRight}
}

func (t Target) Valid() bool {
	switch t {
	case TargetBoth, TargetLeft, TargetRight:
		return true
	}
	return false
}

// Action is one atomic, timed motor command.
type Action struct {
	Direction       Direction `json:"direction" yaml:"direction"`
	Target          Target    `json:"target" yaml:"target"`
	SpeedPercent    int       `json:"speed_percent" yaml:"speed_percent"`
	DurationSeconds float64   `json:"duration_seconds" yaml:"duration_seconds"`
	Description     string    `json:"description,omitempty" yaml:"description,omitempty"`
}

// EffectiveDuration is the time the step occupies. Stop is immediate.
func (a Action) EffectiveDuration() float64 {
	if a.Direction == DirectionStop {
		return 0
	}
	return a.DurationSeconds
}

func (a Action) String() string {
	if a.Direction == DirectionStop {
		return "stop"
	}
	return fmt.Sprintf("%s(%s, %d%%, %.1fs)", a.Direction, a.Target, a.SpeedPercent, a.DurationSeconds)
}

// Plan is the ordered sequence of actions derived from one instruction.
// Steps are executed in slice order and never reordered.
type Plan struct {
	Steps     []Action `json:"steps"`
	Summary   string   `json:"summary,omitempty"`
	RawSource string   `json:"raw_source,omitempty"`

	validated bool
}

// Validated reports whether the plan came out of Validator.Validate.
func (p Plan) Validated() bool {
	return p.validated
}

// EstimatedDuration is the sum of the step durations in seconds.
func (p Plan) EstimatedDuration() float64 {
	var total float64
	for _, s := range p.Steps {
		total += s.EffectiveDuration()
	}
	return total
}

func (p Plan) IsEmpty() bool {
	return len(p.Steps) == 0
}

func (p Plan) String() string {
	parts := make([]string, 0, len(p.Steps))
	for _, s := range p.Steps {
		parts = append(parts, s.String())
	}
	return "[" + strings.Join(parts, " -> ") + "]"
}
