// Package drive turns calibrated actions into timed actuator commands.
package drive

import (
	"github.com/rahul/kuruma/internal/calibration"
)

// Wheel identifies one side of the differential drive.
type Wheel string

const (
	WheelLeft  Wheel = "left"
	WheelRight Wheel = "right"
)

// Actuator is the hardware boundary. Calls are synchronous and expected to
// return quickly compared to step durations.
type Actuator interface {
	Drive(wheel Wheel, spin calibration.Spin, speedPercent int) error
	Stop() error
}

// FaultReporter is implemented by actuators that can report asynchronous
// faults while a step is running.
type FaultReporter interface {
	Faults() <-chan error
}
