package drive

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rahul/kuruma/internal/calibration"
)

// OutcomeKind classifies how a step ended.
type OutcomeKind string

const (
	OutcomeCompleted     OutcomeKind = "completed"
	OutcomeInterrupted   OutcomeKind = "interrupted"
	OutcomeHardwareError OutcomeKind = "hardware_error"
)

// StepOutcome is the result of RunStep.
type StepOutcome struct {
	Kind    OutcomeKind   `json:"kind"`
	Detail  string        `json:"detail,omitempty"`
	Err     error         `json:"-"`
	Elapsed time.Duration `json:"elapsed"`
	// Dispatched is false when the step ended before any command was sent.
	Dispatched bool `json:"dispatched"`
	// Stopped is true when the final stop command of the step succeeded.
	Stopped bool `json:"stopped"`
}

func (o StepOutcome) String() string {
	if o.Detail == "" {
		return string(o.Kind)
	}
	return fmt.Sprintf("%s(%s)", o.Kind, o.Detail)
}

// Option configures an Engine.
type Option func(*Engine)

// WithTimeScale multiplies every step duration. Used for simulation and
// tests; hardware runs at scale 1.
func WithTimeScale(scale float64) Option {
	return func(e *Engine) {
		if scale > 0 {
			e.timeScale = scale
		}
	}
}

// Engine executes one step at a time against an Actuator.
type Engine struct {
	actuator  Actuator
	faults    <-chan error
	interrupt chan struct{}
	timeScale float64
	logger    *zap.Logger
}

func NewEngine(actuator Actuator, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		actuator:  actuator,
		interrupt: make(chan struct{}, 1),
		timeScale: 1,
		logger:    logger.Named("drive"),
	}
	if fr, ok := actuator.(FaultReporter); ok {
		e.faults = fr.Faults()
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Interrupt cuts the running step short. It never blocks and may be called
// from any goroutine. An interrupt that arrives while no step is running
// aborts the next step before it dispatches anything.
func (e *Engine) Interrupt() {
	select {
	case e.interrupt <- struct{}{}:
	default:
	}
}

// Reset discards a pending interrupt and any fault reported while no plan
// was running, so a new plan starts from a clean slate.
func (e *Engine) Reset() {
	select {
	case <-e.interrupt:
	default:
	}
	for range cap(e.faults) + 1 {
		select {
		case err := <-e.faults:
			e.logger.Warn("Discarding fault reported while idle", zap.Error(err))
		default:
			return
		}
	}
}

// Stop commands both wheels to stop.
func (e *Engine) Stop() error {
	if err := e.actuator.Stop(); err != nil {
		e.logger.Error("Stop command failed", zap.Error(err))
		return fmt.Errorf("stop: %w", err)
	}
	return nil
}

// RunStep drives the wheels for the step duration and blocks until it
// elapses, the engine is interrupted, ctx is done or the actuator reports a
// fault. Every path that dispatched a command ends with a stop command.
func (e *Engine) RunStep(ctx context.Context, eff calibration.EffectiveAction) StepOutcome {
	start := time.Now()
	finish := func(o StepOutcome) StepOutcome {
		o.Elapsed = time.Since(start)
		return o
	}

	select {
	case <-e.interrupt:
		return finish(StepOutcome{Kind: OutcomeInterrupted, Detail: "interrupted before dispatch"})
	case <-ctx.Done():
		return finish(StepOutcome{Kind: OutcomeInterrupted, Detail: ctx.Err().Error()})
	case err := <-e.faults:
		// A fault raised between steps refuses the next one before any
		// wheel is driven.
		return finish(StepOutcome{Kind: OutcomeHardwareError, Detail: err.Error(), Err: err})
	default:
	}

	if eff.IsStop() {
		if err := e.Stop(); err != nil {
			return finish(hardwareOutcome(err))
		}
		return finish(StepOutcome{Kind: OutcomeCompleted, Dispatched: true, Stopped: true})
	}

	if err := e.dispatch(eff); err != nil {
		out := hardwareOutcome(err)
		out.Stopped = e.Stop() == nil
		return finish(out)
	}

	timer := time.NewTimer(e.scaled(eff.Duration))
	defer timer.Stop()

	out := StepOutcome{Kind: OutcomeCompleted, Dispatched: true}
	select {
	case <-timer.C:
	case <-e.interrupt:
		out.Kind = OutcomeInterrupted
		out.Detail = "interrupt requested"
	case <-ctx.Done():
		out.Kind = OutcomeInterrupted
		out.Detail = ctx.Err().Error()
	case err := <-e.faults:
		out = hardwareOutcome(err)
	}

	if err := e.Stop(); err != nil {
		if out.Kind == OutcomeHardwareError {
			out.Detail = fmt.Sprintf("%s; %v", out.Detail, err)
			return finish(out)
		}
		return finish(hardwareOutcome(err))
	}
	out.Stopped = true
	return finish(out)
}

func (e *Engine) dispatch(eff calibration.EffectiveAction) error {
	e.logger.Debug("Dispatching step",
		zap.String("direction", string(eff.Action.Direction)),
		zap.String("left", fmt.Sprintf("%s@%d", eff.Left.Spin, eff.Left.SpeedPercent)),
		zap.String("right", fmt.Sprintf("%s@%d", eff.Right.Spin, eff.Right.SpeedPercent)),
		zap.Duration("duration", eff.Duration),
	)
	if err := e.actuator.Drive(WheelLeft, eff.Left.Spin, eff.Left.SpeedPercent); err != nil {
		return fmt.Errorf("drive left wheel: %w", err)
	}
	if err := e.actuator.Drive(WheelRight, eff.Right.Spin, eff.Right.SpeedPercent); err != nil {
		return fmt.Errorf("drive right wheel: %w", err)
	}
	return nil
}

func (e *Engine) scaled(d time.Duration) time.Duration {
	return time.Duration(float64(d) * e.timeScale)
}

func hardwareOutcome(err error) StepOutcome {
	return StepOutcome{Kind: OutcomeHardwareError, Detail: err.Error(), Err: err, Dispatched: true}
}
