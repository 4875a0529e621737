// Package sequencer runs validated plans one step at a time, one plan at a
// time, and reports what happened.
package sequencer

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/rahul/kuruma/internal/calibration"
	"github.com/rahul/kuruma/internal/drive"
	"github.com/rahul/kuruma/internal/motion"
	"github.com/rahul/kuruma/internal/observability"
)

// ProgressFunc is called after every attempted step.
type ProgressFunc func(executionID string, rec StepRecord)

type Option func(*Sequencer)

func WithProgress(fn ProgressFunc) Option {
	return func(s *Sequencer) { s.progress = fn }
}

func WithEventLog(events *observability.EventLog) Option {
	return func(s *Sequencer) { s.events = events }
}

// Sequencer executes plans on an Engine. Only one plan runs at a time; a
// second Execute blocks until the first reaches a terminal state.
type Sequencer struct {
	engine    *drive.Engine
	validator *motion.Validator
	run       *semaphore.Weighted
	running   atomic.Bool
	progress  ProgressFunc
	events    *observability.EventLog
	logger    *zap.Logger
}

func New(engine *drive.Engine, limits motion.Limits, logger *zap.Logger, opts ...Option) *Sequencer {
	s := &Sequencer{
		engine:    engine,
		validator: motion.NewValidator(limits),
		run:       semaphore.NewWeighted(1),
		logger:    logger.Named("sequencer"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Interrupt cuts the running plan short. It returns false, and does
// nothing, when no plan is running.
func (s *Sequencer) Interrupt() bool {
	if !s.running.Load() {
		return false
	}
	s.logger.Info("Interrupt requested")
	s.engine.Interrupt()
	return true
}

func (s *Sequencer) Running() bool {
	return s.running.Load()
}

// WhenIdle runs fn while holding the run lock, so no plan is executing
// while fn runs.
func (s *Sequencer) WhenIdle(ctx context.Context, fn func()) error {
	if err := s.run.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("wait for idle: %w", err)
	}
	defer s.run.Release(1)
	fn()
	return nil
}

// Execute runs plan with the given calibration profile. Cancelling ctx
// interrupts the plan like Interrupt does.
func (s *Sequencer) Execute(ctx context.Context, plan motion.Plan, profile calibration.Profile) Report {
	report := Report{
		ExecutionID:    uuid.NewString(),
		TotalSteps:     len(plan.Steps),
		CompletedSteps: []StepRecord{},
		Profile:        profile,
		StartedAt:      time.Now(),
	}
	logger := s.logger.With(zap.String("execution_id", report.ExecutionID))

	if err := s.run.Acquire(ctx, 1); err != nil {
		return s.finish(logger, report, StateInterrupted, fmt.Sprintf("waiting for previous plan: %v", err))
	}
	defer s.run.Release(1)

	if !plan.Validated() {
		return s.finish(logger, report, StateFailedValidation, "plan has not been validated")
	}
	if _, err := s.validator.Validate(plan); err != nil {
		return s.finish(logger, report, StateFailedValidation, err.Error())
	}
	if err := profile.Validate(); err != nil {
		return s.finish(logger, report, StateFailedValidation, err.Error())
	}

	s.engine.Reset()
	s.running.Store(true)
	defer s.running.Store(false)
	observability.SetProgress(report.ExecutionID, 0, len(plan.Steps), plan.String())
	defer observability.SetStatus(observability.StateIdle, "")

	logger.Info("Executing plan",
		zap.Int("steps", len(plan.Steps)),
		zap.Float64("estimated_seconds", plan.EstimatedDuration()),
		zap.Stringer("profile", profile),
	)

	// stopped is true when the last command sent was a successful stop.
	stopped := false
	state, detail := StateCompleted, ""

	for i, action := range plan.Steps {
		rec := StepRecord{Index: i, Action: action, Effective: calibration.Apply(action, profile)}
		observability.SetProgress(report.ExecutionID, i+1, len(plan.Steps), action.String())

		rec.Outcome = s.engine.RunStep(ctx, rec.Effective)
		if rec.Outcome.Dispatched {
			stopped = rec.Outcome.Stopped
		}
		s.report(report.ExecutionID, rec)

		if rec.Outcome.Kind == drive.OutcomeCompleted {
			report.CompletedSteps = append(report.CompletedSteps, rec)
			continue
		}

		halted := rec
		report.Halted = &halted
		detail = rec.Outcome.Detail
		if rec.Outcome.Kind == drive.OutcomeInterrupted {
			state = StateInterrupted
		} else {
			state = StateFailedHardware
		}
		break
	}

	if !stopped {
		if err := s.engine.Stop(); err != nil {
			logger.Error("Terminal stop failed", zap.Error(err))
			if state == StateCompleted {
				state = StateFailedHardware
				detail = err.Error()
			} else {
				detail = fmt.Sprintf("%s; %v", detail, err)
			}
		}
	}

	return s.finish(logger, report, state, detail)
}

func (s *Sequencer) report(executionID string, rec StepRecord) {
	s.logger.Info("Step finished",
		zap.String("execution_id", executionID),
		zap.Int("index", rec.Index),
		zap.Stringer("action", rec.Action),
		zap.Stringer("outcome", rec.Outcome),
		zap.Duration("elapsed", rec.Outcome.Elapsed),
	)
	if s.events != nil {
		s.events.LogStep(executionID, rec.Index, rec.Action.String(), rec.Outcome.String())
	}
	if s.progress != nil {
		s.progress(executionID, rec)
	}
}

func (s *Sequencer) finish(logger *zap.Logger, r Report, state TerminalState, detail string) Report {
	r.TerminalState = state
	r.FailureDetail = detail
	r.FinishedAt = time.Now()

	fields := []zap.Field{
		zap.String("terminal_state", string(state)),
		zap.Int("completed", len(r.CompletedSteps)),
		zap.Int("total", r.TotalSteps),
		zap.Duration("duration", r.Duration()),
	}
	if state == StateCompleted {
		logger.Info("Plan finished", fields...)
	} else {
		logger.Warn("Plan halted", append(fields, zap.String("detail", detail))...)
	}
	if s.events != nil {
		s.events.LogExecution("", r.ExecutionID, string(state), detail)
	}
	return r
}
