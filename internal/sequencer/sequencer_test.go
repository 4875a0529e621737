package sequencer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/rahul/kuruma/internal/calibration"
	"github.com/rahul/kuruma/internal/drive"
	"github.com/rahul/kuruma/internal/motion"
	"github.com/rahul/kuruma/internal/observability"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type rig struct {
	rec *drive.Recorder
	eng *drive.Engine
	seq *Sequencer
}

func newRig(t *testing.T, scale float64, opts ...Option) rig {
	t.Helper()
	logger := zaptest.NewLogger(t)
	rec := drive.NewRecorder(logger)
	eng := drive.NewEngine(rec, logger, drive.WithTimeScale(scale))
	return rig{rec: rec, eng: eng, seq: New(eng, motion.DefaultLimits(), logger, opts...)}
}

func validated(t *testing.T, steps ...motion.Action) motion.Plan {
	t.Helper()
	p, err := motion.NewValidator(motion.DefaultLimits()).Validate(motion.Plan{Steps: steps})
	require.NoError(t, err)
	return p
}

func step(dir motion.Direction, speed int, seconds float64) motion.Action {
	return motion.Action{Direction: dir, Target: motion.TargetBoth, SpeedPercent: speed, DurationSeconds: seconds}
}

func TestExecute_ForwardThenTurnRight(t *testing.T) {
	r := newRig(t, 0.01)
	plan := validated(t,
		step(motion.DirectionForward, 50, 2.0),
		step(motion.DirectionTurnRight, 85, 1.0),
	)

	report := r.seq.Execute(context.Background(), plan, calibration.DefaultProfile())

	assert.Equal(t, StateCompleted, report.TerminalState)
	assert.Empty(t, report.FailureDetail)
	assert.Len(t, report.CompletedSteps, 2)
	assert.Nil(t, report.Halted)
	assert.NotEmpty(t, report.ExecutionID)

	assert.Equal(t, []drive.CommandKind{
		drive.CommandDrive, drive.CommandDrive, drive.CommandStop,
		drive.CommandDrive, drive.CommandDrive, drive.CommandStop,
	}, r.rec.Kinds())

	cmds := r.rec.Commands()
	assert.Equal(t, calibration.SpinForward, cmds[0].Spin)
	assert.Equal(t, 50, cmds[0].SpeedPercent)
	assert.Equal(t, drive.WheelLeft, cmds[3].Wheel)
	assert.Equal(t, calibration.SpinBackward, cmds[3].Spin, "turn right runs the left wheel backward")
	assert.Equal(t, drive.WheelRight, cmds[4].Wheel)
	assert.Equal(t, calibration.SpinForward, cmds[4].Spin)
	assert.Equal(t, 85, cmds[4].SpeedPercent)
}

func TestExecute_StopBetweenIdenticalSteps(t *testing.T) {
	r := newRig(t, 0.01)
	plan := validated(t,
		step(motion.DirectionForward, 50, 1.0),
		step(motion.DirectionForward, 50, 1.0),
		step(motion.DirectionForward, 50, 1.0),
	)

	report := r.seq.Execute(context.Background(), plan, calibration.DefaultProfile())
	require.Equal(t, StateCompleted, report.TerminalState)

	kinds := r.rec.Kinds()
	assert.Equal(t, 3, r.rec.Stops())
	assert.Equal(t, drive.CommandStop, kinds[len(kinds)-1])
	for i := 1; i < len(kinds); i++ {
		assert.False(t, kinds[i] == drive.CommandStop && kinds[i-1] == drive.CommandStop, "no doubled stops at %d", i)
	}
}

func TestExecute_AppliesCalibration(t *testing.T) {
	r := newRig(t, 0.01)
	plan := validated(t, step(motion.DirectionForward, 20, 1.0))
	profile := calibration.Profile{LeftCorrection: 1.5, RightCorrection: 1.0, MinimumSpeedPercent: 30}

	report := r.seq.Execute(context.Background(), plan, profile)
	require.Equal(t, StateCompleted, report.TerminalState)

	cmds := r.rec.Commands()
	assert.Equal(t, 30, cmds[0].SpeedPercent, "20*1.5")
	assert.Equal(t, 30, cmds[1].SpeedPercent, "raised to the floor")
	assert.Equal(t, profile, report.Profile)
}

func TestExecute_EmptyPlanStopsOnce(t *testing.T) {
	r := newRig(t, 0.01)

	report := r.seq.Execute(context.Background(), validated(t), calibration.DefaultProfile())

	assert.Equal(t, StateCompleted, report.TerminalState)
	assert.Empty(t, report.CompletedSteps)
	assert.Equal(t, []drive.CommandKind{drive.CommandStop}, r.rec.Kinds())
}

func TestExecute_StopStepBetweenMoves(t *testing.T) {
	r := newRig(t, 0.01)
	plan := validated(t,
		step(motion.DirectionForward, 50, 1.0),
		step(motion.DirectionStop, 0, 0),
		step(motion.DirectionForward, 50, 1.0),
	)

	report := r.seq.Execute(context.Background(), plan, calibration.DefaultProfile())

	require.Equal(t, StateCompleted, report.TerminalState)
	assert.Len(t, report.CompletedSteps, 3)
	// Each move ends with its own stop and the stop step issues one more;
	// no terminal stop is added after the final move's stop.
	assert.Equal(t, []drive.CommandKind{
		drive.CommandDrive, drive.CommandDrive, drive.CommandStop,
		drive.CommandStop,
		drive.CommandDrive, drive.CommandDrive, drive.CommandStop,
	}, r.rec.Kinds())
	assert.True(t, report.CompletedSteps[1].Outcome.Stopped)
}

func TestExecute_IdleFaultDoesNotFailNextPlan(t *testing.T) {
	r := newRig(t, 0.01)
	plan := validated(t, step(motion.DirectionForward, 50, 1.0))

	first := r.seq.Execute(context.Background(), plan, calibration.DefaultProfile())
	require.Equal(t, StateCompleted, first.TerminalState)

	r.rec.InjectFault(errors.New("transient overcurrent while idle"))

	second := r.seq.Execute(context.Background(), plan, calibration.DefaultProfile())
	assert.Equal(t, StateCompleted, second.TerminalState)
	assert.Empty(t, second.FailureDetail)
	assert.Len(t, second.CompletedSteps, 1)
}

func TestExecute_FaultBetweenStepsRefusesNextStep(t *testing.T) {
	var r rig
	r = newRig(t, 0.01, WithProgress(func(_ string, rec StepRecord) {
		if rec.Index == 0 {
			r.rec.InjectFault(errors.New("encoder lost"))
		}
	}))
	plan := validated(t,
		step(motion.DirectionForward, 50, 1.0),
		step(motion.DirectionTurnLeft, 85, 1.0),
	)

	report := r.seq.Execute(context.Background(), plan, calibration.DefaultProfile())

	assert.Equal(t, StateFailedHardware, report.TerminalState)
	assert.Contains(t, report.FailureDetail, "encoder lost")
	assert.Len(t, report.CompletedSteps, 1)
	require.NotNil(t, report.Halted)
	assert.Equal(t, 1, report.Halted.Index)
	assert.False(t, report.Halted.Outcome.Dispatched)
	assert.Equal(t, []drive.CommandKind{drive.CommandDrive, drive.CommandDrive, drive.CommandStop}, r.rec.Kinds())
}

func TestExecute_PublishesStepProgress(t *testing.T) {
	var seen []observability.Status
	r := newRig(t, 0.01, WithProgress(func(_ string, _ StepRecord) {
		seen = append(seen, observability.CurrentStatus())
	}))
	plan := validated(t,
		step(motion.DirectionForward, 50, 1.0),
		step(motion.DirectionBackward, 40, 1.0),
	)

	report := r.seq.Execute(context.Background(), plan, calibration.DefaultProfile())

	require.Len(t, seen, 2)
	for i, st := range seen {
		assert.Equal(t, observability.StateRunning, st.State)
		assert.Equal(t, report.ExecutionID, st.ExecutionID)
		assert.Equal(t, i+1, st.Step)
		assert.Equal(t, 2, st.Steps)
	}
	final := observability.CurrentStatus()
	assert.Equal(t, observability.StateIdle, final.State)
	assert.Empty(t, final.ExecutionID)
}

func TestExecute_RefusesUnvalidatedPlan(t *testing.T) {
	r := newRig(t, 0.01)
	raw := motion.Plan{Steps: []motion.Action{step(motion.DirectionForward, 50, 1.0)}}

	report := r.seq.Execute(context.Background(), raw, calibration.DefaultProfile())

	assert.Equal(t, StateFailedValidation, report.TerminalState)
	assert.NotEmpty(t, report.FailureDetail)
	assert.Empty(t, r.rec.Commands())
}

func TestExecute_RevalidatesAgainstOwnLimits(t *testing.T) {
	logger := zaptest.NewLogger(t)
	rec := drive.NewRecorder(logger)
	eng := drive.NewEngine(rec, logger, drive.WithTimeScale(0.01))
	strict := motion.Limits{MaxSteps: 1, MaxStepSeconds: 10, MaxPlanSeconds: 30}
	seq := New(eng, strict, logger)

	plan := validated(t, step(motion.DirectionForward, 50, 1.0), step(motion.DirectionBackward, 50, 1.0))
	report := seq.Execute(context.Background(), plan, calibration.DefaultProfile())

	assert.Equal(t, StateFailedValidation, report.TerminalState)
	assert.Contains(t, report.FailureDetail, "too_many_steps")
	assert.Empty(t, rec.Commands())
}

func TestExecute_InterruptMidStep(t *testing.T) {
	r := newRig(t, 1)
	plan := validated(t, step(motion.DirectionForward, 50, 2.0), step(motion.DirectionBackward, 50, 1.0))

	var calledAt time.Time
	var mu sync.Mutex
	timer := time.AfterFunc(300*time.Millisecond, func() {
		mu.Lock()
		calledAt = time.Now()
		mu.Unlock()
		r.seq.Interrupt()
	})
	defer timer.Stop()

	report := r.seq.Execute(context.Background(), plan, calibration.DefaultProfile())

	mu.Lock()
	defer mu.Unlock()
	require.False(t, calledAt.IsZero())
	assert.Less(t, report.FinishedAt.Sub(calledAt), 100*time.Millisecond)
	assert.Equal(t, StateInterrupted, report.TerminalState)
	assert.Empty(t, report.CompletedSteps, "the interrupted step is not completed")
	require.NotNil(t, report.Halted)
	assert.Equal(t, 0, report.Halted.Index)
	assert.NotEmpty(t, report.FailureDetail)
	assert.Equal(t, []drive.CommandKind{drive.CommandDrive, drive.CommandDrive, drive.CommandStop}, r.rec.Kinds())
}

func TestExecute_InterruptBetweenSteps(t *testing.T) {
	var r rig
	r = newRig(t, 0.01, WithProgress(func(_ string, rec StepRecord) {
		if rec.Index == 0 {
			r.seq.Interrupt()
		}
	}))
	plan := validated(t, step(motion.DirectionForward, 50, 1.0), step(motion.DirectionBackward, 50, 1.0))

	report := r.seq.Execute(context.Background(), plan, calibration.DefaultProfile())

	assert.Equal(t, StateInterrupted, report.TerminalState)
	assert.Len(t, report.CompletedSteps, 1)
	require.NotNil(t, report.Halted)
	assert.Equal(t, 1, report.Halted.Index)
	assert.False(t, report.Halted.Outcome.Dispatched)
	assert.Equal(t, []drive.CommandKind{drive.CommandDrive, drive.CommandDrive, drive.CommandStop}, r.rec.Kinds(),
		"the first step's stop is the terminal stop")
}

func TestExecute_InterruptWhileIdleIsIgnored(t *testing.T) {
	r := newRig(t, 0.01)
	assert.False(t, r.seq.Interrupt())

	report := r.seq.Execute(context.Background(), validated(t, step(motion.DirectionForward, 50, 1.0)), calibration.DefaultProfile())
	assert.Equal(t, StateCompleted, report.TerminalState)
}

func TestExecute_ContextCancelled(t *testing.T) {
	r := newRig(t, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	report := r.seq.Execute(ctx, validated(t, step(motion.DirectionForward, 50, 2.0)), calibration.DefaultProfile())

	assert.Equal(t, StateInterrupted, report.TerminalState)
	assert.Equal(t, 1, r.rec.Stops())
}

func TestExecute_HardwareErrorFailsFast(t *testing.T) {
	r := newRig(t, 0.01)
	drives := 0
	r.rec.FailWhen(func(c drive.Command) error {
		if c.Kind != drive.CommandDrive {
			return nil
		}
		drives++
		if drives == 3 {
			return errors.New("left driver fault")
		}
		return nil
	})
	plan := validated(t,
		step(motion.DirectionForward, 50, 1.0),
		step(motion.DirectionTurnLeft, 85, 1.0),
		step(motion.DirectionForward, 50, 1.0),
	)

	report := r.seq.Execute(context.Background(), plan, calibration.DefaultProfile())

	assert.Equal(t, StateFailedHardware, report.TerminalState)
	assert.Len(t, report.CompletedSteps, 1)
	require.NotNil(t, report.Halted)
	assert.Equal(t, 1, report.Halted.Index)
	assert.Contains(t, report.FailureDetail, "left driver fault")
	assert.Equal(t, []drive.CommandKind{
		drive.CommandDrive, drive.CommandDrive, drive.CommandStop,
		drive.CommandDrive, drive.CommandStop,
	}, r.rec.Kinds(), "third step never dispatched")
}

func TestExecute_DefensiveStopWhenEngineStopFails(t *testing.T) {
	r := newRig(t, 0.01)
	stops := 0
	r.rec.FailWhen(func(c drive.Command) error {
		if c.Kind == drive.CommandStop {
			stops++
			if stops == 1 {
				return errors.New("bus busy")
			}
		}
		return nil
	})

	report := r.seq.Execute(context.Background(), validated(t, step(motion.DirectionForward, 50, 1.0)), calibration.DefaultProfile())

	assert.Equal(t, StateFailedHardware, report.TerminalState)
	assert.Equal(t, 2, r.rec.Stops(), "the sequencer retries the stop once as the terminal stop")
}

func TestExecute_OnePlanAtATime(t *testing.T) {
	var mu sync.Mutex
	var order []string
	r := newRig(t, 0.02, WithProgress(func(id string, _ StepRecord) {
		mu.Lock()
		order = append(order, id)
		mu.Unlock()
	}))
	plan := validated(t, step(motion.DirectionForward, 50, 1.0), step(motion.DirectionBackward, 50, 1.0))

	reports := make([]Report, 2)
	var wg sync.WaitGroup
	for i := range reports {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reports[i] = r.seq.Execute(context.Background(), plan, calibration.DefaultProfile())
		}(i)
	}
	wg.Wait()

	require.Len(t, order, 4)
	assert.Equal(t, order[0], order[1], "steps of one plan are not interleaved with another")
	assert.Equal(t, order[2], order[3])
	assert.NotEqual(t, order[0], order[2])
	for _, rep := range reports {
		assert.Equal(t, StateCompleted, rep.TerminalState)
	}
}

func TestWhenIdle_WaitsForRunningPlan(t *testing.T) {
	r := newRig(t, 0.05)
	handle := calibration.NewHandle(calibration.DefaultProfile())
	plan := validated(t, step(motion.DirectionForward, 50, 2.0))

	done := make(chan Report, 1)
	go func() {
		done <- r.seq.Execute(context.Background(), plan, handle.Current())
	}()
	require.Eventually(t, r.seq.Running, time.Second, 5*time.Millisecond)

	next := calibration.Profile{LeftCorrection: 1.1, RightCorrection: 0.9, MinimumSpeedPercent: 30}
	require.NoError(t, handle.Swap(context.Background(), r.seq, next))
	swappedAt := time.Now()

	report := <-done
	assert.False(t, swappedAt.Before(report.FinishedAt), "swap must wait until the plan is terminal")
	assert.Equal(t, calibration.DefaultProfile(), report.Profile)
	assert.Equal(t, next, handle.Current())
}

func TestWhenIdle_ContextCancelled(t *testing.T) {
	r := newRig(t, 0.05)
	plan := validated(t, step(motion.DirectionForward, 50, 2.0))

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.seq.Execute(context.Background(), plan, calibration.DefaultProfile())
	}()
	require.Eventually(t, r.seq.Running, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := r.seq.WhenIdle(ctx, func() { t.Error("must not run") })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	<-done
}

func TestReport_Summary(t *testing.T) {
	start := time.Now()
	r := Report{TotalSteps: 2, CompletedSteps: make([]StepRecord, 2), TerminalState: StateCompleted, StartedAt: start, FinishedAt: start.Add(3 * time.Second)}
	assert.Equal(t, "Completed 2 of 2 steps in 3.0s.", r.Summary())

	halted := StepRecord{Index: 0, Action: step(motion.DirectionForward, 50, 2.0)}
	r = Report{TotalSteps: 2, TerminalState: StateInterrupted, Halted: &halted, FailureDetail: "interrupt requested"}
	assert.Equal(t, "Interrupted after 0 of 2 steps. Halted during step 1: forward(both, 50%, 2.0s). (interrupt requested)", r.Summary())
}
