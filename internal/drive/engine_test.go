package drive

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/rahul/kuruma/internal/calibration"
	"github.com/rahul/kuruma/internal/motion"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func forward(seconds float64) calibration.EffectiveAction {
	a := motion.Action{Direction: motion.DirectionForward, Target: motion.TargetBoth, SpeedPercent: 50, DurationSeconds: seconds}
	return calibration.Apply(a, calibration.DefaultProfile())
}

func TestRunStep_Completes(t *testing.T) {
	rec := NewRecorder(zaptest.NewLogger(t))
	eng := NewEngine(rec, zaptest.NewLogger(t))

	out := eng.RunStep(context.Background(), forward(0.05))

	assert.Equal(t, OutcomeCompleted, out.Kind)
	assert.True(t, out.Dispatched)
	assert.True(t, out.Stopped)
	assert.GreaterOrEqual(t, out.Elapsed, 50*time.Millisecond)
	assert.Equal(t, []CommandKind{CommandDrive, CommandDrive, CommandStop}, rec.Kinds())

	cmds := rec.Commands()
	assert.Equal(t, WheelLeft, cmds[0].Wheel)
	assert.Equal(t, WheelRight, cmds[1].Wheel)
	assert.Equal(t, calibration.SpinForward, cmds[0].Spin)
	assert.Equal(t, 50, cmds[0].SpeedPercent)
}

func TestRunStep_InterruptMidStep(t *testing.T) {
	rec := NewRecorder(zaptest.NewLogger(t))
	eng := NewEngine(rec, zaptest.NewLogger(t))

	time.AfterFunc(300*time.Millisecond, eng.Interrupt)

	start := time.Now()
	out := eng.RunStep(context.Background(), forward(2.0))
	elapsed := time.Since(start)

	assert.Equal(t, OutcomeInterrupted, out.Kind)
	assert.Less(t, elapsed, 400*time.Millisecond, "interrupt must cut the step short")
	assert.True(t, out.Stopped)
	assert.Equal(t, CommandStop, rec.Kinds()[len(rec.Kinds())-1])

	// The stop must follow the interrupt promptly.
	cmds := rec.Commands()
	stopAt := cmds[len(cmds)-1].At
	assert.Less(t, stopAt.Sub(start), 400*time.Millisecond)
}

func TestRunStep_PendingInterruptSkipsDispatch(t *testing.T) {
	rec := NewRecorder(zaptest.NewLogger(t))
	eng := NewEngine(rec, zaptest.NewLogger(t))

	eng.Interrupt()
	eng.Interrupt()
	out := eng.RunStep(context.Background(), forward(1.0))

	assert.Equal(t, OutcomeInterrupted, out.Kind)
	assert.False(t, out.Dispatched)
	assert.Empty(t, rec.Commands())

	// A single latched interrupt is consumed.
	out = eng.RunStep(context.Background(), forward(0.01))
	assert.Equal(t, OutcomeCompleted, out.Kind)
}

func TestRunStep_ResetDiscardsInterrupt(t *testing.T) {
	rec := NewRecorder(zaptest.NewLogger(t))
	eng := NewEngine(rec, zaptest.NewLogger(t))

	eng.Interrupt()
	eng.Reset()
	out := eng.RunStep(context.Background(), forward(0.01))
	assert.Equal(t, OutcomeCompleted, out.Kind)
}

func TestRunStep_PendingFaultRefusesDispatch(t *testing.T) {
	rec := NewRecorder(zaptest.NewLogger(t))
	eng := NewEngine(rec, zaptest.NewLogger(t))

	rec.InjectFault(errors.New("bridge overtemperature"))
	out := eng.RunStep(context.Background(), forward(1.0))

	assert.Equal(t, OutcomeHardwareError, out.Kind)
	assert.False(t, out.Dispatched)
	assert.Contains(t, out.Detail, "overtemperature")
	assert.Empty(t, rec.Commands())
}

func TestReset_DiscardsIdleFault(t *testing.T) {
	rec := NewRecorder(zaptest.NewLogger(t))
	eng := NewEngine(rec, zaptest.NewLogger(t))

	rec.InjectFault(errors.New("transient overcurrent"))
	eng.Reset()
	out := eng.RunStep(context.Background(), forward(0.05))

	assert.Equal(t, OutcomeCompleted, out.Kind)
	assert.Equal(t, []CommandKind{CommandDrive, CommandDrive, CommandStop}, rec.Kinds())
}

func TestRunStep_ContextCancel(t *testing.T) {
	rec := NewRecorder(zaptest.NewLogger(t))
	eng := NewEngine(rec, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	out := eng.RunStep(ctx, forward(2.0))
	assert.Equal(t, OutcomeInterrupted, out.Kind)
	assert.True(t, out.Stopped)
	assert.Equal(t, 1, rec.Stops())
}

func TestRunStep_DispatchFailureStops(t *testing.T) {
	rec := NewRecorder(zaptest.NewLogger(t))
	boom := errors.New("driver board not responding")
	rec.FailWhen(func(c Command) error {
		if c.Kind == CommandDrive && c.Wheel == WheelRight {
			return boom
		}
		return nil
	})
	eng := NewEngine(rec, zaptest.NewLogger(t))

	out := eng.RunStep(context.Background(), forward(1.0))

	assert.Equal(t, OutcomeHardwareError, out.Kind)
	assert.ErrorIs(t, out.Err, boom)
	assert.Contains(t, out.Detail, "right wheel")
	assert.True(t, out.Stopped)
	assert.Equal(t, []CommandKind{CommandDrive, CommandDrive, CommandStop}, rec.Kinds())
}

func TestRunStep_FaultDuringStep(t *testing.T) {
	rec := NewRecorder(zaptest.NewLogger(t))
	eng := NewEngine(rec, zaptest.NewLogger(t))

	time.AfterFunc(30*time.Millisecond, func() { rec.InjectFault(errors.New("overcurrent")) })
	out := eng.RunStep(context.Background(), forward(2.0))

	assert.Equal(t, OutcomeHardwareError, out.Kind)
	assert.Contains(t, out.Detail, "overcurrent")
	assert.True(t, out.Stopped)
	assert.Equal(t, 1, rec.Stops())
}

func TestRunStep_StopFailureIsHardwareError(t *testing.T) {
	rec := NewRecorder(zaptest.NewLogger(t))
	rec.FailWhen(func(c Command) error {
		if c.Kind == CommandStop {
			return errors.New("stop ignored")
		}
		return nil
	})
	eng := NewEngine(rec, zaptest.NewLogger(t))

	out := eng.RunStep(context.Background(), forward(0.01))
	assert.Equal(t, OutcomeHardwareError, out.Kind)
	assert.False(t, out.Stopped)
	assert.True(t, out.Dispatched)
}

func TestRunStep_StopStep(t *testing.T) {
	rec := NewRecorder(zaptest.NewLogger(t))
	eng := NewEngine(rec, zaptest.NewLogger(t))

	stop := calibration.Apply(motion.Action{Direction: motion.DirectionStop, Target: motion.TargetBoth}, calibration.DefaultProfile())
	out := eng.RunStep(context.Background(), stop)

	assert.Equal(t, OutcomeCompleted, out.Kind)
	assert.Equal(t, []CommandKind{CommandStop}, rec.Kinds())
}

func TestRunStep_TimeScale(t *testing.T) {
	rec := NewRecorder(zaptest.NewLogger(t))
	eng := NewEngine(rec, zaptest.NewLogger(t), WithTimeScale(0.01))

	start := time.Now()
	out := eng.RunStep(context.Background(), forward(2.0))
	require.Equal(t, OutcomeCompleted, out.Kind)
	assert.Less(t, time.Since(start), time.Second)
}

func TestStepOutcome_String(t *testing.T) {
	assert.Equal(t, "completed", StepOutcome{Kind: OutcomeCompleted}.String())
	assert.Equal(t, "hardware_error(bus off)", StepOutcome{Kind: OutcomeHardwareError, Detail: "bus off"}.String())
}
