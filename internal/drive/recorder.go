package drive

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rahul/kuruma/internal/calibration"
)

// CommandKind distinguishes recorded actuator calls.
type CommandKind string

const (
	CommandDrive CommandKind = "drive"
	CommandStop  CommandKind = "stop"
)

// Command is one actuator call as seen by the Recorder.
type Command struct {
	Kind         CommandKind      `json:"kind"`
	Wheel        Wheel            `json:"wheel,omitempty"`
	Spin         calibration.Spin `json:"spin,omitempty"`
	SpeedPercent int              `json:"speed_percent,omitempty"`
	At           time.Time        `json:"at"`
}

// recorderHistory is how many commands a Recorder keeps. Older ones are
// dropped.
const recorderHistory = 4096

// Recorder is an in-memory actuator. It backs the "sim" actuator kind for
// dry runs and is the fake used throughout the tests.
type Recorder struct {
	mu       sync.Mutex
	commands []Command
	keep     int
	failWhen func(Command) error
	faults   chan error
	logger   *zap.Logger
}

func NewRecorder(logger *zap.Logger) *Recorder {
	return &Recorder{
		faults: make(chan error, 1),
		keep:   recorderHistory,
		logger: logger.Named("sim_actuator"),
	}
}

// FailWhen makes the recorder return fn's error for matching commands.
// Failed commands are still recorded.
func (r *Recorder) FailWhen(fn func(Command) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failWhen = fn
}

// InjectFault simulates an asynchronous hardware fault.
func (r *Recorder) InjectFault(err error) {
	select {
	case r.faults <- err:
	default:
	}
}

func (r *Recorder) Faults() <-chan error {
	return r.faults
}

func (r *Recorder) Drive(wheel Wheel, spin calibration.Spin, speedPercent int) error {
	return r.record(Command{Kind: CommandDrive, Wheel: wheel, Spin: spin, SpeedPercent: speedPercent})
}

func (r *Recorder) Stop() error {
	return r.record(Command{Kind: CommandStop})
}

func (r *Recorder) record(c Command) error {
	c.At = time.Now()
	r.mu.Lock()
	r.commands = append(r.commands, c)
	if len(r.commands) > r.keep {
		n := copy(r.commands, r.commands[len(r.commands)-r.keep:])
		r.commands = r.commands[:n]
	}
	fail := r.failWhen
	r.mu.Unlock()

	r.logger.Debug("Actuator command",
		zap.String("kind", string(c.Kind)),
		zap.String("wheel", string(c.Wheel)),
		zap.String("spin", string(c.Spin)),
		zap.Int("speed", c.SpeedPercent),
	)
	if fail != nil {
		return fail(c)
	}
	return nil
}

// Commands returns a copy of the most recent commands, oldest first.
func (r *Recorder) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Command(nil), r.commands...)
}

// Stops counts recorded stop commands.
func (r *Recorder) Stops() int {
	n := 0
	for _, c := range r.Commands() {
		if c.Kind == CommandStop {
			n++
		}
	}
	return n
}

// Kinds returns the recorded command kinds in order, e.g. drive, drive, stop.
func (r *Recorder) Kinds() []CommandKind {
	cmds := r.Commands()
	kinds := make([]CommandKind, len(cmds))
	for i, c := range cmds {
		kinds[i] = c.Kind
	}
	return kinds
}
