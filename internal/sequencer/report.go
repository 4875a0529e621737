package sequencer

import (
	"fmt"
	"strings"
	"time"

	"github.com/rahul/kuruma/internal/calibration"
	"github.com/rahul/kuruma/internal/drive"
	"github.com/rahul/kuruma/internal/motion"
)

// TerminalState is how an execution ended.
type TerminalState string

const (
	StateCompleted        TerminalState = "completed"
	StateInterrupted      TerminalState = "interrupted"
	StateFailedValidation TerminalState = "failed_validation"
	StateFailedHardware   TerminalState = "failed_hardware"
)

// StepRecord is one attempted step and how it ended.
type StepRecord struct {
	Index     int                         `json:"index"`
	Action    motion.Action               `json:"action"`
	Effective calibration.EffectiveAction `json:"effective"`
	Outcome   drive.StepOutcome           `json:"outcome"`
}

// Report is the result of one Execute call.
//
// CompletedSteps only holds steps whose outcome was completed. The step that
// was running when execution halted, if any, is kept in Halted.
type Report struct {
	ExecutionID    string              `json:"execution_id"`
	TotalSteps     int                 `json:"total_steps"`
	CompletedSteps []StepRecord        `json:"completed_steps"`
	Halted         *StepRecord         `json:"halted,omitempty"`
	TerminalState  TerminalState       `json:"terminal_state"`
	FailureDetail  string              `json:"failure_detail,omitempty"`
	Profile        calibration.Profile `json:"profile"`
	StartedAt      time.Time           `json:"started_at"`
	FinishedAt     time.Time           `json:"finished_at"`
}

func (r Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Summary is the one-paragraph, operator-facing account of the run.
func (r Report) Summary() string {
	var b strings.Builder
	switch r.TerminalState {
	case StateCompleted:
		fmt.Fprintf(&b, "Completed %d of %d steps in %.1fs.", len(r.CompletedSteps), r.TotalSteps, r.Duration().Seconds())
	case StateInterrupted:
		fmt.Fprintf(&b, "Interrupted after %d of %d steps.", len(r.CompletedSteps), r.TotalSteps)
	case StateFailedHardware:
		fmt.Fprintf(&b, "Hardware failure after %d of %d steps.", len(r.CompletedSteps), r.TotalSteps)
	case StateFailedValidation:
		b.WriteString("Plan refused, nothing was executed.")
	}
	if r.Halted != nil {
		fmt.Fprintf(&b, " Halted during step %d: %s.", r.Halted.Index+1, r.Halted.Action)
	}
	if r.FailureDetail != "" {
		fmt.Fprintf(&b, " (%s)", r.FailureDetail)
	}
	return b.String()
}
