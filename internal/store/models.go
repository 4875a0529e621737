package store

import (
	"time"

	"github.com/rahul/kuruma/internal/calibration"
)

// ExecutionSummary is one row of the execution history.
type ExecutionSummary struct {
	ID             string    `json:"id"`
	ChatID         string    `json:"chat_id,omitempty"`
	Instruction    string    `json:"instruction,omitempty"`
	Summary        string    `json:"summary"`
	TerminalState  string    `json:"terminal_state"`
	FailureDetail  string    `json:"failure_detail,omitempty"`
	TotalSteps     int       `json:"total_steps"`
	CompletedSteps int       `json:"completed_steps"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

// StepRow is one attempted step of a stored execution.
type StepRow struct {
	Index     int           `json:"index"`
	Action    string        `json:"action"`
	Effective string        `json:"effective"`
	Outcome   string        `json:"outcome"`
	Detail    string        `json:"detail,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
}

// ProfileRecord is a calibration profile as it was saved.
type ProfileRecord struct {
	ID         int64               `json:"id"`
	Profile    calibration.Profile `json:"profile"`
	Note       string              `json:"note,omitempty"`
	RecordedAt time.Time           `json:"recorded_at"`
}
