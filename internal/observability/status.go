package observability

import (
	"sync"
	"time"
)

// State is what the drive is doing right now.
type State string

const (
	StateIdle     State = "IDLE"
	StatePlanning State = "PLANNING"
	StateWaiting  State = "CONFIRM"
	StateRunning  State = "RUNNING"
)

// Status is a point-in-time copy of the drive status. Step is 1-based and
// zero when no plan is executing.
type Status struct {
	State         State
	Task          string
	ExecutionID   string
	Step          int
	Steps         int
	LastHeartbeat time.Time
}

var (
	statusMu sync.RWMutex
	current  = Status{State: StateIdle, LastHeartbeat: time.Now()}
)

// SetStatus records a new state and clears any execution progress.
func SetStatus(state State, task string) {
	statusMu.Lock()
	defer statusMu.Unlock()
	current.State = state
	current.Task = task
	current.ExecutionID = ""
	current.Step, current.Steps = 0, 0
}

// SetProgress marks the drive as running step of steps within an execution.
func SetProgress(executionID string, step, steps int, task string) {
	statusMu.Lock()
	defer statusMu.Unlock()
	current.State = StateRunning
	current.Task = task
	current.ExecutionID = executionID
	current.Step, current.Steps = step, steps
}

// CurrentStatus returns a copy of the drive status.
func CurrentStatus() Status {
	statusMu.RLock()
	defer statusMu.RUnlock()
	return current
}

func Heartbeat() {
	statusMu.Lock()
	defer statusMu.Unlock()
	current.LastHeartbeat = time.Now()
}
