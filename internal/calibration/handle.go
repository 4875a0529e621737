package calibration

import (
	"context"
	"sync/atomic"
)

// IdleWaiter runs fn only while no plan is executing.
type IdleWaiter interface {
	WhenIdle(ctx context.Context, fn func()) error
}

// Handle is the process-wide, swappable calibration profile. Readers take a
// copy with Current and pass it explicitly into an execution.
type Handle struct {
	current atomic.Pointer[Profile]
}

func NewHandle(p Profile) *Handle {
	h := &Handle{}
	h.current.Store(&p)
	return h
}

func (h *Handle) Current() Profile {
	return *h.current.Load()
}

// Swap replaces the profile once the executor is idle.
func (h *Handle) Swap(ctx context.Context, idle IdleWaiter, p Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return idle.WhenIdle(ctx, func() {
		h.current.Store(&p)
	})
}
