package governance

import (
	"context"
	"fmt"
	"regexp"

	"github.com/rahul/kuruma/internal/motion"
	"github.com/rahul/kuruma/pkg/config"
)

// Effect defines the result of a policy evaluation.
type Effect string

const (
	EffectAllow   Effect = "allow"
	EffectConfirm Effect = "confirm"
	EffectDeny    Effect = "deny"
)

// Request is a validated plan about to be handed to the sequencer.
type Request struct {
	Plan        motion.Plan
	ChatID      string
	Instruction string
}

// Result contains the outcome of a policy evaluation.
type Result struct {
	Effect Effect
	Reason string
}

// PolicyEngine decides whether a plan may run, needs operator
// confirmation first, or is refused.
type PolicyEngine interface {
	Evaluate(ctx context.Context, req Request) (Result, error)
}

// DefaultPolicyEngine applies operator-configured restrictions on top of
// the validator's physical limits. Deny rules win over confirm rules.
type DefaultPolicyEngine struct {
	DeniedDirections map[motion.Direction]bool
	DeniedRegex      []*regexp.Regexp
	// MaxSpeedPercent of 0 disables the cap.
	MaxSpeedPercent  int
	ConfirmAlways    bool
	ConfirmMultiStep bool
}

func NewDefaultPolicyEngine() *DefaultPolicyEngine {
	return &DefaultPolicyEngine{
		DeniedDirections: make(map[motion.Direction]bool),
		DeniedRegex:      make([]*regexp.Regexp, 0),
		ConfirmMultiStep: true,
	}
}

// NewFromConfig builds the engine from the policy and confirm sections.
func NewFromConfig(policy config.PolicyConfig, confirm config.ConfirmConfig) *DefaultPolicyEngine {
	e := NewDefaultPolicyEngine()
	for _, d := range policy.DeniedDirections {
		e.DenyDirection(motion.Direction(d))
	}
	if policy.MaxSpeedPercent < 100 {
		e.MaxSpeedPercent = policy.MaxSpeedPercent
	}
	e.ConfirmAlways = confirm.Always
	e.ConfirmMultiStep = confirm.MultiStep
	return e
}

func (e *DefaultPolicyEngine) DenyDirection(d motion.Direction) {
	e.DeniedDirections[d] = true
}

// DenyDescriptions refuses plans whose instruction, raw payload or any step
// description matches pattern.
func (e *DefaultPolicyEngine) DenyDescriptions(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	e.DeniedRegex = append(e.DeniedRegex, re)
	return nil
}

func (e *DefaultPolicyEngine) Evaluate(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	for i, s := range req.Plan.Steps {
		if e.DeniedDirections[s.Direction] {
			return Result{
				Effect: EffectDeny,
				Reason: fmt.Sprintf("step %d: direction '%s' is restricted by system policy", i, s.Direction),
			}, nil
		}
		if e.MaxSpeedPercent > 0 && s.Direction != motion.DirectionStop && s.SpeedPercent > e.MaxSpeedPercent {
			return Result{
				Effect: EffectDeny,
				Reason: fmt.Sprintf("step %d: speed %d%% exceeds the configured cap of %d%%", i, s.SpeedPercent, e.MaxSpeedPercent),
			}, nil
		}
	}

	for _, re := range e.DeniedRegex {
		if re.MatchString(req.Instruction) || re.MatchString(req.Plan.RawSource) {
			return Result{Effect: EffectDeny, Reason: fmt.Sprintf("Instruction matches restricted pattern: %s", re.String())}, nil
		}
		for i, s := range req.Plan.Steps {
			if s.Description != "" && re.MatchString(s.Description) {
				return Result{Effect: EffectDeny, Reason: fmt.Sprintf("step %d matches restricted pattern: %s", i, re.String())}, nil
			}
		}
	}

	if e.ConfirmAlways {
		return Result{Effect: EffectConfirm, Reason: "Every plan requires confirmation"}, nil
	}
	if e.ConfirmMultiStep && len(req.Plan.Steps) > 1 {
		return Result{Effect: EffectConfirm, Reason: fmt.Sprintf("Plan has %d steps", len(req.Plan.Steps))}, nil
	}

	return Result{
		Effect: EffectAllow,
		Reason: "Approved by default policy",
	}, nil
}
