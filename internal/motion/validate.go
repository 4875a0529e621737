package motion

// Limits bound what a plan may ask of the hardware.
type Limits struct {
	MaxSteps       int     `mapstructure:"max_steps" yaml:"max_steps"`
	MaxStepSeconds float64 `mapstructure:"max_step_seconds" yaml:"max_step_seconds"`
	MaxPlanSeconds float64 `mapstructure:"max_plan_seconds" yaml:"max_plan_seconds"`
}

func DefaultLimits() Limits {
	return Limits{
		MaxSteps:       20,
		MaxStepSeconds: 10.0,
		MaxPlanSeconds: 30.0,
	}
}

// Validator checks raw plans against structural and physical limits.
// It is pure: the same plan always yields the same result.
type Validator struct {
	Limits Limits
}

func NewValidator(limits Limits) *Validator {
	return &Validator{Limits: limits}
}

// Validate returns the plan marked as validated, or the first violation
// found. Out-of-range values are rejected, never corrected.
func (v *Validator) Validate(plan Plan) (Plan, error) {
	if err := v.check(plan); err != nil {
		return Plan{}, err
	}
	out := plan
	out.Steps = append([]Action(nil), plan.Steps...)
	out.validated = true
	return out, nil
}

func (v *Validator) check(plan Plan) *ValidationError {
	lim := v.Limits

	if len(plan.Steps) > lim.MaxSteps {
		return planError(KindTooManySteps, "plan has %d steps, maximum is %d", len(plan.Steps), lim.MaxSteps)
	}

	for i, s := range plan.Steps {
		if s.SpeedPercent < 0 || s.SpeedPercent > 100 {
			return stepError(KindSpeedOutOfRange, i, "speed_percent", "speed %d%% is outside [0,100]", s.SpeedPercent)
		}
	}

	for i, s := range plan.Steps {
		if s.Direction == DirectionStop {
			continue
		}
		if !(s.DurationSeconds > 0) || s.DurationSeconds > lim.MaxStepSeconds {
			return stepError(KindDurationOutOfRange, i, "duration_seconds", "duration %.2fs is outside (0,%.1f]", s.DurationSeconds, lim.MaxStepSeconds)
		}
	}

	if total := plan.EstimatedDuration(); total > lim.MaxPlanSeconds {
		return planError(KindPlanTooLong, "plan lasts %.2fs, ceiling is %.1fs", total, lim.MaxPlanSeconds)
	}

	for i, s := range plan.Steps {
		if !s.Target.Valid() {
			return stepError(KindInvalidTarget, i, "target", "target %q is not one of both, left, right", s.Target)
		}
		if !s.Direction.Valid() {
			return stepError(KindInvalidDirection, i, "direction", "direction %q is not supported", s.Direction)
		}
	}
	return nil
}
