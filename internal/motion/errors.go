package motion

import (
	"fmt"
	"strings"
)

// MalformedPlanError means the payload could not be normalized into a Plan.
type MalformedPlanError struct {
	FieldPath string
	Message   string
	Err       error
}

func (e *MalformedPlanError) Error() string {
	var sb strings.Builder
	sb.WriteString("malformed plan")
	if e.FieldPath != "" {
		fmt.Fprintf(&sb, ": %s", e.FieldPath)
	}
	if e.Message != "" {
		fmt.Fprintf(&sb, ": %s", e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	return sb.String()
}

func (e *MalformedPlanError) Unwrap() error {
	return e.Err
}

func malformed(fieldPath, format string, args ...any) *MalformedPlanError {
	return &MalformedPlanError{FieldPath: fieldPath, Message: fmt.Sprintf(format, args...)}
}

// ValidationKind names the constraint a plan violated.
type ValidationKind string

const (
	KindTooManySteps       ValidationKind = "too_many_steps"
	KindSpeedOutOfRange    ValidationKind = "speed_out_of_range"
	KindDurationOutOfRange ValidationKind = "duration_out_of_range"
	KindPlanTooLong        ValidationKind = "plan_too_long"
	KindInvalidTarget      ValidationKind = "invalid_target"
	KindInvalidDirection   ValidationKind = "invalid_direction"
)

// ValidationError is a rejected plan. StepIndex is -1 for plan-level kinds.
type ValidationError struct {
	Kind      ValidationKind
	StepIndex int
	FieldPath string
	Message   string
}

func (e *ValidationError) Error() string {
	if e.FieldPath == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.FieldPath, e.Message)
}

// FormatStderr renders the error for CLI output.
func (e *ValidationError) FormatStderr() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "error: %s\n", e.Kind)
	if e.StepIndex >= 0 {
		fmt.Fprintf(&sb, "step: %d\n", e.StepIndex)
	}
	if e.FieldPath != "" {
		fmt.Fprintf(&sb, "field: %s\n", e.FieldPath)
	}
	fmt.Fprintf(&sb, "detail: %s\n", e.Message)
	return sb.String()
}

func stepError(kind ValidationKind, index int, field, format string, args ...any) *ValidationError {
	return &ValidationError{
		Kind:      kind,
		StepIndex: index,
		FieldPath: fmt.Sprintf("steps[%d].%s", index, field),
		Message:   fmt.Sprintf(format, args...),
	}
}

func planError(kind ValidationKind, format string, args ...any) *ValidationError {
	return &ValidationError{
		Kind:      kind,
		StepIndex: -1,
		Message:   fmt.Sprintf(format, args...),
	}
}
