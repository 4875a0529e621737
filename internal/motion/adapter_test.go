package motion

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePayload_StepList(t *testing.T) {
	raw := `[{"direction":"forward","speed":50,"duration":2.0},{"direction":"turn_right","speed":85,"duration":1.0}]`

	plan, err := ParsePayload([]byte(raw))
	require.NoError(t, err)
	require.Len(t, plan.Steps, 2)

	assert.Equal(t, Action{Direction: DirectionForward, Target: TargetBoth, SpeedPercent: 50, DurationSeconds: 2.0}, plan.Steps[0])
	assert.Equal(t, Action{Direction: DirectionTurnRight, Target: TargetBoth, SpeedPercent: 85, DurationSeconds: 1.0}, plan.Steps[1])
	assert.Equal(t, raw, plan.RawSource)
	assert.False(t, plan.Validated())
}

func TestParsePayload_LLMEnvelope(t *testing.T) {
	raw := `{
		"plan": [
			{"step": 1, "action": "move_forward", "speed": 80, "duration": 1.5, "description": "go fast"},
			{"step": 2, "action": "Turn Left", "speed": "85", "duration": "0.8"},
			{"step": 3, "action": "stop", "speed": 0, "duration": 0}
		],
		"total_steps": 3,
		"estimated_time": 2.3,
		"summary": "forward then left"
	}`

	plan, err := ParsePayload([]byte(raw))
	require.NoError(t, err)
	require.Len(t, plan.Steps, 3)

	assert.Equal(t, "forward then left", plan.Summary)
	assert.Equal(t, DirectionForward, plan.Steps[0].Direction)
	assert.Equal(t, "go fast", plan.Steps[0].Description)
	assert.Equal(t, DirectionTurnLeft, plan.Steps[1].Direction)
	assert.Equal(t, 85, plan.Steps[1].SpeedPercent)
	assert.InDelta(t, 0.8, plan.Steps[1].DurationSeconds, 1e-9)
	assert.Equal(t, Action{Direction: DirectionStop, Target: TargetBoth}, plan.Steps[2])
}

func TestParsePayload_SingleCommand(t *testing.T) {
	plan, err := ParsePayload([]byte(`{"action":"turn_right","speed":95,"duration":0.8,"message":"quick right turn"}`))
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, DirectionTurnRight, plan.Steps[0].Direction)
	assert.Equal(t, "quick right turn", plan.Summary)
}

func TestNormalize_Defaults(t *testing.T) {
	plan, err := Normalize([]any{
		map[string]any{"direction": "backward"},
		map[string]any{"direction": "stop"},
		map[string]any{"direction": "forward", "target": "left", "speed_percent": nil},
	})
	require.NoError(t, err)

	assert.Equal(t, Action{Direction: DirectionBackward, Target: TargetBoth, SpeedPercent: DefaultSpeedPercent, DurationSeconds: DefaultDurationSeconds}, plan.Steps[0])
	assert.Equal(t, Action{Direction: DirectionStop, Target: TargetBoth}, plan.Steps[1])
	assert.Equal(t, TargetLeft, plan.Steps[2].Target)
	assert.Equal(t, DefaultSpeedPercent, plan.Steps[2].SpeedPercent)
	assert.NotEmpty(t, plan.RawSource)
}

func TestNormalize_OutOfDomainNumbersAreKept(t *testing.T) {
	plan, err := Normalize([]map[string]any{
		{"direction": "forward", "speed": 150, "duration": 42.0},
		{"direction": "backward", "speed": -5, "duration": -1},
	})
	require.NoError(t, err)

	assert.Equal(t, 150, plan.Steps[0].SpeedPercent)
	assert.Equal(t, 42.0, plan.Steps[0].DurationSeconds)
	assert.Equal(t, -5, plan.Steps[1].SpeedPercent)
	assert.Equal(t, -1.0, plan.Steps[1].DurationSeconds)
}

func TestParsePayload_HugeSpeedReachesValidator(t *testing.T) {
	plan, err := ParsePayload([]byte(`[{"direction":"forward","speed":1e12,"duration":1.0},{"direction":"backward","speed":-1e12}]`))
	require.NoError(t, err)
	assert.Greater(t, plan.Steps[0].SpeedPercent, 100)
	assert.Less(t, plan.Steps[1].SpeedPercent, 0)

	_, err = NewValidator(DefaultLimits()).Validate(plan)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, KindSpeedOutOfRange, vErr.Kind)
	assert.Equal(t, 0, vErr.StepIndex)
}

func TestNormalize_RejectsWholePayload(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		field   string
	}{
		{"unknown direction", `[{"direction":"forward"},{"direction":"jump"}]`, "steps[1].direction"},
		{"missing direction", `[{"speed":50}]`, "steps[0].direction"},
		{"unknown target", `[{"direction":"forward","target":"middle"}]`, "steps[0].target"},
		{"non string target", `[{"direction":"forward","target":3}]`, "steps[0].target"},
		{"fractional speed", `[{"direction":"forward","speed":50.5}]`, "steps[0].speed_percent"},
		{"non numeric duration", `[{"direction":"forward","duration":"soon"}]`, "steps[0].duration_seconds"},
		{"step not an object", `{"plan":["forward"]}`, "plan[0]"},
		{"no steps", `{"summary":"nothing"}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePayload([]byte(tt.payload))
			require.Error(t, err)

			var mpe *MalformedPlanError
			require.True(t, errors.As(err, &mpe), "expected MalformedPlanError, got %T", err)
			assert.Equal(t, tt.field, mpe.FieldPath)
		})
	}
}

func TestParsePayload_InvalidJSON(t *testing.T) {
	_, err := ParsePayload([]byte(`{"plan": [`))

	var mpe *MalformedPlanError
	require.ErrorAs(t, err, &mpe)
	assert.NotNil(t, mpe.Unwrap())
}

func TestNormalize_EmptyList(t *testing.T) {
	plan, err := Normalize(`[]`)
	require.NoError(t, err)
	assert.True(t, plan.IsEmpty())
}
