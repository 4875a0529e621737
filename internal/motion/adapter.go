package motion

import (
	encodingjson "encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	json "github.com/json-iterator/go"
)

// Defaults applied when the interpreter omits a numeric field.
const (
	DefaultSpeedPercent    = 50
	DefaultDurationSeconds = 1.0
)

var payloadJSON = json.Config{UseNumber: true}.Froze()

var directionAliases = map[string]Direction{
	"forward":       DirectionForward,
	"move_forward":  DirectionForward,
	"backward":      DirectionBackward,
	"move_backward": DirectionBackward,
	"turn_left":     DirectionTurnLeft,
	"turn_right":    DirectionTurnRight,
	"stop":          DirectionStop,
}

var targetAliases = map[string]Target{
	"both":  TargetBoth,
	"left":  TargetLeft,
	"right": TargetRight,
}

// ParsePayload decodes raw interpreter output (JSON) and normalizes it.
func ParsePayload(data []byte) (Plan, error) {
	var payload any
	if err := payloadJSON.Unmarshal(data, &payload); err != nil {
		return Plan{}, &MalformedPlanError{Message: "payload is not valid JSON", Err: err}
	}
	plan, err := normalize(payload)
	if err != nil {
		return Plan{}, err
	}
	plan.RawSource = string(data)
	return plan, nil
}

// Normalize converts an untyped payload into a Plan. It is the only place
// untyped interpreter output is handled. Unknown directions or targets reject
// the whole payload; numeric values are passed through without clamping.
func Normalize(payload any) (Plan, error) {
	switch p := payload.(type) {
	case []byte:
		return ParsePayload(p)
	case string:
		return ParsePayload([]byte(p))
	}
	plan, err := normalize(payload)
	if err != nil {
		return Plan{}, err
	}
	if raw, err := payloadJSON.Marshal(payload); err == nil {
		plan.RawSource = string(raw)
	}
	return plan, nil
}

func normalize(payload any) (Plan, error) {
	switch p := payload.(type) {
	case nil:
		return Plan{}, malformed("", "payload is empty")
	case []any:
		steps, err := normalizeSteps(p, "steps")
		if err != nil {
			return Plan{}, err
		}
		return Plan{Steps: steps}, nil
	case []map[string]any:
		list := make([]any, len(p))
		for i := range p {
			list[i] = p[i]
		}
		return normalize(list)
	case map[string]any:
		return normalizeEnvelope(p)
	default:
		return Plan{}, malformed("", "unsupported payload type %T", payload)
	}
}

func normalizeEnvelope(m map[string]any) (Plan, error) {
	summary, _ := m["summary"].(string)

	for _, key := range []string{"steps", "plan"} {
		raw, ok := m[key]
		if !ok {
			continue
		}
		list, ok := raw.([]any)
		if !ok {
			if raw == nil {
				return Plan{Summary: summary}, nil
			}
			return Plan{}, malformed(key, "must be a list of steps, got %T", raw)
		}
		steps, err := normalizeSteps(list, key)
		if err != nil {
			return Plan{}, err
		}
		return Plan{Steps: steps, Summary: summary}, nil
	}

	// Single-command envelope.
	if _, ok := lookup(m, "direction", "action"); ok {
		step, err := normalizeStep(m, "step")
		if err != nil {
			return Plan{}, err
		}
		if summary == "" {
			summary = step.Description
		}
		return Plan{Steps: []Action{step}, Summary: summary}, nil
	}
	return Plan{}, malformed("", "payload has neither steps nor a direction")
}

func normalizeSteps(list []any, field string) ([]Action, error) {
	steps := make([]Action, 0, len(list))
	for i, raw := range list {
		path := fmt.Sprintf("%s[%d]", field, i)
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, malformed(path, "step must be an object, got %T", raw)
		}
		step, err := normalizeStep(m, path)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func normalizeStep(m map[string]any, path string) (Action, error) {
	rawDir, ok := lookup(m, "direction", "action")
	if !ok {
		return Action{}, malformed(path+".direction", "required field is missing")
	}
	dirName, ok := rawDir.(string)
	if !ok {
		return Action{}, malformed(path+".direction", "must be a string, got %T", rawDir)
	}
	dir, ok := directionAliases[canonicalName(dirName)]
	if !ok {
		return Action{}, malformed(path+".direction", "unknown direction %q", dirName)
	}

	target := TargetBoth
	if rawTarget, ok := lookup(m, "target", "wheel", "motor"); ok {
		name, isString := rawTarget.(string)
		if !isString {
			return Action{}, malformed(path+".target", "must be a string, got %T", rawTarget)
		}
		t, known := targetAliases[canonicalName(name)]
		if !known {
			return Action{}, malformed(path+".target", "unknown target %q", name)
		}
		target = t
	}

	action := Action{Direction: dir, Target: target}

	if rawSpeed, ok := lookup(m, "speed_percent", "speed"); ok {
		speed, err := toInt(rawSpeed)
		if err != nil {
			return Action{}, malformed(path+".speed_percent", "%v", err)
		}
		action.SpeedPercent = speed
	} else if dir != DirectionStop {
		action.SpeedPercent = DefaultSpeedPercent
	}

	if dir != DirectionStop {
		action.DurationSeconds = DefaultDurationSeconds
		if rawDuration, ok := lookup(m, "duration_seconds", "duration"); ok {
			duration, err := toFloat(rawDuration)
			if err != nil {
				return Action{}, malformed(path+".duration_seconds", "%v", err)
			}
			action.DurationSeconds = duration
		}
	}

	if rawDesc, ok := lookup(m, "description", "message"); ok {
		if desc, isString := rawDesc.(string); isString {
			action.Description = strings.TrimSpace(desc)
		}
	}
	return action, nil
}

// lookup returns the first non-null value among the given keys.
func lookup(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func canonicalName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("-", "_", " ", "_").Replace(s)
}

func toFloat(v any) (float64, error) {
	var f float64
	switch n := v.(type) {
	case encodingjson.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", n.String())
		}
		f = parsed
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", n)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("must be a number, got %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("must be finite")
	}
	return f, nil
}

// toInt accepts whole numbers only. Magnitudes beyond int32 saturate so
// they stay out of range for the validator instead of failing here.
func toInt(v any) (int, error) {
	f, err := toFloat(v)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("must be a whole number, got %v", f)
	}
	switch {
	case f > math.MaxInt32:
		return math.MaxInt32, nil
	case f < math.MinInt32:
		return math.MinInt32, nil
	}
	return int(f), nil
}
