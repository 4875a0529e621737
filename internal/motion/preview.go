package motion

import (
	"fmt"
	"strings"
)

// Preview is what an operator sees before confirming a plan.
type Preview struct {
	StepCount        int      `json:"step_count"`
	EstimatedSeconds float64  `json:"estimated_seconds"`
	Summary          string   `json:"summary,omitempty"`
	Lines            []string `json:"lines"`
}

func NewPreview(plan Plan) Preview {
	lines := make([]string, 0, len(plan.Steps))
	for i, s := range plan.Steps {
		line := fmt.Sprintf("%d. %s", i+1, s)
		if s.Description != "" {
			line += " - " + s.Description
		}
		lines = append(lines, line)
	}
	return Preview{
		StepCount:        len(plan.Steps),
		EstimatedSeconds: plan.EstimatedDuration(),
		Summary:          plan.Summary,
		Lines:            lines,
	}
}

// Headline is the one-line confirmation prompt.
func (p Preview) Headline() string {
	return fmt.Sprintf("plan has %d steps, estimated %.1f seconds", p.StepCount, p.EstimatedSeconds)
}

func (p Preview) String() string {
	var sb strings.Builder
	if p.Summary != "" {
		sb.WriteString(p.Summary)
		sb.WriteString("\n")
	}
	sb.WriteString(p.Headline())
	for _, l := range p.Lines {
		sb.WriteString("\n")
		sb.WriteString(l)
	}
	return sb.String()
}
