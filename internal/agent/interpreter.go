package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/rahul/kuruma/internal/motion"
	"github.com/rahul/kuruma/internal/observability"
)

const proposeMotionPlan = "propose_motion_plan"

// ErrNotUnderstood is returned when the model's answer cannot be turned
// into a plan. The underlying *motion.MalformedPlanError is wrapped.
var ErrNotUnderstood = errors.New("could not understand instruction")

// HistoryStore keeps the conversation used as interpreter context.
type HistoryStore interface {
	AddMessage(chatID string, role string, content string) error
	GetHistory(chatID string, limit int) ([]llms.MessageContent, error)
}

// Interpreter turns natural language into a raw, unvalidated plan.
type Interpreter struct {
	Model       llms.Model
	Prompts     *PromptManager
	History     HistoryStore
	Limits      motion.Limits
	Temperature float64
	Events      *observability.EventLog
	logger      *zap.Logger
}

func NewInterpreter(model llms.Model, prompts *PromptManager, history HistoryStore, limits motion.Limits, logger *zap.Logger) *Interpreter {
	return &Interpreter{
		Model:       model,
		Prompts:     prompts,
		History:     history,
		Limits:      limits,
		Temperature: 0.2,
		logger:      logger.Named("interpreter"),
	}
}

var motionPlanTool = llms.Tool{
	Type: "function",
	Function: &llms.FunctionDefinition{
		Name:        proposeMotionPlan,
		Description: "Submit the ordered list of timed motor steps that carries out the instruction.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"steps": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"direction": map[string]any{
								"type": "string",
								"enum": []string{"forward", "backward", "turn_left", "turn_right", "stop"},
							},
							"target": map[string]any{
								"type": "string",
								"enum": []string{"both", "left", "right"},
							},
							"speed_percent": map[string]any{
								"type":    "integer",
								"minimum": 0,
								"maximum": 100,
							},
							"duration_seconds": map[string]any{
								"type": "number",
							},
							"description": map[string]any{
								"type": "string",
							},
						},
						"required": []string{"direction"},
					},
				},
				"summary": map[string]any{
					"type":        "string",
					"description": "One sentence describing the whole motion for the operator.",
				},
			},
			"required": []string{"steps"},
		},
	},
}

// Interpret asks the model for a plan. The result has not been validated.
func (in *Interpreter) Interpret(ctx context.Context, chatID, instruction string) (motion.Plan, error) {
	systemPrompt, err := in.Prompts.GetInterpreterPrompt(in.Limits)
	if err != nil {
		return motion.Plan{}, fmt.Errorf("failed to load interpreter prompt: %w", err)
	}

	messages := []llms.MessageContent{
		{Role: llms.ChatMessageTypeSystem, Parts: []llms.ContentPart{llms.TextPart(systemPrompt)}},
	}
	if in.History != nil {
		history, err := in.History.GetHistory(chatID, 6)
		if err != nil {
			in.logger.Warn("Failed to load history", zap.String("chat_id", chatID), zap.Error(err))
		}
		messages = append(messages, history...)
	}
	messages = append(messages, llms.MessageContent{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextPart(instruction)},
	})

	resp, err := in.Model.GenerateContent(ctx, messages,
		llms.WithTools([]llms.Tool{motionPlanTool}),
		llms.WithTemperature(in.Temperature),
	)
	if err != nil {
		return motion.Plan{}, fmt.Errorf("model request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return motion.Plan{}, fmt.Errorf("%w: model returned no choices", ErrNotUnderstood)
	}
	choice := resp.Choices[0]

	if in.Events != nil {
		in.Events.LogLLM(chatID, instruction, choice.Content, choice.ToolCalls)
	}

	payload, err := extractPayload(choice)
	if err != nil {
		return motion.Plan{}, err
	}
	plan, err := motion.ParsePayload([]byte(payload))
	if err != nil {
		in.logger.Info("Model output rejected", zap.String("chat_id", chatID), zap.Error(err))
		return motion.Plan{}, fmt.Errorf("%w: %w", ErrNotUnderstood, err)
	}

	in.logger.Info("Instruction interpreted",
		zap.String("chat_id", chatID),
		zap.Int("steps", len(plan.Steps)),
		zap.Stringer("plan", plan),
	)
	return plan, nil
}

// extractPayload prefers the tool call and falls back to JSON in the text.
func extractPayload(choice *llms.ContentChoice) (string, error) {
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall != nil && tc.FunctionCall.Name == proposeMotionPlan {
			return tc.FunctionCall.Arguments, nil
		}
	}
	if js := jsonBlock(choice.Content); js != "" {
		return js, nil
	}
	if choice.Content != "" {
		return "", fmt.Errorf("%w: %s", ErrNotUnderstood, strings.TrimSpace(choice.Content))
	}
	return "", fmt.Errorf("%w: model returned neither a plan nor text", ErrNotUnderstood)
}

// jsonBlock returns the outermost JSON object or array in s, tolerating
// markdown code fences around it.
func jsonBlock(s string) string {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}
	closer := "}"
	if s[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(s, closer)
	if end <= start {
		return ""
	}
	return s[start : end+1]
}
