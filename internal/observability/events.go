package observability

import (
	"io"
	"sync"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/rahul/kuruma/pkg/config"
)

// EventType defines the category of an operator-facing event.
type EventType string

const (
	EventTypePlan        EventType = "plan"
	EventTypeStep        EventType = "step"
	EventTypeExecution   EventType = "execution"
	EventTypePolicyCheck EventType = "policy_check"
	EventTypeLLM         EventType = "llm"
	EventTypeHeartbeat   EventType = "heartbeat"
)

// Event is one structured entry in the event stream.
type Event struct {
	Type        EventType `json:"type"`
	ChatID      string    `json:"chat_id,omitempty"`
	ExecutionID string    `json:"execution_id,omitempty"`
	Data        any       `json:"data"`
	Timestamp   time.Time `json:"timestamp"`
}

// EventLog emits events through zap. LLM exchanges are additionally
// appended, one JSON object per line, to a dedicated rotating file.
type EventLog struct {
	logger *zap.Logger

	mu     sync.Mutex
	llmOut io.Writer
}

func NewEventLog(logger *zap.Logger, llmOut io.Writer) *EventLog {
	return &EventLog{logger: logger.Named("events"), llmOut: llmOut}
}

// NewEventLogFromConfig wires the LLM transcript to a lumberjack file.
func NewEventLogFromConfig(logger *zap.Logger, cfg config.LoggerConfig) *EventLog {
	if cfg.LLMLogFile == "" {
		return NewEventLog(logger, nil)
	}
	return NewEventLog(logger, rotatingFile(cfg, cfg.LLMLogFile))
}

func (l *EventLog) Log(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	l.logger.Info(string(evt.Type),
		zap.String("chat_id", evt.ChatID),
		zap.String("execution_id", evt.ExecutionID),
		zap.Any("data", evt.Data),
	)

	if evt.Type != EventTypeLLM || l.llmOut == nil {
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		l.logger.Warn("Failed to encode llm event", zap.Error(err))
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.llmOut.Write(append(data, '\n')); err != nil {
		l.logger.Warn("Failed to write llm event", zap.Error(err))
	}
}

func (l *EventLog) LogPlan(chatID string, plan any) {
	l.Log(Event{Type: EventTypePlan, ChatID: chatID, Data: plan})
}

func (l *EventLog) LogStep(executionID string, index int, action, outcome string) {
	l.Log(Event{
		Type:        EventTypeStep,
		ExecutionID: executionID,
		Data: map[string]any{
			"index":   index,
			"action":  action,
			"outcome": outcome,
		},
	})
}

func (l *EventLog) LogExecution(chatID, executionID, terminal, detail string) {
	l.Log(Event{
		Type:        EventTypeExecution,
		ChatID:      chatID,
		ExecutionID: executionID,
		Data: map[string]string{
			"terminal_state": terminal,
			"detail":         detail,
		},
	})
}

func (l *EventLog) LogPolicyCheck(chatID, effect, reason string) {
	l.Log(Event{
		Type:   EventTypePolicyCheck,
		ChatID: chatID,
		Data: map[string]string{
			"effect": effect,
			"reason": reason,
		},
	})
}

func (l *EventLog) LogLLM(chatID string, prompt any, response string, toolCalls any) {
	l.Log(Event{
		Type:   EventTypeLLM,
		ChatID: chatID,
		Data: map[string]any{
			"prompt":     prompt,
			"response":   response,
			"tool_calls": toolCalls,
		},
	})
}

func (l *EventLog) LogHeartbeat() {
	l.Log(Event{Type: EventTypeHeartbeat, Data: map[string]string{"status": "alive"}})
}
