package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rahul/kuruma/internal/calibration"
	"github.com/rahul/kuruma/internal/governance"
	"github.com/rahul/kuruma/internal/motion"
	"github.com/rahul/kuruma/internal/observability"
	"github.com/rahul/kuruma/internal/sequencer"
)

// Brain answers one operator message. Gateways call Think once per message
// and may call it concurrently.
type Brain interface {
	Think(ctx context.Context, chatID string, input string) (string, error)
}

// Planner produces an unvalidated plan from an instruction.
type Planner interface {
	Interpret(ctx context.Context, chatID, instruction string) (motion.Plan, error)
}

// Executor runs validated plans.
type Executor interface {
	Execute(ctx context.Context, plan motion.Plan, profile calibration.Profile) sequencer.Report
	Interrupt() bool
	Running() bool
}

// ReportStore persists finished executions.
type ReportStore interface {
	SaveReport(ctx context.Context, chatID, instruction string, r sequencer.Report) error
}

var (
	confirmWords = map[string]bool{"yes": true, "y": true, "ok": true, "go": true, "confirm": true, "run": true}
	cancelWords  = map[string]bool{"no": true, "n": true, "cancel": true, "abort": true}
	stopWords    = map[string]bool{"/stop": true, "stop": true, "stop!": true, "halt": true}
)

type pendingPlan struct {
	plan        motion.Plan
	instruction string
	expires     time.Time
}

// Pilot is the Brain that drives the robot: interpret, validate, apply
// policy, confirm when required, execute and report.
type Pilot struct {
	Planner     Planner
	Validator   *motion.Validator
	Policy      governance.PolicyEngine
	Executor    Executor
	Calibration *calibration.Handle

	Reports        ReportStore
	History        HistoryStore
	Events         *observability.EventLog
	ConfirmTimeout time.Duration

	logger  *zap.Logger
	now     func() time.Time
	mu      sync.Mutex
	pending map[string]pendingPlan
}

func NewPilot(planner Planner, validator *motion.Validator, policy governance.PolicyEngine, executor Executor, profiles *calibration.Handle, logger *zap.Logger) *Pilot {
	return &Pilot{
		Planner:        planner,
		Validator:      validator,
		Policy:         policy,
		Executor:       executor,
		Calibration:    profiles,
		ConfirmTimeout: 2 * time.Minute,
		logger:         logger.Named("pilot"),
		now:            time.Now,
		pending:        make(map[string]pendingPlan),
	}
}

// Interrupt stops the running plan, if any.
func (p *Pilot) Interrupt() bool {
	return p.Executor.Interrupt()
}

func (p *Pilot) Think(ctx context.Context, chatID string, input string) (string, error) {
	word := strings.ToLower(strings.TrimSpace(input))

	if stopWords[word] && p.Executor.Running() {
		p.Interrupt()
		return "Stopping.", nil
	}
	if word == "/stop" {
		return "Nothing is running.", nil
	}

	if pending, ok := p.takePending(chatID); ok {
		switch {
		case confirmWords[word]:
			report := p.Run(ctx, chatID, pending.instruction, pending.plan)
			return report.Summary(), nil
		case cancelWords[word]:
			return "Cancelled. Nothing was executed.", nil
		}
		p.logger.Info("Pending plan replaced by a new instruction", zap.String("chat_id", chatID))
	} else if confirmWords[word] || cancelWords[word] {
		return "There is no plan waiting for confirmation.", nil
	}

	observability.SetStatus(observability.StatePlanning, input)
	defer p.settleStatus()

	plan, verdict, err := p.Prepare(ctx, chatID, input)
	if err != nil {
		return p.explain(err)
	}

	switch verdict.Effect {
	case governance.EffectDeny:
		return fmt.Sprintf("Plan refused: %s. Nothing was executed.", verdict.Reason), nil
	case governance.EffectConfirm:
		p.mu.Lock()
		p.pending[chatID] = pendingPlan{plan: plan, instruction: input, expires: p.now().Add(p.ConfirmTimeout)}
		p.mu.Unlock()
		observability.SetStatus(observability.StateWaiting, input)
		return fmt.Sprintf("%s\nReply yes to run it or no to cancel.", motion.NewPreview(plan)), nil
	}

	if plan.IsEmpty() {
		if plan.Summary != "" {
			return plan.Summary, nil
		}
		return "Nothing to do.", nil
	}
	report := p.Run(ctx, chatID, input, plan)
	return report.Summary(), nil
}

// Prepare interprets the instruction and admits the result.
func (p *Pilot) Prepare(ctx context.Context, chatID, instruction string) (motion.Plan, governance.Result, error) {
	raw, err := p.Planner.Interpret(ctx, chatID, instruction)
	if err != nil {
		return motion.Plan{}, governance.Result{}, err
	}
	return p.Admit(ctx, chatID, instruction, raw)
}

// Admit validates a raw plan and evaluates policy on it.
func (p *Pilot) Admit(ctx context.Context, chatID, instruction string, raw motion.Plan) (motion.Plan, governance.Result, error) {
	plan, err := p.Validator.Validate(raw)
	if err != nil {
		return motion.Plan{}, governance.Result{}, err
	}
	if p.Events != nil {
		p.Events.LogPlan(chatID, plan)
	}

	verdict, err := p.Policy.Evaluate(ctx, governance.Request{Plan: plan, ChatID: chatID, Instruction: instruction})
	if err != nil {
		return motion.Plan{}, governance.Result{}, fmt.Errorf("policy evaluation: %w", err)
	}
	if p.Events != nil {
		p.Events.LogPolicyCheck(chatID, string(verdict.Effect), verdict.Reason)
	}
	p.logger.Info("Plan admitted",
		zap.String("chat_id", chatID),
		zap.Int("steps", len(plan.Steps)),
		zap.String("effect", string(verdict.Effect)),
		zap.String("reason", verdict.Reason),
	)
	return plan, verdict, nil
}

// Run executes an admitted plan with the current calibration and records
// the report.
func (p *Pilot) Run(ctx context.Context, chatID, instruction string, plan motion.Plan) sequencer.Report {
	report := p.Executor.Execute(ctx, plan, p.Calibration.Current())

	if p.Reports != nil {
		// The report is recorded even when the caller's context is gone.
		if err := p.Reports.SaveReport(context.WithoutCancel(ctx), chatID, instruction, report); err != nil {
			p.logger.Error("Failed to save execution report", zap.String("execution_id", report.ExecutionID), zap.Error(err))
		}
	}
	if p.History != nil {
		p.remember(chatID, "human", instruction)
		p.remember(chatID, "ai", fmt.Sprintf("%s %s", plan, report.Summary()))
	}
	if p.Events != nil {
		p.Events.LogExecution(chatID, report.ExecutionID, string(report.TerminalState), report.FailureDetail)
	}
	return report
}

func (p *Pilot) remember(chatID, role, content string) {
	if err := p.History.AddMessage(chatID, role, content); err != nil {
		p.logger.Error("Failed to save chat history", zap.String("chat_id", chatID), zap.String("role", role), zap.Error(err))
	}
}

func (p *Pilot) takePending(chatID string) (pendingPlan, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pending, ok := p.pending[chatID]
	if !ok {
		return pendingPlan{}, false
	}
	delete(p.pending, chatID)
	if p.now().After(pending.expires) {
		p.logger.Info("Pending plan expired", zap.String("chat_id", chatID))
		return pendingPlan{}, false
	}
	return pending, true
}

// HasPending reports whether chatID has a plan waiting for confirmation.
func (p *Pilot) HasPending(chatID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	pending, ok := p.pending[chatID]
	return ok && !p.now().After(pending.expires)
}

// ExpirePending drops every confirmation past its deadline and returns the
// affected chats.
func (p *Pilot) ExpirePending() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var expired []string
	now := p.now()
	for chatID, pending := range p.pending {
		if now.After(pending.expires) {
			delete(p.pending, chatID)
			expired = append(expired, chatID)
		}
	}
	if len(expired) > 0 {
		if observability.CurrentStatus().State == observability.StateWaiting {
			observability.SetStatus(observability.StateIdle, "")
		}
	}
	return expired
}

func (p *Pilot) settleStatus() {
	if p.Executor.Running() {
		return
	}
	if observability.CurrentStatus().State == observability.StatePlanning {
		observability.SetStatus(observability.StateIdle, "")
	}
}

// explain turns planning errors into operator replies. Errors that are not
// about the instruction itself are returned.
func (p *Pilot) explain(err error) (string, error) {
	var vErr *motion.ValidationError
	var mErr *motion.MalformedPlanError
	switch {
	case errors.As(err, &vErr):
		if vErr.StepIndex >= 0 {
			return fmt.Sprintf("Plan rejected (%s at step %d): %s. Nothing was executed.", vErr.Kind, vErr.StepIndex+1, vErr.Message), nil
		}
		return fmt.Sprintf("Plan rejected (%s): %s. Nothing was executed.", vErr.Kind, vErr.Message), nil
	case errors.Is(err, ErrNotUnderstood), errors.As(err, &mErr):
		return "Sorry, I could not understand that instruction. Nothing was executed.", nil
	}
	return "", err
}
