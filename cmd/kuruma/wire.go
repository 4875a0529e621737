package main

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/rahul/kuruma/internal/agent"
	"github.com/rahul/kuruma/internal/calibration"
	"github.com/rahul/kuruma/internal/drive"
	"github.com/rahul/kuruma/internal/governance"
	"github.com/rahul/kuruma/internal/motion"
	"github.com/rahul/kuruma/internal/observability"
	"github.com/rahul/kuruma/internal/sequencer"
	"github.com/rahul/kuruma/internal/store"
)

// rig is the execution side of the robot: store, actuator, engine and
// sequencer sharing one calibration handle.
type rig struct {
	store     *store.Store
	events    *observability.EventLog
	profiles  *calibration.Handle
	engine    *drive.Engine
	sequencer *sequencer.Sequencer
	closers   []func()
}

func (a *app) openRig(opts ...sequencer.Option) (*rig, error) {
	st, err := store.Open(a.cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	r := &rig{store: st, closers: []func(){func() { _ = st.Close() }}}

	profile, err := calibration.LoadFile(a.cfg.Calibration.Path)
	if err != nil {
		r.Close()
		return nil, err
	}
	r.profiles = calibration.NewHandle(profile)
	r.events = observability.NewEventLogFromConfig(a.logger, a.cfg.Logger)

	actuator, engineOpts, closeActuator, err := a.newActuator()
	if err != nil {
		r.Close()
		return nil, err
	}
	if closeActuator != nil {
		r.closers = append(r.closers, closeActuator)
	}
	r.engine = drive.NewEngine(actuator, a.logger, engineOpts...)
	r.sequencer = sequencer.New(r.engine, a.cfg.Limits, a.logger, append([]sequencer.Option{sequencer.WithEventLog(r.events)}, opts...)...)

	a.logger.Info("Drive ready",
		zap.String("actuator", a.cfg.Actuator.Kind),
		zap.Stringer("profile", profile),
		zap.String("store", a.cfg.Store.Path),
	)
	return r, nil
}

func (a *app) newActuator() (drive.Actuator, []drive.Option, func(), error) {
	switch a.cfg.Actuator.Kind {
	case "mqtt":
		act, err := drive.DialMQTT(a.cfg.Actuator.MQTT, a.logger)
		if err != nil {
			return nil, nil, nil, err
		}
		return act, nil, act.Close, nil
	default:
		return drive.NewRecorder(a.logger), []drive.Option{drive.WithTimeScale(a.cfg.Actuator.TimeScale)}, nil, nil
	}
}

// Close releases resources in reverse order of acquisition.
func (r *rig) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func (a *app) newModel() (llms.Model, error) {
	if !a.cfg.HasProvider() {
		return nil, errors.New("no LLM provider configured: set provider.api_key or KURUMA_OPENAI_API_KEY")
	}
	switch a.cfg.Provider.Name {
	case "openai", "openrouter", "":
		opts := []openai.Option{
			openai.WithToken(a.cfg.Provider.APIKey),
			openai.WithModel(a.cfg.Provider.Model),
			openai.WithHTTPClient(&http.Client{Timeout: a.cfg.Provider.Timeout}),
		}
		if a.cfg.Provider.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(a.cfg.Provider.BaseURL))
		}
		model, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create %s client: %w", a.cfg.Provider.Name, err)
		}
		return model, nil
	default:
		return nil, fmt.Errorf("provider %s is not supported", a.cfg.Provider.Name)
	}
}

// newPilot wires interpreter, validator, policy and sequencer into the
// operator-facing Brain.
func (a *app) newPilot(r *rig) (*agent.Pilot, error) {
	model, err := a.newModel()
	if err != nil {
		return nil, err
	}

	prompts := agent.NewPromptManager(a.cfg.Provider.PromptsDir, a.logger)
	interpreter := agent.NewInterpreter(model, prompts, r.store, a.cfg.Limits, a.logger)
	interpreter.Temperature = a.cfg.Provider.Temperature
	interpreter.Events = r.events

	policy := governance.NewFromConfig(a.cfg.Policy, a.cfg.Confirm)

	pilot := agent.NewPilot(interpreter, motion.NewValidator(a.cfg.Limits), policy, r.sequencer, r.profiles, a.logger)
	pilot.Reports = r.store
	pilot.History = r.store
	pilot.Events = r.events
	if a.cfg.Confirm.Timeout > 0 {
		pilot.ConfirmTimeout = a.cfg.Confirm.Timeout
	}
	return pilot, nil
}
