package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rahul/kuruma/internal/governance"
	"github.com/rahul/kuruma/internal/motion"
	"github.com/rahul/kuruma/internal/sequencer"
)

const cliChatID = "cli"

var errPlanRejected = errors.New("plan rejected")

func newPlanCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "plan <file|->",
		Short: "Validate a JSON plan and print its preview without moving",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := a.loadPlan(cmd, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), motion.NewPreview(plan))
			return nil
		},
	}
}

func newExecCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "exec <file|->",
		Short: "Validate a JSON plan, confirm it and drive it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] == "-" && !yes {
				return errors.New("reading the plan from stdin requires --yes")
			}
			plan, err := a.loadPlan(cmd, args[0])
			if err != nil {
				return err
			}

			verdict, err := governance.NewFromConfig(a.cfg.Policy, a.cfg.Confirm).
				Evaluate(cmd.Context(), governance.Request{Plan: plan, ChatID: cliChatID, Instruction: args[0]})
			if err != nil {
				return err
			}
			if verdict.Effect == governance.EffectDeny {
				return fmt.Errorf("%w: %s", errPlanRejected, verdict.Reason)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, motion.NewPreview(plan))
			if !yes {
				ok, err := confirm(cmd.InOrStdin(), out, "Execute? [y/N] ")
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(out, "Cancelled. Nothing was executed.")
					return nil
				}
			}

			r, err := a.openRig()
			if err != nil {
				return err
			}
			defer r.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			report := r.sequencer.Execute(ctx, plan, r.profiles.Current())
			if err := r.store.SaveReport(context.WithoutCancel(ctx), cliChatID, args[0], report); err != nil {
				a.logger.Warn("Failed to save execution report", zap.Error(err))
			}
			fmt.Fprintln(out, report.Summary())
			return terminalError(report)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "execute without asking for confirmation")
	return cmd
}

// loadPlan reads, adapts and validates a payload. Validation failures are
// printed in the structured stderr format.
func (a *app) loadPlan(cmd *cobra.Command, source string) (motion.Plan, error) {
	data, err := readSource(cmd.InOrStdin(), source)
	if err != nil {
		return motion.Plan{}, err
	}
	raw, err := motion.ParsePayload(data)
	if err != nil {
		return motion.Plan{}, err
	}
	plan, err := motion.NewValidator(a.cfg.Limits).Validate(raw)
	var vErr *motion.ValidationError
	if errors.As(err, &vErr) {
		fmt.Fprint(cmd.ErrOrStderr(), vErr.FormatStderr())
		return motion.Plan{}, errPlanRejected
	}
	return plan, err
}

func readSource(stdin io.Reader, source string) ([]byte, error) {
	if source == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	return data, nil
}

func confirm(in io.Reader, out io.Writer, prompt string) (bool, error) {
	fmt.Fprint(out, prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("read confirmation: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

// terminalError maps a report to the command's exit status.
func terminalError(r sequencer.Report) error {
	switch r.TerminalState {
	case sequencer.StateCompleted:
		return nil
	case sequencer.StateInterrupted:
		return errors.New("execution interrupted")
	default:
		return fmt.Errorf("execution %s: %s", r.TerminalState, r.FailureDetail)
	}
}
