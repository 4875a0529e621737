package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/rahul/kuruma/internal/calibration"
	"github.com/rahul/kuruma/internal/motion"
	"github.com/rahul/kuruma/internal/store"
)

// calibrationStep is the adjustment granularity recommended to operators.
const calibrationStep = 0.05

func newCalibrateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Inspect and tune the per-wheel speed corrections",
	}
	cmd.AddCommand(
		newCalibrateShowCmd(a),
		newCalibrateSetCmd(a),
		newCalibrateAdjustCmd(a),
		newCalibrateTestCmd(a),
	)
	return cmd
}

func newCalibrateShowCmd(a *app) *cobra.Command {
	var history int
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the current profile and recent changes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := calibration.LoadFile(a.cfg.Calibration.Path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# %s\n", a.cfg.Calibration.Path)
			if err := yaml.NewEncoder(out).Encode(p); err != nil {
				return err
			}
			if history <= 0 {
				return nil
			}

			st, err := store.Open(a.cfg.Store.Path)
			if err != nil {
				return err
			}
			defer st.Close()
			records, err := st.ProfileHistory(cmd.Context(), history)
			if err != nil {
				return err
			}
			if len(records) > 0 {
				fmt.Fprintln(out, "\nrecent changes:")
			}
			for _, r := range records {
				fmt.Fprintf(out, "  %s  %s  %s\n", r.RecordedAt.Local().Format("2006-01-02 15:04"), r.Profile, r.Note)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&history, "history", 5, "number of recorded changes to list")
	return cmd
}

func newCalibrateSetCmd(a *app) *cobra.Command {
	var (
		left, right float64
		minSpeed    int
		note        string
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change correction factors or the minimum speed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := calibration.LoadFile(a.cfg.Calibration.Path)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("left") {
				p.LeftCorrection = left
			}
			if flags.Changed("right") {
				p.RightCorrection = right
			}
			if flags.Changed("min-speed") {
				p.MinimumSpeedPercent = minSpeed
			}
			return a.saveProfile(cmd.Context(), cmd.OutOrStdout(), p, note)
		},
	}
	cmd.Flags().Float64Var(&left, "left", 1.0, "left wheel correction factor")
	cmd.Flags().Float64Var(&right, "right", 1.0, "right wheel correction factor")
	cmd.Flags().IntVar(&minSpeed, "min-speed", calibration.DefaultMinimumSpeedPercent, "lowest speed percent that still moves the chassis")
	cmd.Flags().StringVar(&note, "note", "set", "note stored with the change")
	return cmd
}

// newCalibrateAdjustCmd applies one correction step for an observed drift.
// A robot that veers right gets a faster left wheel and vice versa.
func newCalibrateAdjustCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "adjust <veers-left|veers-right>",
		Short:     fmt.Sprintf("Nudge the corrections by %.2f after a drift test", calibrationStep),
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"veers-left", "veers-right"},
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := calibration.LoadFile(a.cfg.Calibration.Path)
			if err != nil {
				return err
			}
			switch args[0] {
			case "veers-right":
				p.LeftCorrection += calibrationStep
			case "veers-left":
				p.RightCorrection += calibrationStep
			default:
				return fmt.Errorf("unknown drift %q: use veers-left or veers-right", args[0])
			}
			return a.saveProfile(cmd.Context(), cmd.OutOrStdout(), p, args[0])
		},
	}
}

func newCalibrateTestCmd(a *app) *cobra.Command {
	var (
		seconds float64
		speed   int
	)
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Drive straight so the drift can be observed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			plan, err := motion.NewValidator(a.cfg.Limits).Validate(motion.Plan{
				Steps: []motion.Action{{
					Direction:       motion.DirectionForward,
					Target:          motion.TargetBoth,
					SpeedPercent:    speed,
					DurationSeconds: seconds,
					Description:     "calibration drift test",
				}},
			})
			if err != nil {
				return err
			}

			r, err := a.openRig()
			if err != nil {
				return err
			}
			defer r.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			report := r.sequencer.Execute(ctx, plan, r.profiles.Current())
			if err := r.store.SaveReport(context.WithoutCancel(ctx), cliChatID, "calibrate test", report); err != nil {
				a.logger.Warn("Failed to save execution report", zap.Error(err))
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, report.Summary())
			fmt.Fprintf(out, "Profile: %s\n", report.Profile)
			fmt.Fprintln(out, "If the robot veered, run 'kuruma calibrate adjust veers-left' or 'veers-right' and test again.")
			return terminalError(report)
		},
	}
	cmd.Flags().Float64Var(&seconds, "seconds", 3.0, "how long to drive forward")
	cmd.Flags().IntVar(&speed, "speed", 50, "speed percent for both wheels")
	return cmd
}

// saveProfile writes the profile file and records it in the store. A
// running serve process picks the file change up through its watcher.
func (a *app) saveProfile(ctx context.Context, out io.Writer, p calibration.Profile, note string) error {
	if err := calibration.SaveFile(a.cfg.Calibration.Path, p); err != nil {
		return err
	}
	st, err := store.Open(a.cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.RecordProfile(ctx, p, note); err != nil {
		return fmt.Errorf("record profile: %w", err)
	}
	a.logger.Info("Calibration profile saved", zap.String("path", a.cfg.Calibration.Path), zap.Stringer("profile", p))
	fmt.Fprintf(out, "Saved %s to %s\n", p, a.cfg.Calibration.Path)
	return nil
}
