package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/rahul/kuruma/internal/store"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history [execution-id]",
		Short: "List recent executions, or show one with its steps",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(a.cfg.Store.Path)
			if err != nil {
				return err
			}
			defer st.Close()
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				exec, steps, err := st.GetExecution(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(out, map[string]any{"execution": exec, "steps": steps})
				}
				printExecution(out, exec, steps)
				return nil
			}

			list, err := st.ListExecutions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(out, list)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STARTED\tID\tSTATE\tSTEPS\tINSTRUCTION")
			for _, e := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\n",
					e.StartedAt.Local().Format("2006-01-02 15:04:05"), e.ID, e.TerminalState,
					e.CompletedSteps, e.TotalSteps, e.Instruction)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of executions to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func printExecution(out io.Writer, e store.ExecutionSummary, steps []store.StepRow) {
	fmt.Fprintf(out, "%s  %s\n", e.ID, e.StartedAt.Local().Format("2006-01-02 15:04:05"))
	if e.Instruction != "" {
		fmt.Fprintf(out, "instruction: %s\n", e.Instruction)
	}
	fmt.Fprintln(out, e.Summary)
	for _, s := range steps {
		fmt.Fprintf(out, "  %d. %s -> %s (%s)", s.Index+1, s.Action, s.Outcome, s.Elapsed.Round(time.Millisecond))
		if s.Detail != "" {
			fmt.Fprintf(out, " %s", s.Detail)
		}
		fmt.Fprintln(out)
	}
}

func writeJSON(out io.Writer, v any) error {
	data, err := json.ConfigCompatibleWithStandardLibrary.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}
