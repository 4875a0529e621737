package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

func newSayCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "say <instruction...>",
		Short: "Interpret an instruction with the language model, confirm and drive it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.openRig()
			if err != nil {
				return err
			}
			defer r.Close()
			pilot, err := a.newPilot(r)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			reply, err := pilot.Think(ctx, cliChatID, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(out, reply)
			if !pilot.HasPending(cliChatID) {
				return nil
			}

			answer := "yes"
			if !yes {
				ok, err := confirm(cmd.InOrStdin(), out, "> ")
				if err != nil {
					return err
				}
				if !ok {
					answer = "no"
				}
			}
			reply, err = pilot.Think(ctx, cliChatID, answer)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, reply)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "execute without asking for confirmation")
	return cmd
}
