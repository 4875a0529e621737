package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rahul/kuruma/internal/agent"
	"github.com/rahul/kuruma/internal/calibration"
	"github.com/rahul/kuruma/internal/gateway"
	"github.com/rahul/kuruma/internal/observability"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the operator gateways and drive the robot until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context(), cmd.InOrStdin())
		},
	}
}

func (a *app) serve(parent context.Context, in io.Reader) error {
	r, err := a.openRig()
	if err != nil {
		return err
	}
	defer r.Close()

	pilot, err := a.newPilot(r)
	if err != nil {
		return err
	}

	dashboard := a.cfg.App.Dashboard && observability.IsTerminal(os.Stdout)
	var out io.Writer = os.Stdout
	if dashboard {
		out = observability.NewConsoleWriter()
	}

	var router gateway.Router
	if tgCfg, ok := a.cfg.GetTelegramConfig(); ok {
		tg, err := gateway.NewTelegramGateway(tgCfg.Token, pilot, tgCfg.AllowedChatIDs, a.logger)
		if err != nil {
			return err
		}
		router.Telegram = tg
	}
	var console *gateway.ConsoleGateway
	if a.cfg.Gateway.Console {
		console = gateway.NewConsoleGateway(pilot, in, out, a.logger)
		router.Console = console
	}
	if router.Telegram == nil && router.Console == nil {
		return errors.New("no gateway enabled: set gateway.console or gateway.telegram.enabled")
	}

	if dashboard {
		observability.PrintBanner()
		observability.InitializeTerminal()
		defer observability.CleanupTerminal()
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	// The first interrupt stops a running plan; an interrupt while idle,
	// or SIGTERM, shuts down.
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case sig := <-sigs:
				if sig == os.Interrupt && pilot.Interrupt() {
					a.logger.Warn("Plan interrupted; interrupt again to exit")
					continue
				}
				a.logger.Info("Shutting down", zap.Stringer("signal", sig))
				cancel()
				return nil
			}
		}
	})

	if router.Telegram != nil {
		g.Go(func() error {
			return router.Telegram.Start(gctx)
		})
	}
	if console != nil {
		g.Go(func() error {
			err := console.Start(gctx)
			// Without Telegram the console is the only way in.
			if router.Telegram == nil {
				cancel()
			}
			return err
		})
	}

	if a.cfg.Calibration.Watch {
		watcher := calibration.NewWatcher(a.cfg.Calibration.Path, r.profiles, r.sequencer, a.logger)
		watcher.OnSwap = func(p calibration.Profile) {
			if err := r.store.RecordProfile(context.Background(), p, "file reload"); err != nil {
				a.logger.Warn("Failed to record calibration profile", zap.Error(err))
			}
		}
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	scheduler := agent.NewScheduler(pilot, router, a.logger)
	scheduler.Events = r.events
	g.Go(func() error {
		scheduler.Start(gctx)
		return nil
	})

	if dashboard {
		g.Go(func() error {
			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					observability.PrintLiveStatus()
				}
			}
		})
	}

	a.logger.Info("Serving",
		zap.Bool("telegram", router.Telegram != nil),
		zap.Bool("console", console != nil),
		zap.Bool("dashboard", dashboard),
	)
	err = g.Wait()
	a.logger.Info("Stopped")
	return err
}
