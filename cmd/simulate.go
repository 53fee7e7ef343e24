package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/hupe1980/parley/config"
	"github.com/hupe1980/parley/core"
	"github.com/hupe1980/parley/internal/render"
	"github.com/hupe1980/parley/internal/sim"
	"github.com/hupe1980/parley/logging"
	"github.com/spf13/cobra"
)

type simulateOptions struct {
	duration time.Duration
	tick     time.Duration
	seed     uint64
	mock     bool
	show     int
}

func newSimulateCmd(opts *rootOptions) *cobra.Command {
	so := &simulateOptions{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a headless world whose residents talk through the provider",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if so.mock {
				cfg.Provider.Name = config.ProviderMock
			}
			if !cfg.Provider.Configured() {
				return errors.New("provider API key missing: set PARLEY_PROVIDER_API_KEY or pass --mock")
			}
			return runSimulation(contextOrBackground(cmd.Context()), cmd, cfg, so)
		},
	}
	cmd.Flags().DurationVar(&so.duration, "duration", 30*time.Second, "how long the world runs")
	cmd.Flags().DurationVar(&so.tick, "tick", 500*time.Millisecond, "interval between encounter attempts")
	cmd.Flags().Uint64Var(&so.seed, "seed", 0, "random seed (0 seeds from the clock)")
	cmd.Flags().BoolVar(&so.mock, "mock", false, "use the offline mock provider")
	cmd.Flags().IntVar(&so.show, "show", 12, "number of feed entries to print")
	return cmd
}

func runSimulation(ctx context.Context, cmd *cobra.Command, cfg config.Config, so *simulateOptions) error {
	random := core.NewTimeSeededRandom()
	if so.seed != 0 {
		random = core.NewRandom(so.seed)
	}

	a, err := wireApp(cfg, cmd.ErrOrStderr(), random)
	if err != nil {
		return err
	}

	world := sim.NewWorld(sim.DefaultRoster(), func(o *sim.Options) {
		o.Clock = a.clock
		o.Random = random
		o.Logger = logging.ForComponent(a.logger, "sim")
	})
	mgr := a.parley.Conversations(world)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, so.duration)
	defer cancel()

	if err := world.Run(ctx, mgr, so.tick); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return err
	}
	mgr.Close()
	a.parley.Wait()

	feed := a.parley.Feed()
	out := cmd.OutOrStdout()
	if _, err := fmt.Fprintln(out, render.Feed(feed.Feed(so.show), a.clock.Now())); err != nil {
		return err
	}
	if notices := render.QuotaNotices(feed.QuotaNotices()); notices != "" {
		if _, err := fmt.Fprintln(out, notices); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintln(out, "\n"+render.Limits(a.parley.Controller().Snapshot()))
	return err
}
