package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hupe1980/parley/config"
	"github.com/hupe1980/parley/logging"
	"github.com/hupe1980/parley/server"
	"github.com/hupe1980/parley/settings"
	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		addr  string
		watch bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dialogue API over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			a, err := wireApp(cfg, cmd.ErrOrStderr(), nil)
			if err != nil {
				return err
			}
			defer a.parley.Wait()

			if watch && isRegularFile(opts.configPath) {
				w, err := config.WatchSettings(opts.configPath, func(s settings.Settings) {
					a.parley.Generator().ReplaceSettings(s)
				}, func(o *config.WatchOptions) { o.Logger = logging.ForComponent(a.logger, "config") })
				if err != nil {
					return err
				}
				defer w.Close()
			}

			if !cfg.Provider.Configured() {
				a.logger.Warn("provider API key missing; generation routes answer 503", "provider", cfg.Provider.Name)
			}

			srv := server.New(a.parley.Generator(), a.parley.Controller(), func(o *server.Options) {
				o.ProviderName = cfg.Provider.Name
				o.ProviderConfigured = cfg.Provider.Configured()
				o.Journal = a.parley.Journal()
				o.Logger = logging.ForComponent(a.logger, "server")
			})

			ctx, stop := signal.NotifyContext(contextOrBackground(cmd.Context()), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.ListenAndServe(ctx, cfg.Server.Addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&watch, "watch", true, "re-apply runtime settings when the config file changes")
	return cmd
}

// contextOrBackground guards commands executed without a context.
func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
