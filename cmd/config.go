package cmd

import (
	"fmt"
	"os"

	"github.com/hupe1980/parley/admission"
	"github.com/hupe1980/parley/config"
	"github.com/hupe1980/parley/settings"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

func loadConfig(opts *rootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

type printableConversation struct {
	MinPairs        int    `toml:"min_pairs"`
	MaxPairs        int    `toml:"max_pairs"`
	TurnConcurrency int    `toml:"turn_concurrency"`
	MinTurnDelay    string `toml:"min_turn_delay"`
	MaxTurnDelay    string `toml:"max_turn_delay"`
}

type printableConfig struct {
	Provider     config.ProviderConfig `toml:"provider"`
	Server       config.ServerConfig   `toml:"server"`
	Limits       admission.Limits      `toml:"limits"`
	Settings     settings.Settings     `toml:"settings"`
	Journal      config.JournalConfig  `toml:"journal"`
	Logging      config.LoggingConfig  `toml:"logging"`
	Conversation printableConversation `toml:"conversation"`
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	var showSecrets bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as TOML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if cfg.Provider.APIKey != "" && !showSecrets {
				cfg.Provider.APIKey = "<redacted>"
			}

			out := printableConfig{
				Provider: cfg.Provider,
				Server:   cfg.Server,
				Limits:   cfg.Limits,
				Settings: cfg.Settings,
				Journal:  cfg.Journal,
				Logging:  cfg.Logging,
				Conversation: printableConversation{
					MinPairs:        cfg.Conversation.MinPairs,
					MaxPairs:        cfg.Conversation.MaxPairs,
					TurnConcurrency: cfg.Conversation.TurnConcurrency,
					MinTurnDelay:    cfg.Conversation.MinTurnDelay.String(),
					MaxTurnDelay:    cfg.Conversation.MaxTurnDelay.String(),
				},
			}
			b, err := toml.Marshal(out)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	}
	cmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "print the provider API key")
	return cmd
}

// isRegularFile reports whether path names an existing regular file.
func isRegularFile(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
