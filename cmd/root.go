// Package cmd implements the parley command line.
package cmd

import "github.com/spf13/cobra"

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "parley",
		Short:         "Quota-aware two-party dialogue for simulations",
		Long:          "parley lets a live simulation request two-party dialogue from a language-model provider while staying inside request, token and concurrency limits.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (yaml or toml)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newConfigCmd(opts),
		newServeCmd(opts),
		newSimulateCmd(opts),
		newLimitsCmd(),
	)

	return rootCmd
}
