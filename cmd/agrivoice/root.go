package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"agrivoice/internal/config"
	"agrivoice/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:   "agrivoice",
		Short: "Voice interviews for daily farm work records",
		Long:  "agrivoice runs the spoken farm diary interview from a terminal and manages\nthe local record store it writes to.",
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if configPath != "" {
				return os.Setenv("AGRIVOICE_CONFIG", configPath)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	root.Version = version

	root.AddCommand(
		newInterviewCmd(),
		newClassifyCmd(),
		newExtractCmd(),
		newRecordsCmd(),
		newLocationsCmd(),
		newSyncCmd(),
		newWeatherCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)
	return root
}

// loadConfig resolves configuration and routes logs to the command's stderr.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	logging.Init(logging.ParseLevel(cfg.Log.Level), cfg.Log.Format, cmd.ErrOrStderr())
	return cfg, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
