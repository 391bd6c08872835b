// Command rainfeat keeps a local cache of daily rainfall rasters in sync with
// the remote archive and turns it into scored per-cell feature tables.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/couchcryptid/rainfall-grid-etl/internal/config"
	"github.com/couchcryptid/rainfall-grid-etl/internal/observability"
	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

type exitCode int

const (
	exitCodeSuccess exitCode = 0
	exitCodeError   exitCode = 1
)

func main() {
	os.Exit(int(run()))
}

func run() exitCode {
	var (
		envFile string
		verbose bool
		a       *app
	)

	rootCmd := &cobra.Command{
		Use:           "rainfeat",
		Short:         "Rainfall raster sync and grid feature extraction.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			if err := config.LoadEnvFile(envFile); err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			level := cfg.LogLevel
			if verbose {
				level = "debug"
			}
			a = newApp(cfg, observability.NewLogger(level, cfg.LogFormat))
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "set debug logging level")

	appRef := func() *app { return a }
	rootCmd.AddCommand(
		newSyncCmd(appRef),
		newFeaturesCmd(appRef),
		newDescribeCmd(appRef),
		newRunCmd(appRef),
		newDaemonCmd(appRef),
		newVersionCmd(),
	)

	err := rootCmd.Execute()
	logger := slog.Default()
	if a != nil {
		logger = a.logger
		if cerr := a.close(); cerr != nil {
			logger.Error("close failed", "error", cerr)
		}
	}
	if err != nil {
		logger.Error("command failed", "error", err)
		return exitCodeError
	}
	return exitCodeSuccess
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version.",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
