// zkmut correlates faults injected into one zkVM execution trace with the
// preflight trace of another and replays them there.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/colorfulnotion/zkmut/log"
	"github.com/colorfulnotion/zkmut/telemetry"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		logLevel          string
		logFormat         string
		debug             string
		telemetryEndpoint string
	)

	rootCmd := &cobra.Command{
		Use:           "zkmut",
		Short:         "Cross-trace fault correlation for zkVM mutation testing",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := log.Setup(os.Stderr, logLevel, logFormat); err != nil {
				return err
			}
			log.EnableModules(debug)
			return telemetry.Init(cmd.Context(), telemetryEndpoint, true)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return telemetry.Shutdown(ctx)
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", log.FormatTerminal, "Log format (terminal, logfmt, json)")
	rootCmd.PersistentFlags().StringVar(&debug, "debug", "", "Modules with debug logging (comma separated, or all)")
	rootCmd.PersistentFlags().StringVar(&telemetryEndpoint, "telemetry", "", "OTLP/HTTP collector endpoint (e.g., localhost:4318)")

	rootCmd.AddCommand(
		newDecodeCmd(),
		newOffsetCmd(),
		newLocateCmd(),
		newResolveCmd(),
		newCompareCmd(),
		newDifferentialCmd(),
		newCoverageCmd(),
		newAnalyzeCmd(),
		newExploreCmd(),
		newReplayCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "zkmut %s (commit %s, built %s)\n", Version, Commit, BuildTime)
			},
		},
	)
	return rootCmd
}
