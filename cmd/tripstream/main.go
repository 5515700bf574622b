// Package main provides the entry point for the tripstream CLI.
//
// tripstream connects to a recommendation backend, follows its event
// stream until completion and prints the aggregate result. It can also
// replay recorded streams and serve them as a local fixture backend.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time via ldflags.
var (
	version = "dev"
	commit  = "none"
)

var rootCmd = &cobra.Command{
	Use:           "tripstream",
	Short:         "Follow travel recommendation streams",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup(cmd)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "tripstream %s (%s)\n", version, commit)
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file (default tripstream.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("telemetry", false, "Export trace spans to stderr")
	rootCmd.PersistentFlags().String("storage", "", "Storage backend: memory, sqlite, none")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(fixtureCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func main() {
	err := rootCmd.Execute()
	// Post-run hooks are skipped when a command fails, so release here.
	teardown()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
