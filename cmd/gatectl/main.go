// Package main implements the gatectl CLI for running validation
// pipelines locally and managing the git hook bridge.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "gatectl",
	Short: "CLI for the gated validation pipeline",
	Long: `gatectl runs validation pipelines locally and manages the git hooks
that bridge commits and pushes into validation runs.

The same stage configuration drives both the gated daemon and local runs,
so a push blocked by a pre-push hook fails for the same reason the
webhook-triggered run would.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(hooksCmd)
	rootCmd.AddCommand(statusCmd)
}
