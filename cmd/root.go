package cmd

import (
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"
)

var version = "dev"

// SetVersion sets the version string, typically injected at build time.
func SetVersion(v string) {
	if v != "" && v != "dev" {
		version = v
		return
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		version = info.Main.Version
	}
}

var rootCmd = &cobra.Command{
	Use:   "tablehub",
	Short: "Offline-first collaborative table sync server",
	Long: `tablehub - The backend for offline-first collaborative tables.

Clients edit locally and reconcile through an append-only event log:
push a batch of operations, pull everything that happened since your
cursor. Conflicts resolve last-writer-wins per cell.`,
	// Bare invocation runs the server; subcommands are admin verbs.
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd, args)
	},
}

// Execute runs the root command.
func Execute() {
	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
