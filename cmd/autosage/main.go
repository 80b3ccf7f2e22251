// Command autosage runs the AutoSage agent server: a tool registry, an
// execution engine, a job store, and a session manifold wired together
// behind one HTTP surface. It is grounded on cmd/nexus: a cobra root
// command with version metadata, a "serve" subcommand that loads config,
// builds the server, and blocks on signal.NotifyContext until
// SIGINT/SIGTERM trigger graceful shutdown.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "autosage",
		Short:        "AutoSage tool-execution agent server",
		Version:      fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage: true,
	}
	root.AddCommand(buildServeCmd(), buildVersionCmd())
	return root
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "autosage %s (commit %s, built %s)\n", version, commit, date)
			return nil
		},
	}
}
