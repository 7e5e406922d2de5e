// Command worldctl administers a world vote engine deployment: it inspects and
// repairs world state, registers decisions, resolves them and reads rankings.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	version      = "0.1.0-dev"
	envFile      string
	outputFormat string
	verbose      bool
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	rootCmd := newRootCmd()
	return rootCmd.ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "worldctl",
		Short:         "Administer the collective decision engine",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional .env file with engine configuration")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "yaml", "Output format: yaml or json (leaderboard also accepts table)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log engine activity to stderr")

	rootCmd.AddCommand(
		newInitCmd(),
		newStateCmd(),
		newResetCmd(),
		newReconcileCmd(),
		newApplyCmd(),
		newDecisionCmd(),
		newVoteCmd(),
		newResolveCmd(),
		newLeaderboardCmd(),
		newStatsCmd(),
		newRankCmd(),
		newArchiveCmd(),
	)
	return rootCmd
}
