package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Sweep stale transitive rules from the execution-rule store",
	Long: `prune removes AllowTransitive/AllowPendingTransitive rules whose timestamp
is older than the retention window (§4.3.1). Nothing else in santa-core
runs this sweep, so this command is how it is run, on demand or e.g.
from cron.`,
	RunE: runPrune,
}

func init() {
	rootCmd.AddCommand(pruneCmd)
}

func runPrune(cmd *cobra.Command, args []string) error {
	store, err := openRuleStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	removed, err := store.PruneStaleTransitive(context.Background())
	if err != nil {
		return fmt.Errorf("prune: %w", err)
	}
	fmt.Printf("pruned %d stale transitive rule(s)\n", removed)
	return nil
}
