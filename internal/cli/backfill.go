package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"l3-health-alerts/internal/app"
)

var (
	backfillFromBlock uint64
	backfillToBlock   uint64
	backfillDryRun    bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Backfill historical block samples into the archive",
	RunE: func(cmd *cobra.Command, args []string) error {
		if backfillToBlock == 0 {
			return fmt.Errorf("--to-block must be provided")
		}
		if backfillFromBlock >= backfillToBlock {
			return fmt.Errorf("--from-block must be less than --to-block")
		}

		opts := app.BackfillOptions{
			FromBlock: backfillFromBlock,
			ToBlock:   backfillToBlock,
			DryRun:    backfillDryRun,
		}

		return getApp().Backfill(cmd.Context(), opts)
	},
}

func init() {
	backfillCmd.Flags().Uint64Var(&backfillFromBlock, "from-block", 0, "First block height (inclusive)")
	backfillCmd.Flags().Uint64Var(&backfillToBlock, "to-block", 0, "Last block height (exclusive)")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Run without writing to storage")
}
