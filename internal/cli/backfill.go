package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"rate-annualizer/internal/app"
)

var (
	backfillFrom    = newDateFlag("from")
	backfillTo      = newDateFlag("to")
	backfillDryRun  bool
	backfillWorkers int
)

var backfillCmd = &cobra.Command{
	Use:     "backfill",
	Short:   "Recompute every watch at monthly as-of dates",
	Example: "  ratesim backfill --from 2024-01-15 --to 2025-06-15 --workers 4",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, to := backfillFrom.Time(), backfillTo.Time()
		if to.Before(*from) {
			return errors.New("--from must not be after --to")
		}
		return getApp().Backfill(cmd.Context(), app.BackfillOptions{
			From:    *from,
			To:      *to,
			DryRun:  backfillDryRun,
			Workers: backfillWorkers,
		})
	},
}

func init() {
	flags := backfillCmd.Flags()
	flags.Var(backfillFrom, "from", "First as-of date, inclusive")
	flags.Var(backfillTo, "to", "Last as-of date, inclusive")
	flags.BoolVar(&backfillDryRun, "dry-run", false, "Compute without writing snapshots")
	flags.IntVar(&backfillWorkers, "workers", 2, "Dates computed concurrently")
	_ = backfillCmd.MarkFlagRequired("from")
	_ = backfillCmd.MarkFlagRequired("to")
}
