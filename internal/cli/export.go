package cli

import (
	"github.com/spf13/cobra"

	"rate-annualizer/internal/app"
)

var (
	exportFrom = newDateFlag("from")
	exportTo   = newDateFlag("to")
	exportOpts app.ExportOptions

	showOpts app.ShowOptions
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write snapshot history as CSV and/or a PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := exportOpts
		opts.From, opts.To = exportFrom.Time(), exportTo.Time()
		return getApp().Export(cmd.Context(), opts)
	},
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the most recent snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showOpts.Limit <= 0 {
			return errLimit
		}
		return getApp().Show(cmd.Context(), showOpts)
	},
}

func init() {
	flags := exportCmd.Flags()
	flags.Var(exportFrom, "from", "Start date, inclusive (default: max-points scheduler intervals back)")
	flags.Var(exportTo, "to", "End date, exclusive (default: now)")
	flags.StringVar(&exportOpts.PNGPath, "png", "", "Path to write PNG chart")
	flags.StringVar(&exportOpts.CSVPath, "csv", "", "Path to write CSV data")
	flags.IntVar(&exportOpts.MaxPoints, "max-points", 0, "Points kept per watch (default from config)")
	exportCmd.MarkFlagsOneRequired("png", "csv")

	showCmd.Flags().IntVarP(&showOpts.Limit, "limit", "n", 20, "Rows to print")
	showCmd.Flags().BoolVar(&showOpts.Alerts, "alerts", false, "Also print recent alerts")
}
