package cli

import (
	"github.com/spf13/cobra"

	"rate-annualizer/internal/app"
	"rate-annualizer/internal/form"
)

var (
	annualizeSeries   string
	annualizeMonths   int
	annualizeStrategy string
	annualizeAsOf     string

	currentPolicy string

	updateMonths string
	updateMode   string
)

var annualizeCmd = &cobra.Command{
	Use:   "annualize",
	Short: "Annualize one SGS series over a look-back",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.AnnualizeOptions{
			Series:   annualizeSeries,
			Strategy: annualizeStrategy,
		}
		if cmd.Flags().Changed("months") {
			opts.Months = &annualizeMonths
		}
		if annualizeAsOf != "" {
			asOf, err := parseDate("as-of", annualizeAsOf)
			if err != nil {
				return err
			}
			opts.AsOf = &asOf
		}
		_, err := getApp().Annualize(cmd.Context(), opts)
		return err
	},
}

var currentCmd = &cobra.Command{
	Use:   "current",
	Short: "Print the current annual CDI",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := getApp().Current(cmd.Context(), currentPolicy)
		return err
	},
}

var inflationCmd = &cobra.Command{
	Use:   "inflation",
	Short: "Print the trailing twelve-month IPCA",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := getApp().Inflation(cmd.Context())
		return err
	},
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Fill the simulation form fields and print the resulting state",
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := form.ParseMode(updateMode)
		if err != nil {
			return err
		}
		_, err = getApp().Update(cmd.Context(), updateMonths, mode)
		return err
	},
}

func init() {
	annualizeCmd.Flags().StringVar(&annualizeSeries, "series", "cdi", "Series id: cdi, selic, selic-monthly, selic-target, ipca")
	annualizeCmd.Flags().IntVar(&annualizeMonths, "months", 0, "Look-back in months (defaults to config)")
	annualizeCmd.Flags().StringVar(&annualizeStrategy, "strategy", "", "compounding, mean, latest or latest-compounded (defaults to config)")
	annualizeCmd.Flags().StringVar(&annualizeAsOf, "as-of", "", "Compute as of a past date instead of today")

	currentCmd.Flags().StringVar(&currentPolicy, "policy", "", "selic-spread or cdi-compounded (defaults to config)")

	updateCmd.Flags().StringVar(&updateMonths, "months", "12", "Look-back field, as typed in the form")
	updateCmd.Flags().StringVar(&updateMode, "mode", "lookback", "lookback or current")
}
