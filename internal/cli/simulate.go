package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"rate-annualizer/internal/app"
)

var (
	simulateSeries   string
	simulateStrategy string
	simulateMonths   int
	simulatePrevious string
	simulateCurrent  string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Simulate a rate move and dispatch the alert",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulatePrevious == "" || simulateCurrent == "" {
			return errors.New("--previous and --current must be provided")
		}
		previous, err := decimal.NewFromString(simulatePrevious)
		if err != nil {
			return errors.New("--previous must be a decimal percentage")
		}
		current, err := decimal.NewFromString(simulateCurrent)
		if err != nil {
			return errors.New("--current must be a decimal percentage")
		}

		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Series:   simulateSeries,
			Strategy: simulateStrategy,
			Months:   simulateMonths,
			Previous: previous,
			Current:  current,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSeries, "series", "cdi", "Series id of the simulated watch")
	simulateCmd.Flags().StringVar(&simulateStrategy, "strategy", "compounding", "Strategy of the simulated watch")
	simulateCmd.Flags().IntVar(&simulateMonths, "months", 12, "Look-back of the simulated watch")
	simulateCmd.Flags().StringVar(&simulatePrevious, "previous", "", "Previous annualized value, % a.a.")
	simulateCmd.Flags().StringVar(&simulateCurrent, "current", "", "Current annualized value, % a.a.")
}
