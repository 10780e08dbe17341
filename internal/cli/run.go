package cli

import (
	"github.com/spf13/cobra"

	"rate-annualizer/internal/app"
)

var runServe bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduled refresh service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context(), app.RunOptions{Serve: runServe})
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the rate and form HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Serve(cmd.Context())
	},
}

func init() {
	runCmd.Flags().BoolVar(&runServe, "serve", false, "Also serve the HTTP API")
}
