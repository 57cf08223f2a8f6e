/*
Copyright © 2026 quantbench
*/
package cmd

import (
	"github.com/quantbench/marketfeed-service/internal/bootstrap"
	"github.com/spf13/cobra"
)

// apiCmd represents the api command
var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Market data HTTP API",
	Long: `API serves the chart-facing read endpoints: merged historical and live bar
series, gap listings for backfill, per-series sync status, and the current
gateway connection state.`,
	Run: bootstrap.StartAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}
