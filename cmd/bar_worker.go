/*
Copyright © 2026 quantbench
*/
package cmd

import (
	"github.com/quantbench/marketfeed-service/internal/bootstrap"
	"github.com/spf13/cobra"
)

// barWorkerCmd represents the barWorker command
var barWorkerCmd = &cobra.Command{
	Use:   "bar-worker",
	Short: "Bar persistence worker",
	Long: `Bar Worker consumes sealed and backfilled bar events from JetStream and
upserts them into the historical bar cache, keeping per-series sync status
up to date.`,
	Run: bootstrap.StartBarWorker,
}

func init() {
	rootCmd.AddCommand(barWorkerCmd)
}
