/*
Copyright © 2026 quantbench
*/
package cmd

import (
	"github.com/quantbench/marketfeed-service/internal/bootstrap"
	"github.com/spf13/cobra"
)

// feedGatewayCmd represents the feedGateway command
var feedGatewayCmd = &cobra.Command{
	Use:   "feed-gateway",
	Short: "Market data feed gateway service",
	Long: `Feed Gateway maintains the persistent connection to the upstream market data
provider, coordinates per-instrument stream subscriptions, and aggregates raw
ticks into OHLCV bars.

This service:
- Dials and supervises the upstream websocket feed with automatic reconnect
- Subscribes configured instruments to quote, trade, and depth streams
- Aggregates ticks into time-bucketed bars per configured timeframe
- Publishes sealed bars to JetStream and snapshots live bars to redis`,
	Run: bootstrap.StartFeedGateway,
}

func init() {
	rootCmd.AddCommand(feedGatewayCmd)
}
