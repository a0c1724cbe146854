package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "georelay",
	Short: "Geohash-aware Nostr relay aggregation engine",
	Long: `Georelay aggregates Nostr events from relays chosen by geographic
proximity. It maintains a relay directory with coordinates, connects to the
relays nearest to the viewed geohash region, deduplicates incoming events
across relays and tracks hierarchical per-region activity counts.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(runCmd)
}
