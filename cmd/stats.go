package cmd

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var statsAddr string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Dump the stats snapshot of a running engine",
	Long:  `Fetches the /stats endpoint of a running georelay daemon and prints the JSON snapshot.`,
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().StringVar(&statsAddr, "addr", "127.0.0.1:9090", "address of the running engine's metrics listener")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + statsAddr + "/stats")
	if err != nil {
		return fmt.Errorf("fetching stats from %s: %w", statsAddr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stats endpoint returned status %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading stats response: %w", err)
	}
	fmt.Println(string(body))
	return nil
}
