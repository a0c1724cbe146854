package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Kelbie/georelay/config"
	"github.com/Kelbie/georelay/connection"
	"github.com/Kelbie/georelay/engine"
	"github.com/Kelbie/georelay/logging"
	"github.com/Kelbie/georelay/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var configPath string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the relay aggregation engine",
	Long: `Starts the engine: loads the relay directory, connects to the initial
relay set, then to the relays nearest to the configured region or location,
and ingests events until interrupted.`,
	RunE: runEngine,
}

func init() {
	runCmd.Flags().StringVar(&configPath, "config", "", "path to config file (built-in defaults when empty)")
}

func runEngine(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if err := logging.Init(&cfg.Logging); err != nil {
		return err
	}

	kv, err := store.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer kv.Close()

	eng := engine.New(kv, cfg.Engine())
	if cfg.Location != nil {
		eng.SetLocator(connection.FixedLocator{Lat: cfg.Location.Lat, Lon: cfg.Location.Lon})
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	eng.Start(ctx)
	defer eng.Stop()

	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.Handle("/stats", eng.StatsCollector())
		go func() {
			logging.Info("Serving /metrics and /stats on %s", cfg.Metrics.Listen)
			if err := http.ListenAndServe(cfg.Metrics.Listen, mux); err != nil {
				logging.Error("Metrics server failed: %v", err)
			}
		}()
	}

	if err := eng.Connect(ctx); err != nil {
		return err
	}
	switch {
	case cfg.Location != nil:
		if _, err := eng.ConnectToLocationRelays(ctx); err != nil {
			logging.Warn("Connect by location failed: %v", err)
		}
	case cfg.Region != "":
		if err := eng.UpdateRegion(ctx, cfg.Region); err != nil {
			logging.Warn("Connect to region %q failed: %v", cfg.Region, err)
		}
	}

	<-ctx.Done()
	logging.Info("Shutting down")
	return nil
}
