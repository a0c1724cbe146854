// Package engine wires the relay directory, connection manager, event store,
// geo stats and publisher into one system with a single lifecycle.
package engine

import (
	"context"
	"time"

	"github.com/Kelbie/georelay/connection"
	"github.com/Kelbie/georelay/directory"
	"github.com/Kelbie/georelay/eventstore/memstore"
	"github.com/Kelbie/georelay/geostats"
	"github.com/Kelbie/georelay/logging"
	"github.com/Kelbie/georelay/publish"
	"github.com/Kelbie/georelay/stats"
	"github.com/nbd-wtf/go-nostr"
)

// EngineStats represents the complete statistics from the engine
type EngineStats struct {
	Directory  directory.DirectoryStats `json:"directory"`
	Connection connection.ManagerStats  `json:"connection"`
	Events     memstore.MemStoreStats   `json:"events"`
	GeoStats   geostats.AggregatorStats `json:"geostats"`
	Publisher  publish.PublisherStats   `json:"publisher"`
	Timestamp  int64                    `json:"timestamp"`
}

// Config holds configuration for the engine.
type Config struct {
	Directory  directory.Config
	Connection connection.Config
	Publisher  publish.Config
	// HealthInterval is the relay health sweep period. Zero uses the
	// connection package default.
	HealthInterval time.Duration
}

// Engine provides a unified interface over all components.
type Engine struct {
	directory  *directory.Directory
	store      *memstore.MemStore
	geoStats   *geostats.Aggregator
	manager    *connection.Manager
	publisher  *publish.Publisher
	collector  *stats.StatsCollector
	healthIntv time.Duration

	cancel context.CancelFunc
}

// New creates an engine with all components wired together. cache persists
// the directory snapshot between runs and may be nil.
func New(cache directory.Cache, cfg *Config) *Engine {
	if cfg == nil {
		cfg = &Config{}
	}
	logging.Debug("Engine: Initializing engine")

	dir := directory.New(cache, &cfg.Directory)
	store := memstore.New()
	geoStats := geostats.NewAggregator()
	mgr := connection.New(dir, store, geoStats, cfg.Connection)
	pub := publish.New(mgr, cfg.Publisher)

	collector := stats.NewStatsCollector()
	collector.RegisterProvider(dir)
	collector.RegisterProvider(store)
	collector.RegisterProvider(geoStats)
	collector.RegisterProvider(mgr)
	collector.RegisterProvider(pub)

	return &Engine{
		directory:  dir,
		store:      store,
		geoStats:   geoStats,
		manager:    mgr,
		publisher:  pub,
		collector:  collector,
		healthIntv: cfg.HealthInterval,
	}
}

// Start loads the directory and launches the background loops: remote
// directory refresh, relay health sweeps and the publish worker pool.
// It does not connect to any relay; call Connect for that.
func (e *Engine) Start(ctx context.Context) {
	logging.Info("Engine: Starting")

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.directory.Load()
	go func() {
		if err := e.directory.Refresh(runCtx); err != nil {
			logging.Warn("Engine: initial directory refresh failed: %v", err)
		}
	}()
	e.directory.StartRefreshLoop(runCtx)
	e.manager.StartHealthLoop(runCtx, e.healthIntv)
	e.publisher.Start()
}

// Stop gracefully stops the engine.
func (e *Engine) Stop() {
	logging.Info("Engine: Stopping")
	if e.cancel != nil {
		e.cancel()
	}
	e.manager.Disconnect()
	e.publisher.Stop()
}

// Connect opens the initial relay set and starts ingesting events.
func (e *Engine) Connect(ctx context.Context) error {
	return e.manager.Connect(ctx)
}

// Disconnect drops every relay. Stored events and counters are retained.
func (e *Engine) Disconnect() {
	e.manager.Disconnect()
}

// Toggle flips between connected and disconnected.
func (e *Engine) Toggle(ctx context.Context) error {
	return e.manager.Toggle(ctx)
}

// UpdateRegion switches the viewed region and the Local relay slots with it.
func (e *Engine) UpdateRegion(ctx context.Context, region string) error {
	return e.manager.UpdateRegion(ctx, region)
}

// ConnectToGeoRelays joins the relays nearest to region and returns the URLs
// newly added to the pool.
func (e *Engine) ConnectToGeoRelays(ctx context.Context, region string) ([]string, error) {
	return e.manager.ConnectToGeoRelays(ctx, region)
}

// DisconnectFromGeoRelays drops the region-specific relays, keeping only the
// initial set.
func (e *Engine) DisconnectFromGeoRelays() {
	e.manager.DisconnectFromGeoRelays()
}

// ConnectToLocationRelays resolves the device position and connects to the
// relays nearest to it.
func (e *Engine) ConnectToLocationRelays(ctx context.Context) ([]string, error) {
	return e.manager.ConnectToLocationRelays(ctx)
}

// SetLocator installs the device position source.
func (e *Engine) SetLocator(l connection.Locator) {
	e.manager.SetLocator(l)
}

// OnChange registers fn to run after every event insertion or topology change.
func (e *Engine) OnChange(fn func()) {
	e.manager.OnChange(fn)
}

// OnActivity registers fn to run when an event lands in the viewed region.
func (e *Engine) OnActivity(fn func(key string)) {
	e.manager.OnActivity(fn)
}

// ResetHistory discards all stored events and per-region counters.
func (e *Engine) ResetHistory() {
	e.manager.ResetHistory()
}

// Publish queues an event for delivery to the connected relay set.
func (e *Engine) Publish(event *nostr.Event) bool {
	return e.publisher.Publish(event)
}

// Events returns the stored events, newest first.
func (e *Engine) Events() []memstore.StoredEvent {
	return e.manager.Events()
}

// EventCounts returns the per-region activity records.
func (e *Engine) EventCounts() map[string]geostats.Record {
	return e.manager.EventCounts()
}

// HierarchicalCount returns the region-scoped event count for prefix.
func (e *Engine) HierarchicalCount(prefix string) int64 {
	return e.manager.HierarchicalCount(prefix)
}

// HierarchicalTotal returns the all-events count for prefix.
func (e *Engine) HierarchicalTotal(prefix string) int64 {
	return e.manager.HierarchicalTotal(prefix)
}

// AllCountsByPrefix returns the hierarchical count for every observed prefix.
func (e *Engine) AllCountsByPrefix() map[string]int64 {
	return e.manager.AllCountsByPrefix()
}

// Region returns the currently viewed region, or "" when none is set.
func (e *Engine) Region() string {
	return e.manager.Region()
}

// Status returns the aggregate connection status.
func (e *Engine) Status() connection.Status {
	return e.manager.Status()
}

// Relays returns a snapshot of the tracked relay set.
func (e *Engine) Relays() []connection.ConnectedRelay {
	return e.manager.Relays()
}

// Directory returns the relay directory for external lookups.
func (e *Engine) Directory() *directory.Directory {
	return e.directory
}

// RelayInfo fetches a relay's NIP-11 self-description document.
func (e *Engine) RelayInfo(ctx context.Context, url string) (*connection.RelayInfo, error) {
	return connection.FetchRelayInfo(ctx, url)
}

// Manager returns the underlying connection manager.
func (e *Engine) Manager() *connection.Manager {
	return e.manager
}

// StatsCollector returns the stats collector for external use.
func (e *Engine) StatsCollector() *stats.StatsCollector {
	return e.collector
}

// GetStatsAsJSON returns all stats as formatted JSON.
func (e *Engine) GetStatsAsJSON() ([]byte, error) {
	return e.collector.GetStatsAsJSON()
}

// GetStats returns comprehensive statistics in structured format
func (e *Engine) GetStats() EngineStats {
	return EngineStats{
		Directory:  e.directory.GetStats().(directory.DirectoryStats),
		Connection: e.manager.GetStats().(connection.ManagerStats),
		Events:     e.store.GetStats().(memstore.MemStoreStats),
		GeoStats:   e.geoStats.GetStats().(geostats.AggregatorStats),
		Publisher:  e.publisher.GetStats().(publish.PublisherStats),
		Timestamp:  time.Now().Unix(),
	}
}
