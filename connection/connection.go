// Package connection owns the live relay pool: which relays are connected
// and why, the subscriptions running against them, and the ingestion of
// everything they deliver. Relay selection follows the viewed region, with a
// bounded set of Local slots on top of a fixed Initial set.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	geohashenc "github.com/TomiHiltunen/geohash-golang"
	"github.com/Kelbie/georelay/eventstore/memstore"
	"github.com/Kelbie/georelay/geostats"
	"github.com/Kelbie/georelay/logging"
	"github.com/Kelbie/georelay/metrics"
	"github.com/Kelbie/georelay/retry"
	"github.com/nbd-wtf/go-nostr"
)

// Geohash precision used when connecting by device position. Five characters
// is roughly city scale.
const locationPrecision = 5

// defaultInitialPrefixes spreads the initial relay set across top-level
// geohash cells covering the Americas, Europe, Africa, Asia and Oceania.
var defaultInitialPrefixes = []string{"9", "d", "g", "u", "s", "k", "w", "r"}

// Config controls pool sizing and subscription behavior.
type Config struct {
	// MaxLocalRelays bounds the Local slot count. Defaults to 5.
	MaxLocalRelays int
	// GeoRelayCount is how many nearest relays to request per region.
	// Defaults to MaxLocalRelays.
	GeoRelayCount int
	// FallbackRelays, when set, is used verbatim as the initial relay set.
	FallbackRelays []string
	// InitialPrefixes selects one nearby relay per prefix for the initial
	// set when no fallback list is given.
	InitialPrefixes []string
	// Kinds filters the primary subscription. Defaults to the two public
	// chat kinds.
	Kinds []int
	// Lookback bounds how much relay backlog is requested. Defaults to 24h.
	Lookback time.Duration
	// PubKey, when set, enables the private direct-message subscription.
	PubKey string
	// VerifySignatures rejects events whose signature does not check out.
	VerifySignatures bool
	// Retry is applied to the location-based connect flow.
	Retry retry.Policy
}

func (c *Config) applyDefaults() {
	if c.MaxLocalRelays <= 0 {
		c.MaxLocalRelays = 5
	}
	if c.GeoRelayCount <= 0 {
		c.GeoRelayCount = c.MaxLocalRelays
	}
	if len(c.Kinds) == 0 {
		c.Kinds = []int{KindGeoChat, KindChannelChat}
	}
	if c.Lookback <= 0 {
		c.Lookback = 24 * time.Hour
	}
	if len(c.InitialPrefixes) == 0 && len(c.FallbackRelays) == 0 {
		c.InitialPrefixes = defaultInitialPrefixes
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = retry.Default()
	}
}

// Manager owns the relay pool and all subscription lifecycles. Topology
// changes are serialized by its lock; event ingestion runs concurrently on
// the relay reader goroutines.
type Manager struct {
	cfg       Config
	directory RelayDirectory
	store     *memstore.MemStore
	stats     *geostats.Aggregator
	registry  *registry

	mu         sync.RWMutex
	enabled    bool
	region     string
	pool       *nostr.SimplePool
	poolCtx    context.Context
	poolCancel context.CancelFunc
	primary    *subHandle
	private    *subHandle
	locator    Locator
	observers  []func()
	activity   []func(key string)

	ingested   int64
	duplicates int64
	dropped    int64
}

// New creates a manager around the given directory, event store and
// counters. Nothing connects until Connect is called.
func New(directory RelayDirectory, store *memstore.MemStore, stats *geostats.Aggregator, cfg Config) *Manager {
	cfg.applyDefaults()
	logging.Debug("Connection: Initializing manager: maxLocal=%d, geoCount=%d, lookback=%v",
		cfg.MaxLocalRelays, cfg.GeoRelayCount, cfg.Lookback)
	return &Manager{
		cfg:       cfg,
		directory: directory,
		store:     store,
		stats:     stats,
		registry:  newRegistry(),
	}
}

// SetLocator wires a position source for location-based relay selection.
func (m *Manager) SetLocator(l Locator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locator = l
}

// OnChange registers a callback fired after any connection, subscription or
// event-history change. Callbacks run on the delivering goroutine and must
// not block.
func (m *Manager) OnChange(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// OnActivity registers a callback fired when an event lands inside the
// active view region. The argument is the displayed key that matched.
func (m *Manager) OnActivity(fn func(key string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activity = append(m.activity, fn)
}

func (m *Manager) notifyChange() {
	m.mu.RLock()
	observers := make([]func(), len(m.observers))
	copy(observers, m.observers)
	m.mu.RUnlock()

	for _, fn := range observers {
		fn()
	}
}

func (m *Manager) notifyActivity(key string) {
	m.mu.RLock()
	callbacks := make([]func(string), len(m.activity))
	copy(callbacks, m.activity)
	m.mu.RUnlock()

	for _, fn := range callbacks {
		fn(key)
	}
}

func (m *Manager) syncConnectedGauge() {
	_, connected, _ := m.registry.countByStatus()
	metrics.RelaysConnected.Set(float64(connected))
}

// initialRelays resolves the starting relay set: the configured fallback
// list when given, otherwise one nearby relay per configured top-level
// prefix for broad coverage.
func (m *Manager) initialRelays() []string {
	if len(m.cfg.FallbackRelays) > 0 {
		return m.cfg.FallbackRelays
	}

	seen := make(map[string]struct{})
	urls := make([]string, 0, len(m.cfg.InitialPrefixes))
	for _, prefix := range m.cfg.InitialPrefixes {
		for _, url := range m.directory.ClosestRelays(prefix, 1) {
			if _, dup := seen[url]; dup {
				continue
			}
			seen[url] = struct{}{}
			urls = append(urls, url)
		}
	}
	return urls
}

// Connect brings up the pool, tracks the initial relay set and opens the
// primary subscription. Calling it while already connected is a no-op.
func (m *Manager) Connect(ctx context.Context) error {
	if err := m.directory.WaitReady(ctx); err != nil {
		return fmt.Errorf("connection: directory not ready: %w", err)
	}
	urls := m.initialRelays()

	m.mu.Lock()
	if m.enabled {
		m.mu.Unlock()
		logging.Debug("Connection: Connect called while already enabled")
		return nil
	}

	poolCtx, cancel := context.WithCancel(context.Background())
	m.pool = nostr.NewSimplePool(poolCtx, nostr.WithPenaltyBox())
	m.poolCtx = poolCtx
	m.poolCancel = cancel
	m.enabled = true

	for _, url := range urls {
		m.registry.track(url, "", RoleInitial)
	}
	m.resubscribePrimaryLocked()
	m.resubscribePrivateLocked()
	m.mu.Unlock()

	if len(urls) == 0 {
		logging.Warn("Connection: Connected with no initial relays available")
	} else {
		logging.Info("Connection: Connected with %d initial relays", len(urls))
	}
	m.notifyChange()
	return nil
}

// Disconnect cancels every subscription, discards the pool and marks all
// tracked relays Disconnected. Event and counter history is retained.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return
	}
	m.enabled = false
	if m.primary != nil {
		m.primary.Unsubscribe()
		m.primary = nil
	}
	if m.private != nil {
		m.private.Unsubscribe()
		m.private = nil
	}
	if m.poolCancel != nil {
		m.poolCancel()
		m.poolCancel = nil
	}
	m.pool = nil
	m.poolCtx = nil
	m.registry.markAllDisconnected()
	m.mu.Unlock()

	metrics.RelaysConnected.Set(0)
	logging.Info("Connection: Disconnected from all relays")
	m.notifyChange()
}

// Toggle flips between connected and disconnected.
func (m *Manager) Toggle(ctx context.Context) error {
	if m.Enabled() {
		m.Disconnect()
		return nil
	}
	return m.Connect(ctx)
}

// ConnectToGeoRelays selects the relays nearest to region and merges them
// into the Local slots, then rebuilds the primary subscription across the
// Initial and Local union. It returns the URLs newly added by this call; an
// empty result is valid when the directory knows nothing near the region.
func (m *Manager) ConnectToGeoRelays(ctx context.Context, region string) ([]string, error) {
	if err := m.directory.WaitReady(ctx); err != nil {
		return nil, fmt.Errorf("connection: directory not ready: %w", err)
	}
	proposed := m.directory.ClosestRelays(region, m.cfg.GeoRelayCount)

	m.mu.Lock()
	m.region = region
	if !m.enabled {
		m.mu.Unlock()
		logging.Debug("Connection: Geo relay request for %q while disconnected, tracking region only", region)
		return nil, nil
	}
	if len(proposed) == 0 {
		m.mu.Unlock()
		logging.Info("Connection: No relays known near %q", region)
		m.notifyChange()
		return []string{}, nil
	}

	added, removed := m.registry.mergeLocals(proposed, region, m.cfg.MaxLocalRelays)
	if len(added) > 0 || len(removed) > 0 {
		m.resubscribePrimaryLocked()
	}
	m.mu.Unlock()

	logging.Info("Connection: Region %q: %d geo relays added, %d dropped", region, len(added), len(removed))
	m.notifyChange()
	return added, nil
}

// DisconnectFromGeoRelays drops every Local relay and resubscribes using
// only the Initial set.
func (m *Manager) DisconnectFromGeoRelays() {
	m.mu.Lock()
	removed := m.registry.dropLocals()
	if len(removed) > 0 && m.enabled {
		m.resubscribePrimaryLocked()
	}
	m.mu.Unlock()

	if len(removed) > 0 {
		logging.Info("Connection: Dropped %d geo relays", len(removed))
		m.notifyChange()
	}
}

// UpdateRegion tracks the viewed region and reallocates Local relays when it
// actually changed. An empty region clears the view and tears down the
// Local set.
func (m *Manager) UpdateRegion(ctx context.Context, region string) error {
	m.mu.RLock()
	current := m.region
	m.mu.RUnlock()
	if region == current {
		return nil
	}

	if region == "" {
		m.mu.Lock()
		m.region = ""
		m.mu.Unlock()
		m.DisconnectFromGeoRelays()
		return nil
	}
	_, err := m.ConnectToGeoRelays(ctx, region)
	return err
}

// ConnectToLocationRelays resolves the device position and joins the relays
// nearest to it. Position sources are flaky on cold start, so the whole
// resolve-and-connect step runs under the configured retry policy.
func (m *Manager) ConnectToLocationRelays(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	locator := m.locator
	m.mu.RUnlock()
	if locator == nil {
		return nil, errors.New("connection: no location source configured")
	}

	var urls []string
	err := retry.Do(ctx, m.cfg.Retry, func(ctx context.Context) error {
		lat, lon, err := locator.Current(ctx)
		if err != nil {
			return fmt.Errorf("connection: resolve location: %w", err)
		}
		gh := geohashenc.Encode(lat, lon)
		if len(gh) > locationPrecision {
			gh = gh[:locationPrecision]
		}
		connected, err := m.ConnectToGeoRelays(ctx, gh)
		if err != nil {
			return err
		}
		urls = connected
		return nil
	})
	return urls, err
}

// ResetHistory clears stored events and region counters. Connection state is
// untouched.
func (m *Manager) ResetHistory() {
	m.store.Reset()
	m.stats.Reset()
	logging.Info("Connection: Event and counter history cleared")
	m.notifyChange()
}

// Events returns the stored events, newest first.
func (m *Manager) Events() []memstore.StoredEvent {
	return m.store.All()
}

// EventCounts returns the raw per-key counters.
func (m *Manager) EventCounts() map[string]geostats.Record {
	return m.stats.Counts()
}

// HierarchicalCount returns the in-view event count rolled up under prefix.
func (m *Manager) HierarchicalCount(prefix string) int64 {
	return m.stats.HierarchicalCount(prefix)
}

// HierarchicalTotal returns the all-events count rolled up under prefix.
func (m *Manager) HierarchicalTotal(prefix string) int64 {
	return m.stats.HierarchicalTotal(prefix)
}

// AllCountsByPrefix returns the rolled-up count for every observed prefix.
func (m *Manager) AllCountsByPrefix() map[string]int64 {
	return m.stats.AllCountsByPrefix()
}

// Region returns the currently tracked view region.
func (m *Manager) Region() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.region
}

// Enabled reports whether the pool is up.
func (m *Manager) Enabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// Status reports the aggregate connection state: connected while any relay
// has acknowledged its backlog, connecting while attempts are in flight,
// disconnected otherwise. Individual relay failures do not degrade the
// aggregate as long as one relay holds.
func (m *Manager) Status() Status {
	if !m.Enabled() {
		return StatusDisconnected
	}
	connecting, connected, _ := m.registry.countByStatus()
	switch {
	case connected > 0:
		return StatusConnected
	case connecting > 0:
		return StatusConnecting
	default:
		return StatusDisconnected
	}
}

// Relays returns per-relay detail, sorted by URL.
func (m *Manager) Relays() []ConnectedRelay {
	return m.registry.snapshot()
}

// RelayURLs returns every tracked relay URL, sorted.
func (m *Manager) RelayURLs() []string {
	return m.registry.urls()
}

// ManagerStats represents connection manager statistics
type ManagerStats struct {
	Enabled      bool   `json:"enabled"`
	Region       string `json:"region"`
	Relays       int    `json:"relays"`
	Connecting   int    `json:"connecting"`
	Connected    int    `json:"connected"`
	Disconnected int    `json:"disconnected"`
	LocalRelays  int    `json:"local_relays"`
	Ingested     int64  `json:"ingested"`
	Duplicates   int64  `json:"duplicates"`
	Dropped      int64  `json:"dropped"`
}

// GetStatsName returns the name for this stats provider
func (m *Manager) GetStatsName() string {
	return "connection"
}

// GetStats returns connection statistics in structured format
func (m *Manager) GetStats() interface{} {
	connecting, connected, disconnected := m.registry.countByStatus()
	return ManagerStats{
		Enabled:      m.Enabled(),
		Region:       m.Region(),
		Relays:       m.registry.len(),
		Connecting:   connecting,
		Connected:    connected,
		Disconnected: disconnected,
		LocalRelays:  m.registry.countByRole(RoleLocal),
		Ingested:     atomic.LoadInt64(&m.ingested),
		Duplicates:   atomic.LoadInt64(&m.duplicates),
		Dropped:      atomic.LoadInt64(&m.dropped),
	}
}
