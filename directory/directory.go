// Package directory maintains the relay directory: relay endpoints with
// coordinates, loaded from a cached or bundled CSV list and refreshed from a
// remote URL at most once per refresh interval. Lookups rank endpoints by
// great-circle distance to the center of a geohash region.
package directory

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Kelbie/georelay/geohash"
	"github.com/Kelbie/georelay/logging"
	"github.com/Kelbie/georelay/metrics"
	"github.com/Kelbie/georelay/retry"
)

// Defaults for remote refresh behavior.
const (
	DefaultRefreshInterval = 24 * time.Hour
	DefaultFetchTimeout    = 15 * time.Second
)

// maxListBytes caps how much of a remote list is read.
const maxListBytes = 8 << 20

// Cache keys for the persisted snapshot.
const (
	cacheKeyCSV       = "relay_directory_csv"
	cacheKeyFetchedAt = "relay_directory_fetched_at"
)

const earthRadiusKm = 6371.0

// Entry is a single relay endpoint: a bare hostname plus coordinates.
type Entry struct {
	Host string
	Lat  float64
	Lon  float64
}

// URL returns the websocket URL for the endpoint.
func (e Entry) URL() string { return "wss://" + e.Host }

// Config holds configuration for the directory.
type Config struct {
	// RemoteURL is the CSV list to refresh from. Empty disables refresh.
	RemoteURL string
	// RefreshInterval gates how often the remote list is fetched.
	RefreshInterval time.Duration
	// FetchTimeout bounds a single remote fetch.
	FetchTimeout time.Duration
	// Retry is applied to remote fetches. Defaults to a single attempt.
	Retry retry.Policy
	// HTTPClient overrides the fetch client, mainly for tests.
	HTTPClient *http.Client
}

// Directory holds the active relay endpoint snapshot. The snapshot slice is
// immutable; refreshes replace it wholesale.
type Directory struct {
	cache           Cache
	remoteURL       string
	refreshInterval time.Duration
	fetchTimeout    time.Duration
	retryPolicy     retry.Policy
	client          *http.Client

	mu        sync.RWMutex
	entries   []Entry
	lastFetch time.Time

	ready     chan struct{}
	readyOnce sync.Once

	refreshMu sync.Mutex // serializes remote refreshes

	refreshes       int64
	refreshFailures int64
	refreshSkips    int64
}

// New creates a directory backed by cache. cache may be nil, in which case
// snapshots are not persisted across runs.
func New(cache Cache, cfg *Config) *Directory {
	if cfg == nil {
		cfg = &Config{}
	}
	interval := cfg.RefreshInterval
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	policy := cfg.Retry
	if policy.MaxAttempts == 0 {
		policy = retry.Once()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	logging.Debug("Directory: Initializing directory: remote=%s interval=%v", cfg.RemoteURL, interval)
	return &Directory{
		cache:           cache,
		remoteURL:       cfg.RemoteURL,
		refreshInterval: interval,
		fetchTimeout:    timeout,
		retryPolicy:     policy,
		client:          client,
		ready:           make(chan struct{}),
	}
}

// Load installs the initial snapshot: the cached copy when present and
// parsable, otherwise the bundled list. The directory is ready afterwards.
func (d *Directory) Load() {
	if d.cache != nil {
		cached, ok, err := d.cache.Get(cacheKeyCSV)
		if err != nil {
			logging.Warn("Directory: failed to read cached list: %v", err)
		} else if ok {
			if entries := parseList(cached); len(entries) > 0 {
				fetchedAt, _, _ := d.cache.GetTime(cacheKeyFetchedAt)
				d.install(entries, fetchedAt)
				logging.Info("Directory: loaded %d relay endpoints from cache", len(entries))
				return
			}
			logging.Warn("Directory: cached list is empty or malformed, using bundled list")
		}
	}

	entries := parseList(bundledCSV)
	d.install(entries, time.Time{})
	logging.Info("Directory: loaded %d relay endpoints from bundled list", len(entries))
}

// install atomically replaces the snapshot and marks the directory ready.
func (d *Directory) install(entries []Entry, fetchedAt time.Time) {
	d.mu.Lock()
	d.entries = entries
	if !fetchedAt.IsZero() {
		d.lastFetch = fetchedAt
	}
	d.mu.Unlock()

	metrics.DirectoryEntries.Set(float64(len(entries)))
	d.readyOnce.Do(func() { close(d.ready) })
}

// WaitReady blocks until the first snapshot is installed or ctx ends.
func (d *Directory) WaitReady(ctx context.Context) error {
	select {
	case <-d.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready reports whether a snapshot has been installed.
func (d *Directory) Ready() bool {
	select {
	case <-d.ready:
		return true
	default:
		return false
	}
}

// Refresh fetches the remote list when the refresh interval has elapsed
// since the last successful fetch. On success the snapshot is replaced and
// persisted; on any failure the current snapshot stays untouched.
func (d *Directory) Refresh(ctx context.Context) error {
	if d.remoteURL == "" {
		return nil
	}

	d.refreshMu.Lock()
	defer d.refreshMu.Unlock()

	d.mu.RLock()
	last := d.lastFetch
	d.mu.RUnlock()

	if since := time.Since(last); since < d.refreshInterval {
		atomic.AddInt64(&d.refreshSkips, 1)
		metrics.DirectoryRefreshesTotal.WithLabelValues("skipped").Inc()
		logging.DebugMethod("directory", "Refresh", "last fetch %v ago (interval %v), skipping", since.Round(time.Second), d.refreshInterval)
		return nil
	}

	var body string
	err := retry.Do(ctx, d.retryPolicy, func(ctx context.Context) error {
		var fetchErr error
		body, fetchErr = d.fetchRemote(ctx)
		return fetchErr
	})
	if err != nil {
		atomic.AddInt64(&d.refreshFailures, 1)
		metrics.DirectoryRefreshesTotal.WithLabelValues("error").Inc()
		return err
	}
	entries := parseList(body)
	if len(entries) == 0 {
		atomic.AddInt64(&d.refreshFailures, 1)
		metrics.DirectoryRefreshesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("directory: remote list %s has no usable rows", d.remoteURL)
	}

	now := time.Now()
	d.install(entries, now)
	atomic.AddInt64(&d.refreshes, 1)
	metrics.DirectoryRefreshesTotal.WithLabelValues("ok").Inc()
	metrics.DirectoryLastFetchUnix.Set(float64(now.Unix()))
	logging.Info("Directory: refreshed %d relay endpoints from %s", len(entries), d.remoteURL)

	if d.cache != nil {
		if err := d.cache.Put(cacheKeyCSV, body); err != nil {
			logging.Warn("Directory: failed to persist list: %v", err)
		}
		if err := d.cache.PutTime(cacheKeyFetchedAt, now); err != nil {
			logging.Warn("Directory: failed to persist fetch time: %v", err)
		}
	}
	return nil
}

func (d *Directory) fetchRemote(ctx context.Context) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, d.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, d.remoteURL, nil)
	if err != nil {
		return "", fmt.Errorf("directory: build request for %s: %w", d.remoteURL, err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("directory: fetch %s: %w", d.remoteURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("directory: fetch %s: unexpected status %s", d.remoteURL, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxListBytes))
	if err != nil {
		return "", fmt.Errorf("directory: read %s: %w", d.remoteURL, err)
	}
	return string(body), nil
}

// StartRefreshLoop keeps the snapshot fresh in the background until ctx
// ends. The hourly tick only checks the gate; fetches still happen at most
// once per refresh interval.
func (d *Directory) StartRefreshLoop(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := d.Refresh(ctx); err != nil {
					logging.Warn("Directory: background refresh failed: %v", err)
				}
			}
		}
	}()
}

// ClosestRelays returns the websocket URLs of the n endpoints nearest to the
// center of the given geohash, ordered by distance. Equidistant endpoints
// keep their snapshot order. An empty directory yields an empty result.
func (d *Directory) ClosestRelays(gh string, n int) []string {
	if n <= 0 {
		return nil
	}

	d.mu.RLock()
	entries := d.entries
	d.mu.RUnlock()
	if len(entries) == 0 {
		return nil
	}

	lat, lon := geohash.Center(gh)

	type scored struct {
		entry Entry
		km    float64
	}
	ranked := make([]scored, len(entries))
	for i, e := range entries {
		ranked[i] = scored{entry: e, km: haversineKm(lat, lon, e.Lat, e.Lon)}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].km < ranked[j].km })

	if n > len(ranked) {
		n = len(ranked)
	}
	urls := make([]string, n)
	for i := 0; i < n; i++ {
		urls[i] = ranked[i].entry.URL()
	}
	logging.DebugMethod("directory", "ClosestRelays", "%d nearest to %q: %v", n, gh, urls)
	return urls
}

// Entries returns a copy of the active snapshot.
func (d *Directory) Entries() []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Entry, len(d.entries))
	copy(out, d.entries)
	return out
}

// Len returns the number of endpoints in the active snapshot.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// LastFetch returns the time of the last successful remote fetch, or the
// zero time when only the cached or bundled list has been loaded.
func (d *Directory) LastFetch() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastFetch
}

// haversineKm returns the great-circle distance between two points on a
// 6371 km sphere.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const degToRad = math.Pi / 180
	dLat := (lat2 - lat1) * degToRad
	dLon := (lon2 - lon1) * degToRad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// DirectoryStats represents directory statistics
type DirectoryStats struct {
	Entries         int    `json:"entries"`
	LastFetch       string `json:"last_fetch"`
	RefreshInterval string `json:"refresh_interval"`
	RemoteURL       string `json:"remote_url"`
	Refreshes       int64  `json:"refreshes"`
	RefreshFailures int64  `json:"refresh_failures"`
	RefreshSkips    int64  `json:"refresh_skips"`
}

// GetStatsName returns the name for this stats provider
func (d *Directory) GetStatsName() string {
	return "directory"
}

// GetStats returns directory statistics in structured format
func (d *Directory) GetStats() interface{} {
	d.mu.RLock()
	entryCount := len(d.entries)
	last := d.lastFetch
	d.mu.RUnlock()

	lastStr := ""
	if !last.IsZero() {
		lastStr = last.Format(time.RFC3339)
	}
	return DirectoryStats{
		Entries:         entryCount,
		LastFetch:       lastStr,
		RefreshInterval: d.refreshInterval.String(),
		RemoteURL:       d.remoteURL,
		Refreshes:       atomic.LoadInt64(&d.refreshes),
		RefreshFailures: atomic.LoadInt64(&d.refreshFailures),
		RefreshSkips:    atomic.LoadInt64(&d.refreshSkips),
	}
}
