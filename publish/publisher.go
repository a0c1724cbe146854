// Package publish fans signed events out to the connected relay set through
// a bounded worker pool. A short-lived cache absorbs repeated submissions of
// the same event id.
package publish

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Kelbie/georelay/logging"
	"github.com/Kelbie/georelay/metrics"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/nbd-wtf/go-nostr"
)

const (
	defaultWorkers        = 4
	defaultCacheSize      = 100000
	defaultCacheTTL       = 10 * time.Minute
	defaultPublishTimeout = 10 * time.Second
)

// Config controls pool sizing and the dedup cache.
type Config struct {
	// Workers is the number of concurrent publish workers. Defaults to 4.
	Workers int
	// ExtraRelays always receive events, on top of the provider's set.
	ExtraRelays []string
	// CacheTTL is how long an event id suppresses re-publishing.
	CacheTTL time.Duration
	// CacheSize bounds the dedup cache entry count.
	CacheSize int
	// PublishTimeout bounds one connect-and-publish attempt per relay.
	PublishTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = defaultCacheTTL
	}
	if c.CacheSize <= 0 {
		c.CacheSize = defaultCacheSize
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = defaultPublishTimeout
	}
}

type Publisher struct {
	provider RelayProvider
	cfg      Config

	queue      chan *nostr.Event
	capacity   int
	overflowMu sync.Mutex
	overflow   []*nostr.Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	seen *expirable.LRU[string, time.Time]

	totalQueued    int64
	peakQueued     int64
	saturations    int64
	lastSaturation time.Time
	published      int64
	failed         int64
	cacheHits      int64
	cacheMisses    int64
}

// New creates a publisher draining into the provider's relay set. Workers
// start on Start.
func New(provider RelayProvider, cfg Config) *Publisher {
	cfg.applyDefaults()
	capacity := cfg.Workers * 10
	logging.DebugMethod("publish", "New", "Initializing publisher: workers=%d, capacity=%d, cacheTTL=%v",
		cfg.Workers, capacity, cfg.CacheTTL)

	ctx, cancel := context.WithCancel(context.Background())
	return &Publisher{
		provider: provider,
		cfg:      cfg,
		queue:    make(chan *nostr.Event, capacity),
		capacity: capacity,
		overflow: make([]*nostr.Event, 0),
		ctx:      ctx,
		cancel:   cancel,
		seen:     expirable.NewLRU[string, time.Time](cfg.CacheSize, nil, cfg.CacheTTL),
	}
}

// Start launches the worker pool.
func (p *Publisher) Start() {
	logging.Info("Publisher: Starting %d workers", p.cfg.Workers)
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop shuts the worker pool down and waits for in-flight publishes.
func (p *Publisher) Stop() {
	logging.Info("Publisher: Stopping worker pool")
	p.cancel()
	close(p.queue)
	p.wg.Wait()
	logging.Info("Publisher: All workers stopped")
}

// Publish queues an event for delivery. It reports false when the event was
// published recently or the publisher is shutting down.
func (p *Publisher) Publish(event *nostr.Event) bool {
	select {
	case <-p.ctx.Done():
		logging.Warn("Publisher: Cannot queue event %s, publisher is shutting down", event.ID)
		return false
	default:
	}

	if p.seen.Contains(event.ID) {
		atomic.AddInt64(&p.cacheHits, 1)
		logging.DebugMethod("publish", "Publish", "Event %s already published recently, skipping", event.ID)
		return false
	}
	atomic.AddInt64(&p.cacheMisses, 1)
	p.seen.Add(event.ID, time.Now())

	// Fast path into the channel, overflow queue when saturated.
	select {
	case p.queue <- event:
		newTotal := atomic.AddInt64(&p.totalQueued, 1)
		p.trackPeak(newTotal)
		logging.DebugMethod("publish", "Publish", "Event %s (kind %d) queued (total: %d)", event.ID, event.Kind, newTotal)
		return true
	default:
	}

	p.overflowMu.Lock()
	defer p.overflowMu.Unlock()

	p.overflow = append(p.overflow, event)
	newTotal := atomic.AddInt64(&p.totalQueued, 1)
	p.trackPeak(newTotal)
	if len(p.overflow) == 1 {
		atomic.AddInt64(&p.saturations, 1)
		p.lastSaturation = time.Now()
		logging.Warn("Publisher: Channel saturated (%d/%d), using overflow queue", len(p.queue), p.capacity)
	}
	logging.DebugMethod("publish", "Publish", "Event %s (kind %d) queued to overflow (overflow: %d, total: %d)",
		event.ID, event.Kind, len(p.overflow), newTotal)
	return true
}

func (p *Publisher) trackPeak(total int64) {
	for {
		peak := atomic.LoadInt64(&p.peakQueued)
		if total <= peak || atomic.CompareAndSwapInt64(&p.peakQueued, peak, total) {
			return
		}
	}
}

func (p *Publisher) worker(id int) {
	defer p.wg.Done()
	logging.DebugMethod("publish", "worker", "Worker %d started", id)

	for {
		select {
		case <-p.ctx.Done():
			logging.DebugMethod("publish", "worker", "Worker %d shutting down (context cancelled)", id)
			return
		case event, ok := <-p.queue:
			if !ok {
				logging.DebugMethod("publish", "worker", "Worker %d shutting down (queue closed)", id)
				return
			}
			atomic.AddInt64(&p.totalQueued, -1)
			p.backfill()
			p.deliver(event)
		}
	}
}

// backfill moves overflowed events into the channel while there is room.
func (p *Publisher) backfill() {
	p.overflowMu.Lock()
	defer p.overflowMu.Unlock()

	for len(p.overflow) > 0 {
		select {
		case p.queue <- p.overflow[0]:
			p.overflow = p.overflow[1:]
		default:
			return
		}
	}
}

// deliver sends one event to every target relay concurrently.
func (p *Publisher) deliver(event *nostr.Event) {
	targets := make(map[string]struct{})
	for _, url := range p.cfg.ExtraRelays {
		targets[url] = struct{}{}
	}
	for _, url := range p.provider.RelayURLs() {
		targets[url] = struct{}{}
	}
	if len(targets) == 0 {
		logging.Warn("Publisher: No relays available for event %s (kind %d)", event.ID, event.Kind)
		return
	}

	logging.DebugMethod("publish", "deliver", "Publishing event %s (kind %d) to %d relays", event.ID, event.Kind, len(targets))

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, failed := 0, 0

	for url := range targets {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			ok := p.publishToRelay(u, event)
			mu.Lock()
			if ok {
				succeeded++
			} else {
				failed++
			}
			mu.Unlock()
		}(url)
	}
	wg.Wait()

	atomic.AddInt64(&p.published, int64(succeeded))
	atomic.AddInt64(&p.failed, int64(failed))
	logging.DebugMethod("publish", "deliver", "Publish complete for event %s | success=%d, failed=%d", event.ID, succeeded, failed)
}

// publishToRelay pushes an event over a short-lived connection to one relay.
func (p *Publisher) publishToRelay(url string, event *nostr.Event) bool {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.PublishTimeout)
	defer cancel()

	start := time.Now()
	relay, err := nostr.RelayConnect(ctx, url)
	if err != nil {
		metrics.PublishAttemptsTotal.WithLabelValues("error").Inc()
		logging.DebugMethod("publish", "publishToRelay", "Failed to connect to %s: %v", url, err)
		return false
	}
	defer relay.Close()

	err = relay.Publish(ctx, *event)
	elapsed := time.Since(start)
	if err != nil {
		metrics.PublishAttemptsTotal.WithLabelValues("error").Inc()
		logging.DebugMethod("publish", "publishToRelay", "Failed to publish to %s: %v (%.2fms)", url, err, elapsed.Seconds()*1000)
		return false
	}

	metrics.PublishAttemptsTotal.WithLabelValues("ok").Inc()
	logging.DebugMethod("publish", "publishToRelay", "Published event %s to %s (%.2fms)", event.ID, url, elapsed.Seconds()*1000)
	return true
}

// QueueStats represents queue statistics
type QueueStats struct {
	WorkerCount     int    `json:"worker_count"`
	ChannelSize     int    `json:"channel_size"`
	ChannelCapacity int    `json:"channel_capacity"`
	OverflowSize    int    `json:"overflow_size"`
	TotalQueued     int64  `json:"total_queued"`
	PeakSize        int64  `json:"peak_size"`
	SaturationCount int64  `json:"saturation_count"`
	IsSaturated     bool   `json:"is_saturated"`
	LastSaturation  string `json:"last_saturation,omitempty"`
}

// CacheStats represents dedup cache statistics
type CacheStats struct {
	Size   int   `json:"size"`
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// PublisherStats represents publisher statistics
type PublisherStats struct {
	ExtraRelays int        `json:"extra_relays"`
	Published   int64      `json:"published"`
	Failed      int64      `json:"failed"`
	Queue       QueueStats `json:"queue"`
	Cache       CacheStats `json:"cache"`
}

// GetStatsName returns the name for this stats provider
func (p *Publisher) GetStatsName() string {
	return "publisher"
}

// GetStats returns publisher statistics in structured format
func (p *Publisher) GetStats() interface{} {
	p.overflowMu.Lock()
	overflowSize := len(p.overflow)
	lastSaturation := ""
	if !p.lastSaturation.IsZero() {
		lastSaturation = p.lastSaturation.Format(time.RFC3339)
	}
	p.overflowMu.Unlock()

	return PublisherStats{
		ExtraRelays: len(p.cfg.ExtraRelays),
		Published:   atomic.LoadInt64(&p.published),
		Failed:      atomic.LoadInt64(&p.failed),
		Queue: QueueStats{
			WorkerCount:     p.cfg.Workers,
			ChannelSize:     len(p.queue),
			ChannelCapacity: p.capacity,
			OverflowSize:    overflowSize,
			TotalQueued:     atomic.LoadInt64(&p.totalQueued),
			PeakSize:        atomic.LoadInt64(&p.peakQueued),
			SaturationCount: atomic.LoadInt64(&p.saturations),
			IsSaturated:     overflowSize > 0,
			LastSaturation:  lastSaturation,
		},
		Cache: CacheStats{
			Size:   p.seen.Len(),
			Hits:   atomic.LoadInt64(&p.cacheHits),
			Misses: atomic.LoadInt64(&p.cacheMisses),
		},
	}
}
