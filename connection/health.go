package connection

import (
	"context"
	"sync"
	"time"

	"github.com/Kelbie/georelay/logging"
	"github.com/Kelbie/georelay/metrics"
	"github.com/nbd-wtf/go-nostr"
)

const healthProbeTimeout = 10 * time.Second

// StartHealthLoop launches a background sweep that probes quiet relays
// until ctx ends. Relays with recent traffic are healthy by definition and
// are skipped.
func (m *Manager) StartHealthLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	logging.Debug("Connection: Health sweep every %v", interval)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweepHealth(interval)
			}
		}
	}()
}

// sweepHealth probes every connected relay that has been silent for longer
// than the sweep interval. Probes run concurrently, bounded by a semaphore.
func (m *Manager) sweepHealth(staleAfter time.Duration) {
	if !m.Enabled() {
		return
	}

	var quiet []string
	for _, rel := range m.registry.snapshot() {
		if rel.Status != StatusConnected {
			continue
		}
		if time.Since(rel.LastPing) < staleAfter {
			continue
		}
		quiet = append(quiet, rel.URL)
	}
	if len(quiet) == 0 {
		return
	}

	logging.DebugMethod("connection", "sweepHealth", "Probing %d quiet relays (max 8 concurrent)", len(quiet))

	sem := make(chan struct{}, 8)
	var wg sync.WaitGroup
	var mu sync.Mutex
	alive, dead := 0, 0

	start := time.Now()
	for _, url := range quiet {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			ok := m.probeRelay(u)
			mu.Lock()
			if ok {
				alive++
			} else {
				dead++
			}
			mu.Unlock()
		}(url)
	}
	wg.Wait()

	if dead > 0 {
		m.syncConnectedGauge()
		m.notifyChange()
	}
	logging.Info("Connection: Health sweep complete - %d alive, %d dead out of %d quiet (%.2fs)",
		alive, dead, len(quiet), time.Since(start).Seconds())
}

// probeRelay opens a short-lived connection to verify the relay still
// answers. Failures flip the relay to Disconnected.
func (m *Manager) probeRelay(url string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), healthProbeTimeout)
	defer cancel()

	start := time.Now()
	relay, err := nostr.RelayConnect(ctx, url)
	if err != nil {
		logging.DebugMethod("connection", "probeRelay", "Probe failed for %s: %v", url, err)
		if m.registry.markDisconnected(url) {
			metrics.RelayDisconnectsTotal.Inc()
		}
		return false
	}
	relay.Close()

	m.registry.touch(url)
	logging.DebugMethod("connection", "probeRelay", "Relay %s answered in %.2fms", url, time.Since(start).Seconds()*1000)
	return true
}
