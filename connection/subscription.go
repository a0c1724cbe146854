package connection

import (
	"context"
	"sync"
	"time"

	"github.com/Kelbie/georelay/logging"
	"github.com/Kelbie/georelay/metrics"
	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"
)

// subHandle owns the reader goroutines of one logical subscription fanned
// out across several relays. Cancelling it unsubscribes every relay.
type subHandle struct {
	id     string
	label  string
	urls   []string
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Unsubscribe cancels every relay reader attached to this handle. Safe to
// call more than once.
func (h *subHandle) Unsubscribe() {
	h.cancel()
}

// openSubscription fans the filters out to each relay and starts one reader
// goroutine per relay. Readers inherit the pool context, so a full
// disconnect tears them down even if the handle is lost.
func (m *Manager) openSubscription(pool *nostr.SimplePool, parent context.Context, urls []string, filters []nostr.Filter, label string, private bool) *subHandle {
	ctx, cancel := context.WithCancel(parent)
	h := &subHandle{
		id:     uuid.NewString(),
		label:  label,
		urls:   urls,
		cancel: cancel,
	}
	logging.Debug("Connection: Opening %s subscription %s across %d relays", label, h.id, len(urls))

	for _, url := range urls {
		h.wg.Add(1)
		go m.runSubscription(ctx, pool, &h.wg, url, filters, h.id, private)
	}
	return h
}

func (m *Manager) runSubscription(ctx context.Context, pool *nostr.SimplePool, wg *sync.WaitGroup, url string, filters []nostr.Filter, subID string, private bool) {
	defer wg.Done()

	relay, err := pool.EnsureRelay(url)
	if err != nil {
		logging.Warn("Connection: Failed to reach %s: %v", url, err)
		if m.registry.markDisconnected(url) {
			metrics.RelayDisconnectsTotal.Inc()
		}
		m.syncConnectedGauge()
		m.notifyChange()
		return
	}

	sub, err := relay.Subscribe(ctx, filters)
	if err != nil {
		logging.Warn("Connection: Subscribe to %s failed: %v", url, err)
		if m.registry.markDisconnected(url) {
			metrics.RelayDisconnectsTotal.Inc()
		}
		m.syncConnectedGauge()
		m.notifyChange()
		return
	}
	defer sub.Unsub()

	logging.DebugMethod("connection", "runSubscription", "Subscription %s attached to %s", subID, url)

	start := time.Now()
	eose := sub.EndOfStoredEvents
	for {
		select {
		case <-ctx.Done():
			return
		case <-eose:
			// First acknowledgement flips the relay to connected. The
			// channel stays closed afterwards, so stop selecting on it.
			if m.registry.markConnected(url) {
				metrics.RelayConnectsTotal.Inc()
				logging.Debug("Connection: Relay %s connected (backlog in %.2fs)", url, time.Since(start).Seconds())
			}
			m.syncConnectedGauge()
			m.notifyChange()
			eose = nil
		case evt, ok := <-sub.Events:
			if !ok {
				if m.registry.markDisconnected(url) {
					metrics.RelayDisconnectsTotal.Inc()
					logging.Debug("Connection: Relay %s dropped subscription %s", url, subID)
				}
				m.syncConnectedGauge()
				m.notifyChange()
				return
			}
			if evt == nil {
				continue
			}
			m.registry.touch(url)
			if private {
				m.ingestPrivate(evt, url)
			} else {
				m.ingest(evt, url)
			}
		}
	}
}

// primaryFilters builds the content subscription filter: both public chat
// kinds, bounded to the lookback window.
func (m *Manager) primaryFilters() []nostr.Filter {
	since := nostr.Timestamp(time.Now().Add(-m.cfg.Lookback).Unix())
	return []nostr.Filter{{
		Kinds: m.cfg.Kinds,
		Since: &since,
	}}
}

// privateFilters builds the direct-message subscription filter addressed to
// the configured public key.
func (m *Manager) privateFilters() []nostr.Filter {
	since := nostr.Timestamp(time.Now().Add(-m.cfg.Lookback).Unix())
	return []nostr.Filter{{
		Kinds: []int{KindEncryptedDM, KindGiftWrap},
		Tags:  nostr.TagMap{"p": []string{m.cfg.PubKey}},
		Since: &since,
	}}
}

// resubscribePrimaryLocked rebuilds the primary subscription across the
// current Initial and Local relay set. The old subscription is always
// cancelled before the new one opens so no relay delivers twice. Callers
// must hold m.mu.
func (m *Manager) resubscribePrimaryLocked() {
	if m.primary != nil {
		m.primary.Unsubscribe()
		m.primary = nil
	}
	if m.pool == nil {
		return
	}
	urls := m.registry.urls()
	if len(urls) == 0 {
		logging.Warn("Connection: No relays to subscribe against")
		return
	}
	m.primary = m.openSubscription(m.pool, m.poolCtx, urls, m.primaryFilters(), "primary", false)
}

// resubscribePrivateLocked rebuilds the direct-message subscription when a
// public key is configured. Callers must hold m.mu.
func (m *Manager) resubscribePrivateLocked() {
	if m.private != nil {
		m.private.Unsubscribe()
		m.private = nil
	}
	if m.pool == nil || m.cfg.PubKey == "" {
		return
	}
	urls := m.registry.urlsByRole(RoleInitial)
	if len(urls) == 0 {
		return
	}
	m.private = m.openSubscription(m.pool, m.poolCtx, urls, m.privateFilters(), "private", true)
}
