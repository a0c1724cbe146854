package connection

import (
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/Kelbie/georelay/geohash"
	"github.com/Kelbie/georelay/logging"
	"github.com/Kelbie/georelay/metrics"
	"github.com/nbd-wtf/go-nostr"
)

// Event kinds carried by the network. Geo chat events address a region with
// a g tag holding a lowercase geohash; channel chat events address a named
// channel with a d tag and may carry n (display name), client and relay
// hint tags alongside.
const (
	KindGeoChat     = 20000
	KindChannelChat = 23333
)

// Direct-message kinds, subscribed only when a public key is configured.
const (
	KindEncryptedDM = 4
	KindGiftWrap    = 1059
)

// eventTags pulls the first g and d tag values from an event.
func eventTags(evt *nostr.Event) (geoTag, channelTag string) {
	for _, tag := range evt.Tags {
		if len(tag) < 2 {
			continue
		}
		switch tag[0] {
		case "g":
			if geoTag == "" {
				geoTag = tag[1]
			}
		case "d":
			if channelTag == "" {
				channelTag = tag[1]
			}
		}
	}
	return geoTag, channelTag
}

// ingest runs every inbound public event through validation, counting and
// storage. Overlapping relays deliver the same event more than once, so the
// whole path is idempotent per event id: only the first delivery changes
// state.
func (m *Manager) ingest(evt *nostr.Event, sourceRelay string) {
	if evt == nil || evt.ID == "" {
		return
	}
	if m.store.Seen(evt.ID) {
		atomic.AddInt64(&m.duplicates, 1)
		metrics.EventsDroppedTotal.WithLabelValues("duplicate").Inc()
		return
	}
	if m.cfg.VerifySignatures {
		if ok, err := evt.CheckSignature(); err != nil || !ok {
			m.drop(evt, "bad_signature")
			return
		}
	}

	geoTag, channelTag := eventTags(evt)

	// Geo chat requires a well-formed geohash; channel chat only needs a
	// channel name and is keyed by its lowercased form.
	var key string
	switch evt.Kind {
	case KindGeoChat:
		if !geohash.Valid(geoTag) {
			m.drop(evt, "invalid_geohash")
			return
		}
		key = geoTag
	case KindChannelChat:
		if channelTag == "" {
			m.drop(evt, "missing_tag")
			return
		}
		key = strings.ToLower(channelTag)
	default:
		m.drop(evt, "unexpected_kind")
		return
	}

	// Save is the authoritative duplicate gate; a concurrent delivery of
	// the same id loses here and changes nothing.
	if !m.store.Save(evt, sourceRelay) {
		atomic.AddInt64(&m.duplicates, 1)
		metrics.EventsDroppedTotal.WithLabelValues("duplicate").Inc()
		return
	}

	// The exact key is counted no matter what is on screen, feeding the
	// hierarchical rollups.
	m.stats.BumpTotal(key)

	// When the event falls inside the active view, credit the displayed
	// key and let the UI highlight it.
	m.mu.RLock()
	region := m.region
	m.mu.RUnlock()
	if region != "" && geohash.IsPrefixOf(region, key) {
		m.stats.BumpDirect(region, evt.CreatedAt.Time())
		m.notifyActivity(region)
	}

	atomic.AddInt64(&m.ingested, 1)
	metrics.EventsIngestedTotal.WithLabelValues(strconv.Itoa(evt.Kind)).Inc()
	logging.DebugMethod("connection", "ingest", "Event %s (kind %d) key=%q from %s", evt.ID, evt.Kind, key, sourceRelay)

	m.notifyChange()
}

// ingestPrivate stores direct-message events. They carry no location tags,
// so region counters are not touched.
func (m *Manager) ingestPrivate(evt *nostr.Event, sourceRelay string) {
	if evt == nil || evt.ID == "" {
		return
	}
	if !m.store.Save(evt, sourceRelay) {
		atomic.AddInt64(&m.duplicates, 1)
		metrics.EventsDroppedTotal.WithLabelValues("duplicate").Inc()
		return
	}
	atomic.AddInt64(&m.ingested, 1)
	metrics.EventsIngestedTotal.WithLabelValues(strconv.Itoa(evt.Kind)).Inc()
	logging.DebugMethod("connection", "ingestPrivate", "Private event %s (kind %d) from %s", evt.ID, evt.Kind, sourceRelay)

	m.notifyChange()
}

func (m *Manager) drop(evt *nostr.Event, reason string) {
	atomic.AddInt64(&m.dropped, 1)
	metrics.EventsDroppedTotal.WithLabelValues(reason).Inc()
	logging.DebugMethod("connection", "ingest", "Dropped event %s (kind %d): %s", evt.ID, evt.Kind, reason)
}
