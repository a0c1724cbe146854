// Package metrics provides Prometheus metrics for the engine.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// Ingestion metrics.
	EventsIngestedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "georelay",
		Subsystem: "events",
		Name:      "ingested_total",
		Help:      "Total events accepted by the ingestion pipeline.",
	}, []string{"kind"})
	EventsDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "georelay",
		Subsystem: "events",
		Name:      "dropped_total",
		Help:      "Total events dropped before storage.",
	}, []string{"reason"}) // "missing_tag", "invalid_geohash", "bad_signature", "duplicate"

	// Relay connection metrics.
	RelayConnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "georelay",
		Subsystem: "relays",
		Name:      "connects_total",
		Help:      "Total relay subscription attempts.",
	})
	RelayDisconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "georelay",
		Subsystem: "relays",
		Name:      "disconnects_total",
		Help:      "Total relay disconnections.",
	})
	RelaysConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "georelay",
		Subsystem: "relays",
		Name:      "connected",
		Help:      "Number of relays currently in the connected state.",
	})

	// Directory metrics.
	DirectoryEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "georelay",
		Subsystem: "directory",
		Name:      "entries",
		Help:      "Number of relay endpoints in the active directory snapshot.",
	})
	DirectoryRefreshesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "georelay",
		Subsystem: "directory",
		Name:      "refreshes_total",
		Help:      "Total remote directory refresh attempts.",
	}, []string{"result"}) // "ok", "error", "skipped"
	DirectoryLastFetchUnix = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "georelay",
		Subsystem: "directory",
		Name:      "last_fetch_unix",
		Help:      "Unix timestamp of the last successful remote directory fetch.",
	})

	// Publisher metrics.
	PublishAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "georelay",
		Subsystem: "publish",
		Name:      "attempts_total",
		Help:      "Total per-relay publish attempts.",
	}, []string{"result"}) // "ok", "error"
)

func init() {
	prometheus.MustRegister(
		EventsIngestedTotal,
		EventsDroppedTotal,

		RelayConnectsTotal,
		RelayDisconnectsTotal,
		RelaysConnected,

		DirectoryEntries,
		DirectoryRefreshesTotal,
		DirectoryLastFetchUnix,

		PublishAttemptsTotal,
	)
}
