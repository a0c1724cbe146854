// Package geostats tracks per-region activity counters keyed by exact
// geohash or channel strings. Records are created on first sight and only
// ever grow; hierarchical rollups are computed on demand by scanning all
// known keys, which stays cheap while the distinct-key set is small.
package geostats

import (
	"sync"
	"time"

	"github.com/Kelbie/georelay/geohash"
	"github.com/Kelbie/georelay/logging"
)

// Record holds the running counters for one exact region or channel key.
type Record struct {
	Key          string    `json:"key"`
	LastActivity time.Time `json:"last_activity"`
	DirectCount  int64     `json:"direct_count"`
	TotalCount   int64     `json:"total_count"`
}

type Aggregator struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	logging.Debug("GeoStats: aggregator initialized")
	return &Aggregator{records: make(map[string]*Record)}
}

func (a *Aggregator) recordLocked(key string) *Record {
	rec, ok := a.records[key]
	if !ok {
		rec = &Record{Key: key}
		a.records[key] = rec
	}
	return rec
}

// BumpTotal increments the total counter for the exact key, creating the
// record on first sight.
func (a *Aggregator) BumpTotal(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recordLocked(key).TotalCount++
}

// BumpDirect increments the direct counter for the exact key and advances
// its last-activity timestamp.
func (a *Aggregator) BumpDirect(key string, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec := a.recordLocked(key)
	rec.DirectCount++
	if at.After(rec.LastActivity) {
		rec.LastActivity = at
	}
}

// Get returns a copy of the record for the exact key.
func (a *Aggregator) Get(key string) (Record, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	rec, ok := a.records[key]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Counts returns a copy of every record keyed by its exact key.
func (a *Aggregator) Counts() map[string]Record {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]Record, len(a.records))
	for key, rec := range a.records {
		out[key] = *rec
	}
	return out
}

// HierarchicalCount sums the direct counters of every record whose key has
// the given prefix, the prefix key itself included.
func (a *Aggregator) HierarchicalCount(prefix string) int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var sum int64
	for key, rec := range a.records {
		if geohash.IsPrefixOf(prefix, key) {
			sum += rec.DirectCount
		}
	}
	return sum
}

// HierarchicalTotal is the total-counter variant of HierarchicalCount.
func (a *Aggregator) HierarchicalTotal(prefix string) int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var sum int64
	for key, rec := range a.records {
		if geohash.IsPrefixOf(prefix, key) {
			sum += rec.TotalCount
		}
	}
	return sum
}

// AllCountsByPrefix computes the hierarchical direct count for every prefix
// of every observed key, at every length.
func (a *Aggregator) AllCountsByPrefix() map[string]int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]int64)
	for key, rec := range a.records {
		for i := 1; i <= len(key); i++ {
			out[key[:i]] += rec.DirectCount
		}
	}
	return out
}

// Len returns the number of distinct keys observed.
func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.records)
}

// Reset discards every record. Used when the engine is re-initialized.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = make(map[string]*Record)
}

// AggregatorStats represents aggregator statistics
type AggregatorStats struct {
	Keys        int   `json:"keys"`
	DirectTotal int64 `json:"direct_total"`
	GrandTotal  int64 `json:"grand_total"`
}

// GetStatsName returns the name for this stats provider
func (a *Aggregator) GetStatsName() string {
	return "geostats"
}

// GetStats returns aggregator statistics in structured format
func (a *Aggregator) GetStats() interface{} {
	a.mu.RLock()
	defer a.mu.RUnlock()
	stats := AggregatorStats{Keys: len(a.records)}
	for _, rec := range a.records {
		stats.DirectTotal += rec.DirectCount
		stats.GrandTotal += rec.TotalCount
	}
	return stats
}
