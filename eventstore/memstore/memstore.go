// Package memstore is an in-memory nostr event store. Events are kept
// newest-first, deduplicated by id, and retained for the lifetime of the
// store. Each event remembers which relay delivered it first.
package memstore

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/Kelbie/georelay/logging"
	"github.com/fiatjaf/eventstore"
	"github.com/nbd-wtf/go-nostr"
)

// StoredEvent pairs an event with the relay that first delivered it.
type StoredEvent struct {
	Event       *nostr.Event
	SourceRelay string
}

type MemStore struct {
	mu     sync.RWMutex
	events []StoredEvent // newest-first
	seen   map[string]struct{}
	// stats
	saves      int64
	duplicates int64
}

// New creates an empty store.
func New() *MemStore {
	return &MemStore{seen: make(map[string]struct{})}
}

func (s *MemStore) Init() error {
	logging.DebugMethod("memstore", "Init", "in-memory event store ready")
	return nil
}

func (s *MemStore) Close() {}

// Save stores the event unless its id has been seen before, keeping the
// newest-first order. It reports whether the event was actually stored.
func (s *MemStore) Save(evt *nostr.Event, sourceRelay string) bool {
	s.mu.Lock()
	if _, dup := s.seen[evt.ID]; dup {
		s.mu.Unlock()
		atomic.AddInt64(&s.duplicates, 1)
		logging.DebugMethod("memstore", "Save", "duplicate event %s ignored", evt.ID)
		return false
	}
	s.seen[evt.ID] = struct{}{}
	s.insertLocked(StoredEvent{Event: evt, SourceRelay: sourceRelay})
	size := len(s.events)
	s.mu.Unlock()

	atomic.AddInt64(&s.saves, 1)
	logging.DebugMethod("memstore", "Save", "stored event %s kind=%d from %q (total %d)", evt.ID, evt.Kind, sourceRelay, size)
	return true
}

// insertLocked places the event at its newest-first position. Ties on
// creation time order by descending id so the order is deterministic.
func (s *MemStore) insertLocked(se StoredEvent) {
	evt := se.Event
	i := sort.Search(len(s.events), func(i int) bool {
		other := s.events[i].Event
		if other.CreatedAt != evt.CreatedAt {
			return other.CreatedAt < evt.CreatedAt
		}
		return other.ID < evt.ID
	})
	s.events = append(s.events, StoredEvent{})
	copy(s.events[i+1:], s.events[i:])
	s.events[i] = se
}

// SaveEvent implements eventstore.Store. Duplicates are absorbed silently.
func (s *MemStore) SaveEvent(ctx context.Context, evt *nostr.Event) error {
	s.Save(evt, "")
	return nil
}

// QueryEvents streams stored events matching the filter, newest first. The
// channel closes once all matches are delivered or ctx ends.
func (s *MemStore) QueryEvents(ctx context.Context, filter nostr.Filter) (chan *nostr.Event, error) {
	s.mu.RLock()
	matched := make([]*nostr.Event, 0)
	for _, se := range s.events {
		if !filter.Matches(se.Event) {
			continue
		}
		matched = append(matched, se.Event)
		if filter.Limit > 0 && len(matched) >= filter.Limit {
			break
		}
	}
	s.mu.RUnlock()

	ch := make(chan *nostr.Event)
	go func() {
		defer close(ch)
		for _, evt := range matched {
			select {
			case ch <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// DeleteEvent removes the event with the same id, if present.
func (s *MemStore) DeleteEvent(ctx context.Context, evt *nostr.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, se := range s.events {
		if se.Event.ID == evt.ID {
			s.events = append(s.events[:i], s.events[i+1:]...)
			delete(s.seen, evt.ID)
			break
		}
	}
	return nil
}

// ReplaceEvent drops older events sharing the same author, kind and d tag,
// then stores evt. When a newer variant is already stored, evt is discarded.
func (s *MemStore) ReplaceEvent(ctx context.Context, evt *nostr.Event) error {
	addr := addressOf(evt)

	s.mu.Lock()
	newerExists := false
	kept := make([]StoredEvent, 0, len(s.events))
	for _, se := range s.events {
		if se.Event.PubKey == evt.PubKey && se.Event.Kind == evt.Kind && addressOf(se.Event) == addr {
			if se.Event.CreatedAt > evt.CreatedAt {
				newerExists = true
				kept = append(kept, se)
			} else {
				delete(s.seen, se.Event.ID)
			}
			continue
		}
		kept = append(kept, se)
	}
	s.events = kept
	s.mu.Unlock()

	if newerExists {
		return nil
	}
	s.Save(evt, "")
	return nil
}

// CountEvents implements eventstore.Counter by scanning the store.
func (s *MemStore) CountEvents(ctx context.Context, filter nostr.Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, se := range s.events {
		if filter.Matches(se.Event) {
			n++
		}
	}
	return n, nil
}

// All returns a copy of the stored events, newest first.
func (s *MemStore) All() []StoredEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]StoredEvent, len(s.events))
	copy(out, s.events)
	return out
}

// Len returns the number of stored events.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Seen reports whether an event id is already stored.
func (s *MemStore) Seen(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seen[id]
	return ok
}

// Reset discards every stored event. Counters keep their lifetime values.
func (s *MemStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
	s.seen = make(map[string]struct{})
}

func addressOf(evt *nostr.Event) string {
	for _, tag := range evt.Tags {
		if len(tag) >= 2 && tag[0] == "d" {
			return tag[1]
		}
	}
	return ""
}

// MemStoreStats represents event store statistics
type MemStoreStats struct {
	Stored     int   `json:"stored"`
	Saves      int64 `json:"saves"`
	Duplicates int64 `json:"duplicates"`
}

// GetStatsName returns the name for this stats provider
func (s *MemStore) GetStatsName() string {
	return "events"
}

// GetStats returns store statistics in structured format
func (s *MemStore) GetStats() interface{} {
	return MemStoreStats{
		Stored:     s.Len(),
		Saves:      atomic.LoadInt64(&s.saves),
		Duplicates: atomic.LoadInt64(&s.duplicates),
	}
}

// Ensure MemStore implements eventstore.Store and eventstore.Counter
var _ eventstore.Store = (*MemStore)(nil)

// eventstore.Counter does not exist in eventstore v0.7.0 (newest version
// buildable with the available Go toolchain); CountEvents is still provided.
// var _ eventstore.Counter = (*MemStore)(nil)
