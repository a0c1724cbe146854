package publish

import (
	"fmt"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

type staticProvider struct {
	urls []string
}

func (s *staticProvider) RelayURLs() []string { return s.urls }

func mkEvent(id string) *nostr.Event {
	return &nostr.Event{ID: id, Kind: 20000, CreatedAt: nostr.Timestamp(time.Now().Unix())}
}

func TestPublishDeduplicates(t *testing.T) {
	p := New(&staticProvider{}, Config{Workers: 1})

	if !p.Publish(mkEvent("ev1")) {
		t.Fatal("first Publish returned false")
	}
	if p.Publish(mkEvent("ev1")) {
		t.Fatal("second Publish of the same id returned true")
	}
	if !p.Publish(mkEvent("ev2")) {
		t.Fatal("Publish of a fresh id returned false")
	}

	stats := p.GetStats().(PublisherStats)
	if stats.Cache.Hits != 1 {
		t.Fatalf("cache hits = %d, want 1", stats.Cache.Hits)
	}
	if stats.Cache.Misses != 2 {
		t.Fatalf("cache misses = %d, want 2", stats.Cache.Misses)
	}
	if stats.Queue.TotalQueued != 2 {
		t.Fatalf("total queued = %d, want 2", stats.Queue.TotalQueued)
	}
}

func TestPublishOverflowsWhenSaturated(t *testing.T) {
	// Workers: 1 gives a channel capacity of 10. Without Start the channel
	// never drains, so events 11 and 12 land in the overflow queue.
	p := New(&staticProvider{}, Config{Workers: 1})

	for i := 0; i < 12; i++ {
		if !p.Publish(mkEvent(fmt.Sprintf("ev%02d", i))) {
			t.Fatalf("Publish of event %d returned false", i)
		}
	}

	stats := p.GetStats().(PublisherStats)
	if stats.Queue.ChannelSize != 10 {
		t.Fatalf("channel size = %d, want 10", stats.Queue.ChannelSize)
	}
	if stats.Queue.OverflowSize != 2 {
		t.Fatalf("overflow size = %d, want 2", stats.Queue.OverflowSize)
	}
	if stats.Queue.TotalQueued != 12 {
		t.Fatalf("total queued = %d, want 12", stats.Queue.TotalQueued)
	}
	if stats.Queue.PeakSize != 12 {
		t.Fatalf("peak size = %d, want 12", stats.Queue.PeakSize)
	}
	if stats.Queue.SaturationCount != 1 {
		t.Fatalf("saturation count = %d, want 1", stats.Queue.SaturationCount)
	}
	if !stats.Queue.IsSaturated {
		t.Fatal("IsSaturated = false, want true")
	}
}

func TestBackfillMovesOverflowIntoChannel(t *testing.T) {
	p := New(&staticProvider{}, Config{Workers: 1})

	for i := 0; i < 12; i++ {
		p.Publish(mkEvent(fmt.Sprintf("ev%02d", i)))
	}

	<-p.queue
	<-p.queue
	p.backfill()

	stats := p.GetStats().(PublisherStats)
	if stats.Queue.ChannelSize != 10 {
		t.Fatalf("channel size after backfill = %d, want 10", stats.Queue.ChannelSize)
	}
	if stats.Queue.OverflowSize != 0 {
		t.Fatalf("overflow size after backfill = %d, want 0", stats.Queue.OverflowSize)
	}
}

func TestWorkersDrainQueue(t *testing.T) {
	// No relays configured, so delivery is a no-op and the pool should
	// drain everything it is given without touching the network.
	p := New(&staticProvider{}, Config{Workers: 2})
	p.Start()
	defer p.Stop()

	for i := 0; i < 25; i++ {
		p.Publish(mkEvent(fmt.Sprintf("ev%02d", i)))
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		stats := p.GetStats().(PublisherStats)
		if stats.Queue.TotalQueued == 0 && stats.Queue.ChannelSize == 0 && stats.Queue.OverflowSize == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	stats := p.GetStats().(PublisherStats)
	t.Fatalf("queue did not drain: total=%d channel=%d overflow=%d",
		stats.Queue.TotalQueued, stats.Queue.ChannelSize, stats.Queue.OverflowSize)
}

func TestPublishAfterStopReturnsFalse(t *testing.T) {
	p := New(&staticProvider{}, Config{Workers: 1})
	p.Start()
	p.Stop()

	if p.Publish(mkEvent("late")) {
		t.Fatal("Publish after Stop returned true")
	}
}

func TestStatsName(t *testing.T) {
	p := New(&staticProvider{}, Config{})
	if got := p.GetStatsName(); got != "publisher" {
		t.Fatalf("GetStatsName() = %q, want %q", got, "publisher")
	}
}
