package connection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Kelbie/georelay/eventstore/memstore"
	"github.com/Kelbie/georelay/geostats"
	"github.com/Kelbie/georelay/retry"
	"github.com/nbd-wtf/go-nostr"
)

type fakeLocator struct {
	lat, lon float64
	err      error
	calls    int
}

func (f *fakeLocator) Current(ctx context.Context) (float64, float64, error) {
	f.calls++
	return f.lat, f.lon, f.err
}

func TestConnectIsIdempotent(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	if err := m.Connect(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.Enabled() {
		t.Fatal("expected manager enabled after connect")
	}
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("second connect should be a no-op, got %v", err)
	}
	if !m.Enabled() {
		t.Error("second connect must leave the manager enabled")
	}
}

func TestStatusAggregation(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	if m.Status() != StatusDisconnected {
		t.Fatalf("expected disconnected before connect, got %s", m.Status())
	}

	if err := m.Connect(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Status() != StatusDisconnected {
		t.Errorf("no relays tracked yet, expected disconnected, got %s", m.Status())
	}

	m.registry.track("wss://a.example", "", RoleInitial)
	if m.Status() != StatusConnecting {
		t.Errorf("expected connecting, got %s", m.Status())
	}

	m.registry.markConnected("wss://a.example")
	if m.Status() != StatusConnected {
		t.Errorf("expected connected after first acknowledgement, got %s", m.Status())
	}

	// One dead relay does not degrade the aggregate while another holds.
	m.registry.track("wss://b.example", "", RoleInitial)
	m.registry.markDisconnected("wss://b.example")
	if m.Status() != StatusConnected {
		t.Errorf("partial failure must not degrade the aggregate, got %s", m.Status())
	}

	m.registry.markDisconnected("wss://a.example")
	if m.Status() != StatusDisconnected {
		t.Errorf("expected disconnected once every relay failed, got %s", m.Status())
	}
}

func TestDisconnectRetainsHistory(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	if err := m.Connect(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.ingest(mkTagged("keep", KindGeoChat, nostr.Tags{{"g", "dr5r"}}), "wss://r1.example")

	m.Disconnect()
	if m.Enabled() {
		t.Error("expected manager disabled after disconnect")
	}
	if len(m.Events()) != 1 {
		t.Errorf("event history must survive disconnect, got %d events", len(m.Events()))
	}
	if rec, ok := m.stats.Get("dr5r"); !ok || rec.TotalCount != 1 {
		t.Errorf("counter history must survive disconnect, got %+v (ok=%v)", rec, ok)
	}

	// Explicit reset is the only thing that clears history.
	m.ResetHistory()
	if len(m.Events()) != 0 || m.stats.Len() != 0 {
		t.Error("expected empty history after explicit reset")
	}
}

func TestConnectToGeoRelaysMerge(t *testing.T) {
	dir := &fakeDirectory{relays: map[string][]string{
		"dr5r": {"wss://l1.example", "wss://l2.example", "wss://l3.example", "wss://l4.example"},
		"gcpv": {"wss://n1.example", "wss://n2.example", "wss://n3.example"},
	}}
	m := New(dir, memstore.New(), geostats.NewAggregator(), Config{MaxLocalRelays: 5})
	ctx := context.Background()

	if err := m.Connect(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	added, err := m.ConnectToGeoRelays(ctx, "dr5r")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(added) != 4 {
		t.Fatalf("expected 4 relays added for the first region, got %v", added)
	}
	if m.Region() != "dr5r" {
		t.Errorf("expected region tracked, got %q", m.Region())
	}

	added, err = m.ConnectToGeoRelays(ctx, "gcpv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(added) != 1 || added[0] != "wss://n1.example" {
		t.Fatalf("expected exactly the nearest new relay to fill the last slot, got %v", added)
	}

	locals := 0
	for _, rel := range m.Relays() {
		if rel.Role == RoleLocal {
			locals++
		}
	}
	if locals != 5 {
		t.Errorf("expected 5 local relays, got %d", locals)
	}
	for _, url := range dir.relays["dr5r"] {
		found := false
		for _, rel := range m.Relays() {
			if rel.URL == url {
				found = true
			}
		}
		if !found {
			t.Errorf("existing local relay %s should have been kept", url)
		}
	}
}

func TestConnectToGeoRelaysEmptyDirectory(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	if err := m.Connect(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	added, err := m.ConnectToGeoRelays(ctx, "zzzz")
	if err != nil {
		t.Fatalf("an unknown region is not an error, got %v", err)
	}
	if len(added) != 0 {
		t.Errorf("expected no relays for an unknown region, got %v", added)
	}
	if m.Region() != "zzzz" {
		t.Errorf("region must be tracked even without relays, got %q", m.Region())
	}
}

func TestUpdateRegion(t *testing.T) {
	dir := &fakeDirectory{relays: map[string][]string{
		"dr5r": {"wss://l1.example", "wss://l2.example"},
	}}
	m := New(dir, memstore.New(), geostats.NewAggregator(), Config{})
	ctx := context.Background()

	if err := m.Connect(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.UpdateRegion(ctx, "dr5r"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := m.registry.countByRole(RoleLocal); n != 2 {
		t.Fatalf("expected 2 local relays, got %d", n)
	}

	// Clearing the region tears the local set down.
	if err := m.UpdateRegion(ctx, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Region() != "" {
		t.Errorf("expected empty region, got %q", m.Region())
	}
	if n := m.registry.countByRole(RoleLocal); n != 0 {
		t.Errorf("expected local relays dropped, got %d", n)
	}
}

func TestUpdateRegionWhileDisconnected(t *testing.T) {
	m := newTestManager(t, nil)

	if err := m.UpdateRegion(context.Background(), "9q8"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Region() != "9q8" {
		t.Errorf("region must be tracked while disconnected, got %q", m.Region())
	}
	if m.Enabled() {
		t.Error("tracking a region must not connect")
	}
}

func TestToggle(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	if err := m.Toggle(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.Enabled() {
		t.Fatal("expected enabled after first toggle")
	}
	if err := m.Toggle(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Enabled() {
		t.Fatal("expected disabled after second toggle")
	}
}

func TestConnectToLocationRelays(t *testing.T) {
	m := newTestManager(t, nil)
	m.SetLocator(&fakeLocator{lat: 40.7128, lon: -74.0060})

	if _, err := m.ConnectToLocationRelays(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Region() != "dr5re" {
		t.Errorf("expected position encoded to a city-scale region, got %q", m.Region())
	}
}

func TestConnectToLocationRelaysRetries(t *testing.T) {
	dir := &fakeDirectory{}
	m := New(dir, memstore.New(), geostats.NewAggregator(), Config{
		Retry: retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2},
	})
	loc := &fakeLocator{err: errors.New("no fix")}
	m.SetLocator(loc)

	_, err := m.ConnectToLocationRelays(context.Background())
	if err == nil {
		t.Fatal("expected error once retries are exhausted")
	}
	if loc.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", loc.calls)
	}
}

func TestConnectToLocationRelaysWithoutLocator(t *testing.T) {
	m := newTestManager(t, nil)
	if _, err := m.ConnectToLocationRelays(context.Background()); err == nil {
		t.Fatal("expected error without a location source")
	}
}
