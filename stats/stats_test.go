package stats

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

type fakeProvider struct {
	name  string
	stats interface{}
}

func (f *fakeProvider) GetStatsName() string  { return f.name }
func (f *fakeProvider) GetStats() interface{} { return f.stats }

func TestRegisterAndCollect(t *testing.T) {
	sc := NewStatsCollector()
	sc.RegisterProvider(&fakeProvider{name: "events", stats: map[string]int{"stored": 3}})
	sc.RegisterProvider(&fakeProvider{name: "connection", stats: map[string]bool{"enabled": true}})

	if got := sc.GetProviderCount(); got != 2 {
		t.Fatalf("GetProviderCount() = %d, want 2", got)
	}
	if got := sc.GetProviderNames(); !reflect.DeepEqual(got, []string{"connection", "events"}) {
		t.Fatalf("GetProviderNames() = %v, want [connection events]", got)
	}

	all := sc.GetAllStats()
	if _, ok := all["events"]; !ok {
		t.Fatal("GetAllStats() missing events provider")
	}
	if _, ok := all["connection"]; !ok {
		t.Fatal("GetAllStats() missing connection provider")
	}
}

func TestReregisterReplacesProvider(t *testing.T) {
	sc := NewStatsCollector()
	sc.RegisterProvider(&fakeProvider{name: "events", stats: 1})
	sc.RegisterProvider(&fakeProvider{name: "events", stats: 2})

	if got := sc.GetProviderCount(); got != 1 {
		t.Fatalf("GetProviderCount() = %d, want 1", got)
	}
	if got := sc.GetAllStats()["events"]; got != 2 {
		t.Fatalf("stats after reregister = %v, want 2", got)
	}
}

func TestUnregisterProvider(t *testing.T) {
	sc := NewStatsCollector()
	sc.RegisterProvider(&fakeProvider{name: "events", stats: 1})
	sc.UnregisterProvider("events")

	if got := sc.GetProviderCount(); got != 0 {
		t.Fatalf("GetProviderCount() after unregister = %d, want 0", got)
	}
}

func TestServeHTTP(t *testing.T) {
	sc := NewStatsCollector()
	sc.RegisterProvider(&fakeProvider{name: "geostats", stats: map[string]int64{"keys": 4}})

	rec := httptest.NewRecorder()
	sc.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q, want application/json", ct)
	}

	var body map[string]map[string]int64
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if body["geostats"]["keys"] != 4 {
		t.Fatalf("geostats.keys = %d, want 4", body["geostats"]["keys"])
	}
}
