package geostats

import (
	"strings"
	"testing"
	"time"
)

func TestBumpCreatesRecords(t *testing.T) {
	a := NewAggregator()

	a.BumpTotal("dr5r")
	a.BumpTotal("dr5r")
	rec, ok := a.Get("dr5r")
	if !ok {
		t.Fatal("expected record for dr5r")
	}
	if rec.TotalCount != 2 || rec.DirectCount != 0 {
		t.Errorf("expected total=2 direct=0, got total=%d direct=%d", rec.TotalCount, rec.DirectCount)
	}

	if _, ok := a.Get("missing"); ok {
		t.Error("expected no record for an unseen key")
	}
	if a.Len() != 1 {
		t.Errorf("expected 1 key, got %d", a.Len())
	}
}

func TestHierarchicalCount(t *testing.T) {
	a := NewAggregator()
	now := time.Now()
	for i := 0; i < 3; i++ {
		a.BumpDirect("9q8", now)
	}
	for i := 0; i < 2; i++ {
		a.BumpDirect("9q8y", now)
	}

	tests := []struct {
		prefix string
		want   int64
	}{
		{"9q8", 5},
		{"9q8y", 2},
		{"9q", 5},
		{"9", 5},
		{"9q8yz", 0},
		{"dr", 0},
	}
	for _, tt := range tests {
		if got := a.HierarchicalCount(tt.prefix); got != tt.want {
			t.Errorf("HierarchicalCount(%q) = %d, want %d", tt.prefix, got, tt.want)
		}
	}
}

func TestHierarchicalTotal(t *testing.T) {
	a := NewAggregator()
	a.BumpTotal("gbsuv")
	a.BumpTotal("gbsuv")
	a.BumpTotal("gbs")

	if got := a.HierarchicalTotal("gbs"); got != 3 {
		t.Errorf("HierarchicalTotal(gbs) = %d, want 3", got)
	}
	if got := a.HierarchicalTotal("gbsuv"); got != 2 {
		t.Errorf("HierarchicalTotal(gbsuv) = %d, want 2", got)
	}
}

// The rollup must agree with a brute-force sum over all records after every
// single insertion.
func TestHierarchicalCountAfterEveryInsertion(t *testing.T) {
	a := NewAggregator()
	now := time.Now()
	keys := []string{"9q8", "9q8y", "9q8y", "dr5r", "9q", "dr5r66", "9q8zz"}
	prefixes := []string{"9", "9q", "9q8", "9q8y", "dr", "dr5r", "x"}

	for i, key := range keys {
		a.BumpDirect(key, now)

		counts := a.Counts()
		for _, prefix := range prefixes {
			var want int64
			for k, rec := range counts {
				if strings.HasPrefix(k, prefix) {
					want += rec.DirectCount
				}
			}
			if got := a.HierarchicalCount(prefix); got != want {
				t.Fatalf("after %d inserts: HierarchicalCount(%q) = %d, want %d", i+1, prefix, got, want)
			}
		}
	}
}

func TestAllCountsByPrefix(t *testing.T) {
	a := NewAggregator()
	now := time.Now()
	a.BumpDirect("dr5r", now)
	a.BumpDirect("dr5r", now)
	a.BumpDirect("dr5x", now)
	a.BumpDirect("gc", now)

	got := a.AllCountsByPrefix()
	want := map[string]int64{
		"d":    3,
		"dr":   3,
		"dr5":  3,
		"dr5r": 2,
		"dr5x": 1,
		"g":    1,
		"gc":   1,
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d prefixes, got %d: %v", len(want), len(got), got)
	}
	for prefix, count := range want {
		if got[prefix] != count {
			t.Errorf("prefix %q: got %d, want %d", prefix, got[prefix], count)
		}
	}
}

func TestLastActivityAdvances(t *testing.T) {
	a := NewAggregator()
	early := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)

	a.BumpDirect("9q8", late)
	a.BumpDirect("9q8", early) // out-of-order delivery must not rewind

	rec, _ := a.Get("9q8")
	if !rec.LastActivity.Equal(late) {
		t.Errorf("expected last activity %v, got %v", late, rec.LastActivity)
	}
}

func TestReset(t *testing.T) {
	a := NewAggregator()
	a.BumpTotal("9q8")
	a.Reset()
	if a.Len() != 0 {
		t.Errorf("expected empty aggregator after reset, got %d keys", a.Len())
	}
	if got := a.HierarchicalTotal("9"); got != 0 {
		t.Errorf("expected zero rollup after reset, got %d", got)
	}
}
