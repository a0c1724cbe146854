package geohash

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestDecodeCenter(t *testing.T) {
	tests := []struct {
		name    string
		geohash string
		wantLat float64
		wantLon float64
	}{
		{"five characters", "ezs42", 42.60498046875, -5.60302734375},
		{"new york prefix", "dr5r", 40.693359375, -74.00390625},
		{"single character", "d", 22.5, -67.5},
		{"empty decodes to whole world", "", 0, 0},
		{"invalid characters are skipped", "e!zs 42", 42.60498046875, -5.60302734375},
		{"fully invalid decodes to whole world", "ALO!", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lat, lon := Center(tt.geohash)
			if !almostEqual(lat, tt.wantLat) || !almostEqual(lon, tt.wantLon) {
				t.Errorf("Center(%q) = (%v, %v), want (%v, %v)",
					tt.geohash, lat, lon, tt.wantLat, tt.wantLon)
			}
		})
	}
}

func TestDecodeBounds(t *testing.T) {
	box := Decode("ezs42")

	if !almostEqual(box.MinLon, -5.625) || !almostEqual(box.MaxLon, -5.5810546875) {
		t.Errorf("longitude bounds = [%v, %v], want [-5.625, -5.5810546875]", box.MinLon, box.MaxLon)
	}
	if !almostEqual(box.MinLat, 42.5830078125) || !almostEqual(box.MaxLat, 42.626953125) {
		t.Errorf("latitude bounds = [%v, %v], want [42.5830078125, 42.626953125]", box.MinLat, box.MaxLat)
	}
	if !box.Contains(42.6, -5.6) {
		t.Errorf("box should contain (42.6, -5.6)")
	}
	if box.Contains(0, 0) {
		t.Errorf("box should not contain (0, 0)")
	}
}

func TestDecodeRefinesWithLength(t *testing.T) {
	// Every additional character must shrink the box around the same point.
	full := "dr5regw3"
	prev := Decode("")
	for i := 1; i <= len(full); i++ {
		box := Decode(full[:i])
		if box.MaxLon-box.MinLon >= prev.MaxLon-prev.MinLon &&
			box.MaxLat-box.MinLat >= prev.MaxLat-prev.MinLat {
			t.Fatalf("decoding %q did not shrink the box", full[:i])
		}
		lat, lon := Decode(full).Center()
		if !box.Contains(lat, lon) {
			t.Fatalf("box for %q does not contain the full-precision center", full[:i])
		}
		prev = box
	}
}

func TestValid(t *testing.T) {
	tests := []struct {
		name    string
		geohash string
		want    bool
	}{
		{"lowercase alphabet", "dr5ru7", true},
		{"digits only", "9021", true},
		{"single character", "u", true},
		{"empty", "", false},
		{"uppercase rejected", "DR5RU", false},
		{"excluded letter a", "dra", false},
		{"excluded letter i", "di", false},
		{"excluded letter l", "dl", false},
		{"excluded letter o", "do", false},
		{"punctuation", "dr5r!", false},
		{"city name", "NYC1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Valid(tt.geohash); got != tt.want {
				t.Errorf("Valid(%q) = %v, want %v", tt.geohash, got, tt.want)
			}
		})
	}
}

func TestIsPrefixOf(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		full   string
		want   bool
	}{
		{"proper prefix", "dr5", "dr5ru7", true},
		{"equal strings", "dr5", "dr5", true},
		{"empty prefix matches", "", "dr5", true},
		{"longer than full", "dr5ru7", "dr5", false},
		{"mismatch", "dr6", "dr5ru7", false},
		{"case sensitive", "DR5", "dr5ru7", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPrefixOf(tt.prefix, tt.full); got != tt.want {
				t.Errorf("IsPrefixOf(%q, %q) = %v, want %v", tt.prefix, tt.full, got, tt.want)
			}
		})
	}
}

func TestCommonPrefixLen(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		want int
	}{
		{"shared region", "dr5ru7", "dr5x", 3},
		{"identical", "9q8y", "9q8y", 4},
		{"no overlap", "dr5", "9q8", 0},
		{"one empty", "", "dr5", 0},
		{"prefix of the other", "dr", "dr5ru7", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CommonPrefixLen(tt.a, tt.b); got != tt.want {
				t.Errorf("CommonPrefixLen(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
