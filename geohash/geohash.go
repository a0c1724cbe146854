// Package geohash decodes base32 geohash strings into geographic bounding
// boxes. All functions are pure and operate on the standard 32-symbol
// alphabet (the letters a, i, l and o are absent).
package geohash

import "strings"

// Alphabet is the geohash base32 character set.
const Alphabet = "0123456789bcdefghjkmnpqrstuvwxyz"

// BoundingBox is the latitude/longitude rectangle a geohash resolves to.
type BoundingBox struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

// Center returns the midpoint of the box.
func (b BoundingBox) Center() (lat, lon float64) {
	return (b.MinLat + b.MaxLat) / 2, (b.MinLon + b.MaxLon) / 2
}

// Contains reports whether the point lies inside the box.
func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// Decode resolves a geohash to its bounding box. Each character contributes
// five bits that alternately bisect the longitude and latitude ranges,
// longitude first. Characters outside the alphabet are skipped, so an empty
// or entirely invalid string decodes to the whole-world box.
func Decode(gh string) BoundingBox {
	box := BoundingBox{MinLat: -90, MaxLat: 90, MinLon: -180, MaxLon: 180}
	even := true // longitude bit next
	for _, c := range gh {
		idx := strings.IndexRune(Alphabet, c)
		if idx < 0 {
			continue
		}
		for mask := 16; mask > 0; mask >>= 1 {
			if even {
				mid := (box.MinLon + box.MaxLon) / 2
				if idx&mask != 0 {
					box.MinLon = mid
				} else {
					box.MaxLon = mid
				}
			} else {
				mid := (box.MinLat + box.MaxLat) / 2
				if idx&mask != 0 {
					box.MinLat = mid
				} else {
					box.MaxLat = mid
				}
			}
			even = !even
		}
	}
	return box
}

// Center returns the midpoint of the geohash's bounding box.
func Center(gh string) (lat, lon float64) {
	return Decode(gh).Center()
}

// Valid reports whether gh is non-empty and built entirely from alphabet
// characters. Uppercase letters are not valid.
func Valid(gh string) bool {
	if gh == "" {
		return false
	}
	for _, c := range gh {
		if strings.IndexRune(Alphabet, c) < 0 {
			return false
		}
	}
	return true
}

// IsPrefixOf reports whether prefix is a leading substring of full. The
// comparison is case-sensitive and the empty prefix matches everything.
func IsPrefixOf(prefix, full string) bool {
	return strings.HasPrefix(full, prefix)
}

// CommonPrefixLen returns the number of leading characters a and b share.
func CommonPrefixLen(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
