package connection

import "context"

// RelayDirectory provides proximity-ordered relay endpoints.
type RelayDirectory interface {
	WaitReady(ctx context.Context) error
	ClosestRelays(geohash string, n int) []string
}

// Locator resolves the current device position.
type Locator interface {
	Current(ctx context.Context) (lat, lon float64, err error)
}

// FixedLocator is a Locator pinned to one position, for deployments that
// configure their location statically.
type FixedLocator struct {
	Lat float64
	Lon float64
}

func (f FixedLocator) Current(ctx context.Context) (float64, float64, error) {
	return f.Lat, f.Lon, nil
}
