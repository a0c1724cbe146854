package connection

import (
	"sort"
	"sync"
	"time"

	"github.com/Kelbie/georelay/logging"
)

// Role classifies why a relay is in the pool.
type Role string

const (
	// RoleInitial relays give broad geographic coverage and are never
	// displaced by region changes.
	RoleInitial Role = "initial"
	// RoleLocal relays serve the currently viewed region and are
	// reallocated as the view moves.
	RoleLocal Role = "local"
)

// Status tracks a relay through its connection lifecycle. A relay becomes
// Connected on the first end-of-stored-events acknowledgement and falls back
// to Disconnected on error or teardown.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// ConnectedRelay is the tracked state for one relay in the pool.
type ConnectedRelay struct {
	URL            string    `json:"url"`
	AssignedRegion string    `json:"assigned_region,omitempty"`
	Role           Role      `json:"role"`
	Status         Status    `json:"status"`
	LastPing       time.Time `json:"last_ping"`
}

type registry struct {
	mu     sync.RWMutex
	relays map[string]*ConnectedRelay
}

func newRegistry() *registry {
	return &registry{relays: make(map[string]*ConnectedRelay)}
}

// track adds a relay in the Connecting state. Already tracked relays keep
// their current state.
func (r *registry) track(url, region string, role Role) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.relays[url]; exists {
		logging.Debug("Registry: Relay already tracked: %s", url)
		return
	}
	r.relays[url] = &ConnectedRelay{
		URL:            url,
		AssignedRegion: region,
		Role:           role,
		Status:         StatusConnecting,
	}
	logging.Debug("Registry: Tracking %s relay: %s (total: %d)", role, url, len(r.relays))
}

// mergeLocals reconciles the Local relay set with a proximity-ordered
// proposal without ever exceeding max Local slots. Free capacity is filled
// with the first proposals not already tracked; when no capacity remains the
// whole Local set is replaced by the proposal.
func (r *registry) mergeLocals(proposed []string, region string, max int) (added, removed []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	localCount := 0
	for _, rel := range r.relays {
		if rel.Role == RoleLocal {
			localCount++
		}
	}

	fresh := make([]string, 0, len(proposed))
	for _, url := range proposed {
		if _, tracked := r.relays[url]; !tracked {
			fresh = append(fresh, url)
		}
	}

	capacity := max - localCount
	if capacity <= 0 && len(fresh) > 0 {
		// No slots left for the new region: start over with the proposal.
		for url, rel := range r.relays {
			if rel.Role == RoleLocal {
				delete(r.relays, url)
				removed = append(removed, url)
			}
		}
		capacity = max
		fresh = fresh[:0]
		for _, url := range proposed {
			if _, tracked := r.relays[url]; !tracked {
				fresh = append(fresh, url)
			}
		}
	}
	if len(fresh) > capacity {
		fresh = fresh[:capacity]
	}

	for _, url := range fresh {
		r.relays[url] = &ConnectedRelay{
			URL:            url,
			AssignedRegion: region,
			Role:           RoleLocal,
			Status:         StatusConnecting,
		}
		added = append(added, url)
	}

	sort.Strings(removed)
	logging.Debug("Registry: Merged %d proposed relays for %q: %d added, %d removed",
		len(proposed), region, len(added), len(removed))
	return added, removed
}

// dropLocals removes every Local relay and returns their URLs.
func (r *registry) dropLocals() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for url, rel := range r.relays {
		if rel.Role == RoleLocal {
			delete(r.relays, url)
			removed = append(removed, url)
		}
	}
	sort.Strings(removed)
	return removed
}

// markConnected flips a relay to Connected and reports whether that was a
// transition.
func (r *registry) markConnected(url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rel, exists := r.relays[url]
	if !exists {
		return false
	}
	rel.LastPing = time.Now()
	if rel.Status == StatusConnected {
		return false
	}
	rel.Status = StatusConnected
	return true
}

// markDisconnected flips a relay to Disconnected and reports whether that
// was a transition. The entry itself is retained.
func (r *registry) markDisconnected(url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rel, exists := r.relays[url]
	if !exists || rel.Status == StatusDisconnected {
		return false
	}
	rel.Status = StatusDisconnected
	return true
}

func (r *registry) markAllDisconnected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rel := range r.relays {
		rel.Status = StatusDisconnected
	}
}

// touch refreshes the last-ping timestamp after relay traffic.
func (r *registry) touch(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rel, exists := r.relays[url]; exists {
		rel.LastPing = time.Now()
	}
}

// urls returns every tracked relay URL, sorted.
func (r *registry) urls() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.relays))
	for url := range r.relays {
		out = append(out, url)
	}
	sort.Strings(out)
	return out
}

// urlsByRole returns the tracked URLs with the given role, sorted.
func (r *registry) urlsByRole(role Role) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0)
	for url, rel := range r.relays {
		if rel.Role == role {
			out = append(out, url)
		}
	}
	sort.Strings(out)
	return out
}

// get returns a copy of the tracked state for a relay.
func (r *registry) get(url string) (ConnectedRelay, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rel, exists := r.relays[url]
	if !exists {
		return ConnectedRelay{}, false
	}
	return *rel, true
}

// snapshot returns a copy of every tracked relay, sorted by URL.
func (r *registry) snapshot() []ConnectedRelay {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ConnectedRelay, 0, len(r.relays))
	for _, rel := range r.relays {
		out = append(out, *rel)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// countByStatus tallies relays per lifecycle state.
func (r *registry) countByStatus() (connecting, connected, disconnected int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rel := range r.relays {
		switch rel.Status {
		case StatusConnecting:
			connecting++
		case StatusConnected:
			connected++
		case StatusDisconnected:
			disconnected++
		}
	}
	return connecting, connected, disconnected
}

func (r *registry) countByRole(role Role) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, rel := range r.relays {
		if rel.Role == role {
			n++
		}
	}
	return n
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.relays)
}
