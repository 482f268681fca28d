// Package breaker implements a per-vendor circuit breaker that reacts only
// to 5xx responses and transport failures. Rate-limit responses (429) are a
// cooperation signal handled by the ratelimit package, not an outage signal,
// so they never move these state machines.
package breaker

import (
	"sync"
	"time"

	"github.com/blueberrycongee/llmux/internal/metrics"
)

// State is one of the three breaker states for a single vendor.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type vendorBreaker struct {
	mu            sync.Mutex
	state         State
	failureCount  int
	openedAt      time.Time
	probeInFlight bool
}

// Breaker tracks one state machine per vendor name.
type Breaker struct {
	failureThreshold int
	cooldown         time.Duration

	mu      sync.Mutex
	vendors map[string]*vendorBreaker
}

// New creates a Breaker. failureThreshold is the consecutive-failure count
// required to open the circuit; cooldown is how long it stays open before a
// single probe request is allowed through.
func New(failureThreshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		vendors:          make(map[string]*vendorBreaker),
	}
}

func (b *Breaker) vendor(name string) *vendorBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.vendors[name]
	if !ok {
		v = &vendorBreaker{state: Closed}
		b.vendors[name] = v
	}
	return v
}

// IsAvailable reports whether vendor can be attempted right now. Calling it
// on an open breaker past its cooldown transitions it to half-open and marks
// a probe in-flight; a second concurrent call during that probe is reported
// unavailable.
func (b *Breaker) IsAvailable(vendor string) bool {
	v := b.vendor(vendor)
	v.mu.Lock()
	defer v.mu.Unlock()

	switch v.state {
	case Closed:
		return true

	case Open:
		if time.Since(v.openedAt) >= b.cooldown {
			v.state = HalfOpen
			v.probeInFlight = true
			metrics.RecordBreakerState(vendor, int(HalfOpen))
			return true
		}
		return false

	case HalfOpen:
		if v.probeInFlight {
			return false
		}
		v.probeInFlight = true
		return true

	default:
		return false
	}
}

// RecordSuccess closes the circuit and clears any probe.
func (b *Breaker) RecordSuccess(vendor string) {
	v := b.vendor(vendor)
	v.mu.Lock()
	defer v.mu.Unlock()

	v.state = Closed
	v.failureCount = 0
	v.probeInFlight = false
	metrics.RecordBreakerState(vendor, int(Closed))
}

// RecordFailure registers a 5xx or transport failure. Only call this for
// breaker-eligible failures; 429s and other 4xx must not reach here.
func (b *Breaker) RecordFailure(vendor string) {
	v := b.vendor(vendor)
	v.mu.Lock()
	defer v.mu.Unlock()

	switch v.state {
	case Closed:
		v.failureCount++
		if v.failureCount >= b.failureThreshold {
			v.state = Open
			v.openedAt = time.Now()
			metrics.RecordBreakerState(vendor, int(Open))
		}

	case HalfOpen:
		v.state = Open
		v.openedAt = time.Now()
		v.probeInFlight = false
		v.failureCount = b.failureThreshold
		metrics.RecordBreakerState(vendor, int(Open))
	}
}

// State returns the current state of vendor's breaker for observability.
func (b *Breaker) State(vendor string) State {
	v := b.vendor(vendor)
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Snapshot describes one vendor's breaker for the status endpoint and for
// distributed-state persistence.
type Snapshot struct {
	Vendor       string
	State        State
	FailureCount int
	OpenedAt     time.Time
}

// Snapshots returns point-in-time state for every vendor seen so far.
func (b *Breaker) Snapshots() []Snapshot {
	b.mu.Lock()
	names := make([]string, 0, len(b.vendors))
	for name := range b.vendors {
		names = append(names, name)
	}
	b.mu.Unlock()

	out := make([]Snapshot, 0, len(names))
	for _, name := range names {
		v := b.vendor(name)
		v.mu.Lock()
		out = append(out, Snapshot{Vendor: name, State: v.state, FailureCount: v.failureCount, OpenedAt: v.openedAt})
		v.mu.Unlock()
	}
	return out
}

// SnapshotFor returns point-in-time state for a single vendor, used to
// write-through just the entry that changed rather than the whole map.
func (b *Breaker) SnapshotFor(vendor string) Snapshot {
	v := b.vendor(vendor)
	v.mu.Lock()
	defer v.mu.Unlock()
	return Snapshot{Vendor: vendor, State: v.state, FailureCount: v.failureCount, OpenedAt: v.openedAt}
}

// Restore seeds a vendor's breaker state, used when loading a snapshot back
// from distributed state on startup.
func (b *Breaker) Restore(vendor string, state State, failureCount int, openedAt time.Time) {
	v := b.vendor(vendor)
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state = state
	v.failureCount = failureCount
	v.openedAt = openedAt
	v.probeInFlight = false
	metrics.RecordBreakerState(vendor, int(state))
}
