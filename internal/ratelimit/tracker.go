// Package ratelimit tracks per-(vendor, model) rate-limit state derived from
// response headers and 429 responses, and decides whether a candidate should
// be skipped before it is even attempted.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/blueberrycongee/llmux/internal/headers"
	"github.com/blueberrycongee/llmux/internal/metrics"
)

// Extractor pulls the common rate-limit shape out of one vendor's headers.
type Extractor func(h http.Header, now time.Time) headers.RateLimitHeaders

// Extractors maps vendor name to its header extractor.
var Extractors = map[string]Extractor{
	"openai":    headers.ParseOpenAI,
	"anthropic": headers.ParseAnthropic,
	"google":    headers.ParseGoogle,
}

type key struct {
	vendor string
	model  string
}

type state struct {
	coolingDown       bool
	cooldownUntil     time.Time
	remainingRequests int // -1 means unknown
	resetRequestsAt   time.Time
}

// Tracker holds rate-limit state for every (vendor, model) pair it has seen.
type Tracker struct {
	lowThreshold int

	mu    sync.Mutex
	state map[key]*state
}

// New creates a Tracker. lowThreshold is the remaining-requests floor below
// which a candidate is proactively skipped even without an explicit 429.
func New(lowThreshold int) *Tracker {
	return &Tracker{
		lowThreshold: lowThreshold,
		state:        make(map[key]*state),
	}
}

func (t *Tracker) entry(vendor, model string) *state {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := key{vendor, model}
	s, ok := t.state[k]
	if !ok {
		s = &state{remainingRequests: -1}
		t.state[k] = s
	}
	return s
}

// Update folds one response's outcome into the tracked state for
// (vendor, model). On a 429 it starts (or extends) a cooldown derived from
// Retry-After. On a 2xx it overwrites the counters/resets from the vendor's
// headers and clears a cooldown that has already elapsed.
func (t *Tracker) Update(vendor, model string, h http.Header, status int, now time.Time) {
	s := t.entry(vendor, model)

	t.mu.Lock()
	defer t.mu.Unlock()

	extract, ok := Extractors[vendor]
	if !ok {
		extract = headers.ParseGoogle
	}

	if status == http.StatusTooManyRequests {
		retryAfter := headers.ParseRetryAfter(h.Get("Retry-After"), now)
		s.coolingDown = true
		s.cooldownUntil = now.Add(retryAfter)
		metrics.RecordRateLimitCooldown(vendor, model, true)
		return
	}

	if status >= 200 && status < 300 {
		parsed := extract(h, now)
		s.remainingRequests = parsed.RemainingRequests
		s.resetRequestsAt = parsed.ResetRequestsAt
		if s.coolingDown && !now.Before(s.cooldownUntil) {
			s.coolingDown = false
			metrics.RecordRateLimitCooldown(vendor, model, false)
		}
	}
}

// ShouldAvoid reports whether (vendor, model) should be skipped right now:
// either it is actively cooling down, or its remaining-request count is
// known and strictly below the low threshold. remaining == threshold is
// treated as available, not avoided, to prevent one-shot starvation.
func (t *Tracker) ShouldAvoid(vendor, model string, now time.Time) bool {
	s := t.entry(vendor, model)

	t.mu.Lock()
	defer t.mu.Unlock()

	if s.coolingDown {
		if now.Before(s.cooldownUntil) {
			return true
		}
		s.coolingDown = false
		metrics.RecordRateLimitCooldown(vendor, model, false)
	}

	if s.remainingRequests >= 0 && s.remainingRequests < t.lowThreshold {
		return true
	}

	return false
}

// Candidate identifies one (vendor, model) pair for earliestAvailable.
type Candidate struct {
	Vendor string
	Model  string
}

// EarliestAvailable returns the earliest time at which any of candidates is
// expected to become usable again: the minimum, over candidates, of
// cooldownUntil (if cooling), else resetRequestsAt (if remaining is low),
// else now. With no candidates providing a reset, falls back to now+60s; an
// empty candidate list returns now.
func (t *Tracker) EarliestAvailable(candidates []Candidate, now time.Time) time.Time {
	if len(candidates) == 0 {
		return now
	}

	best := time.Time{}
	anyKnown := false

	for _, c := range candidates {
		s := t.entry(c.Vendor, c.Model)

		t.mu.Lock()
		var at time.Time
		known := false
		switch {
		case s.coolingDown:
			at = s.cooldownUntil
			known = true
		case s.remainingRequests >= 0 && s.remainingRequests < t.lowThreshold && !s.resetRequestsAt.IsZero():
			at = s.resetRequestsAt
			known = true
		case s.remainingRequests >= 0 && s.remainingRequests < t.lowThreshold:
			// Low remaining count with no reset instant: no time is known.
		default:
			at = now
			known = true
		}
		t.mu.Unlock()

		if at.Equal(now) {
			return now
		}
		if !known {
			continue
		}
		if !anyKnown || at.Before(best) {
			best = at
			anyKnown = true
		}
	}

	if !anyKnown {
		return now.Add(60 * time.Second)
	}
	return best
}

// Snapshot is a point-in-time view of one (vendor, model) pair, used by the
// providers-status endpoint and distributed-state persistence.
type Snapshot struct {
	Vendor            string
	Model             string
	CoolingDown       bool
	CooldownUntil     time.Time
	RemainingRequests int
	ResetRequestsAt   time.Time
}

// Snapshots returns the current state of every (vendor, model) pair seen.
func (t *Tracker) Snapshots() []Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Snapshot, 0, len(t.state))
	for k, s := range t.state {
		out = append(out, Snapshot{
			Vendor: k.vendor, Model: k.model,
			CoolingDown: s.coolingDown, CooldownUntil: s.cooldownUntil,
			RemainingRequests: s.remainingRequests, ResetRequestsAt: s.resetRequestsAt,
		})
	}
	return out
}

// SnapshotFor returns point-in-time state for a single (vendor, model) pair,
// used to write-through just the entry that changed.
func (t *Tracker) SnapshotFor(vendor, model string) Snapshot {
	s := t.entry(vendor, model)
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		Vendor: vendor, Model: model,
		CoolingDown: s.coolingDown, CooldownUntil: s.cooldownUntil,
		RemainingRequests: s.remainingRequests, ResetRequestsAt: s.resetRequestsAt,
	}
}

// Restore seeds one (vendor, model) pair's state, used when loading a
// snapshot back from distributed state on startup.
func (t *Tracker) Restore(snap Snapshot) {
	s := t.entry(snap.Vendor, snap.Model)
	t.mu.Lock()
	defer t.mu.Unlock()
	s.coolingDown = snap.CoolingDown
	s.cooldownUntil = snap.CooldownUntil
	s.remainingRequests = snap.RemainingRequests
	s.resetRequestsAt = snap.ResetRequestsAt
	metrics.RecordRateLimitCooldown(snap.Vendor, snap.Model, snap.CoolingDown)
}
