// Package distributed provides optional write-through persistence for the
// Breaker and Tracker, plus the Queue's async job state, backed by Redis.
// Every write is fire-and-forget: a failed write logs at debug and never
// propagates to the request path. Loads degrade gracefully to an empty
// result on any error, and malformed JSON entries are skipped rather than
// failing the whole load.
package distributed

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/blueberrycongee/llmux/internal/breaker"
	"github.com/blueberrycongee/llmux/internal/ratelimit"
)

// Store wraps a Redis client with the key layout and (de)serialization the
// Breaker, Tracker, and Queue need for cross-instance state sharing.
type Store struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// New constructs a Store against redisURL (e.g. "redis://localhost:6379/0").
func New(redisURL, prefix string, logger *slog.Logger) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	if prefix == "" {
		prefix = "airouter"
	}
	return &Store{client: client, prefix: prefix, logger: logger}, nil
}

func (s *Store) Close() error { return s.client.Close() }

func (s *Store) breakerKey(vendor string) string {
	return s.prefix + ":cb:" + vendor
}

func (s *Store) trackerKey(vendor, model string) string {
	return s.prefix + ":rl:" + vendor + ":" + model
}

type breakerRecord struct {
	State        breaker.State `json:"state"`
	FailureCount int           `json:"failure_count"`
	OpenedAt     time.Time     `json:"opened_at"`
}

// SaveBreakerSnapshot write-throughs one vendor's breaker state with a TTL
// of 3x the configured cooldown. Fire-and-forget: errors are logged, not
// returned.
func (s *Store) SaveBreakerSnapshot(ctx context.Context, snap breaker.Snapshot, cooldown time.Duration) {
	rec := breakerRecord{State: snap.State, FailureCount: snap.FailureCount, OpenedAt: snap.OpenedAt}
	data, err := json.Marshal(rec)
	if err != nil {
		s.logger.Debug("marshal breaker snapshot failed", "vendor", snap.Vendor, "error", err)
		return
	}
	if err := s.client.Set(ctx, s.breakerKey(snap.Vendor), data, 3*cooldown).Err(); err != nil {
		s.logger.Debug("write breaker snapshot failed", "vendor", snap.Vendor, "error", err)
	}
}

// LoadBreakerSnapshots scans prefix:cb:* and returns every well-formed
// record found. Errors and malformed entries are skipped; the caller starts
// with an empty map on any overall failure.
func (s *Store) LoadBreakerSnapshots(ctx context.Context) []breaker.Snapshot {
	pattern := s.breakerKey("*")
	keys, err := s.scanKeys(ctx, pattern)
	if err != nil {
		s.logger.Debug("scan breaker keys failed", "error", err)
		return nil
	}

	var out []breaker.Snapshot
	for _, key := range keys {
		vendor := strings.TrimPrefix(key, s.prefix+":cb:")
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var rec breakerRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		out = append(out, breaker.Snapshot{Vendor: vendor, State: rec.State, FailureCount: rec.FailureCount, OpenedAt: rec.OpenedAt})
	}
	return out
}

type trackerRecord struct {
	CoolingDown       bool      `json:"cooling_down"`
	CooldownUntil     time.Time `json:"cooldown_until"`
	RemainingRequests int       `json:"remaining_requests"`
	ResetRequestsAt   time.Time `json:"reset_requests_at"`
}

// SaveTrackerSnapshot write-throughs one (vendor, model) rate-limit state
// with a TTL of max(cooldown-remaining, 60s).
func (s *Store) SaveTrackerSnapshot(ctx context.Context, snap ratelimit.Snapshot) {
	rec := trackerRecord{
		CoolingDown:       snap.CoolingDown,
		CooldownUntil:     snap.CooldownUntil,
		RemainingRequests: snap.RemainingRequests,
		ResetRequestsAt:   snap.ResetRequestsAt,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		s.logger.Debug("marshal tracker snapshot failed", "vendor", snap.Vendor, "model", snap.Model, "error", err)
		return
	}

	ttl := 60 * time.Second
	if remaining := time.Until(snap.CooldownUntil); remaining > ttl {
		ttl = remaining
	}
	if err := s.client.Set(ctx, s.trackerKey(snap.Vendor, snap.Model), data, ttl).Err(); err != nil {
		s.logger.Debug("write tracker snapshot failed", "vendor", snap.Vendor, "model", snap.Model, "error", err)
	}
}

// LoadTrackerSnapshots scans prefix:rl:*:* and returns every well-formed
// record found.
func (s *Store) LoadTrackerSnapshots(ctx context.Context) []ratelimit.Snapshot {
	pattern := s.prefix + ":rl:*"
	keys, err := s.scanKeys(ctx, pattern)
	if err != nil {
		s.logger.Debug("scan tracker keys failed", "error", err)
		return nil
	}

	var out []ratelimit.Snapshot
	for _, key := range keys {
		rest := strings.TrimPrefix(key, s.prefix+":rl:")
		parts := strings.SplitN(rest, ":", 2)
		if len(parts) != 2 {
			continue
		}
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var rec trackerRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		out = append(out, ratelimit.Snapshot{
			Vendor: parts[0], Model: parts[1],
			CoolingDown: rec.CoolingDown, CooldownUntil: rec.CooldownUntil,
			RemainingRequests: rec.RemainingRequests, ResetRequestsAt: rec.ResetRequestsAt,
		})
	}
	return out
}

func (s *Store) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}
