package headers

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseOpenAI(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h := http.Header{}
	h.Set("x-ratelimit-remaining-requests", "42")
	h.Set("x-ratelimit-remaining-tokens", "1000")
	h.Set("x-ratelimit-reset-requests", "1h2m3s")
	h.Set("x-ratelimit-reset-tokens", "250ms")

	out := ParseOpenAI(h, now)
	assert.Equal(t, 42, out.RemainingRequests)
	assert.Equal(t, 1000, out.RemainingTokens)
	assert.Equal(t, now.Add(time.Hour+2*time.Minute+3*time.Second), out.ResetRequestsAt)
	assert.Equal(t, now.Add(250*time.Millisecond), out.ResetTokensAt)
}

func TestParseOpenAI_MissingHeaders(t *testing.T) {
	out := ParseOpenAI(http.Header{}, time.Now())
	assert.Equal(t, -1, out.RemainingRequests)
	assert.Equal(t, -1, out.RemainingTokens)
	assert.True(t, out.ResetRequestsAt.IsZero())
}

func TestParseAnthropic(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h := http.Header{}
	h.Set("anthropic-ratelimit-requests-remaining", "10")
	h.Set("anthropic-ratelimit-tokens-remaining", "5000")
	h.Set("anthropic-ratelimit-requests-reset", "2026-01-01T01:00:00Z")

	out := ParseAnthropic(h, now)
	assert.Equal(t, 10, out.RemainingRequests)
	assert.Equal(t, 5000, out.RemainingTokens)
	assert.Equal(t, time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC), out.ResetRequestsAt)
}

func TestParseGoogle_AlwaysUnknown(t *testing.T) {
	h := http.Header{}
	h.Set("some-header", "irrelevant")

	out := ParseGoogle(h, time.Now())
	assert.Equal(t, -1, out.RemainingRequests)
	assert.Equal(t, -1, out.RemainingTokens)
	assert.True(t, out.ResetRequestsAt.IsZero())
	assert.True(t, out.ResetTokensAt.IsZero())
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("integer seconds", func(t *testing.T) {
		assert.Equal(t, 30*time.Second, ParseRetryAfter("30", now))
	})

	t.Run("http-date", func(t *testing.T) {
		future := now.Add(90 * time.Second)
		d := ParseRetryAfter(future.Format(http.TimeFormat), now)
		assert.InDelta(t, 90*time.Second, d, float64(time.Second))
	})

	t.Run("missing defaults to 60s", func(t *testing.T) {
		assert.Equal(t, 60*time.Second, ParseRetryAfter("", now))
	})

	t.Run("garbage defaults to 60s", func(t *testing.T) {
		assert.Equal(t, 60*time.Second, ParseRetryAfter("not-a-value", now))
	})

	t.Run("negative seconds defaults to 60s", func(t *testing.T) {
		assert.Equal(t, 60*time.Second, ParseRetryAfter("-5", now))
	})
}
