// Package headers extracts rate-limit signals from vendor response headers
// into one common shape, so the rest of the router never needs to know
// which vendor's header naming it is looking at.
package headers

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RateLimitHeaders is the vendor-agnostic shape every extractor produces.
// A field holds -1 (for counts) or the zero time.Time (for resets) when the
// vendor did not report it.
type RateLimitHeaders struct {
	RemainingRequests int
	RemainingTokens   int
	ResetRequestsAt   time.Time
	ResetTokensAt     time.Time
}

// unknownHeaders is returned by vendors that report nothing proactively.
func unknownHeaders() RateLimitHeaders {
	return RateLimitHeaders{RemainingRequests: -1, RemainingTokens: -1}
}

func lowerHeader(h http.Header, key string) string {
	return strings.TrimSpace(h.Get(key))
}

// ParseOpenAI extracts OpenAI's x-ratelimit-* headers. Resets are duration
// strings of the form "1h2m3s" (fractional seconds allowed), relative to now.
func ParseOpenAI(h http.Header, now time.Time) RateLimitHeaders {
	out := unknownHeaders()

	if v := lowerHeader(h, "x-ratelimit-remaining-requests"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			out.RemainingRequests = n
		}
	}
	if v := lowerHeader(h, "x-ratelimit-remaining-tokens"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			out.RemainingTokens = n
		}
	}
	if v := lowerHeader(h, "x-ratelimit-reset-requests"); v != "" {
		if d, err := parseOpenAIDuration(v); err == nil {
			out.ResetRequestsAt = now.Add(d)
		}
	}
	if v := lowerHeader(h, "x-ratelimit-reset-tokens"); v != "" {
		if d, err := parseOpenAIDuration(v); err == nil {
			out.ResetTokensAt = now.Add(d)
		}
	}

	return out
}

// parseOpenAIDuration handles the subset of Go's duration grammar OpenAI
// actually emits, which time.ParseDuration already covers ("1h2m3s",
// "6m30.5s", "250ms").
func parseOpenAIDuration(s string) (time.Duration, error) {
	return time.ParseDuration(s)
}

// ParseAnthropic extracts Anthropic's anthropic-ratelimit-* headers.
// Resets are ISO-8601 timestamps.
func ParseAnthropic(h http.Header, now time.Time) RateLimitHeaders {
	out := unknownHeaders()

	if v := lowerHeader(h, "anthropic-ratelimit-requests-remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			out.RemainingRequests = n
		}
	}
	if v := lowerHeader(h, "anthropic-ratelimit-tokens-remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			out.RemainingTokens = n
		}
	}
	if v := lowerHeader(h, "anthropic-ratelimit-requests-reset"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			out.ResetRequestsAt = t
		}
	}
	if v := lowerHeader(h, "anthropic-ratelimit-tokens-reset"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			out.ResetTokensAt = t
		}
	}

	return out
}

// ParseGoogle always returns the unknown shape: Gemini's API does not emit
// proactive rate-limit headers.
func ParseGoogle(h http.Header, now time.Time) RateLimitHeaders {
	return unknownHeaders()
}

// ParseRetryAfter accepts either an integer seconds value or an HTTP-date,
// per RFC 7231. Missing or unparseable input defaults to 60 seconds.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 60 * time.Second
	}

	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 60 * time.Second
		}
		return time.Duration(secs) * time.Second
	}

	if t, err := http.ParseTime(value); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}

	return 60 * time.Second
}
