// Package ratelimit implements APS throttle tracking and request pacing.
// It records the Retry-After window of 429 responses (optionally shared
// through Redis between processes) and paces outgoing requests with a token
// bucket.
package ratelimit

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Redis keys for throttle state storage.
const (
	RedisKeyThrottledUntil = "aps:rate_limit:throttled_until"
	RedisKeyThrottleHits   = "aps:rate_limit:throttle_hits"
)

const (
	// DefaultRetryAfter applies when a 429 carries no usable Retry-After.
	DefaultRetryAfter = 5 * time.Second

	// MaxRetryAfter caps a single throttle window.
	MaxRetryAfter = 5 * time.Minute
)

// ThrottleState represents the current APS throttle state.
type ThrottleState struct {
	// ThrottledUntil is when requests may resume. Zero means not throttled.
	ThrottledUntil time.Time `json:"throttled_until"`

	// Hits counts 429 responses observed in the current window.
	Hits int64 `json:"hits"`
}

// IsThrottled returns true if the window has not passed yet.
func (s *ThrottleState) IsThrottled() bool {
	return time.Now().Before(s.ThrottledUntil)
}

// TimeUntilReset returns the remaining wait, or 0 when not throttled.
func (s *ThrottleState) TimeUntilReset() time.Duration {
	d := time.Until(s.ThrottledUntil)
	if d < 0 {
		return 0
	}
	return d
}

// ParseRetryAfter parses a Retry-After header value (delta-seconds or
// HTTP-date). An empty value yields DefaultRetryAfter. The result is capped
// at MaxRetryAfter.
func ParseRetryAfter(value string, now time.Time) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return DefaultRetryAfter, nil
	}

	var wait time.Duration
	// Out-of-range delta-seconds come back clamped to the int64 bounds.
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil || errors.Is(err, strconv.ErrRange) {
		if secs < 0 {
			return 0, fmt.Errorf("negative Retry-After: %s", value)
		}
		// Cap before converting so huge values cannot overflow Duration.
		if secs > int64(MaxRetryAfter/time.Second) {
			return MaxRetryAfter, nil
		}
		wait = time.Duration(secs) * time.Second
	} else {
		at, err := http.ParseTime(value)
		if err != nil {
			return 0, fmt.Errorf("parse Retry-After header: %w", err)
		}
		wait = at.Sub(now)
		if wait < 0 {
			wait = 0
		}
	}

	if wait > MaxRetryAfter {
		wait = MaxRetryAfter
	}
	return wait, nil
}
