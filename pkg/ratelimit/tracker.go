package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Sternrassler/aps-client/pkg/logging"
)

// Prometheus metrics for throttle tracking.
var (
	apsThrottleWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "aps_rate_limit_wait_seconds",
		Help:    "Time requests spent waiting for a throttle window or the pacer",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60},
	})

	apsThrottleHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aps_rate_limit_throttles_total",
		Help: "Total number of 429 responses observed",
	})

	apsThrottleBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aps_rate_limit_blocks_total",
		Help: "Total number of requests delayed by an active throttle window",
	})
)

// Config holds tracker configuration.
type Config struct {
	// RequestsPerSecond paces outgoing requests. <= 0 disables pacing.
	RequestsPerSecond float64

	// Burst is the token bucket size.
	Burst int
}

// DefaultConfig returns a conservative pacing configuration.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 10,
		Burst:             5,
	}
}

// Tracker gates requests on APS throttle windows.
// With a nil Redis client the state is kept in-process.
type Tracker struct {
	redis   *redis.Client
	limiter *rate.Limiter
	logger  zerolog.Logger

	mu    sync.Mutex
	local ThrottleState
}

// NewTracker creates a new throttle tracker.
func NewTracker(redisClient *redis.Client, cfg Config, logger zerolog.Logger) *Tracker {
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Tracker{
		redis:   redisClient,
		limiter: limiter,
		logger:  logging.Subsystem(&logger, "ratelimit"),
	}
}

// GetState retrieves the current throttle state.
// Returns a zero (unthrottled) state if nothing is recorded.
func (t *Tracker) GetState(ctx context.Context) (*ThrottleState, error) {
	if t.redis == nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		state := t.local
		return &state, nil
	}

	untilMillis, err := t.redis.Get(ctx, RedisKeyThrottledUntil).Int64()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get throttled until: %w", err)
	}
	if err == redis.Nil {
		return &ThrottleState{}, nil
	}

	hits, err := t.redis.Get(ctx, RedisKeyThrottleHits).Int64()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get throttle hits: %w", err)
	}

	return &ThrottleState{
		ThrottledUntil: time.UnixMilli(untilMillis),
		Hits:           hits,
	}, nil
}

// Observe records a 429 response's Retry-After window. Other statuses are ignored.
func (t *Tracker) Observe(ctx context.Context, status int, header http.Header) error {
	if status != http.StatusTooManyRequests {
		return nil
	}
	apsThrottleHitsTotal.Inc()

	wait, err := ParseRetryAfter(header.Get("Retry-After"), time.Now())
	if err != nil {
		t.logger.Warn().Err(err).Msg("Invalid Retry-After, using default window")
		wait = DefaultRetryAfter
	}
	until := time.Now().Add(wait)

	if t.redis == nil {
		t.mu.Lock()
		if until.After(t.local.ThrottledUntil) {
			t.local.ThrottledUntil = until
		}
		t.local.Hits++
		t.mu.Unlock()
	} else {
		current, err := t.GetState(ctx)
		if err != nil {
			return err
		}
		if current.ThrottledUntil.After(until) {
			until = current.ThrottledUntil
		}

		ttl := time.Until(until)
		if ttl <= 0 {
			ttl = time.Millisecond
		}
		pipe := t.redis.Pipeline()
		pipe.Set(ctx, RedisKeyThrottledUntil, until.UnixMilli(), ttl)
		pipe.Incr(ctx, RedisKeyThrottleHits)
		pipe.Expire(ctx, RedisKeyThrottleHits, ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("store throttle state in redis: %w", err)
		}
	}

	t.logger.Warn().
		Dur("retry_after", wait).
		Time("throttled_until", until).
		Msg("APS throttled request, pausing outgoing requests")

	return nil
}

// Wait blocks until any active throttle window has passed and the pacer
// admits the request, or ctx ends.
func (t *Tracker) Wait(ctx context.Context) error {
	start := time.Now()
	defer func() {
		apsThrottleWaitSeconds.Observe(time.Since(start).Seconds())
	}()

	state, err := t.GetState(ctx)
	if err != nil {
		// State backend unavailable: do not block traffic on it
		t.logger.Warn().Err(err).Msg("Throttle state unavailable")
	} else if state.IsThrottled() {
		wait := state.TimeUntilReset()
		apsThrottleBlocksTotal.Inc()
		t.logger.Debug().Dur("wait", wait).Msg("Waiting for throttle window")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("pace request: %w", err)
		}
	}
	return nil
}

// Reset clears the recorded throttle state.
func (t *Tracker) Reset(ctx context.Context) error {
	if t.redis == nil {
		t.mu.Lock()
		t.local = ThrottleState{}
		t.mu.Unlock()
		return nil
	}
	if err := t.redis.Del(ctx, RedisKeyThrottledUntil, RedisKeyThrottleHits).Err(); err != nil {
		return fmt.Errorf("reset throttle state: %w", err)
	}
	return nil
}
