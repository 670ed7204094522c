// Package poll waits for asynchronous APS jobs (Design Automation work items,
// Model Derivative translations) to reach a terminal state.
//
// Two strategies satisfy the same contract:
//   - Until pulls a status snapshot at a fixed interval.
//   - Watch consumes snapshots pushed by a Stream (e.g. a WebSocket).
//
// Both return the first terminal snapshot. A job that ends in a failure
// state is a successful poll; only a failed status fetch is a poll failure.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/aps-client/pkg/client"
	"github.com/Sternrassler/aps-client/pkg/logging"
)

// Non-terminal states shared by every APS job kind.
const (
	StatePending    State = "pending"
	StateInProgress State = "inprogress"
)

// ErrUnknownState is wrapped into client.ErrPollFailure when a snapshot
// carries an empty state or one outside Config.States.
var ErrUnknownState = errors.New("unknown job state")

var (
	apsPollAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aps_poll_attempts_total",
		Help: "Total status fetches by job kind",
	}, []string{"kind"})

	apsPollOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aps_poll_outcomes_total",
		Help: "Poll results by job kind and terminal state or failure",
	}, []string{"kind", "outcome"})

	apsPollDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aps_poll_duration_seconds",
		Help:    "Time from first fetch to terminal state by job kind",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 900},
	}, []string{"kind"})
)

// State is a job status value.
type State string

// Terminal reports whether s ends polling.
func (s State) Terminal() bool {
	return s != StatePending && s != StateInProgress && s != ""
}

// Snapshot is one observation of a job.
type Snapshot interface {
	JobID() string
	JobState() State
}

// FetchFunc returns the current snapshot of job id.
type FetchFunc[S Snapshot] func(ctx context.Context, id string) (S, error)

// Stream delivers pushed snapshots. Next blocks until a snapshot arrives.
type Stream[S Snapshot] interface {
	Next(ctx context.Context) (S, error)
	Close() error
}

// Config holds poller configuration.
type Config struct {
	// Interval is the fixed delay between fetches.
	Interval time.Duration

	// Timeout bounds the whole poll when > 0.
	Timeout time.Duration

	// Kind labels metrics and logs (workitem, translation).
	Kind string

	// States is the closed set of states the job kind reports. When set,
	// any other state fails the poll. Empty accepts any non-empty state.
	States []State
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Second,
		Kind:     "job",
	}
}

// Poller carries configuration for Until and Watch.
type Poller struct {
	config Config
	known  map[State]struct{}
	logger zerolog.Logger
}

// New creates a poller. A non-positive interval falls back to the default.
func New(cfg Config, logger *zerolog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Kind == "" {
		cfg.Kind = DefaultConfig().Kind
	}

	var known map[State]struct{}
	if len(cfg.States) > 0 {
		known = make(map[State]struct{}, len(cfg.States))
		for _, st := range cfg.States {
			known[st] = struct{}{}
		}
	}

	l := logging.Subsystem(logger, "poll")

	return &Poller{
		config: cfg,
		known:  known,
		logger: l.With().Str("kind", cfg.Kind).Logger(),
	}
}

// Config returns the poller configuration.
func (p *Poller) Config() Config {
	return p.config
}

// Until fetches the status of id every interval until it is terminal.
func Until[S Snapshot](ctx context.Context, p *Poller, fetch FetchFunc[S], id string) (S, error) {
	var zero S

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	logger := p.logger.With().Str("job_id", id).Logger()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, p.timeout(id, attempt, err)
		}

		apsPollAttemptsTotal.WithLabelValues(p.config.Kind).Inc()
		snap, err := fetch(ctx, id)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, client.ErrTimeout) {
				return zero, p.timeout(id, attempt, errors.Join(ctx.Err(), err))
			}
			apsPollOutcomesTotal.WithLabelValues(p.config.Kind, "poll_failure").Inc()
			logger.Warn().Err(err).Int("attempt", attempt).Msg("Status fetch failed")
			return zero, fmt.Errorf("poll %s %s attempt %d: %w: %w", p.config.Kind, id, attempt, client.ErrPollFailure, err)
		}

		state := snap.JobState()
		if err := p.checkState(state); err != nil {
			apsPollOutcomesTotal.WithLabelValues(p.config.Kind, "poll_failure").Inc()
			logger.Warn().Str("state", string(state)).Int("attempt", attempt).Msg("Unknown job state")
			return zero, fmt.Errorf("poll %s %s attempt %d: %w: %w", p.config.Kind, id, attempt, client.ErrPollFailure, err)
		}

		logger.Debug().Int("attempt", attempt).Str("state", string(state)).Msg("Job status")

		if state.Terminal() {
			p.finish(logger, state, attempt, start)
			return snap, nil
		}

		timer := time.NewTimer(p.config.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, p.timeout(id, attempt, ctx.Err())
		case <-timer.C:
		}
	}
}

// Watch reads pushed snapshots for id until one is terminal. The stream is
// closed before Watch returns. Snapshots for other job ids are ignored.
func Watch[S Snapshot](ctx context.Context, p *Poller, stream Stream[S], id string) (S, error) {
	var zero S
	defer stream.Close()

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	logger := p.logger.With().Str("job_id", id).Str("strategy", "push").Logger()

	for received := 1; ; received++ {
		snap, err := stream.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, client.ErrTimeout) {
				return zero, p.timeout(id, received, errors.Join(ctx.Err(), err))
			}
			apsPollOutcomesTotal.WithLabelValues(p.config.Kind, "poll_failure").Inc()
			logger.Warn().Err(err).Int("received", received).Msg("Status stream failed")
			return zero, fmt.Errorf("watch %s %s: %w: %w", p.config.Kind, id, client.ErrPollFailure, err)
		}

		if id != "" && snap.JobID() != "" && snap.JobID() != id {
			continue
		}

		state := snap.JobState()
		if err := p.checkState(state); err != nil {
			apsPollOutcomesTotal.WithLabelValues(p.config.Kind, "poll_failure").Inc()
			logger.Warn().Str("state", string(state)).Int("received", received).Msg("Unknown job state")
			return zero, fmt.Errorf("watch %s %s: %w: %w", p.config.Kind, id, client.ErrPollFailure, err)
		}
		logger.Debug().Int("received", received).Str("state", string(state)).Msg("Job status pushed")

		if state.Terminal() {
			p.finish(logger, state, received, start)
			return snap, nil
		}
	}
}

func (p *Poller) checkState(state State) error {
	if state == "" {
		return fmt.Errorf("%w: empty", ErrUnknownState)
	}
	if p.known != nil {
		if _, ok := p.known[state]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownState, state)
		}
	}
	return nil
}

func (p *Poller) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.config.Timeout > 0 {
		return context.WithTimeout(ctx, p.config.Timeout)
	}
	return context.WithCancel(ctx)
}

func (p *Poller) timeout(id string, attempt int, err error) error {
	apsPollOutcomesTotal.WithLabelValues(p.config.Kind, "timeout").Inc()
	p.logger.Warn().
		Str("job_id", id).
		Int("attempt", attempt).
		Msg("Polling abandoned: deadline or cancellation")
	return client.TimeoutError(fmt.Sprintf("poll %s %s", p.config.Kind, id), err)
}

func (p *Poller) finish(logger zerolog.Logger, state State, attempts int, start time.Time) {
	apsPollOutcomesTotal.WithLabelValues(p.config.Kind, string(state)).Inc()
	apsPollDuration.WithLabelValues(p.config.Kind).Observe(time.Since(start).Seconds())
	logger.Info().
		Str("state", string(state)).
		Int("attempts", attempts).
		Dur("duration", time.Since(start)).
		Msg("Job reached terminal state")
}
