package pagination

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

// DefaultMaxPages caps a single collection.
const DefaultMaxPages = 1000

var (
	// ErrPageLimit is wrapped into client.ErrPaginationAborted when the page cap is hit.
	ErrPageLimit = errors.New("page limit exceeded")

	// ErrTokenLoop is wrapped into client.ErrPaginationAborted when the server
	// hands back a token it already issued.
	ErrTokenLoop = errors.New("continuation token repeated")
)

var (
	apsPagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aps_pagination_pages_total",
		Help: "Total pages fetched by collection",
	}, []string{"collection"})

	apsPaginationAbortsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aps_pagination_aborts_total",
		Help: "Total aborted collections by collection",
	}, []string{"collection"})
)

// Page is one batch of a paginated collection.
type Page[T any] struct {
	Items []T

	// Token is the opaque continuation token. Empty ends the collection.
	Token string
}

// FetchFunc fetches the page identified by token ("" for the first page).
type FetchFunc[T any] func(ctx context.Context, token string) (Page[T], error)

// Config holds collector configuration.
type Config struct {
	// MaxPages is the maximum number of fetch calls per collection.
	MaxPages int

	// Timeout bounds the whole collection when > 0.
	Timeout time.Duration

	// Name labels metrics and logs.
	Name string

	Logger *zerolog.Logger
}

// DefaultConfig returns safe default configuration.
func DefaultConfig() Config {
	return Config{
		MaxPages: DefaultMaxPages,
		Name:     "unnamed",
	}
}

// Option customizes a collection.
type Option func(*Config)

// WithMaxPages sets the page cap.
func WithMaxPages(n int) Option {
	return func(c *Config) { c.MaxPages = n }
}

// WithTimeout sets a deadline for the whole collection.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithName labels the collection in metrics and logs.
func WithName(name string) Option {
	return func(c *Config) { c.Name = name }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Config) { c.Logger = &logger }
}

// CollectAll fetches every page in order and returns the concatenated items.
// On any failure it returns nil and an error wrapping client.ErrPaginationAborted
// (or client.ErrTimeout when the context ended).
func CollectAll[T any](ctx context.Context, fetch FetchFunc[T], opts ...Option) ([]T, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}

	logger := logging.Subsystem(cfg.Logger, "pagination")
	logger = logger.With().Str("collection", cfg.Name).Logger()

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	seen := make(map[string]struct{})
	var items []T
	token := ""

	for page := 1; ; page++ {
		if page > cfg.MaxPages {
			return nil, abort(cfg.Name, page, fmt.Errorf("%w: %d", ErrPageLimit, cfg.MaxPages))
		}

		if err := ctx.Err(); err != nil {
			apsPaginationAbortsTotal.WithLabelValues(cfg.Name).Inc()
			return nil, client.TimeoutError(fmt.Sprintf("collect %s page %d", cfg.Name, page), err)
		}

		result, err := fetch(ctx, token)
		if err != nil {
			logger.Warn().
				Err(err).
				Int("page", page).
				Int("collected", len(items)).
				Msg("Page fetch failed, discarding partial results")
			if ctx.Err() != nil || errors.Is(err, client.ErrTimeout) {
				apsPaginationAbortsTotal.WithLabelValues(cfg.Name).Inc()
				return nil, client.TimeoutError(fmt.Sprintf("collect %s page %d", cfg.Name, page), errors.Join(ctx.Err(), err))
			}
			return nil, abort(cfg.Name, page, err)
		}
		apsPagesTotal.WithLabelValues(cfg.Name).Inc()

		items = append(items, result.Items...)

		if result.Token == "" {
			break
		}
		if _, dup := seen[result.Token]; dup || result.Token == token {
			return nil, abort(cfg.Name, page, ErrTokenLoop)
		}
		seen[result.Token] = struct{}{}
		token = result.Token
	}

	logger.Debug().
		Int("items", len(items)).
		Int("pages", len(seen)+1).
		Dur("duration", time.Since(start)).
		Msg("Collection complete")

	return items, nil
}

func abort(name string, page int, cause error) error {
	apsPaginationAbortsTotal.WithLabelValues(name).Inc()
	return fmt.Errorf("collect %s page %d: %w: %w", name, page, client.ErrPaginationAborted, cause)
}
