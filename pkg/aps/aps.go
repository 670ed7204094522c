// Package aps wires the executor, throttle tracker, job cache and the OSS,
// Design Automation and Model Derivative services into one client.
package aps

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/aps-client/pkg/cache"
	"github.com/Sternrassler/aps-client/pkg/client"
	"github.com/Sternrassler/aps-client/pkg/da"
	"github.com/Sternrassler/aps-client/pkg/derivative"
	"github.com/Sternrassler/aps-client/pkg/logging"
	"github.com/Sternrassler/aps-client/pkg/oss"
	"github.com/Sternrassler/aps-client/pkg/pagination"
	"github.com/Sternrassler/aps-client/pkg/poll"
	"github.com/Sternrassler/aps-client/pkg/ratelimit"
)

// Config holds the façade configuration.
type Config struct {
	// BaseURL of the APS host.
	BaseURL string

	// UserAgent header sent with each request.
	UserAgent string

	// Timeout bounds a single request.
	Timeout time.Duration

	// HTTPClient overrides the default transport.
	HTTPClient *http.Client

	// Redis is optional. When set, throttle windows are shared through it
	// and terminal job snapshots are cached.
	Redis *redis.Client

	// RateLimit paces outgoing requests.
	RateLimit ratelimit.Config

	// Region is the Design Automation region.
	Region string

	// WebSocketURL overrides the Design Automation push endpoint.
	WebSocketURL string

	// CacheScope separates cached snapshots of different applications
	// sharing one Redis.
	CacheScope string

	// WorkItemPoll and TranslationPoll override the poll intervals and
	// timeouts. Zero values keep the service defaults.
	WorkItemPoll    poll.Config
	TranslationPoll poll.Config

	// MaxPages caps every list collection.
	MaxPages int

	// ReadRetry retries idempotent reads run through Client.Retry and
	// Overview. Nil runs them once.
	ReadRetry *client.RetryConfig

	Logger *zerolog.Logger
}

// DefaultConfig returns a configuration for the production host without Redis.
func DefaultConfig() Config {
	cc := client.DefaultConfig()
	return Config{
		BaseURL:   cc.BaseURL,
		UserAgent: cc.UserAgent,
		Timeout:   cc.Timeout,
		RateLimit: ratelimit.DefaultConfig(),
		Region:    da.DefaultRegion,
		MaxPages:  pagination.DefaultConfig().MaxPages,
	}
}

// Client bundles the APS services.
type Client struct {
	OSS        *oss.Service
	DA         *da.Service
	Derivative *derivative.Service

	http    *client.Client
	tracker *ratelimit.Tracker
	cache   *cache.Manager
	retry   *client.RetryConfig
	logger  zerolog.Logger
}

// New creates the façade.
func New(cfg Config) (*Client, error) {
	base := log.Logger
	logger := logging.NewLogger("aps")
	if cfg.Logger != nil {
		base = *cfg.Logger
		logger = base.With().Str(logging.FieldComponent, "aps").Logger()
	}

	tracker := ratelimit.NewTracker(cfg.Redis, cfg.RateLimit, logger)

	httpClient, err := client.New(client.Config{
		BaseURL:    cfg.BaseURL,
		UserAgent:  cfg.UserAgent,
		HTTPClient: cfg.HTTPClient,
		Timeout:    cfg.Timeout,
		Throttle:   tracker,
		Logger:     &logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create aps client: %w", err)
	}

	var jobCache *cache.Manager
	if cfg.Redis != nil {
		jobCache = cache.NewManager(cfg.Redis)
	}

	var collect []pagination.Option
	if cfg.MaxPages > 0 {
		collect = append(collect, pagination.WithMaxPages(cfg.MaxPages))
	}

	daOpts := []da.Option{da.WithLogger(base), da.WithCollectOptions(collect...)}
	if cfg.Region != "" {
		daOpts = append(daOpts, da.WithRegion(cfg.Region))
	}
	if cfg.WebSocketURL != "" {
		daOpts = append(daOpts, da.WithWebSocketURL(cfg.WebSocketURL))
	}
	if cfg.WorkItemPoll.Interval > 0 || cfg.WorkItemPoll.Timeout > 0 {
		pc := cfg.WorkItemPoll
		if pc.Interval <= 0 {
			pc.Interval = da.DefaultPollInterval
		}
		pc.Kind = "workitem"
		daOpts = append(daOpts, da.WithPoller(pc))
	}

	derivOpts := []derivative.Option{derivative.WithLogger(base)}
	if cfg.TranslationPoll.Interval > 0 || cfg.TranslationPoll.Timeout > 0 {
		pc := cfg.TranslationPoll
		if pc.Interval <= 0 {
			pc.Interval = derivative.DefaultPollInterval
		}
		pc.Kind = "translation"
		derivOpts = append(derivOpts, derivative.WithPoller(pc))
	}

	if jobCache != nil {
		daOpts = append(daOpts, da.WithCache(jobCache, cfg.CacheScope))
		derivOpts = append(derivOpts, derivative.WithCache(jobCache, cfg.CacheScope))
	}

	return &Client{
		OSS:        oss.New(httpClient, oss.WithLogger(base), oss.WithCollectOptions(collect...)),
		DA:         da.New(httpClient, daOpts...),
		Derivative: derivative.New(httpClient, derivOpts...),
		http:       httpClient,
		tracker:    tracker,
		cache:      jobCache,
		retry:      cfg.ReadRetry,
		logger:     logger,
	}, nil
}

// HTTP returns the underlying executor for endpoints not wrapped here.
func (c *Client) HTTP() *client.Client {
	return c.http
}

// Retry runs an idempotent read under the configured retry policy.
func (c *Client) Retry(ctx context.Context, fn func(ctx context.Context) error) error {
	if c.retry == nil {
		return fn(ctx)
	}
	return client.Retry(ctx, c.retry, fn)
}

// ThrottleState reports the current APS throttle window.
func (c *Client) ThrottleState(ctx context.Context) (*ratelimit.ThrottleState, error) {
	return c.tracker.GetState(ctx)
}

// Overview is a snapshot of an application's APS resources.
type Overview struct {
	Buckets    []oss.Bucket
	Activities []string
	AppBundles []string
	Engines    []string
}

// Overview collects buckets, activities, app bundles and engines
// concurrently. The first failure cancels the remaining collections.
func (c *Client) Overview(ctx context.Context, token string) (*Overview, error) {
	if token == "" {
		return nil, fmt.Errorf("overview: %w", client.ErrMissingCredential)
	}

	start := time.Now()
	var ov Overview
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.Retry(ctx, func(ctx context.Context) (err error) {
			ov.Buckets, err = c.OSS.ListBuckets(ctx, token)
			return err
		})
	})
	g.Go(func() error {
		return c.Retry(ctx, func(ctx context.Context) (err error) {
			ov.Activities, err = c.DA.Activities(ctx, token)
			return err
		})
	})
	g.Go(func() error {
		return c.Retry(ctx, func(ctx context.Context) (err error) {
			ov.AppBundles, err = c.DA.AppBundles(ctx, token)
			return err
		})
	})
	g.Go(func() error {
		return c.Retry(ctx, func(ctx context.Context) (err error) {
			ov.Engines, err = c.DA.Engines(ctx, token)
			return err
		})
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("overview: %w", err)
	}

	c.logger.Debug().
		Int("buckets", len(ov.Buckets)).
		Int("activities", len(ov.Activities)).
		Int("appbundles", len(ov.AppBundles)).
		Int("engines", len(ov.Engines)).
		Dur("duration", time.Since(start)).
		Msg("Overview collected")
	return &ov, nil
}
