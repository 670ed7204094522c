// Package da wraps the APS Design Automation v3 API: nickname, engines,
// activities, app bundles and work items.
package da

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/aps-client/pkg/cache"
	"github.com/Sternrassler/aps-client/pkg/client"
	"github.com/Sternrassler/aps-client/pkg/logging"
	"github.com/Sternrassler/aps-client/pkg/pagination"
	"github.com/Sternrassler/aps-client/pkg/poll"
)

const serviceName = "da"

const (
	// DefaultRegion is the Design Automation region used when none is set.
	DefaultRegion = "us-east"

	// DefaultPollInterval is the delay between work item status fetches.
	DefaultPollInterval = 2 * time.Second

	// DefaultWebSocketURL is the Design Automation push endpoint.
	DefaultWebSocketURL = "wss://websockets.forgedesignautomation.io"
)

// ErrAliasNotFound is returned when an alias label does not exist.
var ErrAliasNotFound = errors.New("alias not found")

// Alias labels a version of an activity or app bundle.
type Alias struct {
	ID       string `json:"id"`
	Version  int    `json:"version"`
	Receiver string `json:"receiver,omitempty"`
}

// ServiceLimits are the per-application quotas.
type ServiceLimits struct {
	FrontendLimits map[string]any `json:"frontendLimits"`
	BackendLimits  map[string]any `json:"backendLimits"`
}

// listPage is the Design Automation list envelope.
type listPage[T any] struct {
	Data            []T    `json:"data"`
	PaginationToken string `json:"paginationToken"`
}

// QualifiedID is "owner.Name+alias".
type QualifiedID struct {
	Owner string
	Name  string
	Alias string
}

// String formats the id.
func (q QualifiedID) String() string {
	return q.Owner + "." + q.Name + "+" + q.Alias
}

// ParseQualifiedID splits "owner.Name+alias".
func ParseQualifiedID(id string) (QualifiedID, error) {
	dot := strings.Index(id, ".")
	plus := strings.LastIndex(id, "+")
	if dot <= 0 || plus <= dot+1 || plus == len(id)-1 {
		return QualifiedID{}, fmt.Errorf("invalid qualified id %q: want owner.Name+alias", id)
	}
	return QualifiedID{
		Owner: id[:dot],
		Name:  id[dot+1 : plus],
		Alias: id[plus+1:],
	}, nil
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logging.ServiceLogger(&logger, "aps", serviceName) }
}

// WithRegion selects the Design Automation region (e.g. "us-east", "eu-west").
func WithRegion(region string) Option {
	return func(s *Service) { s.basePath = "/da/" + region + "/v3" }
}

// WithCache remembers terminal work items. scope separates callers.
func WithCache(m *cache.Manager, scope string) Option {
	return func(s *Service) {
		s.cache = m
		s.cacheScope = scope
	}
}

// WithPoller overrides the work item poll configuration.
func WithPoller(cfg poll.Config) Option {
	return func(s *Service) { s.pollConfig = cfg }
}

// WithWebSocketURL overrides the push endpoint.
func WithWebSocketURL(u string) Option {
	return func(s *Service) { s.wsURL = u }
}

// WithCollectOptions applies pagination options to every list call.
func WithCollectOptions(opts ...pagination.Option) Option {
	return func(s *Service) { s.collectOpts = append(s.collectOpts, opts...) }
}

// Service calls Design Automation endpoints.
type Service struct {
	client      *client.Client
	basePath    string
	wsURL       string
	logger      zerolog.Logger
	pollConfig  poll.Config
	poller      *poll.Poller
	cache       *cache.Manager
	cacheScope  string
	collectOpts []pagination.Option
}

// New creates a Design Automation service on top of c.
func New(c *client.Client, opts ...Option) *Service {
	s := &Service{
		client:     c,
		basePath:   "/da/" + DefaultRegion + "/v3",
		wsURL:      DefaultWebSocketURL,
		logger:     logging.ServiceLogger(nil, "aps", serviceName),
		pollConfig: poll.Config{Interval: DefaultPollInterval, Kind: "workitem"},
	}
	for _, opt := range opts {
		opt(s)
	}
	if len(s.pollConfig.States) == 0 {
		s.pollConfig.States = Statuses
	}
	s.poller = poll.New(s.pollConfig, &s.logger)
	return s
}

// BasePath returns the regional API root.
func (s *Service) BasePath() string {
	return s.basePath
}

func (s *Service) get(ctx context.Context, token, path string, out any) error {
	return s.client.Do(ctx, client.Request{
		Method:  http.MethodGet,
		Path:    s.basePath + path,
		Token:   token,
		Service: serviceName,
	}, out)
}

func (s *Service) send(ctx context.Context, method, token, path string, body, out any) error {
	return s.client.Do(ctx, client.Request{
		Method:  method,
		Path:    s.basePath + path,
		Token:   token,
		Service: serviceName,
		JSON:    body,
	}, out)
}

// remove issues a DELETE answered with 204.
func (s *Service) remove(ctx context.Context, token, path string) error {
	_, err := s.client.Execute(ctx, client.Request{
		Method:  http.MethodDelete,
		Path:    s.basePath + path,
		Token:   token,
		Service: serviceName,
		Accept:  client.Expect(http.StatusNoContent),
	})
	return err
}

// collect walks a list using the ?page= continuation token.
func collect[T any](ctx context.Context, s *Service, name, token, path string) ([]T, error) {
	fetch := func(ctx context.Context, page string) (pagination.Page[T], error) {
		target := path
		if page != "" {
			target += "?page=" + url.QueryEscape(page)
		}
		var resp listPage[T]
		if err := s.get(ctx, token, target, &resp); err != nil {
			return pagination.Page[T]{}, err
		}
		return pagination.Page[T]{Items: resp.Data, Token: resp.PaginationToken}, nil
	}

	opts := append([]pagination.Option{pagination.WithName(name), pagination.WithLogger(s.logger)}, s.collectOpts...)
	return pagination.CollectAll(ctx, fetch, opts...)
}

// Nickname returns the application nickname (or client id when unset).
func (s *Service) Nickname(ctx context.Context, token string) (string, error) {
	var nickname string
	if err := s.get(ctx, token, "/forgeapps/me", &nickname); err != nil {
		return "", fmt.Errorf("get nickname: %w", err)
	}
	return nickname, nil
}

// SetNickname assigns the application nickname.
func (s *Service) SetNickname(ctx context.Context, token, nickname string) error {
	if nickname == "" {
		return fmt.Errorf("nickname is required")
	}
	if err := s.send(ctx, http.MethodPatch, token, "/forgeapps/me", map[string]string{"nickname": nickname}, nil); err != nil {
		return fmt.Errorf("set nickname: %w", err)
	}
	return nil
}

// DeleteNickname removes the nickname and every app bundle and activity.
func (s *Service) DeleteNickname(ctx context.Context, token string) error {
	_, err := s.client.Execute(ctx, client.Request{
		Method:  http.MethodDelete,
		Path:    s.basePath + "/forgeapps/me",
		Token:   token,
		Service: serviceName,
		Accept:  client.Expect(http.StatusOK, http.StatusNoContent),
	})
	if err != nil {
		return fmt.Errorf("delete nickname: %w", err)
	}
	return nil
}

// Engines lists every engine id.
func (s *Service) Engines(ctx context.Context, token string) ([]string, error) {
	return collect[string](ctx, s, "da.engines", token, "/engines")
}

// ServiceLimits returns the application quotas.
func (s *Service) ServiceLimits(ctx context.Context, token string) (*ServiceLimits, error) {
	var limits ServiceLimits
	if err := s.get(ctx, token, "/servicelimits/me", &limits); err != nil {
		return nil, fmt.Errorf("get service limits: %w", err)
	}
	return &limits, nil
}

// Shares lists the shares owned by the application.
func (s *Service) Shares(ctx context.Context, token string) ([]map[string]any, error) {
	return collect[map[string]any](ctx, s, "da.shares", token, "/shares")
}
