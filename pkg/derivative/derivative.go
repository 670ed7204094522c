// Package derivative wraps the APS Model Derivative v2 API: translation jobs
// and manifest polling.
package derivative

import (
	"context"
	"encoding/base64"
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
	"github.com/Sternrassler/aps-client/pkg/poll"
)

const serviceName = "derivative"

const (
	// BasePath is the Model Derivative API root.
	BasePath = "/modelderivative/v2"

	// DefaultPollInterval is the delay between manifest fetches.
	DefaultPollInterval = 10 * time.Second

	// DefaultRegion is the output storage region.
	DefaultRegion = "us"
)

// Manifest states. Everything but pending and inprogress is terminal.
const (
	StatusPending    = poll.StatePending
	StatusInProgress = poll.StateInProgress
	StatusSuccess    = poll.State("success")
	StatusFailed     = poll.State("failed")
	StatusTimeout    = poll.State("timeout")
)

// Statuses is every state a manifest reports.
var Statuses = []poll.State{StatusPending, StatusInProgress, StatusSuccess, StatusFailed, StatusTimeout}

// ErrInvalidJob is returned for a translation job missing its input or formats.
var ErrInvalidJob = errors.New("invalid translation job")

// EncodeURN turns an object id into the URL-safe, unpadded base64 form the
// Model Derivative API expects.
func EncodeURN(objectID string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(objectID))
}

// DecodeURN reverses EncodeURN. Padded input is accepted.
func DecodeURN(urn string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(urn, "="))
	if err != nil {
		return "", fmt.Errorf("decode urn: %w", err)
	}
	return string(b), nil
}

// Input selects the source model.
type Input struct {
	URN           string `json:"urn"`
	RootFilename  string `json:"rootFilename,omitempty"`
	CompressedURN bool   `json:"compressedUrn,omitempty"`
}

// Format is one requested output format.
type Format struct {
	Type     string         `json:"type"`
	Views    []string       `json:"views,omitempty"`
	Advanced map[string]any `json:"advanced,omitempty"`
}

// Job is a translation request.
type Job struct {
	Input   Input
	Formats []Format

	// Region is the output destination; DefaultRegion when empty.
	Region string

	// Force regenerates derivatives that already exist.
	Force bool
}

// SVF2 requests a viewer-ready SVF2 derivative with 2D and 3D views.
func SVF2() Format {
	return Format{Type: "svf2", Views: []string{"2d", "3d"}}
}

// STL requests a single binary STL file with colors.
func STL() Format {
	return Format{Type: "stl", Advanced: map[string]any{
		"format":              "binary",
		"exportColor":         true,
		"exportFileStructure": "single",
	}}
}

type jobBody struct {
	Input  Input `json:"input"`
	Output struct {
		Destination struct {
			Region string `json:"region"`
		} `json:"destination"`
		Formats []Format `json:"formats"`
	} `json:"output"`
}

// JobResult is the response to a translation request.
type JobResult struct {
	Result       string `json:"result"`
	URN          string `json:"urn"`
	AcceptedJobs any    `json:"acceptedJobs,omitempty"`
}

// Derivative is one output entry of a manifest.
type Derivative struct {
	Name         string         `json:"name,omitempty"`
	OutputType   string         `json:"outputType"`
	Status       poll.State     `json:"status"`
	Progress     string         `json:"progress,omitempty"`
	HasThumbnail string         `json:"hasThumbnail,omitempty"`
	Children     []ManifestNode `json:"children,omitempty"`
}

// ManifestNode is a node in the derivative tree.
type ManifestNode struct {
	GUID     string         `json:"guid"`
	Type     string         `json:"type"`
	Role     string         `json:"role,omitempty"`
	Name     string         `json:"name,omitempty"`
	Status   string         `json:"status,omitempty"`
	URN      string         `json:"urn,omitempty"`
	Children []ManifestNode `json:"children,omitempty"`
}

// Manifest is the translation status of a source model.
type Manifest struct {
	URN          string       `json:"urn"`
	Type         string       `json:"type"`
	Region       string       `json:"region,omitempty"`
	Status       poll.State   `json:"status"`
	Progress     string       `json:"progress"`
	HasThumbnail string       `json:"hasThumbnail,omitempty"`
	Derivatives  []Derivative `json:"derivatives,omitempty"`
}

// JobID implements poll.Snapshot.
func (m Manifest) JobID() string { return m.URN }

// JobState implements poll.Snapshot.
func (m Manifest) JobState() poll.State { return m.Status }

// Succeeded reports whether the translation finished successfully.
func (m Manifest) Succeeded() bool { return m.Status == StatusSuccess }

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logging.ServiceLogger(&logger, "aps", serviceName) }
}

// WithCache remembers terminal manifests. scope separates callers.
func WithCache(m *cache.Manager, scope string) Option {
	return func(s *Service) {
		s.cache = m
		s.cacheScope = scope
	}
}

// WithPoller overrides the manifest poll configuration.
func WithPoller(cfg poll.Config) Option {
	return func(s *Service) { s.pollConfig = cfg }
}

// Service calls Model Derivative endpoints.
type Service struct {
	client     *client.Client
	logger     zerolog.Logger
	pollConfig poll.Config
	poller     *poll.Poller
	cache      *cache.Manager
	cacheScope string
}

// New creates a Model Derivative service on top of c.
func New(c *client.Client, opts ...Option) *Service {
	s := &Service{
		client:     c,
		logger:     logging.ServiceLogger(nil, "aps", serviceName),
		pollConfig: poll.Config{Interval: DefaultPollInterval, Kind: "translation"},
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

// Translate starts a translation job. The API answers 200 for a new job and
// 201 when the derivatives already exist.
func (s *Service) Translate(ctx context.Context, token string, job Job) (*JobResult, error) {
	if job.Input.URN == "" {
		return nil, fmt.Errorf("%w: input urn is required", ErrInvalidJob)
	}
	if len(job.Formats) == 0 {
		return nil, fmt.Errorf("%w: at least one output format is required", ErrInvalidJob)
	}

	var body jobBody
	body.Input = job.Input
	body.Output.Destination.Region = job.Region
	if body.Output.Destination.Region == "" {
		body.Output.Destination.Region = DefaultRegion
	}
	body.Output.Formats = job.Formats

	header := http.Header{}
	if job.Force {
		header.Set("x-ads-force", "true")
	}

	resp, err := s.client.Execute(ctx, client.Request{
		Method:  http.MethodPost,
		Path:    BasePath + "/designdata/job",
		Token:   token,
		Header:  header,
		JSON:    body,
		Accept:  client.Expect(http.StatusOK, http.StatusCreated),
		Service: serviceName,
	})
	if err != nil {
		return nil, fmt.Errorf("translate %s: %w", job.Input.URN, err)
	}
	// A new job supersedes any terminal manifest cached for this urn.
	s.forget(ctx, job.Input.URN)

	var result JobResult
	if err := resp.Decode(&result); err != nil {
		return nil, fmt.Errorf("translate %s: %w", job.Input.URN, err)
	}

	s.logger.Info().
		Str(logging.FieldURN, job.Input.URN).
		Str("result", result.Result).
		Int("formats", len(job.Formats)).
		Msg("Translation job accepted")
	return &result, nil
}

// Manifest fetches the translation manifest of urn.
func (s *Service) Manifest(ctx context.Context, token, urn string) (*Manifest, error) {
	if urn == "" {
		return nil, fmt.Errorf("urn is required")
	}
	var m Manifest
	err := s.client.Do(ctx, client.Request{
		Method:  http.MethodGet,
		Path:    BasePath + "/designdata/" + url.PathEscape(urn) + "/manifest",
		Token:   token,
		Service: serviceName,
	}, &m)
	if err != nil {
		return nil, fmt.Errorf("get manifest %s: %w", urn, err)
	}
	if m.URN == "" {
		m.URN = urn
	}
	return &m, nil
}

// DeleteManifest removes all derivatives of urn.
func (s *Service) DeleteManifest(ctx context.Context, token, urn string) error {
	if urn == "" {
		return fmt.Errorf("urn is required")
	}
	_, err := s.client.Execute(ctx, client.Request{
		Method:  http.MethodDelete,
		Path:    BasePath + "/designdata/" + url.PathEscape(urn) + "/manifest",
		Token:   token,
		Service: serviceName,
	})
	if err != nil {
		return fmt.Errorf("delete manifest %s: %w", urn, err)
	}
	s.forget(ctx, urn)
	return nil
}

// WaitForTranslation polls the manifest of urn until it is terminal. A
// failed or timed out translation is returned without error.
func (s *Service) WaitForTranslation(ctx context.Context, token, urn string) (*Manifest, error) {
	if urn == "" {
		return nil, fmt.Errorf("urn is required")
	}

	key := s.manifestKey(urn)
	if m, ok := s.cached(ctx, key); ok {
		return m, nil
	}

	fetch := func(ctx context.Context, urn string) (Manifest, error) {
		m, err := s.Manifest(ctx, token, urn)
		if err != nil {
			return Manifest{}, err
		}
		return *m, nil
	}

	m, err := poll.Until(ctx, s.poller, fetch, urn)
	if err != nil {
		return nil, err
	}

	s.store(ctx, key, m)
	return &m, nil
}

func (s *Service) manifestKey(urn string) cache.Key {
	return cache.Key{Service: serviceName, Kind: "manifest", ID: urn, Scope: s.cacheScope}
}

func (s *Service) forget(ctx context.Context, urn string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, s.manifestKey(urn)); err != nil {
		s.logger.Warn().Err(err).Str(logging.FieldURN, urn).Msg("Manifest cache invalidation failed")
	}
}

func (s *Service) cached(ctx context.Context, key cache.Key) (*Manifest, bool) {
	if s.cache == nil {
		return nil, false
	}
	entry, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn().Err(err).Str(logging.FieldURN, key.ID).Msg("Manifest cache read failed")
		}
		return nil, false
	}
	var m Manifest
	if err := entry.Decode(&m); err != nil {
		return nil, false
	}
	return &m, true
}

func (s *Service) store(ctx context.Context, key cache.Key, m Manifest) {
	if s.cache == nil || !m.Status.Terminal() {
		return
	}
	entry, err := cache.NewEntry(m, string(m.Status), 0)
	if err == nil {
		err = s.cache.Set(ctx, key, entry)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str(logging.FieldURN, m.URN).Msg("Manifest cache write failed")
	}
}
