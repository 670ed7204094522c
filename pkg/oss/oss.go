// Package oss wraps the APS Object Storage Service (buckets and objects).
package oss

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/aps-client/pkg/client"
	"github.com/Sternrassler/aps-client/pkg/logging"
	"github.com/Sternrassler/aps-client/pkg/pagination"
	"github.com/Sternrassler/aps-client/pkg/upload"
)

// BasePath is the OSS API root.
const BasePath = "/oss/v2"

const serviceName = "oss"

// URNPrefix prefixes every OSS object id.
const URNPrefix = "urn:adsk.objects:os.object:"

// Policy is a bucket retention policy.
type Policy string

const (
	PolicyTransient  Policy = "transient"
	PolicyTemporary  Policy = "temporary"
	PolicyPersistent Policy = "persistent"
)

// Policies lists the valid retention policies.
var Policies = []Policy{PolicyTransient, PolicyTemporary, PolicyPersistent}

// ParsePolicy validates a policy key.
func ParsePolicy(s string) (Policy, error) {
	for _, p := range Policies {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("invalid policy key: %q", s)
}

// Access is the permission of a signed URL.
type Access string

const (
	AccessRead      Access = "read"
	AccessWrite     Access = "write"
	AccessReadWrite Access = "readwrite"
)

// Bucket is an entry of the bucket list.
type Bucket struct {
	BucketKey   string `json:"bucketKey"`
	CreatedDate int64  `json:"createdDate"`
	PolicyKey   Policy `json:"policyKey"`
}

// Created returns CreatedDate (epoch millis) as a time.
func (b Bucket) Created() time.Time {
	return time.UnixMilli(b.CreatedDate)
}

// Permission grants an application access to a bucket.
type Permission struct {
	AuthID string `json:"authId"`
	Access string `json:"access"`
}

// BucketDetails is the full bucket description.
type BucketDetails struct {
	Bucket
	BucketOwner string       `json:"bucketOwner"`
	Permissions []Permission `json:"permissions"`
}

// Object is an OSS object.
type Object struct {
	BucketKey   string `json:"bucketKey"`
	ObjectKey   string `json:"objectKey"`
	ObjectID    string `json:"objectId"`
	SHA1        string `json:"sha1"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType,omitempty"`
	Location    string `json:"location,omitempty"`
}

// SignedURL is a pre-signed download/upload URL.
type SignedURL struct {
	SignedURL string `json:"signedUrl"`
	Size      int64  `json:"size,omitempty"`
	Expiry    int64  `json:"expiration,omitempty"`
}

// listPage is the OSS list envelope. Next is an absolute URL.
type listPage[T any] struct {
	Items []T    `json:"items"`
	Next  string `json:"next"`
}

// URN returns the object id of bucket/object.
func URN(bucketKey, objectKey string) string {
	return URNPrefix + bucketKey + "/" + objectKey
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logging.ServiceLogger(&logger, "aps", serviceName) }
}

// WithCollectOptions applies pagination options to every list call.
func WithCollectOptions(opts ...pagination.Option) Option {
	return func(s *Service) { s.collectOpts = append(s.collectOpts, opts...) }
}

// Service calls OSS endpoints.
type Service struct {
	client       *client.Client
	orchestrator *upload.Orchestrator
	logger       zerolog.Logger
	collectOpts  []pagination.Option
}

// New creates an OSS service on top of c.
func New(c *client.Client, opts ...Option) *Service {
	s := &Service{
		client: c,
		logger: logging.ServiceLogger(nil, "aps", serviceName),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.orchestrator = upload.NewOrchestrator(&s.logger)
	return s
}

func bucketPath(bucketKey string) string {
	return BasePath + "/buckets/" + url.PathEscape(bucketKey)
}

func objectPath(bucketKey, objectKey string) string {
	return bucketPath(bucketKey) + "/objects/" + url.PathEscape(objectKey)
}

// collect walks an OSS list, following the absolute next URL.
func collect[T any](ctx context.Context, s *Service, name, token, path string) ([]T, error) {
	fetch := func(ctx context.Context, next string) (pagination.Page[T], error) {
		req := client.Request{Method: http.MethodGet, Path: path, Token: token, Service: serviceName}
		if next != "" {
			if !strings.HasPrefix(next, s.client.BaseURL()+"/") {
				return pagination.Page[T]{}, fmt.Errorf("next link %q outside %s", next, s.client.BaseURL())
			}
			req.URL = next
		}

		var page listPage[T]
		if err := s.client.Do(ctx, req, &page); err != nil {
			return pagination.Page[T]{}, err
		}
		return pagination.Page[T]{Items: page.Items, Token: page.Next}, nil
	}

	opts := append([]pagination.Option{pagination.WithName(name), pagination.WithLogger(s.logger)}, s.collectOpts...)
	return pagination.CollectAll(ctx, fetch, opts...)
}

// ListBuckets returns every bucket visible to the token.
func (s *Service) ListBuckets(ctx context.Context, token string) ([]Bucket, error) {
	return collect[Bucket](ctx, s, "oss.buckets", token, BasePath+"/buckets")
}

// CreateBucket creates a bucket with full access for the calling application.
func (s *Service) CreateBucket(ctx context.Context, token, bucketKey string, policy Policy) (*BucketDetails, error) {
	if bucketKey == "" {
		return nil, fmt.Errorf("bucket key is required")
	}
	if _, err := ParsePolicy(string(policy)); err != nil {
		return nil, err
	}

	var details BucketDetails
	err := s.client.Do(ctx, client.Request{
		Method:  http.MethodPost,
		Path:    BasePath + "/buckets",
		Token:   token,
		Service: serviceName,
		JSON: map[string]string{
			"bucketKey": bucketKey,
			"access":    "full",
			"policyKey": string(policy),
		},
	}, &details)
	if err != nil {
		return nil, fmt.Errorf("create bucket %s: %w", bucketKey, err)
	}

	s.logger.Info().Str(logging.FieldBucket, bucketKey).Str("policy", string(policy)).Msg("Bucket created")
	return &details, nil
}

// BucketDetails returns the description of one bucket.
func (s *Service) BucketDetails(ctx context.Context, token, bucketKey string) (*BucketDetails, error) {
	var details BucketDetails
	err := s.client.Do(ctx, client.Request{
		Method:  http.MethodGet,
		Path:    bucketPath(bucketKey) + "/details",
		Token:   token,
		Service: serviceName,
	}, &details)
	if err != nil {
		return nil, fmt.Errorf("bucket details %s: %w", bucketKey, err)
	}
	return &details, nil
}

// HasBucket reports whether the bucket exists. 404 is false, not an error.
func (s *Service) HasBucket(ctx context.Context, token, bucketKey string) (bool, error) {
	resp, err := s.client.Execute(ctx, client.Request{
		Method:  http.MethodGet,
		Path:    bucketPath(bucketKey) + "/details",
		Token:   token,
		Service: serviceName,
		Accept:  client.Expect(http.StatusOK, http.StatusNotFound),
	})
	if err != nil {
		return false, fmt.Errorf("check bucket %s: %w", bucketKey, err)
	}
	return resp.StatusCode == http.StatusOK, nil
}

// DeleteBucket deletes a bucket and its objects.
func (s *Service) DeleteBucket(ctx context.Context, token, bucketKey string) error {
	if bucketKey == "" {
		return fmt.Errorf("bucket key is required")
	}
	_, err := s.client.Execute(ctx, client.Request{
		Method:  http.MethodDelete,
		Path:    bucketPath(bucketKey),
		Token:   token,
		Service: serviceName,
	})
	if err != nil {
		return fmt.Errorf("delete bucket %s: %w", bucketKey, err)
	}
	return nil
}

// ListObjects returns every object in a bucket.
func (s *Service) ListObjects(ctx context.Context, token, bucketKey string) ([]Object, error) {
	if bucketKey == "" {
		return nil, fmt.Errorf("bucket key is required")
	}
	return collect[Object](ctx, s, "oss.objects", token, bucketPath(bucketKey)+"/objects")
}

// ObjectDetails returns the description of one object.
func (s *Service) ObjectDetails(ctx context.Context, token, bucketKey, objectKey string) (*Object, error) {
	var obj Object
	err := s.client.Do(ctx, client.Request{
		Method:  http.MethodGet,
		Path:    objectPath(bucketKey, objectKey) + "/details",
		Token:   token,
		Service: serviceName,
	}, &obj)
	if err != nil {
		return nil, fmt.Errorf("object details %s/%s: %w", bucketKey, objectKey, err)
	}
	return &obj, nil
}

// SignedURL creates a temporary URL for the object. An empty access uses the
// service default (read).
func (s *Service) SignedURL(ctx context.Context, token, bucketKey, objectKey string, access Access) (*SignedURL, error) {
	path := objectPath(bucketKey, objectKey) + "/signed"
	if access != "" {
		path += "?access=" + url.QueryEscape(string(access))
	}

	var signed SignedURL
	err := s.client.Do(ctx, client.Request{
		Method:  http.MethodPost,
		Path:    path,
		Token:   token,
		Service: serviceName,
		JSON:    struct{}{},
	}, &signed)
	if err != nil {
		return nil, fmt.Errorf("signed url %s/%s: %w", bucketKey, objectKey, err)
	}
	return &signed, nil
}

// DeleteObject deletes one object.
func (s *Service) DeleteObject(ctx context.Context, token, bucketKey, objectKey string) error {
	if bucketKey == "" || objectKey == "" {
		return fmt.Errorf("bucket key and object key are required")
	}
	_, err := s.client.Execute(ctx, client.Request{
		Method:  http.MethodDelete,
		Path:    objectPath(bucketKey, objectKey),
		Token:   token,
		Service: serviceName,
	})
	if err != nil {
		return fmt.Errorf("delete object %s/%s: %w", bucketKey, objectKey, err)
	}
	return nil
}
