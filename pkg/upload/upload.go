// Package upload runs the three-step signed-URL upload saga used by OSS:
// request signed URL(s), PUT the bytes to each, then complete the upload.
//
// The saga is not idempotent. Complete is attempted at most once per upload
// key. A failed transfer or completion leaves the session Abandoned: the
// remote store keeps an incomplete upload that expires on its own. No
// compensating action is taken here; the AbandonedError carries the upload
// and object keys for reconciliation.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/aps-client/pkg/client"
	"github.com/Sternrassler/aps-client/pkg/logging"
)

// State is the saga state.
type State string

const (
	StateRequesting   State = "requesting"
	StateTransferring State = "transferring"
	StateCompleting   State = "completing"
	StateCommitted    State = "committed"
	StateAbandoned    State = "abandoned"
)

// SinglePart is the only part count this orchestrator issues.
const SinglePart = 1

var apsUploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "aps_uploads_total",
	Help: "Signed uploads by outcome (committed, setup_failed, abandoned_transfer, abandoned_completion)",
}, []string{"outcome"})

var apsUploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "aps_upload_bytes_total",
	Help: "Bytes transferred by committed signed uploads",
})

// Grant is the result of requesting a signed upload.
type Grant struct {
	UploadKey string
	URLs      []string
}

// Object describes the committed object.
type Object struct {
	BucketKey   string `json:"bucketKey"`
	ObjectKey   string `json:"objectKey"`
	ObjectID    string `json:"objectId"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
	Location    string `json:"location"`
}

// Session is the remote side of one upload.
type Session interface {
	// RequestUpload obtains an upload key and parts destination URLs.
	RequestUpload(ctx context.Context, parts int) (*Grant, error)

	// Transfer PUTs size bytes from body to a destination URL.
	Transfer(ctx context.Context, url string, body io.Reader, size int64) error

	// CompleteUpload finalizes the upload identified by uploadKey.
	CompleteUpload(ctx context.Context, uploadKey string, size int64) (*Object, error)
}

// Payload is the object content. ReaderAt lets each transfer read its own range.
type Payload struct {
	Reader io.ReaderAt
	Size   int64
}

// BytesPayload wraps an in-memory payload.
func BytesPayload(data []byte) Payload {
	return Payload{Reader: bytes.NewReader(data), Size: int64(len(data))}
}

// Result is returned for a committed upload.
type Result struct {
	State     State
	ObjectKey string
	UploadKey string
	Object    *Object
	Duration  time.Duration
}

// AbandonedError reports a session left incomplete after setup succeeded.
type AbandonedError struct {
	// Stage is ErrUploadTransferFailed or ErrUploadCompletionFailed.
	Stage     error
	ObjectKey string
	UploadKey string
	Err       error
}

// Error implements the error interface.
func (e *AbandonedError) Error() string {
	return fmt.Sprintf("upload %s abandoned (upload key %s): %v: %v", e.ObjectKey, e.UploadKey, e.Stage, e.Err)
}

// Unwrap exposes both the stage sentinel and the cause.
func (e *AbandonedError) Unwrap() []error {
	return []error{e.Stage, e.Err}
}

// State returns StateAbandoned.
func (e *AbandonedError) State() State {
	return StateAbandoned
}

// Orchestrator runs upload sagas.
type Orchestrator struct {
	logger zerolog.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(logger *zerolog.Logger) *Orchestrator {
	return &Orchestrator{logger: logging.Subsystem(logger, "upload")}
}

// Upload runs the saga for objectKey.
func (o *Orchestrator) Upload(ctx context.Context, session Session, objectKey string, payload Payload) (*Result, error) {
	if payload.Reader == nil {
		return nil, fmt.Errorf("upload %s: %w: payload is required", objectKey, client.ErrUploadSetupFailed)
	}

	start := time.Now()
	logger := o.logger.With().Str("object_key", objectKey).Int64("size", payload.Size).Logger()

	// Requesting
	logger.Debug().Str("state", string(StateRequesting)).Msg("Requesting signed upload")
	grant, err := session.RequestUpload(ctx, SinglePart)
	if err != nil {
		apsUploadsTotal.WithLabelValues("setup_failed").Inc()
		return nil, fmt.Errorf("upload %s: %w: %w", objectKey, client.ErrUploadSetupFailed, err)
	}
	if grant == nil || grant.UploadKey == "" {
		apsUploadsTotal.WithLabelValues("setup_failed").Inc()
		return nil, fmt.Errorf("upload %s: %w: upload key missing", objectKey, client.ErrUploadSetupFailed)
	}
	if len(grant.URLs) != SinglePart {
		apsUploadsTotal.WithLabelValues("setup_failed").Inc()
		logger.Warn().
			Int("urls", len(grant.URLs)).
			Int("expected", SinglePart).
			Msg("Signed URL count mismatch")
		return nil, fmt.Errorf("upload %s: %w: got %d urls, want %d",
			objectKey, client.ErrUploadSetupFailed, len(grant.URLs), SinglePart)
	}

	logger = logger.With().Str("upload_key", grant.UploadKey).Logger()

	// Transferring
	logger.Debug().Str("state", string(StateTransferring)).Msg("Transferring parts")
	for i, url := range grant.URLs {
		part := io.NewSectionReader(payload.Reader, 0, payload.Size)
		if err := session.Transfer(ctx, url, part, payload.Size); err != nil {
			apsUploadsTotal.WithLabelValues("abandoned_transfer").Inc()
			logger.Warn().Err(err).Int("part", i+1).Str("state", string(StateAbandoned)).Msg("Part transfer failed, session abandoned")
			return nil, &AbandonedError{
				Stage:     client.ErrUploadTransferFailed,
				ObjectKey: objectKey,
				UploadKey: grant.UploadKey,
				Err:       err,
			}
		}
	}

	// Completing, exactly one attempt
	logger.Debug().Str("state", string(StateCompleting)).Msg("Completing upload")
	obj, err := session.CompleteUpload(ctx, grant.UploadKey, payload.Size)
	if err != nil {
		apsUploadsTotal.WithLabelValues("abandoned_completion").Inc()
		logger.Warn().Err(err).Str("state", string(StateAbandoned)).Msg("Upload completion failed, session abandoned")
		return nil, &AbandonedError{
			Stage:     client.ErrUploadCompletionFailed,
			ObjectKey: objectKey,
			UploadKey: grant.UploadKey,
			Err:       err,
		}
	}

	apsUploadsTotal.WithLabelValues("committed").Inc()
	apsUploadBytesTotal.Add(float64(payload.Size))
	logger.Info().
		Str("state", string(StateCommitted)).
		Dur("duration", time.Since(start)).
		Msg("Upload committed")

	return &Result{
		State:     StateCommitted,
		ObjectKey: objectKey,
		UploadKey: grant.UploadKey,
		Object:    obj,
		Duration:  time.Since(start),
	}, nil
}

// IsAbandoned reports whether err left a remote session incomplete.
func IsAbandoned(err error) bool {
	var abandoned *AbandonedError
	return errors.As(err, &abandoned)
}
