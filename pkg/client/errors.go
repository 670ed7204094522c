package client

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the executor, collector, poller and upload saga.
// Callers match with errors.Is.
var (
	// ErrMissingCredential is returned before any network call when a
	// required token or parameter is absent.
	ErrMissingCredential = errors.New("missing credential")

	// ErrHTTPStatus is matched by every *HTTPStatusError.
	ErrHTTPStatus = errors.New("unexpected http status")

	// ErrPaginationAborted is returned when a page fetch fails mid-collection.
	// Items collected before the failure are discarded.
	ErrPaginationAborted = errors.New("pagination aborted")

	// ErrPollFailure is returned when fetching a job status fails during polling.
	// It is distinct from a job reaching a terminal failure state.
	ErrPollFailure = errors.New("poll failure")

	// ErrUploadSetupFailed is returned when the signed upload could not be requested.
	ErrUploadSetupFailed = errors.New("upload setup failed")

	// ErrUploadTransferFailed is returned when a part PUT failed. The session is abandoned.
	ErrUploadTransferFailed = errors.New("upload transfer failed")

	// ErrUploadCompletionFailed is returned when finalizing the upload failed. The session is abandoned.
	ErrUploadCompletionFailed = errors.New("upload completion failed")

	// ErrTimeout is returned when a caller-imposed deadline elapsed during
	// collection or polling.
	ErrTimeout = errors.New("timeout")

	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")
)

// HTTPStatusError is returned when a response status is outside the
// accepted set of the call site.
type HTTPStatusError struct {
	StatusCode int
	Status     string
	Method     string
	URL        string
	ErrorClass ErrorClass

	// Reason is the diagnostic extracted from a JSON error body, if any.
	Reason string

	// Body is the raw response body (JSON or otherwise).
	Body []byte
}

// Error implements the error interface.
func (e *HTTPStatusError) Error() string {
	msg := e.Reason
	if msg == "" {
		msg = string(e.Body)
	}
	if msg == "" {
		msg = e.Status
	}
	return fmt.Sprintf("APS %s error (status %d) %s %s: %s",
		e.ErrorClass, e.StatusCode, e.Method, e.URL, msg)
}

// Is reports whether target is ErrHTTPStatus.
func (e *HTTPStatusError) Is(target error) bool {
	return target == ErrHTTPStatus
}

// StatusCode extracts the HTTP status from err, or 0 if err does not carry one.
func StatusCode(err error) int {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}

// shouldRetry determines if an error class is worth retrying.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient:
		// 4xx are caller mistakes
		return false
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		return false
	}
}

// TimeoutError wraps a context cancellation or deadline as ErrTimeout.
func TimeoutError(op string, ctxErr error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTimeout, ctxErr)
}
