// Package testutil provides testing utilities for the APS client.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock APS endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// RecordedRequest is a request seen by the mock.
type RecordedRequest struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

// MockAPS is a configurable mock APS server for testing.
// Handlers are keyed by "METHOD /path" or by "/path" for any method.
type MockAPS struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc
	requests []RecordedRequest
}

// NewMockAPS creates a new mock APS server.
func NewMockAPS() *MockAPS {
	mock := &MockAPS{
		handlers: make(map[string]http.HandlerFunc),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		mock.mu.Lock()
		mock.requests = append(mock.requests, RecordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Header: r.Header.Clone(),
			Body:   body,
		})
		handler, exists := mock.handlers[r.Method+" "+r.URL.Path]
		if !exists {
			handler, exists = mock.handlers[r.URL.Path]
		}
		mock.mu.Unlock()

		r.Body = io.NopCloser(bytes.NewReader(body))

		if exists {
			handler(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"reason":"no mock handler for ` + r.Method + " " + r.URL.Path + `"}`))
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockAPS) URL() string {
	return m.server.URL
}

// Client returns an HTTP client wired to the mock server.
func (m *MockAPS) Client() *http.Client {
	return m.server.Client()
}

// Close shuts down the mock server.
func (m *MockAPS) Close() {
	m.server.Close()
}

// Reset clears recorded requests.
func (m *MockAPS) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
}

// SetHandler sets a custom handler for a pattern ("GET /x" or "/x").
func (m *MockAPS) SetHandler(pattern string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[pattern] = handler
}

// SetResponse configures a fixed response for a pattern.
func (m *MockAPS) SetResponse(pattern string, resp MockResponse) {
	m.SetHandler(pattern, resp.write)
}

// SetSequence replays responses in order; the last one repeats.
func (m *MockAPS) SetSequence(pattern string, responses ...MockResponse) {
	var mu sync.Mutex
	next := 0
	m.SetHandler(pattern, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		resp := responses[next]
		if next < len(responses)-1 {
			next++
		}
		mu.Unlock()
		resp.write(w, r)
	})
}

// Requests returns a copy of all recorded requests.
func (m *MockAPS) Requests() []RecordedRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RecordedRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// RequestsTo returns recorded requests for one method and path.
func (m *MockAPS) RequestsTo(method, path string) []RecordedRequest {
	var out []RecordedRequest
	for _, r := range m.Requests() {
		if r.Method == method && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockAPS) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

func (resp MockResponse) write(w http.ResponseWriter, r *http.Request) {
	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-r.Context().Done():
			return
		}
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// NewJSONResponse creates a 200 response with v encoded as JSON.
func NewJSONResponse(v any) MockResponse {
	return NewJSONStatusResponse(http.StatusOK, v)
}

// NewJSONStatusResponse creates a response with the given status and JSON body.
func NewJSONStatusResponse(status int, v any) MockResponse {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return MockResponse{
		StatusCode: status,
		Body:       string(data),
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewNoContentResponse creates a 204 response.
func NewNoContentResponse() MockResponse {
	return MockResponse{StatusCode: http.StatusNoContent}
}

// NewErrorResponse creates an APS-style error body with a reason.
func NewErrorResponse(status int, reason string) MockResponse {
	return NewJSONStatusResponse(status, map[string]string{"reason": reason})
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfter int) MockResponse {
	resp := NewErrorResponse(http.StatusTooManyRequests, "Too many requests")
	resp.Headers["Retry-After"] = strconv.Itoa(retryAfter)
	return resp
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return NewErrorResponse(http.StatusInternalServerError, "Internal server error")
}
