package session

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	retry "github.com/appleboy/go-httpretry"
)

// defaultRequestTimeout bounds every network call, including token refresh.
const defaultRequestTimeout = 10 * time.Second

// Request describes one outbound API call.
type Request struct {
	Method string
	Path   string
	Body   any // marshaled as JSON when non-nil
	Header http.Header

	// noAuth skips Authorization attachment; a 401 on such a request is a
	// rejected credential, not an expired token.
	noAuth bool
	// noRefresh marks requests that must never trigger a token refresh:
	// the refresh call itself, logout, and push teardown.
	noRefresh bool
}

// Response is a fully-read API response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Transport is one HTTP client instance: a retrying client, a base URL, a
// bounded timeout, and a mutable default-header map. Several instances can
// share a session; the Manager keeps their Authorization headers in sync.
type Transport struct {
	baseURL    string
	client     *retry.Client
	timeout    time.Duration
	httpClient *http.Client

	mu      sync.Mutex
	headers map[string]string
}

// TransportOption customizes a Transport.
type TransportOption func(*Transport)

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) TransportOption {
	return func(t *Transport) { t.timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client. Retry handling is
// still layered on top.
func WithHTTPClient(c *http.Client) TransportOption {
	return func(t *Transport) { t.httpClient = c }
}

// NewTransport creates a Transport for the API rooted at baseURL.
func NewTransport(baseURL string, opts ...TransportOption) (*Transport, error) {
	t := &Transport{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: defaultRequestTimeout,
		headers: map[string]string{},
	}
	for _, opt := range opts {
		opt(t)
	}

	if t.httpClient == nil {
		t.httpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
				DisableKeepAlives:   false,
			},
		}
	}

	client, err := retry.NewBackgroundClient(
		retry.WithHTTPClient(t.httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retry client: %w", err)
	}
	t.client = client

	return t, nil
}

// SetHeader sets a default header applied to every request on this transport.
func (t *Transport) SetHeader(key, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.headers[key] = value
}

// DeleteHeader removes a default header.
func (t *Transport) DeleteHeader(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.headers, key)
}

// Header returns the current value of a default header, or "".
func (t *Transport) Header(key string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.headers[key]
}

func (t *Transport) defaultHeaders() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	headers := make(map[string]string, len(t.headers))
	for k, v := range t.headers {
		headers[k] = v
	}
	return headers
}

// send performs the HTTP exchange. Default headers are applied first, then
// per-request headers override them. The body is read fully so callers never
// hold an open connection.
func (t *Transport) send(ctx context.Context, req *Request) (*Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var bodyReader io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(
		reqCtx,
		req.Method,
		t.baseURL+req.Path,
		bodyReader,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range t.defaultHeaders() {
		httpReq.Header.Set(key, value)
	}
	for key, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Set(key, value)
		}
	}

	resp, err := t.client.DoWithContext(reqCtx, httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   body,
	}, nil
}
