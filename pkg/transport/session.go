// Package transport is the thin HTTP layer between the protocol adapter and
// a PIMS server: an authenticated session doing JSON GETs and POSTs, plus the
// classifier that turns failure responses into the client's error taxonomy.
// Nothing above this package sees status codes or raw bodies.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"pims/pkg/auth"
	dErrors "pims/pkg/domain-errors"
)

const defaultTimeout = 30 * time.Second

// Session is an authenticated connection to one PIMS server. Safe for
// concurrent use.
type Session struct {
	baseURL string
	client  *http.Client
	tokens  auth.TokenProvider
	logger  *slog.Logger
}

// Option configures a Session.
type Option func(*Session)

// WithHTTPClient swaps the underlying http.Client, e.g. to set timeouts or a
// custom transport.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Session) { s.client = client }
}

// WithLogger injects a structured logger; defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// NewSession creates a session against the API at baseURL, authenticating
// every request through the token provider.
func NewSession(baseURL string, tokens auth.TokenProvider, opts ...Option) (*Session, error) {
	if baseURL == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "base URL is required")
	}
	if tokens == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "token provider is required")
	}
	s := &Session{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultTimeout},
		tokens:  tokens,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// BaseURL returns the server URL this session talks to, without a trailing
// slash.
func (s *Session) BaseURL() string {
	return s.baseURL
}

// Get performs an authenticated GET and returns the raw response body after
// classification.
func (s *Session) Get(ctx context.Context, path string) (json.RawMessage, error) {
	return s.do(ctx, http.MethodGet, path, nil, nil)
}

// Post performs an authenticated POST with optional query parameters and an
// optional JSON body, returning the raw response body after classification.
func (s *Session) Post(ctx context.Context, path string, params url.Values, body any) (json.RawMessage, error) {
	return s.do(ctx, http.MethodPost, path, params, body)
}

func (s *Session) do(ctx context.Context, method, path string, params url.Values, body any) (json.RawMessage, error) {
	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "marshal request body")
		}
		bodyReader = bytes.NewReader(payload)
	}

	fullURL := s.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "build request")
	}

	token, err := s.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, dErrors.Wrapf(err, dErrors.CodeTransport,
			"%s %s failed", method, path)
	}
	defer resp.Body.Close()

	payload, err := CheckResponse(resp)
	s.logger.Debug("pims request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
		"request_id", requestID,
	)
	return payload, err
}

// Decode unmarshals a classified response body into v. A body that does not
// fit the expected shape is a server fault, not a transport one.
func Decode(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return dErrors.Wrap(err, dErrors.CodeServer, "response did not match expected shape")
	}
	return nil
}
