// Package quoteapi is the request/response client for the quote backend.
package quoteapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/zhouzirui/quotesync/internal/logger"
	"github.com/zhouzirui/quotesync/internal/model/quote"
)

// ErrUnauthorized is returned for 401 responses.
var ErrUnauthorized = errors.New("unauthorized")

// StatusError is returned for any other non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Body)
}

// TokenSource supplies the bearer token attached to each request.
type TokenSource interface {
	Token() string
}

// Options configures a Client.
type Options struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	// OnUnauthorized runs after a 401 response, typically forcing logout.
	OnUnauthorized func()
}

// Client talks to the quote REST endpoints.
type Client struct {
	baseURL        string
	http           *http.Client
	tokens         TokenSource
	onUnauthorized func()
	tracer         trace.Tracer
	logger         *zap.Logger
}

// LoginResponse is the token pair returned by /auth/login.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// New creates a client for baseURL. tokens may be nil for anonymous use.
func New(baseURL string, tokens TokenSource, opts *Options, log *zap.Logger) *Client {
	if opts == nil {
		opts = &Options{}
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           httpClient,
		tokens:         tokens,
		onUnauthorized: opts.OnUnauthorized,
		tracer:         otel.Tracer("github.com/zhouzirui/quotesync/internal/quoteapi"),
		logger:         logger.OrNop(log).With(zap.String("module", "quoteapi")),
	}
}

// Fetch loads a session. An empty sessionID asks the server for its default.
func (c *Client) Fetch(ctx context.Context, sessionID string) (*quote.Session, error) {
	ctx, span := c.tracer.Start(ctx, "quoteapi.Fetch", trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	path := "/quote"
	if sessionID != "" {
		path += "?" + url.Values{"sessionId": {sessionID}}.Encode()
	}

	var session quote.Session
	if err := c.do(ctx, http.MethodGet, path, nil, &session); err != nil {
		return nil, traceErr(span, err)
	}
	if err := quote.Validate(&session); err != nil {
		return nil, traceErr(span, err)
	}
	return &session, nil
}

// Save persists a session and returns the server's canonical copy.
func (c *Client) Save(ctx context.Context, session *quote.Session) (*quote.Session, error) {
	ctx, span := c.tracer.Start(ctx, "quoteapi.Save", trace.WithAttributes(attribute.String("session.id", session.ID)))
	defer span.End()

	var saved quote.Session
	if err := c.do(ctx, http.MethodPost, "/quote", session, &saved); err != nil {
		return nil, traceErr(span, err)
	}
	if err := quote.Validate(&saved); err != nil {
		return nil, traceErr(span, err)
	}
	return &saved, nil
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (LoginResponse, error) {
	ctx, span := c.tracer.Start(ctx, "quoteapi.Login", trace.WithAttributes(attribute.String("user", username)))
	defer span.End()

	body := map[string]string{"username": username, "password": password}
	var resp LoginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, &resp); err != nil {
		return LoginResponse{}, traceErr(span, err)
	}
	if resp.AccessToken == "" {
		return LoginResponse{}, traceErr(span, errors.New("login response carried no access token"))
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.logger.Warn("request unauthorized", zap.String("method", method), zap.String("path", path))
		if c.onUnauthorized != nil {
			c.onUnauthorized()
		}
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(text))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func traceErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
