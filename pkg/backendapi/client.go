// Package backendapi is the HTTP client for the analysis backend's REST API.
//
// Every response is treated as JSON. Failures are reported in three kinds:
// transport (ErrTransport), non-2xx (*StatusError carrying the server's
// `detail`), and unparseable bodies (ErrMalformed). Nothing is retried.
package backendapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/batchdeck/pkg/batch"
)

const (
	// RequestIDHeader carries the correlation id on outgoing requests.
	RequestIDHeader = "X-Request-ID"

	maxBodyBytes = 4 << 20
)

// Config configures the backend client.
type Config struct {
	// BaseURL is the backend origin, e.g. http://localhost:8000.
	BaseURL string

	// Timeout bounds each request. Default: 15s
	Timeout time.Duration

	// RateLimit is the maximum requests per second. Zero means unlimited.
	RateLimit float64

	// UserAgent is sent on every request.
	UserAgent string
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:   "http://localhost:8000",
		Timeout:   15 * time.Second,
		RateLimit: 0,
		UserAgent: "batchdeck",
	}
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the logger used for per-request debug output.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// Client calls the analysis backend.
//
// Client is safe for concurrent use.
type Client struct {
	base      *url.URL
	http      *http.Client
	limiter   *rate.Limiter
	userAgent string
	logger    *zap.Logger
}

// New creates a client for cfg.BaseURL.
func New(cfg Config, opts ...Option) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, fmt.Errorf("backend base url is required")
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse backend base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("backend base url must be http or https: %q", raw)
	}
	base.Path = strings.TrimRight(base.Path, "/")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}

	c := &Client{
		base:      base,
		http:      &http.Client{Timeout: timeout},
		userAgent: cfg.UserAgent,
		logger:    zap.NewNop(),
	}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the backend origin.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Info fetches GET /api/info.
func (c *Client) Info(ctx context.Context) (*batch.SystemInfo, error) {
	var info batch.SystemInfo
	if err := c.do(ctx, "Info", http.MethodGet, "/api/info", nil, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// BatchStatus fetches GET /api/batch/status.
func (c *Client) BatchStatus(ctx context.Context) (*batch.Snapshot, error) {
	var snap batch.Snapshot
	if err := c.do(ctx, "BatchStatus", http.MethodGet, "/api/batch/status", nil, nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// BatchJobs fetches GET /api/batch/jobs. Zero skip/limit use the backend
// defaults.
func (c *Client) BatchJobs(ctx context.Context, skip, limit int) ([]batch.JobRecord, error) {
	q := url.Values{}
	if skip > 0 {
		q.Set("skip", strconv.Itoa(skip))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var jobs []batch.JobRecord
	if err := c.do(ctx, "BatchJobs", http.MethodGet, "/api/batch/jobs", q, nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// TriggerBatch posts POST /api/batch/trigger/{jobType}.
func (c *Client) TriggerBatch(ctx context.Context, jobType string) (*batch.TriggerResult, error) {
	jobType = strings.TrimSpace(jobType)
	if jobType == "" {
		return nil, fmt.Errorf("job type is required")
	}
	var res batch.TriggerResult
	path := "/api/batch/trigger/" + url.PathEscape(jobType)
	if err := c.do(ctx, "TriggerBatch", http.MethodPost, path, nil, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Users fetches GET /api/users/.
func (c *Client) Users(ctx context.Context) ([]batch.UserRecord, error) {
	var users []batch.UserRecord
	if err := c.do(ctx, "Users", http.MethodGet, "/api/users/", nil, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

type createUserRequest struct {
	Username string  `json:"username"`
	Email    *string `json:"email"`
}

// CreateUser posts POST /api/users/. An empty email is sent as null.
func (c *Client) CreateUser(ctx context.Context, username, email string) (*batch.UserRecord, error) {
	req := createUserRequest{Username: username}
	if e := strings.TrimSpace(email); e != "" {
		req.Email = &e
	}
	var user batch.UserRecord
	if err := c.do(ctx, "CreateUser", http.MethodPost, "/api/users/", nil, req, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// AnalysisKind selects one of the per-user analysis endpoints.
type AnalysisKind string

const (
	AnalysisAccuracy  AnalysisKind = "accuracy"
	AnalysisConfusion AnalysisKind = "confusion-patterns"
	AnalysisReport    AnalysisKind = "report"
)

// ParseAnalysisKind accepts the endpoint name or its short alias.
func ParseAnalysisKind(s string) (AnalysisKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "accuracy":
		return AnalysisAccuracy, nil
	case "confusion", "confusion-patterns":
		return AnalysisConfusion, nil
	case "report":
		return AnalysisReport, nil
	default:
		return "", fmt.Errorf("unknown analysis kind: %q", s)
	}
}

// Analysis fetches GET /api/analysis/users/{id}/{kind}?days=N.
func (c *Client) Analysis(ctx context.Context, kind AnalysisKind, userID int64, days int) (json.RawMessage, error) {
	q := url.Values{}
	if days > 0 {
		q.Set("days", strconv.Itoa(days))
	}
	path := fmt.Sprintf("/api/analysis/users/%d/%s", userID, kind)
	return c.raw(ctx, "Analysis", http.MethodGet, path, q)
}

// Accuracy fetches the accuracy analysis for a user.
func (c *Client) Accuracy(ctx context.Context, userID int64, days int) (json.RawMessage, error) {
	return c.Analysis(ctx, AnalysisAccuracy, userID, days)
}

// ConfusionPatterns fetches the confusion-pattern analysis for a user.
func (c *Client) ConfusionPatterns(ctx context.Context, userID int64, days int) (json.RawMessage, error) {
	return c.Analysis(ctx, AnalysisConfusion, userID, days)
}

// Report fetches the full report for a user.
func (c *Client) Report(ctx context.Context, userID int64, days int) (json.RawMessage, error) {
	return c.Analysis(ctx, AnalysisReport, userID, days)
}

// Health fetches GET /health.
func (c *Client) Health(ctx context.Context) (json.RawMessage, error) {
	return c.raw(ctx, "Health", http.MethodGet, "/health", nil)
}

// Raw performs a request and returns the untyped JSON body. path must
// already be escaped.
//
// On a non-2xx response the returned error is a *StatusError whose Body holds
// the response JSON, when there was any.
func (c *Client) Raw(ctx context.Context, method, path string) (json.RawMessage, error) {
	return c.raw(ctx, "Raw", method, path, nil)
}

func (c *Client) raw(ctx context.Context, op, method, path string, q url.Values) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, op, method, path, q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, q url.Values, body any, out any) error {
	wrap := func(err error) error {
		return &RequestError{Op: op, Method: method, Path: path, Err: err}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return wrap(fmt.Errorf("%w: %w", errCanceled, err))
		}
	}

	// path arrives escaped. Keep it as RawPath so segments are not escaped twice.
	u := *c.base
	u.RawPath = c.base.EscapedPath() + path
	unescaped, err := url.PathUnescape(u.RawPath)
	if err != nil {
		return wrap(fmt.Errorf("build request: %w", err))
	}
	u.Path = unescaped
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return wrap(fmt.Errorf("encode request body: %w", err))
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return wrap(fmt.Errorf("build request: %w", err))
	}
	requestID := uuid.NewString()
	req.Header.Set(RequestIDHeader, requestID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return wrap(fmt.Errorf("%w: %w", errCanceled, ctx.Err()))
		}
		return wrap(fmt.Errorf("%w: %w", ErrTransport, err))
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return wrap(fmt.Errorf("%w: read body: %w", ErrTransport, err))
	}

	c.logger.Debug("Backend request",
		zap.String("op", op),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.String("request_id", requestID),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{StatusCode: resp.StatusCode, Detail: detailFromBody(data)}
		if json.Valid(data) {
			se.Body = json.RawMessage(data)
		}
		return wrap(se)
	}

	if out == nil {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		if !json.Valid(data) {
			return wrap(fmt.Errorf("%w: %s", ErrMalformed, snippet(data)))
		}
		*raw = append((*raw)[:0], data...)
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return wrap(fmt.Errorf("%w: %w", ErrMalformed, err))
	}
	return nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 120 {
		s = s[:120] + "..."
	}
	if s == "" {
		return "empty body"
	}
	return s
}
