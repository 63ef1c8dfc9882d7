package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/storegate/instrumentation"
	"github.com/giantswarm/storegate/internal/util"
	"github.com/giantswarm/storegate/security"
	"github.com/giantswarm/storegate/storage"
)

const (
	// DefaultAPIVersion is the Admin API version used when none is configured.
	DefaultAPIVersion = "2022-04"

	// DefaultTimeout bounds one upstream call.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResponseBytes caps the upstream body read into memory.
	DefaultMaxResponseBytes = 10 << 20

	// HeaderAccessToken carries the tenant's access token upstream.
	HeaderAccessToken = "X-Shopify-Access-Token" //nolint:gosec // G101: header name, not a credential
)

var (
	// ErrUpstreamRejected indicates the platform refused the credential.
	ErrUpstreamRejected = errors.New("upstream rejected credential")

	// ErrUpstreamUnavailable indicates no complete response was received.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrResponseTooLarge indicates the upstream body exceeded the
	// configured limit. It is reported together with ErrUpstreamUnavailable.
	ErrResponseTooLarge = errors.New("upstream response too large")
)

// Proxy outcomes recorded on the requests counter
const (
	outcomeOK          = "ok"
	outcomeRejected    = "rejected"
	outcomeUnavailable = "unavailable"
	outcomeStatus      = "status"
)

// UpstreamError is returned for a 401 or 403 from the platform. It matches
// ErrUpstreamRejected.
type UpstreamError struct {
	Tenant string
	Status int
	Body   []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %s returned %d", ErrUpstreamRejected, e.Tenant, e.Status)
}

// Unwrap allows errors.Is(err, ErrUpstreamRejected)
func (e *UpstreamError) Unwrap() error {
	return ErrUpstreamRejected
}

// Request describes one Admin API call. Path is relative to the versioned
// API root, e.g. "products/count.json".
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// Response is a passed-through upstream response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// ClientConfig holds client configuration.
type ClientConfig struct {
	// HTTPClient defaults to a client with Timeout.
	HTTPClient *http.Client

	// APIVersion defaults to DefaultAPIVersion.
	APIVersion string

	// Timeout defaults to DefaultTimeout. Ignored when HTTPClient is set.
	Timeout time.Duration

	// MaxResponseBytes defaults to DefaultMaxResponseBytes.
	MaxResponseBytes int64

	// BaseURL returns the origin for a tenant. Defaults to https://<tenant>.
	BaseURL func(tenant string) string

	Auditor         *security.Auditor
	Instrumentation *instrumentation.Instrumentation
	Logger          *slog.Logger
}

// Client calls the Admin API on behalf of a tenant.
type Client struct {
	httpClient       *http.Client
	apiVersion       string
	maxResponseBytes int64
	baseURL          func(string) string

	auditor *security.Auditor
	metrics *instrumentation.Metrics
	tracer  trace.Tracer
	logger  *slog.Logger
}

// NewClient creates a client.
func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		httpClient:       cfg.HTTPClient,
		apiVersion:       cfg.APIVersion,
		maxResponseBytes: cfg.MaxResponseBytes,
		baseURL:          cfg.BaseURL,
		auditor:          cfg.Auditor,
		metrics:          cfg.Instrumentation.Metrics(),
		tracer:           cfg.Instrumentation.Tracer("proxy"),
		logger:           cfg.Logger,
	}
	if c.httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		c.httpClient = &http.Client{Timeout: timeout}
	}
	if c.apiVersion == "" {
		c.apiVersion = DefaultAPIVersion
	}
	if c.maxResponseBytes <= 0 {
		c.maxResponseBytes = DefaultMaxResponseBytes
	}
	if c.baseURL == nil {
		c.baseURL = func(tenant string) string { return "https://" + tenant }
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// APIVersion returns the Admin API version in use.
func (c *Client) APIVersion() string {
	return c.apiVersion
}

func (c *Client) endpoint(tenant, path string) string {
	return fmt.Sprintf("%s/admin/api/%s/%s", strings.TrimRight(c.baseURL(tenant), "/"),
		c.apiVersion, strings.TrimLeft(path, "/"))
}

// Do issues req with cred's access token.
func (c *Client) Do(ctx context.Context, cred *storage.Credential, req Request) (_ *Response, err error) {
	if cred == nil || cred.Token == nil || cred.Token.AccessToken == "" {
		return nil, fmt.Errorf("proxy: credential has no access token")
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	operation := req.Method + " " + req.Path

	ctx, span := c.tracer.Start(ctx, "proxy.request")
	defer span.End()
	instrumentation.AddTenantAttributes(span, cred.Tenant)

	start := time.Now()
	outcome := outcomeOK
	status := 0
	defer func() {
		instrumentation.AddProxyAttributes(span, operation, status, outcome)
		c.metrics.RecordProxyRequest(ctx, operation, outcome, float64(time.Since(start).Milliseconds()))
		if err != nil {
			instrumentation.RecordError(span, err)
			return
		}
		instrumentation.SetSpanSuccess(span)
	}()

	target := c.endpoint(cred.Tenant, req.Path)
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		outcome = outcomeUnavailable
		return nil, fmt.Errorf("%w: build request: %w", ErrUpstreamUnavailable, err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set(HeaderAccessToken, cred.Token.AccessToken)
	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq) //nolint:gosec // G107: host is a validated tenant domain
	if err != nil {
		outcome = outcomeUnavailable
		c.logger.Warn("Upstream request failed", "tenant", cred.Tenant, "operation", operation, "error", err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrUpstreamUnavailable, cred.Tenant, ctxErr)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrUpstreamUnavailable, cred.Tenant, err)
	}
	defer func() { _ = resp.Body.Close() }()

	status = resp.StatusCode
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseBytes+1))
	if err != nil {
		outcome = outcomeUnavailable
		return nil, fmt.Errorf("%w: read response from %s: %w", ErrUpstreamUnavailable, cred.Tenant, err)
	}
	if int64(len(data)) > c.maxResponseBytes {
		outcome = outcomeUnavailable
		return nil, fmt.Errorf("%w: %w: %s sent more than %d bytes",
			ErrUpstreamUnavailable, ErrResponseTooLarge, cred.Tenant, c.maxResponseBytes)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		outcome = outcomeRejected
		c.auditor.LogUpstreamRejected(cred.Tenant, cred.ID, resp.StatusCode)
		c.logger.Warn("Upstream rejected credential",
			"tenant", cred.Tenant,
			"credential_id", util.SafeTruncate(cred.ID, util.IDLogLength),
			"status", resp.StatusCode)
		return nil, &UpstreamError{Tenant: cred.Tenant, Status: resp.StatusCode, Body: data}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		outcome = outcomeStatus
	}

	return &Response{Status: resp.StatusCode, Header: resp.Header.Clone(), Body: data}, nil
}

// GraphQL posts body to the tenant's GraphQL endpoint.
func (c *Client) GraphQL(ctx context.Context, cred *storage.Credential, body []byte) (*Response, error) {
	return c.Do(ctx, cred, Request{
		Method: http.MethodPost,
		Path:   "graphql.json",
		Body:   body,
	})
}
