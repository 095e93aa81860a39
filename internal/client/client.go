// Package client executes OData requests against one backend system.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zmcp/odata-mcp-gateway/internal/auth"
	"github.com/zmcp/odata-mcp-gateway/internal/bridgeerr"
	"github.com/zmcp/odata-mcp-gateway/internal/constants"
	"github.com/zmcp/odata-mcp-gateway/internal/debug"
	"github.com/zmcp/odata-mcp-gateway/internal/observability"
	"github.com/zmcp/odata-mcp-gateway/internal/query"
	"github.com/zmcp/odata-mcp-gateway/internal/utils"
)

// Options configure a Client.
type Options struct {
	SystemID    string
	BaseURL     string
	Timeout     time.Duration
	ValidateSSL bool
	EnableCSRF  bool
	Headers     map[string]string
	// RateLimit is the maximum requests per second; 0 disables limiting.
	RateLimit float64
	Retry     *RetryConfig
	// TraceHTTP logs every exchange at debug level with secrets masked.
	TraceHTTP bool
	Logger    *slog.Logger
}

// Response is a completed OData exchange with a non-error status.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Client talks to the OData services of one system. It is safe for
// concurrent use.
type Client struct {
	systemID   string
	baseURL    string
	httpClient *http.Client
	auth       auth.Provider
	headers    map[string]string
	enableCSRF bool
	limiter    *utils.Limiter
	retry      *RetryConfig
	logger     *slog.Logger

	mu         sync.RWMutex
	csrfTokens map[string]string // by service path
}

// New creates a client for one system and its credentials.
func New(opts Options, authCfg *auth.Config) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, bridgeerr.Newf(bridgeerr.KindConfig, "base URL is required").WithSystem(opts.SystemID)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Duration(constants.DefaultTimeout) * time.Second
	}
	if opts.Retry == nil {
		opts.Retry = DefaultRetryConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("system", opts.SystemID)

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !opts.ValidateSSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	var rt http.RoundTripper = transport
	if opts.TraceHTTP {
		rt = &auth.TraceRoundTripper{Transport: transport, Logger: logger, System: opts.SystemID}
	}

	// Session cookies (SAP_SESSIONID, sap-usercontext) must follow the CSRF token.
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	httpClient := &http.Client{Transport: rt, Timeout: opts.Timeout, Jar: jar}

	if authCfg == nil {
		authCfg = &auth.Config{}
	}
	provider, err := auth.New(authCfg, opts.BaseURL, httpClient, logger)
	if err != nil {
		if be, ok := err.(*bridgeerr.Error); ok {
			return nil, be.WithSystem(opts.SystemID)
		}
		return nil, err
	}

	return &Client{
		systemID:   opts.SystemID,
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		httpClient: httpClient,
		auth:       provider,
		headers:    opts.Headers,
		enableCSRF: opts.EnableCSRF,
		limiter:    utils.NewLimiter(opts.RateLimit, int(opts.RateLimit)+1),
		retry:      opts.Retry,
		logger:     logger,
		csrfTokens: make(map[string]string),
	}, nil
}

// SystemID returns the system this client belongs to.
func (c *Client) SystemID() string { return c.systemID }

// AuthType returns the configured authentication type.
func (c *Client) AuthType() string { return c.auth.Type() }

// ServiceURL resolves a service path against the system base URL. Absolute
// URLs are returned unchanged and an empty path is the base URL itself.
func (c *Client) ServiceURL(servicePath string) string {
	if strings.HasPrefix(servicePath, "http://") || strings.HasPrefix(servicePath, "https://") {
		return strings.TrimSuffix(servicePath, "/")
	}
	if servicePath == "" {
		return c.baseURL
	}
	return c.baseURL + "/" + strings.Trim(servicePath, "/")
}

// FetchMetadata downloads the $metadata document of a service.
func (c *Client) FetchMetadata(ctx context.Context, servicePath string) ([]byte, error) {
	req := &query.Request{Method: constants.GET, Path: constants.MetadataEndpoint}
	resp, err := c.execute(ctx, servicePath, req, constants.ContentTypeXML)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Do executes an OData request relative to a service root. Statuses of 400
// and above are returned as KindRequest errors carrying the OData message.
func (c *Client) Do(ctx context.Context, servicePath string, req *query.Request) (*Response, error) {
	return c.execute(ctx, servicePath, req, constants.ContentTypeJSON)
}

func (c *Client) execute(ctx context.Context, servicePath string, req *query.Request, accept string) (*Response, error) {
	ctx, span := observability.Tracer.Start(ctx, "client.Do", trace.WithAttributes(
		attribute.String("odata.system", c.systemID),
		attribute.String("odata.service", servicePath),
		attribute.String("http.method", req.Method),
		attribute.String("odata.path", req.Path),
	))
	defer span.End()

	var body []byte
	if req.Body != nil {
		var err error
		if body, err = json.Marshal(req.Body); err != nil {
			return nil, bridgeerr.New(bridgeerr.KindValidation, "failed to encode request body", err)
		}
	}

	target := c.ServiceURL(servicePath) + "/" + strings.TrimPrefix(req.URL(), "/")
	if c.enableCSRF && isModifying(req.Method) && c.csrfToken(servicePath) == "" {
		if err := c.fetchCSRFToken(ctx, servicePath); err != nil {
			c.logger.Debug("CSRF token fetch failed, proceeding without token", "error", err)
		}
	}

	resp, err := c.doWithRetry(ctx, servicePath, req.Method, target, body, accept)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, c.tag(err, servicePath)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.Status))
	if resp.Status >= 400 {
		err := query.ParseError(resp.Status, resp.Body)
		span.SetStatus(codes.Error, err.Error())
		return nil, c.tag(err, servicePath)
	}
	return resp, nil
}

// doWithRetry executes with exponential backoff and one CSRF refetch on 403.
func (c *Client) doWithRetry(ctx context.Context, servicePath, method, target string, body []byte, accept string) (*Response, error) {
	var (
		lastErr     error
		lastResp    *Response
		csrfRetried bool
	)

	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			var httpResp *http.Response
			if lastResp != nil {
				httpResp = &http.Response{Header: lastResp.Header}
			}
			backoff := c.retry.Delay(attempt-1, httpResp)
			observability.RequestRetriesTotal.WithLabelValues(c.systemID).Inc()
			c.logger.Debug("retrying request", "attempt", attempt, "max", c.retry.MaxRetries, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		httpReq, err := c.newRequest(ctx, servicePath, method, target, body, accept)
		if err != nil {
			return nil, err
		}

		start := time.Now()
		httpResp, err := c.httpClient.Do(httpReq)
		if err != nil {
			observability.RequestDuration.WithLabelValues(c.systemID, method, "error").Observe(time.Since(start).Seconds())
			lastErr = bridgeerr.Request(0, "HTTP request failed", err)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !c.retry.ShouldRetryError(method, attempt) {
				return nil, lastErr
			}
			continue
		}

		respBody, readErr := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		observability.RequestDuration.WithLabelValues(c.systemID, method, strconv.Itoa(httpResp.StatusCode)).Observe(time.Since(start).Seconds())
		if readErr != nil {
			lastErr = bridgeerr.Request(httpResp.StatusCode, "failed to read response body", readErr)
			continue
		}

		lastResp = &Response{Status: httpResp.StatusCode, Header: httpResp.Header, Body: respBody}

		// A stale CSRF token does not count as a retry.
		if c.enableCSRF && isModifying(method) && !csrfRetried && IsCSRFFailure(httpResp, respBody) {
			csrfRetried = true
			observability.CSRFRefetchTotal.WithLabelValues(c.systemID).Inc()
			c.logger.Debug("CSRF token validation failed, refetching")
			if err := c.fetchCSRFToken(ctx, servicePath); err != nil {
				return nil, bridgeerr.Request(httpResp.StatusCode, "CSRF token required but refetch failed", err)
			}
			attempt--
			continue
		}

		if c.retry.ShouldRetry(method, httpResp.StatusCode, attempt) {
			c.logger.Debug("retryable status", "status", httpResp.StatusCode)
			continue
		}
		return lastResp, nil
	}

	if lastResp != nil {
		return lastResp, nil
	}
	return nil, fmt.Errorf("all %d retries failed: %w", c.retry.MaxRetries, lastErr)
}

func (c *Client) newRequest(ctx context.Context, servicePath, method, target string, body []byte, accept string) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, bridgeerr.New(bridgeerr.KindRequest, "failed to create request", err)
	}

	req.Header.Set(constants.UserAgent, constants.DefaultUserAgent)
	req.Header.Set(constants.Accept, accept)
	req.Header.Set(constants.CorrelationID, uuid.NewString())
	if body != nil {
		req.Header.Set(constants.ContentType, constants.ContentTypeJSON)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if token := c.csrfToken(servicePath); token != "" && isModifying(method) {
		req.Header.Set(constants.CSRFTokenHeader, token)
	}
	if err := c.auth.Apply(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

func (c *Client) csrfToken(servicePath string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.csrfTokens[servicePath]
}

// fetchCSRFToken asks the service root for a token. It does not retry.
func (c *Client) fetchCSRFToken(ctx context.Context, servicePath string) error {
	c.mu.Lock()
	delete(c.csrfTokens, servicePath)
	c.mu.Unlock()

	req, err := c.newRequest(ctx, servicePath, constants.GET, c.ServiceURL(servicePath)+"/", nil, constants.ContentTypeJSON)
	if err != nil {
		return err
	}
	req.Header.Set(constants.CSRFTokenHeader, constants.CSRFTokenFetch)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("CSRF token request failed: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	token := resp.Header.Get(constants.CSRFTokenHeader)
	if token == "" || strings.EqualFold(token, constants.CSRFTokenFetch) || strings.EqualFold(token, constants.CSRFRequired) {
		return fmt.Errorf("CSRF token not found in response headers (status %d)", resp.StatusCode)
	}

	c.mu.Lock()
	c.csrfTokens[servicePath] = token
	c.mu.Unlock()
	c.logger.Debug("CSRF token fetched", "service", servicePath, "token", debug.MaskToken(token))
	return nil
}

func (c *Client) tag(err error, servicePath string) error {
	if be, ok := err.(*bridgeerr.Error); ok {
		return be.WithSystem(c.systemID).WithService(c.ServiceURL(servicePath))
	}
	return err
}
