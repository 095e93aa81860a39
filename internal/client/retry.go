// Copyright (c) 2024 OData MCP Contributors
// SPDX-License-Identifier: MIT

package client

import (
	"math"
	"math/rand/v2"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/zmcp/odata-mcp-gateway/internal/constants"
)

// RetryConfig defines retry behavior for HTTP requests
type RetryConfig struct {
	MaxRetries        int           // Maximum number of retry attempts (0 = no retries)
	InitialBackoff    time.Duration // Initial delay before first retry
	MaxBackoff        time.Duration // Maximum delay between retries
	BackoffMultiplier float64       // Multiplier for exponential backoff
	JitterFraction    float64       // Random jitter fraction (0.0-1.0)
	RetryableStatuses []int         // HTTP status codes that trigger retry
}

// DefaultRetryConfig returns the gateway defaults: three retries starting at
// 100ms, doubling up to 10s.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.1,
		RetryableStatuses: []int{429, 500, 502, 503, 504},
	}
}

// CalculateBackoff returns the delay for a given attempt (0-indexed)
// attempt 0 returns InitialBackoff, subsequent attempts grow exponentially
func (c *RetryConfig) CalculateBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	backoff := float64(c.InitialBackoff) * math.Pow(c.BackoffMultiplier, float64(attempt))
	if backoff > float64(c.MaxBackoff) {
		backoff = float64(c.MaxBackoff)
	}

	if c.JitterFraction > 0 {
		jitterRange := backoff * c.JitterFraction
		backoff += (rand.Float64()*2 - 1) * jitterRange
		if backoff < 0 {
			backoff = 0
		}
	}

	return time.Duration(backoff)
}

// Delay is CalculateBackoff, except that a Retry-After header given in
// seconds takes precedence, capped at MaxBackoff.
func (c *RetryConfig) Delay(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if secs, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After"))); err == nil && secs >= 0 {
			d := time.Duration(secs) * time.Second
			if d > c.MaxBackoff {
				d = c.MaxBackoff
			}
			return d
		}
	}
	return c.CalculateBackoff(attempt)
}

// ShouldRetry determines if a request should be retried based on method,
// status code and attempt count. Non-idempotent methods are only re-sent on
// 429 and 503, which mean the server did not process the request.
func (c *RetryConfig) ShouldRetry(method string, statusCode int, attempt int) bool {
	if attempt >= c.MaxRetries || !c.IsRetryableStatus(statusCode) {
		return false
	}
	if isIdempotent(method) {
		return true
	}
	return statusCode == http.StatusTooManyRequests || statusCode == http.StatusServiceUnavailable
}

// ShouldRetryError reports whether a transport error may be retried. Only
// idempotent methods are retried, since a lost response to a POST may still
// have created the entity.
func (c *RetryConfig) ShouldRetryError(method string, attempt int) bool {
	return attempt < c.MaxRetries && isIdempotent(method)
}

// IsRetryableStatus checks if a status code is in the retryable list
func (c *RetryConfig) IsRetryableStatus(statusCode int) bool {
	return slices.Contains(c.RetryableStatuses, statusCode)
}

func isIdempotent(method string) bool {
	switch method {
	case constants.GET, constants.PUT, constants.DELETE, "HEAD", "OPTIONS":
		return true
	}
	return false
}

// isModifying reports whether a method needs a CSRF token on SAP gateways.
func isModifying(method string) bool {
	switch method {
	case constants.POST, constants.PUT, constants.PATCH, constants.MERGE, constants.DELETE:
		return true
	}
	return false
}

// IsCSRFFailure checks if the response indicates a CSRF token validation failure
// This is specific to SAP systems which return 403 with CSRF-related error messages
func IsCSRFFailure(resp *http.Response, body []byte) bool {
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		return false
	}

	if strings.EqualFold(resp.Header.Get(constants.CSRFTokenHeader), constants.CSRFRequired) {
		return true
	}

	return strings.Contains(strings.ToLower(string(body)), "csrf")
}
