package auth

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/zmcp/odata-mcp-gateway/internal/debug"
)

// maxTraceBody caps logged bodies.
const maxTraceBody = 1000

// TraceRoundTripper logs every exchange with credentials masked. It is
// installed on a system's HTTP client when debug logging is enabled.
type TraceRoundTripper struct {
	Transport http.RoundTripper
	Logger    *slog.Logger
	System    string
}

// RoundTrip implements http.RoundTripper.
func (t *TraceRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	t.Logger.Debug("http request",
		"system", t.System,
		"method", req.Method,
		"url", debug.MaskURL(req.URL.String()),
		"headers", maskHeaders(req.Header),
		"body", peekRequest(req))

	transport := t.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	resp, err := transport.RoundTrip(req)
	if err != nil {
		t.Logger.Debug("http request failed", "system", t.System, "error", err)
		return nil, err
	}

	t.Logger.Debug("http response",
		"system", t.System,
		"status", resp.StatusCode,
		"elapsed", time.Since(start),
		"headers", maskHeaders(resp.Header),
		"body", peekResponse(resp))
	return resp, nil
}

func peekRequest(req *http.Request) string {
	if req.Body == nil || req.GetBody == nil {
		return ""
	}
	body, err := req.GetBody()
	if err != nil {
		return ""
	}
	defer body.Close()
	data, _ := io.ReadAll(io.LimitReader(body, maxTraceBody))
	return redactSensitive(string(data))
}

func peekResponse(resp *http.Response) string {
	if resp.Body == nil {
		return ""
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(data))
	preview := string(data)
	if len(preview) > maxTraceBody {
		preview = preview[:maxTraceBody] + "... (truncated)"
	}
	return redactSensitive(preview)
}

func maskHeaders(h http.Header) string {
	parts := make([]string, 0, len(h))
	for name, values := range h {
		for _, v := range values {
			parts = append(parts, name+": "+debug.MaskHeader(name, v))
		}
	}
	return strings.Join(parts, ", ")
}

// redactSensitive masks token fields in JSON bodies and secrets in form bodies.
func redactSensitive(text string) string {
	if strings.Contains(text, "access_token") {
		var data map[string]interface{}
		if err := json.Unmarshal([]byte(text), &data); err == nil {
			for _, key := range []string{"access_token", "refresh_token", "id_token"} {
				if token, ok := data[key].(string); ok {
					data[key] = debug.MaskToken(token)
				}
			}
			if redacted, err := json.Marshal(data); err == nil {
				return string(redacted)
			}
		}
	}
	for _, key := range []string{"client_secret=", "password=", "code="} {
		text = redactPattern(text, key, "&")
	}
	return text
}

// redactPattern masks the value between start and end.
func redactPattern(text, start, end string) string {
	idx := strings.Index(text, start)
	if idx < 0 {
		return text
	}
	startIdx := idx + len(start)
	endIdx := strings.Index(text[startIdx:], end)
	if endIdx < 0 {
		endIdx = len(text) - startIdx
	}
	return text[:startIdx] + debug.MaskPassword(text[startIdx:startIdx+endIdx]) + text[startIdx+endIdx:]
}
