package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/zmcp/odata-mcp-gateway/internal/bridgeerr"
	"github.com/zmcp/odata-mcp-gateway/internal/constants"
	"github.com/zmcp/odata-mcp-gateway/internal/models"
)

// Result is a version-independent OData response.
type Result struct {
	Data     interface{} `json:"data"`
	Count    *int64      `json:"count,omitempty"`
	NextLink string      `json:"next_link,omitempty"`
}

// IsCollection reports whether Data holds a list of entities.
func (r *Result) IsCollection() bool {
	_, ok := r.Data.([]interface{})
	return ok
}

// NormalizeResponse maps a raw OData response body to a Result:
//
//	v2: {"d":{"results":[...],"__count":"N","__next":"..."}} or {"d":{...}}
//	v4: {"value":[...],"@odata.count":N,"@odata.nextLink":"..."}
//	v3: {"value":[...],"odata.count":"N","odata.nextLink":"..."}
//
// Anything else is passed through unchanged; non-JSON bodies become a string.
// An OData error envelope is returned as a KindRequest error.
func NormalizeResponse(raw []byte) (*Result, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return &Result{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return &Result{Data: string(raw)}, nil
	}

	obj, ok := doc.(map[string]interface{})
	if !ok {
		return &Result{Data: doc}, nil
	}

	if errData, ok := obj["error"]; ok && len(obj) == 1 {
		return nil, errorFromEnvelope(errData, 0)
	}

	if d, ok := obj["d"]; ok {
		return normalizeV2(d), nil
	}

	if value, ok := obj["value"]; ok && (isArray(value) || onlyControlInfo(obj, "value")) {
		res := &Result{Data: value}
		res.Count = firstCount(obj, constants.ODataCount, constants.ODataCountV3)
		res.NextLink = firstString(obj, constants.ODataNextLink, constants.ODataNextLinkV3)
		return res, nil
	}

	return &Result{Data: obj}, nil
}

func normalizeV2(d interface{}) *Result {
	dm, ok := d.(map[string]interface{})
	if !ok {
		// v1 verbose collections are a bare array under "d".
		return &Result{Data: d}
	}
	results, ok := dm[constants.V2Results].([]interface{})
	if !ok {
		return &Result{Data: dm}
	}
	return &Result{
		Data:     results,
		Count:    firstCount(dm, constants.V2Count),
		NextLink: firstString(dm, constants.V2Next),
	}
}

func isArray(v interface{}) bool {
	_, ok := v.([]interface{})
	return ok
}

// onlyControlInfo reports whether every key of obj other than except is an
// annotation such as "@odata.context" or "odata.metadata".
func onlyControlInfo(obj map[string]interface{}, except string) bool {
	for k := range obj {
		if k == except || strings.HasPrefix(k, "@") || strings.HasPrefix(k, "odata.") {
			continue
		}
		return false
	}
	return true
}

func firstCount(obj map[string]interface{}, keys ...string) *int64 {
	for _, k := range keys {
		if v, ok := obj[k]; ok {
			if n, ok := toInt64(v); ok {
				return &n
			}
		}
	}
	return nil
}

func toInt64(v interface{}) (int64, bool) {
	switch c := v.(type) {
	case json.Number:
		n, err := c.Int64()
		return n, err == nil
	case float64:
		return int64(c), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(c), 10, 64)
		return n, err == nil
	}
	return 0, false
}

func firstString(obj map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// ParseCount reads the plain-text body of a /$count request.
func ParseCount(raw []byte) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, bridgeerr.New(bridgeerr.KindRequest, "count response is not a number", err)
	}
	return n, nil
}

// ParseError builds a KindRequest error from an HTTP error response body,
// extracting OData error details when present.
func ParseError(status int, body []byte) error {
	var env struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil && len(env.Error) > 0 {
		var data interface{}
		if json.Unmarshal(env.Error, &data) == nil {
			return errorFromEnvelope(data, status)
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 500 {
		msg = msg[:500] + "..."
	}
	if msg == "" {
		msg = fmt.Sprintf("HTTP %d", status)
	}
	return bridgeerr.Request(status, msg, nil)
}

// errorFromEnvelope understands both the v2 shape ({"message":{"value":..}})
// and the v4 shape ({"message":"..","details":[..]}).
func errorFromEnvelope(data interface{}, status int) error {
	raw, _ := json.Marshal(data)
	oe := &models.ODataError{}

	var v2 struct {
		Code    string `json:"code"`
		Message struct {
			Value string `json:"value"`
		} `json:"message"`
		InnerError map[string]interface{} `json:"innererror"`
	}
	if json.Unmarshal(raw, &v2) == nil && v2.Message.Value != "" {
		oe.Code = v2.Code
		oe.Message = v2.Message.Value
		oe.InnerError = v2.InnerError
	} else if json.Unmarshal(raw, oe) != nil || oe.Message == "" {
		oe.Message = string(raw)
	}
	return bridgeerr.Request(status, FormatODataError(oe, status), nil)
}

// FormatODataError renders an OData error with its code, target and details.
func FormatODataError(oe *models.ODataError, status int) string {
	var b strings.Builder
	b.WriteString("OData error")
	if status > 0 {
		fmt.Fprintf(&b, " (HTTP %d)", status)
	}
	if oe.Code != "" {
		fmt.Fprintf(&b, " [%s]", oe.Code)
	}
	b.WriteString(": ")
	b.WriteString(oe.Message)
	if oe.Target != "" {
		fmt.Fprintf(&b, " (target: %s)", oe.Target)
	}
	if len(oe.Details) > 0 {
		b.WriteString(" | Details: ")
		for i, d := range oe.Details {
			if i > 0 {
				b.WriteString("; ")
			}
			b.WriteString(d.Message)
			if d.Target != "" {
				fmt.Fprintf(&b, " (target: %s)", d.Target)
			}
		}
	}
	return b.String()
}
