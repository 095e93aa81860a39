// Copyright (c) 2024 OData MCP Contributors
// SPDX-License-Identifier: MIT

// Package debug masks secrets before they reach logs and writes the MCP
// wire trace.
package debug

import (
	"net/url"
	"strings"
)

// Masked replaces a secret whose length must not leak.
const Masked = "***"

// SensitiveKeys contains key fragments that trigger masking.
var SensitiveKeys = []string{
	"password", "passwd", "pwd", "secret",
	"token", "api_key", "apikey", "api-key",
	"authorization", "credential",
	"csrf", "cookie", "sessionid",
}

// MaskPassword completely masks a password.
func MaskPassword(password string) string {
	if password == "" {
		return ""
	}
	return Masked
}

// MaskToken masks a token, showing only the last 8 characters.
// Tokens of 8 characters or less become "****".
func MaskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return "****"
	}
	return "****" + token[len(token)-8:]
}

// MaskValue masks a value, showing only the last n characters.
func MaskValue(value string, n int) string {
	if value == "" {
		return ""
	}
	if len(value) <= n {
		return strings.Repeat("*", len(value))
	}
	return strings.Repeat("*", len(value)-n) + value[len(value)-n:]
}

// MaskURL masks the userinfo password and sensitive query parameters.
func MaskURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	if parsed.User != nil {
		if _, hasPass := parsed.User.Password(); hasPass {
			parsed.User = url.UserPassword(parsed.User.Username(), Masked)
		}
	}

	query := parsed.Query()
	modified := false
	for key := range query {
		if IsSensitiveKey(key) {
			query.Set(key, Masked)
			modified = true
		}
	}
	if modified {
		parsed.RawQuery = query.Encode()
	}

	return parsed.String()
}

// MaskHeader masks sensitive HTTP header values. Authorization keeps its
// scheme and cookie headers keep their names.
func MaskHeader(name, value string) string {
	if value == "" {
		return ""
	}

	switch strings.ToLower(name) {
	case "authorization", "proxy-authorization":
		if scheme, cred, ok := strings.Cut(value, " "); ok {
			return scheme + " " + MaskToken(cred)
		}
		return MaskToken(value)
	case "cookie":
		return maskCookies(value, "; ")
	case "set-cookie":
		name, _, _ := strings.Cut(value, "=")
		return name + "=" + Masked
	}

	if IsSensitiveKey(name) {
		return MaskToken(value)
	}
	return value
}

func maskCookies(value, sep string) string {
	parts := strings.Split(value, ";")
	for i, part := range parts {
		name, _, _ := strings.Cut(strings.TrimSpace(part), "=")
		parts[i] = name + "=" + Masked
	}
	return strings.Join(parts, sep)
}

// IsSensitiveKey reports whether a key name indicates sensitive data.
func IsSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, sensitive := range SensitiveKeys {
		if strings.Contains(keyLower, sensitive) {
			return true
		}
	}
	return false
}

// MaskFields returns a copy of a decoded JSON value with every sensitive
// object member masked. Other values are shared, not copied.
func MaskFields(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			if IsSensitiveKey(k) {
				if s, ok := item.(string); ok && s == "" {
					out[k] = ""
				} else {
					out[k] = Masked
				}
				continue
			}
			out[k] = MaskFields(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = MaskFields(item)
		}
		return out
	default:
		return v
	}
}
