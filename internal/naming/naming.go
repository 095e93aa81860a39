// Package naming derives short service identifiers and MCP tool names.
package naming

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/zmcp/odata-mcp-gateway/internal/constants"
)

var (
	sapServiceRe  = regexp.MustCompile(`^[A-Z][A-Z0-9_]*_SRV$`)
	sapCompactRe  = regexp.MustCompile(`^([A-Z])[A-Z]*_?(\d+)`)
	svcEndpointRe = regexp.MustCompile(`/([A-Za-z][A-Za-z0-9_]+)\.svc`)
	odataPathRe   = regexp.MustCompile(`/odata/([A-Za-z][A-Za-z0-9_]+)`)
	invalidCharRe = regexp.MustCompile(`[^A-Za-z0-9_]`)
	underscoresRe = regexp.MustCompile(`_+`)
)

// noise segments never identify a service on their own.
var noiseSegments = map[string]bool{"api": true, "odata": true, "sap": true, "opu": true}

// DeriveServiceID extracts a short identifier (at most 8 characters, matching
// [A-Za-z0-9_]+) from a service URL. It never fails; "od" is the fallback.
func DeriveServiceID(serviceURL string) string {
	// SAP gateway services: /sap/opu/odata/sap/ZODD_000_SRV
	if name := sapServiceSegment(serviceURL); name != "" {
		if c := sapCompactRe.FindStringSubmatch(name); c != nil {
			return truncate(c[1]+c[2], constants.MaxServiceIDLength)
		}
		return truncate(name, constants.MaxServiceIDLength)
	}

	// WCF style endpoints: /Northwind.svc -> NorthSvc
	if m := svcEndpointRe.FindStringSubmatch(serviceURL); m != nil {
		return truncate(m[1], 5) + "Svc"
	}

	// Generic /odata/<name>
	if m := odataPathRe.FindStringSubmatch(serviceURL); m != nil {
		return truncate(m[1], constants.MaxServiceIDLength)
	}

	u, err := url.Parse(serviceURL)
	if err != nil || u.Path == "" {
		return constants.DefaultServiceID
	}
	var last string
	for _, seg := range strings.Split(u.Path, "/") {
		if seg != "" && !noiseSegments[seg] {
			last = seg
		}
	}
	clean := strings.Trim(underscoresRe.ReplaceAllString(invalidCharRe.ReplaceAllString(last, "_"), "_"), "_")
	if len(clean) > 1 {
		return truncate(clean, constants.MaxServiceIDLength)
	}
	return constants.DefaultServiceID
}

// ToolNameConfig is the subset of generator settings that shape tool names.
type ToolNameConfig struct {
	Prefix       string
	Postfix      string
	UseServiceID bool
	Shrink       bool
	MaxLength    int
}

// BuildToolName composes a tool name for an operation on a target entity set
// or function. The result is truncated to MaxLength, every character outside
// [A-Za-z0-9_] becomes "_" and runs of "_" are collapsed.
func BuildToolName(op, target, serviceID string, cfg ToolNameConfig) string {
	op = constants.GetToolOperationName(op, cfg.Shrink)

	var name string
	switch {
	case cfg.Prefix != "":
		name = cfg.Prefix + "_" + op + "_" + target
		if cfg.UseServiceID && serviceID != "" {
			name += "_" + serviceID
		}
	case cfg.Postfix != "":
		name = op + "_" + target
		if cfg.UseServiceID && serviceID != "" {
			name += "_for_" + serviceID
		}
		name += "_" + cfg.Postfix
	default:
		name = op + "_" + target
		if cfg.UseServiceID && serviceID != "" {
			name += "_for_" + serviceID
		}
	}

	return Sanitize(name, cfg.MaxLength)
}

// Sanitize applies the tool name rules: truncate, replace invalid characters,
// collapse repeated underscores.
func Sanitize(name string, maxLength int) string {
	if maxLength <= 0 {
		maxLength = constants.DefaultToolNameMaxLength
	}
	// Truncate by rune so a multi-byte character becomes exactly one "_".
	if runes := []rune(name); len(runes) > maxLength {
		name = string(runes[:maxLength])
	}
	name = invalidCharRe.ReplaceAllString(name, "_")
	return underscoresRe.ReplaceAllString(name, "_")
}

// Disambiguate returns name if it is unused, otherwise the first free
// name+"_N" (N from 2) trimmed to fit maxLength. used is updated.
func Disambiguate(name string, used map[string]bool, maxLength int) string {
	if !used[name] {
		used[name] = true
		return name
	}
	if maxLength <= 0 {
		maxLength = constants.DefaultToolNameMaxLength
	}
	for n := 2; ; n++ {
		suffix := "_" + strconv.Itoa(n)
		base := name
		if len(base)+len(suffix) > maxLength {
			cut := maxLength - len(suffix)
			if cut < 0 {
				cut = 0
			}
			base = strings.TrimRight(base[:cut], "_")
		}
		candidate := base + suffix
		if !used[candidate] {
			used[candidate] = true
			return candidate
		}
	}
}

// sapServiceSegment returns the path segment naming a SAP gateway service,
// without any ";v=N" matrix parameters.
func sapServiceSegment(serviceURL string) string {
	u, err := url.Parse(serviceURL)
	if err != nil {
		return ""
	}
	for _, seg := range strings.Split(u.Path, "/") {
		if i := strings.IndexByte(seg, ';'); i >= 0 {
			seg = seg[:i]
		}
		if sapServiceRe.MatchString(seg) {
			return seg
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
