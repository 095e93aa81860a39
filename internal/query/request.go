// Package query translates tool arguments into OData requests and normalizes
// OData responses across protocol versions.
package query

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/zmcp/odata-mcp-gateway/internal/constants"
)

// Options are the OData system query options a tool call may carry. Nil
// pointers and empty values are omitted from the request.
type Options struct {
	Select  []string
	Filter  string
	OrderBy string
	Top     *int
	Skip    *int
	Expand  []string
	Count   *bool
	Search  string
	Format  string
}

// Param is a single query parameter. Order is significant.
type Param struct {
	Key   string
	Value string
}

// Params is an ordered list of query parameters.
type Params []Param

// Get returns the first value for key, or "".
func (p Params) Get(key string) string {
	for _, kv := range p {
		if kv.Key == key {
			return kv.Value
		}
	}
	return ""
}

// Has reports whether key is present.
func (p Params) Has(key string) bool {
	for _, kv := range p {
		if kv.Key == key {
			return true
		}
	}
	return false
}

// Encode renders the parameters in order. Spaces are encoded as %20, which
// OData servers expect instead of "+".
func (p Params) Encode() string {
	parts := make([]string, 0, len(p))
	for _, kv := range p {
		v := strings.ReplaceAll(url.QueryEscape(kv.Value), "+", "%20")
		parts = append(parts, kv.Key+"="+v)
	}
	return strings.Join(parts, "&")
}

// Request is a transport-neutral OData request relative to the service root.
type Request struct {
	Method string
	Path   string
	Params Params
	Body   interface{}
}

// URL returns the path with its encoded query string.
func (r *Request) URL() string {
	if len(r.Params) == 0 {
		return r.Path
	}
	return r.Path + "?" + r.Params.Encode()
}

// BuildRequest builds a GET request for an entity set. Options are emitted
// in a fixed order: select, filter, orderby, top, skip, expand, count,
// search, format.
func BuildRequest(entitySet string, opts Options) *Request {
	return &Request{
		Method: constants.GET,
		Path:   entitySet,
		Params: optionParams(opts),
	}
}

func optionParams(opts Options) Params {
	var p Params
	if len(opts.Select) > 0 {
		p = append(p, Param{constants.QuerySelect, strings.Join(opts.Select, ",")})
	}
	if opts.Filter != "" {
		p = append(p, Param{constants.QueryFilter, opts.Filter})
	}
	if opts.OrderBy != "" {
		p = append(p, Param{constants.QueryOrderBy, opts.OrderBy})
	}
	if opts.Top != nil {
		p = append(p, Param{constants.QueryTop, strconv.Itoa(*opts.Top)})
	}
	if opts.Skip != nil {
		p = append(p, Param{constants.QuerySkip, strconv.Itoa(*opts.Skip)})
	}
	if len(opts.Expand) > 0 {
		p = append(p, Param{constants.QueryExpand, strings.Join(opts.Expand, ",")})
	}
	if opts.Count != nil {
		p = append(p, Param{constants.QueryCount, strconv.FormatBool(*opts.Count)})
	}
	if opts.Search != "" {
		p = append(p, Param{constants.QuerySearch, opts.Search})
	}
	if opts.Format != "" {
		p = append(p, Param{constants.QueryFormat, opts.Format})
	}
	return p
}

// ForVersion adapts a request to the dialect spoken by the service. For v2
// and v3, $count becomes $inlinecount, $search becomes the SAP "search"
// parameter and JSON is requested explicitly. The receiver is not modified.
func (r *Request) ForVersion(version string) *Request {
	out := *r
	if version == constants.ODataV4 {
		out.Params = append(Params(nil), r.Params...)
		return &out
	}

	out.Params = make(Params, 0, len(r.Params)+1)
	hasFormat := false
	for _, kv := range r.Params {
		switch kv.Key {
		case constants.QueryCount:
			if kv.Value == "true" {
				out.Params = append(out.Params, Param{constants.QueryInlineCount, "allpages"})
			}
		case constants.QuerySearch:
			out.Params = append(out.Params, Param{constants.SAPQuerySearch, kv.Value})
		case constants.QueryFormat:
			hasFormat = true
			out.Params = append(out.Params, kv)
		default:
			out.Params = append(out.Params, kv)
		}
	}
	if !hasFormat && r.Method == constants.GET && !strings.HasSuffix(r.Path, "/"+constants.CountSegment) {
		out.Params = append(out.Params, Param{constants.QueryFormat, "json"})
	}
	return &out
}

// CountRequest builds a request for the plain-text count of an entity set.
func CountRequest(entitySet string, filter, search string) *Request {
	return BuildRequest(entitySet+"/"+constants.CountSegment, Options{Filter: filter, Search: search})
}
