package query

import (
	"strings"

	"github.com/zmcp/odata-mcp-gateway/internal/constants"
	"github.com/zmcp/odata-mcp-gateway/internal/models"
)

// FunctionRequest builds the request for a function. v2/v3 function imports
// carry parameters as query options using the declared HTTP method; v4
// functions use inline parameter syntax, Name(p1=v1,p2=v2).
func FunctionRequest(fn *models.FunctionDef, args map[string]interface{}, version string) (*Request, error) {
	v2 := version != constants.ODataV4
	if v2 {
		req := &Request{Method: fn.HTTPMethod, Path: fn.Name}
		if req.Method == "" {
			req.Method = constants.GET
		}
		for _, p := range fn.Parameters {
			v, ok := args[p.Name]
			if !ok || v == nil || !p.IsInput() {
				continue
			}
			lit, err := FormatLiteral(p.Type, v, true)
			if err != nil {
				return nil, err
			}
			req.Params = append(req.Params, Param{p.Name, lit})
		}
		return req, nil
	}

	inline := make([]string, 0, len(fn.Parameters))
	for _, p := range fn.Parameters {
		v, ok := args[p.Name]
		if !ok || v == nil || !p.IsInput() {
			continue
		}
		lit, err := FormatLiteral(p.Type, v, false)
		if err != nil {
			return nil, err
		}
		inline = append(inline, p.Name+"="+escapeSegment(lit))
	}
	return &Request{
		Method: constants.GET,
		Path:   fn.Name + "(" + strings.Join(inline, ",") + ")",
	}, nil
}

// ActionRequest builds a POST whose JSON body holds the declared parameters.
func ActionRequest(a *models.ActionDef, args map[string]interface{}) *Request {
	body := map[string]interface{}{}
	for _, p := range a.Parameters {
		if v, ok := args[p.Name]; ok && p.IsInput() {
			body[p.Name] = v
		}
	}
	return &Request{Method: constants.POST, Path: a.Name, Body: body}
}
