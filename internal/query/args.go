package query

import (
	"strings"

	"github.com/spf13/cast"

	"github.com/zmcp/odata-mcp-gateway/internal/bridgeerr"
)

// optionNames are the query option arguments a tool may accept, with or
// without the "$" prefix.
var optionNames = map[string]bool{
	"select": true, "filter": true, "orderby": true, "top": true, "skip": true,
	"expand": true, "count": true, "search": true, "format": true,
}

// IsOptionArg reports whether an argument name is a query option.
func IsOptionArg(name string) bool {
	return optionNames[strings.TrimPrefix(name, "$")]
}

// OptionsFromArgs extracts query options from loosely typed tool arguments.
// It accepts "$top" and "top" alike, numbers given as strings or floats, and
// select/expand given as arrays or comma separated strings. Arguments that
// are not query options are returned in rest.
func OptionsFromArgs(args map[string]interface{}) (Options, map[string]interface{}, error) {
	var opts Options
	rest := map[string]interface{}{}

	for name, v := range args {
		key := strings.TrimPrefix(name, "$")
		if !optionNames[key] {
			rest[name] = v
			continue
		}
		if v == nil {
			continue
		}

		var err error
		switch key {
		case "select":
			opts.Select, err = stringList(v)
		case "expand":
			opts.Expand, err = stringList(v)
		case "filter":
			opts.Filter, err = cast.ToStringE(v)
		case "orderby":
			opts.OrderBy, err = cast.ToStringE(v)
		case "search":
			opts.Search, err = cast.ToStringE(v)
		case "format":
			opts.Format, err = cast.ToStringE(v)
		case "top":
			var n int64
			if n, err = toInteger(v); err == nil {
				i := int(n)
				opts.Top = &i
			}
		case "skip":
			var n int64
			if n, err = toInteger(v); err == nil {
				i := int(n)
				opts.Skip = &i
			}
		case "count":
			var b bool
			if b, err = cast.ToBoolE(v); err == nil {
				opts.Count = &b
			}
		}
		if err != nil {
			return Options{}, nil, bridgeerr.New(bridgeerr.KindValidation, "invalid value for "+name, err)
		}
	}

	if opts.Top != nil && *opts.Top < 1 {
		return Options{}, nil, bridgeerr.Newf(bridgeerr.KindValidation, "top must be at least 1")
	}
	if opts.Skip != nil && *opts.Skip < 0 {
		return Options{}, nil, bridgeerr.Newf(bridgeerr.KindValidation, "skip must not be negative")
	}
	return opts, rest, nil
}

func stringList(v interface{}) ([]string, error) {
	if s, ok := v.(string); ok {
		var out []string
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	}
	return cast.ToStringSliceE(v)
}
