package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/zmcp/odata-mcp-gateway/internal/constants"
	"github.com/zmcp/odata-mcp-gateway/internal/models"
	"github.com/zmcp/odata-mcp-gateway/internal/query"
	"github.com/zmcp/odata-mcp-gateway/internal/utils"
)

// enhance shapes a normalized result for the model: truncation, pagination
// hints, date conversion and __metadata stripping, as configured.
func (b *Bridge) enhance(res *query.Result, opts query.Options) map[string]interface{} {
	data := res.Data
	if !b.cfg.ResponseMetadata {
		data = stripMetadata(data)
	}
	if b.cfg.UseLegacyDates() {
		data = utils.ConvertLegacyDates(data)
	}

	out := map[string]interface{}{}
	items, isList := data.([]interface{})
	if isList {
		kept, info := b.applySizeLimits(items)
		data = kept
		if info != nil {
			out["_metadata"] = info
		}
	}
	out["data"] = data
	if res.Count != nil {
		out["count"] = *res.Count
	}
	if res.NextLink != "" {
		out["next_link"] = res.NextLink
	}
	if b.cfg.PaginationHints && isList {
		out["pagination"] = b.pagination(res, opts, len(items))
	}
	return out
}

// applySizeLimits enforces MaxItems and then MaxResponseSize on a list.
// The returned info is nil when nothing was cut.
func (b *Bridge) applySizeLimits(items []interface{}) ([]interface{}, map[string]interface{}) {
	original := len(items)
	var info map[string]interface{}

	if max := b.cfg.MaxItems; max > 0 && len(items) > max {
		items = items[:max]
		info = map[string]interface{}{
			"truncated":      true,
			"original_count": original,
			"max_items":      max,
			"warning":        fmt.Sprintf("Response truncated from %d to %d items due to size limits", original, max),
		}
	}

	if limit := b.cfg.MaxResponseSize; limit > 0 && len(items) > 0 {
		raw, err := json.Marshal(items)
		if err == nil && len(raw) > limit {
			avg := len(raw) / len(items)
			fit := 1
			if avg > 0 && limit/avg > 1 {
				fit = limit / avg
			}
			if fit < len(items) {
				items = items[:fit]
				info = map[string]interface{}{
					"truncated":         true,
					"original_count":    original,
					"truncated_count":   fit,
					"max_response_size": limit,
					"warning": fmt.Sprintf("Response truncated from %d to %d items due to response size limit (%d bytes)",
						original, fit, limit),
				}
			}
		}
	}
	return items, info
}

// pagination describes where the returned page sits. current is the number
// of items the backend returned, before truncation.
func (b *Bridge) pagination(res *query.Result, opts query.Options, current int) *models.PaginationInfo {
	p := &models.PaginationInfo{
		TotalCount:   res.Count,
		CurrentCount: current,
		NextLink:     res.NextLink,
	}
	if opts.Skip != nil {
		p.Skip = *opts.Skip
	}
	if opts.Top != nil {
		p.Top = *opts.Top
	}

	switch {
	case p.TotalCount != nil:
		p.HasMore = int64(p.Skip+current) < *p.TotalCount
	case p.NextLink != "":
		p.HasMore = true
	case p.Top > 0:
		p.HasMore = current >= p.Top
	}

	if p.HasMore {
		skip, top := constants.QuerySkip, constants.QueryTop
		if b.cfg.ClaudeCodeFriendly {
			skip, top = "skip", "top"
		}
		pageSize := p.Top
		if pageSize == 0 {
			pageSize = current
		}
		hint := fmt.Sprintf("Use %s=%d and %s=%d for next page", skip, p.Skip+current, top, pageSize)
		p.SuggestedNextCall = &hint
	}
	return p
}

// stripMetadata removes __metadata blocks from entities at any depth.
func stripMetadata(data interface{}) interface{} {
	switch v := data.(type) {
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = stripMetadata(item)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, value := range v {
			if key != constants.V2Metadata {
				out[key] = stripMetadata(value)
			}
		}
		return out
	}
	return data
}
