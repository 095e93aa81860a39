package client

import (
	"context"
	"net/url"
	"sort"
	"strings"

	"github.com/zmcp/odata-mcp-gateway/internal/bridgeerr"
	"github.com/zmcp/odata-mcp-gateway/internal/constants"
	"github.com/zmcp/odata-mcp-gateway/internal/query"
)

// DiscoveredService is one entry of a SAP Gateway service catalog.
type DiscoveredService struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	Title   string `json:"title,omitempty"`
	URL     string `json:"url"`
}

// Discover lists the services published in a SAP Gateway catalog. An empty
// catalogURL selects the standard IWFND catalog on the system's host.
func (c *Client) Discover(ctx context.Context, catalogURL string) ([]DiscoveredService, error) {
	if catalogURL == "" {
		u, err := url.Parse(c.baseURL)
		if err != nil {
			return nil, bridgeerr.New(bridgeerr.KindConfig, "invalid base URL", err).WithSystem(c.systemID)
		}
		catalogURL = u.Scheme + "://" + u.Host + constants.SAPCatalogService
	}

	req := &query.Request{
		Method: constants.GET,
		Path:   constants.SAPCatalogSet,
		Params: query.Params{{Key: constants.QueryFormat, Value: "json"}},
	}
	resp, err := c.Do(ctx, catalogURL, req)
	if err != nil {
		return nil, err
	}

	res, err := query.NormalizeResponse(resp.Body)
	if err != nil {
		return nil, c.tag(err, catalogURL)
	}
	entries, ok := res.Data.([]interface{})
	if !ok {
		return nil, bridgeerr.Newf(bridgeerr.KindRequest, "service catalog did not return a collection").WithSystem(c.systemID)
	}

	services := make([]DiscoveredService, 0, len(entries))
	for _, e := range entries {
		m, ok := e.(map[string]interface{})
		if !ok {
			continue
		}
		svc := DiscoveredService{
			Name:    stringField(m, "TechnicalServiceName"),
			Version: stringField(m, "TechnicalServiceVersion"),
			Title:   stringField(m, "Title"),
			URL:     strings.TrimSuffix(stringField(m, "ServiceUrl"), "/"),
		}
		if svc.Name == "" || svc.URL == "" {
			continue
		}
		services = append(services, svc)
	}
	sort.Slice(services, func(i, j int) bool { return services[i].Name < services[j].Name })
	return services, nil
}

func stringField(m map[string]interface{}, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		if s, ok := v.(interface{ String() string }); ok {
			return s.String()
		}
	}
	return ""
}
