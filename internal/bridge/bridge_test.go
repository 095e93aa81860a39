package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zmcp/odata-mcp-gateway/internal/bridgeerr"
	"github.com/zmcp/odata-mcp-gateway/internal/config"
	"github.com/zmcp/odata-mcp-gateway/internal/models"
	"github.com/zmcp/odata-mcp-gateway/internal/query"
)

const demoMetadata = `<?xml version="1.0" encoding="utf-8"?>
<edmx:Edmx Version="1.0" xmlns:edmx="http://schemas.microsoft.com/ado/2007/06/edmx"
  xmlns:m="http://schemas.microsoft.com/ado/2007/08/dataservices/metadata"
  xmlns:sap="http://www.sap.com/Protocols/SAPData">
  <edmx:DataServices m:DataServiceVersion="2.0">
    <Schema Namespace="DEMO_SRV" xmlns="http://schemas.microsoft.com/ado/2008/09/edm">
      <EntityType Name="Product">
        <Key>
          <PropertyRef Name="ID"/>
        </Key>
        <Property Name="ID" Type="Edm.Int32" Nullable="false"/>
        <Property Name="Name" Type="Edm.String" Nullable="false" MaxLength="40"/>
        <Property Name="Created" Type="Edm.DateTime"/>
      </EntityType>
      <EntityContainer Name="DEMO_SRV_Entities" m:IsDefaultEntityContainer="true">
        <EntitySet Name="Products" EntityType="DEMO_SRV.Product"/>
      </EntityContainer>
    </Schema>
  </edmx:DataServices>
</edmx:Edmx>`

// recorded is one request seen by the fake service.
type recorded struct {
	Method string
	Path   string
	Query  string
	Body   map[string]interface{}
}

type fakeService struct {
	*httptest.Server
	mu       sync.Mutex
	requests []recorded
	metadata atomic.Value // string
}

func newFakeService(t *testing.T) *fakeService {
	t.Helper()
	f := &fakeService{}
	f.metadata.Store(demoMetadata)
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeService) serve(w http.ResponseWriter, r *http.Request) {
	rec := recorded{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery}
	if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
		_ = json.Unmarshal(raw, &rec.Body)
	}
	f.mu.Lock()
	f.requests = append(f.requests, rec)
	f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/demo/")
	switch {
	case path == "$metadata":
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, f.metadata.Load().(string))
	case path == "Products/$count":
		fmt.Fprint(w, "3")
	case path == "Products" && r.Method == http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"d":{"results":[
			{"__metadata":{"uri":"Products(1)"},"ID":1,"Name":"Pen","Created":"/Date(1700000000000)/"},
			{"__metadata":{"uri":"Products(2)"},"ID":2,"Name":"Ink","Created":null}
		],"__count":"3"}}`)
	case path == "Products" && r.Method == http.MethodPost:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"d":{"ID":9,"Name":"New"}}`)
	case path == "Products(1)" && r.Method == http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"d":{"__metadata":{"uri":"Products(1)"},"ID":1,"Name":"Pen"}}`)
	case path == "Products(1)":
		w.WriteHeader(http.StatusNoContent)
	case path == "Products(404)":
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"code":"NF","message":{"lang":"en","value":"Product not found"}}}`)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeService) last() recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func testConfig() *config.Config {
	return &config.Config{
		SortTools:       true,
		LegacyDates:     true,
		PaginationHints: true,
		MaxItems:        100,
	}
}

func demoSystem(id, baseURL string) config.SystemConfig {
	csrf := false
	return config.SystemConfig{
		ID:         id,
		BaseURL:    baseURL,
		Services:   []string{"demo"},
		EnableCSRF: &csrf,
	}
}

func newLoadedBridge(t *testing.T, cfg *config.Config, systems ...config.SystemConfig) *Bridge {
	t.Helper()
	b, err := New(cfg, nil, nil)
	require.NoError(t, err)
	require.NoError(t, b.Load(context.Background(), systems))
	return b
}

func toolNames(b *Bridge) []string {
	var names []string
	for _, t := range b.ListTools() {
		names = append(names, t.Name)
	}
	return names
}

func asMap(t *testing.T, v interface{}) map[string]interface{} {
	t.Helper()
	m, ok := v.(map[string]interface{})
	require.True(t, ok, "expected map, got %T", v)
	return m
}

func TestLoadGeneratesTools(t *testing.T) {
	srv := newFakeService(t)
	b := newLoadedBridge(t, testConfig(), demoSystem("erp", srv.URL))

	names := toolNames(b)
	for _, want := range []string{
		"odata_list_systems",
		"odata_refresh_metadata",
		"odata_service_info_for_erp",
		"filter_Products_for_demo",
		"count_Products_for_demo",
		"search_Products_for_demo",
		"get_Products_for_demo",
		"create_Products_for_demo",
		"update_Products_for_demo",
		"delete_Products_for_demo",
	} {
		assert.Contains(t, names, want)
	}
	assert.IsIncreasing(t, names)

	snap := b.Store().Get("erp")
	require.NotNil(t, snap)
	assert.True(t, snap.Healthy())
	assert.Equal(t, "none", snap.AuthType)
}

func TestCallFilter(t *testing.T) {
	srv := newFakeService(t)
	b := newLoadedBridge(t, testConfig(), demoSystem("erp", srv.URL))

	out, err := b.CallTool(context.Background(), "filter_Products_for_demo", map[string]interface{}{
		"$top":    2,
		"$count":  true,
		"$filter": "Name ne 'x'",
	})
	require.NoError(t, err)

	req := srv.last()
	assert.Equal(t, "/demo/Products", req.Path)
	assert.Contains(t, req.Query, "$top=2")
	assert.Contains(t, req.Query, "$inlinecount=allpages")

	res := asMap(t, out)
	assert.Equal(t, int64(3), res["count"])
	items, ok := res["data"].([]interface{})
	require.True(t, ok)
	require.Len(t, items, 2)

	first := asMap(t, items[0])
	assert.NotContains(t, first, "__metadata")
	assert.Equal(t, "2023-11-14T22:13:20Z", first["Created"])

	page, ok := res["pagination"].(*models.PaginationInfo)
	require.True(t, ok)
	assert.True(t, page.HasMore)
	require.NotNil(t, page.SuggestedNextCall)
	assert.Equal(t, "Use $skip=2 and $top=2 for next page", *page.SuggestedNextCall)
}

func TestCallCount(t *testing.T) {
	srv := newFakeService(t)
	b := newLoadedBridge(t, testConfig(), demoSystem("erp", srv.URL))

	out, err := b.CallTool(context.Background(), "count_Products_for_demo", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), asMap(t, out)["count"])
	assert.Equal(t, "/demo/Products/$count", srv.last().Path)
}

func TestCallEntityOperations(t *testing.T) {
	srv := newFakeService(t)
	b := newLoadedBridge(t, testConfig(), demoSystem("erp", srv.URL))
	ctx := context.Background()

	out, err := b.CallTool(ctx, "get_Products_for_demo", map[string]interface{}{"ID": 1})
	require.NoError(t, err)
	entity := asMap(t, asMap(t, out)["data"])
	assert.Equal(t, "Pen", entity["Name"])
	assert.NotContains(t, entity, "__metadata")

	out, err = b.CallTool(ctx, "update_Products_for_demo", map[string]interface{}{
		"ID": 1, "Name": "Pencil", "_method": "MERGE",
	})
	require.NoError(t, err)
	assert.Equal(t, true, asMap(t, out)["updated"])
	req := srv.last()
	assert.Equal(t, "MERGE", req.Method)
	assert.Equal(t, "/demo/Products(1)", req.Path)
	assert.Equal(t, map[string]interface{}{"Name": "Pencil"}, req.Body)

	_, err = b.CallTool(ctx, "update_Products_for_demo", map[string]interface{}{"ID": 1, "Name": "Pencil"})
	require.NoError(t, err)
	assert.Equal(t, "PATCH", srv.last().Method)

	out, err = b.CallTool(ctx, "create_Products_for_demo", map[string]interface{}{"Name": "New"})
	require.NoError(t, err)
	assert.Equal(t, "New", asMap(t, asMap(t, out)["data"])["Name"])
	assert.Equal(t, http.MethodPost, srv.last().Method)

	out, err = b.CallTool(ctx, "delete_Products_for_demo", map[string]interface{}{"ID": 1})
	require.NoError(t, err)
	assert.Equal(t, true, asMap(t, out)["deleted"])
	assert.Equal(t, http.MethodDelete, srv.last().Method)
}

func TestCallErrors(t *testing.T) {
	srv := newFakeService(t)
	b := newLoadedBridge(t, testConfig(), demoSystem("erp", srv.URL))

	tests := []struct {
		name string
		tool string
		args map[string]interface{}
		kind bridgeerr.Kind
	}{
		{"unknown tool", "filter_Nothing", nil, bridgeerr.KindNotFound},
		{"missing key", "get_Products_for_demo", map[string]interface{}{}, bridgeerr.KindValidation},
		{"bad method", "update_Products_for_demo", map[string]interface{}{"ID": 1, "_method": "POST"}, bridgeerr.KindValidation},
		{"backend error", "get_Products_for_demo", map[string]interface{}{"ID": 404}, bridgeerr.KindRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.CallTool(context.Background(), tt.tool, tt.args)
			require.Error(t, err)
			assert.Equal(t, tt.kind, bridgeerr.KindOf(err))
		})
	}

	_, err := b.CallTool(context.Background(), "get_Products_for_demo", map[string]interface{}{"ID": 404})
	var be *bridgeerr.Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "erp", be.System)
	assert.Contains(t, err.Error(), "Product not found")
}

func TestPartialFailure(t *testing.T) {
	good := newFakeService(t)
	bad := httptest.NewServer(http.NotFoundHandler())
	defer bad.Close()

	b, err := New(testConfig(), nil, nil)
	require.NoError(t, err)
	err = b.Load(context.Background(), []config.SystemConfig{
		demoSystem("erp", good.URL),
		demoSystem("crm", bad.URL),
	})
	require.Error(t, err)

	assert.Equal(t, []string{"crm", "erp"}, b.Store().SystemIDs())
	assert.Contains(t, toolNames(b), "filter_Products_for_demo")

	out, err := b.CallTool(context.Background(), "odata_list_systems", nil)
	require.NoError(t, err)
	systems := asMap(t, out)["systems"].([]map[string]interface{})
	require.Len(t, systems, 2)
	assert.Equal(t, "crm", systems[0]["id"])
	assert.Equal(t, "failed", systems[0]["status"])
	assert.Equal(t, "ok", systems[1]["status"])
}

func TestToolNamesUniqueAcrossSystems(t *testing.T) {
	srv := newFakeService(t)
	b := newLoadedBridge(t, testConfig(), demoSystem("erp", srv.URL), demoSystem("erp2", srv.URL))

	names := toolNames(b)
	assert.Contains(t, names, "filter_Products_for_demo")
	assert.Contains(t, names, "filter_Products_for_demo_2")

	tool, snap, ok := b.Store().Lookup("filter_Products_for_demo_2")
	require.True(t, ok)
	assert.Equal(t, "erp2", tool.SystemID)
	assert.Equal(t, "erp2", snap.SystemID)
}

func TestRefreshSwapsToolsAndNotifies(t *testing.T) {
	srv := newFakeService(t)
	b := newLoadedBridge(t, testConfig(), demoSystem("erp", srv.URL))

	var notified atomic.Int32
	b.OnToolsChanged(func() { notified.Add(1) })

	srv.metadata.Store(strings.Replace(demoMetadata,
		`<EntitySet Name="Products" EntityType="DEMO_SRV.Product"/>`,
		`<EntitySet Name="Products" EntityType="DEMO_SRV.Product"/><EntitySet Name="Items" EntityType="DEMO_SRV.Product"/>`, 1))

	version := b.Store().Version()
	out, err := b.CallTool(context.Background(), "odata_refresh_metadata", map[string]interface{}{"system": "erp"})
	require.NoError(t, err)
	assert.Equal(t, []string{"erp"}, asMap(t, out)["refreshed"])
	assert.Equal(t, int32(1), notified.Load())
	assert.Greater(t, b.Store().Version(), version)
	assert.Contains(t, toolNames(b), "filter_Items_for_demo")

	_, err = b.CallTool(context.Background(), "odata_refresh_metadata", map[string]interface{}{"system": "nope"})
	assert.True(t, bridgeerr.Is(err, bridgeerr.KindNotFound))
}

func TestRefreshFailureKeepsPreviousTools(t *testing.T) {
	srv := newFakeService(t)
	b := newLoadedBridge(t, testConfig(), demoSystem("erp", srv.URL))
	before := len(b.Store().Get("erp").Tools)
	require.NotZero(t, before)

	srv.metadata.Store("<<not xml")
	err := b.Refresh(context.Background(), "erp")
	require.Error(t, err)
	assert.Equal(t, bridgeerr.KindMetadataParse, bridgeerr.KindOf(err))

	snap := b.Store().Get("erp")
	assert.Len(t, snap.Tools, before)
	require.Len(t, snap.Services, 1)
	assert.True(t, snap.Services[0].Stale)
	assert.Error(t, snap.Services[0].Err)
	assert.NotNil(t, snap.Services[0].Metadata)

	out, err := b.CallTool(context.Background(), "filter_Products_for_demo", map[string]interface{}{"$top": 2})
	require.NoError(t, err)
	assert.Len(t, asMap(t, out)["data"], 2)

	out, err = b.CallTool(context.Background(), "odata_list_systems", nil)
	require.NoError(t, err)
	systems := asMap(t, out)["systems"].([]map[string]interface{})
	assert.Equal(t, "degraded", systems[0]["status"])

	srv.metadata.Store(demoMetadata)
	require.NoError(t, b.Refresh(context.Background(), "erp"))
	assert.False(t, b.Store().Get("erp").Services[0].Stale)
}

func TestReconcile(t *testing.T) {
	srv := newFakeService(t)
	b := newLoadedBridge(t, testConfig(), demoSystem("erp", srv.URL), demoSystem("crm", srv.URL))

	var notified atomic.Int32
	b.OnToolsChanged(func() { notified.Add(1) })

	// Unchanged list is a no-op.
	require.NoError(t, b.Reconcile(context.Background(), []config.SystemConfig{
		demoSystem("erp", srv.URL), demoSystem("crm", srv.URL),
	}))
	assert.Equal(t, int32(0), notified.Load())

	require.NoError(t, b.Reconcile(context.Background(), []config.SystemConfig{demoSystem("erp", srv.URL)}))
	assert.Equal(t, int32(1), notified.Load())
	assert.Equal(t, []string{"erp"}, b.Store().SystemIDs())
	assert.NotContains(t, toolNames(b), "odata_service_info_for_crm")
	assert.NotContains(t, toolNames(b), "filter_Products_for_demo_2")
}

func TestServiceInfo(t *testing.T) {
	srv := newFakeService(t)
	b := newLoadedBridge(t, testConfig(), demoSystem("erp", srv.URL))
	require.NoError(t, b.hints.SetCLIHint("Use $top for large sets"))

	out, err := b.CallTool(context.Background(), "odata_service_info_for_erp", map[string]interface{}{"include_metadata": true})
	require.NoError(t, err)
	info := asMap(t, out)
	assert.Equal(t, "erp", info["system_id"])
	assert.Equal(t, "ok", info["status"])
	assert.Contains(t, info["tools"], "get_Products_for_demo")

	services := info["services"].([]map[string]interface{})
	require.Len(t, services, 1)
	assert.Equal(t, srv.URL+"/demo", services[0]["service_url"])
	assert.Equal(t, "2.0", services[0]["version"])
	assert.Contains(t, services[0], "entity_sets_detail")
	assert.Contains(t, services[0], "implementation_hints")

	out, err = b.CallTool(context.Background(), "odata_service_info_for_erp", nil)
	require.NoError(t, err)
	services = asMap(t, out)["services"].([]map[string]interface{})
	assert.NotContains(t, services[0], "entity_sets_detail")
}

func TestReadOnlyHidesWrites(t *testing.T) {
	srv := newFakeService(t)
	cfg := testConfig()
	cfg.ReadOnly = true
	b := newLoadedBridge(t, cfg, demoSystem("erp", srv.URL))

	names := toolNames(b)
	assert.Contains(t, names, "filter_Products_for_demo")
	assert.NotContains(t, names, "create_Products_for_demo")
	assert.NotContains(t, names, "delete_Products_for_demo")
}

func TestTraceInfo(t *testing.T) {
	srv := newFakeService(t)
	cfg := testConfig()
	cfg.ReadOnlyButFunctions = true
	b := newLoadedBridge(t, cfg, demoSystem("erp", srv.URL))

	infos := b.TraceInfo()
	require.Len(t, infos, 1)
	info := infos[0]
	assert.Equal(t, "erp", info.SystemID)
	assert.Equal(t, "Postfix", info.ToolNaming)
	assert.Equal(t, "Read-only except functions", info.ReadOnlyMode)
	assert.Equal(t, len(info.RegisteredTools), info.TotalTools)
	require.Len(t, info.Services, 1)
	assert.Equal(t, "demo", info.Services[0].ServiceID)
	assert.Equal(t, "2.0", info.Services[0].ODataVersion)
	assert.Equal(t, 1, info.Services[0].Metadata.EntitySets)
	assert.Empty(t, info.Services[0].Error)
}

func TestApplySizeLimits(t *testing.T) {
	items := []interface{}{
		map[string]interface{}{"n": 1}, map[string]interface{}{"n": 2}, map[string]interface{}{"n": 3},
	}

	b := &Bridge{cfg: &config.Config{MaxItems: 2}}
	kept, info := b.applySizeLimits(items)
	assert.Len(t, kept, 2)
	assert.Equal(t, true, info["truncated"])
	assert.Equal(t, 3, info["original_count"])

	b = &Bridge{cfg: &config.Config{MaxResponseSize: 20}}
	kept, info = b.applySizeLimits(items)
	assert.Len(t, kept, 2)
	assert.Equal(t, 20, info["max_response_size"])

	b = &Bridge{cfg: &config.Config{MaxItems: 10, MaxResponseSize: 1 << 20}}
	kept, info = b.applySizeLimits(items)
	assert.Len(t, kept, 3)
	assert.Nil(t, info)
}

func TestEnhanceSingleEntity(t *testing.T) {
	b := &Bridge{cfg: &config.Config{ResponseMetadata: true, PaginationHints: true}}
	out := b.enhance(&query.Result{Data: map[string]interface{}{
		"__metadata": map[string]interface{}{"uri": "x"},
		"When":       "/Date(0)/",
	}}, query.Options{})

	entity := asMap(t, out["data"])
	assert.Contains(t, entity, "__metadata")
	assert.Equal(t, "/Date(0)/", entity["When"])
	assert.NotContains(t, out, "pagination")
}

func TestPaginationFriendlyNames(t *testing.T) {
	b := &Bridge{cfg: &config.Config{ClaudeCodeFriendly: true}}
	skip := 10
	p := b.pagination(&query.Result{NextLink: "Products?$skiptoken=20"}, query.Options{Skip: &skip}, 10)
	assert.True(t, p.HasMore)
	require.NotNil(t, p.SuggestedNextCall)
	assert.Equal(t, "Use skip=20 and top=10 for next page", *p.SuggestedNextCall)

	total := int64(5)
	p = b.pagination(&query.Result{Count: &total}, query.Options{}, 5)
	assert.False(t, p.HasMore)
	assert.Nil(t, p.SuggestedNextCall)
}
