package naming

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

var validName = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

func TestDeriveServiceID(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://host/sap/opu/odata/sap/ZODD_000_SRV", "Z000"},
		{"https://host/sap/opu/odata/sap/ZODD_000_SRV/", "Z000"},
		{"https://host/sap/opu/odata/sap/API_BUSINESS_PARTNER_SRV", "API_BUSI"},
		{"https://host/sap/opu/odata/sap/ZSALES_SRV", "ZSALES_S"},
		{"https://host/sap/opu/odata/sap/ZSALES_SRV;v=2/", "ZSALES_S"},
		{"https://ABC_SRV.example/odata/Orders", "Orders"},
		{"https://host/sap/ZFOO_SRVX", "ZFOO_SRV"},
		{"https://services.odata.org/V2/Northwind/Northwind.svc", "NorthSvc"},
		{"https://services.odata.org/V4/Demo.svc/", "DemoSvc"},
		{"https://host/odata/TestService", "TestServ"},
		{"https://host/api/v2/customer-data/odata", "customer"},
		{"https://host/api/x", "od"},
		{"https://host/", "od"},
		{"", "od"},
		{"::not a url::", "od"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got := DeriveServiceID(tt.url)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, len(got), 8)
			assert.Regexp(t, validName, got)
		})
	}
}

func defaultConfig() ToolNameConfig {
	return ToolNameConfig{UseServiceID: true, MaxLength: 64}
}

func TestBuildToolName(t *testing.T) {
	tests := []struct {
		name   string
		op     string
		target string
		svc    string
		cfg    ToolNameConfig
		want   string
	}{
		{"default", "filter", "Products", "NW", defaultConfig(), "filter_Products_for_NW"},
		{"no service id", "get", "Products", "NW", ToolNameConfig{MaxLength: 64}, "get_Products"},
		{"prefix", "get", "Products", "NW", ToolNameConfig{Prefix: "erp", UseServiceID: true, MaxLength: 64}, "erp_get_Products_NW"},
		{"postfix", "get", "Products", "NW", ToolNameConfig{Postfix: "v1", UseServiceID: true, MaxLength: 64}, "get_Products_for_NW_v1"},
		{"shrink update", "update", "Orders", "Z000", ToolNameConfig{Shrink: true, UseServiceID: true, MaxLength: 64}, "upd_Orders_for_Z000"},
		{"shrink delete", "delete", "Orders", "", ToolNameConfig{Shrink: true, MaxLength: 64}, "del_Orders"},
		{"sanitize", "filter", "A_Set-With.Dots", "NW", defaultConfig(), "filter_A_Set_With_Dots_for_NW"},
		{"collapse", "get", "__Weird__Name", "", ToolNameConfig{MaxLength: 64}, "get_Weird_Name"},
		{"truncate", "filter", strings.Repeat("X", 80), "NW", ToolNameConfig{UseServiceID: true, MaxLength: 20}, "filter_XXXXXXXXXXXXX"},
		{"unicode", "get", "Größe", "", ToolNameConfig{MaxLength: 64}, "get_Gr_e"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildToolName(tt.op, tt.target, tt.svc, tt.cfg)
			assert.Equal(t, tt.want, got)
			assert.Regexp(t, validName, got)
			assert.LessOrEqual(t, len(got), tt.cfg.MaxLength)
		})
	}
}

func TestBuildToolNameDeterministic(t *testing.T) {
	cfg := defaultConfig()
	a := BuildToolName("filter", "Products", "NW", cfg)
	b := BuildToolName("filter", "Products", "NW", cfg)
	assert.Equal(t, a, b)
}

func TestDisambiguate(t *testing.T) {
	used := map[string]bool{}
	assert.Equal(t, "get_A", Disambiguate("get_A", used, 64))
	assert.Equal(t, "get_A_2", Disambiguate("get_A", used, 64))
	assert.Equal(t, "get_A_3", Disambiguate("get_A", used, 64))

	long := strings.Repeat("a", 10)
	used = map[string]bool{long: true}
	got := Disambiguate(long, used, 10)
	assert.Equal(t, "aaaaaaaa_2", got)
	assert.Len(t, got, 10)
}

func TestDisambiguateTinyMaxLength(t *testing.T) {
	used := map[string]bool{"a": true}
	assert.Equal(t, "_2", Disambiguate("a", used, 1))
	assert.Equal(t, "_3", Disambiguate("a", used, 1))

	used = map[string]bool{"abc": true}
	for n := 2; n < 105; n++ {
		got := Disambiguate("abc", used, 3)
		assert.True(t, used[got])
	}
}
