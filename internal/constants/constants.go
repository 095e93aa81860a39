package constants

// EDMX / EDM namespaces by dialect
const (
	EdmxNamespaceV1 = "http://schemas.microsoft.com/ado/2007/06/edmx"
	EdmxNamespaceV3 = "http://schemas.microsoft.com/ado/2009/11/edmx"
	EdmxNamespaceV4 = "http://docs.oasis-open.org/odata/ns/edmx"
	EdmNamespaceV1  = "http://schemas.microsoft.com/ado/2006/04/edm"
	EdmNamespaceV4  = "http://docs.oasis-open.org/odata/ns/edm"
)

// OData protocol versions as reported on ServiceMetadata.ODataVersion
const (
	ODataV2 = "2.0"
	ODataV3 = "3.0"
	ODataV4 = "4.0"
)

// HTTP methods supported by OData
const (
	GET    = "GET"
	POST   = "POST"
	PUT    = "PUT"
	PATCH  = "PATCH"
	MERGE  = "MERGE"
	DELETE = "DELETE"
)

// OData system query options
const (
	QueryFilter      = "$filter"
	QuerySelect      = "$select"
	QueryExpand      = "$expand"
	QueryOrderBy     = "$orderby"
	QueryTop         = "$top"
	QuerySkip        = "$skip"
	QueryCount       = "$count"
	QuerySearch      = "$search"
	QueryFormat      = "$format"
	QueryInlineCount = "$inlinecount"
)

// SAP gateway uses a custom "search" parameter instead of $search on v2.
const SAPQuerySearch = "search"

// CSRF Token headers (SAP-specific)
const (
	CSRFTokenHeader = "X-CSRF-Token"
	CSRFTokenFetch  = "Fetch"
	CSRFRequired    = "Required"
)

// HTTP headers
const (
	ContentType   = "Content-Type"
	Accept        = "Accept"
	UserAgent     = "User-Agent"
	CorrelationID = "X-CorrelationID"
)

// Content types
const (
	ContentTypeJSON = "application/json"
	ContentTypeXML  = "application/xml"
)

// Well known endpoints
const (
	MetadataEndpoint  = "$metadata"
	CountSegment      = "$count"
	SAPCatalogService = "/sap/opu/odata/IWFND/CATALOGSERVICE;v=2"
	SAPCatalogSet     = "ServiceCollection"
)

// OData v4 / v3 JSON control information
const (
	ODataCount      = "@odata.count"
	ODataNextLink   = "@odata.nextLink"
	ODataCountV3    = "odata.count"
	ODataNextLinkV3 = "odata.nextLink"
	V2Results       = "results"
	V2Count         = "__count"
	V2Next          = "__next"
	V2Metadata      = "__metadata"
)

// Tool operation names as they appear in generated tool names.
const (
	OpFilter = "filter"
	OpCount  = "count"
	OpSearch = "search"
	OpGet    = "get"
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
	OpCall   = "call"
)

// ShortenedToolOperationNames is applied when tool name shrinking is enabled.
var ShortenedToolOperationNames = map[string]string{
	OpUpdate: "upd",
	OpDelete: "del",
}

// Operation letters accepted by --enable / --disable. R expands to S, F and G.
const (
	LetterCreate = 'C'
	LetterRead   = 'R'
	LetterUpdate = 'U'
	LetterDelete = 'D'
	LetterFilter = 'F'
	LetterSearch = 'S'
	LetterGet    = 'G'
	LetterAction = 'A'
)

// AllOperationLetters lists every letter in canonical order.
const AllOperationLetters = "CUDFSGA"

// Default values
const (
	DefaultUserAgent         = "OData-MCP-Gateway/1.0 (Go)"
	DefaultTimeout           = 30              // seconds
	DefaultMaxResponseSize   = 5 * 1024 * 1024 // 5MB
	DefaultMaxItems          = 100
	DefaultToolNameMaxLength = 64
	MinToolNameMaxLength     = 8
	DefaultServiceID         = "od"
	MaxServiceIDLength       = 8
)

// MCP-specific constants
const (
	MCPProtocolVersion = "2024-11-05"
	MCPServerName      = "odata-mcp-gateway"
	MCPServerVersion   = "1.0.0"
)

// Global tool names
const (
	ToolListSystems     = "odata_list_systems"
	ToolRefreshMetadata = "odata_refresh_metadata"
	ToolServiceInfo     = "odata_service_info"
)

// GetToolOperationName returns the operation name used inside tool names.
func GetToolOperationName(operation string, shrink bool) string {
	if shrink {
		if name, ok := ShortenedToolOperationNames[operation]; ok {
			return name
		}
	}
	return operation
}
