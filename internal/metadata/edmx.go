package metadata

import "encoding/xml"

// The element types below describe every dialect at once. Tags carry no
// namespace so v2 (2007/06), v3 (2009/11) and v4 (OASIS) documents all
// unmarshal into the same tree. Attribute values are kept as strings and
// converted leniently so one bad facet never fails the whole document.

type edmxDoc struct {
	XMLName      xml.Name     `xml:"Edmx"`
	Version      string       `xml:"Version,attr"`
	DataServices dataServices `xml:"DataServices"`
}

type dataServices struct {
	DataServiceVersion string      `xml:"DataServiceVersion,attr"`
	Schemas            []xmlSchema `xml:"Schema"`
}

type xmlSchema struct {
	XMLName          xml.Name             `xml:"Schema"`
	Namespace        string               `xml:"Namespace,attr"`
	Alias            string               `xml:"Alias,attr"`
	EntityTypes      []xmlEntityType      `xml:"EntityType"`
	EntityContainers []xmlEntityContainer `xml:"EntityContainer"`
	Functions        []xmlOperation       `xml:"Function"`
	Actions          []xmlOperation       `xml:"Action"`
	Annotations      []xmlAnnotations     `xml:"Annotations"`
}

type xmlEntityType struct {
	Name                 string                  `xml:"Name,attr"`
	BaseType             string                  `xml:"BaseType,attr"`
	Key                  xmlKey                  `xml:"Key"`
	Properties           []xmlProperty           `xml:"Property"`
	NavigationProperties []xmlNavigationProperty `xml:"NavigationProperty"`
}

type xmlKey struct {
	PropertyRefs []xmlPropertyRef `xml:"PropertyRef"`
}

type xmlPropertyRef struct {
	Name string `xml:"Name,attr"`
}

type xmlProperty struct {
	Name         string          `xml:"Name,attr"`
	Type         string          `xml:"Type,attr"`
	Nullable     string          `xml:"Nullable,attr"`
	MaxLength    string          `xml:"MaxLength,attr"`
	Precision    string          `xml:"Precision,attr"`
	Scale        string          `xml:"Scale,attr"`
	DefaultValue string          `xml:"DefaultValue,attr"`
	Label        string          `xml:"label,attr"` // sap:label
	Annotations  []xmlAnnotation `xml:"Annotation"`
}

type xmlNavigationProperty struct {
	Name         string `xml:"Name,attr"`
	Relationship string `xml:"Relationship,attr"`
	ToRole       string `xml:"ToRole,attr"`
	Type         string `xml:"Type,attr"`
	Partner      string `xml:"Partner,attr"`
}

type xmlEntityContainer struct {
	Name            string              `xml:"Name,attr"`
	EntitySets      []xmlEntitySet      `xml:"EntitySet"`
	FunctionImports []xmlFunctionImport `xml:"FunctionImport"`
	ActionImports   []xmlActionImport   `xml:"ActionImport"`
}

type xmlEntitySet struct {
	Name       string `xml:"Name,attr"`
	EntityType string `xml:"EntityType,attr"`
	// SAP annotations (sap: namespace)
	Creatable   string          `xml:"creatable,attr"`
	Updatable   string          `xml:"updatable,attr"`
	Deletable   string          `xml:"deletable,attr"`
	Searchable  string          `xml:"searchable,attr"`
	Pageable    string          `xml:"pageable,attr"`
	Countable   string          `xml:"countable,attr"`
	Label       string          `xml:"label,attr"`
	Annotations []xmlAnnotation `xml:"Annotation"`
}

// xmlFunctionImport covers both the v2/v3 form (parameters inline) and the
// v4 form (Function attribute pointing at a schema-level Function).
type xmlFunctionImport struct {
	Name       string         `xml:"Name,attr"`
	ReturnType string         `xml:"ReturnType,attr"`
	EntitySet  string         `xml:"EntitySet,attr"`
	HTTPMethod string         `xml:"HttpMethod,attr"` // m:HttpMethod
	Function   string         `xml:"Function,attr"`
	Parameters []xmlParameter `xml:"Parameter"`
}

type xmlActionImport struct {
	Name      string `xml:"Name,attr"`
	Action    string `xml:"Action,attr"`
	EntitySet string `xml:"EntitySet,attr"`
}

// xmlOperation is a v4 schema-level Function or Action.
type xmlOperation struct {
	Name          string         `xml:"Name,attr"`
	IsBound       string         `xml:"IsBound,attr"`
	EntitySetPath string         `xml:"EntitySetPath,attr"`
	Parameters    []xmlParameter `xml:"Parameter"`
	ReturnType    *xmlReturnType `xml:"ReturnType"`
}

type xmlReturnType struct {
	Type string `xml:"Type,attr"`
}

type xmlParameter struct {
	Name     string `xml:"Name,attr"`
	Type     string `xml:"Type,attr"`
	Mode     string `xml:"Mode,attr"`
	Nullable string `xml:"Nullable,attr"`
}

type xmlAnnotations struct {
	Target      string          `xml:"Target,attr"`
	Annotations []xmlAnnotation `xml:"Annotation"`
}

type xmlAnnotation struct {
	Term   string     `xml:"Term,attr"`
	String string     `xml:"String,attr"`
	Bool   string     `xml:"Bool,attr"`
	Record *xmlRecord `xml:"Record"`
}

type xmlRecord struct {
	PropertyValues []xmlPropertyValue `xml:"PropertyValue"`
}

type xmlPropertyValue struct {
	Property string `xml:"Property,attr"`
	Bool     string `xml:"Bool,attr"`
	BoolElem string `xml:"Bool"`
}
