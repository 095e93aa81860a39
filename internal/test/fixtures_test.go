package test

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

const salesV2Metadata = `<?xml version="1.0" encoding="utf-8"?>
<edmx:Edmx Version="1.0" xmlns:edmx="http://schemas.microsoft.com/ado/2007/06/edmx"
  xmlns:m="http://schemas.microsoft.com/ado/2007/08/dataservices/metadata"
  xmlns:sap="http://www.sap.com/Protocols/SAPData">
  <edmx:DataServices m:DataServiceVersion="2.0">
    <Schema Namespace="ZSALES_SRV" xmlns="http://schemas.microsoft.com/ado/2008/09/edm">
      <EntityType Name="SalesOrder">
        <Key><PropertyRef Name="SalesOrderID"/></Key>
        <Property Name="SalesOrderID" Type="Edm.String" Nullable="false" MaxLength="10"/>
        <Property Name="Customer" Type="Edm.String" Nullable="false"/>
        <Property Name="NetAmount" Type="Edm.Decimal" Nullable="false"/>
        <Property Name="OrderDate" Type="Edm.DateTime"/>
      </EntityType>
      <EntityContainer Name="ZSALES_SRV_Entities" m:IsDefaultEntityContainer="true">
        <EntitySet Name="SalesOrders" EntityType="ZSALES_SRV.SalesOrder" sap:deletable="false"/>
        <FunctionImport Name="ReleaseOrder" ReturnType="ZSALES_SRV.SalesOrder" EntitySet="SalesOrders" m:HttpMethod="POST">
          <Parameter Name="SalesOrderID" Type="Edm.String" Mode="In" Nullable="false"/>
        </FunctionImport>
      </EntityContainer>
    </Schema>
  </edmx:DataServices>
</edmx:Edmx>`

const northwindV4Metadata = `<?xml version="1.0" encoding="utf-8"?>
<edmx:Edmx Version="4.0" xmlns:edmx="http://docs.oasis-open.org/odata/ns/edmx">
  <edmx:DataServices>
    <Schema Namespace="NorthwindModel" xmlns="http://docs.oasis-open.org/odata/ns/edm">
      <EntityType Name="Product">
        <Key><PropertyRef Name="ProductID"/></Key>
        <Property Name="ProductID" Type="Edm.Int32" Nullable="false"/>
        <Property Name="ProductName" Type="Edm.String" Nullable="false" MaxLength="40"/>
        <Property Name="UnitPrice" Type="Edm.Decimal"/>
      </EntityType>
      <Function Name="TopProducts">
        <Parameter Name="count" Type="Edm.Int32" Nullable="false"/>
        <ReturnType Type="Collection(NorthwindModel.Product)"/>
      </Function>
      <Action Name="ResetData"/>
      <EntityContainer Name="Container">
        <EntitySet Name="Products" EntityType="NorthwindModel.Product"/>
        <FunctionImport Name="TopProducts" Function="NorthwindModel.TopProducts" EntitySet="Products"/>
        <ActionImport Name="ResetData" Action="NorthwindModel.ResetData"/>
      </EntityContainer>
    </Schema>
  </edmx:DataServices>
</edmx:Edmx>`

const (
	salesPath     = "/sap/opu/odata/sap/ZSALES_SRV"
	northwindPath = "/V4/Northwind/Northwind.svc"
	csrfToken     = "tok-123"
)

// backend fakes a SAP gateway (v2, CSRF protected) and a v4 service on one
// server and records what it received.
type backend struct {
	*httptest.Server
	mu       sync.Mutex
	requests []*http.Request
	bodies   []map[string]interface{}
}

func newBackend() *backend {
	b := &backend{}
	b.Server = httptest.NewServer(http.HandlerFunc(b.serve))
	return b
}

func (b *backend) serve(w http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
		_ = json.Unmarshal(raw, &body)
	}
	b.mu.Lock()
	b.requests = append(b.requests, r)
	b.bodies = append(b.bodies, body)
	b.mu.Unlock()

	switch {
	case strings.HasPrefix(r.URL.Path, salesPath):
		b.sales(w, r, strings.TrimPrefix(r.URL.Path, salesPath))
	case strings.HasPrefix(r.URL.Path, northwindPath):
		b.northwind(w, r, strings.TrimPrefix(r.URL.Path, northwindPath))
	default:
		http.NotFound(w, r)
	}
}

func (b *backend) sales(w http.ResponseWriter, r *http.Request, path string) {
	if r.Header.Get("X-CSRF-Token") == "Fetch" {
		w.Header().Set("X-CSRF-Token", csrfToken)
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodGet && r.Header.Get("X-CSRF-Token") != csrfToken {
		w.Header().Set("X-CSRF-Token", "Required")
		w.WriteHeader(http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch {
	case path == "/$metadata":
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, salesV2Metadata)
	case path == "/SalesOrders" && r.Method == http.MethodGet:
		fmt.Fprint(w, `{"d":{"results":[
			{"__metadata":{"type":"ZSALES_SRV.SalesOrder"},"SalesOrderID":"0500000001","Customer":"ACME","NetAmount":"100.00","OrderDate":"/Date(1700000000000)/"}
		],"__count":"1"}}`)
	case path == "/SalesOrders" && r.Method == http.MethodPost:
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"d":{"SalesOrderID":"0500000002","Customer":"Globex","NetAmount":"12.5"}}`)
	case path == "/ReleaseOrder" && r.Method == http.MethodPost:
		fmt.Fprint(w, `{"d":{"SalesOrderID":"0500000001","Customer":"ACME","NetAmount":"100.00"}}`)
	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"code":"SY/530","message":{"lang":"en","value":"Resource not found"}}}`)
	}
}

func (b *backend) northwind(w http.ResponseWriter, r *http.Request, path string) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case path == "/$metadata":
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, northwindV4Metadata)
	case path == "/Products":
		fmt.Fprint(w, `{"@odata.context":"$metadata#Products","@odata.count":77,"value":[
			{"ProductID":1,"ProductName":"Chai","UnitPrice":18},
			{"ProductID":2,"ProductName":"Chang","UnitPrice":19}
		]}`)
	case path == "/Products(1)":
		fmt.Fprint(w, `{"@odata.context":"$metadata#Products/$entity","ProductID":1,"ProductName":"Chai","UnitPrice":18}`)
	case path == "/TopProducts(count=2)":
		fmt.Fprint(w, `{"value":[{"ProductID":38,"ProductName":"Cote de Blaye"}]}`)
	case path == "/ResetData" && r.Method == http.MethodPost:
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"code":"404","message":"Not found"}}`)
	}
}

// lastBody returns the JSON body of the most recent request to path.
func (b *backend) lastBody(path string) map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.requests) - 1; i >= 0; i-- {
		if b.requests[i].URL.Path == path {
			return b.bodies[i]
		}
	}
	return nil
}
