package test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/zmcp/odata-mcp-gateway/internal/bridge"
	"github.com/zmcp/odata-mcp-gateway/internal/config"
	"github.com/zmcp/odata-mcp-gateway/internal/constants"
	"github.com/zmcp/odata-mcp-gateway/internal/mcp"
	"github.com/zmcp/odata-mcp-gateway/internal/transport/stdio"
)

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// GatewaySuite runs the gateway in process over an in-memory stdio pipe
// against a fake SAP and v4 backend.
type GatewaySuite struct {
	suite.Suite

	backend *backend
	gateway *bridge.Bridge
	cancel  context.CancelFunc
	done    chan error

	stdin  *io.PipeWriter
	nextID int

	mu            sync.Mutex
	pending       map[string]chan rpcMessage
	notifications chan rpcMessage
}

func TestGatewaySuite(t *testing.T) {
	suite.Run(t, new(GatewaySuite))
}

func (s *GatewaySuite) SetupTest() {
	s.backend = newBackend()

	cfg := &config.Config{
		SortTools:       true,
		LegacyDates:     true,
		PaginationHints: true,
		MaxItems:        constants.DefaultMaxItems,
		MaxResponseSize: constants.DefaultMaxResponseSize,
	}
	systems := []config.SystemConfig{
		{ID: "erp", Name: "ERP", BaseURL: s.backend.URL, Services: []string{salesPath}},
		{ID: "northwind", BaseURL: s.backend.URL + northwindPath},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw, err := bridge.New(cfg, nil, logger)
	s.Require().NoError(err)
	s.Require().NoError(gw.Load(context.Background(), systems))
	s.gateway = gw

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	s.stdin = inW
	s.pending = map[string]chan rpcMessage{}
	s.notifications = make(chan rpcMessage, 8)

	server := mcp.NewServer(constants.MCPServerName, constants.MCPServerVersion, gw, logger)
	trans := stdio.New(inR, outW, server.HandleMessage)
	server.SetTransport(trans)
	gw.OnToolsChanged(server.NotifyToolsChanged)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan error, 1)
	go func() { s.done <- server.Run(ctx) }()
	go s.readLoop(outR)

	s.call("initialize", map[string]interface{}{"protocolVersion": constants.MCPProtocolVersion})
	s.notify("notifications/initialized")
}

func (s *GatewaySuite) TearDownTest() {
	s.stdin.Close()
	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		s.cancel()
	}
	s.cancel()
	s.backend.Close()
}

func (s *GatewaySuite) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		var msg rpcMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		if len(msg.ID) == 0 {
			s.notifications <- msg
			continue
		}
		s.mu.Lock()
		ch := s.pending[string(msg.ID)]
		s.mu.Unlock()
		if ch != nil {
			ch <- msg
		}
	}
}

func (s *GatewaySuite) send(v interface{}) {
	raw, err := json.Marshal(v)
	s.Require().NoError(err)
	_, err = s.stdin.Write(append(raw, '\n'))
	s.Require().NoError(err)
}

func (s *GatewaySuite) notify(method string) {
	s.send(map[string]interface{}{"jsonrpc": "2.0", "method": method})
}

func (s *GatewaySuite) call(method string, params interface{}) rpcMessage {
	s.nextID++
	id, _ := json.Marshal(s.nextID)
	ch := make(chan rpcMessage, 1)
	s.mu.Lock()
	s.pending[string(id)] = ch
	s.mu.Unlock()

	s.send(map[string]interface{}{"jsonrpc": "2.0", "id": s.nextID, "method": method, "params": params})
	select {
	case msg := <-ch:
		return msg
	case <-time.After(10 * time.Second):
		s.FailNow("timed out waiting for " + method)
	}
	return rpcMessage{}
}

// callTool invokes a tool and decodes the JSON text content of the result.
func (s *GatewaySuite) callTool(name string, args map[string]interface{}) (map[string]interface{}, *rpcError) {
	msg := s.call("tools/call", map[string]interface{}{"name": name, "arguments": args})
	if msg.Error != nil {
		return nil, msg.Error
	}
	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	s.Require().NoError(json.Unmarshal(msg.Result, &result))
	s.Require().Len(result.Content, 1)
	s.Equal("text", result.Content[0].Type)

	var out map[string]interface{}
	s.Require().NoError(json.Unmarshal([]byte(result.Content[0].Text), &out))
	return out, nil
}

func (s *GatewaySuite) toolNames() []string {
	msg := s.call("tools/list", map[string]interface{}{})
	s.Require().Nil(msg.Error)
	var result struct {
		Tools []mcp.Tool `json:"tools"`
	}
	s.Require().NoError(json.Unmarshal(msg.Result, &result))
	names := make([]string, 0, len(result.Tools))
	for _, t := range result.Tools {
		names = append(names, t.Name)
	}
	return names
}

func (s *GatewaySuite) TestToolsList() {
	names := s.toolNames()
	for _, want := range []string{
		"odata_list_systems",
		"odata_refresh_metadata",
		"odata_service_info_for_erp",
		"odata_service_info_for_northwind",
		"filter_SalesOrders_for_ZSALES_S",
		"create_SalesOrders_for_ZSALES_S",
		"call_ReleaseOrder_for_ZSALES_S",
		"filter_Products_for_NorthSvc",
		"get_Products_for_NorthSvc",
		"call_TopProducts_for_NorthSvc",
		"call_ResetData_for_NorthSvc",
	} {
		s.Contains(names, want)
	}
	s.NotContains(names, "delete_SalesOrders_for_ZSALES_S")
	s.IsIncreasing(names)
}

func (s *GatewaySuite) TestFilterV2NormalizesEnvelope() {
	out, rpcErr := s.callTool("filter_SalesOrders_for_ZSALES_S", map[string]interface{}{"$count": true, "$top": 1})
	s.Require().Nil(rpcErr)

	s.EqualValues(1, out["count"])
	data := out["data"].([]interface{})
	s.Require().Len(data, 1)
	order := data[0].(map[string]interface{})
	s.Equal("ACME", order["Customer"])
	s.Equal("2023-11-14T22:13:20Z", order["OrderDate"])
	s.NotContains(order, "__metadata")
}

func (s *GatewaySuite) TestFilterV4WithPagination() {
	out, rpcErr := s.callTool("filter_Products_for_NorthSvc", map[string]interface{}{"$top": 2, "$count": true})
	s.Require().Nil(rpcErr)

	s.EqualValues(77, out["count"])
	s.Len(out["data"], 2)
	page := out["pagination"].(map[string]interface{})
	s.Equal(true, page["has_more"])
	s.Equal("Use $skip=2 and $top=2 for next page", page["suggested_next_call"])
}

func (s *GatewaySuite) TestCreateV2SendsCSRFAndCoercesDecimals() {
	out, rpcErr := s.callTool("create_SalesOrders_for_ZSALES_S", map[string]interface{}{
		"Customer":  "Globex",
		"NetAmount": 12.5,
		"OrderDate": "2023-11-14T22:13:20Z",
	})
	s.Require().Nil(rpcErr)
	s.Equal("0500000002", out["data"].(map[string]interface{})["SalesOrderID"])

	body := s.backend.lastBody(salesPath + "/SalesOrders")
	s.Require().NotNil(body)
	s.Equal("12.5", body["NetAmount"])
	s.Equal("/Date(1700000000000)/", body["OrderDate"])
}

func (s *GatewaySuite) TestFunctionsAndActions() {
	out, rpcErr := s.callTool("call_TopProducts_for_NorthSvc", map[string]interface{}{"count": 2})
	s.Require().Nil(rpcErr)
	s.Len(out["data"], 1)

	out, rpcErr = s.callTool("call_ReleaseOrder_for_ZSALES_S", map[string]interface{}{"SalesOrderID": "0500000001"})
	s.Require().Nil(rpcErr)
	s.Equal("ACME", out["data"].(map[string]interface{})["Customer"])

	out, rpcErr = s.callTool("call_ResetData_for_NorthSvc", map[string]interface{}{})
	s.Require().Nil(rpcErr)
	s.Equal(true, out["executed"])
}

func (s *GatewaySuite) TestErrorsCarrySystem() {
	_, rpcErr := s.callTool("get_Products_for_NorthSvc", map[string]interface{}{"ProductID": 999})
	s.Require().NotNil(rpcErr)
	s.Equal(-32602, rpcErr.Code)

	var data struct {
		Kind   string `json:"kind"`
		System string `json:"system"`
		Status int    `json:"status"`
	}
	s.Require().NoError(json.Unmarshal(rpcErr.Data, &data))
	s.Equal("request", data.Kind)
	s.Equal("northwind", data.System)
	s.Equal(404, data.Status)

	_, rpcErr = s.callTool("get_Products_for_NorthSvc", map[string]interface{}{})
	s.Require().NotNil(rpcErr)
	s.Equal(-32602, rpcErr.Code)

	_, rpcErr = s.callTool("no_such_tool", nil)
	s.Require().NotNil(rpcErr)
	s.Equal(-32602, rpcErr.Code)
}

func (s *GatewaySuite) TestRefreshEmitsListChanged() {
	out, rpcErr := s.callTool("odata_refresh_metadata", map[string]interface{}{"system": "northwind"})
	s.Require().Nil(rpcErr)
	s.Equal([]interface{}{"northwind"}, out["refreshed"])

	select {
	case msg := <-s.notifications:
		s.Equal("notifications/tools/list_changed", msg.Method)
	case <-time.After(5 * time.Second):
		s.Fail("no tools/list_changed notification")
	}
}

func (s *GatewaySuite) TestListSystems() {
	out, rpcErr := s.callTool("odata_list_systems", nil)
	s.Require().Nil(rpcErr)
	s.EqualValues(2, out["count"])

	systems := out["systems"].([]interface{})
	erp := systems[0].(map[string]interface{})
	s.Equal("erp", erp["id"])
	s.Equal("ERP", erp["name"])
	s.Equal("ok", erp["status"])
}

func TestConcurrentToolCalls(t *testing.T) {
	be := newBackend()
	defer be.Close()

	gw, err := bridge.New(&config.Config{LegacyDates: true}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	require.NoError(t, gw.Load(context.Background(), []config.SystemConfig{
		{ID: "northwind", BaseURL: be.URL + northwindPath},
	}))

	var wg sync.WaitGroup
	errs := make(chan error, 21)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := gw.CallTool(context.Background(), "filter_Products_for_NorthSvc", map[string]interface{}{"$top": 2})
			errs <- err
		}()
		if i == 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- gw.Refresh(context.Background(), "northwind")
			}()
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}
