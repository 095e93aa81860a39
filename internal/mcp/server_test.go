package mcp

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zmcp/odata-mcp-gateway/internal/bridgeerr"
	"github.com/zmcp/odata-mcp-gateway/internal/transport"
)

type fakeSource struct {
	tools  []*Tool
	result interface{}
	err    error
	args   map[string]interface{}
}

func (f *fakeSource) ListTools() []*Tool { return f.tools }

func (f *fakeSource) CallTool(_ context.Context, _ string, args map[string]interface{}) (interface{}, error) {
	f.args = args
	return f.result, f.err
}

type recorder struct {
	mu   sync.Mutex
	msgs []*transport.Message
}

func (r *recorder) Start(context.Context) error { return nil }
func (r *recorder) Close() error                { return nil }
func (r *recorder) WriteMessage(m *transport.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
	return nil
}

func call(t *testing.T, s *Server, raw string) *transport.Message {
	t.Helper()
	var msg transport.Message
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	resp, err := s.HandleMessage(context.Background(), &msg)
	require.NoError(t, err)
	return resp
}

func TestInitializeAndList(t *testing.T) {
	src := &fakeSource{tools: []*Tool{{Name: "filter_Products", InputSchema: map[string]interface{}{"type": "object"}}}}
	s := NewServer("gw", "1.0.0", src, nil)

	resp := call(t, s, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05"}}`)
	var init map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Result, &init))
	assert.Equal(t, "2024-11-05", init["protocolVersion"])
	assert.Equal(t, true, init["capabilities"].(map[string]interface{})["tools"].(map[string]interface{})["listChanged"])

	resp = call(t, s, `{"jsonrpc":"2.0","id":"a","method":"tools/list"}`)
	assert.Equal(t, `"a"`, string(resp.ID))
	var list struct {
		Tools []Tool `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &list))
	require.Len(t, list.Tools, 1)
	assert.Equal(t, "filter_Products", list.Tools[0].Name)
}

func TestEmptyToolListIsArray(t *testing.T) {
	s := NewServer("gw", "1", &fakeSource{}, nil)
	resp := call(t, s, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	assert.JSONEq(t, `{"tools":[]}`, string(resp.Result))
}

func TestToolsCall(t *testing.T) {
	src := &fakeSource{result: map[string]interface{}{"value": []interface{}{1}}}
	s := NewServer("gw", "1", src, nil)

	resp := call(t, s, `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"filter_Products","arguments":{"$top":5}}}`)
	require.Nil(t, resp.Error)
	assert.Equal(t, json.Number("5"), src.args["$top"])

	var out struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &out))
	require.Len(t, out.Content, 1)
	assert.Equal(t, "text", out.Content[0].Type)
	assert.JSONEq(t, `{"value":[1]}`, out.Content[0].Text)
}

func TestToolsCallKeepsLargeIntegers(t *testing.T) {
	src := &fakeSource{result: map[string]interface{}{}}
	s := NewServer("gw", "1", src, nil)

	resp := call(t, s, `{"jsonrpc":"2.0","id":8,"method":"tools/call","params":{"name":"get_Orders","arguments":{"OrderID":9007199254740993}}}`)
	require.Nil(t, resp.Error)
	assert.Equal(t, json.Number("9007199254740993"), src.args["OrderID"])
}

func TestToolsCallErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantKind string
		system   string
	}{
		{"validation", bridgeerr.Newf(bridgeerr.KindValidation, "missing key property ID").WithSystem("erp"), transport.CodeInvalidParams, "validation", "erp"},
		{"not found", bridgeerr.Newf(bridgeerr.KindNotFound, "unknown tool"), transport.CodeInvalidParams, "not_found", ""},
		{"backend 404", bridgeerr.Request(404, "Resource not found", nil).WithSystem("crm"), transport.CodeInvalidParams, "request", "crm"},
		{"backend 500", bridgeerr.Request(500, "boom", nil), transport.CodeInternalError, "request", ""},
		{"auth", bridgeerr.Newf(bridgeerr.KindAuth, "token expired"), transport.CodeInternalError, "auth", ""},
		{"plain", assert.AnError, transport.CodeInternalError, "internal", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer("gw", "1", &fakeSource{err: tt.err}, nil)
			resp := call(t, s, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"get_X"}}`)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.Contains(t, resp.Error.Message, "get_X")

			var data ErrorData
			require.NoError(t, json.Unmarshal(resp.Error.Data, &data))
			assert.Equal(t, tt.wantKind, data.Kind)
			assert.Equal(t, "get_X", data.Tool)
			assert.Equal(t, tt.system, data.System)
			assert.NotEmpty(t, data.Message)
		})
	}
}

func TestProtocolErrors(t *testing.T) {
	s := NewServer("gw", "1", &fakeSource{}, nil)

	resp := call(t, s, `{"jsonrpc":"1.0","id":1,"method":"ping"}`)
	assert.Equal(t, transport.CodeInvalidRequest, resp.Error.Code)

	resp = call(t, s, `{"jsonrpc":"2.0","id":1,"method":"nope"}`)
	assert.Equal(t, transport.CodeMethodNotFound, resp.Error.Code)

	resp = call(t, s, `{"jsonrpc":"2.0","id":null,"method":"tools/call","params":{}}`)
	assert.Equal(t, transport.CodeInvalidParams, resp.Error.Code)
	assert.Equal(t, "0", string(resp.ID))

	assert.Nil(t, call(t, s, `{"jsonrpc":"2.0","method":"notifications/unknown"}`))
}

func TestNotifyToolsChangedAfterInitialized(t *testing.T) {
	rec := &recorder{}
	s := NewServer("gw", "1", &fakeSource{}, nil)
	s.SetTransport(rec)

	s.NotifyToolsChanged()
	assert.Empty(t, rec.msgs)

	assert.Nil(t, call(t, s, `{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	s.NotifyToolsChanged()
	require.Len(t, rec.msgs, 1)
	assert.Equal(t, "notifications/tools/list_changed", rec.msgs[0].Method)
	assert.Empty(t, rec.msgs[0].ID)
}
