// Package mcp implements the Model Context Protocol server surface: the
// lifecycle handshake, tools/list and tools/call over a JSON-RPC transport.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zmcp/odata-mcp-gateway/internal/bridgeerr"
	"github.com/zmcp/odata-mcp-gateway/internal/constants"
	"github.com/zmcp/odata-mcp-gateway/internal/observability"
	"github.com/zmcp/odata-mcp-gateway/internal/transport"
)

// Tool represents an MCP tool
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// ToolSource supplies the current tool list and executes calls. The list
// may change between requests.
type ToolSource interface {
	ListTools() []*Tool
	CallTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error)
}

// ErrorData is the structured data attached to a failed tools/call.
type ErrorData struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	System  string `json:"system,omitempty"`
	Tool    string `json:"tool"`
	Status  int    `json:"status,omitempty"`
}

// Request represents an incoming MCP request
type Request struct {
	JSONRPC string                 `json:"jsonrpc"`
	ID      json.RawMessage        `json:"id"`
	Method  string                 `json:"method"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Server represents an MCP server
type Server struct {
	name            string
	version         string
	protocolVersion string
	source          ToolSource
	transport       transport.Transport
	logger          *slog.Logger
	mu              sync.RWMutex
	initialized     bool
}

// NewServer creates a new MCP server reading tools from source.
func NewServer(name, version string, source ToolSource, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		name:            name,
		version:         version,
		protocolVersion: constants.MCPProtocolVersion,
		source:          source,
		logger:          logger,
	}
}

// SetProtocolVersion sets the MCP protocol version to use
func (s *Server) SetProtocolVersion(version string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.protocolVersion = version
}

// SetTransport sets the transport for the server
func (s *Server) SetTransport(t transport.Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transport = t
}

// Run serves until the transport input ends or ctx is done.
func (s *Server) Run(ctx context.Context) error {
	s.mu.RLock()
	t := s.transport
	s.mu.RUnlock()
	if t == nil {
		return fmt.Errorf("transport not set")
	}
	return t.Start(ctx)
}

// HandleMessage processes incoming transport messages
func (s *Server) HandleMessage(ctx context.Context, msg *transport.Message) (*transport.Message, error) {
	if msg.JSONRPC != "2.0" {
		return s.errorResponse(msg.ID, transport.CodeInvalidRequest, "Invalid Request", "JSON-RPC version must be 2.0"), nil
	}

	req := &Request{
		JSONRPC: msg.JSONRPC,
		ID:      msg.ID,
		Method:  msg.Method,
		Params:  map[string]interface{}{},
	}
	if len(msg.Params) > 0 && string(msg.Params) != "null" {
		// Numbers stay json.Number so Int64 keys above 2^53 survive.
		dec := json.NewDecoder(bytes.NewReader(msg.Params))
		dec.UseNumber()
		if err := dec.Decode(&req.Params); err != nil {
			return s.errorResponse(msg.ID, transport.CodeParseError, "Parse error", err.Error()), nil
		}
	}

	// Notifications get no response.
	switch req.Method {
	case "initialized", "notifications/initialized":
		s.mu.Lock()
		s.initialized = true
		s.mu.Unlock()
		return nil, nil
	case "notifications/cancelled":
		return nil, nil
	}

	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	case "resources/list":
		return s.createResponse(req.ID, map[string]interface{}{"resources": []interface{}{}})
	case "prompts/list":
		return s.createResponse(req.ID, map[string]interface{}{"prompts": []interface{}{}})
	case "ping":
		return s.createResponse(req.ID, map[string]interface{}{})
	default:
		if msg.IsNotification() {
			return nil, nil
		}
		return s.errorResponse(req.ID, transport.CodeMethodNotFound, "Method not found", req.Method), nil
	}
}

// normalizeID maps a missing or null id to 0, which some desktop clients
// require.
func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 || string(id) == "null" {
		return json.RawMessage("0")
	}
	return id
}

func (s *Server) errorResponse(id json.RawMessage, code int, message string, data interface{}) *transport.Message {
	e := &transport.Error{Code: code, Message: message}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			e.Data = raw
		}
	}
	return &transport.Message{JSONRPC: "2.0", ID: normalizeID(id), Error: e}
}

func (s *Server) createResponse(id json.RawMessage, result interface{}) (*transport.Message, error) {
	resultBytes, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &transport.Message{JSONRPC: "2.0", ID: normalizeID(id), Result: resultBytes}, nil
}

func (s *Server) handleInitialize(req *Request) (*transport.Message, error) {
	s.mu.RLock()
	version := s.protocolVersion
	s.mu.RUnlock()

	result := map[string]interface{}{
		"capabilities": map[string]interface{}{
			"prompts":   map[string]interface{}{"listChanged": false},
			"resources": map[string]interface{}{"listChanged": false, "subscribe": false},
			"tools":     map[string]interface{}{"listChanged": true},
		},
		"protocolVersion": version,
		"serverInfo": map[string]interface{}{
			"name":    s.name,
			"version": s.version,
		},
	}
	return s.createResponse(req.ID, result)
}

func (s *Server) handleToolsList(req *Request) (*transport.Message, error) {
	tools := s.source.ListTools()
	if tools == nil {
		tools = []*Tool{}
	}
	return s.createResponse(req.ID, map[string]interface{}{"tools": tools})
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) (*transport.Message, error) {
	name, ok := req.Params["name"].(string)
	if !ok || name == "" {
		return s.errorResponse(req.ID, transport.CodeInvalidParams, "Invalid params", "Missing tool name"), nil
	}
	args, _ := req.Params["arguments"].(map[string]interface{})
	if args == nil {
		args = map[string]interface{}{}
	}

	ctx, span := observability.Tracer.Start(ctx, "tools/call", trace.WithAttributes(attribute.String("mcp.tool", name)))
	defer span.End()

	result, err := s.source.CallTool(ctx, name, args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		code, message, data := categorizeError(err, name)
		s.logger.Debug("Tool call failed", "tool", name, "kind", data.Kind, "error", err)
		return s.errorResponse(req.ID, code, message, data), nil
	}

	text, err := resultText(result)
	if err != nil {
		return s.errorResponse(req.ID, transport.CodeInternalError, "Failed to encode result", err.Error()), nil
	}
	return s.createResponse(req.ID, map[string]interface{}{
		"content": []map[string]interface{}{
			{"type": "text", "text": text},
		},
	})
}

func resultText(result interface{}) (string, error) {
	switch v := result.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// categorizeError maps a tool failure to a JSON-RPC code. Caller mistakes
// (bad arguments, unknown targets, 4xx rejections of the request itself)
// are invalid params; everything else is internal.
func categorizeError(err error, toolName string) (int, string, ErrorData) {
	data := ErrorData{Kind: "internal", Message: err.Error(), Tool: toolName}

	var be *bridgeerr.Error
	if errors.As(err, &be) {
		data.Kind = string(be.Kind)
		data.Message = be.Message
		if be.Err != nil {
			data.Message += ": " + be.Err.Error()
		}
		data.System = be.System
		data.Status = be.Status
	}

	code := transport.CodeInternalError
	switch bridgeerr.Kind(data.Kind) {
	case bridgeerr.KindValidation, bridgeerr.KindNotFound:
		code = transport.CodeInvalidParams
	case bridgeerr.KindRequest:
		switch data.Status {
		case 400, 404, 405, 422:
			code = transport.CodeInvalidParams
		}
	}

	return code, fmt.Sprintf("OData MCP tool '%s' failed: %s", toolName, data.Message), data
}

// SendNotification sends a notification through the transport
func (s *Server) SendNotification(method string, params interface{}) error {
	s.mu.RLock()
	t := s.transport
	s.mu.RUnlock()
	if t == nil {
		return fmt.Errorf("transport not set")
	}

	msg := &transport.Message{JSONRPC: "2.0", Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return err
		}
		msg.Params = raw
	}
	return t.WriteMessage(msg)
}

// NotifyToolsChanged tells an initialized client to re-list tools.
func (s *Server) NotifyToolsChanged() {
	s.mu.RLock()
	ready := s.initialized && s.transport != nil
	s.mu.RUnlock()
	if !ready {
		return
	}
	if err := s.SendNotification("notifications/tools/list_changed", nil); err != nil {
		s.logger.Warn("Failed to send tools/list_changed", "error", err)
	}
}
