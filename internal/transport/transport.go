// Package transport defines the JSON-RPC message framing shared by the MCP
// server and its transports.
package transport

import (
	"context"
	"encoding/json"
)

// JSON-RPC 2.0 error codes
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Message represents a JSON-RPC message
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// IsNotification reports whether the message is a request without an id.
func (m *Message) IsNotification() bool {
	return m.Method != "" && (len(m.ID) == 0 || string(m.ID) == "null")
}

// Error represents a JSON-RPC error
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Transport defines the interface for MCP communication transports
type Transport interface {
	// Start reads and dispatches messages until the input ends or ctx is done.
	Start(ctx context.Context) error

	// WriteMessage writes a message to the peer. It is safe for concurrent use.
	WriteMessage(msg *Message) error

	// Close gracefully shuts down the transport
	Close() error
}

// Handler processes incoming messages and returns responses. A nil response
// sends nothing.
type Handler func(ctx context.Context, msg *Message) (*Message, error)
