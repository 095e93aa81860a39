// Package stdio carries newline-delimited JSON-RPC over stdin and stdout.
package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/zmcp/odata-mcp-gateway/internal/debug"
	"github.com/zmcp/odata-mcp-gateway/internal/transport"
)

const maxLineSize = 16 * 1024 * 1024

// StdioTransport implements the Transport interface for stdio communication.
// Requests are handled concurrently; responses may be written out of order.
type StdioTransport struct {
	reader  io.Reader
	writer  io.Writer
	handler transport.Handler
	tracer  *debug.TraceLogger
	logger  *slog.Logger

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// New creates a transport reading from r and writing to w.
func New(r io.Reader, w io.Writer, handler transport.Handler) *StdioTransport {
	return &StdioTransport{
		reader:  r,
		writer:  w,
		handler: handler,
		logger:  slog.Default(),
	}
}

// SetTracer sets the trace logger
func (t *StdioTransport) SetTracer(tracer *debug.TraceLogger) {
	t.tracer = tracer
}

// SetLogger sets the logger for transport-level problems.
func (t *StdioTransport) SetLogger(logger *slog.Logger) {
	if logger != nil {
		t.logger = logger
	}
}

// Start processes messages until EOF or ctx is done, then waits for
// in-flight requests.
func (t *StdioTransport) Start(ctx context.Context) error {
	lines := make(chan []byte)
	readErr := make(chan error, 1)

	go func() {
		sc := bufio.NewScanner(t.reader)
		sc.Buffer(make([]byte, 64*1024), maxLineSize)
		for sc.Scan() {
			line := append([]byte(nil), sc.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	defer t.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case line := <-lines:
			t.dispatch(ctx, line)
		}
	}
}

func (t *StdioTransport) dispatch(ctx context.Context, line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	t.tracer.LogRequest(line)

	var msg transport.Message
	if err := json.Unmarshal(line, &msg); err != nil {
		t.logger.Warn("Discarding unparseable message", "error", err)
		t.write(errorMessage(nil, transport.CodeParseError, "Parse error", err.Error()))
		return
	}
	if msg.Method == "" || t.handler == nil {
		return
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		resp, err := t.handler(ctx, &msg)
		switch {
		case err != nil:
			if !msg.IsNotification() {
				t.write(errorMessage(msg.ID, transport.CodeInternalError, err.Error(), ""))
			}
		case resp != nil:
			t.write(resp)
		}
	}()
}

func (t *StdioTransport) write(msg *transport.Message) {
	if err := t.WriteMessage(msg); err != nil {
		t.logger.Error("Failed to write message", "error", err)
	}
}

func errorMessage(id json.RawMessage, code int, message, data string) *transport.Message {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	e := &transport.Error{Code: code, Message: message}
	if data != "" {
		e.Data, _ = json.Marshal(data)
	}
	return &transport.Message{JSONRPC: "2.0", ID: id, Error: e}
}

// WriteMessage writes one JSON message followed by a newline.
func (t *StdioTransport) WriteMessage(msg *transport.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		t.tracer.LogError("Failed to marshal message", err, nil)
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	t.tracer.LogResponse(msg)

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.writer.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}

// Close waits for in-flight requests. Stdin and stdout are left open.
func (t *StdioTransport) Close() error {
	t.wg.Wait()
	return nil
}
