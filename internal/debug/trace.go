package debug

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TraceLogger writes one JSON object per line for every MCP message. A nil
// *TraceLogger is valid and discards everything.
type TraceLogger struct {
	mu       sync.Mutex
	w        io.Writer
	closer   io.Closer
	filename string
}

// NewTraceLogger creates mcp_trace_<timestamp>.log in dir (the system temp
// dir when empty).
func NewTraceLogger(dir string) (*TraceLogger, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	filename := filepath.Join(dir, fmt.Sprintf("mcp_trace_%s.log", time.Now().Format("20060102_150405")))

	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace file: %w", err)
	}

	t := &TraceLogger{w: file, closer: file, filename: filename}
	t.Log("TRACE", "Trace logging started", map[string]interface{}{
		"filename": filename,
		"pid":      os.Getpid(),
	})
	return t, nil
}

// NewTraceWriter traces to w.
func NewTraceWriter(w io.Writer) *TraceLogger {
	return &TraceLogger{w: w}
}

// Log writes a trace entry. Sensitive fields in data are masked.
func (t *TraceLogger) Log(level, message string, data interface{}) {
	if t == nil {
		return
	}

	entry := map[string]interface{}{
		"timestamp": time.Now().Format(time.RFC3339Nano),
		"level":     level,
		"message":   message,
	}
	if data != nil {
		entry["data"] = MaskFields(toGeneric(data))
	}

	line, err := json.Marshal(entry)
	if err != nil {
		line, _ = json.Marshal(map[string]interface{}{
			"timestamp": entry["timestamp"],
			"level":     "ERROR",
			"message":   "unencodable trace entry: " + err.Error(),
		})
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.w.Write(append(line, '\n'))
	if f, ok := t.w.(*os.File); ok {
		f.Sync()
	}
}

// toGeneric round-trips structs through JSON so MaskFields can see their
// members.
func toGeneric(data interface{}) interface{} {
	switch data.(type) {
	case map[string]interface{}, []interface{}, string, nil:
		return data
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return string(raw)
	}
	return out
}

// LogRequest logs an incoming JSON-RPC message as received.
func (t *TraceLogger) LogRequest(raw []byte) {
	if t == nil {
		return
	}
	var parsed interface{}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Log("REQUEST", "Unparseable request", map[string]interface{}{"raw": string(raw)})
		return
	}
	t.Log("REQUEST", "Incoming request", parsed)
}

// LogResponse logs an outgoing JSON-RPC message.
func (t *TraceLogger) LogResponse(response interface{}) {
	t.Log("RESPONSE", "Outgoing response", response)
}

// LogError logs an error with context.
func (t *TraceLogger) LogError(context string, err error, data interface{}) {
	t.Log("ERROR", context, map[string]interface{}{
		"error": err.Error(),
		"data":  data,
	})
}

// Filename returns the trace file path, or "" when not tracing to a file.
func (t *TraceLogger) Filename() string {
	if t == nil {
		return ""
	}
	return t.filename
}

// Close closes the trace file.
func (t *TraceLogger) Close() error {
	if t == nil || t.closer == nil {
		return nil
	}
	t.Log("TRACE", "Trace logging stopped", nil)
	return t.closer.Close()
}
