// Package bridgeerr defines the typed errors surfaced by the gateway.
package bridgeerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an Error.
type Kind string

const (
	KindMetadataParse        Kind = "metadata_parse"
	KindUnresolvedEntityType Kind = "unresolved_entity_type"
	KindToolNameCollision    Kind = "tool_name_collision"
	KindConfig               Kind = "config"
	KindRequest              Kind = "request"
	KindValidation           Kind = "validation"
	KindNotFound             Kind = "not_found"
	KindAuth                 Kind = "auth"
)

// Error is a typed error carrying the system it relates to. It can be surfaced
// to MCP clients without leaking transport details.
type Error struct {
	Kind    Kind
	System  string
	Service string
	Message string
	// Status is the HTTP status for KindRequest errors, 0 otherwise.
	Status int
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.System != "" {
		b.WriteString(" [")
		b.WriteString(e.System)
		b.WriteString("]")
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// New constructs a new typed Error.
func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Newf constructs a new typed Error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithSystem returns a copy of e tagged with the given system id.
func (e *Error) WithSystem(system string) *Error {
	c := *e
	c.System = system
	return &c
}

// WithService returns a copy of e tagged with the given service URL.
func (e *Error) WithService(service string) *Error {
	c := *e
	c.Service = service
	return &c
}

// Request builds a KindRequest error for a failed HTTP exchange.
func Request(status int, message string, err error) *Error {
	return &Error{Kind: KindRequest, Status: status, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsWarning reports whether the kind is informational and does not abort generation.
func (k Kind) IsWarning() bool {
	return k == KindUnresolvedEntityType || k == KindToolNameCollision
}
