package mcp

import (
	"encoding/json"
	"fmt"
)

// Package mcp implements the Model Context Protocol server side.
//
// Responsibilities:
//   - Speak JSON-RPC 2.0 over two transports (SSE+POST and stdio)
//   - Maintain per-session state and ordered outbound delivery
//   - Dispatch protocol methods to the tool kernel and resource catalog
//   - Sanitize wire errors: no stack traces, no request echo

// JSON-RPC 2.0 error codes used on the wire.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Protocol identity advertised by initialize.
const (
	ProtocolVersion = "2025-03-26"
	ServerName      = "reportalin-mcp"
	ServerVersion   = "2.1.0"
)

// Request is a JSON-RPC 2.0 request or notification. A nil ID marks a
// notification, which never receives a response.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no id.
func (r *Request) IsNotification() bool {
	return r.ID == nil
}

// Response is a JSON-RPC 2.0 response. Exactly one of Result and Error
// is set.
type Response struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id"`
	Result  interface{}      `json:"result,omitempty"`
	Error   *Error           `json:"error,omitempty"`
}

// Error is the JSON-RPC 2.0 error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc %d: %s", e.Code, e.Message)
}

// NewResult builds a success response bound to the request id.
func NewResult(id *json.RawMessage, result interface{}) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Result: result}
}

// NewError builds an error response bound to the request id. Message
// text must already be sanitized by the caller.
func NewError(id *json.RawMessage, code int, message string) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &Error{Code: code, Message: message},
	}
}

// ParseRequest decodes one JSON-RPC request from raw bytes. Malformed
// JSON maps to -32700, a wrong envelope to -32600.
func ParseRequest(raw []byte) (*Request, *Response) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, NewError(nil, CodeParseError, "parse error")
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		return nil, NewError(req.ID, CodeInvalidRequest, "invalid request")
	}
	return &req, nil
}
