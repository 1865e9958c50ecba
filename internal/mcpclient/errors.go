package mcpclient

import "fmt"

// ConnectionFailedError reports a transport-level failure: the stream
// could not be opened, or dropped and took pending calls with it.
type ConnectionFailedError struct {
	Cause error
}

func (e *ConnectionFailedError) Error() string {
	return fmt.Sprintf("connection failed: %v", e.Cause)
}

func (e *ConnectionFailedError) Unwrap() error { return e.Cause }

// AuthenticationFailedError reports a rejected token. Not retried: the
// token will not get better on its own.
type AuthenticationFailedError struct {
	Status int
}

func (e *AuthenticationFailedError) Error() string {
	return fmt.Sprintf("authentication failed: http %d", e.Status)
}

// ToolExecutionFailedError reports a tool that ran and failed.
type ToolExecutionFailedError struct {
	Tool  string
	Cause error
}

func (e *ToolExecutionFailedError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Cause)
}

func (e *ToolExecutionFailedError) Unwrap() error { return e.Cause }

// ProtocolError reports a server response that violates the protocol:
// malformed frames, JSON-RPC errors on lifecycle methods, and the like.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Message
}
