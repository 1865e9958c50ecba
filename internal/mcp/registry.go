package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/reportalin/reportalin-mcp/internal/logging"
	"github.com/reportalin/reportalin-mcp/internal/metrics"
	"github.com/reportalin/reportalin-mcp/internal/tools"
)

// ContentBlock is one element of a tools/call result.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// CallResult is the tools/call result envelope. Tool-level failures set
// IsError instead of surfacing as protocol errors so the calling model
// can read and recover from them.
type CallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// Dispatcher routes JSON-RPC methods to the tool kernel and resource
// catalog. It is transport-agnostic: SSE and stdio both feed it.
type Dispatcher struct {
	kernel    *tools.Kernel
	resources *Catalog
	logger    *zap.Logger
}

// NewDispatcher builds the method registry.
func NewDispatcher(kernel *tools.Kernel, resources *Catalog, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{kernel: kernel, resources: resources, logger: logger}
}

// Dispatch handles one request. Notifications return nil: the caller
// must not send anything back for them.
func (d *Dispatcher) Dispatch(ctx context.Context, sess *Session, req *Request) *Response {
	start := time.Now()
	resp := d.route(ctx, sess, req)

	outcome := logging.OutcomeOK
	if resp != nil && resp.Error != nil {
		outcome = logging.OutcomeError
	}
	sessionID := ""
	if sess != nil {
		sessionID = sess.ID
	}
	logging.LogRequest(d.logger, requestID(req), sessionID, req.Method, time.Since(start), outcome, nil)
	metrics.RequestDuration.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())
	metrics.RequestsTotal.WithLabelValues(req.Method, string(outcome)).Inc()

	if req.IsNotification() {
		return nil
	}
	return resp
}

func (d *Dispatcher) route(ctx context.Context, sess *Session, req *Request) *Response {
	// initialize must be the first exchange on a session; anything else
	// from an opening session is a protocol violation.
	if sess != nil && sess.State() == StateOpening && req.Method != "initialize" {
		if req.IsNotification() {
			return nil
		}
		return NewError(req.ID, CodeInvalidRequest, "initialize must be the first request")
	}

	switch req.Method {
	case "initialize":
		return d.handleInitialize(sess, req)
	case "notifications/initialized":
		if sess != nil {
			sess.advance(StateActive)
		}
		return nil
	case "tools/list":
		return d.handleToolsList(req)
	case "tools/call":
		return d.handleToolsCall(ctx, sess, req)
	case "resources/list":
		return d.handleResourcesList(req)
	case "resources/read":
		return d.handleResourcesRead(req)
	case "ping":
		return NewResult(req.ID, struct{}{})
	default:
		return NewError(req.ID, CodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

func (d *Dispatcher) handleInitialize(sess *Session, req *Request) *Response {
	if sess != nil {
		sess.advance(StateInitialized)
	}
	return NewResult(req.ID, map[string]interface{}{
		"protocolVersion": ProtocolVersion,
		"capabilities": map[string]interface{}{
			"tools":     map[string]interface{}{},
			"resources": map[string]interface{}{},
			"logging":   map[string]interface{}{},
		},
		"serverInfo": map[string]interface{}{
			"name":    ServerName,
			"version": ServerVersion,
		},
	})
}

func (d *Dispatcher) handleToolsList(req *Request) *Response {
	defs := d.kernel.List()
	out := make([]map[string]interface{}, 0, len(defs))
	for _, def := range defs {
		out = append(out, map[string]interface{}{
			"name":        def.Name,
			"description": def.Description,
			"inputSchema": def.InputSchema,
		})
	}
	return NewResult(req.ID, map[string]interface{}{"tools": out})
}

// toolsCallParams is the tools/call parameter envelope.
type toolsCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

func (d *Dispatcher) handleToolsCall(ctx context.Context, sess *Session, req *Request) *Response {
	var params toolsCallParams
	if len(req.Params) == 0 {
		return NewError(req.ID, CodeInvalidParams, "params required")
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return NewError(req.ID, CodeInvalidParams, "invalid params")
	}
	if params.Name == "" {
		return NewError(req.ID, CodeInvalidParams, "tool name required")
	}
	if sess != nil {
		sess.advance(StateActive)
	}

	result, err := d.kernel.Execute(ctx, params.Name, params.Arguments)
	if err != nil {
		var ve *tools.ValidationError
		if errors.As(err, &ve) {
			return NewError(req.ID, CodeInvalidParams, ve.Error())
		}
		if errors.Is(err, tools.ErrUnknownTool) {
			return NewError(req.ID, CodeInvalidParams, err.Error())
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return NewError(req.ID, CodeInternalError, "request timed out")
		}
		// Execution failures are readable tool output, not wire errors.
		return NewResult(req.ID, &CallResult{
			Content: []ContentBlock{{Type: "text", Text: sanitizedToolError(params.Name)}},
			IsError: true,
		})
	}

	text, err := json.Marshal(result)
	if err != nil {
		d.logger.Error("tool result encoding failed",
			zap.String("tool", params.Name), zap.Error(err))
		return NewError(req.ID, CodeInternalError, "internal error")
	}
	return NewResult(req.ID, &CallResult{
		Content: []ContentBlock{{Type: "text", Text: string(text)}},
	})
}

func (d *Dispatcher) handleResourcesList(req *Request) *Response {
	return NewResult(req.ID, map[string]interface{}{
		"resources": d.resources.List(),
	})
}

// resourcesReadParams is the resources/read parameter envelope.
type resourcesReadParams struct {
	URI string `json:"uri"`
}

func (d *Dispatcher) handleResourcesRead(req *Request) *Response {
	var params resourcesReadParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.URI == "" {
		return NewError(req.ID, CodeInvalidParams, "uri required")
	}

	contents, err := d.resources.Read(params.URI)
	if err != nil {
		return NewError(req.ID, CodeInvalidParams, fmt.Sprintf("unknown resource: %s", params.URI))
	}
	return NewResult(req.ID, map[string]interface{}{
		"contents": contents,
	})
}

// sanitizedToolError is the failure text handed back to the model. The
// underlying cause stays in server logs only.
func sanitizedToolError(tool string) string {
	return fmt.Sprintf("tool %s failed; the error has been logged server-side", tool)
}

// requestID renders the raw JSON-RPC id for log correlation.
func requestID(req *Request) string {
	if req.ID == nil {
		return ""
	}
	return string(*req.ID)
}
