package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reportalin/reportalin-mcp/internal/dataset"
	"github.com/reportalin/reportalin-mcp/internal/stats"
	"github.com/reportalin/reportalin-mcp/internal/tools"
)

// newTestDispatcher loads a small fixture tree and wires a dispatcher
// over it.
func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	dir := t.TempDir()

	write := func(rel, content string) {
		path := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	write("results/data_dictionary_mappings/main/variables.jsonl",
		`{"field_name":"AGE","question":"Age at enrolment","type":"number","module":"demographics"}
{"field_name":"SEX","question":"Sex at birth","type":"radio","codelist":"sex_codes","module":"demographics"}
`)
	write("results/data_dictionary_mappings/main/sex_codes.jsonl",
		`{"code":"1","descriptor":"Male"}
{"code":"2","descriptor":"Female"}
`)

	rows := ""
	for i := 0; i < 20; i++ {
		rows += fmt.Sprintf(`{"AGE":%d}`+"\n", 20+i)
	}
	write("results/deidentified/study1/cleaned/visits.jsonl", rows)

	store := dataset.NewStore(&dataset.Loader{Root: dir}, zap.NewNop())
	require.NoError(t, store.Load())

	kernel := tools.NewKernel(store, stats.DefaultK, zap.NewNop(), nil)
	return NewDispatcher(kernel, NewCatalog(store), zap.NewNop())
}

func request(t *testing.T, id int, method string, params interface{}) *Request {
	t.Helper()
	rawID := json.RawMessage(fmt.Sprintf("%d", id))
	req := &Request{JSONRPC: "2.0", ID: &rawID, Method: method}
	if params != nil {
		data, err := json.Marshal(params)
		require.NoError(t, err)
		req.Params = data
	}
	return req
}

func TestDispatchInitialize(t *testing.T) {
	d := newTestDispatcher(t)

	resp := d.Dispatch(context.Background(), nil, request(t, 1, "initialize", map[string]interface{}{
		"protocolVersion": "2025-03-26",
		"clientInfo":      map[string]interface{}{"name": "test", "version": "0.0.1"},
	}))

	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	result := resp.Result.(map[string]interface{})
	assert.Equal(t, ProtocolVersion, result["protocolVersion"])

	info := result["serverInfo"].(map[string]interface{})
	assert.Equal(t, "reportalin-mcp", info["name"])
	assert.Equal(t, "2.1.0", info["version"])

	caps := result["capabilities"].(map[string]interface{})
	assert.Contains(t, caps, "tools")
	assert.Contains(t, caps, "resources")
}

func TestDispatchToolsList(t *testing.T) {
	d := newTestDispatcher(t)

	resp := d.Dispatch(context.Background(), nil, request(t, 2, "tools/list", nil))
	require.Nil(t, resp.Error)

	listed := resp.Result.(map[string]interface{})["tools"].([]map[string]interface{})
	require.Len(t, listed, 4)
	assert.Equal(t, "prompt_enhancer", listed[0]["name"])
	for _, tool := range listed {
		assert.NotEmpty(t, tool["description"])
		assert.NotNil(t, tool["inputSchema"])
	}
}

func TestDispatchToolsCall(t *testing.T) {
	d := newTestDispatcher(t)

	resp := d.Dispatch(context.Background(), nil, request(t, 3, "tools/call", map[string]interface{}{
		"name":      "search_cleaned_dataset",
		"arguments": map[string]interface{}{"variable": "AGE"},
	}))
	require.Nil(t, resp.Error)

	call := resp.Result.(*CallResult)
	assert.False(t, call.IsError)
	require.Len(t, call.Content, 1)
	assert.Equal(t, "text", call.Content[0].Type)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(call.Content[0].Text), &payload))
	assert.Equal(t, "found", payload["status"])
}

func TestDispatchToolsCallInvalidParams(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	// Missing required argument maps to -32602.
	resp := d.Dispatch(ctx, nil, request(t, 4, "tools/call", map[string]interface{}{
		"name":      "combined_search",
		"arguments": map[string]interface{}{"concept": "diabetes"},
	}))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)

	// Unknown tool maps to -32602 as well.
	resp = d.Dispatch(ctx, nil, request(t, 5, "tools/call", map[string]interface{}{
		"name": "drop_tables",
	}))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)

	// No params at all.
	resp = d.Dispatch(ctx, nil, request(t, 6, "tools/call", nil))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestDispatchMethodNotFound(t *testing.T) {
	d := newTestDispatcher(t)

	resp := d.Dispatch(context.Background(), nil, request(t, 7, "prompts/list", nil))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

func TestDispatchPing(t *testing.T) {
	d := newTestDispatcher(t)

	resp := d.Dispatch(context.Background(), nil, request(t, 8, "ping", nil))
	require.Nil(t, resp.Error)
	assert.NotNil(t, resp.Result)
}

func TestDispatchNotificationGetsNoResponse(t *testing.T) {
	d := newTestDispatcher(t)

	resp := d.Dispatch(context.Background(), nil, &Request{
		JSONRPC: "2.0",
		Method:  "notifications/initialized",
	})
	assert.Nil(t, resp)
}

func TestDispatchResources(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	resp := d.Dispatch(ctx, nil, request(t, 9, "resources/list", nil))
	require.Nil(t, resp.Error)
	listed := resp.Result.(map[string]interface{})["resources"].([]ResourceDescriptor)
	require.Len(t, listed, 4)
	assert.Equal(t, ResourceStudyOverview, listed[0].URI)

	resp = d.Dispatch(ctx, nil, request(t, 10, "resources/read", map[string]interface{}{
		"uri": ResourceStudyOverview,
	}))
	require.Nil(t, resp.Error)
	contents := resp.Result.(map[string]interface{})["contents"].([]ResourceContents)
	require.Len(t, contents, 1)

	var overview map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(contents[0].Text), &overview))
	assert.Equal(t, float64(1), overview["cleaned_tables"])
	assert.Equal(t, float64(20), overview["cleaned_record_count"])

	resp = d.Dispatch(ctx, nil, request(t, 11, "resources/read", map[string]interface{}{
		"uri": "reportalin://no/such",
	}))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestDispatchSessionStateAdvances(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	m := NewManager(zap.NewNop(), 0)
	sess := m.Open()
	assert.Equal(t, StateOpening, sess.State())

	d.Dispatch(ctx, sess, request(t, 1, "initialize", map[string]interface{}{}))
	assert.Equal(t, StateInitialized, sess.State())

	d.Dispatch(ctx, sess, &Request{JSONRPC: "2.0", Method: "notifications/initialized"})
	assert.Equal(t, StateActive, sess.State())
}

func TestDispatchRequiresInitializeFirst(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	m := NewManager(zap.NewNop(), 0)
	sess := m.Open()

	// Any request before initialize is a protocol violation.
	resp := d.Dispatch(ctx, sess, request(t, 1, "tools/list", nil))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidRequest, resp.Error.Code)

	resp = d.Dispatch(ctx, sess, request(t, 2, "tools/call", map[string]interface{}{
		"name": "combined_search",
	}))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidRequest, resp.Error.Code)

	// Stray notifications are dropped, not answered.
	resp = d.Dispatch(ctx, sess, &Request{JSONRPC: "2.0", Method: "notifications/progress"})
	assert.Nil(t, resp)

	// After initialize the same request is served.
	d.Dispatch(ctx, sess, request(t, 3, "initialize", map[string]interface{}{}))
	resp = d.Dispatch(ctx, sess, request(t, 4, "tools/list", nil))
	require.Nil(t, resp.Error)
}

func TestParseRequest(t *testing.T) {
	_, errResp := ParseRequest([]byte("{not json"))
	require.NotNil(t, errResp)
	assert.Equal(t, CodeParseError, errResp.Error.Code)

	_, errResp = ParseRequest([]byte(`{"jsonrpc":"1.0","method":"ping"}`))
	require.NotNil(t, errResp)
	assert.Equal(t, CodeInvalidRequest, errResp.Error.Code)

	req, errResp := ParseRequest([]byte(`{"jsonrpc":"2.0","id":7,"method":"ping"}`))
	require.Nil(t, errResp)
	assert.Equal(t, "ping", req.Method)
	assert.False(t, req.IsNotification())
}
