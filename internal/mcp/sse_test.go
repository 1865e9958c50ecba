package mcp

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestTransport(t *testing.T) (*SSETransport, *Manager, *httptest.Server) {
	t.Helper()

	manager := NewManager(zap.NewNop(), 0)
	transport := NewSSETransport(manager, newTestDispatcher(t), zap.NewNop())

	mux := http.NewServeMux()
	mux.HandleFunc("/mcp/sse", transport.HandleSSE)
	mux.HandleFunc("/mcp/messages", transport.HandleMessages)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return transport, manager, srv
}

// readFrame reads one SSE event frame, skipping keepalive comments.
func readFrame(t *testing.T, r *bufio.Reader) (event, data string) {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")

		switch {
		case line == "":
			if event != "" || data != "" {
				return event, data
			}
		case strings.HasPrefix(line, ":"):
			// keepalive comment
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestSSEEndpointFrame(t *testing.T) {
	_, manager, srv := newTestTransport(t)

	resp, err := http.Get(srv.URL + "/mcp/sse")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	event, data := readFrame(t, bufio.NewReader(resp.Body))
	assert.Equal(t, "endpoint", event)
	require.True(t, strings.HasPrefix(data, "/mcp/messages?session_id="))

	sessionID := strings.TrimPrefix(data, "/mcp/messages?session_id=")
	_, err = manager.Get(sessionID)
	assert.NoError(t, err)
}

func TestSSEMessageRoundTrip(t *testing.T) {
	_, _, srv := newTestTransport(t)

	resp, err := http.Get(srv.URL + "/mcp/sse")
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	_, endpoint := readFrame(t, reader)

	body := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26"}}`
	post, err := http.Post(srv.URL+endpoint, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	post.Body.Close()
	assert.Equal(t, http.StatusAccepted, post.StatusCode)

	event, data := readFrame(t, reader)
	assert.Equal(t, "message", event)

	var rpc struct {
		ID     int `json:"id"`
		Result struct {
			ServerInfo struct {
				Name string `json:"name"`
			} `json:"serverInfo"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(data), &rpc))
	assert.Equal(t, 1, rpc.ID)
	assert.Equal(t, "reportalin-mcp", rpc.Result.ServerInfo.Name)
}

func TestSSEMessagesRejections(t *testing.T) {
	_, _, srv := newTestTransport(t)

	// Missing session_id.
	resp, err := http.Post(srv.URL+"/mcp/messages", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Unknown session.
	resp, err = http.Post(srv.URL+"/mcp/messages?session_id=bogus", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Wrong verb on the stream endpoint.
	resp, err = http.Post(srv.URL+"/mcp/sse", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestSSECloseFrameOnShutdown(t *testing.T) {
	_, manager, srv := newTestTransport(t)

	resp, err := http.Get(srv.URL + "/mcp/sse")
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	readFrame(t, reader) // endpoint

	// Give the handler a beat to enter its select loop, then shut down.
	time.Sleep(50 * time.Millisecond)
	manager.CloseAll()

	event, data := readFrame(t, reader)
	assert.Equal(t, "close", event)
	assert.Contains(t, data, "server_shutdown")
}

func TestSSEKeepaliveCountsAsTraffic(t *testing.T) {
	manager := NewManager(zap.NewNop(), 200*time.Millisecond)
	transport := NewSSETransport(manager, newTestDispatcher(t), zap.NewNop())
	transport.keepalive = 50 * time.Millisecond

	mux := http.NewServeMux()
	mux.HandleFunc("/mcp/sse", transport.HandleSSE)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/mcp/sse")
	require.NoError(t, err)
	defer resp.Body.Close()
	readFrame(t, bufio.NewReader(resp.Body)) // endpoint

	// Well past the idle timeout, but keepalives kept the stream warm.
	time.Sleep(450 * time.Millisecond)
	assert.Equal(t, 0, manager.ReapIdle())
	assert.Equal(t, 1, manager.Count())
}

func TestSSEIdleTimeoutCloseReason(t *testing.T) {
	manager := NewManager(zap.NewNop(), 100*time.Millisecond)
	transport := NewSSETransport(manager, newTestDispatcher(t), zap.NewNop())

	mux := http.NewServeMux()
	mux.HandleFunc("/mcp/sse", transport.HandleSSE)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/mcp/sse")
	require.NoError(t, err)
	defer resp.Body.Close()
	reader := bufio.NewReader(resp.Body)
	readFrame(t, reader) // endpoint

	// Default 15s keepalive never fires; the session goes idle.
	time.Sleep(200 * time.Millisecond)
	require.Equal(t, 1, manager.ReapIdle())

	event, data := readFrame(t, reader)
	assert.Equal(t, "close", event)
	assert.Contains(t, data, "idle_timeout")
}

func TestSSEParseErrorDelivered(t *testing.T) {
	_, _, srv := newTestTransport(t)

	resp, err := http.Get(srv.URL + "/mcp/sse")
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	_, endpoint := readFrame(t, reader)

	post, err := http.Post(srv.URL+endpoint, "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	post.Body.Close()
	assert.Equal(t, http.StatusAccepted, post.StatusCode)

	event, data := readFrame(t, reader)
	assert.Equal(t, "message", event)

	var rpc struct {
		Error *Error `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(data), &rpc))
	require.NotNil(t, rpc.Error)
	assert.Equal(t, CodeParseError, rpc.Error.Code)
}
