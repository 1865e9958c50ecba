package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	// keepaliveInterval is how often an idle stream emits a comment
	// frame so intermediaries keep the connection open.
	keepaliveInterval = 15 * time.Second

	// reapInterval is how often idle sessions are swept.
	reapInterval = time.Minute

	// maxMessageBytes caps one POSTed JSON-RPC message.
	maxMessageBytes = 1 << 20

	// requestTimeout bounds one dispatched request end to end.
	requestTimeout = 30 * time.Second
)

// SSETransport serves the SSE+POST transport pair:
//
//	GET  /mcp/sse                      open a stream, receive responses
//	POST /mcp/messages?session_id=...  submit requests, always 202
type SSETransport struct {
	manager    *Manager
	dispatcher *Dispatcher
	logger     *zap.Logger
	keepalive  time.Duration
}

// NewSSETransport wires the transport over a session manager and
// dispatcher.
func NewSSETransport(manager *Manager, dispatcher *Dispatcher, logger *zap.Logger) *SSETransport {
	return &SSETransport{
		manager:    manager,
		dispatcher: dispatcher,
		logger:     logger,
		keepalive:  keepaliveInterval,
	}
}

// Run sweeps idle sessions until ctx is done.
func (t *SSETransport) Run(ctx context.Context) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := t.manager.ReapIdle(); n > 0 {
				t.logger.Info("reaped idle sessions", zap.Int("count", n))
			}
		}
	}
}

// HandleSSE opens a stream. The first frame is the endpoint event
// telling the client where to POST; message frames follow in order.
func (t *SSETransport) HandleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sess := t.manager.Open()
	if err := sess.bindStream(); err != nil {
		// Cannot happen for a fresh session; guards future reuse.
		t.manager.Remove(sess.ID)
		http.Error(w, "session conflict", http.StatusConflict)
		return
	}
	defer t.manager.Remove(sess.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeFrame(w, "endpoint", fmt.Sprintf("/mcp/messages?session_id=%s", sess.ID))
	flusher.Flush()

	keepalive := time.NewTicker(t.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-sess.Done():
			// Server-initiated close; tell the client not to reconnect.
			writeFrame(w, "close", fmt.Sprintf(`{"reason":%q}`, sess.CloseReason()))
			flusher.Flush()
			return

		case resp := <-sess.Outbound():
			data, err := json.Marshal(resp)
			if err != nil {
				t.logger.Error("response encoding failed",
					zap.String("session_id", sess.ID), zap.Error(err))
				continue
			}
			writeFrame(w, "message", string(data))
			flusher.Flush()

		case <-keepalive.C:
			// A delivered keepalive is traffic: a connected-but-quiet
			// stream does not idle out.
			sess.touch(time.Now())
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// HandleMessages accepts one JSON-RPC message for an open session and
// returns 202 immediately; the response is delivered over the stream.
func (t *SSETransport) HandleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id required", http.StatusBadRequest)
		return
	}
	sess, err := t.manager.Get(sessionID)
	if err != nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	sess.touch(time.Now())

	body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes))
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusAccepted)

	// Dispatch off the request goroutine; the POST never waits for the
	// tool to finish.
	go t.process(sess, body)
}

func (t *SSETransport) process(sess *Session, raw []byte) {
	req, errResp := ParseRequest(raw)
	if errResp != nil {
		t.deliver(sess, errResp)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if resp := t.dispatcher.Dispatch(ctx, sess, req); resp != nil {
		t.deliver(sess, resp)
	}
}

func (t *SSETransport) deliver(sess *Session, resp *Response) {
	if err := sess.Enqueue(resp); err != nil {
		t.logger.Warn("response dropped",
			zap.String("session_id", sess.ID), zap.Error(err))
	}
}

// writeFrame emits one SSE frame. Data must be a single line; JSON-RPC
// messages are compact-encoded so this holds.
func writeFrame(w io.Writer, event, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
