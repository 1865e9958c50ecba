package mcpclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Package mcpclient is the universal client adapter for MCP servers
// speaking the SSE+POST transport.
//
// Responsibilities:
//   - Maintain one authenticated SSE session: endpoint discovery,
//     initialize handshake, keepalive tolerance
//   - Reconnect on transient failures with jittered exponential backoff,
//     re-initializing the session each time
//   - Correlate JSON-RPC responses to calls by id; fail calls that
//     outlive their deadline or their connection
//   - Translate server tool descriptors into the neutral llm.Tool shape
//   - Flatten typed content blocks into plain text for the driver

// DefaultCallTimeout bounds one round trip including tool execution.
const DefaultCallTimeout = 30 * time.Second

// errServerShutdown marks a deliberate close frame from the server.
var errServerShutdown = errors.New("server sent close frame")

// Config configures a client.
type Config struct {
	// BaseURL is the server origin, e.g. http://127.0.0.1:8000.
	BaseURL string
	// Token is the bearer secret; empty disables the header.
	Token string
	// CallTimeout bounds each call; zero selects DefaultCallTimeout.
	CallTimeout time.Duration
	// HTTPClient may inject a custom transport; nil uses a default
	// without a hard timeout (the stream is long-lived).
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client is an MCP client over one SSE session.
type Client struct {
	cfg    Config
	httpc  *http.Client
	logger *zap.Logger
	bo     *backoff

	nextID atomic.Int64

	mu       sync.Mutex
	endpoint string                  // POST URL, valid for the current session
	ready    chan struct{}           // closed once the current session is initialized
	pending  map[string]chan *rpcEnvelope

	dialErr   error // fatal error that stops reconnecting
	closed    chan struct{}
	closeOnce sync.Once
	cancelRun context.CancelFunc
	done      chan struct{} // run loop exited
}

// rpcEnvelope is the wire response shape.
type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Dial connects, completes the initialize handshake, and starts the
// reconnect loop. It returns once the session is usable or ctx ends.
// ctx bounds the dial only; the connection it establishes lives until
// Close (or a fatal error) regardless of ctx.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url required")
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = &http.Client{}
	}

	c := &Client{
		cfg:     cfg,
		httpc:   httpc,
		logger:  cfg.Logger,
		bo:      newBackoff(),
		ready:   make(chan struct{}),
		pending: make(map[string]chan *rpcEnvelope),
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
	}

	// The stream and reconnect loop outlive the dial context; only
	// Close tears them down.
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancelRun = cancel
	go c.run(runCtx)

	if err := c.waitReady(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Close tears the session down. Pending calls fail.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.cancelRun()
	})
	<-c.done
}

// run owns the connection: connect, serve, back off, repeat.
func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	defer c.failPending(&ConnectionFailedError{Cause: errors.New("client closed")})

	attempt := 0
	for {
		err := c.connectOnce(ctx)
		switch {
		case err == nil || errors.Is(err, errServerShutdown):
			c.setDialErr(&ConnectionFailedError{Cause: errServerShutdown})
			return
		case ctx.Err() != nil:
			c.setDialErr(&ConnectionFailedError{Cause: ctx.Err()})
			return
		case isClosed(c.closed):
			return
		}

		var authErr *AuthenticationFailedError
		if errors.As(err, &authErr) {
			c.setDialErr(authErr)
			return
		}

		delay := c.bo.delay(attempt)
		attempt++
		c.logger.Warn("stream lost; reconnecting",
			zap.Error(err), zap.Duration("delay", delay), zap.Int("attempt", attempt))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			c.setDialErr(&ConnectionFailedError{Cause: ctx.Err()})
			return
		case <-c.closed:
			return
		}
	}
}

// connectOnce opens the stream and serves it until it ends. A nil or
// errServerShutdown return means a deliberate close.
func (c *Client) connectOnce(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/mcp/sse", nil)
	if err != nil {
		return &ConnectionFailedError{Cause: err}
	}
	req.Header.Set("Accept", "text/event-stream")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return &ConnectionFailedError{Cause: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AuthenticationFailedError{Status: resp.StatusCode}
	default:
		return &ConnectionFailedError{Cause: fmt.Errorf("stream http %d", resp.StatusCode)}
	}

	// Close the body when asked to shut down so the read loop unblocks.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-c.closed:
			resp.Body.Close()
		case <-stop:
		}
	}()

	err = c.serveStream(ctx, resp.Body)
	c.sessionDown()
	if isClosed(c.closed) {
		return nil
	}
	return err
}

// serveStream parses frames until the stream ends.
func (c *Client) serveStream(ctx context.Context, body io.Reader) error {
	reader := bufio.NewReader(body)
	var event, data string

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return &ConnectionFailedError{Cause: err}
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if event != "" {
				if err := c.handleFrame(ctx, event, data); err != nil {
					return err
				}
			}
			event, data = "", ""
		case strings.HasPrefix(line, ":"):
			// keepalive comment; counts as traffic, nothing to do
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func (c *Client) handleFrame(ctx context.Context, event, data string) error {
	switch event {
	case "endpoint":
		c.mu.Lock()
		c.endpoint = c.cfg.BaseURL + data
		c.mu.Unlock()
		go c.handshake(ctx)
		return nil

	case "message":
		var env rpcEnvelope
		if err := json.Unmarshal([]byte(data), &env); err != nil {
			return &ProtocolError{Message: "malformed message frame"}
		}
		c.deliver(&env)
		return nil

	case "close":
		return errServerShutdown

	default:
		// Unknown frame types are ignored for forward compatibility.
		return nil
	}
}

// handshake initializes the fresh session and marks it ready.
func (c *Client) handshake(ctx context.Context) {
	_, err := c.rpc(ctx, "initialize", map[string]interface{}{
		"protocolVersion": "2025-03-26",
		"clientInfo": map[string]interface{}{
			"name":    "reportalin-mcp-client",
			"version": "2.1.0",
		},
	})
	if err != nil {
		c.logger.Warn("initialize failed", zap.Error(err))
		return
	}
	if err := c.notify(ctx, "notifications/initialized", nil); err != nil {
		c.logger.Warn("initialized notification failed", zap.Error(err))
	}

	c.mu.Lock()
	select {
	case <-c.ready:
	default:
		close(c.ready)
	}
	c.mu.Unlock()
}

// sessionDown invalidates the endpoint and fails everything in flight.
func (c *Client) sessionDown() {
	c.mu.Lock()
	c.endpoint = ""
	select {
	case <-c.ready:
		c.ready = make(chan struct{})
	default:
	}
	c.mu.Unlock()
	c.failPending(&ConnectionFailedError{Cause: errors.New("stream disconnected")})
}

func (c *Client) waitReady(ctx context.Context) error {
	c.mu.Lock()
	ready := c.ready
	c.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return &ConnectionFailedError{Cause: ctx.Err()}
	case <-c.closed:
		if err := c.getDialErr(); err != nil {
			return err
		}
		return &ConnectionFailedError{Cause: errors.New("client closed")}
	case <-c.done:
		if err := c.getDialErr(); err != nil {
			return err
		}
		return &ConnectionFailedError{Cause: errors.New("connection loop exited")}
	}
}

// call issues one JSON-RPC request after the session is ready.
func (c *Client) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if err := c.waitReady(ctx); err != nil {
		return nil, err
	}
	return c.rpc(ctx, method, params)
}

// rpc posts one request and waits for its correlated response.
func (c *Client) rpc(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	id := strconv.FormatInt(c.nextID.Add(1), 10)
	ch := make(chan *rpcEnvelope, 1)

	c.mu.Lock()
	endpoint := c.endpoint
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if endpoint == "" {
		return nil, &ConnectionFailedError{Cause: errors.New("no active session")}
	}

	if err := c.post(ctx, endpoint, method, json.RawMessage(id), params); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.cfg.CallTimeout)
	defer timer.Stop()

	select {
	case env := <-ch:
		if env.Error != nil {
			if env.Error.Code == codeConnectionLost {
				return nil, &ConnectionFailedError{Cause: errors.New(env.Error.Message)}
			}
			return nil, &ProtocolError{Message: fmt.Sprintf("%s: [%d] %s", method, env.Error.Code, env.Error.Message)}
		}
		return env.Result, nil
	case <-timer.C:
		return nil, &ConnectionFailedError{Cause: fmt.Errorf("call %s timed out after %s", method, c.cfg.CallTimeout)}
	case <-ctx.Done():
		return nil, &ConnectionFailedError{Cause: ctx.Err()}
	case <-c.closed:
		return nil, &ConnectionFailedError{Cause: errors.New("client closed")}
	}
}

// notify posts a notification; no response follows.
func (c *Client) notify(ctx context.Context, method string, params interface{}) error {
	c.mu.Lock()
	endpoint := c.endpoint
	c.mu.Unlock()
	if endpoint == "" {
		return &ConnectionFailedError{Cause: errors.New("no active session")}
	}
	return c.post(ctx, endpoint, method, nil, params)
}

func (c *Client) post(ctx context.Context, endpoint, method string, id json.RawMessage, params interface{}) error {
	msg := map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  method,
	}
	if id != nil {
		msg["id"] = id
	}
	if params != nil {
		msg["params"] = params
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return &ConnectionFailedError{Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return &ConnectionFailedError{Cause: err}
	}
	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted:
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AuthenticationFailedError{Status: resp.StatusCode}
	default:
		return &ProtocolError{Message: fmt.Sprintf("post returned http %d", resp.StatusCode)}
	}
}

func (c *Client) deliver(env *rpcEnvelope) {
	if len(env.ID) == 0 {
		return
	}
	id := strings.Trim(string(env.ID), `"`)

	c.mu.Lock()
	ch, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		return // response to a call that already failed or timed out
	}
	select {
	case ch <- env:
	default:
	}
}

// codeConnectionLost marks synthetic envelopes injected when the
// stream drops; it never appears on the wire.
const codeConnectionLost = -32099

func (c *Client) failPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		select {
		case ch <- &rpcEnvelope{Error: &rpcError{Code: codeConnectionLost, Message: err.Error()}}:
		default:
		}
		delete(c.pending, id)
	}
}

func (c *Client) setDialErr(err error) {
	c.mu.Lock()
	if c.dialErr == nil {
		c.dialErr = err
	}
	c.mu.Unlock()
}

func (c *Client) getDialErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dialErr
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
