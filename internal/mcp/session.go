package mcp

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reportalin/reportalin-mcp/internal/metrics"
)

// State is a session lifecycle phase. Transitions only move forward.
type State int

const (
	// StateOpening covers the window between SSE accept and a
	// successful initialize exchange.
	StateOpening State = iota
	StateInitialized
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateInitialized:
		return "initialized"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

const (
	// outboundQueueSize bounds per-session buffered responses awaiting
	// SSE delivery.
	outboundQueueSize = 64

	// DefaultIdleTimeout closes sessions with no inbound traffic.
	DefaultIdleTimeout = 10 * time.Minute
)

var (
	ErrSessionClosed   = errors.New("session closed")
	ErrQueueFull       = errors.New("session outbound queue full")
	ErrUnknownSession  = errors.New("unknown session")
	ErrStreamAttached  = errors.New("session already has a stream")
)

// Close reasons reported to the client in the close frame.
const (
	reasonServerShutdown = "server_shutdown"
	reasonIdleTimeout    = "idle_timeout"
)

// Session is one SSE client connection with its outbound message queue.
// The queue is drained by exactly one goroutine (the SSE handler), which
// keeps frame writes serialized without a writer lock.
type Session struct {
	ID string

	mu           sync.Mutex
	state        State
	lastActivity time.Time
	streamBound  bool
	closeReason  string

	outbound chan *Response
	closed   chan struct{}
	closeOne sync.Once
}

func newSession(now time.Time) *Session {
	return &Session{
		ID:           uuid.NewString(),
		state:        StateOpening,
		lastActivity: now,
		outbound:     make(chan *Response, outboundQueueSize),
		closed:       make(chan struct{}),
	}
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// advance moves the state forward; backward transitions are ignored.
func (s *Session) advance(to State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if to > s.state {
		s.state = to
	}
}

// touch records inbound activity for idle-timeout accounting.
func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = now
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActivity)
}

// bindStream claims the single SSE stream slot for this session.
func (s *Session) bindStream() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streamBound {
		return ErrStreamAttached
	}
	s.streamBound = true
	return nil
}

// Enqueue queues a response for SSE delivery. Responses to one session
// are delivered in enqueue order.
func (s *Session) Enqueue(resp *Response) error {
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}
	select {
	case s.outbound <- resp:
		return nil
	default:
		return ErrQueueFull
	}
}

// Outbound exposes the delivery queue to the stream writer.
func (s *Session) Outbound() <-chan *Response {
	return s.outbound
}

// Done is closed when the session will accept no further messages.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// Close transitions the session to closed. Idempotent.
func (s *Session) Close() {
	s.closeWith(reasonServerShutdown)
}

// closeWith records the cause before closing; the first caller wins.
func (s *Session) closeWith(reason string) {
	s.closeOne.Do(func() {
		s.mu.Lock()
		s.closeReason = reason
		s.mu.Unlock()
		s.advance(StateClosed)
		close(s.closed)
	})
}

// CloseReason reports why the session was closed.
func (s *Session) CloseReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeReason == "" {
		return reasonServerShutdown
	}
	return s.closeReason
}

// Manager owns all live sessions and enforces the idle timeout.
type Manager struct {
	logger      *zap.Logger
	idleTimeout time.Duration
	now         func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager builds a session manager. A zero idleTimeout selects
// DefaultIdleTimeout.
func NewManager(logger *zap.Logger, idleTimeout time.Duration) *Manager {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Manager{
		logger:      logger,
		idleTimeout: idleTimeout,
		now:         time.Now,
		sessions:    make(map[string]*Session),
	}
}

// Open creates and registers a new session.
func (m *Manager) Open() *Session {
	sess := newSession(m.now())

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	count := len(m.sessions)
	m.mu.Unlock()

	metrics.SessionsTotal.Inc()
	metrics.ActiveSessions.Set(float64(count))
	m.logger.Info("session opened",
		zap.String("session_id", sess.ID),
		zap.Int("active_sessions", count))
	return sess
}

// Get looks a session up by id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownSession
	}
	return sess, nil
}

// Remove closes a session and drops it from the registry.
func (m *Manager) Remove(id string) {
	m.removeWith(id, reasonServerShutdown)
}

func (m *Manager) removeWith(id, reason string) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return
	}
	sess.closeWith(reason)
	metrics.ActiveSessions.Set(float64(count))
	m.logger.Info("session closed",
		zap.String("session_id", id), zap.String("reason", reason))
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// ReapIdle closes every session idle past the timeout and returns how
// many were removed.
func (m *Manager) ReapIdle() int {
	now := m.now()

	m.mu.RLock()
	var stale []string
	for id, sess := range m.sessions {
		if sess.idleSince(now) >= m.idleTimeout {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		m.removeWith(id, reasonIdleTimeout)
	}
	return len(stale)
}

// CloseAll shuts every session down, for server shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.Close()
	}
	metrics.ActiveSessions.Set(0)
}
