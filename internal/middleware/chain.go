package middleware

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/reportalin/reportalin-mcp/internal/auth"
	"github.com/reportalin/reportalin-mcp/internal/metrics"
)

// Package middleware applies the security chain to every HTTP request:
// size cap → auth → rate limit → handler, with security headers injected on
// every response.

// Paths served without authentication or rate limiting.
var publicPaths = map[string]bool{
	"/health":  true,
	"/ready":   true,
	"/metrics": true,
}

// Limits caps inbound request sizes.
type Limits struct {
	MaxQueryBytes int
	MaxBodyBytes  int64
}

// DefaultLimits returns the production size caps.
func DefaultLimits() Limits {
	return Limits{
		MaxQueryBytes: 2 * 1024,
		MaxBodyBytes:  1024 * 1024,
	}
}

// Chain bundles the security middleware around a mux.
type Chain struct {
	secret      *auth.RotatableSecret
	authEnabled bool
	limiter     *RateLimiter
	limits      Limits
	tlsEnabled  bool
	logger      *zap.Logger
}

// NewChain builds the middleware chain. secret may be nil when auth is
// disabled (stdio transport, local development).
func NewChain(secret *auth.RotatableSecret, authEnabled bool, limiter *RateLimiter, limits Limits, tlsEnabled bool, logger *zap.Logger) *Chain {
	return &Chain{
		secret:      secret,
		authEnabled: authEnabled,
		limiter:     limiter,
		limits:      limits,
		tlsEnabled:  tlsEnabled,
		logger:      logger,
	}
}

// Wrap applies the chain to next.
func (c *Chain) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.injectHeaders(w)

		// 1. Size cap. Applied to every request, public or not.
		if len(r.URL.RawQuery) > c.limits.MaxQueryBytes {
			writeError(w, http.StatusRequestURITooLong, "input-too-large", "query string exceeds limit")
			return
		}
		if r.ContentLength > c.limits.MaxBodyBytes {
			writeError(w, http.StatusRequestEntityTooLarge, "input-too-large", "request body exceeds limit")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, c.limits.MaxBodyBytes)

		if publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		// 2. Auth.
		principal, ok := c.authenticate(r)
		if !ok {
			metrics.AuthFailures.Inc()
			// The provided token is never logged.
			c.logger.Warn("rejected bearer token",
				zap.String("client_ip", clientIP(r)),
				zap.String("user_agent", r.UserAgent()),
				zap.String("path", r.URL.Path),
			)
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
			return
		}

		// 3. Rate limit.
		clientID := principal
		if clientID == "" {
			clientID = clientIP(r)
		}
		decision := c.limiter.Check(clientID)
		if !decision.Allowed {
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", decision.RetryAfter.Seconds()))
			writeError(w, http.StatusTooManyRequests, "rate-limited",
				fmt.Sprintf("retry after %.1fs", decision.RetryAfter.Seconds()))
			return
		}

		// 4. Dispatch.
		next.ServeHTTP(w, r)
	})
}

// authenticate extracts and verifies the bearer token. Returns the
// principal ("bearer" — single-tenant) and whether the request may proceed.
func (c *Chain) authenticate(r *http.Request) (string, bool) {
	if !c.authEnabled {
		return "", true
	}

	token := bearerToken(r)
	if token == "" {
		return "", false
	}
	if c.secret == nil || !c.secret.Verify(token) {
		return "", false
	}
	return "bearer", true
}

// bearerToken prefers the Authorization header; the token query parameter
// is the fallback for EventSource clients that cannot set headers.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// injectHeaders sets the security response headers on every response.
func (c *Chain) injectHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
	h.Set("Content-Security-Policy", "default-src 'none'")
	if c.tlsEnabled {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeError writes a JSON error body. The request content is never echoed.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
