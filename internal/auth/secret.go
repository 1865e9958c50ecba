package auth

import (
	"crypto/subtle"
	"fmt"
	"sync/atomic"
	"time"
	"unicode"
)

// Package auth implements bearer-token verification with zero-downtime
// secret rotation. The secret state lives behind an atomic pointer: reads
// are lock-free, rotation swaps in a new immutable record.

// MinTokenLength is the minimum accepted token length outside local
// environments. Startup refuses weaker tokens.
const MinTokenLength = 32

// DefaultGraceWindow is how long the previous secret stays valid after a
// rotation.
const DefaultGraceWindow = 300 * time.Second

// secretState is the immutable record behind the atomic pointer.
type secretState struct {
	current   string
	previous  string
	rotatedAt time.Time
}

// RotatableSecret verifies bearer tokens against a current secret and,
// within the grace window, the previous one.
type RotatableSecret struct {
	state       atomic.Pointer[secretState]
	graceWindow time.Duration
	now         func() time.Time // swapped in tests
}

// NewRotatableSecret creates a secret with the default grace window.
func NewRotatableSecret(initial string) *RotatableSecret {
	return NewRotatableSecretWithGrace(initial, DefaultGraceWindow)
}

// NewRotatableSecretWithGrace creates a secret with an explicit grace window.
func NewRotatableSecretWithGrace(initial string, grace time.Duration) *RotatableSecret {
	s := &RotatableSecret{graceWindow: grace, now: time.Now}
	s.state.Store(&secretState{current: initial})
	return s
}

// Verify reports whether provided matches the current secret, or the
// previous secret inside the grace window. Both comparisons always run so
// timing does not reveal which one matched.
func (s *RotatableSecret) Verify(provided string) bool {
	st := s.state.Load()

	matchCurrent := constantTimeEqual(provided, st.current)

	matchPrevious := false
	if st.previous != "" && s.now().Sub(st.rotatedAt) <= s.graceWindow {
		matchPrevious = constantTimeEqual(provided, st.previous)
	}

	return matchCurrent || matchPrevious
}

// Rotate installs a new current secret. The old current remains valid for
// the grace window.
func (s *RotatableSecret) Rotate(newSecret string) {
	old := s.state.Load()
	s.state.Store(&secretState{
		current:   newSecret,
		previous:  old.current,
		rotatedAt: s.now(),
	})
}

// constantTimeEqual compares two strings without leaking where they differ.
// Length is folded into the comparison rather than short-circuited.
func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		// Burn a comparison of equal cost anyway before failing.
		subtle.ConstantTimeCompare([]byte(b), []byte(b))
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ValidateTokenStrength enforces the startup policy for auth tokens:
// printable ASCII, at least MinTokenLength characters. Local environments
// skip the check entirely.
func ValidateTokenStrength(token, environment string) error {
	if environment == "local" {
		return nil
	}
	if len(token) < MinTokenLength {
		return fmt.Errorf("auth token too short: %d chars, need at least %d", len(token), MinTokenLength)
	}
	for _, r := range token {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) {
			return fmt.Errorf("auth token must be printable ASCII")
		}
	}
	return nil
}
