// Package cancellation provides a shareable one-way cancellation flag.
//
// A Token is handed to every flow that participates in an interaction so
// that a single user action stops all of them at their next checkpoint.
// Unlike context cancellation it carries no deadline and no error cause;
// it is a plain flag that transitions live -> cancelled exactly once and
// never back.
package cancellation

import "sync/atomic"

// Token signals that ongoing work should stop at its next checkpoint.
//
// Copies of a Token share the underlying state: cancelling one cancels
// them all. Readers never block; Cancelled is a single atomic load and is
// safe to call from any number of goroutines. The zero Token is a valid
// token that can never be cancelled.
type Token struct {
	state *atomic.Bool
}

// NewToken returns a live token.
func NewToken() Token {
	return Token{state: &atomic.Bool{}}
}

// Cancel transitions the token to cancelled. Calling it again, from any
// copy, is a no-op.
func (t Token) Cancel() {
	if t.state != nil {
		t.state.Store(true)
	}
}

// Cancelled reports whether Cancel has been called on this token or any
// copy of it.
func (t Token) Cancelled() bool {
	return t.state != nil && t.state.Load()
}

// Clone returns a copy sharing this token's state. It exists to make the
// sharing explicit at call sites that hand the token to another flow.
func (t Token) Clone() Token {
	return t
}
