// Package challenge proves the client is a legitimate interactive agent
// before an OTP can be dispatched. Two variants exist: an invisible
// background challenge for browser-hosted clients and a visible prompt for
// native clients. The variant is selected once at startup; nothing else in
// the codebase inspects which one is in use.
package challenge

import (
	"context"
	"time"
)

// Token is an opaque, provider-issued proof of interactivity. Each code
// request consumes exactly one token.
type Token struct {
	Value    string
	IssuedAt time.Time
}

// Provider furnishes proof tokens for code requests.
type Provider interface {
	// Prepare makes the provider ready to issue tokens. Idempotent: calling
	// it while ready is a no-op that reports ready immediately.
	Prepare(ctx context.Context) error

	// Token returns a one-time proof for a single code request. Returns an
	// error wrapping sentinel.ErrNotReady if Prepare has not succeeded.
	Token(ctx context.Context) (Token, error)

	// Reset discards readiness and any held token. The next Prepare starts
	// from scratch.
	Reset()

	// Close releases external resources (the mounted widget, if any).
	Close()
}
