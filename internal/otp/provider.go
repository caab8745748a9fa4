package otp

import (
	"context"
	"errors"

	"ravegate/internal/challenge"
	"ravegate/pkg/domain"
)

// ErrWrongCode is returned by providers when the submitted code does not
// match the one issued for the handle. Retryable against the same handle.
var ErrWrongCode = errors.New("wrong code")

// Handle identifies one in-flight OTP attempt. Each new send supersedes the
// previous handle for the same caller; handles are never reused. Address is
// the E.164 target the code was dispatched to.
type Handle struct {
	ID      domain.HandleID
	Address string
}

// Credential is the provider-issued proof derived from a correct
// (handle, code) pair. Single use.
type Credential struct {
	Token string
}

// Provider is the federated identity backend boundary. Implementations
// dispatch codes out of band; a returned handle does not imply delivery.
//
// Error contract: ConfirmOTP returns ErrWrongCode for a mismatched code and
// wraps sentinel.ErrExpired / sentinel.ErrSuperseded / sentinel.ErrNotFound
// when the handle itself is no longer exchangeable.
type Provider interface {
	SendOTP(ctx context.Context, address string, proof challenge.Token) (Handle, error)
	ConfirmOTP(ctx context.Context, handle Handle, code string) (Credential, error)
	CurrentSession(ctx context.Context) (*domain.Identity, error)
	// OnSessionChange registers a callback for session resolution events and
	// returns an unsubscribe function. The current state (possibly nil) is
	// replayed to new subscribers.
	OnSessionChange(fn func(*domain.Identity)) (unsubscribe func())
}
