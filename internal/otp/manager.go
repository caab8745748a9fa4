package otp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ravegate/internal/challenge"
	"ravegate/pkg/audit"
	dErrors "ravegate/pkg/domain-errors"
	"ravegate/pkg/platform/sentinel"
)

// VerifyFailure classifies a failed code confirmation.
type VerifyFailure int

const (
	// VerifyMalformedCode: rejected locally, no network call was made.
	VerifyMalformedCode VerifyFailure = iota
	// VerifyWrongCode: retryable against the same handle.
	VerifyWrongCode
	// VerifyExpiredHandle: the handle is gone; a fresh send is required.
	VerifyExpiredHandle
	// VerifyTimeout: the exchange bound elapsed without a provider response.
	VerifyTimeout
	// VerifyTransport: provider/transport fault; retryable against the same
	// handle.
	VerifyTransport
)

func (f VerifyFailure) String() string {
	switch f {
	case VerifyMalformedCode:
		return "malformed_code"
	case VerifyWrongCode:
		return "wrong_code"
	case VerifyExpiredHandle:
		return "expired_handle"
	case VerifyTimeout:
		return "timeout"
	default:
		return "transport"
	}
}

// VerifyError reports why ConfirmCode failed. A failed exchange does not
// mutate the handle; whether a retry needs a fresh send depends on Kind.
type VerifyError struct {
	Kind VerifyFailure
	Err  error
}

func (e *VerifyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("verify failed (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("verify failed (%s)", e.Kind)
}

func (e *VerifyError) Unwrap() error { return e.Err }

// Config bounds the manager's validation and waits.
type Config struct {
	// CodeLength is the provider-defined OTP length.
	CodeLength int
	// MinPhoneDigits rejects obviously short numbers before dispatch.
	MinPhoneDigits int
	// ExchangeTimeout bounds ConfirmCode. On expiry the manager stops
	// waiting; it does not cancel the in-flight provider call, and a late
	// success is dropped without further state mutation.
	ExchangeTimeout time.Duration
}

// Manager owns the lifecycle of a single verification attempt: request a
// code, hold the handle, exchange (handle, code) for a credential.
type Manager struct {
	provider  Provider
	challenge challenge.Provider
	cfg       Config
	logger    *slog.Logger
	auditor   audit.Publisher
}

type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithAuditPublisher(pub audit.Publisher) Option {
	return func(m *Manager) {
		m.auditor = pub
	}
}

func NewManager(provider Provider, chp challenge.Provider, cfg Config, opts ...Option) (*Manager, error) {
	if provider == nil {
		return nil, fmt.Errorf("otp provider is required")
	}
	if chp == nil {
		return nil, fmt.Errorf("challenge provider is required")
	}
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = 6
	}
	if cfg.MinPhoneDigits <= 0 {
		cfg.MinPhoneDigits = 4
	}
	if cfg.ExchangeTimeout <= 0 {
		cfg.ExchangeTimeout = 10 * time.Second
	}

	m := &Manager{
		provider:  provider,
		challenge: chp,
		cfg:       cfg,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// RequestCode asks the provider to dispatch a code to phone. A challenge
// token must be obtainable or the call fails fast; it never proceeds without
// proof. On success any handle previously held by the caller is superseded.
func (m *Manager) RequestCode(ctx context.Context, phone PhoneNumber) (Handle, error) {
	if phone.Digits() < m.cfg.MinPhoneDigits {
		return Handle{}, dErrors.New(dErrors.CodeBadRequest, "phone number too short")
	}

	proof, err := m.challenge.Token(ctx)
	if err != nil {
		return Handle{}, err
	}

	handle, err := m.provider.SendOTP(ctx, phone.E164(), proof)
	if err != nil {
		return Handle{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "send code")
	}

	m.logger.Info("otp code requested", "phone", audit.MaskPhone(phone.E164()), "handle", handle.ID)
	audit.Emit(ctx, m.auditor, audit.Event{
		Action: audit.ActionCodeSent,
		Phone:  audit.MaskPhone(phone.E164()),
	})
	return handle, nil
}

// ConfirmCode exchanges (handle, code) for a credential. A malformed code
// fails locally without touching the network. The wait is bounded by
// ExchangeTimeout.
func (m *Manager) ConfirmCode(ctx context.Context, handle Handle, code string) (Credential, error) {
	if len(code) != m.cfg.CodeLength || !isDigits(code) {
		return Credential{}, &VerifyError{
			Kind: VerifyMalformedCode,
			Err:  fmt.Errorf("code must be %d digits", m.cfg.CodeLength),
		}
	}

	type result struct {
		cred Credential
		err  error
	}
	// Buffered so a late provider response never leaks a goroutine; the
	// result is simply dropped once the caller has moved on.
	done := make(chan result, 1)
	go func() {
		cred, err := m.provider.ConfirmOTP(ctx, handle, code)
		done <- result{cred: cred, err: err}
	}()

	timer := time.NewTimer(m.cfg.ExchangeTimeout)
	defer timer.Stop()

	select {
	case res := <-done:
		if res.err != nil {
			verr := m.classifyConfirmError(res.err)
			m.logger.Warn("otp confirm failed", "handle", handle.ID, "kind", verr.Kind.String())
			audit.Emit(ctx, m.auditor, audit.Event{
				Action: audit.ActionCodeConfirmFailed,
				Phone:  audit.MaskPhone(handle.Address),
				Reason: verr.Kind.String(),
			})
			return Credential{}, verr
		}
		return res.cred, nil
	case <-timer.C:
		return Credential{}, &VerifyError{Kind: VerifyTimeout, Err: fmt.Errorf("no provider response within %s", m.cfg.ExchangeTimeout)}
	case <-ctx.Done():
		return Credential{}, &VerifyError{Kind: VerifyTimeout, Err: ctx.Err()}
	}
}

func (m *Manager) classifyConfirmError(err error) *VerifyError {
	switch {
	case errors.Is(err, ErrWrongCode):
		return &VerifyError{Kind: VerifyWrongCode, Err: err}
	case errors.Is(err, sentinel.ErrExpired),
		errors.Is(err, sentinel.ErrSuperseded),
		errors.Is(err, sentinel.ErrNotFound):
		return &VerifyError{Kind: VerifyExpiredHandle, Err: err}
	default:
		return &VerifyError{Kind: VerifyTransport, Err: err}
	}
}
