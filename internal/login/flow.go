// Package login is the authentication state machine tying the challenge
// adapter, OTP manager, session store, and profile resolver together. One
// Flow instance exists per device session; transitions are serialized and a
// submit is ignored while another is in flight.
package login

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"ravegate/internal/challenge"
	"ravegate/internal/lockout"
	"ravegate/internal/login/metrics"
	"ravegate/internal/otp"
	"ravegate/internal/profile"
	"ravegate/internal/session"
	"ravegate/pkg/audit"
	dErrors "ravegate/pkg/domain-errors"
	"ravegate/pkg/platform/sentinel"
)

// State is the screen-visible machine state.
type State int

const (
	StateEnteringPhone State = iota
	StateAwaitingCode
	StateSubmitting
	StateError
)

func (s State) String() string {
	switch s {
	case StateEnteringPhone:
		return "entering_phone"
	case StateAwaitingCode:
		return "awaiting_code"
	case StateSubmitting:
		return "submitting"
	default:
		return "error"
	}
}

// ErrorKind classifies a surfaced error.
type ErrorKind int

const (
	ErrorNone ErrorKind = iota
	ErrorChallenge
	ErrorSend
	ErrorVerify
	ErrorTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorChallenge:
		return "challenge"
	case ErrorSend:
		return "send"
	case ErrorVerify:
		return "verify"
	case ErrorTimeout:
		return "timeout"
	default:
		return ""
	}
}

// ErrSubmitInFlight is returned when a submit arrives while another is still
// running. The in-flight attempt is unaffected.
var ErrSubmitInFlight = dErrors.New(dErrors.CodeConflict, "a submit is already in flight")

// Config bounds the flow's waits and local validation.
type Config struct {
	CodeLength          int
	MinPhoneDigits      int
	ChallengeRetryDelay time.Duration
	SessionReplayWait   time.Duration
}

// Snapshot is a read-only view of the machine for transports.
type Snapshot struct {
	State        State
	ErrorKind    ErrorKind
	ErrorMessage string
	AwaitingCode bool
}

type Flow struct {
	manager   *otp.Manager
	challenge challenge.Provider
	sessions  *session.Store
	resolver  *profile.Resolver
	locks     *lockout.Service
	cfg       Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	auditor   audit.Publisher
	tracer    trace.Tracer

	mu       sync.Mutex
	state    State
	errKind  ErrorKind
	errMsg   string
	recovery State
	handle   *otp.Handle
}

type Option func(*Flow)

func WithLogger(logger *slog.Logger) Option {
	return func(f *Flow) {
		f.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Flow) {
		f.metrics = m
	}
}

func WithLockout(svc *lockout.Service) Option {
	return func(f *Flow) {
		f.locks = svc
	}
}

func WithAuditPublisher(pub audit.Publisher) Option {
	return func(f *Flow) {
		f.auditor = pub
	}
}

func New(manager *otp.Manager, chp challenge.Provider, sessions *session.Store, resolver *profile.Resolver, cfg Config, opts ...Option) (*Flow, error) {
	if manager == nil || chp == nil || sessions == nil || resolver == nil {
		return nil, errors.New("manager, challenge, sessions, and resolver are required")
	}
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = 6
	}
	if cfg.MinPhoneDigits <= 0 {
		cfg.MinPhoneDigits = 4
	}
	if cfg.ChallengeRetryDelay <= 0 {
		cfg.ChallengeRetryDelay = time.Second
	}
	if cfg.SessionReplayWait <= 0 {
		cfg.SessionReplayWait = 5 * time.Second
	}

	f := &Flow{
		manager:   manager,
		challenge: chp,
		sessions:  sessions,
		resolver:  resolver,
		cfg:       cfg,
		logger:    slog.Default(),
		tracer:    otel.Tracer("ravegate/login"),
		state:     StateEnteringPhone,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Snapshot returns the current machine state.
func (f *Flow) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Snapshot{
		State:        f.state,
		ErrorKind:    f.errKind,
		ErrorMessage: f.errMsg,
		AwaitingCode: f.handle != nil,
	}
}

// SubmitPhone requests a code for phone. Short numbers are rejected locally
// without a transition. A challenge that is not ready is prepared (with one
// automatic retry after a fixed delay) before the request; a send failure
// surfaces the error, resets the challenge, and re-prepares it.
func (f *Flow) SubmitPhone(ctx context.Context, phone otp.PhoneNumber) error {
	f.mu.Lock()
	switch f.state {
	case StateSubmitting:
		f.mu.Unlock()
		return ErrSubmitInFlight
	case StateAwaitingCode:
		f.mu.Unlock()
		return dErrors.New(dErrors.CodeConflict, "a code is already pending; cancel first")
	case StateError:
		if f.recovery == StateAwaitingCode {
			f.mu.Unlock()
			return dErrors.New(dErrors.CodeConflict, "a code is already pending; cancel first")
		}
		// Surfaced error is dismissed by the new attempt.
	}
	if phone.Digits() < f.cfg.MinPhoneDigits {
		// Rejected locally, no transition.
		f.mu.Unlock()
		return dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("phone number must have at least %d digits", f.cfg.MinPhoneDigits))
	}
	f.state = StateSubmitting
	f.errKind = ErrorNone
	f.errMsg = ""
	f.mu.Unlock()

	if f.locks != nil && f.locks.IsLocked(ctx, phone.E164()) {
		err := dErrors.New(dErrors.CodeTooMany, "too many wrong codes, try again later")
		f.fail(ErrorSend, err.Message, StateEnteringPhone)
		return err
	}

	if err := f.ensureChallenge(ctx); err != nil {
		f.fail(ErrorChallenge, "verification is unavailable, try again", StateEnteringPhone)
		return err
	}

	handle, err := f.manager.RequestCode(ctx, phone)
	if err != nil && errors.Is(err, sentinel.ErrNotReady) {
		// Readiness raced away between prepare and request; prepare again and
		// retry the submit exactly once.
		if perr := f.ensureChallenge(ctx); perr != nil {
			err = perr
		} else {
			handle, err = f.manager.RequestCode(ctx, phone)
		}
	}
	if err != nil {
		if f.metrics != nil {
			f.metrics.IncrementSendFailures()
		}
		// Browser-hosted recovery rule: the challenge is reset and
		// re-prepared before another submit is allowed.
		f.challenge.Reset()
		if perr := f.challenge.Prepare(ctx); perr != nil {
			f.logger.Warn("challenge re-prepare after send failure", "error", perr)
		}
		f.fail(ErrorSend, "could not send the code", StateEnteringPhone)
		return err
	}

	if f.metrics != nil {
		f.metrics.IncrementCodesSent()
	}

	f.mu.Lock()
	f.state = StateAwaitingCode
	f.handle = &handle
	f.mu.Unlock()
	return nil
}

// SubmitCode exchanges the pending handle and the entered code for a
// credential, waits for the session store to absorb it, and resolves the
// destination. A successful resolution is terminal: the machine resets to
// EnteringPhone and the caller navigates away.
func (f *Flow) SubmitCode(ctx context.Context, code string) (profile.Destination, error) {
	ctx, span := f.tracer.Start(ctx, "login.SubmitCode")
	defer span.End()

	f.mu.Lock()
	if f.state == StateSubmitting {
		f.mu.Unlock()
		return profile.Destination{}, ErrSubmitInFlight
	}
	if f.state == StateError && f.recovery == StateAwaitingCode && f.handle != nil {
		f.state = StateAwaitingCode
	}
	if f.state != StateAwaitingCode || f.handle == nil {
		f.mu.Unlock()
		return profile.Destination{}, dErrors.New(dErrors.CodeConflict, "no code request in flight")
	}
	if len(code) != f.cfg.CodeLength {
		// Rejected locally, no transition.
		f.mu.Unlock()
		return profile.Destination{}, dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("code must be %d digits", f.cfg.CodeLength))
	}
	handle := *f.handle
	f.state = StateSubmitting
	f.errKind = ErrorNone
	f.errMsg = ""
	f.mu.Unlock()

	start := time.Now()
	_, err := f.manager.ConfirmCode(ctx, handle, code)
	if f.metrics != nil {
		f.metrics.ObserveExchange(time.Since(start).Seconds())
	}
	if err != nil {
		return profile.Destination{}, f.confirmFailed(ctx, handle, err)
	}

	// The provider resolved the session as part of the exchange; the store
	// absorbs that event. The bounded wait covers the replay race.
	identity := f.sessions.AwaitNext(ctx, f.cfg.SessionReplayWait)
	if identity == nil {
		f.fail(ErrorTimeout, "sign-in timed out, check your connection", StateEnteringPhone)
		return profile.Destination{}, dErrors.New(dErrors.CodeTimeout, "session did not resolve")
	}

	if f.locks != nil {
		f.locks.Clear(ctx, handle.Address)
	}
	if f.metrics != nil {
		f.metrics.IncrementLogins()
	}
	audit.Emit(ctx, f.auditor, audit.Event{
		Action: audit.ActionLoginSucceeded,
		UserID: identity.ID,
		Phone:  audit.MaskPhone(identity.Phone),
	})

	dest := f.resolver.ResolveDestination(ctx, *identity)
	if dest.Kind == profile.DestRegistration {
		if f.metrics != nil {
			f.metrics.IncrementRegistrationRoutes()
		}
		audit.Emit(ctx, f.auditor, audit.Event{
			Action: audit.ActionRoutedRegistration,
			UserID: identity.ID,
			Phone:  audit.MaskPhone(identity.Phone),
		})
	}

	// Terminal navigation leaves this machine; reset for the next session.
	f.mu.Lock()
	f.state = StateEnteringPhone
	f.handle = nil
	f.errKind = ErrorNone
	f.errMsg = ""
	f.mu.Unlock()

	f.logger.Info("login resolved", "user_id", identity.ID, "destination", dest.Route())
	return dest, nil
}

// Cancel is the explicit "change phone number" action: the pending handle is
// discarded and the machine returns to phone entry. Not an error path.
func (f *Flow) Cancel() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == StateSubmitting {
		return ErrSubmitInFlight
	}
	f.state = StateEnteringPhone
	f.handle = nil
	f.errKind = ErrorNone
	f.errMsg = ""
	return nil
}

// ensureChallenge prepares the challenge provider, retrying once after a
// fixed delay when the first attempt fails.
func (f *Flow) ensureChallenge(ctx context.Context) error {
	err := f.challenge.Prepare(ctx)
	if err == nil {
		return nil
	}
	f.logger.Warn("challenge prepare failed, retrying once", "error", err)

	timer := time.NewTimer(f.cfg.ChallengeRetryDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return dErrors.Wrap(ctx.Err(), dErrors.CodeUnavailable, "challenge prepare canceled")
	}
	return f.challenge.Prepare(ctx)
}

// confirmFailed maps a verify failure onto the machine per its kind. The
// returned error carries a domain code so transports report a client mistake
// as one, not as a server fault.
func (f *Flow) confirmFailed(ctx context.Context, handle otp.Handle, err error) error {
	var verr *otp.VerifyError
	if !errors.As(err, &verr) {
		f.fail(ErrorVerify, "verification failed", StateEnteringPhone)
		return dErrors.Wrap(err, dErrors.CodeInternal, "verification failed")
	}

	if f.metrics != nil {
		f.metrics.IncrementVerifyFailures(verr.Kind.String())
	}

	switch verr.Kind {
	case otp.VerifyWrongCode:
		if f.locks != nil {
			if lerr := f.locks.RecordFailure(ctx, handle.Address); lerr != nil {
				// Threshold crossed: the pending handle is burned along with
				// the send budget.
				f.fail(ErrorSend, "too many wrong codes, try again later", StateEnteringPhone)
				return lerr
			}
		}
		// Same handle; the user may retry immediately.
		f.fail(ErrorVerify, "wrong code, try again", StateAwaitingCode)
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "wrong code, try again")
	case otp.VerifyTransport:
		f.fail(ErrorVerify, "verification failed, try again", StateAwaitingCode)
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "verification failed, try again")
	case otp.VerifyExpiredHandle:
		f.fail(ErrorVerify, "code expired, request a new one", StateEnteringPhone)
		return dErrors.Wrap(err, dErrors.CodeExpired, "code expired, request a new one")
	case otp.VerifyTimeout:
		f.fail(ErrorTimeout, "sign-in timed out, check your connection", StateEnteringPhone)
		return dErrors.Wrap(err, dErrors.CodeTimeout, "sign-in timed out, check your connection")
	default:
		// Malformed codes are rejected before Submitting is entered; reaching
		// here means a caller bypassed the flow.
		f.fail(ErrorVerify, "verification failed", StateAwaitingCode)
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "verification failed")
	}
}

// fail surfaces an error state with the given recovery target. Recovery to
// EnteringPhone discards the pending handle.
func (f *Flow) fail(kind ErrorKind, msg string, recovery State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = StateError
	f.errKind = kind
	f.errMsg = msg
	f.recovery = recovery
	if recovery == StateEnteringPhone {
		f.handle = nil
	}
}
