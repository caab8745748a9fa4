package login

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ravegate/internal/challenge"
	"ravegate/internal/lockout"
	"ravegate/internal/otp"
	"ravegate/internal/otp/providerlocal"
	"ravegate/internal/profile"
	profilestore "ravegate/internal/profile/store"
	"ravegate/internal/session"
	"ravegate/pkg/audit"
	dErrors "ravegate/pkg/domain-errors"
	"ravegate/pkg/platform/sentinel"
)

const (
	testCode  = "482913"
	testPhone = "+905551234567"
)

// flakyChallenge fails Prepare a scripted number of times before becoming
// ready, and records resets.
type flakyChallenge struct {
	mu           sync.Mutex
	failPrepares int
	prepares     int
	resets       int
	ready        bool
}

func (c *flakyChallenge) Prepare(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prepares++
	if c.prepares <= c.failPrepares {
		return errors.New("widget construction failed")
	}
	c.ready = true
	return nil
}

func (c *flakyChallenge) Token(_ context.Context) (challenge.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		return challenge.Token{}, dErrors.Wrap(sentinel.ErrNotReady, dErrors.CodeUnavailable, "challenge not prepared")
	}
	return challenge.Token{Value: "proof", IssuedAt: time.Now()}, nil
}

func (c *flakyChallenge) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resets++
	c.ready = false
}

func (c *flakyChallenge) Close() {}

// brokenSendProvider wraps a real provider but fails every dispatch.
type brokenSendProvider struct {
	*providerlocal.Provider
}

func (p *brokenSendProvider) SendOTP(_ context.Context, _ string, _ challenge.Token) (otp.Handle, error) {
	return otp.Handle{}, errors.New("sms gateway rejected the request")
}

// gatedConfirmProvider parks every confirmation until the gate opens.
type gatedConfirmProvider struct {
	*providerlocal.Provider
	gate chan struct{}
}

func (p *gatedConfirmProvider) ConfirmOTP(ctx context.Context, handle otp.Handle, code string) (otp.Credential, error) {
	<-p.gate
	return p.Provider.ConfirmOTP(ctx, handle, code)
}

type fixture struct {
	flow     *Flow
	provider *providerlocal.Provider
	sessions *session.Store
	profiles *profilestore.Memory
	chp      *flakyChallenge
	auditor  *audit.MemoryPublisher
	locks    *lockout.Service
}

type fixtureConfig struct {
	failPrepares     int
	brokenSend       bool
	lockoutThreshold int
	confirmGate      chan struct{}
	exchangeTimeout  time.Duration
}

func newFixture(t *testing.T, fc fixtureConfig) *fixture {
	t.Helper()

	provider := providerlocal.New([]byte("test-key"), time.Minute, 6,
		providerlocal.WithCodeGenerator(func(_ int) (string, error) { return testCode, nil }),
		providerlocal.WithDelivery(func(_, _ string) {}),
	)

	var otpProvider otp.Provider = provider
	if fc.brokenSend {
		otpProvider = &brokenSendProvider{Provider: provider}
	}
	if fc.confirmGate != nil {
		otpProvider = &gatedConfirmProvider{Provider: provider, gate: fc.confirmGate}
	}

	exchangeTimeout := fc.exchangeTimeout
	if exchangeTimeout <= 0 {
		exchangeTimeout = time.Second
	}

	chp := &flakyChallenge{failPrepares: fc.failPrepares}
	auditor := audit.NewMemoryPublisher()

	manager, err := otp.NewManager(otpProvider, chp, otp.Config{
		CodeLength:      6,
		MinPhoneDigits:  4,
		ExchangeTimeout: exchangeTimeout,
	}, otp.WithAuditPublisher(auditor))
	require.NoError(t, err)

	sessions := session.New(provider)
	t.Cleanup(sessions.Close)

	profiles := profilestore.NewMemory()
	resolver := profile.NewResolver(profiles, time.Second)

	var locks *lockout.Service
	if fc.lockoutThreshold > 0 {
		locks, err = lockout.New(lockout.NewMemoryStore(), fc.lockoutThreshold, time.Minute,
			lockout.WithAuditPublisher(auditor))
		require.NoError(t, err)
	}

	opts := []Option{WithAuditPublisher(auditor)}
	if locks != nil {
		opts = append(opts, WithLockout(locks))
	}

	flow, err := New(manager, chp, sessions, resolver, Config{
		CodeLength:          6,
		MinPhoneDigits:      4,
		ChallengeRetryDelay: time.Millisecond,
		SessionReplayWait:   time.Second,
	}, opts...)
	require.NoError(t, err)

	return &fixture{
		flow:     flow,
		provider: provider,
		sessions: sessions,
		profiles: profiles,
		chp:      chp,
		auditor:  auditor,
		locks:    locks,
	}
}

func phoneNumber(t *testing.T) otp.PhoneNumber {
	t.Helper()
	p, err := otp.NewPhoneNumber("+90", "5551234567")
	require.NoError(t, err)
	return p
}

func TestFlow_FirstLoginRoutesToRegistration(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureConfig{})

	require.NoError(t, f.flow.SubmitPhone(ctx, phoneNumber(t)))
	assert.Equal(t, StateAwaitingCode, f.flow.Snapshot().State)

	dest, err := f.flow.SubmitCode(ctx, testCode)
	require.NoError(t, err)
	assert.Equal(t, profile.DestRegistration, dest.Kind)
	assert.Equal(t, "/register?phone=%2B905551234567", dest.Route())

	// Terminal navigation resets the machine.
	snap := f.flow.Snapshot()
	assert.Equal(t, StateEnteringPhone, snap.State)
	assert.False(t, snap.AwaitingCode)

	assert.Len(t, f.auditor.ByAction(audit.ActionLoginSucceeded), 1)
	assert.Len(t, f.auditor.ByAction(audit.ActionRoutedRegistration), 1)
}

func TestFlow_KnownUserRoutesToMainApp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureConfig{})

	// First login establishes the user ID; register a profile for it.
	require.NoError(t, f.flow.SubmitPhone(ctx, phoneNumber(t)))
	_, err := f.flow.SubmitCode(ctx, testCode)
	require.NoError(t, err)

	identity := f.sessions.Current()
	require.NotNil(t, identity)
	require.NoError(t, f.profiles.Put(ctx, profile.Record{
		UserID: identity.ID, Phone: testPhone, FullName: "Ada",
	}))

	require.NoError(t, f.flow.SubmitPhone(ctx, phoneNumber(t)))
	dest, err := f.flow.SubmitCode(ctx, testCode)
	require.NoError(t, err)
	assert.Equal(t, profile.DestMainApp, dest.Kind)
	assert.Equal(t, "/app", dest.Route())
}

func TestFlow_WrongCodeAllowsRetryOnSameHandle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureConfig{})

	require.NoError(t, f.flow.SubmitPhone(ctx, phoneNumber(t)))

	_, err := f.flow.SubmitCode(ctx, "000000")
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeBadRequest, dErrors.CodeOf(err), "a wrong code is the client's mistake")

	snap := f.flow.Snapshot()
	assert.Equal(t, StateError, snap.State)
	assert.Equal(t, ErrorVerify, snap.ErrorKind)
	assert.True(t, snap.AwaitingCode, "handle must survive a wrong code")

	// The next submit implicitly dismisses the error.
	dest, err := f.flow.SubmitCode(ctx, testCode)
	require.NoError(t, err)
	assert.Equal(t, profile.DestRegistration, dest.Kind)
}

func TestFlow_LocalValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("short phone rejected without a transition", func(t *testing.T) {
		f := newFixture(t, fixtureConfig{})

		short, err := otp.NewPhoneNumber("+90", "555")
		require.NoError(t, err)

		err = f.flow.SubmitPhone(ctx, short)
		require.Error(t, err)
		assert.Equal(t, dErrors.CodeBadRequest, dErrors.CodeOf(err))
		assert.Equal(t, StateEnteringPhone, f.flow.Snapshot().State)
	})

	t.Run("wrong-length code rejected without losing the handle", func(t *testing.T) {
		f := newFixture(t, fixtureConfig{})
		require.NoError(t, f.flow.SubmitPhone(ctx, phoneNumber(t)))

		_, err := f.flow.SubmitCode(ctx, "123")
		require.Error(t, err)
		assert.Equal(t, dErrors.CodeBadRequest, dErrors.CodeOf(err))

		snap := f.flow.Snapshot()
		assert.Equal(t, StateAwaitingCode, snap.State)
		assert.True(t, snap.AwaitingCode)
	})
}

func TestFlow_SubmitConflicts(t *testing.T) {
	ctx := context.Background()

	t.Run("second phone submit while code pending", func(t *testing.T) {
		f := newFixture(t, fixtureConfig{})
		require.NoError(t, f.flow.SubmitPhone(ctx, phoneNumber(t)))

		err := f.flow.SubmitPhone(ctx, phoneNumber(t))
		require.Error(t, err)
		assert.Equal(t, dErrors.CodeConflict, dErrors.CodeOf(err))
	})

	t.Run("code submit without a pending request", func(t *testing.T) {
		f := newFixture(t, fixtureConfig{})

		_, err := f.flow.SubmitCode(ctx, testCode)
		require.Error(t, err)
		assert.Equal(t, dErrors.CodeConflict, dErrors.CodeOf(err))
	})
}

func TestFlow_RejectsSubmitsWhileSubmitting(t *testing.T) {
	ctx := context.Background()
	gate := make(chan struct{})
	f := newFixture(t, fixtureConfig{confirmGate: gate})

	require.NoError(t, f.flow.SubmitPhone(ctx, phoneNumber(t)))

	done := make(chan error, 1)
	go func() {
		_, err := f.flow.SubmitCode(ctx, testCode)
		done <- err
	}()

	require.Eventually(t, func() bool {
		return f.flow.Snapshot().State == StateSubmitting
	}, time.Second, time.Millisecond)

	// Everything bounces off the in-flight exchange without disturbing it.
	err := f.flow.SubmitPhone(ctx, phoneNumber(t))
	assert.ErrorIs(t, err, ErrSubmitInFlight)
	assert.Equal(t, dErrors.CodeConflict, dErrors.CodeOf(err))

	_, err = f.flow.SubmitCode(ctx, testCode)
	assert.ErrorIs(t, err, ErrSubmitInFlight)

	assert.ErrorIs(t, f.flow.Cancel(), ErrSubmitInFlight)

	close(gate)
	require.NoError(t, <-done)
	assert.Equal(t, StateEnteringPhone, f.flow.Snapshot().State)
}

func TestFlow_ExchangeTimeoutIsCoded(t *testing.T) {
	ctx := context.Background()
	gate := make(chan struct{})
	t.Cleanup(func() { close(gate) })
	f := newFixture(t, fixtureConfig{confirmGate: gate, exchangeTimeout: 50 * time.Millisecond})

	require.NoError(t, f.flow.SubmitPhone(ctx, phoneNumber(t)))

	_, err := f.flow.SubmitCode(ctx, testCode)
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeTimeout, dErrors.CodeOf(err))

	snap := f.flow.Snapshot()
	assert.Equal(t, StateError, snap.State)
	assert.Equal(t, ErrorTimeout, snap.ErrorKind)
	assert.False(t, snap.AwaitingCode)
}

func TestFlow_SupersededHandleIsCodedExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureConfig{})

	require.NoError(t, f.flow.SubmitPhone(ctx, phoneNumber(t)))

	// A dispatch outside the flow supersedes the pending handle.
	_, err := f.provider.SendOTP(ctx, testPhone, challenge.Token{Value: "proof", IssuedAt: time.Now()})
	require.NoError(t, err)

	_, err = f.flow.SubmitCode(ctx, testCode)
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeExpired, dErrors.CodeOf(err))
	assert.False(t, f.flow.Snapshot().AwaitingCode, "a dead handle forces a fresh send")
}

func TestFlow_CancelDiscardsHandle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureConfig{})

	require.NoError(t, f.flow.SubmitPhone(ctx, phoneNumber(t)))
	require.NoError(t, f.flow.Cancel())

	snap := f.flow.Snapshot()
	assert.Equal(t, StateEnteringPhone, snap.State)
	assert.False(t, snap.AwaitingCode)

	// A fresh attempt works end to end.
	require.NoError(t, f.flow.SubmitPhone(ctx, phoneNumber(t)))
	_, err := f.flow.SubmitCode(ctx, testCode)
	require.NoError(t, err)
}

func TestFlow_ChallengePrepareRetriesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureConfig{failPrepares: 1})

	require.NoError(t, f.flow.SubmitPhone(ctx, phoneNumber(t)))
	assert.Equal(t, StateAwaitingCode, f.flow.Snapshot().State)
	assert.Equal(t, 2, f.chp.prepares)
}

func TestFlow_ChallengeUnavailableSurfacesError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureConfig{failPrepares: 10})

	err := f.flow.SubmitPhone(ctx, phoneNumber(t))
	require.Error(t, err)

	snap := f.flow.Snapshot()
	assert.Equal(t, StateError, snap.State)
	assert.Equal(t, ErrorChallenge, snap.ErrorKind)
	assert.False(t, snap.AwaitingCode)
	assert.Equal(t, 2, f.chp.prepares, "prepare retries exactly once")
}

func TestFlow_SendFailureResetsChallenge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureConfig{brokenSend: true})

	err := f.flow.SubmitPhone(ctx, phoneNumber(t))
	require.Error(t, err)

	snap := f.flow.Snapshot()
	assert.Equal(t, StateError, snap.State)
	assert.Equal(t, ErrorSend, snap.ErrorKind)
	assert.False(t, snap.AwaitingCode)
	assert.GreaterOrEqual(t, f.chp.resets, 1, "challenge must be reset after a send failure")
}

func TestFlow_LockoutAfterRepeatedWrongCodes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureConfig{lockoutThreshold: 2})

	require.NoError(t, f.flow.SubmitPhone(ctx, phoneNumber(t)))

	_, err := f.flow.SubmitCode(ctx, "000000")
	require.Error(t, err)

	// The threshold failure burns the pending handle.
	_, err = f.flow.SubmitCode(ctx, "000000")
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeTooMany, dErrors.CodeOf(err))
	assert.False(t, f.flow.Snapshot().AwaitingCode)

	// Further sends are refused while locked.
	err = f.flow.SubmitPhone(ctx, phoneNumber(t))
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeTooMany, dErrors.CodeOf(err))

	assert.Len(t, f.auditor.ByAction(audit.ActionLockoutApplied), 1)
}

func TestFlow_LoginClearsLockoutBudget(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureConfig{lockoutThreshold: 2})

	require.NoError(t, f.flow.SubmitPhone(ctx, phoneNumber(t)))
	_, err := f.flow.SubmitCode(ctx, "000000")
	require.Error(t, err)

	_, err = f.flow.SubmitCode(ctx, testCode)
	require.NoError(t, err)

	// The earlier failure no longer counts.
	require.NoError(t, f.flow.SubmitPhone(ctx, phoneNumber(t)))
	_, err = f.flow.SubmitCode(ctx, "000000")
	require.Error(t, err)
	assert.NotEqual(t, dErrors.CodeTooMany, dErrors.CodeOf(err))
}

func TestFlow_SessionIdentityStable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureConfig{})

	require.NoError(t, f.flow.SubmitPhone(ctx, phoneNumber(t)))
	_, err := f.flow.SubmitCode(ctx, testCode)
	require.NoError(t, err)
	first := f.sessions.Current()
	require.NotNil(t, first)

	require.NoError(t, f.flow.SubmitPhone(ctx, phoneNumber(t)))
	_, err = f.flow.SubmitCode(ctx, testCode)
	require.NoError(t, err)
	second := f.sessions.Current()
	require.NotNil(t, second)

	assert.Equal(t, first.ID, second.ID)
}
