// Package providerlocal is a full in-process implementation of the identity
// provider boundary: it issues verification handles, checks codes, mints
// signed credentials, and replays the current session to subscribers. The
// server binary runs on it; tests exercise the real thing instead of mocks.
package providerlocal

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"ravegate/internal/challenge"
	"ravegate/internal/otp"
	"ravegate/pkg/domain"
	"ravegate/pkg/platform/sentinel"
)

// maxConfirmAttempts mirrors the upstream provider's guess budget per handle.
const maxConfirmAttempts = 5

type handleState struct {
	address    string
	code       string
	issuedAt   time.Time
	expiresAt  time.Time
	attempts   int
	superseded bool
}

// DeliveryFunc receives the dispatched code. The default logs it at debug
// level, standing in for the out-of-band SMS channel.
type DeliveryFunc func(address, code string)

// Provider implements otp.Provider backed by in-process state.
type Provider struct {
	signingKey []byte
	handleTTL  time.Duration
	codeLength int
	deliver    DeliveryFunc
	logger     *slog.Logger
	genCode    func(length int) (string, error)
	mintFn     func(userID domain.UserID, phone string) (string, error)

	// notifyMu serializes subscriber deliveries so replays and live events
	// arrive in a single order.
	notifyMu sync.Mutex

	mu          sync.Mutex
	handles     map[domain.HandleID]*handleState
	activeByNum map[string]domain.HandleID
	users       map[string]domain.UserID
	current     *domain.Identity
	subscribers map[int]func(*domain.Identity)
	nextSubID   int
}

type Option func(*Provider)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

func WithDelivery(fn DeliveryFunc) Option {
	return func(p *Provider) {
		p.deliver = fn
	}
}

// WithCodeGenerator overrides code generation; tests use it to issue known
// codes.
func WithCodeGenerator(fn func(length int) (string, error)) Option {
	return func(p *Provider) {
		p.genCode = fn
	}
}

func New(signingKey []byte, handleTTL time.Duration, codeLength int, opts ...Option) *Provider {
	if handleTTL <= 0 {
		handleTTL = 3 * time.Minute
	}
	if codeLength <= 0 {
		codeLength = 6
	}
	p := &Provider{
		signingKey:  signingKey,
		handleTTL:   handleTTL,
		codeLength:  codeLength,
		logger:      slog.Default(),
		genCode:     randomCode,
		handles:     make(map[domain.HandleID]*handleState),
		activeByNum: make(map[string]domain.HandleID),
		users:       make(map[string]domain.UserID),
		subscribers: make(map[int]func(*domain.Identity)),
	}
	p.mintFn = p.mintCredential
	for _, opt := range opts {
		opt(p)
	}
	if p.deliver == nil {
		logger := p.logger
		p.deliver = func(address, code string) {
			logger.Debug("otp dispatched", "address", address, "code", code)
		}
	}
	return p
}

// SendOTP issues a handle and dispatches a code. A previous active handle for
// the same address is superseded; confirming against it will fail.
func (p *Provider) SendOTP(_ context.Context, address string, proof challenge.Token) (otp.Handle, error) {
	if proof.Value == "" {
		return otp.Handle{}, fmt.Errorf("missing interactivity proof")
	}

	code, err := p.genCode(p.codeLength)
	if err != nil {
		return otp.Handle{}, fmt.Errorf("generate code: %w", err)
	}

	p.mu.Lock()
	if prevID, ok := p.activeByNum[address]; ok {
		if prev, ok := p.handles[prevID]; ok {
			prev.superseded = true
		}
	}

	id := domain.NewHandleID()
	now := time.Now()
	p.handles[id] = &handleState{
		address:   address,
		code:      code,
		issuedAt:  now,
		expiresAt: now.Add(p.handleTTL),
	}
	p.activeByNum[address] = id
	p.mu.Unlock()

	p.deliver(address, code)
	return otp.Handle{ID: id, Address: address}, nil
}

// ConfirmOTP exchanges (handle, code) for a signed credential and resolves
// the session. A wrong code leaves the handle usable for a retry.
func (p *Provider) ConfirmOTP(_ context.Context, handle otp.Handle, code string) (otp.Credential, error) {
	p.mu.Lock()

	state, ok := p.handles[handle.ID]
	if !ok {
		p.mu.Unlock()
		return otp.Credential{}, fmt.Errorf("handle %s: %w", handle.ID, sentinel.ErrNotFound)
	}
	if state.superseded {
		p.mu.Unlock()
		return otp.Credential{}, fmt.Errorf("handle %s: %w", handle.ID, sentinel.ErrSuperseded)
	}
	if time.Now().After(state.expiresAt) {
		delete(p.handles, handle.ID)
		p.mu.Unlock()
		return otp.Credential{}, fmt.Errorf("handle %s: %w", handle.ID, sentinel.ErrExpired)
	}
	if code != state.code {
		state.attempts++
		if state.attempts >= maxConfirmAttempts {
			// The provider burns the handle after too many guesses.
			delete(p.handles, handle.ID)
			delete(p.activeByNum, state.address)
			p.mu.Unlock()
			return otp.Credential{}, fmt.Errorf("handle %s attempts exhausted: %w", handle.ID, sentinel.ErrExpired)
		}
		p.mu.Unlock()
		return otp.Credential{}, otp.ErrWrongCode
	}

	// Mint before consuming the handle: a signing failure must leave the
	// handle usable and the session unresolved.
	address := state.address
	userID, ok := p.users[address]
	if !ok {
		userID = domain.NewUserID()
	}
	token, err := p.mintFn(userID, address)
	if err != nil {
		p.mu.Unlock()
		return otp.Credential{}, fmt.Errorf("mint credential: %w", err)
	}

	// Single use: the handle is consumed by a successful exchange.
	delete(p.handles, handle.ID)
	delete(p.activeByNum, address)
	p.users[address] = userID

	identity := &domain.Identity{ID: userID, Phone: address}
	p.current = identity
	subs := p.snapshotSubscribersLocked()
	p.mu.Unlock()

	p.notifyMu.Lock()
	for _, fn := range subs {
		fn(identity)
	}
	p.notifyMu.Unlock()
	return otp.Credential{Token: token}, nil
}

// CurrentSession returns the replayed persisted session, if any.
func (p *Provider) CurrentSession(_ context.Context) (*domain.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, nil
}

// OnSessionChange subscribes fn to session resolution events. The current
// state, possibly nil, is replayed asynchronously so cold-start subscribers
// receive an explicit "no session" signal. The replay reads the state at
// delivery time and is serialized with live notifications, so a stale
// snapshot can never land after a newer resolution.
func (p *Provider) OnSessionChange(fn func(*domain.Identity)) func() {
	p.mu.Lock()
	id := p.nextSubID
	p.nextSubID++
	p.subscribers[id] = fn
	p.mu.Unlock()

	go func() {
		p.notifyMu.Lock()
		defer p.notifyMu.Unlock()

		p.mu.Lock()
		_, subscribed := p.subscribers[id]
		current := p.current
		p.mu.Unlock()
		if !subscribed {
			return
		}
		fn(current)
	}()

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subscribers, id)
	}
}

// SignOut clears the session and signals subscribers.
func (p *Provider) SignOut() {
	p.mu.Lock()
	p.current = nil
	subs := p.snapshotSubscribersLocked()
	p.mu.Unlock()

	p.notifyMu.Lock()
	for _, fn := range subs {
		fn(nil)
	}
	p.notifyMu.Unlock()
}

// VerifyCredential validates a minted credential and returns its identity.
func (p *Provider) VerifyCredential(token string) (*domain.Identity, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return p.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("parse credential: %w", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("invalid credential claims")
	}

	sub, _ := claims["sub"].(string)
	phone, _ := claims["phone"].(string)
	userID, err := domain.ParseUserID(sub)
	if err != nil {
		return nil, fmt.Errorf("credential subject: %w", err)
	}
	return &domain.Identity{ID: userID, Phone: phone}, nil
}

func (p *Provider) mintCredential(userID domain.UserID, phone string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   userID.String(),
		"phone": phone,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.signingKey)
}

func (p *Provider) snapshotSubscribersLocked() []func(*domain.Identity) {
	subs := make([]func(*domain.Identity), 0, len(p.subscribers))
	for _, fn := range p.subscribers {
		subs = append(subs, fn)
	}
	return subs
}

func randomCode(length int) (string, error) {
	digits := make([]byte, length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}
