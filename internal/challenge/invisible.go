package challenge

import (
	"context"
	"log/slog"
	"sync"

	dErrors "ravegate/pkg/domain-errors"
	"ravegate/pkg/platform/sentinel"
)

// Widget identifies one hidden challenge widget mounted in the host document.
type Widget struct {
	ID string
}

// WidgetHost is the document the invisible variant mounts its widget into.
// The adapter is the only code allowed to create, replace, or remove widgets,
// and it keeps at most one mounted at a time.
type WidgetHost interface {
	Mount(ctx context.Context) (Widget, error)
	Remove(w Widget)
}

// Session is a constructed challenge bound to a mounted widget.
type Session interface {
	// Execute solves the invisible challenge and returns a one-time proof.
	Execute(ctx context.Context) (Token, error)
	// Clear tears the challenge instance down.
	Clear()
}

// Minter constructs a provider challenge bound to a widget. onExpire fires
// when the provider invalidates the token out of band.
type Minter interface {
	Mint(ctx context.Context, w Widget, onExpire func()) (Session, error)
}

// Invisible is the browser-hosted variant: a hidden widget mounted into the
// host document backs an invisible challenge. Prepare removes any stale
// widget before mounting a fresh one, avoiding the provider's
// "challenge already rendered" failure mode.
type Invisible struct {
	host   WidgetHost
	minter Minter
	logger *slog.Logger

	mu      sync.Mutex
	widget  *Widget
	session Session
	ready   bool
}

type InvisibleOption func(*Invisible)

func WithInvisibleLogger(logger *slog.Logger) InvisibleOption {
	return func(p *Invisible) {
		p.logger = logger
	}
}

func NewInvisible(host WidgetHost, minter Minter, opts ...InvisibleOption) *Invisible {
	p := &Invisible{
		host:   host,
		minter: minter,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Prepare mounts a fresh widget and constructs a challenge bound to it.
// Readiness is marked only after construction succeeds. Idempotent.
func (p *Invisible) Prepare(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ready {
		return nil
	}

	// Remove-then-recreate, never create without removing the prior widget.
	p.teardownLocked()

	w, err := p.host.Mount(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "mount challenge widget")
	}
	p.widget = &w

	session, err := p.minter.Mint(ctx, w, p.onExpire)
	if err != nil {
		p.teardownLocked()
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "construct challenge")
	}

	p.session = session
	p.ready = true
	p.logger.Debug("challenge ready", "widget", w.ID)
	return nil
}

// Token executes the invisible challenge and returns a one-time proof.
// Fails fast when not ready; it never silently prepares.
func (p *Invisible) Token(ctx context.Context) (Token, error) {
	p.mu.Lock()
	session := p.session
	ready := p.ready
	p.mu.Unlock()

	if !ready || session == nil {
		return Token{}, dErrors.Wrap(sentinel.ErrNotReady, dErrors.CodeUnavailable, "challenge not prepared")
	}

	tok, err := session.Execute(ctx)
	if err != nil {
		// Any provider error invalidates the instance; the caller resets and
		// re-prepares before the next attempt.
		p.Reset()
		return Token{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "execute challenge")
	}
	return tok, nil
}

// Reset discards the challenge and unmounts the widget.
func (p *Invisible) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.teardownLocked()
}

// Close unmounts the widget on adapter teardown.
func (p *Invisible) Close() {
	p.Reset()
}

// onExpire handles the provider's out-of-band expiry callback.
func (p *Invisible) onExpire() {
	p.logger.Debug("challenge token expired")
	p.Reset()
}

func (p *Invisible) teardownLocked() {
	if p.session != nil {
		p.session.Clear()
		p.session = nil
	}
	if p.widget != nil {
		p.host.Remove(*p.widget)
		p.widget = nil
	}
	p.ready = false
}
