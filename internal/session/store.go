// Package session holds the process-wide "is there an authenticated
// identity" state. Everything that gates on login reads through this store;
// no other code keeps its own notion of the current user.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ravegate/pkg/domain"
)

// State is the session lifecycle. Unknown is the initial state and is never
// re-entered once left.
type State int

const (
	StateUnknown State = iota
	StateAuthenticated
	StateUnauthenticated
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// Source is the provider-side session surface the store subscribes to.
type Source interface {
	CurrentSession(ctx context.Context) (*domain.Identity, error)
	OnSessionChange(fn func(*domain.Identity)) (unsubscribe func())
}

// Store is created once at process start and lives for the process lifetime.
// It absorbs session resolution events from a single provider subscription.
type Store struct {
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	identity    *domain.Identity
	waiters     map[int]chan *domain.Identity
	nextWaiter  int
	unsubscribe func()
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New builds the store and subscribes to the source. The source replays its
// current state to the subscription, so a warm provider session resolves the
// store without any call from this process.
func New(source Source, opts ...Option) *Store {
	s := &Store{
		logger:  slog.Default(),
		state:   StateUnknown,
		waiters: make(map[int]chan *domain.Identity),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.unsubscribe = source.OnSessionChange(s.absorb)
	return s
}

// Current returns the resolved identity synchronously, or nil when no
// identity has been resolved yet (or the session is unauthenticated).
func (s *Store) Current() *domain.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// State returns the lifecycle state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AwaitNext resolves to the authenticated identity, waiting up to timeout for
// a resolution event if one has not fired yet. It returns nil on timeout
// rather than failing; the bound covers the cold-start race where the
// provider has not replayed its persisted session when the caller needs an
// answer.
func (s *Store) AwaitNext(ctx context.Context, timeout time.Duration) *domain.Identity {
	s.mu.Lock()
	if s.state == StateAuthenticated {
		identity := s.identity
		s.mu.Unlock()
		return identity
	}

	ch := make(chan *domain.Identity, 1)
	id := s.nextWaiter
	s.nextWaiter++
	s.waiters[id] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.waiters, id)
		s.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case identity := <-ch:
		return identity
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return nil
	}
}

// Close drops the provider subscription. Only tests use this; the store is
// never torn down during normal process lifetime.
func (s *Store) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// absorb applies one provider event. An identity authenticates the session;
// an explicit nil is the provider's "no session" signal.
func (s *Store) absorb(identity *domain.Identity) {
	s.mu.Lock()

	if identity != nil {
		s.state = StateAuthenticated
		s.identity = identity
		for _, ch := range s.waiters {
			select {
			case ch <- identity:
			default:
			}
		}
		s.mu.Unlock()
		s.logger.Debug("session authenticated", "user_id", identity.ID)
		return
	}

	// An explicit "no session" is still a resolution event; waiters get nil
	// instead of burning their full timeout.
	s.state = StateUnauthenticated
	s.identity = nil
	for _, ch := range s.waiters {
		select {
		case ch <- nil:
		default:
		}
	}
	s.mu.Unlock()
	s.logger.Debug("session unauthenticated")
}
