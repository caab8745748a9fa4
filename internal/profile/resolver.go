// Package profile decides where an authenticated identity lands: the main
// application when a profile record exists, the registration flow when it
// does not — or when we cannot tell in time.
package profile

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"ravegate/pkg/domain"
)

// Record is the backend-held profile entity. Only its existence matters to
// resolution; content is owned by the registration flow.
type Record struct {
	UserID    domain.UserID
	Phone     string
	FullName  string
	CreatedAt time.Time
}

// Store reads profile records. Implementations return an error wrapping
// sentinel.ErrNotFound when no record exists.
type Store interface {
	Get(ctx context.Context, id domain.UserID) (*Record, error)
}

// DestinationKind enumerates the two terminal routes.
type DestinationKind int

const (
	DestMainApp DestinationKind = iota
	DestRegistration
)

// Destination is the routing decision for an authenticated identity.
type Destination struct {
	Kind  DestinationKind
	Phone string // set for DestRegistration
}

// Route renders the client-side route for the destination. Registration
// carries the phone number as a query parameter so the user doesn't retype
// it.
func (d Destination) Route() string {
	if d.Kind == DestMainApp {
		return "/app"
	}
	return "/register?phone=" + url.QueryEscape(d.Phone)
}

// Resolver performs a single bounded-time profile read per resolution.
type Resolver struct {
	store   Store
	timeout time.Duration
	logger  *slog.Logger
	tracer  trace.Tracer
}

type Option func(*Resolver)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

func NewResolver(store Store, timeout time.Duration, opts ...Option) *Resolver {
	if timeout <= 0 {
		timeout = 7 * time.Second
	}
	r := &Resolver{
		store:   store,
		timeout: timeout,
		logger:  slog.Default(),
		tracer:  otel.Tracer("ravegate/profile"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveDestination routes identity based on profile existence. Errors and
// timeouts are deliberately NOT distinguished from "not found": the cost of
// sending a known user through registration again (idempotent re-entry of
// known data) is judged lower than blocking on a slow or unavailable
// backend. No retries; one attempt within the bound.
func (r *Resolver) ResolveDestination(ctx context.Context, identity domain.Identity) Destination {
	ctx, span := r.tracer.Start(ctx, "profile.ResolveDestination",
		trace.WithAttributes(attribute.String("user.id", identity.ID.String())))
	defer span.End()

	type result struct {
		record *Record
		err    error
	}
	// Buffered: on timeout we stop waiting without cancelling the read; a
	// late result is dropped.
	done := make(chan result, 1)
	go func() {
		rec, err := r.store.Get(ctx, identity.ID)
		done <- result{record: rec, err: err}
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		if res.err != nil || res.record == nil {
			if res.err != nil {
				r.logger.Debug("profile read failed, routing to registration", "user_id", identity.ID, "error", res.err)
			}
			span.SetAttributes(attribute.String("destination", "registration"))
			return Destination{Kind: DestRegistration, Phone: identity.Phone}
		}
		span.SetAttributes(attribute.String("destination", "main_app"))
		return Destination{Kind: DestMainApp}
	case <-timer.C:
		r.logger.Debug("profile read timed out, routing to registration", "user_id", identity.ID)
		span.SetAttributes(attribute.String("destination", "registration"))
		return Destination{Kind: DestRegistration, Phone: identity.Phone}
	case <-ctx.Done():
		span.SetAttributes(attribute.String("destination", "registration"))
		return Destination{Kind: DestRegistration, Phone: identity.Phone}
	}
}
