// Package lockout throttles OTP abuse: too many wrong codes for a phone
// number within a window refuses further sends until the window passes.
package lockout

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"ravegate/pkg/audit"
	dErrors "ravegate/pkg/domain-errors"
)

// Store tracks wrong-code failures per identifier within a sliding window.
type Store interface {
	// RecordFailure adds one failure and returns the count inside the window.
	RecordFailure(ctx context.Context, identifier string, window time.Duration) (int, error)
	// Count returns the current failure count inside the window.
	Count(ctx context.Context, identifier string, window time.Duration) (int, error)
	// Clear removes all failures for an identifier.
	Clear(ctx context.Context, identifier string) error
}

type Service struct {
	store     Store
	threshold int
	window    time.Duration
	logger    *slog.Logger
	auditor   audit.Publisher
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(pub audit.Publisher) Option {
	return func(s *Service) {
		s.auditor = pub
	}
}

func New(store Store, threshold int, window time.Duration, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("lockout store is required")
	}
	if threshold <= 0 {
		threshold = 5
	}
	if window <= 0 {
		window = 10 * time.Minute
	}

	svc := &Service{
		store:     store,
		threshold: threshold,
		window:    window,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// IsLocked reports whether the identifier has exhausted its failure budget.
// A store outage fails open: auth keeps working without the throttle.
func (s *Service) IsLocked(ctx context.Context, identifier string) bool {
	count, err := s.store.Count(ctx, identifier, s.window)
	if err != nil {
		s.logger.Warn("lockout store read failed, allowing", "error", err)
		return false
	}
	return count >= s.threshold
}

// RecordFailure registers one wrong code. Returns a coded error when the
// failure crosses the threshold.
func (s *Service) RecordFailure(ctx context.Context, identifier string) error {
	count, err := s.store.RecordFailure(ctx, identifier, s.window)
	if err != nil {
		s.logger.Warn("lockout store write failed", "error", err)
		return nil
	}
	if count == s.threshold {
		s.logger.Info("lockout applied", "identifier", audit.MaskPhone(identifier), "failures", count)
		audit.Emit(ctx, s.auditor, audit.Event{
			Action: audit.ActionLockoutApplied,
			Phone:  audit.MaskPhone(identifier),
		})
		return dErrors.New(dErrors.CodeTooMany, "too many wrong codes")
	}
	return nil
}

// Clear wipes the failure budget after a successful login.
func (s *Service) Clear(ctx context.Context, identifier string) {
	if err := s.store.Clear(ctx, identifier); err != nil {
		s.logger.Warn("lockout clear failed", "error", err)
	}
}
