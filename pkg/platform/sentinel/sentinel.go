package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Provider adapters and stores
// return these (optionally wrapped) so services can translate them into
// domain errors without string matching.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrExpired: handle/token/session has passed its lifetime
// - ErrSuperseded: handle was invalidated by a newer code request
// - ErrNotReady: resource exists but is not yet usable (challenge widget)
// - ErrUnavailable: backend temporarily unreachable
//
// For validation errors (bad input, short codes), use pkg/domain-errors.
var (
	ErrNotFound    = errors.New("not found")
	ErrExpired     = errors.New("expired")
	ErrSuperseded  = errors.New("superseded")
	ErrNotReady    = errors.New("not ready")
	ErrUnavailable = errors.New("unavailable")
)
