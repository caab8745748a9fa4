// Package domain holds shared identifier types. Typed IDs keep a user ID from
// being passed where a handle ID belongs; the compiler does the checking.
package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// UserID identifies an authenticated identity. Matches the provider's stable
// unique identifier for the verified phone owner.
type UserID uuid.UUID

// HandleID identifies one in-flight OTP verification attempt.
type HandleID uuid.UUID

// NewUserID returns a fresh random UserID.
func NewUserID() UserID {
	return UserID(uuid.New())
}

// NewHandleID returns a fresh random HandleID.
func NewHandleID() HandleID {
	return HandleID(uuid.New())
}

// ParseUserID parses and validates a UserID from its string form.
// Empty strings and the nil UUID are rejected.
func ParseUserID(s string) (UserID, error) {
	u, err := parseID(s)
	return UserID(u), err
}

// ParseHandleID parses and validates a HandleID from its string form.
func ParseHandleID(s string) (HandleID, error) {
	u, err := parseID(s)
	return HandleID(u), err
}

func parseID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, fmt.Errorf("id is empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id: %w", err)
	}
	if u == uuid.Nil {
		return uuid.Nil, fmt.Errorf("id is nil")
	}
	return u, nil
}

func (id UserID) String() string   { return uuid.UUID(id).String() }
func (id UserID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id HandleID) String() string { return uuid.UUID(id).String() }
func (id HandleID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
