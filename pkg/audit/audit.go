// Package audit captures security-relevant authentication events. Domain
// logic emits events through a Publisher; sinks fan out to memory (tests,
// dev) or Kafka. Keep the event transport-agnostic.
package audit

import (
	"context"
	"time"

	"ravegate/pkg/domain"
)

// Action names one auditable fact.
type Action string

const (
	ActionCodeSent           Action = "otp_code_sent"
	ActionCodeConfirmFailed  Action = "otp_confirm_failed"
	ActionLoginSucceeded     Action = "login_succeeded"
	ActionLockoutApplied     Action = "lockout_applied"
	ActionRoutedRegistration Action = "routed_registration"
)

// Event is emitted from domain logic to capture key auth actions.
// Phone is stored masked; raw numbers never reach a sink.
type Event struct {
	Timestamp time.Time     `json:"timestamp"`
	Action    Action        `json:"action"`
	UserID    domain.UserID `json:"user_id,omitempty"`
	Phone     string        `json:"phone,omitempty"`
	Reason    string        `json:"reason,omitempty"`
}

// Publisher emits audit events for security-relevant operations.
type Publisher interface {
	Emit(ctx context.Context, event Event) error
}

// MaskPhone hides all but the last two digits of an E.164 address.
func MaskPhone(phone string) string {
	if len(phone) <= 2 {
		return "**"
	}
	masked := make([]byte, len(phone))
	for i := range phone {
		if i >= len(phone)-2 || phone[i] == '+' {
			masked[i] = phone[i]
		} else {
			masked[i] = '*'
		}
	}
	return string(masked)
}

// Emit fills the timestamp and publishes, tolerating a nil publisher so call
// sites don't guard.
func Emit(ctx context.Context, pub Publisher, event Event) {
	if pub == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	_ = pub.Emit(ctx, event)
}
