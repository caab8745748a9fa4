package domain

// Identity is the resolved result of a successful credential exchange: the
// provider's stable user ID plus the verified phone number in E.164 form.
// One Identity exists per authenticated session.
type Identity struct {
	ID    UserID
	Phone string
}
