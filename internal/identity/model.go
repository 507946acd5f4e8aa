package identity

import "time"

// User is a registered participant. Its ID is the identity used for
// contributions and withdrawals.
type User struct {
	ID           string
	Phone        string
	PINHash      []byte
	DeviceID     string
	TokenVersion int
	CreatedAt    time.Time
	LastLogin    *time.Time
}

// Credentials request structure.
type Credentials struct {
	Phone    string
	PIN      string
	DeviceID string
}
