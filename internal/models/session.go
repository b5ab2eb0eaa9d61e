package models

import "time"

type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionUsed   SessionStatus = "used"
)

// RefreshSession represents a refresh token issued to a user. Only the hash
// of the verifier half of the token is stored.
type RefreshSession struct {
	Selector     string        `json:"selector"`
	VerifierHash string        `json:"verifier_hash"`
	UserID       string        `json:"user_id"`
	Status       SessionStatus `json:"status"`
	UserAgent    string        `json:"user_agent"`
	IPAddress    string        `json:"ip_address"`
	CreatedAt    time.Time     `json:"created_at"`
	ExpiresAt    time.Time     `json:"expires_at"`
}
