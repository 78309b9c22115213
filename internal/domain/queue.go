package domain

import "time"

// TokenStatus is the admission state of a queue token
type TokenStatus string

const (
	TokenStatusWaiting TokenStatus = "WAITING"
	TokenStatusActive  TokenStatus = "ACTIVE"
)

// QueueToken admits one user into the purchase flow of one sale
type QueueToken struct {
	TokenID   string      `json:"token_id"`
	UserID    string      `json:"user_id"`
	SaleID    string      `json:"sale_id"`
	Status    TokenStatus `json:"status"`
	Position  int64       `json:"position"`
	IssuedAt  time.Time   `json:"issued_at"`
	ExpiresAt time.Time   `json:"expires_at"`
	EnteredAt *time.Time  `json:"entered_at,omitempty"`
}

// IsActive reports whether the token is ACTIVE and unexpired at now
func (t *QueueToken) IsActive(now time.Time) bool {
	return t.Status == TokenStatusActive && now.Before(t.ExpiresAt)
}

// IsExpired checks if the token has expired
func (t *QueueToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// CleanupResult counts tokens garbage-collected from a sale's sets
type CleanupResult struct {
	SaleID         string `json:"sale_id"`
	ActiveRemoved  int64  `json:"active_removed"`
	WaitingRemoved int64  `json:"waiting_removed"`
}

// Total returns the number of removed tokens
func (r *CleanupResult) Total() int64 {
	return r.ActiveRemoved + r.WaitingRemoved
}
