// Package apikey defines issued API credentials.
package apikey

import "time"

// Key is an issued API credential. Only the SHA-256 hash of the secret is
// stored; the plaintext is shown once at creation and cannot be recovered.
type Key struct {
	ID         string     `json:"id" db:"id"`
	Label      string     `json:"label" db:"label"`
	Hash       string     `json:"-" db:"hash"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// Expired reports whether the key has an expiry in the past.
func (k Key) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}
