// Package models defines the core data structures for the Quire Teams bot.
package models

import "time"

// Token is an OAuth credential pair for a single Quire user.
// AccessToken and RefreshToken are always replaced together; a token is
// never half-updated.
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// IsZero reports whether the token carries no credential.
func (t Token) IsZero() bool {
	return t.AccessToken == ""
}

// Expired reports whether the access token is past its recorded expiry.
// Tokens without a recorded expiry are presumed valid until the remote
// API rejects them with a 401.
func (t Token) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}
