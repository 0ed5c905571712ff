// Package models defines types shared across internal packages.
package models

import "time"

// User is a local user keyed by its upstream identity.
type User struct {
	ID             string    `json:"id"`
	UpstreamUserID string    `json:"upstream_user_id"`
	DisplayName    string    `json:"display_name,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Session is a local login. Only the hash of its token is stored.
// Sessions are revoked, never deleted.
type Session struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	TokenHash  string     `json:"token_hash"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	LastSeenAt time.Time  `json:"last_seen_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// Active reports whether the session is usable at now.
func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// UpstreamCredential holds a user's encrypted upstream tokens. An empty
// RefreshTokenEncrypted means the credential cannot be refreshed; a nil
// ExpiresAt means the expiry is unknown.
type UpstreamCredential struct {
	UserID                string     `json:"user_id"`
	AccessTokenEncrypted  string     `json:"access_token_encrypted"`
	RefreshTokenEncrypted string     `json:"refresh_token_encrypted,omitempty"`
	ExpiresAt             *time.Time `json:"expires_at,omitempty"`
	Scope                 string     `json:"scope,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// OAuthStateStatus is the lifecycle of an authorization-code state value.
type OAuthStateStatus string

const (
	OAuthStatePending  OAuthStateStatus = "pending"
	OAuthStateConsumed OAuthStateStatus = "consumed"
)

// OAuthState binds an authorization request to its redirect URI and
// optional PKCE verifier hash. It transitions pending to consumed once.
type OAuthState struct {
	State            string           `json:"state"`
	RedirectURI      string           `json:"redirect_uri"`
	CodeVerifierHash string           `json:"code_verifier_hash,omitempty"`
	Status           OAuthStateStatus `json:"status"`
	CreatedAt        time.Time        `json:"created_at"`
	ExpiresAt        time.Time        `json:"expires_at"`
	ConsumedAt       *time.Time       `json:"consumed_at,omitempty"`
}

// BootstrapConfig remembers which upstream collections serve as a user's
// root and default space.
type BootstrapConfig struct {
	UserID                   string    `json:"user_id"`
	RootCollectionID         string    `json:"root_collection_id"`
	DefaultSpaceCollectionID string    `json:"default_space_collection_id"`
	RootTitle                string    `json:"root_title"`
	DefaultSpaceTitle        string    `json:"default_space_title"`
	CreatedAt                time.Time `json:"created_at"`
	UpdatedAt                time.Time `json:"updated_at"`
}
