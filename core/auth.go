package core

import (
	"strings"
	"time"
)

// AuthMethod identifies how a user proved who they are
type AuthMethod string

const (
	AuthMethodWallet   AuthMethod = "wallet"
	AuthMethodOAuth    AuthMethod = "oauth"
	AuthMethodPassword AuthMethod = "password"
)

// User is the canonical identity every authentication method resolves to
type User struct {
	ID            string     // Opaque unique identifier
	Email         string     // Normalized email, empty when unknown
	WalletAddress string     // Lowercase 0x-prefixed address, empty when unknown
	AuthMethod    AuthMethod // Method used to create the record
	DisplayName   string
	AvatarURL     string
	PasswordHash  string // PHC-encoded hash, empty for users without a password
	CreatedAt     time.Time
	LastLoginAt   time.Time
}

// Challenge is a pending wallet sign-in
type Challenge struct {
	Nonce        string    // Random single-use value embedded in Message
	Message      string    // Exact text the wallet has to sign
	BoundAddress string    // Optional address the challenge is scoped to
	IssuedAt     time.Time // When the challenge was created
	ExpiresAt    time.Time // When the challenge expires
}

// Expired reports whether the challenge is past its expiry at t
func (c *Challenge) Expired(t time.Time) bool {
	return !t.Before(c.ExpiresAt)
}

// OAuthTransaction is a pending provider redirect
type OAuthTransaction struct {
	ID            string    // Random id held by the browser in an HttpOnly cookie
	State         string    // Anti-CSRF value echoed by the provider
	PKCEVerifier  string    // Never leaves the server
	PKCEChallenge string    // S256 of PKCEVerifier, sent to the provider
	RedirectURI   string    // Callback registered with the provider
	ReturnTo      string    // Relative path to land on after sign-in
	CreatedAt     time.Time // When the redirect started
	ExpiresAt     time.Time // When the transaction expires
}

// Expired reports whether the transaction is past its expiry at t
func (t *OAuthTransaction) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Session represents an authenticated user session
type Session struct {
	ID        string    // Unique session identifier, the server-side key
	UserID    string    // Canonical user the session belongs to
	Method    AuthMethod
	IssuedAt  time.Time // When the session was created
	ExpiresAt time.Time // When the session expires
}

// Expired reports whether the session is past its expiry at t
func (s *Session) Expired(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}

// ProviderIdentity is the profile an OAuth provider returned for a user
type ProviderIdentity struct {
	Provider      string
	SubjectID     string
	Email         string
	EmailVerified *bool // nil when the provider does not say
	DisplayName   string
	AvatarURL     string
}

// NormalizeEmail trims and lowercases an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
