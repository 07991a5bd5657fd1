package ports

import (
	"context"

	"github.com/layer-3/gatekeeper/core"
)

// OAuthProvider talks to an external authorization server
type OAuthProvider interface {
	// Name identifies the provider in user records and logs
	Name() string

	// AuthorizationURL builds the redirect carrying state and the S256 PKCE challenge
	AuthorizationURL(state, pkceVerifier, redirectURI string) string

	// Identify exchanges code and verifier for an access token and fetches the
	// user profile with it.
	Identify(ctx context.Context, code, pkceVerifier, redirectURI string) (*core.ProviderIdentity, error)
}

// PasswordHasher hashes and checks passwords
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(encoded, password string) (bool, error)
}
