package core

import "errors"

var (
	ErrInvalidSignature       = errors.New("invalid signature")
	ErrChallengeExpired       = errors.New("challenge expired")
	ErrChallengeConsumed      = errors.New("challenge already consumed")
	ErrInvalidOAuthState      = errors.New("invalid oauth state")
	ErrMissingOAuthParameters = errors.New("missing oauth parameters")
	ErrProviderExchangeFailed = errors.New("provider exchange failed")
	ErrIdentityConflict       = errors.New("identity conflict")
	ErrSessionInvalid         = errors.New("session is invalid")
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrInvalidAddress         = errors.New("invalid ethereum address")
	ErrInvalidRedirect        = errors.New("redirect uri not allowed")
	ErrWeakPassword           = errors.New("password does not meet policy")
	ErrInvalidEmail           = errors.New("invalid email address")

	// Store-level errors, never shown to clients as such
	ErrUserNotFound  = errors.New("user not found")
	ErrDuplicateUser = errors.New("user already exists")
)

// Machine-readable error codes returned to clients
const (
	CodeInvalidSignature       = "invalid_signature"
	CodeChallengeExpired       = "challenge_expired"
	CodeChallengeConsumed      = "challenge_already_consumed"
	CodeInvalidOAuthState      = "invalid_oauth_state"
	CodeMissingOAuthParameters = "missing_oauth_parameters"
	CodeProviderExchangeFailed = "provider_exchange_failed"
	CodeIdentityConflict       = "identity_conflict"
	CodeSessionInvalid         = "session_invalid"
	CodeInvalidCredentials     = "invalid_credentials"
	CodeInvalidRequest         = "invalid_request"
	CodeInternal               = "internal_error"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrInvalidSignature, CodeInvalidSignature},
	{ErrInvalidAddress, CodeInvalidSignature},
	{ErrChallengeExpired, CodeChallengeExpired},
	{ErrChallengeConsumed, CodeChallengeConsumed},
	{ErrInvalidOAuthState, CodeInvalidOAuthState},
	{ErrMissingOAuthParameters, CodeMissingOAuthParameters},
	{ErrProviderExchangeFailed, CodeProviderExchangeFailed},
	{ErrIdentityConflict, CodeIdentityConflict},
	{ErrSessionInvalid, CodeSessionInvalid},
	{ErrInvalidCredentials, CodeInvalidCredentials},
	{ErrInvalidRedirect, CodeInvalidRequest},
	{ErrWeakPassword, CodeInvalidRequest},
	{ErrInvalidEmail, CodeInvalidRequest},
}

// Code returns the client-facing code for err. Errors outside the taxonomy
// map to CodeInternal.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}
