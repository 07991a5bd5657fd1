package ports

import (
	"context"
	"time"

	"github.com/layer-3/gatekeeper/core"
)

// ChallengeStore holds pending wallet challenges
type ChallengeStore interface {
	// SaveChallenge stores a challenge until its expiry
	SaveChallenge(ctx context.Context, challenge *core.Challenge) error

	// GetChallenge returns a live challenge without consuming it. It fails with
	// core.ErrChallengeExpired for unknown or expired nonces and with
	// core.ErrChallengeConsumed once the challenge has been used.
	GetChallenge(ctx context.Context, nonce string) (*core.Challenge, error)

	// ConsumeChallenge marks the challenge used. Of any number of concurrent
	// calls for one nonce exactly one succeeds.
	ConsumeChallenge(ctx context.Context, nonce string) error
}

// TransactionStore holds pending OAuth transactions
type TransactionStore interface {
	SaveTransaction(ctx context.Context, txn *core.OAuthTransaction) error

	// ConsumeTransaction atomically fetches and removes a transaction. Unknown
	// or expired ids fail with core.ErrInvalidOAuthState.
	ConsumeTransaction(ctx context.Context, id string) (*core.OAuthTransaction, error)
}

// SessionStore keeps the server-side record behind every session token
type SessionStore interface {
	SaveSession(ctx context.Context, session *core.Session) error

	// GetSession fails with core.ErrSessionInvalid for unknown or expired ids
	GetSession(ctx context.Context, id string) (*core.Session, error)

	DeleteSession(ctx context.Context, id string) error
}

// UserStore persists canonical users. Email and wallet address are unique
// when present; violations surface as core.ErrDuplicateUser.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*core.User, error)
	GetByEmail(ctx context.Context, email string) (*core.User, error)
	GetByWallet(ctx context.Context, address string) (*core.User, error)
	Create(ctx context.Context, user *core.User) error
	// RecordLogin stamps a login and fills display name and avatar only where
	// they are still empty. No other field is written.
	RecordLogin(ctx context.Context, id string, at time.Time, displayName, avatarURL string) (*core.User, error)
	// AttachWallet sets the wallet of a user that holds none or already holds
	// address. Any other case fails with core.ErrDuplicateUser.
	AttachWallet(ctx context.Context, id, address string) (*core.User, error)
}
