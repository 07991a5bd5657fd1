package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/layer-3/gatekeeper/core"
	"github.com/layer-3/gatekeeper/internal/eth"
	"github.com/layer-3/gatekeeper/ports"
)

// Reconciler maps verified credentials onto canonical users. Records are
// merged only on an exact match of the credential's natural key: the wallet
// address for wallet proofs, the email for everything else.
type Reconciler struct {
	users  ports.UserStore
	logger *zap.Logger
	now    func() time.Time
}

// NewReconciler creates a reconciler over users
func NewReconciler(users ports.UserStore, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{users: users, logger: logger, now: time.Now}
}

// ResolveOrCreate returns the canonical user for cred, creating it on first
// sight. Concurrent calls for one identity converge on a single record.
func (r *Reconciler) ResolveOrCreate(ctx context.Context, cred core.Credential) (*core.User, error) {
	var (
		lookup   func(context.Context) (*core.User, error)
		template *core.User
	)

	switch c := cred.(type) {
	case core.WalletProof:
		address, err := eth.NormalizeAddress(c.Address)
		if err != nil {
			return nil, fmt.Errorf("wallet proof for %q: %w", c.Address, err)
		}
		lookup = func(ctx context.Context) (*core.User, error) { return r.users.GetByWallet(ctx, address) }
		template = &core.User{WalletAddress: address}

	case core.OAuthIdentity:
		email := core.NormalizeEmail(c.Email)
		if email == "" {
			return nil, fmt.Errorf("%s identity %s has no email: %w", c.Provider, c.SubjectID, core.ErrIdentityConflict)
		}
		if c.EmailVerified != nil && !*c.EmailVerified {
			return nil, fmt.Errorf("%s identity %s has an unverified email: %w", c.Provider, c.SubjectID, core.ErrIdentityConflict)
		}
		lookup = func(ctx context.Context) (*core.User, error) { return r.users.GetByEmail(ctx, email) }
		template = &core.User{Email: email, DisplayName: c.DisplayName, AvatarURL: c.AvatarURL}

	case core.PasswordIdentity:
		email := core.NormalizeEmail(c.Email)
		if email == "" {
			return nil, fmt.Errorf("password identity without email: %w", core.ErrInvalidEmail)
		}
		lookup = func(ctx context.Context) (*core.User, error) { return r.users.GetByEmail(ctx, email) }
		template = &core.User{Email: email, DisplayName: c.DisplayName, PasswordHash: c.PasswordHash}

	default:
		return nil, fmt.Errorf("unsupported credential %T", cred)
	}

	template.AuthMethod = cred.Method()
	return r.resolve(ctx, lookup, template)
}

func (r *Reconciler) resolve(ctx context.Context, lookup func(context.Context) (*core.User, error), template *core.User) (*core.User, error) {
	user, err := lookup(ctx)
	if err == nil {
		return r.touch(ctx, user.ID, template)
	}
	if !errors.Is(err, core.ErrUserNotFound) {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	now := r.now().UTC()
	template.ID = uuid.NewString()
	template.CreatedAt = now
	template.LastLoginAt = now

	err = r.users.Create(ctx, template)
	if err == nil {
		r.logger.Info("user created",
			zap.String("user_id", template.ID),
			zap.String("method", string(template.AuthMethod)))
		return template, nil
	}
	if !errors.Is(err, core.ErrDuplicateUser) {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	// Lost a race against a concurrent first login for the same key
	user, err = lookup(ctx)
	if errors.Is(err, core.ErrUserNotFound) {
		return nil, fmt.Errorf("user vanished after duplicate insert: %w", core.ErrIdentityConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	return r.touch(ctx, user.ID, template)
}

// touch records a login on an existing user and fills profile fields that
// are still empty. Populated fields are never overwritten.
func (r *Reconciler) touch(ctx context.Context, userID string, seen *core.User) (*core.User, error) {
	user, err := r.users.RecordLogin(ctx, userID, r.now().UTC(), seen.DisplayName, seen.AvatarURL)
	if err != nil {
		return nil, fmt.Errorf("failed to record login: %w", err)
	}
	return user, nil
}

// Register creates a password user. An email that already belongs to any
// user is a conflict; a password is never attached to an existing account.
func (r *Reconciler) Register(ctx context.Context, identity core.PasswordIdentity) (*core.User, error) {
	email := core.NormalizeEmail(identity.Email)
	if email == "" {
		return nil, core.ErrInvalidEmail
	}

	now := r.now().UTC()
	user := &core.User{
		ID:           uuid.NewString(),
		Email:        email,
		AuthMethod:   core.AuthMethodPassword,
		DisplayName:  identity.DisplayName,
		PasswordHash: identity.PasswordHash,
		CreatedAt:    now,
		LastLoginAt:  now,
	}
	if err := r.users.Create(ctx, user); err != nil {
		if errors.Is(err, core.ErrDuplicateUser) {
			return nil, fmt.Errorf("email %s already registered: %w", email, core.ErrIdentityConflict)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	r.logger.Info("user registered", zap.String("user_id", user.ID))
	return user, nil
}

// LinkWallet attaches a verified wallet to an existing user. Linking the
// wallet a user already holds is a no-op.
func (r *Reconciler) LinkWallet(ctx context.Context, userID string, proof core.WalletProof) (*core.User, error) {
	address, err := eth.NormalizeAddress(proof.Address)
	if err != nil {
		return nil, fmt.Errorf("link wallet %q: %w", proof.Address, err)
	}

	user, err := r.users.GetByID(ctx, userID)
	if errors.Is(err, core.ErrUserNotFound) {
		return nil, fmt.Errorf("link wallet for unknown user: %w", core.ErrSessionInvalid)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	if user.WalletAddress == address {
		return user, nil
	}
	if user.WalletAddress != "" {
		return nil, fmt.Errorf("user %s already holds a wallet: %w", userID, core.ErrIdentityConflict)
	}

	owner, err := r.users.GetByWallet(ctx, address)
	switch {
	case err == nil:
		return nil, fmt.Errorf("wallet belongs to user %s: %w", owner.ID, core.ErrIdentityConflict)
	case !errors.Is(err, core.ErrUserNotFound):
		return nil, fmt.Errorf("failed to look up wallet owner: %w", err)
	}

	linked, err := r.users.AttachWallet(ctx, userID, address)
	switch {
	case errors.Is(err, core.ErrDuplicateUser):
		return nil, fmt.Errorf("wallet linked concurrently: %w", core.ErrIdentityConflict)
	case errors.Is(err, core.ErrUserNotFound):
		return nil, fmt.Errorf("link wallet for unknown user: %w", core.ErrSessionInvalid)
	case err != nil:
		return nil, fmt.Errorf("failed to attach wallet: %w", err)
	}
	r.logger.Info("wallet linked", zap.String("user_id", userID), zap.String("address", address))
	return linked, nil
}
