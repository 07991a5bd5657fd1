package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/layer-3/gatekeeper/core"
	"github.com/layer-3/gatekeeper/ports"
)

const maxPasswordLength = 256

// SignUp registers a password user and signs them in
func (s *AuthService) SignUp(ctx context.Context, email, password, displayName string) (*IssuedSession, *core.User, error) {
	s.transition("password", "CredentialsSubmitted", zap.String("mode", "signup"))

	normalized, err := normalizeEmailAddress(email)
	if err != nil {
		return nil, nil, err
	}
	if err := s.checkPasswordPolicy(password); err != nil {
		return nil, nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.reconciler.Register(ctx, core.PasswordIdentity{
		Email:        normalized,
		PasswordHash: hash,
		DisplayName:  displayName,
	})
	if err != nil {
		s.transition("password", "Rejected")
		return nil, nil, err
	}
	s.transition("password", "IdentityResolved", zap.String("user_id", user.ID))

	issued, err := s.IssueSession(ctx, user.ID, core.AuthMethodPassword)
	if err != nil {
		return nil, nil, err
	}
	s.transition("password", "SessionIssued", zap.String("user_id", user.ID))
	return issued, user, nil
}

// LoginWithPassword checks an email and password pair and issues a session.
// Unknown emails and wrong passwords are indistinguishable to the caller.
func (s *AuthService) LoginWithPassword(ctx context.Context, email, password string) (*IssuedSession, *core.User, error) {
	s.transition("password", "CredentialsSubmitted", zap.String("mode", "login"))

	normalized := core.NormalizeEmail(email)
	if len(password) > maxPasswordLength*utf8.UTFMax || utf8.RuneCountInString(password) > maxPasswordLength {
		s.transition("password", "Rejected")
		s.logger.Warn("password login rejected", zap.String("email", normalized), zap.String("reason", "password too long"))
		return nil, nil, core.ErrInvalidCredentials
	}

	user, err := s.users.GetByEmail(ctx, normalized)
	if err != nil && !errors.Is(err, core.ErrUserNotFound) {
		return nil, nil, fmt.Errorf("failed to look up user: %w", err)
	}

	encoded := s.dummyHash()
	if user != nil && user.PasswordHash != "" {
		encoded = user.PasswordHash
	}
	ok, verr := s.hasher.Verify(encoded, password)
	if verr != nil {
		s.logger.Error("stored password hash unusable", zap.Error(verr))
	}
	if user == nil || user.PasswordHash == "" || !ok {
		s.transition("password", "Rejected")
		s.logger.Warn("password login rejected", zap.String("email", normalized), zap.Time("at", s.now().UTC()))
		return nil, nil, core.ErrInvalidCredentials
	}
	s.transition("password", "Verified", zap.String("user_id", user.ID))

	user, err = s.reconciler.ResolveOrCreate(ctx, core.PasswordIdentity{Email: user.Email})
	if err != nil {
		return nil, nil, err
	}
	s.transition("password", "IdentityResolved", zap.String("user_id", user.ID))

	issued, err := s.IssueSession(ctx, user.ID, core.AuthMethodPassword)
	if err != nil {
		return nil, nil, err
	}
	s.transition("password", "SessionIssued", zap.String("user_id", user.ID))
	return issued, user, nil
}

func (s *AuthService) checkPasswordPolicy(password string) error {
	n := utf8.RuneCountInString(password)
	if n < s.cfg.PasswordMinLength || n > maxPasswordLength {
		return fmt.Errorf("password must be %d to %d characters: %w", s.cfg.PasswordMinLength, maxPasswordLength, core.ErrWeakPassword)
	}
	return nil
}

func normalizeEmailAddress(email string) (string, error) {
	normalized := core.NormalizeEmail(email)
	addr, err := mail.ParseAddress(normalized)
	if err != nil || addr.Address != normalized {
		return "", fmt.Errorf("%q: %w", email, core.ErrInvalidEmail)
	}
	return normalized, nil
}

// dummyHashOnce lazily hashes a throwaway password so that logins for
// unknown emails pay the same verification cost as real ones.
func dummyHashOnce(hasher ports.PasswordHasher, logger *zap.Logger) func() string {
	return sync.OnceValue(func() string {
		hash, err := hasher.Hash("gatekeeper-timing-equalizer")
		if err != nil {
			logger.Error("failed to prepare dummy password hash", zap.Error(err))
		}
		return hash
	})
}
