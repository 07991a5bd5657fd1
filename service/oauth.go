package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/layer-3/gatekeeper/core"
)

// ErrOAuthDisabled is returned by the OAuth flow when no provider is configured
var ErrOAuthDisabled = errors.New("oauth provider not configured")

const (
	stateBytes       = 32
	transactionBytes = 32
)

// BeginAuthorization starts an Authorization Code + PKCE flow. An empty
// redirectURI selects the configured callback; returnTo must be a relative
// path. The returned transaction id must be handed back on the callback.
func (s *AuthService) BeginAuthorization(ctx context.Context, redirectURI, returnTo string) (string, *core.OAuthTransaction, error) {
	if s.provider == nil {
		return "", nil, ErrOAuthDisabled
	}

	redirect, err := s.resolveRedirect(redirectURI)
	if err != nil {
		return "", nil, err
	}
	if err := validateReturnTo(returnTo); err != nil {
		return "", nil, err
	}

	id, err := randomHex(transactionBytes)
	if err != nil {
		return "", nil, err
	}
	state, err := randomHex(stateBytes)
	if err != nil {
		return "", nil, err
	}
	verifier := oauth2.GenerateVerifier()

	now := s.now().UTC()
	txn := &core.OAuthTransaction{
		ID:            id,
		State:         state,
		PKCEVerifier:  verifier,
		PKCEChallenge: oauth2.S256ChallengeFromVerifier(verifier),
		RedirectURI:   redirect,
		ReturnTo:      returnTo,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.cfg.TransactionTTL),
	}
	if err := s.transactions.SaveTransaction(ctx, txn); err != nil {
		return "", nil, fmt.Errorf("failed to store oauth transaction: %w", err)
	}

	s.transition("oauth", "TransactionStarted", zap.String("provider", s.provider.Name()))
	return s.provider.AuthorizationURL(state, verifier, redirect), txn, nil
}

// CompleteAuthorization handles the provider callback: it consumes the
// transaction, checks state, and exchanges the code for the user profile.
func (s *AuthService) CompleteAuthorization(ctx context.Context, code, state, transactionID string) (*core.ProviderIdentity, *core.OAuthTransaction, error) {
	if s.provider == nil {
		return nil, nil, ErrOAuthDisabled
	}
	s.transition("oauth", "CallbackReceived")

	if transactionID == "" {
		if code == "" || state == "" {
			s.rejectCallback("missing code or state", "")
			return nil, nil, core.ErrMissingOAuthParameters
		}
		s.rejectCallback("missing transaction cookie", "")
		return nil, nil, core.ErrInvalidOAuthState
	}

	// Consumed before anything else so that no outcome leaves it replayable
	txn, err := s.transactions.ConsumeTransaction(ctx, transactionID)
	if err != nil {
		s.rejectCallback(err.Error(), transactionID)
		return nil, nil, fmt.Errorf("oauth callback: %w", err)
	}
	if txn.Expired(s.now()) {
		s.rejectCallback("transaction expired", transactionID)
		return nil, txn, fmt.Errorf("oauth callback: %w", core.ErrInvalidOAuthState)
	}
	if code == "" || state == "" {
		s.rejectCallback("missing code or state", transactionID)
		return nil, txn, core.ErrMissingOAuthParameters
	}
	if subtle.ConstantTimeCompare([]byte(state), []byte(txn.State)) != 1 {
		s.rejectCallback("state mismatch", transactionID)
		return nil, txn, fmt.Errorf("oauth callback: %w", core.ErrInvalidOAuthState)
	}
	s.transition("oauth", "StateValid")

	identity, err := s.provider.Identify(ctx, code, txn.PKCEVerifier, txn.RedirectURI)
	if err != nil {
		s.transition("oauth", "ExchangeFailed")
		s.logger.Warn("oauth exchange failed",
			zap.String("transaction_id", transactionID),
			zap.String("provider", s.provider.Name()),
			zap.Error(err))
		if !errors.Is(err, core.ErrProviderExchangeFailed) {
			err = fmt.Errorf("%v: %w", err, core.ErrProviderExchangeFailed)
		}
		return nil, txn, err
	}
	s.transition("oauth", "CodeExchanged", zap.String("subject", identity.SubjectID))
	return identity, txn, nil
}

// LoginWithOAuth completes the callback and issues a session for the
// provider identity's canonical user. The returned path is where the browser
// should land.
func (s *AuthService) LoginWithOAuth(ctx context.Context, code, state, transactionID string) (*IssuedSession, *core.User, string, error) {
	identity, txn, err := s.CompleteAuthorization(ctx, code, state, transactionID)
	if err != nil {
		return nil, nil, "", err
	}

	user, err := s.reconciler.ResolveOrCreate(ctx, core.OAuthIdentity{ProviderIdentity: *identity})
	if err != nil {
		s.logger.Warn("oauth identity not reconciled",
			zap.String("transaction_id", transactionID),
			zap.String("subject", identity.SubjectID),
			zap.Error(err))
		return nil, nil, "", err
	}
	s.transition("oauth", "IdentityResolved", zap.String("user_id", user.ID))

	issued, err := s.IssueSession(ctx, user.ID, core.AuthMethodOAuth)
	if err != nil {
		return nil, nil, "", err
	}
	s.transition("oauth", "SessionIssued", zap.String("user_id", user.ID))
	return issued, user, txn.ReturnTo, nil
}

func (s *AuthService) rejectCallback(reason, transactionID string) {
	s.transition("oauth", "StateInvalid")
	s.logger.Warn("oauth callback rejected",
		zap.String("reason", reason),
		zap.String("transaction_id", transactionID),
		zap.Time("at", s.now().UTC()))
}

func (s *AuthService) resolveRedirect(redirectURI string) (string, error) {
	if redirectURI == "" || redirectURI == s.cfg.RedirectURL {
		return s.cfg.RedirectURL, nil
	}
	if slices.Contains(s.cfg.AllowedRedirectURLs, redirectURI) {
		return redirectURI, nil
	}
	return "", fmt.Errorf("%q: %w", redirectURI, core.ErrInvalidRedirect)
}

// validateReturnTo accepts only same-origin relative paths
func validateReturnTo(returnTo string) error {
	if returnTo == "" {
		return nil
	}
	if !strings.HasPrefix(returnTo, "/") || strings.HasPrefix(returnTo, "//") || strings.ContainsAny(returnTo, "\\\r\n") {
		return fmt.Errorf("return path %q: %w", returnTo, core.ErrInvalidRedirect)
	}
	u, err := url.Parse(returnTo)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return fmt.Errorf("return path %q: %w", returnTo, core.ErrInvalidRedirect)
	}
	return nil
}
