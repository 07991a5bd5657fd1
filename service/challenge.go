package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/layer-3/gatekeeper/core"
	"github.com/layer-3/gatekeeper/internal/eth"
)

const (
	nonceBytes  = 32
	noncePrefix = "Nonce: "
	anyAddress  = "(any)"
)

// CreateChallenge generates a new wallet sign-in challenge. A non-empty
// boundAddress restricts the challenge to that wallet.
func (s *AuthService) CreateChallenge(ctx context.Context, boundAddress string) (*core.Challenge, error) {
	bound := ""
	if boundAddress != "" {
		normalized, err := eth.NormalizeAddress(boundAddress)
		if err != nil {
			return nil, fmt.Errorf("challenge for %q: %w", boundAddress, err)
		}
		bound = normalized
	}

	nonce, err := randomHex(nonceBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	now := s.now().UTC().Truncate(time.Second)
	challenge := &core.Challenge{
		Nonce:        nonce,
		BoundAddress: bound,
		IssuedAt:     now,
		ExpiresAt:    now.Add(s.cfg.ChallengeTTL),
	}
	challenge.Message = s.challengeMessage(challenge)

	if err := s.challenges.SaveChallenge(ctx, challenge); err != nil {
		return nil, fmt.Errorf("failed to store challenge: %w", err)
	}

	s.transition("wallet", "ChallengeIssued", zap.String("address", bound))
	return challenge, nil
}

func (s *AuthService) challengeMessage(c *core.Challenge) string {
	address := c.BoundAddress
	if address == "" {
		address = anyAddress
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s wants you to sign in with your Ethereum account:\n", s.cfg.Domain)
	fmt.Fprintf(&b, "%s\n\n", address)
	if s.cfg.Statement != "" {
		fmt.Fprintf(&b, "%s\n\n", s.cfg.Statement)
	}
	fmt.Fprintf(&b, "URI: %s\n", s.cfg.URI)
	fmt.Fprintf(&b, "Chain ID: %d\n", s.cfg.ChainID)
	fmt.Fprintf(&b, "%s%s\n", noncePrefix, c.Nonce)
	fmt.Fprintf(&b, "Issued At: %s\n", c.IssuedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Expiration Time: %s", c.ExpiresAt.Format(time.RFC3339))
	return b.String()
}

// nonceFromMessage finds the nonce line of a sign-in message
func nonceFromMessage(message string) string {
	for _, line := range strings.Split(message, "\n") {
		if nonce, ok := strings.CutPrefix(strings.TrimRight(line, "\r"), noncePrefix); ok {
			return strings.TrimSpace(nonce)
		}
	}
	return ""
}

// LoginWithWallet verifies a signed challenge and issues a session for the
// wallet's canonical user.
func (s *AuthService) LoginWithWallet(ctx context.Context, address, message, signature string) (*IssuedSession, *core.User, error) {
	wallet, err := s.verifyWalletProof(ctx, address, message, signature)
	if err != nil {
		return nil, nil, err
	}

	user, err := s.reconciler.ResolveOrCreate(ctx, core.WalletProof{Address: wallet})
	if err != nil {
		return nil, nil, err
	}
	s.transition("wallet", "IdentityResolved", zap.String("user_id", user.ID))

	issued, err := s.IssueSession(ctx, user.ID, core.AuthMethodWallet)
	if err != nil {
		return nil, nil, err
	}
	s.transition("wallet", "SessionIssued", zap.String("user_id", user.ID))
	return issued, user, nil
}

// LinkWallet attaches a wallet proven by a signed challenge to an existing user
func (s *AuthService) LinkWallet(ctx context.Context, userID, address, message, signature string) (*core.User, error) {
	wallet, err := s.verifyWalletProof(ctx, address, message, signature)
	if err != nil {
		return nil, err
	}
	return s.reconciler.LinkWallet(ctx, userID, core.WalletProof{Address: wallet})
}

// verifyWalletProof runs the wallet state machine up to Verified and returns
// the normalized address. The nonce is consumed only after the signature
// checks out, so a bad proof leaves the challenge usable until it expires.
func (s *AuthService) verifyWalletProof(ctx context.Context, address, message, signature string) (string, error) {
	s.transition("wallet", "ProofSubmitted", zap.String("address", address))

	wallet, err := eth.NormalizeAddress(address)
	if err != nil {
		s.rejectProof("malformed address", address, "")
		return "", fmt.Errorf("wallet proof: %w", err)
	}

	nonce := nonceFromMessage(message)
	if nonce == "" {
		s.rejectProof("message has no nonce", wallet, "")
		return "", fmt.Errorf("wallet proof: %w", core.ErrInvalidSignature)
	}

	challenge, err := s.challenges.GetChallenge(ctx, nonce)
	if err != nil {
		s.rejectProof(err.Error(), wallet, nonce)
		return "", fmt.Errorf("wallet proof: %w", err)
	}
	if challenge.Expired(s.now()) {
		s.rejectProof("challenge expired", wallet, nonce)
		return "", fmt.Errorf("wallet proof: %w", core.ErrChallengeExpired)
	}
	if challenge.Message != message {
		s.rejectProof("message does not match challenge", wallet, nonce)
		return "", fmt.Errorf("wallet proof: %w", core.ErrInvalidSignature)
	}
	if challenge.BoundAddress != "" && challenge.BoundAddress != wallet {
		s.rejectProof("challenge bound to another address", wallet, nonce)
		return "", fmt.Errorf("wallet proof: %w", core.ErrInvalidSignature)
	}

	ok, recovered := eth.VerifySignature(message, signature, wallet)
	if !ok {
		s.rejectProof("signature does not recover claimed address", wallet, nonce, zap.String("recovered", recovered))
		return "", fmt.Errorf("wallet proof: %w", core.ErrInvalidSignature)
	}

	if err := s.challenges.ConsumeChallenge(ctx, nonce); err != nil {
		s.rejectProof(err.Error(), wallet, nonce)
		return "", fmt.Errorf("wallet proof: %w", err)
	}

	s.transition("wallet", "Verified", zap.String("address", wallet))
	return wallet, nil
}

func (s *AuthService) rejectProof(reason, address, nonce string, fields ...zap.Field) {
	s.transition("wallet", "Rejected")
	s.logger.Warn("wallet proof rejected",
		append([]zap.Field{
			zap.String("reason", reason),
			zap.String("address", address),
			zap.String("nonce", nonce),
			zap.Time("at", s.now().UTC()),
		}, fields...)...)
}
