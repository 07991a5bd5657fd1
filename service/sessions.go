package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/layer-3/gatekeeper/core"
)

const sessionIDBytes = 32

// IssuedSession is a freshly minted session with its transport details
type IssuedSession struct {
	Session *core.Session
	Token   string
	Cookie  *http.Cookie
}

// IssueSession creates the server-side session record and the token naming it
func (s *AuthService) IssueSession(ctx context.Context, userID string, method core.AuthMethod) (*IssuedSession, error) {
	id, err := randomHex(sessionIDBytes)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	session := &core.Session{
		ID:        id,
		UserID:    userID,
		Method:    method,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.SessionTTL),
	}

	token, err := s.tokenizer.SessionToToken(session)
	if err != nil {
		return nil, fmt.Errorf("failed to create session token: %w", err)
	}
	if err := s.sessions.SaveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	if err := s.eventPub.PublishLogin(ctx, session); err != nil {
		s.logger.Error("failed to publish login event", zap.String("user_id", userID), zap.Error(err))
	}

	return &IssuedSession{
		Session: session,
		Token:   token,
		Cookie:  s.SessionCookie(token),
	}, nil
}

// ValidateSession returns the live session behind token. Any failure,
// including store errors, is reported as core.ErrSessionInvalid.
func (s *AuthService) ValidateSession(ctx context.Context, token string) (*core.Session, error) {
	claimed, err := s.tokenizer.TokenToSession(token)
	if err != nil {
		return nil, core.ErrSessionInvalid
	}

	session, err := s.sessions.GetSession(ctx, claimed.ID)
	if err != nil {
		if !errors.Is(err, core.ErrSessionInvalid) {
			s.logger.Error("session lookup failed", zap.Error(err))
		}
		return nil, core.ErrSessionInvalid
	}
	if session.Expired(s.now()) {
		return nil, core.ErrSessionInvalid
	}
	return session, nil
}

// RevokeSession deletes the session behind token and announces the logout
func (s *AuthService) RevokeSession(ctx context.Context, token string) error {
	session, err := s.ValidateSession(ctx, token)
	if err != nil {
		return err
	}
	if err := s.sessions.DeleteSession(ctx, session.ID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if err := s.eventPub.PublishLogout(ctx, session); err != nil {
		s.logger.Error("failed to publish logout event", zap.String("user_id", session.UserID), zap.Error(err))
	}
	s.logger.Debug("session revoked", zap.String("user_id", session.UserID))
	return nil
}

// CurrentUser returns the user a validated session belongs to
func (s *AuthService) CurrentUser(ctx context.Context, userID string) (*core.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, core.ErrUserNotFound) {
		return nil, core.ErrSessionInvalid
	}
	return user, err
}

// SessionCookie describes the cookie carrying token
func (s *AuthService) SessionCookie(token string) *http.Cookie {
	return &http.Cookie{
		Name:     s.cfg.Cookie.Name,
		Value:    token,
		Path:     "/",
		Domain:   s.cfg.Cookie.Domain,
		MaxAge:   int(s.cfg.SessionTTL.Seconds()),
		Secure:   s.cfg.Cookie.Secure,
		HttpOnly: s.cfg.Cookie.HTTPOnly,
		SameSite: s.cfg.Cookie.SameSite,
	}
}

// ClearSessionCookie describes a cookie that removes the session cookie
func (s *AuthService) ClearSessionCookie() *http.Cookie {
	c := s.SessionCookie("")
	c.MaxAge = -1
	return c
}
