package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/layer-3/gatekeeper/core"
	"github.com/layer-3/gatekeeper/ports"
)

// Config holds the tunables of the authentication flows
type Config struct {
	ChallengeTTL   time.Duration
	TransactionTTL time.Duration
	SessionTTL     time.Duration

	// Sign-in message fields
	Domain    string
	URI       string
	Statement string
	ChainID   int64

	// OAuth callback registered with the provider, plus any alternatives a
	// client may ask for explicitly.
	RedirectURL         string
	AllowedRedirectURLs []string

	Cookie CookieConfig

	PasswordMinLength int
}

// CookieConfig describes how the session cookie is set
type CookieConfig struct {
	Name     string
	Domain   string
	Secure   bool
	HTTPOnly bool
	SameSite http.SameSite
}

// DefaultConfig returns the configuration used when nothing is overridden
func DefaultConfig() Config {
	return Config{
		ChallengeTTL:   5 * time.Minute,
		TransactionTTL: 10 * time.Minute,
		SessionTTL:     24 * time.Hour,
		Domain:         "localhost",
		URI:            "http://localhost:9000",
		Statement:      "Sign in to Gatekeeper.",
		ChainID:        1,
		RedirectURL:    "http://localhost:9000/auth/oauth/callback",
		Cookie: CookieConfig{
			Name:     "gk_session",
			Secure:   true,
			HTTPOnly: true,
			SameSite: http.SameSiteLaxMode,
		},
		PasswordMinLength: 8,
	}
}

// Dependencies are the ports AuthService drives. Provider may be nil, which
// disables the OAuth flow. Events may be nil.
type Dependencies struct {
	Challenges   ports.ChallengeStore
	Transactions ports.TransactionStore
	Sessions     ports.SessionStore
	Users        ports.UserStore
	Tokenizer    ports.Tokenizer
	Events       ports.EventPublisher
	Provider     ports.OAuthProvider
	Hasher       ports.PasswordHasher
}

// AuthService handles authentication business logic
type AuthService struct {
	cfg Config

	challenges   ports.ChallengeStore
	transactions ports.TransactionStore
	sessions     ports.SessionStore
	users        ports.UserStore
	tokenizer    ports.Tokenizer
	eventPub     ports.EventPublisher
	provider     ports.OAuthProvider
	hasher       ports.PasswordHasher

	reconciler *Reconciler
	dummyHash  func() string

	logger *zap.Logger
	now    func() time.Time
}

// NewAuthService creates a new authentication service
func NewAuthService(cfg Config, deps Dependencies, logger *zap.Logger) (*AuthService, error) {
	switch {
	case deps.Challenges == nil, deps.Transactions == nil, deps.Sessions == nil:
		return nil, fmt.Errorf("ephemeral stores are required")
	case deps.Users == nil:
		return nil, fmt.Errorf("user store is required")
	case deps.Tokenizer == nil:
		return nil, fmt.Errorf("tokenizer is required")
	case deps.Hasher == nil:
		return nil, fmt.Errorf("password hasher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Events == nil {
		deps.Events = nopPublisher{}
	}
	if cfg.Cookie.SameSite == 0 {
		cfg.Cookie.SameSite = http.SameSiteLaxMode
	}

	s := &AuthService{
		cfg:          cfg,
		challenges:   deps.Challenges,
		transactions: deps.Transactions,
		sessions:     deps.Sessions,
		users:        deps.Users,
		tokenizer:    deps.Tokenizer,
		eventPub:     deps.Events,
		provider:     deps.Provider,
		hasher:       deps.Hasher,
		logger:       logger,
		now:          time.Now,
	}
	s.reconciler = NewReconciler(deps.Users, logger)
	s.dummyHash = dummyHashOnce(deps.Hasher, logger)
	return s, nil
}

// WithClock replaces the time source. Intended for tests.
func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	s.now = now
	s.reconciler.now = now
	return s
}

// Config returns the active configuration
func (s *AuthService) Config() Config {
	return s.cfg
}

// OAuthEnabled reports whether an OAuth provider is configured
func (s *AuthService) OAuthEnabled() bool {
	return s.provider != nil
}

// Reconciler exposes the identity reconciler
func (s *AuthService) Reconciler() *Reconciler {
	return s.reconciler
}

// transition logs a state change of one authentication flow
func (s *AuthService) transition(flow, state string, fields ...zap.Field) {
	s.logger.Debug("auth flow transition",
		append([]zap.Field{zap.String("flow", flow), zap.String("state", state)}, fields...)...)
}

// randomHex returns n bytes from crypto/rand, hex encoded
func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

type nopPublisher struct{}

func (nopPublisher) PublishLogin(context.Context, *core.Session) error  { return nil }
func (nopPublisher) PublishLogout(context.Context, *core.Session) error { return nil }
