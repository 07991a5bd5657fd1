package service

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/oauth2"

	"github.com/layer-3/gatekeeper/adapters/password"
	"github.com/layer-3/gatekeeper/adapters/store"
	"github.com/layer-3/gatekeeper/adapters/tokenizer"
	"github.com/layer-3/gatekeeper/adapters/users"
	"github.com/layer-3/gatekeeper/core"
	"github.com/layer-3/gatekeeper/internal/eth"
	"github.com/layer-3/gatekeeper/ports"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingPublisher struct {
	mu      sync.Mutex
	logins  []*core.Session
	logouts []*core.Session
}

func (p *recordingPublisher) PublishLogin(_ context.Context, s *core.Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logins = append(p.logins, s)
	return nil
}

func (p *recordingPublisher) PublishLogout(_ context.Context, s *core.Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logouts = append(p.logouts, s)
	return nil
}

func (p *recordingPublisher) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.logins), len(p.logouts)
}

type fakeProvider struct {
	mu       sync.Mutex
	identity core.ProviderIdentity
	err      error
	calls    int
	verifier string
	redirect string
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) AuthorizationURL(state, pkceVerifier, redirectURI string) string {
	q := url.Values{
		"state":                 {state},
		"redirect_uri":          {redirectURI},
		"code_challenge":        {oauth2.S256ChallengeFromVerifier(pkceVerifier)},
		"code_challenge_method": {"S256"},
	}
	return "https://idp.test/authorize?" + q.Encode()
}

func (f *fakeProvider) Identify(_ context.Context, code, pkceVerifier, redirectURI string) (*core.ProviderIdentity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.verifier = pkceVerifier
	f.redirect = redirectURI
	if f.err != nil {
		return nil, f.err
	}
	identity := f.identity
	return &identity, nil
}

// countingHasher counts Verify calls of the wrapped hasher
type countingHasher struct {
	ports.PasswordHasher
	verifies atomic.Int64
}

func (c *countingHasher) Verify(encoded, password string) (bool, error) {
	c.verifies.Add(1)
	return c.PasswordHasher.Verify(encoded, password)
}

type harness struct {
	svc       *AuthService
	clock     *testClock
	users     *users.MemoryStore
	ephemeral *store.MemoryStore
	events    *recordingPublisher
	provider  *fakeProvider
	hasher    *countingHasher
}

var cheapParams = password.Params{MemoryKiB: 64, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

func newHarness(t *testing.T) *harness {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	h := &harness{
		clock:    &testClock{t: time.Now()},
		users:    users.NewMemoryStore(),
		events:   &recordingPublisher{},
		provider: &fakeProvider{},
		hasher:   &countingHasher{PasswordHasher: password.NewArgon2Hasher(cheapParams)},
	}
	h.ephemeral = store.NewMemoryStore().WithClock(h.clock.now)

	cfg := DefaultConfig()
	cfg.AllowedRedirectURLs = []string{"https://app.test/callback"}

	svc, err := NewAuthService(cfg, Dependencies{
		Challenges:   h.ephemeral,
		Transactions: h.ephemeral,
		Sessions:     h.ephemeral,
		Users:        h.users,
		Tokenizer:    tokenizer.NewJWTTokenizer(key),
		Events:       h.events,
		Provider:     h.provider,
		Hasher:       h.hasher,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	h.svc = svc.WithClock(h.clock.now)
	return h
}

type wallet struct {
	key     *ecdsa.PrivateKey
	address string
}

func newWallet(t *testing.T) *wallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &wallet{key: key, address: crypto.PubkeyToAddress(key.PublicKey).Hex()}
}

// sign produces a personal_sign signature the way browser wallets do
func (w *wallet) sign(t *testing.T, message string) string {
	t.Helper()
	sig, err := crypto.Sign(eth.PersonalMessageHash(message), w.key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig)
}

func (w *wallet) lower() string {
	return strings.ToLower(w.address)
}
