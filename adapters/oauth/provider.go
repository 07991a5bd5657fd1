package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"

	"github.com/layer-3/gatekeeper/core"
)

const (
	googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
	githubUserInfoURL = "https://api.github.com/user"

	// maxUserInfoBytes bounds how much of a userinfo response is read
	maxUserInfoBytes = 1 << 20
)

// Config describes one OAuth2 provider. Provider "google" and "github" fill
// in endpoints; "custom" needs AuthURL, TokenURL and UserInfoURL.
type Config struct {
	Provider     string
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	Scopes       []string
	HTTPTimeout  time.Duration
}

// Provider drives the authorization code flow with PKCE against one provider
type Provider struct {
	name        string
	config      oauth2.Config
	userInfoURL string
	httpClient  *http.Client
	timeout     time.Duration
}

// NewProvider builds a provider from cfg
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("oauth client id is required")
	}

	endpoint := oauth2.Endpoint{AuthURL: cfg.AuthURL, TokenURL: cfg.TokenURL}
	userInfoURL := cfg.UserInfoURL
	switch cfg.Provider {
	case "google":
		endpoint = google.Endpoint
		if userInfoURL == "" {
			userInfoURL = googleUserInfoURL
		}
	case "github":
		endpoint = github.Endpoint
		if userInfoURL == "" {
			userInfoURL = githubUserInfoURL
		}
	case "custom", "":
		if cfg.AuthURL == "" || cfg.TokenURL == "" || cfg.UserInfoURL == "" {
			return nil, fmt.Errorf("custom oauth provider needs auth, token and userinfo urls")
		}
	default:
		return nil, fmt.Errorf("unknown oauth provider %q", cfg.Provider)
	}

	name := cfg.Provider
	if name == "" {
		name = "custom"
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Provider{
		name: name,
		config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       cfg.Scopes,
		},
		userInfoURL: userInfoURL,
		httpClient:  &http.Client{Timeout: timeout},
		timeout:     timeout,
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) configFor(redirectURI string) *oauth2.Config {
	conf := p.config
	conf.RedirectURL = redirectURI
	return &conf
}

// AuthorizationURL builds the provider redirect with state and an S256 challenge
func (p *Provider) AuthorizationURL(state, pkceVerifier, redirectURI string) string {
	return p.configFor(redirectURI).AuthCodeURL(state, oauth2.S256ChallengeOption(pkceVerifier))
}

// Identify exchanges the code and fetches the user profile. Both calls share
// one deadline and are never retried: codes are single use.
func (p *Provider) Identify(ctx context.Context, code, pkceVerifier, redirectURI string) (*core.ProviderIdentity, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	token, err := p.configFor(redirectURI).Exchange(ctx, code, oauth2.VerifierOption(pkceVerifier))
	if err != nil {
		return nil, fmt.Errorf("token exchange with %s: %v: %w", p.name, err, core.ErrProviderExchangeFailed)
	}

	claims, err := p.fetchUserInfo(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("userinfo from %s: %v: %w", p.name, err, core.ErrProviderExchangeFailed)
	}

	identity := identityFromClaims(claims)
	if identity.SubjectID == "" {
		return nil, fmt.Errorf("userinfo from %s has no subject: %w", p.name, core.ErrProviderExchangeFailed)
	}
	identity.Provider = p.name
	return identity, nil
}

func (p *Provider) fetchUserInfo(ctx context.Context, token *oauth2.Token) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	token.SetAuthHeader(req)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	dec := json.NewDecoder(io.LimitReader(resp.Body, maxUserInfoBytes))
	dec.UseNumber()
	var claims map[string]any
	if err := dec.Decode(&claims); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	return claims, nil
}

// identityFromClaims reads OIDC userinfo claims, falling back to the field
// names GitHub-style APIs use.
func identityFromClaims(claims map[string]any) *core.ProviderIdentity {
	identity := &core.ProviderIdentity{
		SubjectID:   firstString(claims, "sub", "id"),
		Email:       core.NormalizeEmail(firstString(claims, "email")),
		DisplayName: firstString(claims, "name", "login"),
		AvatarURL:   firstString(claims, "picture", "avatar_url"),
	}
	for _, key := range []string{"email_verified", "verified_email"} {
		if v, ok := claims[key].(bool); ok {
			identity.EmailVerified = &v
			break
		}
	}
	return identity
}

func firstString(claims map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := claims[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}
