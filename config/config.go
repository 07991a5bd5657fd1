package config

import (
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

const (
	EnvPrefix = "GATEKEEPER"

	Debug         = "debug"
	HTTPAddr      = "http.addr"
	RedisURL      = "redis.url"
	DatabaseURL   = "database.url"
	SigningKeyPEM = "signing_key_pem"

	SessionTTL            = "session.ttl"
	SessionCookieName     = "session.cookie_name"
	SessionCookieDomain   = "session.cookie_domain"
	SessionCookieSecure   = "session.cookie_secure"
	SessionCookieHTTPOnly = "session.cookie_http_only"

	ChallengeTTL       = "challenge.ttl"
	ChallengeDomain    = "challenge.domain"
	ChallengeURI       = "challenge.uri"
	ChallengeStatement = "challenge.statement"
	ChallengeChainID   = "challenge.chain_id"

	OAuthProvider            = "oauth.provider"
	OAuthClientID            = "oauth.client_id"
	OAuthClientSecret        = "oauth.client_secret"
	OAuthAuthURL             = "oauth.auth_url"
	OAuthTokenURL            = "oauth.token_url"
	OAuthUserInfoURL         = "oauth.userinfo_url"
	OAuthScopes              = "oauth.scopes"
	OAuthRedirectURL         = "oauth.redirect_url"
	OAuthAllowedRedirectURLs = "oauth.allowed_redirect_urls"
	OAuthTransactionTTL      = "oauth.transaction_ttl"
	OAuthHTTPTimeout         = "oauth.http_timeout"

	AppSuccessURL = "app.success_url"
	AppErrorURL   = "app.error_url"
	AppSignInURL  = "app.signin_url"

	PasswordMinLength   = "password.min_length"
	PasswordMemoryKiB   = "password.argon2_memory_kib"
	PasswordIterations  = "password.argon2_iterations"
	PasswordParallelism = "password.argon2_parallelism"
)

var oauthProviders = []string{"google", "github", "custom"}

type SessionConfig struct {
	TTL            time.Duration
	CookieName     string
	CookieDomain   string
	CookieSecure   bool
	CookieHTTPOnly bool
}

type ChallengeConfig struct {
	TTL       time.Duration
	Domain    string
	URI       string
	Statement string
	ChainID   int64
}

// OAuthConfig configures the single OAuth provider. An empty ClientID
// disables the OAuth flow.
type OAuthConfig struct {
	Provider            string
	ClientID            string
	ClientSecret        string
	AuthURL             string
	TokenURL            string
	UserInfoURL         string
	Scopes              []string
	RedirectURL         string
	AllowedRedirectURLs []string
	TransactionTTL      time.Duration
	HTTPTimeout         time.Duration
}

// Enabled reports whether OAuth sign-in is configured
func (o *OAuthConfig) Enabled() bool {
	return o.ClientID != ""
}

type AppConfig struct {
	SuccessURL string
	ErrorURL   string
	SignInURL  string
}

type PasswordConfig struct {
	MinLength   int
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
}

type Config struct {
	Debug         bool
	HTTPAddr      string
	RedisURL      string
	DatabaseURL   string
	SigningKeyPEM string

	Session   SessionConfig
	Challenge ChallengeConfig
	OAuth     OAuthConfig
	App       AppConfig
	Password  PasswordConfig
}

// SetDefaults registers the default value of every key on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault(Debug, false)
	v.SetDefault(HTTPAddr, ":9000")
	v.SetDefault(RedisURL, "")
	v.SetDefault(DatabaseURL, "")
	v.SetDefault(SigningKeyPEM, "")

	v.SetDefault(SessionTTL, 24*time.Hour)
	v.SetDefault(SessionCookieName, "gk_session")
	v.SetDefault(SessionCookieDomain, "")
	v.SetDefault(SessionCookieSecure, true)
	v.SetDefault(SessionCookieHTTPOnly, true)

	v.SetDefault(ChallengeTTL, 5*time.Minute)
	v.SetDefault(ChallengeDomain, "localhost")
	v.SetDefault(ChallengeURI, "http://localhost:9000")
	v.SetDefault(ChallengeStatement, "Sign in to Gatekeeper.")
	v.SetDefault(ChallengeChainID, 1)

	v.SetDefault(OAuthProvider, "google")
	v.SetDefault(OAuthClientID, "")
	v.SetDefault(OAuthClientSecret, "")
	v.SetDefault(OAuthAuthURL, "")
	v.SetDefault(OAuthTokenURL, "")
	v.SetDefault(OAuthUserInfoURL, "")
	v.SetDefault(OAuthScopes, []string{"openid", "email", "profile"})
	v.SetDefault(OAuthRedirectURL, "http://localhost:9000/auth/oauth/callback")
	v.SetDefault(OAuthAllowedRedirectURLs, []string{})
	v.SetDefault(OAuthTransactionTTL, 10*time.Minute)
	v.SetDefault(OAuthHTTPTimeout, 10*time.Second)

	v.SetDefault(AppSuccessURL, "/")
	v.SetDefault(AppErrorURL, "/signin")
	v.SetDefault(AppSignInURL, "/signin")

	v.SetDefault(PasswordMinLength, 8)
	v.SetDefault(PasswordMemoryKiB, 64*1024)
	v.SetDefault(PasswordIterations, 3)
	v.SetDefault(PasswordParallelism, 2)
}

// FromViper reads a Config out of v
func FromViper(v *viper.Viper) *Config {
	return &Config{
		Debug:         v.GetBool(Debug),
		HTTPAddr:      v.GetString(HTTPAddr),
		RedisURL:      v.GetString(RedisURL),
		DatabaseURL:   v.GetString(DatabaseURL),
		SigningKeyPEM: v.GetString(SigningKeyPEM),
		Session: SessionConfig{
			TTL:            v.GetDuration(SessionTTL),
			CookieName:     v.GetString(SessionCookieName),
			CookieDomain:   v.GetString(SessionCookieDomain),
			CookieSecure:   v.GetBool(SessionCookieSecure),
			CookieHTTPOnly: v.GetBool(SessionCookieHTTPOnly),
		},
		Challenge: ChallengeConfig{
			TTL:       v.GetDuration(ChallengeTTL),
			Domain:    v.GetString(ChallengeDomain),
			URI:       v.GetString(ChallengeURI),
			Statement: v.GetString(ChallengeStatement),
			ChainID:   v.GetInt64(ChallengeChainID),
		},
		OAuth: OAuthConfig{
			Provider:            v.GetString(OAuthProvider),
			ClientID:            v.GetString(OAuthClientID),
			ClientSecret:        v.GetString(OAuthClientSecret),
			AuthURL:             v.GetString(OAuthAuthURL),
			TokenURL:            v.GetString(OAuthTokenURL),
			UserInfoURL:         v.GetString(OAuthUserInfoURL),
			Scopes:              splitList(v.GetStringSlice(OAuthScopes)),
			RedirectURL:         v.GetString(OAuthRedirectURL),
			AllowedRedirectURLs: splitList(v.GetStringSlice(OAuthAllowedRedirectURLs)),
			TransactionTTL:      v.GetDuration(OAuthTransactionTTL),
			HTTPTimeout:         v.GetDuration(OAuthHTTPTimeout),
		},
		App: AppConfig{
			SuccessURL: v.GetString(AppSuccessURL),
			ErrorURL:   v.GetString(AppErrorURL),
			SignInURL:  v.GetString(AppSignInURL),
		},
		Password: PasswordConfig{
			MinLength:   v.GetInt(PasswordMinLength),
			MemoryKiB:   v.GetUint32(PasswordMemoryKiB),
			Iterations:  v.GetUint32(PasswordIterations),
			Parallelism: uint8(v.GetUint(PasswordParallelism)),
		},
	}
}

// NewDefaultConfig returns the configuration with every default applied
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	return FromViper(v)
}

// splitList accepts both real lists and comma separated env values
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (c *Config) Validate() error {
	var allErrors field.ErrorList

	if c.HTTPAddr == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("http", "addr"), "http.addr is required"))
	}

	for path, d := range map[*field.Path]time.Duration{
		field.NewPath("session", "ttl"):          c.Session.TTL,
		field.NewPath("challenge", "ttl"):        c.Challenge.TTL,
		field.NewPath("oauth", "transactionTtl"): c.OAuth.TransactionTTL,
		field.NewPath("oauth", "httpTimeout"):    c.OAuth.HTTPTimeout,
	} {
		if d <= 0 {
			allErrors = append(allErrors, field.Invalid(path, d.String(), "must be a positive duration"))
		}
	}

	if c.Session.CookieName == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("session", "cookieName"), "session.cookie_name is required"))
	}
	if c.Challenge.Domain == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("challenge", "domain"), "challenge.domain is required"))
	}
	if c.Challenge.ChainID <= 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("challenge", "chainId"), c.Challenge.ChainID, "must be positive"))
	}

	if c.OAuth.Enabled() {
		allErrors = append(allErrors, c.OAuth.validate(field.NewPath("oauth"))...)
	}

	if c.Password.MinLength < 8 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("password", "minLength"), c.Password.MinLength, "must be at least 8"))
	}
	if c.Password.MemoryKiB < 8*uint32(c.Password.Parallelism) || c.Password.Iterations == 0 || c.Password.Parallelism == 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("password"), c.Password, "argon2 parameters out of range"))
	}

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

func (o *OAuthConfig) validate(path *field.Path) field.ErrorList {
	var allErrors field.ErrorList

	if !slices.Contains(oauthProviders, o.Provider) {
		allErrors = append(allErrors, field.NotSupported(path.Child("provider"), o.Provider, oauthProviders))
	}
	if o.Provider == "custom" {
		for name, value := range map[string]string{"authUrl": o.AuthURL, "tokenUrl": o.TokenURL, "userinfoUrl": o.UserInfoURL} {
			if value == "" {
				allErrors = append(allErrors, field.Required(path.Child(name), "required for a custom provider"))
			}
		}
	}
	if u, err := url.Parse(o.RedirectURL); err != nil || !u.IsAbs() {
		allErrors = append(allErrors, field.Invalid(path.Child("redirectUrl"), o.RedirectURL, "must be an absolute url"))
	}
	for i, redirect := range o.AllowedRedirectURLs {
		if u, err := url.Parse(redirect); err != nil || !u.IsAbs() {
			allErrors = append(allErrors, field.Invalid(path.Child("allowedRedirectUrls").Index(i), redirect, "must be an absolute url"))
		}
	}
	return allErrors
}
