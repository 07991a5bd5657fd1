package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/layer-3/gatekeeper/service"
)

// AppURLs are the browser landing pages of the web tier
type AppURLs struct {
	SuccessURL string
	ErrorURL   string
	SignInURL  string
}

// Options configure the router
type Options struct {
	URLs     AppURLs
	Logger   *zap.Logger
	Registry *prometheus.Registry
}

// SetupRouter sets up the Gin router
func SetupRouter(authService *service.AuthService, opts Options) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
		opts.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	metrics := NewMetrics(opts.Registry)

	router := gin.New()
	router.Use(Recovery(opts.Logger), RequestLogger(opts.Logger), metrics.Middleware())

	// Create handlers
	handlers := NewAuthHandlers(authService, metrics, opts.Logger, opts.URLs)

	router.GET("/healthz", handlers.Health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})))

	// Auth routes
	auth := router.Group("/auth")
	{
		auth.POST("/challenge", handlers.Challenge)
		auth.POST("/wallet-verify", handlers.WalletVerify)
		auth.POST("/password/signup", handlers.PasswordSignUp)
		auth.POST("/password/login", handlers.PasswordLogin)
		auth.POST("/session/validate", handlers.ValidateSession)
		auth.GET("/session", handlers.Session)
		auth.POST("/logout", handlers.Logout)

		if authService.OAuthEnabled() {
			auth.GET("/oauth/authorize", handlers.OAuthAuthorize)
			auth.GET("/oauth/callback", handlers.OAuthCallback)
		}
	}

	// Protected API routes
	api := router.Group("/api")
	api.Use(RequireSession(authService, opts.URLs.SignInURL))
	{
		api.GET("/me", handlers.Me)
		api.GET("/authorize", handlers.Authorize)
		api.POST("/link/wallet", handlers.LinkWallet)
	}

	return router
}
