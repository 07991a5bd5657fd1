package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/layer-3/gatekeeper/adapters/events"
	"github.com/layer-3/gatekeeper/adapters/oauth"
	"github.com/layer-3/gatekeeper/adapters/password"
	"github.com/layer-3/gatekeeper/adapters/store"
	"github.com/layer-3/gatekeeper/adapters/tokenizer"
	"github.com/layer-3/gatekeeper/adapters/users"
	"github.com/layer-3/gatekeeper/config"
	"github.com/layer-3/gatekeeper/logger"
	"github.com/layer-3/gatekeeper/ports"
	"github.com/layer-3/gatekeeper/service"
	httptransport "github.com/layer-3/gatekeeper/transport/http"
)

const (
	janitorInterval = time.Minute
	shutdownTimeout = 10 * time.Second
)

type ephemeralStore interface {
	ports.ChallengeStore
	ports.TransactionStore
	ports.SessionStore
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the authentication broker",
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := logger.NewLogger(&logger.LoggerConfig{Debug: Config.Debug})
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		defer l.Sync() //nolint:errcheck

		if err := Config.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return run(ctx, Config, l)
	},
}

func init() {
	runCmd.Flags().String("http-addr", ":9000", "address the HTTP server listens on")
	runCmd.Flags().String("redis-url", "", "redis url; empty keeps ephemeral state in memory")
	runCmd.Flags().String("database-url", "", "postgres url; empty keeps users in memory")

	// http-addr binds to http.addr
	runCmd.Flags().VisitAll(func(f *pflag.Flag) {
		key := strings.Replace(f.Name, "-", ".", 1)
		if err := viper.BindPFlag(key, f); err != nil {
			fmt.Printf("Failed to bind flag '%s': %+v\n", f.Name, err)
		}
	})
}

func run(ctx context.Context, cfg *config.Config, l *zap.Logger) error {
	signKey, ephemeralKey, err := tokenizer.LoadSigningKey(cfg.SigningKeyPEM)
	if err != nil {
		return err
	}
	if ephemeralKey {
		l.Warn("signing_key_pem not set, using an ephemeral key; sessions will not survive a restart")
	}

	wmLogger := watermill.NewStdLogger(cfg.Debug, false)

	var (
		ephemeral ephemeralStore
		publisher message.Publisher
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to parse redis url: %w", err)
		}
		redisClient := redis.NewClient(opts)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to reach redis: %w", err)
		}

		ephemeral = store.NewRedisStore(redisClient)
		publisher, err = redisstream.NewPublisher(redisstream.PublisherConfig{Client: redisClient}, wmLogger)
		if err != nil {
			return fmt.Errorf("failed to create redis publisher: %w", err)
		}
		l.Info("using redis for ephemeral state and events")
	} else {
		memory := store.NewMemoryStore()
		go memory.RunJanitor(ctx, janitorInterval)
		ephemeral = memory
		publisher = gochannel.NewGoChannel(gochannel.Config{}, wmLogger)
		l.Warn("redis.url not set, ephemeral state is local to this instance")
	}
	defer publisher.Close()

	var userStore ports.UserStore
	if cfg.DatabaseURL != "" {
		pg, err := users.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pg.Close()
		userStore = pg
	} else {
		userStore = users.NewMemoryStore()
		l.Warn("database.url not set, users are kept in memory")
	}

	var provider ports.OAuthProvider
	if cfg.OAuth.Enabled() {
		p, err := oauth.NewProvider(oauth.Config{
			Provider:     cfg.OAuth.Provider,
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			AuthURL:      cfg.OAuth.AuthURL,
			TokenURL:     cfg.OAuth.TokenURL,
			UserInfoURL:  cfg.OAuth.UserInfoURL,
			Scopes:       cfg.OAuth.Scopes,
			HTTPTimeout:  cfg.OAuth.HTTPTimeout,
		})
		if err != nil {
			return fmt.Errorf("failed to configure oauth provider: %w", err)
		}
		provider = p
	}

	hasher := password.NewArgon2Hasher(password.Params{
		MemoryKiB:   cfg.Password.MemoryKiB,
		Iterations:  cfg.Password.Iterations,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  password.DefaultParams.SaltLength,
		KeyLength:   password.DefaultParams.KeyLength,
	})

	authService, err := service.NewAuthService(serviceConfig(cfg), service.Dependencies{
		Challenges:   ephemeral,
		Transactions: ephemeral,
		Sessions:     ephemeral,
		Users:        userStore,
		Tokenizer:    tokenizer.NewJWTTokenizer(signKey),
		Events:       events.NewWatermillPublisher(publisher),
		Provider:     provider,
		Hasher:       hasher,
	}, l)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httptransport.SetupRouter(authService, httptransport.Options{
		URLs: httptransport.AppURLs{
			SuccessURL: cfg.App.SuccessURL,
			ErrorURL:   cfg.App.ErrorURL,
			SignInURL:  cfg.App.SignInURL,
		},
		Logger:   l,
		Registry: registry,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		l.Info("gatekeeper listening", zap.String("addr", cfg.HTTPAddr), zap.Bool("oauth", provider != nil))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	l.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func serviceConfig(cfg *config.Config) service.Config {
	return service.Config{
		ChallengeTTL:        cfg.Challenge.TTL,
		TransactionTTL:      cfg.OAuth.TransactionTTL,
		SessionTTL:          cfg.Session.TTL,
		Domain:              cfg.Challenge.Domain,
		URI:                 cfg.Challenge.URI,
		Statement:           cfg.Challenge.Statement,
		ChainID:             cfg.Challenge.ChainID,
		RedirectURL:         cfg.OAuth.RedirectURL,
		AllowedRedirectURLs: cfg.OAuth.AllowedRedirectURLs,
		Cookie: service.CookieConfig{
			Name:     cfg.Session.CookieName,
			Domain:   cfg.Session.CookieDomain,
			Secure:   cfg.Session.CookieSecure,
			HTTPOnly: cfg.Session.CookieHTTPOnly,
			SameSite: http.SameSiteLaxMode,
		},
		PasswordMinLength: cfg.Password.MinLength,
	}
}
