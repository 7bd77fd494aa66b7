package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/songify/widget/internal/broker"
	"github.com/songify/widget/internal/config"
	"github.com/songify/widget/internal/crypto"
	"github.com/songify/widget/internal/db"
	"github.com/songify/widget/internal/logging"
	"github.com/songify/widget/internal/monitor"
	"github.com/songify/widget/internal/router"
	"github.com/songify/widget/internal/sentry"
	"github.com/songify/widget/internal/services"
)

func main() {
	// Initialize structured logging (reads LOGGING_LEVEL env var)
	logging.Initialize()

	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	flush, err := sentry.Init(cfg.SentryDSN, cfg.SentryEnvironment)
	if err != nil {
		slog.Error("failed to initialize sentry", slog.Any("error", err))
		os.Exit(1)
	}
	defer flush()

	// Initialize database
	sqlDB, err := db.Open(cfg.DatabasePath)
	if err != nil {
		slog.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer sqlDB.Close()

	// Run migrations
	if err := db.Migrate(sqlDB); err != nil {
		slog.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}

	tokenCrypto, err := setupCrypto(cfg)
	if err != nil {
		slog.Error("failed to set up token encryption", slog.Any("error", err))
		os.Exit(1)
	}

	clock := clockwork.NewRealClock()
	store := db.NewCredentialStore(sqlDB, tokenCrypto, clock)

	// Services
	authService := services.NewAuthService(cfg.JWTSecret, cfg.SessionTokenDuration)
	spotifyService := services.NewSpotifyService(cfg.SpotifyClientID, cfg.SpotifyClientSecret, cfg.SpotifyRedirectURL, store, clock)
	credentials := services.NewCredentialManager(store, spotifyService, clock)
	colors := services.NewColorService(cfg.ColorCacheSize)

	// Session monitors and their fan-out
	b := broker.New()
	registry := monitor.NewRegistry(store, credentials, b, monitor.Config{
		Providers: spotifyService,
		Colors:    colors,
		Clock:     clock,
		Interval:  cfg.PollInterval,
	})

	r := router.New(cfg, router.Deps{
		Auth:       authService,
		Authorizer: spotifyService,
		Hub:        registry,
		Snapshots:  b,
		Clock:      clock,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, limiter := range r.Limiters {
		go limiter.Run(ctx)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Closing every subscription ends open SSE and WebSocket streams so
	// Shutdown does not wait on them.
	srv.RegisterOnShutdown(registry.Shutdown)

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, cleaning up")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", slog.Any("error", err))
		}
	}()

	slog.Info("starting server", slog.String("addr", srv.Addr), slog.Duration("poll_interval", cfg.PollInterval))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server failed", slog.Any("error", err))
		os.Exit(1)
	}

	// Stop any monitor still running after the last stream closed.
	registry.Shutdown()
	slog.Info("server stopped")
}

// setupCrypto returns the token encryptor, or a pass-through when no key is
// configured.
func setupCrypto(cfg *config.Config) (crypto.Service, error) {
	if cfg.TokenEncryptionKey == "" {
		slog.Warn("TOKEN_ENCRYPTION_KEY not set, Spotify tokens are stored in plaintext")
		return crypto.NoopService{}, nil
	}
	return crypto.NewEncryptor(cfg.TokenEncryptionKey)
}
