package router

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/songify/widget/internal/config"
	"github.com/songify/widget/internal/handlers"
	"github.com/songify/widget/internal/middleware"
	"github.com/songify/widget/internal/services"
)

// Deps are the long-lived services the HTTP layer calls into.
type Deps struct {
	Auth       *services.AuthService
	Authorizer handlers.Authorizer
	Hub        handlers.Hub
	Snapshots  handlers.SnapshotSource
	Clock      clockwork.Clock
}

// Router is the HTTP handler plus the rate limiters whose cleanup loops the
// caller runs.
type Router struct {
	http.Handler
	Limiters []*middleware.RateLimiter
}

func New(cfg *config.Config, deps Deps) *Router {
	r := chi.NewRouter()

	// Global middleware
	realIP := middleware.NewRealIPMiddleware(cfg.TrustedProxies)
	r.Use(realIP.Handler)
	r.Use(middleware.RequestContextMiddleware)
	r.Use(middleware.AccessLogMiddleware)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORSMiddleware(cfg.CORSAllowedOrigins))

	// Handlers
	configHandler := handlers.NewConfigHandler(cfg)
	authHandler := handlers.NewAuthHandler(deps.Authorizer, deps.Auth, strings.HasPrefix(cfg.SpotifyRedirectURL, "https://"))
	playerHandler := handlers.NewPlayerHandler(deps.Hub, deps.Snapshots)
	upgrader := handlers.NewUpgrader(cfg.CORSAllowedOrigins)

	// Login and commands hit Spotify, so both are rate limited
	loginLimiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute, deps.Clock)
	commandLimiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute, deps.Clock)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", handlers.Health)

		// Public configuration (Spotify client ID, poll interval)
		r.Get("/config", configHandler.PublicConfig)

		r.Route("/auth", func(r chi.Router) {
			r.With(loginLimiter.Middleware).Get("/login", authHandler.Login)
			r.Get("/callback", authHandler.Callback)
		})

		// Widget routes: token must be issued for the session in the URL
		r.Route("/player/{id}", func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(deps.Auth))
			r.Use(middleware.SessionMatchMiddleware)
			r.Use(middleware.SessionContextMiddleware)

			r.Get("/", playerHandler.Snapshot)
			r.Get("/stream", playerHandler.Stream)
			r.Get("/ws", playerHandler.WebSocket(upgrader))
			r.With(commandLimiter.Middleware).Post("/commands", playerHandler.Command)
		})
	})

	return &Router{Handler: r, Limiters: []*middleware.RateLimiter{loginLimiter, commandLimiter}}
}
