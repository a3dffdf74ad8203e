// Package api wires the bot's HTTP surface: the Teams messaging
// endpoint, the Quire notification webhook, the sign-in pages, and the
// operational endpoints.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/quire-api/microsoft-teams/internal/auth"
	"github.com/quire-api/microsoft-teams/internal/bot"
	"github.com/quire-api/microsoft-teams/internal/metrics"
)

// RouterConfig holds the handlers the router exposes.
type RouterConfig struct {
	Bot      *bot.Bot
	Notifier *bot.Notifier
	Auth     *auth.WebHandler
	Metrics  *metrics.Metrics
	// RateLimiter, when non-nil, guards the webhook and sign-in
	// endpoints. The messaging endpoint is left alone since the Bot
	// Framework connector does its own throttling.
	RateLimiter *RateLimiter
}

// NewRouter creates the HTTP router.
func NewRouter(cfg RouterConfig, logger zerolog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(NewLoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Teams messaging endpoint.
	r.Post("/api/messages", cfg.Bot.HandleActivity)

	r.Group(func(r chi.Router) {
		if cfg.RateLimiter != nil {
			r.Use(cfg.RateLimiter.Middleware)
		}

		// Quire notification webhook, one route per followed conversation.
		r.Post("/webhook/{conversationID}", cfg.Notifier.HandleWebhook)

		// Browser legs of the sign-in flow.
		r.Get("/bot-auth-start", cfg.Auth.AuthStart)
		r.Get("/bot-auth-end", cfg.Auth.AuthEnd)
	})

	// Liveness probe.
	r.Get("/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	return r
}
