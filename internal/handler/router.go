package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/chat-platform/internal/events"
	"github.com/capitalize-ai/chat-platform/internal/middleware"
	"github.com/capitalize-ai/chat-platform/internal/service"
	"github.com/capitalize-ai/chat-platform/pkg/logger"
)

// RouterConfig holds the HTTP settings of the API.
type RouterConfig struct {
	JWTSecret         string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	CORSOrigins       []string
}

// Dependencies are the services the routes are served from.
type Dependencies struct {
	Conversations *service.ConversationService
	Messages      *service.MessageService
	Events        events.Subscriber
	Checks        map[string]Pinger
}

// NewRouter builds the API router.
func NewRouter(cfg RouterConfig, deps Dependencies, log *logger.Logger) http.Handler {
	log = logger.OrNop(log)

	healthHandler := NewHealthHandler(deps.Checks)
	conversationHandler := NewConversationHandler(deps.Conversations, log)
	messageHandler := NewMessageHandler(deps.Messages, deps.Conversations, log)
	eventHandler := NewEventHandler(deps.Events, deps.Conversations, log)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSOrigins...))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RateLimitRequests > 0 {
			// Per IP before auth so rejected tokens count too, then per user.
			r.Use(middleware.RateLimit(cfg.RateLimitRequests*4, cfg.RateLimitWindow))
		}
		r.Use(middleware.Auth(cfg.JWTSecret))
		if cfg.RateLimitRequests > 0 {
			r.Use(middleware.UserRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		}

		r.Get("/channels", conversationHandler.Channels)
		r.Get("/events", eventHandler.Stream)

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", conversationHandler.Create)
			r.Get("/", conversationHandler.List)
			r.Post("/search", conversationHandler.Search)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Put("/", conversationHandler.Update)
				r.Delete("/", conversationHandler.Delete)

				r.Put("/members/{userID}", conversationHandler.AddMember)
				r.Delete("/members/{userID}", conversationHandler.RemoveMember)
				r.Put("/topic", conversationHandler.UpdateTopic)
				r.Post("/read", conversationHandler.MarkRead)
				r.With(middleware.RequireScope(middleware.ScopeModerator)).
					Put("/moderate", conversationHandler.Moderate)

				// Messages
				r.Get("/messages", messageHandler.List)
				r.Post("/messages", messageHandler.Send)
			})
		})

		r.Get("/messages", messageHandler.ListAll)
		r.With(middleware.RequireScope(middleware.ScopeModerator)).
			Put("/messages/{id}/moderate", messageHandler.Moderate)

		r.Put("/communities/{id}/conversation", conversationHandler.UpdateCommunity)
	})

	return r
}
