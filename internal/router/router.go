package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/guichetec/backend/internal/broker"
	"github.com/guichetec/backend/internal/config"
	"github.com/guichetec/backend/internal/handlers"
	"github.com/guichetec/backend/internal/middleware"
	"github.com/guichetec/backend/internal/services"
	"github.com/guichetec/backend/internal/state"
)

// New assembles the HTTP surface: the SSE stream, the ticket lifecycle
// events (issue, call, resync, finalize, patient ack), and the report
// listing. The Recoverer keeps an unexpected panic inside any event handler
// from crashing the process or corrupting other tickets' state.
func New(cfg *config.Config, store *state.Store, hub *broker.Broker, reports handlers.ReportLister) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.NewRealIPMiddleware(cfg.TrustedProxies).Handler)
	r.Use(middleware.RequestContextMiddleware)
	r.Use(middleware.CORSMiddleware(cfg.CORSAllowedOrigins))

	// Services
	tokenService := services.NewTokenService(cfg.TokenSecret, cfg.TokenDuration)

	// Handlers
	ticketHandler := handlers.NewTicketHandler(store, hub)
	callHandler := handlers.NewCallHandler(store, hub)
	queueHandler := handlers.NewQueueHandler(store, hub)
	serviceHandler := handlers.NewServiceHandler(store, hub)
	streamHandler := handlers.NewStreamHandler(store, hub, tokenService)
	reportHandler := handlers.NewReportHandler(reports)

	// Rate limiter for ticket issuance
	issueRateLimiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute)

	optionalAuth := middleware.OptionalAuthMiddleware(tokenService)
	requireAuth := middleware.AuthMiddleware(tokenService)

	// Routes
	r.Route("/api", func(r chi.Router) {
		// Health check
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"ok"}`))
		})

		// Real-time stream: assigns the connection ID and token, then pushes
		// the initial state and all subsequent broadcasts.
		r.Get("/stream", streamHandler.Stream)

		r.Route("/tickets", func(r chi.Router) {
			// Issue a ticket. Kiosks are anonymous; patient devices present
			// their connection token so the call can reach them later.
			r.With(issueRateLimiter.Middleware, optionalAuth, middleware.UpdateRequestContextMiddleware).
				Post("/", ticketHandler.Issue)

			// Patient acknowledgement: binding removal only.
			r.With(requireAuth, middleware.UpdateRequestContextMiddleware).
				Post("/ack", ticketHandler.Ack)
		})

		// Operator calls a ticket to a counter.
		r.Post("/calls", callHandler.Call)

		// Operator-submitted authoritative queue replacement. The token is
		// optional; when present the submitter is excluded from the
		// rebroadcast.
		r.With(optionalAuth, middleware.UpdateRequestContextMiddleware).
			Post("/queues/resync", queueHandler.Resync)

		// Counter finishes serving a ticket.
		r.Post("/services/finalize", serviceHandler.Finalize)

		// Archived daily reports.
		r.Get("/reports", reportHandler.List)
	})

	return r
}
