// Package routes wires the gateway's REST surface onto the ledger node
// client.
package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"escrowchain/gateway"
	"escrowchain/gateway/middleware"
)

// Config assembles the router's collaborators.
type Config struct {
	Node          gateway.NodeClient
	Authenticator func(http.Handler) http.Handler
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
}

// New builds the gateway router. Mutating escrow routes sit behind the
// authenticator; reads are open but rate limited.
func New(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)

	obs := cfg.Observability
	if obs != nil {
		r.Use(obs.Middleware("root"))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	handlers := &escrowRoutes{node: cfg.Node}

	r.Route("/v1/escrows", func(sr chi.Router) {
		if cfg.RateLimiter != nil {
			sr.Use(cfg.RateLimiter.Middleware("escrow"))
		}

		sr.Get("/", handlers.listOpen)
		sr.Get("/{id}", handlers.get)
		sr.Get("/{id}/milestones/{index}", handlers.getMilestone)

		sr.Group(func(mr chi.Router) {
			if cfg.Authenticator != nil {
				mr.Use(cfg.Authenticator)
			}
			mr.Post("/", handlers.create)
			mr.Post("/{id}/accept", handlers.accept)
			mr.Post("/{id}/milestones/{index}/complete", handlers.completeMilestone)
			mr.Post("/{id}/cancel", handlers.cancel)
			mr.Post("/{id}/dispute", handlers.dispute)
		})
	})

	r.Route("/v1/parties", func(sr chi.Router) {
		if cfg.RateLimiter != nil {
			sr.Use(cfg.RateLimiter.Middleware("escrow"))
		}
		sr.Get("/{address}/client-escrows", handlers.listByClient)
		sr.Get("/{address}/freelancer-escrows", handlers.listByFreelancer)
	})

	r.Route("/v1/events", func(sr chi.Router) {
		if cfg.RateLimiter != nil {
			sr.Use(cfg.RateLimiter.Middleware("events"))
		}
		sr.Get("/", handlers.events)
	})

	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}

	return r
}
