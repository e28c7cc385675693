package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/stackdio/stackd/internal/api/handler"
	mw "github.com/stackdio/stackd/internal/api/middleware"
	"github.com/stackdio/stackd/internal/core"
	"github.com/stackdio/stackd/internal/stacklog"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services are the dependencies of the API handlers.
type Services struct {
	Stacks *core.StackService
	Users  *core.UserService
	Logs   stacklog.Store
}

type Server struct {
	router         chi.Router
	logger         zerolog.Logger
	services       Services
	db             Pinger
	temporalClient temporalclient.Client
}

func NewServer(logger zerolog.Logger, services Services, db Pinger, temporalClient temporalclient.Client) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		logger:         logger,
		services:       services,
		db:             db,
		temporalClient: temporalClient,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	s.router.Route("/api/v1", func(r chi.Router) {
		stack := handler.NewStack(s.services.Stacks, s.services.Logs)
		r.Post("/stacks", stack.Create)
		r.Get("/stacks/{id}", stack.Get)
		r.Delete("/stacks/{id}", stack.Delete)
		r.Get("/stacks/{id}/history", stack.History)
		r.Post("/stacks/{id}/actions", stack.RunAction)
		r.Get("/stacks/{id}/hosts", stack.Hosts)
		r.Post("/stacks/{id}/hosts", stack.AddHosts)
		r.Delete("/stacks/{id}/hosts", stack.RemoveHosts)
		r.Get("/stacks/{id}/logs/{name}", stack.Log)

		user := handler.NewUser(s.services.Users)
		r.Post("/users", user.Create)
		r.Get("/users/{id}", user.Get)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := s.db.Ping(ctx); err != nil {
		checks["core_db"] = err.Error()
		healthy = false
	} else {
		checks["core_db"] = "ok"
	}

	if _, err := s.temporalClient.CheckHealth(ctx, &temporalclient.CheckHealthRequest{}); err != nil {
		checks["temporal"] = err.Error()
		healthy = false
	} else {
		checks["temporal"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
