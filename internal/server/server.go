package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/me/cyflow/internal/config"
	"github.com/me/cyflow/internal/scheduler"
	"github.com/me/cyflow/internal/store"
)

// Controller is the scheduler surface the API needs: a lock-free status
// snapshot and a command queue. *scheduler.Loop implements it.
type Controller interface {
	Status() *scheduler.Status
	Enqueue(scheduler.Command) error
}

// Server is the workflow control API server.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	config    config.SchedulerConfig
	startTime time.Time
	ctrl      Controller
	store     store.Store
}

// New creates a Server with all routes registered. st may be nil when no
// checkpoint store is attached.
func New(cfg config.SchedulerConfig, ctrl Controller, st store.Store, logger *slog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "server"),
		config:    cfg,
		startTime: time.Now(),
		ctrl:      ctrl,
		store:     st,
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.handleDiscovery)
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Post("/hold", s.command(scheduler.CmdHold))
			r.Post("/release", s.command(scheduler.CmdRelease))
			r.Post("/trigger", s.command(scheduler.CmdTrigger))
		})

		r.Route("/broadcast", func(r chi.Router) {
			r.Post("/", s.handleBroadcastSet)
			r.Delete("/", s.command(scheduler.CmdBroadcastCancel))
			r.Delete("/all", s.handleBroadcastClear)
		})

		r.Get("/checkpoints", s.handleListCheckpoints)

		r.Post("/reload", s.handleReload)
		r.Post("/stop", s.handleStop)
	})
}
