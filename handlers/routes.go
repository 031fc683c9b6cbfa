package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/camden-git/familytree/realtime"
)

type RouterConfig struct {
	AllowedOrigins []string
	Hub            *realtime.Hub // optional, serves /ws
	Logger         *zap.Logger
}

// NewRouter mounts the person API, the audit report, /metrics and /ws.
func NewRouter(ph *PersonHandler, cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{ConsistencyHeader},
		AllowCredentials: true,
		MaxAge:           300,
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(corsHandler.Handler)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Route("/people", func(r chi.Router) {
			r.Post("/", ph.CreatePerson)
			r.Get("/", ph.ListPeople)
			r.Get("/search", ph.Search)
			r.Route("/{person_id}", func(r chi.Router) {
				r.Get("/", ph.GetPerson)
				r.Patch("/", ph.UpdatePerson)
				r.Delete("/", ph.DeletePerson)
				r.Delete("/hard", ph.HardDeletePerson)
				r.Post("/restore", ph.RestorePerson)
				r.Get("/family", ph.GetImmediateFamily)
				r.Get("/tree", ph.GetFamilyTree)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Get("/audit", ph.Audit)
		})
	})

	r.Handle("/metrics", promhttp.Handler())
	if cfg.Hub != nil {
		r.Get("/ws", cfg.Hub.ServeWS)
	}
	return r
}
