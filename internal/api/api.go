// Package api implements the ingest and query HTTP surface: the
// mitmproxy-style ingest endpoint, conversation/request browsing, live
// change events over SSE, and LHAR export.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/context-lens/sidecar/internal/lhar"
	"github.com/context-lens/sidecar/internal/store"
	"github.com/context-lens/sidecar/internal/telemetry"
	"github.com/context-lens/sidecar/internal/tokenpricing"
)

// Server is the query/ingest API's http.Handler.
type Server struct {
	router  chi.Router
	store   *store.Store
	capture lhar.RawCaptureReader
	est     *tokenpricing.Estimator
	logger  telemetry.Logger
	metrics *telemetry.Metrics

	defaultPrivacy lhar.Privacy
}

// New builds the API server and wires its routes.
func New(st *store.Store, capturesDir string, est *tokenpricing.Estimator, defaultPrivacy lhar.Privacy, logger telemetry.Logger, metrics *telemetry.Metrics) *Server {
	s := &Server{
		store:          st,
		capture:        lhar.FileCaptureStore{Dir: capturesDir},
		est:            est,
		logger:         logger,
		metrics:        metrics,
		defaultPrivacy: defaultPrivacy,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
	}))

	r.Post("/api/ingest", s.handleIngest)
	r.Get("/api/requests", s.handleListRequests)
	r.Get("/api/conversations/{id}", s.handleGetConversation)
	r.Delete("/api/conversations/{id}", s.handleDeleteConversation)
	r.Post("/api/conversations/{id}/tags", s.handleSetTags)
	r.Post("/api/reset", s.handleReset)
	r.Get("/api/events", s.handleEvents)
	r.Get("/api/export/lhar", s.handleExportLHAR)
	r.Get("/api/export/lhar.json", s.handleExportLHAR)

	if s.metrics != nil && s.metrics.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}

	s.router = r
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
