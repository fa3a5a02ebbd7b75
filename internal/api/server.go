package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nalpari/jppc/internal/config"
	"github.com/nalpari/jppc/internal/crawler"
	"github.com/nalpari/jppc/internal/metrics"
)

// JobService is the orchestrator surface used by the HTTP handlers.
type JobService interface {
	Start(ctx context.Context, codes []string, trigger crawler.Trigger) (crawler.CrawlJob, error)
	Status(id string) (crawler.CrawlJob, error)
	Cancel(id string) (crawler.CrawlJob, error)
	List() []crawler.CrawlJob
	ListActiveJobs() []crawler.CrawlJob
	Running() (bool, string)
}

// SourceLister lists the configured sources.
type SourceLister interface {
	Sources() []crawler.Source
}

// Server wires HTTP handlers to the orchestrator and plan store.
type Server struct {
	router  chi.Router
	jobs    JobService
	sources SourceLister
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobs JobService,
	sources SourceLister,
	plans crawler.PlanReader,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobs:    jobs,
		sources: sources,
		logger:  logger,
	}
	planHandler := NewPlanHandler(plans, logger)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/crawl", func(r chi.Router) {
			r.Get("/status", s.crawlStatus)
			r.Route("/jobs", func(r chi.Router) {
				r.Post("/", s.startJob)
				r.Get("/", s.listJobs)
				r.Get("/active", s.listActiveJobs)
				r.Get("/{job_id}", s.getJob)
				r.Post("/{job_id}/cancel", s.cancelJob)
			})
		})
		r.Get("/sources", s.listSources)
		r.Get("/prices", planHandler.ListPrices)
		r.Get("/prices/compare", planHandler.Compare)
		r.Get("/plans/{plan_id}/history", planHandler.History)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "orchestrator unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type startJobRequest struct {
	Sources []string `json:"sources"`
}

func (s *Server) startJob(w http.ResponseWriter, r *http.Request) {
	var req startJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	job, err := s.jobs.Start(r.Context(), req.Sources, crawler.TriggerManual)
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	s.logger.Info("crawl job accepted",
		zap.String("job_id", job.ID),
		zap.Strings("sources", job.Sources),
		zap.String("request_id", requestID(r.Context())))
	writeJSON(w, http.StatusAccepted, map[string]any{"job": job})
}

func (s *Server) listJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": s.jobs.List()})
}

func (s *Server) listActiveJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": s.jobs.ListActiveJobs()})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Status(chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Cancel(chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) crawlStatus(w http.ResponseWriter, _ *http.Request) {
	running, id := s.jobs.Running()
	body := map[string]any{"running": running}
	if running {
		body["job_id"] = id
		if job, err := s.jobs.Status(id); err == nil {
			body["job"] = job
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) listSources(w http.ResponseWriter, _ *http.Request) {
	if s.sources == nil {
		writeJSON(w, http.StatusOK, map[string]any{"sources": []crawler.Source{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": s.sources.Sources()})
}

func (s *Server) writeJobError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("crawl request failed", zap.Error(err))
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, crawler.ErrJobRunning), errors.Is(err, crawler.ErrJobFinished):
		return http.StatusConflict
	case errors.Is(err, crawler.ErrJobNotFound), errors.Is(err, crawler.ErrPlanNotFound):
		return http.StatusNotFound
	case errors.Is(err, crawler.ErrUnknownSource), errors.Is(err, crawler.ErrNoSourcesGiven):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
