package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/piotrostr/listen-engine/engine"
)

// Server exposes pipeline management over HTTP.
type Server struct {
	router  *chi.Mux
	engine  *engine.Engine
	logger  *log.Logger
	started time.Time
}

// HealthResponse is returned by /healthz.
type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// CreateResponse is returned by pipeline creation.
type CreateResponse struct {
	ID     string        `json:"id"`
	Status engine.Status `json:"status"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewServer constructs a Server with registered routes.
func NewServer(eng *engine.Engine, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(os.Stdout, "api-http ", log.LstdFlags|log.Lshortfile)
	}

	s := &Server{
		router:  chi.NewRouter(),
		engine:  eng,
		logger:  logger,
		started: time.Now(),
	}

	s.router.Get("/healthz", s.healthzHandler)
	s.router.Route("/v1", func(r chi.Router) {
		r.Post("/pipelines", s.createPipelineHandler)
		r.Get("/pipelines/{id}", s.getPipelineHandler)
		r.Delete("/pipelines/{id}", s.cancelPipelineHandler)
	})

	return s
}

// Handler exposes the underlying router for integration tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.started).Round(time.Millisecond).String(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) createPipelineHandler(w http.ResponseWriter, r *http.Request) {
	var req engine.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON: " + err.Error()})
		return
	}

	pipeline, err := engine.BuildPipeline(req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	if err := s.engine.AddPipeline(r.Context(), pipeline); err != nil {
		s.logger.Printf("add pipeline failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}

	status := pipeline.Status
	if current, err := s.engine.GetPipeline(pipeline.ID); err == nil {
		status = current.Status
	}
	writeJSON(w, http.StatusCreated, CreateResponse{ID: pipeline.ID, Status: status})
}

func (s *Server) getPipelineHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	pipeline, err := s.engine.GetPipeline(id)
	if err != nil {
		if errors.Is(err, engine.ErrPipelineNotFound) {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "pipeline not found"})
			return
		}
		s.logger.Printf("get pipeline failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, pipeline)
}

func (s *Server) cancelPipelineHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.engine.CancelPipeline(id); err != nil {
		switch {
		case errors.Is(err, engine.ErrPipelineNotFound):
			writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "pipeline not found"})
		case errors.Is(err, engine.ErrPipelineFinished):
			writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error()})
		default:
			s.logger.Printf("cancel pipeline failed: %v", err)
			writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to write response: %v", err)
	}
}
