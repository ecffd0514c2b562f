// Package server exposes the clash-detection service as an HTTP JSON API with
// a websocket progress feed and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raphaelgruber/clashcheck/internal/db"
	"github.com/raphaelgruber/clashcheck/internal/engine"
	"github.com/raphaelgruber/clashcheck/internal/metrics"
	"github.com/raphaelgruber/clashcheck/internal/models"
	"github.com/raphaelgruber/clashcheck/internal/parser"
	"github.com/raphaelgruber/clashcheck/internal/service"
)

// maxBodyBytes bounds request bodies; element manifests are the largest.
const maxBodyBytes = 64 << 20

// DefaultWatchInterval is how often the watch feed polls job state.
const DefaultWatchInterval = 500 * time.Millisecond

// ElementStore holds the imported elements of each project.
type ElementStore interface {
	UpsertElements(ctx context.Context, elements []models.Element, batchSize int) (int, error)
	ListFiles(ctx context.Context, project string) ([]db.FileCount, error)
	DeleteFileElements(ctx context.Context, project, file string) (int, error)
}

// Pinger checks a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services the API serves.
type Deps struct {
	Jobs     *service.JobManager
	Review   *service.ReviewService
	Elements ElementStore
	Metrics  *metrics.Collector
	Database Pinger // optional; /health reports 503 while it fails
}

// Server routes API requests to the job and review services.
type Server struct {
	deps          Deps
	logger        *slog.Logger
	mux           *http.ServeMux
	upgrader      websocket.Upgrader
	watchInterval time.Duration
}

// ImportResult summarizes an element import.
type ImportResult struct {
	Project  string   `json:"project"`
	Files    []string `json:"files"`
	Elements int      `json:"elements"`
}

// New creates the API server. The metrics registry is built from deps.Metrics.
func New(deps Deps, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		deps:   deps,
		logger: logger,
		mux:    http.NewServeMux(),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		watchInterval: DefaultWatchInterval,
	}

	collector := deps.Metrics
	if collector == nil {
		collector = metrics.NewCollector()
		s.deps.Metrics = collector
	}
	registry, err := metrics.NewRegistry(collector)
	if err != nil {
		return nil, fmt.Errorf("metrics registry: %w", err)
	}

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("GET /api/stats", s.handleStats)
	s.mux.HandleFunc("POST /api/elements", s.handleImport)
	s.mux.HandleFunc("GET /api/projects/{project}/files", s.handleListFiles)
	s.mux.HandleFunc("DELETE /api/projects/{project}/files/{file}", s.handleDeleteFile)
	s.mux.HandleFunc("POST /api/jobs", s.handleSubmit)
	s.mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	s.mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	s.mux.HandleFunc("POST /api/jobs/{id}/cancel", s.handleCancel)
	s.mux.HandleFunc("GET /api/jobs/{id}/clashes", s.handleListClashes)
	s.mux.HandleFunc("GET /api/jobs/{id}/watch", s.handleWatch)
	s.mux.HandleFunc("GET /api/clashes/{id}", s.handleGetClash)
	s.mux.HandleFunc("PATCH /api/clashes/{id}", s.handleUpdateClash)

	return s, nil
}

// SetWatchInterval changes the polling interval of the watch feed.
func (s *Server) SetWatchInterval(d time.Duration) {
	s.watchInterval = d
}

// Handler returns the routed handler wrapped in request logging.
func (s *Server) Handler() http.Handler {
	return LoggingMiddleware(s.logger)(s.mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Database != nil {
		if err := s.deps.Database.Ping(r.Context()); err != nil {
			s.logger.Warn("health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintln(w, "database unavailable")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Metrics.Snapshot())
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Elements == nil {
		writeError(w, fmt.Errorf("%w: element import is not available", engine.ErrConfiguration))
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "read body: " + err.Error()})
		return
	}

	format := parser.FormatJSON
	if ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); ct == "application/yaml" || ct == "application/x-yaml" || ct == "text/yaml" {
		format = parser.FormatYAML
	}
	manifest, err := parser.ParseManifest(body, format)
	if err != nil {
		writeError(w, err)
		return
	}

	n, err := s.deps.Elements.UpsertElements(r.Context(), manifest.Elements, db.DefaultUpsertBatch)
	if err != nil {
		writeError(w, engine.Dependency("import elements", err))
		return
	}
	s.logger.Info("elements imported", "project", manifest.Project, "elements", n, "files", len(manifest.Files()))
	writeJSON(w, http.StatusCreated, ImportResult{Project: manifest.Project, Files: manifest.Files(), Elements: n})
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	if s.deps.Elements == nil {
		writeError(w, fmt.Errorf("%w: element store is not available", engine.ErrConfiguration))
		return
	}
	files, err := s.deps.Elements.ListFiles(r.Context(), r.PathValue("project"))
	if err != nil {
		writeError(w, engine.Dependency("list files", err))
		return
	}
	writeJSON(w, http.StatusOK, files)
}

// handleDeleteFile removes the elements of one file. Jobs that already ran
// keep their clash snapshots.
func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	if s.deps.Elements == nil {
		writeError(w, fmt.Errorf("%w: element store is not available", engine.ErrConfiguration))
		return
	}
	project, file := r.PathValue("project"), r.PathValue("file")
	n, err := s.deps.Elements.DeleteFileElements(r.Context(), project, file)
	if err != nil {
		writeError(w, engine.Dependency("delete file", err))
		return
	}
	if n == 0 {
		writeJSON(w, http.StatusNotFound, errorBody{Error: fmt.Sprintf("file %q not found in project %q", file, project)})
		return
	}
	s.logger.Info("file elements deleted", "project", project, "file", file, "elements", n)
	writeJSON(w, http.StatusOK, db.FileCount{File: file, Count: n})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req service.SubmitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	job, err := s.deps.Jobs.Submit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job.Snapshot())
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	jobs, err := s.deps.Jobs.ListJobs(r.Context(), r.URL.Query().Get("project"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Jobs.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Jobs.Cancel(id); err != nil {
		writeError(w, err)
		return
	}
	job, err := s.deps.Jobs.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleListClashes(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.deps.Jobs.GetJob(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	var filter models.ClashFilter
	if status := r.URL.Query().Get("status"); status != "" {
		parsed, err := models.ParseClashStatus(status)
		if err != nil {
			writeError(w, fmt.Errorf("%w: %w", engine.ErrConfiguration, err))
			return
		}
		filter.Status = parsed
	}
	var ok bool
	if filter.MinSeverity, ok = queryInt(w, r, "min_severity"); !ok {
		return
	}
	if filter.Limit, ok = queryInt(w, r, "limit"); !ok {
		return
	}

	clashes, err := s.deps.Review.ListClashes(r.Context(), id, filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clashes)
}

func (s *Server) handleGetClash(w http.ResponseWriter, r *http.Request) {
	clash, err := s.deps.Review.GetClash(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clash)
}

func (s *Server) handleUpdateClash(w http.ResponseWriter, r *http.Request) {
	var update service.ClashUpdate
	if !decodeJSON(w, r, &update) {
		return
	}
	clash, err := s.deps.Review.UpdateClash(r.Context(), r.PathValue("id"), update)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clash)
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// statusFor maps service and engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrJobNotFound), errors.Is(err, service.ErrClashNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrJobFinished):
		return http.StatusConflict
	case errors.Is(err, engine.ErrConfiguration),
		errors.Is(err, parser.ErrInvalidManifest),
		errors.Is(err, models.ErrInvalidElement),
		errors.Is(err, models.ErrInvalidParameters):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrResourceLimit):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, engine.ErrDependency):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}
	if kind := engine.Kind(err); kind != engine.KindInternal {
		body.Kind = kind
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("invalid %s: %q", name, raw)})
		return 0, false
	}
	return v, true
}
