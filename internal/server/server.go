// Package server exposes document analysis and question answering over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dshills/filingcheck/internal/analysis"
	"github.com/dshills/filingcheck/internal/answer"
	"github.com/dshills/filingcheck/internal/catalog"
	"github.com/dshills/filingcheck/internal/document"
	"github.com/dshills/filingcheck/internal/metrics"
	"github.com/dshills/filingcheck/internal/render"
	"github.com/dshills/filingcheck/internal/schema"
)

// filesField is the multipart field carrying uploaded documents.
const filesField = "files"

// Server serves the filingcheck HTTP API. Every analyze request gets its own
// session.
type Server struct {
	catalog   *catalog.Catalog
	engine    analysis.Engine
	assistant *answer.Assistant
	metrics   *metrics.Metrics
	logger    *slog.Logger
	version   string
	maxUpload int64
}

// Options configures a Server. Metrics and Logger are optional.
type Options struct {
	Catalog        *catalog.Catalog
	Workers        int
	Assistant      *answer.Assistant
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
	Version        string
	MaxUploadBytes int64
}

// New returns a Server. The engine reports to o.Metrics when set.
func New(o Options) *Server {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		catalog:   o.Catalog,
		engine:    analysis.Engine{Catalog: o.Catalog, Workers: o.Workers, Logger: logger},
		assistant: o.Assistant,
		metrics:   o.Metrics,
		logger:    logger,
		version:   o.Version,
		maxUpload: o.MaxUploadBytes,
	}
	if o.Metrics != nil {
		s.engine.Observer = o.Metrics
	}
	return s
}

// Routes returns a chi.Router with every endpoint mounted.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthz)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	r.Route("/v1", func(r chi.Router) {
		r.Get("/rules", s.rules)
		r.Post("/analyze", s.analyze)
		r.Post("/ask", s.ask)
	})
	return r
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) rules(w http.ResponseWriter, r *http.Request) {
	rules := s.catalog.Rules
	if t := r.URL.Query().Get("type"); t != "" {
		rules = s.catalog.RulesFor(schema.DocumentType(t))
	}
	if rules == nil {
		rules = []catalog.Rule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":            s.catalog.Version,
		"regulator":          s.catalog.Regulator,
		"required_documents": s.catalog.RequiredDocuments,
		"rules":              rules,
	})
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	renderer, err := render.NewRenderer(formatParam(r))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("reading upload: %w", err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	files := r.MultipartForm.File[filesField]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("no files in form field %q", filesField))
		return
	}
	jobs := make([]analysis.Job, len(files))
	for i, fh := range files {
		jobs[i] = s.uploadJob(fh)
	}

	session, err := s.engine.Run(r.Context(), analysis.NewSession(s.catalog), jobs)
	if err != nil {
		s.logger.Warn("analysis interrupted", "error", err, "request_id", middleware.GetReqID(r.Context()))
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	s.logger.Info("session analyzed", "session", session.ID, "documents", len(session.Documents),
		"failed", session.Stats.DocumentsFailed, "request_id", middleware.GetReqID(r.Context()))

	out, err := renderer.Render(render.NewReport(s.version, session))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeBody(w, formatParam(r), out)
}

func (s *Server) uploadJob(fh *multipart.FileHeader) analysis.Job {
	return analysis.Job{
		Name: fh.Filename,
		Parse: func(context.Context) (*schema.Document, error) {
			f, err := fh.Open()
			if err != nil {
				return nil, &document.ParseError{Path: fh.Filename, Err: err}
			}
			defer f.Close()
			data, err := io.ReadAll(f)
			if err != nil {
				return nil, &document.ParseError{Path: fh.Filename, Err: err}
			}
			return document.Parse(s.catalog, fh.Filename, data)
		},
	}
}

type askRequest struct {
	Question string `json:"question"`
}

func (s *Server) ask(w http.ResponseWriter, r *http.Request) {
	if s.assistant == nil {
		writeError(w, http.StatusNotImplemented, errors.New("question answering is not configured"))
		return
	}
	renderer, err := render.NewRenderer(formatParam(r))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var req askRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}
	ans, err := s.assistant.AnswerQuestion(r.Context(), req.Question)
	if errors.Is(err, answer.ErrEmptyQuestion) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	out, err := renderer.RenderAnswer(&ans)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeBody(w, formatParam(r), out)
}

func formatParam(r *http.Request) string {
	if f := r.URL.Query().Get("format"); f != "" {
		return f
	}
	return "json"
}

var contentTypes = map[string]string{
	"json": "application/json",
	"md":   "text/markdown; charset=utf-8",
	"csv":  "text/csv; charset=utf-8",
}

func writeBody(w http.ResponseWriter, format string, body []byte) {
	w.Header().Set("Content-Type", contentTypes[format])
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
