package api

import (
	"context"
	"embed"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/dgallion1/docquote/internal/config"
	"github.com/dgallion1/docquote/internal/inference"
	"github.com/dgallion1/docquote/internal/pipeline"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const pageTitle = "Document OCR Text Extractor"

//go:embed templates/*.html
var templateFS embed.FS

// Extractor runs uploads through the pipeline and serves stored results.
type Extractor interface {
	Process(ctx context.Context, filename string, data []byte) (*pipeline.Result, error)
	Result(id string) *pipeline.Result
}

// ModelInfo reports which model is serving and how it is performing.
type ModelInfo interface {
	ID() string
	Backend() string
	Stats() inference.StatsSnapshot
}

// Server is the HTTP front-end for document extraction.
type Server struct {
	router    chi.Router
	extractor Extractor
	model     ModelInfo
	preview   *Previewer
	tmpl      *template.Template
	log       *slog.Logger
	cfg       config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(ext Extractor, model ModelInfo, log *slog.Logger, cfg config.Config) (*Server, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	s := &Server{
		extractor: ext,
		model:     model,
		preview:   NewPreviewer(),
		tmpl:      tmpl,
		log:       log,
		cfg:       cfg,
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Browser flow.
	r.Get("/", s.handleIndex)
	r.Post("/extract", s.handleExtract)
	r.Get("/results/{id}/download", s.handleDownload)
	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.cfg.APIKey != "" {
			r.Use(AuthMiddleware(s.cfg.APIKey, s.log))
		}
		r.Post("/api/extract", s.handleAPIExtract)
		r.Get("/api/results/{id}", s.handleAPIResult)
		r.Get("/api/stats/inference", s.handleInferenceStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
