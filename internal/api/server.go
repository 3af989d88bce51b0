package api

import (
	"context"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/elyos/internal/models"
	"github.com/lox/elyos/internal/predict"
)

// Store is the read side of the store used by the page and health checks.
type Store interface {
	Countries(ctx context.Context, byVolume bool) ([]models.CountryReference, error)
	RecentRuns(ctx context.Context, stage string, limit int) ([]models.PipelineRun, error)
	Benchmarks(ctx context.Context, runID string) ([]models.Benchmark, error)
}

type Server struct {
	predictor *predict.Service
	store     Store
	port      string
	tmpl      *template.Template
}

// NewServer serves predictions from predictor. store may be nil, in which
// case the country and pipeline views are empty.
func NewServer(predictor *predict.Service, store Store, port string) *Server {
	return &Server{
		predictor: predictor,
		store:     store,
		port:      port,
		tmpl:      newTemplates(),
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(staticFiles()))))
	r.Post("/predict", s.handlePredict)
	r.Get("/health", s.handleHealth)
	r.Get("/countries", s.handleCountries)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
