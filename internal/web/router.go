package web

import (
	"context"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/NSLS-II/sirepo-healthcheck/internal/config"
	"github.com/NSLS-II/sirepo-healthcheck/internal/metrics"
	"github.com/NSLS-II/sirepo-healthcheck/internal/monitor"
	"github.com/NSLS-II/sirepo-healthcheck/internal/status"
	webassets "github.com/NSLS-II/sirepo-healthcheck/web"
)

// SnapshotSource provides the persisted endpoint states.
type SnapshotSource interface {
	Load(ctx context.Context) (status.Snapshot, error)
}

// Reporter exposes the most recent successful pass.
type Reporter interface {
	Latest() *monitor.PassReport
}

// Deps are the collaborators of the status server.
type Deps struct {
	Config    *config.Manager
	Snapshots SnapshotSource
	Reporter  Reporter
	Gatherer  prometheus.Gatherer
	Host      string
}

// TemplateRenderer holds the parsed status page.
type TemplateRenderer struct {
	templates map[string]*template.Template
}

func NewTemplateRenderer() *TemplateRenderer {
	tmplFS, err := fs.Sub(webassets.TemplatesFS, "templates")
	if err != nil {
		slog.Error("failed to access templates", "error", err)
		panic(err)
	}

	templates := map[string]*template.Template{
		"status.html": template.Must(template.New("status.html").ParseFS(tmplFS, "status.html")),
	}
	return &TemplateRenderer{templates: templates}
}

func (tr *TemplateRenderer) Render(w http.ResponseWriter, name string, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	tmpl, ok := tr.templates[name]
	if !ok {
		slog.Error("template not found", "template", name)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if err := tmpl.ExecuteTemplate(w, name, data); err != nil {
		slog.Error("template render error", "template", name, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// NewRouter sets up all routes and returns the http.Handler.
func NewRouter(d Deps, stopCh <-chan struct{}) http.Handler {
	cfg := d.Config.Get()
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger)

	if len(cfg.Web.AllowedOrigins) > 0 {
		applyCORS(r, cfg.Web.AllowedOrigins)
	}

	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	handlers := NewStatusHandlers(d.Config, d.Snapshots, d.Reporter, NewTemplateRenderer(), d.Host)
	health := NewHealthHandler(d.Config, d.Reporter)
	limiter := NewAuthRateLimiter(maxAuthFailures, authLockout, stopCh)

	// Public routes
	r.Get("/healthz", health.ServeHTTP)

	// Protected routes; basic auth applies only when configured.
	r.Group(func(r chi.Router) {
		r.Use(BasicAuth(d.Config, limiter))

		r.Get("/", handlers.StatusPage)
		r.Get("/api/status", handlers.APIStatus)
		r.Method(http.MethodGet, "/metrics", metrics.Handler(gatherer))
	})

	return r
}

func applyCORS(r *chi.Mux, origins []string) {
	slog.Info("enabling CORS", "origins", origins)

	opts := cors.Options{
		AllowedOrigins: make([]string, 0, len(origins)),
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization"},
		MaxAge:         300,
	}
	for _, origin := range origins {
		if origin == "*" {
			opts.AllowedOrigins = []string{"*"}
			break
		}
		opts.AllowedOrigins = append(opts.AllowedOrigins, strings.TrimSpace(origin))
	}
	r.Use(cors.Handler(opts))
}
