package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouterConfig holds router configuration.
type RouterConfig struct {
	WebhookPath    string
	WebhookHandler *WebhookHandler
	MetricsHandler http.Handler
}

// NewRouter creates a chi router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	path := cfg.WebhookPath
	if path == "" {
		path = "/webhook"
	}

	r.Get("/", cfg.WebhookHandler.Root)
	r.Get("/health", cfg.WebhookHandler.HealthCheck)
	r.Post(path, cfg.WebhookHandler.Handle)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	return r
}
