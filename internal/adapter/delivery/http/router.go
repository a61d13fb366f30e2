// Package http exposes the link service over HTTP: the public redirect,
// the JSON management API and the health endpoints.
package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"
	"github.com/go-playground/validator/v10"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/vadimbarashkov/tinylink/docs"
)

const defaultPingTimeout = 3 * time.Second

// ReservedCodes are valid short codes that collide with routes registered
// next to the redirect, so links under them could never be resolved.
var ReservedCodes = []string{"healthz", "swagger"}

type routerOptions struct {
	pingTimeout time.Duration
	version     string
}

type RouterOption func(*routerOptions)

// WithPingTimeout bounds the store ping made by the health endpoint.
func WithPingTimeout(d time.Duration) RouterOption {
	return func(o *routerOptions) {
		if d > 0 {
			o.pingTimeout = d
		}
	}
}

func WithVersion(version string) RouterOption {
	return func(o *routerOptions) {
		o.version = version
	}
}

// NewRouter builds the chi router with middleware and every route of the service.
func NewRouter(logger *httplog.Logger, linkUseCase linkUseCase, store pinger, opts ...RouterOption) *chi.Mux {
	o := routerOptions{
		pingTimeout: defaultPingTimeout,
		version:     "dev",
	}
	for _, opt := range opts {
		opt(&o)
	}

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"POST", "GET", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Accept"},
		AllowCredentials: false,
		MaxAge:           84600,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httplog.RequestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/swagger", http.RedirectHandler("/swagger/index.html", http.StatusMovedPermanently).ServeHTTP)
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/docs/swagger.yml"),
	))

	r.Get("/docs/swagger.yml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		w.Write(docs.Swagger)
	})

	hh := newHealthHandler(store, o.pingTimeout, o.version)
	r.Get("/healthz", hh.liveness)

	lh := newLinkHandler(linkUseCase, validator.New())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", hh.health)

		r.Route("/links", func(r chi.Router) {
			r.With(middleware.AllowContentType("application/json")).Post("/", lh.createLink)
			r.Get("/", lh.listLinks)

			r.Route("/{code}", func(r chi.Router) {
				r.Get("/", lh.getLink)
				r.Delete("/", lh.deleteLink)
			})
		})
	})

	r.Get("/{code}", lh.redirect)

	return r
}
