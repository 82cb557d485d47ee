package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/enrich/internal/api"
	apiMiddleware "github.com/phrazzld/enrich/internal/api/middleware"
)

// setupRouter creates the router with every route and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(app.logger))

	jobHandler := api.NewJobHandler(app.service, app.logger)
	batchHandler := api.NewBatchHandler(app.dispatcher, app.schemas, app.logger)

	r.Route("/api", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", jobHandler.Enqueue)
			r.Get("/", jobHandler.List)
			r.Get("/kinds", jobHandler.Kinds)
			r.Get("/{id}", jobHandler.Get)
		})

		// Batch calls are synchronous; the response arrives once every batch settled.
		r.Route("/batch", func(r chi.Router) {
			r.Post("/classify", batchHandler.Classify)
			r.Post("/enrich", batchHandler.Enrich)
			r.Post("/translate", batchHandler.Translate)
		})
	})

	r.Get("/health", app.healthHandler)

	if app.config.Metrics.Enabled {
		r.Method(http.MethodGet, app.config.Metrics.Path, app.metrics.Handler())
	}

	return r
}
