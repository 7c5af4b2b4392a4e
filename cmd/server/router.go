package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/phrazzld/agentrun/internal/api"
	apiMiddleware "github.com/phrazzld/agentrun/internal/api/middleware"
)

// setupRouter creates the application router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware(app.logger))

	taskHandler := api.NewTaskHandler(app.runner, app.stateStore, app.orchestrator.StepOrder(), app.logger)

	r.Route("/api", func(r chi.Router) {
		if app.config.Auth.JWTSecret != "" {
			validator, err := apiMiddleware.NewHMACValidator(app.config.Auth.JWTSecret)
			if err != nil {
				// Config validation enforces the secret length.
				// ALLOW-PANIC: unreachable with a validated config
				panic(err)
			}
			r.Use(apiMiddleware.NewAuthMiddleware(validator, app.config.Auth.Required).Authenticate)
		}

		r.Post("/tasks", taskHandler.SubmitTask)
		r.Get("/tasks", taskHandler.ListTasks)
		r.Get("/tasks/{id}", taskHandler.GetTask)
		r.Post("/tasks/{id}/cancel", taskHandler.CancelTask)
	})

	var pinger api.Pinger
	if app.db != nil {
		pinger = app.db
	}
	r.Method(http.MethodGet, "/health",
		api.NewHealthHandler(app.permits, app.config.StateStore.Backend, pinger, app.logger))

	if app.metrics != nil {
		r.Method(http.MethodGet, "/metrics", app.metrics.Handler())
	}

	return r
}
