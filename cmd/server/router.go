package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/asyncbg/internal/api"
	apiMiddleware "github.com/phrazzld/asyncbg/internal/api/middleware"
	"github.com/phrazzld/asyncbg/internal/metrics"
	"github.com/phrazzld/asyncbg/internal/status"
)

// setupRouter creates and configures the application router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	// Apply standard middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(app.logger))
	r.Use(apiMiddleware.NewContextIDMiddleware(app.contextID))

	// A nil *producer.Producer must reach the handler as a nil interface
	var enqueuer api.Enqueuer
	if app.producer != nil {
		enqueuer = app.producer
	}

	taskHandler := api.NewTaskHandler(
		enqueuer,
		status.NewReader(app.backend.Store, app.logger),
		app.config.Kafka.TopicAsyncRequest,
		app.logger,
	)
	notificationHandler := api.NewNotificationHandler(app.backend.Subscriber, app.logger)
	channelMiddleware := apiMiddleware.NewChannelMiddleware(app.resolver)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(channelMiddleware.RequireChannel)

		r.Post("/demo/enqueue/", taskHandler.EnqueueDemo)
		r.Get("/async_background_response/{"+api.TaskIDParam+"}/", taskHandler.GetStatus)
		r.Get("/async_background_ws/", notificationHandler.Stream)
	})

	r.Handle("/metrics", metrics.Handler())

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, err := w.Write([]byte("OK"))
		if err != nil {
			app.logger.Error("Failed to write health check response", "error", err)
		}
	})

	return r
}
