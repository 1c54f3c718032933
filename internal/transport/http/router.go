// Package http exposes the execution core over a JSON HTTP surface:
// dispatch, route mutation, ownership transfer, and the read-side views.
// Argument payloads arrive as JSON and are transcoded to the core's wire
// encoding before dispatch.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stagegate/stagegate/internal/arena"
	"github.com/stagegate/stagegate/internal/identity"
	"github.com/stagegate/stagegate/internal/router"
)

// Handler is the HTTP adapter entrypoint for core operations.
type Handler struct {
	dispatcher *router.Dispatcher
	store      *arena.Store
	identity   identity.Config
}

// NewHandler constructs an HTTP handler bound to the dispatcher and store.
func NewHandler(dispatcher *router.Dispatcher, store *arena.Store, idCfg identity.Config) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		store:      store,
		identity:   idCfg,
	}
}

// NewRouter registers core HTTP routes and the middleware stack.
func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(loggingMiddleware)

	r.Get("/healthz", handler.healthz)

	r.Route("/v1", func(r chi.Router) {
		r.Use(handler.callerMiddleware)

		r.Post("/dispatch", handler.dispatch)
		r.Post("/routes", handler.submitRouteChanges)
		r.Post("/ownership/transfer", handler.transferOwnership)

		r.Get("/owner", handler.owner)
		r.Get("/modules", handler.modules)
		r.Get("/modules/{address}/operations", handler.moduleOperations)
		r.Get("/operations/{op}", handler.resolveOperation)
		r.Get("/notifications", handler.notifications)
	})

	return r
}
