package httpapi

import (
	"context"
	"net/http"

	"github.com/DoyleJ11/pokeroster/internal/app"
	"github.com/DoyleJ11/pokeroster/internal/controller"
	"github.com/DoyleJ11/pokeroster/internal/localstate"
	"github.com/DoyleJ11/pokeroster/internal/ws"
	"github.com/go-chi/chi/v5"
)

func SetupRoutes(a *app.App) http.Handler {
	// Server-side controllers keep their session in memory; the browser
	// remembers its own.
	newController := func(ctx context.Context) *controller.Controller {
		return a.NewController(ctx, &localstate.Mem{})
	}
	h := &api{
		roster:        a.Roster,
		catalog:       a.Catalog,
		newController: newController,
		log:           a.Log.Named("http"),
	}

	r := chi.NewRouter()

	// Public routes
	r.Get("/healthz", Healthz)
	r.Handle("/metrics", a.Metrics.Handler())
	r.Get("/ws", ws.Handler(a.Roster, newController, a.Log))

	r.Post("/sessions", h.createSession)
	r.Route("/sessions/{id}", func(r chi.Router) {
		r.Get("/", h.getSession)
		r.Delete("/", h.deleteSession)
		r.Route("/roster/{location}", func(r chi.Router) {
			r.Get("/", h.listEntries)
			r.Post("/", h.addEntry)
			r.Patch("/{entryID}", h.updateEntry)
			r.Delete("/{entryID}", h.removeEntry)
			r.Post("/{entryID}/move", h.moveEntry)
			r.Post("/{entryID}/level/{direction}", h.levelEntry)
		})
	})
	r.Get("/catalog/species/{name}", h.species)
	return r
}
