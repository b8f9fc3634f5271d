package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(app *App) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/ping", PingHandler)
	r.Get("/resolve", app.ResolveHandler)

	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", app.CreateSessionHandler)

		r.Route("/{id}", func(r chi.Router) {
			r.Post("/media", app.StageFileHandler)
			r.Post("/media/url", app.StageURLHandler)
			r.Post("/ingest", app.IngestHandler)
			r.Post("/messages", app.MessageHandler)
			r.Get("/transcript", app.TranscriptHandler)
			r.Post("/reset", app.ResetHandler)
			r.Delete("/", app.DeleteSessionHandler)
		})
	})

	return r
}
