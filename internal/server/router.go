package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"chatedge/internal/apperr"
)

// Handler assembles the admission pipeline and the route table. The pipeline
// order is fixed: request id, 5xx logging, panic recovery, CORS, rate
// limiting, then dispatch; each stage either continues or short-circuits
// with an error envelope.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(errorLoggerMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(corsMiddleware(s.policy))
	r.Use(s.rateLimitMiddleware)

	r.Get("/", s.handleBanner)
	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)

	if s.deps.Auth != nil {
		r.Mount("/auth", s.deps.Auth)
	}
	if s.deps.Chat != nil {
		r.Mount("/api/chat", s.deps.Chat)
	}
	if s.deps.Messages != nil {
		r.Mount("/api/messages", s.deps.Messages)
	}

	// http.Dir roots the file server at the configured directory; path
	// traversal cannot escape it.
	fileServer := http.StripPrefix("/public/", http.FileServer(http.Dir(s.cfg.StaticDir)))
	r.Method(http.MethodGet, "/public/*", fileServer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apperr.Write(w, r, apperr.NotFound("no route for "+r.URL.Path), s.cfg.DevMode())
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		apperr.Write(w, r, apperr.BadRequest("method not allowed for "+r.URL.Path), s.cfg.DevMode())
	})

	return r
}
