package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5/pgxpool"

	"chatedge/internal/config"
	"chatedge/internal/limiter"
	"chatedge/internal/realtime"
)

const janitorInterval = 2 * time.Minute

// Deps carries the collaborators the edge layer wires together but does not
// itself implement. The feature routers may be nil, in which case their
// prefixes fall through to NOT_FOUND.
type Deps struct {
	DB       *pgxpool.Pool
	Hub      *realtime.Hub
	Auth     http.Handler
	Chat     http.Handler
	Messages http.Handler
}

// Server owns the HTTP side of the edge: the listener, the admission
// pipeline, and the shared rate-limit store.
type Server struct {
	cfg        *config.Config
	deps       Deps
	policy     *OriginPolicy
	store      *limiter.Store
	upgrader   websocket.Upgrader
	httpServer *http.Server

	janitorCancel context.CancelFunc
}

// New validates the origin policy, builds the admission pipeline, and
// prepares the listener. The rate-limit store is created here and injected
// into the middleware; nothing in this package holds global state.
func New(cfg *config.Config, deps Deps) (*Server, error) {
	policy, err := NewOriginPolicy(cfg.AllowedOrigin, cfg.AllowCredentials)
	if err != nil {
		return nil, fmt.Errorf("origin policy: %w", err)
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		policy: policy,
		store:  limiter.NewStore(cfg.RateLimit.Max, cfg.RateLimit.Window),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     policy.CheckRequest,
	}

	janitorCtx, cancel := context.WithCancel(context.Background())
	s.janitorCancel = cancel
	s.store.StartJanitor(janitorCtx, janitorInterval)

	s.httpServer = &http.Server{
		Addr:         cfg.Port,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// Policy returns the shared origin policy.
func (s *Server) Policy() *OriginPolicy {
	return s.policy
}

// Start begins accepting connections and blocks until the listener closes.
// A bind failure is returned immediately and must be treated as fatal.
func (s *Server) Start() error {
	log.Printf("Server listening on %s", s.cfg.Port)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting new connections and waits for in-flight requests
// to complete or ctx to expire. The realtime hub is shut down separately by
// its owner, after the listener is released.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down HTTP server...")

	s.janitorCancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		return err
	}

	log.Println("HTTP server shutdown completed")
	return nil
}
