package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"chatedge/internal/apperr"
	"chatedge/internal/realtime"
)

const healthCheckTimeout = 2 * time.Second

func (s *Server) handleBanner(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "chatedge server is running!")
}

// handleHealth verifies the database collaborator before reporting healthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := s.deps.DB.Ping(ctx); err != nil {
			apperr.Write(w, r, apperr.Internal(fmt.Errorf("database ping: %w", err)), s.cfg.DevMode())
			return
		}
	}

	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "ok")
}

// handleWebSocket upgrades the connection under the shared origin policy and
// hands the session to the hub, which launches its pumps. The optional
// ?room= query selects the delivery scope the session joins.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the handshake refusal.
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	sess := realtime.NewSession(conn, s.deps.Hub, r.RemoteAddr, r.URL.Query().Get("room"))
	s.deps.Hub.Register(sess)
}
