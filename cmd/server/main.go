package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"chatedge/internal/config"
	"chatedge/internal/db"
	"chatedge/internal/realtime"
	"chatedge/internal/server"
)

func main() {
	log.Println("Starting chatedge server...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The database collaborator must be up before any traffic is accepted.
	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	hub := realtime.NewHub(realtime.Options{
		IdleTimeout:    cfg.Session.IdleTimeout,
		MaxMessageSize: cfg.Session.MaxMessageSize,
		MessageBurst:   cfg.Session.MessageBurst,
		MessageRefill:  cfg.Session.MessageRefill,
	})
	go hub.Run()

	// TODO: mount the real auth/chat/messages routers here once they are
	// extracted from the legacy service; until then their prefixes 404.
	srv, err := server.New(cfg, server.Deps{
		DB:  pool,
		Hub: hub,
	})
	if err != nil {
		log.Fatalf("server: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	if err := hub.Shutdown(5 * time.Second); err != nil {
		log.Printf("hub shutdown: %v", err)
	}
}
