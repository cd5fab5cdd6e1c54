// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ejgdev/e5n/internal/auth"
	"github.com/ejgdev/e5n/internal/cache"
	"github.com/ejgdev/e5n/internal/config"
	"github.com/ejgdev/e5n/internal/database"
	"github.com/ejgdev/e5n/internal/handler"
	"github.com/ejgdev/e5n/internal/memstore"
	"github.com/ejgdev/e5n/internal/repository"
	"github.com/ejgdev/e5n/internal/service"
	"github.com/ejgdev/e5n/internal/storage"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	log.Printf("config %s", cfg.Summary())

	// ── 1. Open the store ────────────────────────────────────────────────
	var store storage.Store
	switch cfg.Store {
	case config.StoreMemory:
		store = memstore.New()
		log.Println("using in-memory store; data is lost on exit")
	default:
		pool, err := database.NewPool(ctx, cfg.DB)
		if err != nil {
			log.Fatalf("database: %v", err)
		}
		defer pool.Close()
		store = repository.New(pool)
		log.Println("connected to PostgreSQL")
	}

	// ── 2. Wire up layers ────────────────────────────────────────────────
	svc := service.New(store, cache.New(), service.Options{
		StudentListTTL: cfg.StudentListTTL,
		Scoring: service.ScoringConfig{
			BasePoint:        cfg.BasePoint,
			TeamSizeModifier: cfg.TeamSizeModifier(),
			EventCode:        cfg.ScoringEventCode,
		},
	})
	authn := auth.New(cfg.JWTSecret, store)
	router := handler.New(svc, authn).Router()

	// ── 3. Start server with graceful shutdown ───────────────────────────
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("graceful shutdown failed: %v", err)
	}
	log.Println("server stopped")
}
