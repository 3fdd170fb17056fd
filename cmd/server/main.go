package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"trustlens-backend/app"
	"trustlens-backend/config"
	"trustlens-backend/handlers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	logger := cfg.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}

	seeded, err := a.SeedRules(ctx)
	if err != nil {
		log.Fatalf("Failed to seed rules: %v", err)
	}
	log.Printf("Rules ready (%d created, %d updated, %d unchanged)",
		len(seeded.Created), len(seeded.Updated), len(seeded.Unchanged))

	r := handlers.NewRouter(handlers.Services{
		Documents: a.Documents,
		Rules:     a.Rules,
		Reviews:   a.Reviews,
		Explain:   a.Explain,
		Metrics:   a.Metrics.Handler(),
		Logger:    logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Warning: HTTP shutdown: %v", err)
	}
	if err := a.Shutdown(shutdownCtx); err != nil {
		log.Printf("Warning: %v", err)
	}
}
