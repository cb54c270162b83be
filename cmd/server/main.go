package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/docoutline/internal/api"
	"github.com/dgallion1/docoutline/internal/config"
	"github.com/dgallion1/docoutline/internal/parser"
	"github.com/dgallion1/docoutline/internal/pipeline"
	"github.com/dgallion1/docoutline/internal/store"
)

func main() {
	cfg := config.Load()
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	heuristics, err := config.LoadHeuristics(cfg.HeuristicsFile)
	if err != nil {
		log.Error("invalid heuristics", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Result cache.
	cache, err := store.Open(cfg.CachePath)
	if err != nil {
		log.Error("open cache", "path", cfg.CachePath, "error", err)
		os.Exit(1)
	}

	// Initialize pipeline.
	worker := pipeline.NewWorker(
		log,
		pipeline.PolicyFromConfig(cfg),
		parser.Options{FallbackPdftotext: cfg.PDFFallbackPdftotext},
		heuristics.OutlineOptions(),
		heuristics.RankOptions(),
		cache,
	)
	orch := pipeline.NewOrchestrator(cfg, worker, cache, log)
	orch.Start(ctx)

	// Initialize HTTP server.
	srv := api.NewServer(orch, cache, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.JobTimeout + time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		// Close the listener before the queue so no upload reaches a stopped
		// pipeline.
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", "error", err)
		}

		orch.Stop()

		if err := cache.Close(); err != nil {
			log.Warn("close cache", "error", err)
		}
	}()

	log.Info("starting docoutline",
		"port", cfg.Port,
		"workers", cfg.WorkerCount,
		"cache", cfg.CachePath,
		"max_pages", cfg.MaxPages,
	)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	<-stopped
	log.Info("shutdown complete")
}
