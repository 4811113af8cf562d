package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/arielgw/castkit/internal/app"
	"github.com/arielgw/castkit/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	built, err := app.Build(context.Background(), cfg)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			log.Printf("cleanup: %v", err)
		}
	}()

	if cfg.DatabaseURL != "" {
		log.Printf("fact store: postgres")
	} else {
		log.Printf("fact store: in-memory")
	}
	if cfg.OpenAIAPIKey == "" {
		// The broker still serves requests; create-session reports the
		// missing credential per its documented contract.
		log.Printf("warning: OPENAI_API_KEY is not set")
	}
	if cfg.DefaultWorkflowID == "" {
		log.Printf("warning: CHATKIT_WORKFLOW_ID is not set; requests must carry a workflow id")
	}

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: built.API.Router(),
	}

	go func() {
		log.Printf("server listening on %s (env=%s, metadata=%s)", cfg.BindAddr, cfg.Environment, cfg.MetadataPlacement)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
