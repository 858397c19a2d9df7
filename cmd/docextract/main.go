package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/docquote/internal/api"
	"github.com/dgallion1/docquote/internal/config"
	"github.com/dgallion1/docquote/internal/doctree"
	"github.com/dgallion1/docquote/internal/imageio"
	"github.com/dgallion1/docquote/internal/inference"
	"github.com/dgallion1/docquote/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("load configuration", "error", err)
		os.Exit(1)
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	if err := cfg.ValidateExtract(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The backend client is built lazily on the first upload.
	model := inference.New(inference.Options{
		Backend:       cfg.InferenceBackend,
		URL:           cfg.InferenceURL,
		APIKey:        cfg.InferenceAPIKey,
		ModelID:       cfg.InferenceModel,
		Prompt:        cfg.InferencePrompt,
		MaxNewTokens:  cfg.MaxNewTokens,
		Timeout:       cfg.InferenceTimeout,
		MaxConcurrent: cfg.MaxConcurrentInference,
	}, log)

	loader := imageio.NewLoader(cfg.PDFMaxPages, cfg.PDFDPI)
	pipe := pipeline.New(loader, model, pipeline.Options{
		Pictures:    doctree.PictureMode(cfg.PictureMode),
		Concurrency: model.Concurrency(),
		ResultTTL:   cfg.ResultTTL,
	}, log)
	pipe.Start(ctx)

	srv, err := api.NewServer(pipe, model, log, cfg)
	if err != nil {
		log.Error("init http server", "error", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     srv,
		ReadTimeout: 60 * time.Second,
		// A multi-page upload runs one generation per page.
		WriteTimeout: time.Duration(cfg.PDFMaxPages)*cfg.InferenceTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		pipe.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		model.Close()
	}()

	log.Info("starting docextract",
		"port", cfg.Port,
		"backend", cfg.InferenceBackend,
		"model", cfg.InferenceModel,
	)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
