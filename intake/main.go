package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DeafMist/ecolex-harvester/internal/app"
	"github.com/DeafMist/ecolex-harvester/internal/config"
	"github.com/DeafMist/ecolex-harvester/internal/intake"
	"github.com/DeafMist/ecolex-harvester/internal/logger"
)

func main() {
	log := logger.New("intake")
	cfg, err := config.LoadIntake()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := app.New(cfg.Common, cfg.Sources, log)
	if err != nil {
		log.Error("init", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("close", slog.Any("err", err))
		}
	}()

	if err := a.Connect(ctx, 10); err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Error("failed to connect to elasticsearch after retries", slog.Any("err", err))
		os.Exit(1)
	}

	h := intake.New(a.Harvester, a, intake.Config{
		APIKey:         cfg.APIKey,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}, log)

	// Uploads can be large, so the read timeout is generous.
	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      15 * time.Minute,
	}

	go func() {
		log.Info("intake server starting", slog.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", slog.Any("err", err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", slog.Any("err", err))
	}
}
