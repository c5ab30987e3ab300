package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DeafMist/ecolex-harvester/internal/app"
	"github.com/DeafMist/ecolex-harvester/internal/config"
	"github.com/DeafMist/ecolex-harvester/internal/harvest"
	"github.com/DeafMist/ecolex-harvester/internal/logger"
	"github.com/DeafMist/ecolex-harvester/internal/models"
	"github.com/DeafMist/ecolex-harvester/internal/upsert"
)

const connectAttempts = 10

// harvester is the part of the driver a run needs.
type harvester interface {
	HarvestAll(ctx context.Context, types []models.DocType, opts harvest.Options) (map[models.DocType]upsert.Report, error)
	ReindexFailed(ctx context.Context, t models.DocType) (upsert.Report, error)
	UpdateStatus(ctx context.Context) (upsert.Report, error)
}

func main() {
	log := logger.New("worker")
	cfg, err := config.LoadWorker()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}
	types, err := parseTypes(cfg.Types)
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

	if err := a.Connect(ctx, connectAttempts); err != nil {
		if ctx.Err() != nil {
			log.Info("shutdown signal received during startup")
			return
		}
		log.Error("failed to connect to elasticsearch after retries", slog.Any("err", err))
		os.Exit(1)
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	log.Info("worker running",
		slog.Duration("interval", cfg.Interval),
		slog.Any("types", types),
		slog.Bool("events", a.Events.Enabled()),
	)

	// Run immediately on start; a failed run is retried on the next tick.
	runOnce(ctx, log, a.Harvester, types, cfg.RunTimeout)

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received")
			return
		case <-ticker.C:
			runOnce(ctx, log, a.Harvester, types, cfg.RunTimeout)
		}
	}
}

func parseTypes(raw []string) ([]models.DocType, error) {
	out := make([]models.DocType, 0, len(raw))
	for _, r := range raw {
		t, err := models.ParseDocType(r)
		if err != nil {
			return nil, fmt.Errorf("WORKER_TYPES: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}

// runOnce harvests every type from its saved cursor, sweeps the failed records
// and recomputes treaty status when treaties changed.
func runOnce(ctx context.Context, log *slog.Logger, h harvester, types []models.DocType, timeout time.Duration) {
	subCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	started := time.Now()

	reports, err := h.HarvestAll(subCtx, types, harvest.Options{Resume: true})
	if err != nil {
		log.Warn("harvest run failed (will retry on next interval)", slog.Any("err", err))
	}

	var total upsert.Report
	for _, t := range types {
		r := reports[t]
		total.Add(r)
		if r.Failed == 0 {
			continue
		}
		swept, err := h.ReindexFailed(subCtx, t)
		if err != nil {
			log.Warn("reindex failed records", slog.String("docType", string(t)), slog.Any("err", err))
			continue
		}
		log.Info("failed records swept",
			slog.String("docType", string(t)),
			slog.Int("rewritten", swept.Inserted+swept.Updated),
			slog.Int("failed", swept.Failed),
		)
	}

	if r, ok := reports[models.Treaty]; ok && r.Inserted+r.Updated > 0 {
		if _, err := h.UpdateStatus(subCtx); err != nil {
			log.Warn("update treaty status", slog.Any("err", err))
		}
	}

	log.Info("harvest run completed",
		slog.Int("inserted", total.Inserted),
		slog.Int("updated", total.Updated),
		slog.Int("skipped", total.Skipped),
		slog.Int("failed", total.Failed),
		slog.Duration("took", time.Since(started)),
	)
}
