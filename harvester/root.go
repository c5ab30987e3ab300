package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DeafMist/ecolex-harvester/internal/app"
	"github.com/DeafMist/ecolex-harvester/internal/config"
	"github.com/DeafMist/ecolex-harvester/internal/harvest"
	"github.com/DeafMist/ecolex-harvester/internal/logger"
	"github.com/DeafMist/ecolex-harvester/internal/models"
	"github.com/DeafMist/ecolex-harvester/internal/parser"
	"github.com/DeafMist/ecolex-harvester/internal/store"
	"github.com/DeafMist/ecolex-harvester/internal/upsert"
	"github.com/DeafMist/ecolex-harvester/internal/vocab"
)

// pipeline is the harvest driver surface the commands use.
type pipeline interface {
	Harvest(ctx context.Context, t models.DocType, opts harvest.Options) (upsert.Report, error)
	HarvestAll(ctx context.Context, types []models.DocType, opts harvest.Options) (map[models.DocType]upsert.Report, error)
	Configured(t models.DocType) bool
	ReindexFailed(ctx context.Context, t models.DocType) (upsert.Report, error)
	UpdateStatus(ctx context.Context) (upsert.Report, error)
	DeleteBySlug(ctx context.Context, slug string) (int64, error)
}

// counter reports cache rows per type and status.
type counter interface {
	Counts(ctx context.Context) (map[models.DocType]map[models.Status]int, error)
}

// Services used by the commands. Tests replace them.
var (
	harvester  pipeline
	cacheStore counter
	parsers    parser.Registry
	closers    []func() error
)

// needs annotates what a command must have wired before it runs.
const (
	needsKey     = "needs"
	needsParsers = "parsers"
	needsStore   = "store"
)

const connectAttempts = 5

var rootCmd = &cobra.Command{
	Use:   "harvester",
	Short: "Harvest environmental law records into the search index",
	Long: `Harvests treaties, COP decisions, legislation, court decisions and
literature from their upstream sources, normalises them and writes them to the
search index. Configuration is read from environment variables.`,
	SilenceUsage:       true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

func setup(cmd *cobra.Command, _ []string) error {
	log := logger.New("harvester")
	cfg, err := config.LoadHarvester()

	switch cmd.Annotations[needsKey] {
	case needsParsers:
		if parsers != nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		v, err := vocab.Open(cfg.VocabDir, log)
		if err != nil {
			return fmt.Errorf("load vocabularies: %w", err)
		}
		parsers = app.Parsers(v, nil, nil, cfg.MemoTTL, log)
		return nil

	case needsStore:
		if cacheStore != nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		st, err := store.Open(cfg.CachePath)
		if err != nil {
			return fmt.Errorf("open cache store: %w", err)
		}
		cacheStore = st
		closers = append(closers, st.Close)
		return nil
	}

	if harvester != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a, err := app.New(cfg.Common, cfg.Sources, log)
	if err != nil {
		return err
	}
	closers = append(closers, a.Close)
	if err := a.Connect(cmd.Context(), connectAttempts); err != nil {
		return err
	}
	harvester = a.Harvester
	cacheStore = a.Store
	parsers = a.Parsers
	return nil
}

func teardown(*cobra.Command, []string) error {
	var firstErr error
	for _, c := range closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	closers = nil
	if firstErr != nil {
		return fmt.Errorf("close services: %w", firstErr)
	}
	return nil
}

func printReport(cmd *cobra.Command, t models.DocType, r upsert.Report) {
	cmd.Printf("%s: inserted=%d updated=%d skipped=%d ignored=%d failed=%d\n",
		t, r.Inserted, r.Updated, r.Skipped, r.Ignored, r.Failed)
}
