// Package app assembles the harvest pipeline from configuration for the
// harvester, intake and worker binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DeafMist/ecolex-harvester/internal/config"
	"github.com/DeafMist/ecolex-harvester/internal/elasticsearch"
	"github.com/DeafMist/ecolex-harvester/internal/events"
	"github.com/DeafMist/ecolex-harvester/internal/extract"
	"github.com/DeafMist/ecolex-harvester/internal/fetch"
	"github.com/DeafMist/ecolex-harvester/internal/harvest"
	"github.com/DeafMist/ecolex-harvester/internal/parser"
	"github.com/DeafMist/ecolex-harvester/internal/store"
	"github.com/DeafMist/ecolex-harvester/internal/textcache"
	"github.com/DeafMist/ecolex-harvester/internal/upsert"
	"github.com/DeafMist/ecolex-harvester/internal/vocab"
)

// App holds the long-lived pieces of one process.
type App struct {
	Log       *slog.Logger
	Store     *store.Store
	Index     *elasticsearch.Client
	Events    *events.Publisher
	Vocab     *vocab.Vocabulary
	Parsers   parser.Registry
	Harvester *harvest.Harvester
}

// New opens the cache store and wires every component. It does not contact
// the index; call WaitForIndex for that.
func New(common config.Common, sources config.Sources, log *slog.Logger) (*App, error) {
	v, err := vocab.Open(common.VocabDir, log)
	if err != nil {
		return nil, fmt.Errorf("load vocabularies: %w", err)
	}
	index, err := elasticsearch.New(common.ElasticsearchAddr, common.ElasticsearchIndex, log)
	if err != nil {
		return nil, fmt.Errorf("init elasticsearch: %w", err)
	}
	st, err := store.Open(common.CachePath)
	if err != nil {
		return nil, fmt.Errorf("open cache store: %w", err)
	}

	fetcher := fetch.New(fetch.Config{
		Timeout:       sources.RequestTimeout,
		MaxAttempts:   sources.MaxAttempts,
		BaseBackoff:   sources.RetryBackoff,
		RatePerSecond: sources.RatePerSecond,
	}, log)
	extractor := extract.New(sources.ExtractorURL, sources.ExtractTimeout, log)
	texts := textcache.New(st, fetcher, extractor, log)
	publisher := events.New(common.KafkaBrokers, common.KafkaTopic, log)

	parsers := Parsers(v, index, harvest.MeetingFetcher{F: fetcher, NodeURL: sources.DecisionNodeURL}, sources.MemoTTL, log)
	ledger := st.Ledger()
	writer := upsert.New(index, ledger, publisher, upsert.Config{
		BatchSize: sources.BatchSize,
		Backoff:   sources.RetryBackoff,
	}, log)

	h := harvest.New(harvest.Deps{
		Fetcher:  fetcher,
		Parsers:  parsers,
		Texts:    texts,
		Index:    index,
		Writer:   writer,
		Progress: ledger,
		Cursors:  st,
		Dead:     publisher,
		Sources:  sources,
		Log:      log,
	})

	return &App{
		Log:       log,
		Store:     st,
		Index:     index,
		Events:    publisher,
		Vocab:     v,
		Parsers:   parsers,
		Harvester: h,
	}, nil
}

// Parsers builds the registry of every record type.
func Parsers(v *vocab.Vocabulary, treaties parser.TreatyLookup, meetings parser.MeetingSource, ttl time.Duration, log *slog.Logger) parser.Registry {
	return parser.NewRegistry(
		parser.NewTreatyParser(v, log),
		parser.NewDecisionParser(v, treaties, meetings, ttl, log),
		parser.NewLegislationParser(v, log),
		parser.NewCourtDecisionParser(v, log),
		parser.NewLiteratureParser(v, log),
	)
}

// Close releases the store and flushes the event writers.
func (a *App) Close() error {
	return errors.Join(a.Events.Close(), a.Store.Close())
}

// Health reports whether the index cluster and the cache store are reachable.
func (a *App) Health(ctx context.Context) error {
	if err := a.Index.Health(ctx); err != nil {
		return err
	}
	if err := a.Store.Ping(ctx); err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	return nil
}

// Pinger checks index connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// WaitForIndex pings the index with exponential backoff, capped at 30s, until
// it answers or attempts run out.
func WaitForIndex(ctx context.Context, p Pinger, attempts int, delay time.Duration, log *slog.Logger) error {
	var err error
	for i := range attempts {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = p.Ping(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		log.Warn("elasticsearch ping failed, retrying",
			slog.Any("err", err),
			slog.Int("attempt", i+1),
			slog.Int("max_retries", attempts),
			slog.Duration("retry_in", delay),
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = min(delay*2, 30*time.Second)
	}
	return fmt.Errorf("elasticsearch unreachable after %d attempts: %w", attempts, err)
}

// Connect waits for the index and creates it when missing.
func (a *App) Connect(ctx context.Context, attempts int) error {
	if err := WaitForIndex(ctx, a.Index, attempts, 2*time.Second, a.Log); err != nil {
		return err
	}
	if err := a.Index.EnsureIndex(ctx); err != nil {
		return fmt.Errorf("ensure index: %w", err)
	}
	a.Log.Info("connected to elasticsearch", slog.String("index", a.Index.Index()))
	return nil
}
