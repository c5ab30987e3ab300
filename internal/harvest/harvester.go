// Package harvest drives the per-type pipelines: it pages a source, parses
// each batch, closes its references and hands it to the upsert coordinator.
package harvest

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/DeafMist/ecolex-harvester/internal/config"
	"github.com/DeafMist/ecolex-harvester/internal/elasticsearch"
	"github.com/DeafMist/ecolex-harvester/internal/events"
	"github.com/DeafMist/ecolex-harvester/internal/fetch"
	"github.com/DeafMist/ecolex-harvester/internal/logger"
	"github.com/DeafMist/ecolex-harvester/internal/models"
	"github.com/DeafMist/ecolex-harvester/internal/parser"
	"github.com/DeafMist/ecolex-harvester/internal/refgraph"
	"github.com/DeafMist/ecolex-harvester/internal/store"
	"github.com/DeafMist/ecolex-harvester/internal/upsert"
)

// Index is the part of the search index the driver reads directly.
type Index interface {
	refgraph.Index
	FindExisting(ctx context.Context, t models.DocType, externalIDs []string) (map[string]elasticsearch.Existing, error)
	Scan(ctx context.Context, query string, batch int, fn func(*models.Document) error) error
	DeleteByQuery(ctx context.Context, query string, batchSize int) (int64, error)
	CommitOptimise(ctx context.Context) error
}

// Writer plans and commits upserts.
type Writer interface {
	Decide(ctx context.Context, docs []*models.Document, force bool) ([]upsert.Decision, error)
	Write(ctx context.Context, decisions []upsert.Decision) (upsert.Report, error)
}

// Progress is the per-record ledger in the cache store.
type Progress interface {
	Pending(ctx context.Context, doc *models.Document) error
	Failures(ctx context.Context, t models.DocType) ([]store.Entry, error)
}

// Cursors persists where each source stopped.
type Cursors interface {
	Cursor(ctx context.Context, t models.DocType) (string, error)
	SaveCursor(ctx context.Context, t models.DocType, cursor string) error
}

// DeadLetters receives records that could not be parsed.
type DeadLetters interface {
	Failed(ctx context.Context, f events.Failure) error
}

// Deps wires a Harvester. Texts, Progress, Cursors and Dead may be nil.
type Deps struct {
	Fetcher  Fetcher
	Parsers  parser.Registry
	Texts    parser.TextSource
	Index    Index
	Writer   Writer
	Progress Progress
	Cursors  Cursors
	Dead     DeadLetters
	Sources  config.Sources
	Log      *slog.Logger
}

// Options narrows one harvest run.
type Options struct {
	StartYear  int
	EndYear    int
	StartMonth int
	EndMonth   int
	// DaysAgo limits decisions to those updated in the last N days. Zero uses
	// the configured window and a negative value disables it.
	DaysAgo int
	Force   bool
	// UUIDs imports single decisions or court decisions.
	UUIDs []string
	// Input is the legislation file path or URL.
	Input string
	// Resume continues from the persisted cursor.
	Resume bool
	// Cursor is the position to resume from, filled from the store when Resume is set.
	Cursor string
}

// Harvester runs the pipelines.
type Harvester struct {
	Deps
	now func() time.Time
}

// New returns a harvester over deps.
func New(deps Deps) *Harvester {
	if deps.Log == nil {
		deps.Log = logger.Discard()
	}
	if deps.Sources.BatchSize <= 0 {
		deps.Sources.BatchSize = 100
	}
	return &Harvester{Deps: deps, now: time.Now}
}

// Configured reports whether t has a source to harvest from.
func (h *Harvester) Configured(t models.DocType) bool {
	s := h.Sources
	switch t {
	case models.Treaty:
		return s.TreatyURL != ""
	case models.Literature:
		return s.LiteratureURL != ""
	case models.Decision:
		return s.DecisionURL != ""
	case models.CourtDecision:
		return s.CourtURL != ""
	case models.Legislation:
		return s.LegislationURL != ""
	}
	return false
}

// Harvest runs the pipeline of t to the end of its source.
func (h *Harvester) Harvest(ctx context.Context, t models.DocType, opts Options) (upsert.Report, error) {
	log := h.Log.With(slog.String("docType", string(t)))
	if opts.Resume && h.Cursors != nil {
		cursor, err := h.Cursors.Cursor(ctx, t)
		if err != nil {
			return upsert.Report{}, fmt.Errorf("load cursor: %w", err)
		}
		opts.Cursor = cursor
	}

	src, err := h.source(ctx, t, opts, log)
	if err != nil {
		return upsert.Report{}, err
	}
	started := h.now()
	log.Info("harvest started", slog.Bool("force", opts.Force), slog.String("cursor", opts.Cursor))

	report, err := h.drain(ctx, t, src, opts.Force, true, log)
	if report.Inserted+report.Updated > 0 {
		if cerr := h.Index.CommitOptimise(context.WithoutCancel(ctx)); cerr != nil {
			log.Warn("commit index", slog.Any("err", cerr))
		}
	}
	log.Info("harvest finished",
		slog.Int("inserted", report.Inserted),
		slog.Int("updated", report.Updated),
		slog.Int("skipped", report.Skipped),
		slog.Int("ignored", report.Ignored),
		slog.Int("failed", report.Failed),
		slog.Duration("took", h.now().Sub(started)),
	)
	return report, err
}

// HarvestAll runs the pipelines of types in parallel. A failing type does not
// stop the others; their errors are joined.
func (h *Harvester) HarvestAll(ctx context.Context, types []models.DocType, opts Options) (map[models.DocType]upsert.Report, error) {
	var (
		mu      sync.Mutex
		reports = make(map[models.DocType]upsert.Report, len(types))
		errs    []error
		g       errgroup.Group
	)
	for _, t := range types {
		g.Go(func() error {
			report, err := h.Harvest(ctx, t, opts)
			mu.Lock()
			defer mu.Unlock()
			reports[t] = report
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", t, err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return reports, errors.Join(errs...)
}

// drain pulls batches with one page prefetched while the previous one is
// processed. On cancellation the in-flight batch is finished and its cursor
// saved before returning.
func (h *Harvester) drain(ctx context.Context, t models.DocType, src Source, force, saveCursor bool, log *slog.Logger) (upsert.Report, error) {
	var report upsert.Report
	batches := make(chan *Batch, 1)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(batches)
		for {
			b, err := src.Next(gctx)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			select {
			case batches <- b:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	g.Go(func() error {
		work := context.WithoutCancel(ctx)
		for b := range batches {
			r, err := h.process(work, t, b, force, log)
			report.Add(r)
			if err != nil {
				return err
			}
			if saveCursor && b.Cursor != "" {
				h.saveCursor(work, t, b.Cursor, log)
			}
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		return nil
	})

	err := g.Wait()
	if err == nil && saveCursor {
		h.saveCursor(ctx, t, "", log)
	}
	return report, err
}

func (h *Harvester) saveCursor(ctx context.Context, t models.DocType, cursor string, log *slog.Logger) {
	if h.Cursors == nil {
		return
	}
	if err := h.Cursors.SaveCursor(ctx, t, cursor); err != nil {
		log.Warn("save cursor", slog.String("cursor", cursor), slog.Any("err", err))
	}
}

func (h *Harvester) process(ctx context.Context, t models.DocType, b *Batch, force bool, log *slog.Logger) (upsert.Report, error) {
	report := upsert.Report{Skipped: b.Skipped, Failed: b.Failed}
	docs, parsed, err := h.parse(ctx, t, b.Records, log)
	report.Add(parsed)
	if err != nil {
		return report, err
	}
	written, err := h.Commit(ctx, docs, force)
	report.Add(written)
	return report, err
}

func (h *Harvester) parse(ctx context.Context, t models.DocType, recs []parser.Record, log *slog.Logger) ([]*models.Document, upsert.Report, error) {
	var report upsert.Report
	p, err := h.Parsers.For(t)
	if err != nil {
		return nil, report, err
	}
	docs := make([]*models.Document, 0, len(recs))
	for _, rec := range recs {
		d, err := p.Parse(ctx, rec)
		var perr *parser.ParseError
		switch {
		case err == nil:
			docs = append(docs, d)
		case errors.Is(err, parser.ErrIgnored):
			report.Ignored++
			log.Debug("record ignored", slog.Any("err", err))
		case errors.As(err, &perr):
			report.Failed++
			log.Warn("record rejected", slog.String("externalId", perr.ExternalID), slog.Any("err", err))
			h.deadLetter(ctx, t, perr.ExternalID, rec, err, log)
		default:
			return docs, report, err
		}
	}
	return docs, report, nil
}

func (h *Harvester) deadLetter(ctx context.Context, t models.DocType, externalID string, rec parser.Record, cause error, log *slog.Logger) {
	if h.Dead == nil {
		return
	}
	payload := rec.JSON
	if rec.Node != nil {
		payload, _ = xml.Marshal(rec.Node)
	}
	err := h.Dead.Failed(ctx, events.Failure{
		Type:       t,
		ExternalID: externalID,
		Stage:      "parse",
		Payload:    payload,
		Err:        cause,
	})
	if err != nil {
		log.Error("dead-letter record", slog.String("externalId", externalID), slog.Any("err", err))
	}
}

// Commit closes the references of docs, decides their upserts, extracts the
// text of the ones to write and writes them.
func (h *Harvester) Commit(ctx context.Context, docs []*models.Document, force bool) (upsert.Report, error) {
	docs = unique(docs)
	if len(docs) == 0 {
		return upsert.Report{}, nil
	}
	closed, err := refgraph.Close(ctx, docs, h.Index)
	if err != nil {
		return upsert.Report{}, fmt.Errorf("close references: %w", err)
	}
	for _, d := range closed {
		if d.Type == models.Treaty {
			d.Set("trStatus", parser.TreatyStatus(d, false))
		}
	}

	decisions, err := h.Writer.Decide(ctx, closed, force)
	if err != nil {
		return upsert.Report{}, err
	}
	for _, dec := range decisions {
		if dec.Action == upsert.Skip {
			continue
		}
		if h.Texts != nil {
			parser.AttachText(ctx, dec.Doc, h.Texts, h.Log)
		}
		if h.Progress != nil {
			if err := h.Progress.Pending(ctx, dec.Doc); err != nil {
				h.Log.Warn("record pending status", slog.String("externalId", dec.Doc.ExternalID), slog.Any("err", err))
			}
		}
	}
	return h.Writer.Write(ctx, decisions)
}

// unique keeps the last copy of every (type, externalId).
func unique(docs []*models.Document) []*models.Document {
	type key struct {
		t  models.DocType
		id string
	}
	pos := make(map[key]int, len(docs))
	out := make([]*models.Document, 0, len(docs))
	for _, d := range docs {
		k := key{d.Type, d.ExternalID}
		if i, ok := pos[k]; ok {
			out[i] = d
			continue
		}
		pos[k] = len(out)
		out = append(out, d)
	}
	return out
}

// Ingest runs a legislation package through the pipeline.
func (h *Harvester) Ingest(ctx context.Context, data []byte) (upsert.Report, error) {
	body, err := Unpack(data, h.Sources.MaxUnpackBytes)
	if err != nil {
		return upsert.Report{}, err
	}
	recs, err := parser.Split(models.Legislation, body)
	if err != nil {
		return upsert.Report{}, err
	}
	log := h.Log.With(slog.String("docType", string(models.Legislation)))
	return h.drain(ctx, models.Legislation, &staticSource{recs: recs, size: h.Sources.BatchSize}, false, false, log)
}

// ReindexFailed rewrites the pending and failed records of t from their
// persisted documents.
func (h *Harvester) ReindexFailed(ctx context.Context, t models.DocType) (upsert.Report, error) {
	var report upsert.Report
	if h.Progress == nil {
		return report, errors.New("no progress ledger configured")
	}
	entries, err := h.Progress.Failures(ctx, t)
	if err != nil {
		return report, err
	}
	log := h.Log.With(slog.String("docType", string(t)))

	docs := make([]*models.Document, 0, len(entries))
	for _, e := range entries {
		if len(e.ParsedJSON) == 0 {
			log.Warn("no persisted document to reindex", slog.String("externalId", e.DocID))
			report.Failed++
			continue
		}
		var d models.Document
		if err := json.Unmarshal(e.ParsedJSON, &d); err != nil {
			log.Warn("decode persisted document", slog.String("externalId", e.DocID), slog.Any("err", err))
			report.Failed++
			continue
		}
		docs = append(docs, &d)
	}

	for start := 0; start < len(docs); start += h.Sources.BatchSize {
		chunk := docs[start:min(start+h.Sources.BatchSize, len(docs))]
		r, err := h.Commit(ctx, chunk, true)
		report.Add(r)
		if err != nil {
			return report, err
		}
	}
	log.Info("reindex finished", slog.Int("records", len(entries)), slog.Int("failed", report.Failed))
	return report, nil
}

// UpdateStatus recomputes trStatus across every indexed treaty and rewrites
// the ones whose status changed.
func (h *Harvester) UpdateStatus(ctx context.Context) (upsert.Report, error) {
	query := elasticsearch.TypeFilter(models.Treaty)
	superseded := map[string]bool{}
	err := h.Index.Scan(ctx, query, h.Sources.BatchSize, func(d *models.Document) error {
		for _, id := range d.Refs["supersedes"] {
			superseded[id] = true
		}
		return nil
	})
	if err != nil {
		return upsert.Report{}, fmt.Errorf("scan treaties: %w", err)
	}

	var changed []upsert.Decision
	err = h.Index.Scan(ctx, query, h.Sources.BatchSize, func(d *models.Document) error {
		status := parser.TreatyStatus(d, superseded[d.ExternalID])
		if d.String("trStatus") == status {
			return nil
		}
		d.Set("trStatus", status)
		changed = append(changed, upsert.Decision{Action: upsert.Update, Doc: d})
		return nil
	})
	if err != nil {
		return upsert.Report{}, fmt.Errorf("scan treaties: %w", err)
	}
	h.Log.Info("treaty status recomputed", slog.Int("changed", len(changed)))
	if len(changed) == 0 {
		return upsert.Report{}, nil
	}
	return h.Writer.Write(ctx, changed)
}

// DeleteBySlug removes the documents with slug from the index.
func (h *Harvester) DeleteBySlug(ctx context.Context, slug string) (int64, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return 0, errors.New("slug is empty")
	}
	n, err := h.Index.DeleteByQuery(ctx, elasticsearch.Term("slug", slug), h.Sources.BatchSize)
	if err != nil {
		return n, err
	}
	if err := h.Index.CommitOptimise(ctx); err != nil {
		h.Log.Warn("commit index", slog.Any("err", err))
	}
	return n, nil
}

func (h *Harvester) source(ctx context.Context, t models.DocType, opts Options, log *slog.Logger) (Source, error) {
	s := h.Sources
	switch t {
	case models.Treaty:
		return newElisSource(h.Fetcher, t, s.TreatyURL, s.TreatyQuery, s.ElisPageSize, opts, h.now(), log), nil
	case models.Literature:
		return newElisSource(h.Fetcher, t, s.LiteratureURL, s.LiteratureQuery, s.ElisPageSize, opts, h.now(), log), nil
	case models.Decision:
		if len(opts.UUIDs) > 0 {
			return &nodeSource{f: h.Fetcher, t: t, node: decisionNode(s.DecisionNodeURL), uuids: opts.UUIDs}, nil
		}
		days := opts.DaysAgo
		if days == 0 {
			days = s.DecisionDaysAgo
		}
		var since time.Time
		if days > 0 {
			since = h.now().AddDate(0, 0, -days)
		}
		return &listingSource{
			f: h.Fetcher,
			t: t,
			pager: fetch.NewPager(h.Fetcher, fetch.PagerConfig{
				URL:      s.DecisionURL,
				PageSize: s.DecisionPageSize,
				Start:    cursorPage(opts.Cursor),
				Mode:     fetch.ByNumber,
				Params:   pageParams,
				Done:     fetch.EmptyJSON,
			}, log),
			node:   decisionNode(s.DecisionNodeURL),
			lookup: h.indexedUpdates,
			force:  opts.Force,
			since:  since,
			log:    log,
		}, nil
	case models.CourtDecision:
		if len(opts.UUIDs) > 0 {
			return &nodeSource{f: h.Fetcher, t: t, node: courtNode(s.CourtURL), uuids: opts.UUIDs}, nil
		}
		// The court listing is re-read from the first page on every run.
		return &listingSource{
			f: h.Fetcher,
			t: t,
			pager: fetch.NewPager(h.Fetcher, fetch.PagerConfig{
				URL:      s.CourtURL,
				PageSize: s.CourtPageSize,
				Mode:     fetch.ByNumber,
				Params:   pageParams,
				Done:     fetch.EmptyJSON,
			}, log),
			node:   courtNode(s.CourtURL),
			lookup: h.indexedUpdates,
			force:  opts.Force,
			log:    log,
		}, nil
	case models.Legislation:
		input := opts.Input
		if input == "" {
			input = s.LegislationURL
		}
		if input == "" {
			return nil, errors.New("legislation needs an input file or URL")
		}
		data, err := ReadInput(ctx, h.Fetcher, input)
		if err != nil {
			return nil, err
		}
		body, err := Unpack(data, h.Sources.MaxUnpackBytes)
		if err != nil {
			return nil, err
		}
		recs, err := parser.Split(t, body)
		if err != nil {
			return nil, err
		}
		return &staticSource{recs: recs, size: s.BatchSize}, nil
	}
	return nil, fmt.Errorf("no source for %s", t)
}

func (h *Harvester) indexedUpdates(ctx context.Context, t models.DocType, ids []string) (map[string]time.Time, error) {
	found, err := h.Index.FindExisting(ctx, t, ids)
	if err != nil {
		return nil, fmt.Errorf("look up %s: %w", t, err)
	}
	out := make(map[string]time.Time, len(found))
	for id, e := range found {
		out[id] = e.UpdatedAt
	}
	return out, nil
}

func cursorPage(c string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(c, "page:"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
