// Package upsert decides insert, update or skip for parsed documents and
// commits them to the index in bulk.
package upsert

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/DeafMist/ecolex-harvester/internal/elasticsearch"
	"github.com/DeafMist/ecolex-harvester/internal/logger"
	"github.com/DeafMist/ecolex-harvester/internal/models"
)

// Action is the planned write for one document.
type Action string

const (
	Insert Action = "insert"
	Update Action = "update"
	Skip   Action = "skip"
)

// Index is the search index the coordinator reads and writes.
type Index interface {
	FindExisting(ctx context.Context, t models.DocType, externalIDs []string) (map[string]elasticsearch.Existing, error)
	BulkUpsert(ctx context.Context, docs []*models.Document) (map[string]error, error)
	Upsert(ctx context.Context, doc *models.Document) error
}

// Ledger records per-document outcomes in the cache store.
type Ledger interface {
	Written(ctx context.Context, doc *models.Document) error
	Failed(ctx context.Context, doc *models.Document, err error) error
}

// Notifier is told about committed documents.
type Notifier interface {
	Indexed(ctx context.Context, action string, docs []*models.Document) error
}

// Decision pairs a document with its planned action.
type Decision struct {
	Action Action
	Doc    *models.Document
}

// Report counts the outcome of a run.
type Report struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
	Ignored  int `json:"ignored"`
	Failed   int `json:"failed"`
}

// Add accumulates other into r.
func (r *Report) Add(other Report) {
	r.Inserted += other.Inserted
	r.Updated += other.Updated
	r.Skipped += other.Skipped
	r.Ignored += other.Ignored
	r.Failed += other.Failed
}

// Total is the number of records seen.
func (r Report) Total() int {
	return r.Inserted + r.Updated + r.Skipped + r.Ignored + r.Failed
}

// Config tunes the write path.
type Config struct {
	BatchSize   int
	MaxAttempts int
	Backoff     time.Duration
}

// Coordinator implements the upsert decision and bulk commit.
type Coordinator struct {
	idx    Index
	ledger Ledger
	notify Notifier
	cfg    Config
	log    *slog.Logger
	now    func() time.Time
}

// New wires a coordinator. ledger and notify may be nil.
func New(idx Index, ledger Ledger, notify Notifier, cfg Config, log *slog.Logger) *Coordinator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Coordinator{idx: idx, ledger: ledger, notify: notify, cfg: cfg, log: log, now: time.Now}
}

// Decide looks every document up by (type, externalId). Absent documents are
// inserted. Present ones are skipped unless they are newer, gained an inverse
// reference the indexed copy lacks, or force is set. Updates carry over the
// existing document id and the indexed inverse references.
func (c *Coordinator) Decide(ctx context.Context, docs []*models.Document, force bool) ([]Decision, error) {
	byType := map[models.DocType][]string{}
	for _, d := range docs {
		byType[d.Type] = append(byType[d.Type], d.ExternalID)
	}
	existing := map[models.DocType]map[string]elasticsearch.Existing{}
	for t, ids := range byType {
		found, err := c.idx.FindExisting(ctx, t, ids)
		if err != nil {
			return nil, fmt.Errorf("look up %s: %w", t, err)
		}
		existing[t] = found
	}

	out := make([]Decision, 0, len(docs))
	for _, d := range docs {
		e, ok := existing[d.Type][d.ExternalID]
		switch {
		case !ok:
			out = append(out, Decision{Action: Insert, Doc: d})
		case !force && !d.UpdatedAt.After(e.UpdatedAt) && !gainsInverse(d, e):
			out = append(out, Decision{Action: Skip, Doc: d})
		default:
			d.ID = e.ID
			keepInverse(d, e)
			out = append(out, Decision{Action: Update, Doc: d})
		}
	}
	return out, nil
}

// gainsInverse reports whether d holds an inverse reference missing from its
// indexed copy.
func gainsInverse(d *models.Document, e elasticsearch.Existing) bool {
	s := d.Schema()
	for name, ids := range d.Refs {
		if r, ok := s.Relation(name); !ok || !r.Derived {
			continue
		}
		for _, id := range ids {
			if !slices.Contains(e.Derived[name], id) {
				return true
			}
		}
	}
	return false
}

// keepInverse merges the indexed inverse references into d. They were added
// by earlier batches, so the parsed record cannot carry them.
func keepInverse(d *models.Document, e elasticsearch.Existing) {
	for name, indexed := range e.Derived {
		merged := slices.Clone(indexed)
		for _, id := range d.Refs[name] {
			if !slices.Contains(merged, id) {
				merged = append(merged, id)
			}
		}
		if d.Refs == nil {
			d.Refs = map[string][]string{}
		}
		d.Refs[name] = merged
	}
}

// Write commits the insert and update decisions in batches. A failed bulk
// request is retried once, then its documents are written one by one. A
// document that still fails is recorded in the ledger and counted as failed.
func (c *Coordinator) Write(ctx context.Context, decisions []Decision) (Report, error) {
	var report Report
	var pending []Decision
	for _, dec := range decisions {
		if dec.Action == Skip {
			report.Skipped++
			continue
		}
		d := dec.Doc
		models.StripCopyFields(d)
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		d.IndexedAt = c.now().UTC()
		if d.Status == "" || d.Status == models.StatusPending {
			d.Status = models.StatusIndexed
		}
		pending = append(pending, dec)
	}

	for start := 0; start < len(pending); start += c.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		chunk := pending[start:min(start+c.cfg.BatchSize, len(pending))]
		report.Add(c.commit(ctx, chunk))
	}
	return report, nil
}

// Upsert decides and writes docs.
func (c *Coordinator) Upsert(ctx context.Context, docs []*models.Document, force bool) (Report, error) {
	decisions, err := c.Decide(ctx, docs, force)
	if err != nil {
		return Report{}, err
	}
	return c.Write(ctx, decisions)
}

func (c *Coordinator) commit(ctx context.Context, chunk []Decision) Report {
	docs := make([]*models.Document, len(chunk))
	for i, dec := range chunk {
		docs[i] = dec.Doc
	}

	failed, err := c.idx.BulkUpsert(ctx, docs)
	if err != nil {
		c.log.Warn("bulk write failed, retrying", slog.Int("docs", len(docs)), slog.Any("err", err))
		failed, err = c.idx.BulkUpsert(ctx, docs)
	}
	if err != nil {
		c.log.Warn("bulk retry failed, writing documents one by one", slog.Int("docs", len(docs)), slog.Any("err", err))
		failed = make(map[string]error, len(docs))
		for _, d := range docs {
			failed[d.ID] = err
		}
	}

	var report Report
	written := map[Action][]*models.Document{}
	for _, dec := range chunk {
		d := dec.Doc
		if _, bad := failed[d.ID]; bad {
			if werr := c.writeOne(ctx, d); werr != nil {
				c.fail(ctx, d, werr)
				report.Failed++
				continue
			}
		}
		c.written(ctx, d)
		written[dec.Action] = append(written[dec.Action], d)
		if dec.Action == Insert {
			report.Inserted++
		} else {
			report.Updated++
		}
	}

	if c.notify != nil {
		for action, ds := range written {
			if err := c.notify.Indexed(ctx, string(action), ds); err != nil {
				c.log.Warn("publish indexed events", slog.Any("err", err))
			}
		}
	}
	return report
}

func (c *Coordinator) writeOne(ctx context.Context, d *models.Document) error {
	var err error
	for attempt := range c.cfg.MaxAttempts {
		if err = c.idx.Upsert(ctx, d); err == nil {
			return nil
		}
		if attempt == c.cfg.MaxAttempts-1 {
			break
		}
		backoff := time.Duration(1<<uint(attempt)) * c.cfg.Backoff
		c.log.Warn("document write failed, retrying",
			slog.String("docType", string(d.Type)),
			slog.String("externalId", d.ExternalID),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
			slog.Any("err", err),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (c *Coordinator) written(ctx context.Context, d *models.Document) {
	if c.ledger == nil {
		return
	}
	if err := c.ledger.Written(ctx, d); err != nil {
		c.log.Warn("record written status", slog.String("externalId", d.ExternalID), slog.Any("err", err))
	}
}

func (c *Coordinator) fail(ctx context.Context, d *models.Document, err error) {
	c.log.Error("document write failed",
		slog.String("docType", string(d.Type)),
		slog.String("externalId", d.ExternalID),
		slog.Any("err", err),
	)
	if c.ledger == nil {
		return
	}
	if lerr := c.ledger.Failed(ctx, d, err); lerr != nil {
		c.log.Warn("record failed status", slog.String("externalId", d.ExternalID), slog.Any("err", lerr))
	}
}
