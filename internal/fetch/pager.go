package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/url"

	"github.com/DeafMist/ecolex-harvester/internal/logger"
)

// PageFetcher is the part of Client the pager needs.
type PageFetcher interface {
	FetchPage(ctx context.Context, rawURL string, params url.Values) (*Page, error)
}

// Mode selects how the paging offset advances.
type Mode int

const (
	// ByNumber advances the offset by one page.
	ByNumber Mode = iota
	// BySkip advances the offset by the number of records the page held.
	BySkip
)

// Predicate reports whether a page marks the end of the result set.
type Predicate func(p *Page) bool

// PagerConfig describes one paging protocol.
type PagerConfig struct {
	URL      string
	PageSize int
	Start    int
	Mode     Mode
	// Params builds the query for an offset (page number or skip count).
	Params func(offset, size int) url.Values
	Done   Predicate
	// Count returns the records held by a page, used by BySkip.
	Count func(p *Page) int
	// MaxSkippedPages bounds consecutive pages dropped after transient failures.
	MaxSkippedPages int
}

// Pager lazily walks a paged source. It knows nothing about record contents.
type Pager struct {
	f        PageFetcher
	cfg      PagerConfig
	offset   int
	skipped  int
	finished bool
	log      *slog.Logger
}

// NewPager returns a pager positioned at cfg.Start.
func NewPager(f PageFetcher, cfg PagerConfig, log *slog.Logger) *Pager {
	if cfg.MaxSkippedPages <= 0 {
		cfg.MaxSkippedPages = 3
	}
	if cfg.Done == nil {
		cfg.Done = EmptyBody
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Pager{f: f, cfg: cfg, offset: cfg.Start, log: log}
}

// Offset is the offset the next call to Next will fetch. It is the resumable cursor.
func (p *Pager) Offset() int { return p.offset }

// Next fetches the next page and returns it with its offset. It returns io.EOF
// once the termination predicate matches.
func (p *Pager) Next(ctx context.Context) (*Page, int, error) {
	for {
		if p.finished {
			return nil, p.offset, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return nil, p.offset, err
		}

		var params url.Values
		if p.cfg.Params != nil {
			params = p.cfg.Params(p.offset, p.cfg.PageSize)
		}
		page, err := p.f.FetchPage(ctx, p.cfg.URL, params)
		if err != nil {
			if !IsTransient(err) || p.skipped >= p.cfg.MaxSkippedPages {
				return nil, p.offset, err
			}
			p.skipped++
			p.log.Warn("skipping page after transient failure",
				slog.String("url", p.cfg.URL),
				slog.Int("offset", p.offset),
				slog.Any("err", err),
			)
			p.advance(nil)
			continue
		}
		p.skipped = 0

		if p.cfg.Done(page) {
			p.finished = true
			return nil, p.offset, io.EOF
		}
		at := p.offset
		p.advance(page)
		return page, at, nil
	}
}

func (p *Pager) advance(page *Page) {
	switch p.cfg.Mode {
	case BySkip:
		n := 0
		if page != nil && p.cfg.Count != nil {
			n = p.cfg.Count(page)
		}
		if n <= 0 {
			n = p.cfg.PageSize
		}
		p.offset += n
	default:
		p.offset++
	}
}

// EmptyBody matches a page with no content.
func EmptyBody(p *Page) bool {
	return len(bytes.TrimSpace(p.Body)) == 0
}

// ContainsTag matches a page whose body holds the XML element <tag.
func ContainsTag(tag string) Predicate {
	needle := []byte("<" + tag)
	return func(p *Page) bool {
		return bytes.Contains(p.Body, needle)
	}
}

// EmptyJSON matches an empty array, empty object or null body.
func EmptyJSON(p *Page) bool {
	b := bytes.TrimSpace(p.Body)
	if len(b) == 0 {
		return true
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return false
	}
	switch x := v.(type) {
	case nil:
		return true
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	}
	return false
}

// Any matches when one of preds matches.
func Any(preds ...Predicate) Predicate {
	return func(p *Page) bool {
		for _, pred := range preds {
			if pred(p) {
				return true
			}
		}
		return false
	}
}
