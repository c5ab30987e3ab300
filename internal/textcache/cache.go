// Package textcache keeps the text extracted from attached files, keyed by
// document and file URL, and skips re-extraction while the file size is unchanged.
package textcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/DeafMist/ecolex-harvester/internal/logger"
	"github.com/DeafMist/ecolex-harvester/internal/models"
	"github.com/DeafMist/ecolex-harvester/internal/store"
)

// Rows is the cache store.
type Rows interface {
	Get(ctx context.Context, docType models.DocType, docID, url string) (*store.Entry, error)
	Insert(ctx context.Context, e *store.Entry) error
	Save(ctx context.Context, e *store.Entry) error
	SetStatus(ctx context.Context, docType models.DocType, docID, url string, status models.Status) error
}

// Downloader fetches file bodies and their upstream size.
type Downloader interface {
	Size(ctx context.Context, url string) (int64, error)
	Download(ctx context.Context, url string) ([]byte, error)
}

// Extractor turns a file body into plain text.
type Extractor interface {
	Extract(ctx context.Context, name string, body []byte) (string, error)
}

// Cache implements getOrExtract over the document_text rows.
type Cache struct {
	rows Rows
	dl   Downloader
	ex   Extractor
	log  *slog.Logger
}

// New wires a cache.
func New(rows Rows, dl Downloader, ex Extractor, log *slog.Logger) *Cache {
	if log == nil {
		log = logger.Discard()
	}
	return &Cache{rows: rows, dl: dl, ex: ex, log: log}
}

// GetOrExtract returns the extracted text of url attached to docID.
//
// An entry that is fullyIndexed with the same upstream size is reused without
// download. A download failure marks the entry failed and returns the error.
// An extraction failure records the entry as indexed with empty text. When the
// entry cannot be persisted the text is still returned.
func (c *Cache) GetOrExtract(ctx context.Context, docType models.DocType, docID, url string) (string, error) {
	log := c.log.With(slog.String("docType", string(docType)), slog.String("externalId", docID), slog.String("url", url))

	entry, persisted := c.load(ctx, log, docType, docID, url)

	size, err := c.dl.Size(ctx, url)
	if err != nil {
		log.Debug("size lookup failed, downloading", slog.Any("err", err))
		size = -1
	}
	if size >= 0 && entry.Status == models.StatusFullyIndexed && entry.Size == size {
		return entry.Text, nil
	}
	if size >= 0 && entry.Size >= 0 && entry.Size != size && entry.Status != models.StatusPending {
		entry.Status = models.StatusPending
		entry.Text = ""
		persisted = c.save(ctx, log, entry) && persisted
	}

	body, err := c.dl.Download(ctx, url)
	if err != nil {
		entry.Status = models.StatusFailed
		c.save(ctx, log, entry)
		return "", fmt.Errorf("download %s: %w", url, err)
	}
	if size < 0 {
		size = int64(len(body))
		if entry.Status == models.StatusFullyIndexed && entry.Size == size {
			return entry.Text, nil
		}
	}
	entry.Size = size

	text, err := c.ex.Extract(ctx, url, body)
	if err != nil {
		log.Warn("text extraction failed", slog.Any("err", err))
		entry.Status = models.StatusIndexed
		entry.Text = ""
		c.save(ctx, log, entry)
		return "", nil
	}

	entry.Status = models.StatusFullyIndexed
	entry.Text = text
	if !c.save(ctx, log, entry) || !persisted {
		if err := c.rows.SetStatus(ctx, docType, docID, url, models.StatusFailed); err != nil {
			log.Warn("could not mark cache entry failed", slog.Any("err", err))
		}
	}
	return text, nil
}

// load returns the stored entry or a fresh pending one. persisted is false when
// the store could not be read or written.
func (c *Cache) load(ctx context.Context, log *slog.Logger, docType models.DocType, docID, url string) (*store.Entry, bool) {
	entry, err := c.rows.Get(ctx, docType, docID, url)
	if err == nil {
		return entry, true
	}
	if !errors.Is(err, store.ErrNotFound) {
		log.Warn("cache read failed", slog.Any("err", err))
		return newEntry(docType, docID, url), false
	}

	entry = newEntry(docType, docID, url)
	err = c.rows.Insert(ctx, entry)
	switch {
	case err == nil:
		return entry, true
	case errors.Is(err, store.ErrConflict):
		existing, gerr := c.rows.Get(ctx, docType, docID, url)
		if gerr == nil {
			return existing, true
		}
		log.Warn("cache reload after conflict failed", slog.Any("err", gerr))
		return entry, false
	default:
		log.Warn("cache insert failed", slog.Any("err", err))
		return entry, false
	}
}

func (c *Cache) save(ctx context.Context, log *slog.Logger, e *store.Entry) bool {
	if err := c.rows.Save(ctx, e); err != nil {
		log.Warn("cache write failed", slog.Any("err", err))
		return false
	}
	return true
}

func newEntry(docType models.DocType, docID, url string) *store.Entry {
	return &store.Entry{
		DocID:   docID,
		DocType: docType,
		URL:     url,
		Size:    -1,
		Status:  models.StatusPending,
	}
}
