// Package parser maps raw source records onto normalised documents.
package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/DeafMist/ecolex-harvester/internal/logger"
	"github.com/DeafMist/ecolex-harvester/internal/models"
	"github.com/DeafMist/ecolex-harvester/internal/processing"
	"github.com/DeafMist/ecolex-harvester/internal/vocab"
)

// ErrIgnored marks a record the source type deliberately excludes.
var ErrIgnored = errors.New("record ignored")

// ParseError reports a record that could not be mapped. It skips the record,
// not the batch.
type ParseError struct {
	DocType    models.DocType
	ExternalID string
	Err        error
}

func (e *ParseError) Error() string {
	if e.ExternalID == "" {
		return fmt.Sprintf("parse %s: %v", e.DocType, e.Err)
	}
	return fmt.Sprintf("parse %s %s: %v", e.DocType, e.ExternalID, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func parseErr(t models.DocType, id string, format string, args ...any) error {
	return &ParseError{DocType: t, ExternalID: id, Err: fmt.Errorf(format, args...)}
}

// Record is one raw source record. XML sources set Node, JSON sources set JSON.
type Record struct {
	Node *Node
	JSON []byte
}

// Parser maps records of one document type.
type Parser interface {
	Type() models.DocType
	Parse(ctx context.Context, rec Record) (*models.Document, error)
}

// base carries what every parser shares.
type base struct {
	engine
}

func newBase(v *vocab.Vocabulary, log *slog.Logger) base {
	if log == nil {
		log = logger.Discard()
	}
	return base{engine: engine{vocab: v, log: log}}
}

// finish sets the slug from the title chain and the external id.
func finish(d *models.Document) {
	d.Slug = processing.Slugify(d.Title(), d.ExternalID)
}

// timestamp parses an update marker; an empty value is a zero time.
func timestamp(t models.DocType, id, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	ts, err := processing.ParseTimestamp(raw)
	if err != nil {
		return time.Time{}, parseErr(t, id, "update marker %q: %w", raw, err)
	}
	return ts, nil
}
