package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/DeafMist/ecolex-harvester/internal/models"
)

// Ledger tracks per-record harvest progress in the record rows (url = '') of
// document_text, keeping the normalised document for reindex-failed sweeps.
type Ledger struct {
	store *Store
}

// Ledger returns the progress ledger backed by this store.
func (s *Store) Ledger() *Ledger {
	return &Ledger{store: s}
}

// Pending stores the normalised document before it is written to the index.
func (l *Ledger) Pending(ctx context.Context, doc *models.Document) error {
	return l.save(ctx, doc, models.StatusPending, true)
}

// Written marks the record as stored in the index with the document status.
func (l *Ledger) Written(ctx context.Context, doc *models.Document) error {
	status := doc.Status
	if status != models.StatusIndexed && status != models.StatusFullyIndexed {
		status = models.StatusIndexed
	}
	return l.save(ctx, doc, status, false)
}

// Failed keeps the normalised document and marks the record failed.
func (l *Ledger) Failed(ctx context.Context, doc *models.Document, _ error) error {
	return l.save(ctx, doc, models.StatusFailed, true)
}

// Failures returns the records waiting for a reindex sweep.
func (l *Ledger) Failures(ctx context.Context, docType models.DocType) ([]Entry, error) {
	return l.store.ListRecords(ctx, docType, models.StatusPending, models.StatusFailed)
}

func (l *Ledger) save(ctx context.Context, doc *models.Document, status models.Status, withJSON bool) error {
	e := &Entry{
		DocID:   doc.ExternalID,
		DocType: doc.Type,
		Size:    -1,
		Status:  status,
	}
	if withJSON {
		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal %s %s: %w", doc.Type, doc.ExternalID, err)
		}
		e.ParsedJSON = data
	}
	return l.store.Save(ctx, e)
}

