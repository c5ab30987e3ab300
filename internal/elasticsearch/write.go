package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/DeafMist/ecolex-harvester/internal/models"
)

// ErrMissingID is returned for documents written without a document id.
var ErrMissingID = errors.New("document has no id")

// ItemError is the failure of one document inside a bulk request.
type ItemError struct {
	Status int
	Type   string
	Reason string
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("status %d: %s: %s", e.Status, e.Type, e.Reason)
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// BulkUpsert indexes docs in one bulk request. A request-level failure is
// returned as the error; per-document failures are returned keyed by document id.
func (c *Client) BulkUpsert(ctx context.Context, docs []*models.Document) (map[string]error, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, d := range docs {
		if d.ID == "" {
			return nil, fmt.Errorf("bulk %s %s: %w", d.Type, d.ExternalID, ErrMissingID)
		}
		if err := enc.Encode(map[string]any{"index": map[string]any{"_index": c.index, "_id": d.ID}}); err != nil {
			return nil, fmt.Errorf("encode bulk action: %w", err)
		}
		if err := enc.Encode(d); err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", d.Type, d.ExternalID, err)
		}
	}

	res, err := c.es.Bulk(bytes.NewReader(buf.Bytes()),
		c.es.Bulk.WithContext(ctx),
		c.es.Bulk.WithIndex(c.index),
		c.es.Bulk.WithRefresh("false"),
	)
	if err != nil {
		return nil, fmt.Errorf("bulk: %w", err)
	}
	var parsed bulkResponse
	if err := decode(res, "bulk", &parsed); err != nil {
		return nil, err
	}
	if !parsed.Errors {
		return nil, nil
	}

	failed := map[string]error{}
	for _, item := range parsed.Items {
		for _, r := range item {
			if r.Error == nil {
				continue
			}
			failed[r.ID] = &ItemError{Status: r.Status, Type: r.Error.Type, Reason: r.Error.Reason}
		}
	}
	return failed, nil
}

// Upsert writes one document.
func (c *Client) Upsert(ctx context.Context, doc *models.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("index %s %s: %w", doc.Type, doc.ExternalID, ErrMissingID)
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal doc: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      c.index,
		DocumentID: doc.ID,
		Body:       bytes.NewReader(payload),
		Refresh:    "false",
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("index doc: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("index doc failed: %s", strings.TrimSpace(string(body)))
	}

	return nil
}

// DeleteByQuery removes every document matching a query_string query using
// batched delete-by-query. It loops until a batch deletes fewer documents than
// batchSize.
func (c *Client) DeleteByQuery(ctx context.Context, query string, batchSize int) (int64, error) {
	if strings.TrimSpace(query) == "" {
		return 0, errors.New("delete by query: empty query")
	}
	if batchSize <= 0 {
		batchSize = 1000
	}

	payload, err := json.Marshal(map[string]any{"query": queryString(query)})
	if err != nil {
		return 0, fmt.Errorf("marshal delete body: %w", err)
	}

	totalDeleted := int64(0)
	for {
		res, err := c.es.DeleteByQuery(
			[]string{c.index},
			bytes.NewReader(payload),
			c.es.DeleteByQuery.WithContext(ctx),
			c.es.DeleteByQuery.WithWaitForCompletion(true),
			c.es.DeleteByQuery.WithConflicts("proceed"),
			c.es.DeleteByQuery.WithScrollSize(batchSize),
		)
		if err != nil {
			return totalDeleted, fmt.Errorf("delete by query: %w", err)
		}

		var parsed struct {
			Deleted int64 `json:"deleted"`
		}
		if err := decode(res, "delete by query", &parsed); err != nil {
			return totalDeleted, err
		}

		totalDeleted += parsed.Deleted

		if parsed.Deleted < int64(batchSize) {
			break
		}
	}

	return totalDeleted, nil
}

// CommitOptimise refreshes the index and merges it down to one segment.
func (c *Client) CommitOptimise(ctx context.Context) error {
	res, err := c.es.Indices.Refresh(
		c.es.Indices.Refresh.WithContext(ctx),
		c.es.Indices.Refresh.WithIndex(c.index),
	)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	if err := decode(res, "refresh", nil); err != nil {
		return err
	}

	res, err = c.es.Indices.Forcemerge(
		c.es.Indices.Forcemerge.WithContext(ctx),
		c.es.Indices.Forcemerge.WithIndex(c.index),
		c.es.Indices.Forcemerge.WithMaxNumSegments(1),
	)
	if err != nil {
		return fmt.Errorf("forcemerge: %w", err)
	}
	return decode(res, "forcemerge", nil)
}
