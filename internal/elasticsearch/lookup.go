package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DeafMist/ecolex-harvester/internal/models"
	"github.com/DeafMist/ecolex-harvester/internal/processing"
)

// lookupChunk bounds the values sent in one terms query.
const lookupChunk = 500

// Existing is what the upsert decision needs from an indexed document.
type Existing struct {
	ID        string
	UpdatedAt time.Time
	IndexedAt time.Time
	// Derived holds the indexed inverse references, keyed by relation name.
	Derived map[string][]string
}

type hit struct {
	ID     string          `json:"_id"`
	Source json.RawMessage `json:"_source"`
}

type searchResponse struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []hit `json:"hits"`
	} `json:"hits"`
}

func (c *Client) search(ctx context.Context, body map[string]any) (*searchResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}
	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	var parsed searchResponse
	if err := decode(res, "search", &parsed); err != nil {
		return nil, err
	}
	return &parsed, nil
}

// FindExisting returns the indexed copies of the given external ids, keyed by
// external id.
func (c *Client) FindExisting(ctx context.Context, t models.DocType, externalIDs []string) (map[string]Existing, error) {
	schema := models.SchemaFor(t)
	fields := []string{"id", "indexedAt", schema.IDField, schema.UpdatedField}
	var derived []models.Relation
	for _, r := range schema.Relations {
		if r.Derived {
			derived = append(derived, r)
			fields = append(fields, r.Field)
		}
	}
	out := make(map[string]Existing, len(externalIDs))
	for start := 0; start < len(externalIDs); start += lookupChunk {
		chunk := externalIDs[start:min(start+lookupChunk, len(externalIDs))]
		parsed, err := c.search(ctx, map[string]any{
			"size":    len(chunk),
			"_source": fields,
			"query":   termsQuery(t, schema.IDField, chunk),
		})
		if err != nil {
			return nil, err
		}
		for _, h := range parsed.Hits.Hits {
			var src map[string]any
			if err := json.Unmarshal(h.Source, &src); err != nil {
				return nil, fmt.Errorf("decode hit %s: %w", h.ID, err)
			}
			extID, _ := src[schema.IDField].(string)
			if extID == "" {
				continue
			}
			e := Existing{ID: h.ID}
			if id, ok := src["id"].(string); ok && id != "" {
				e.ID = id
			}
			if raw, ok := src[schema.UpdatedField].(string); ok {
				e.UpdatedAt, _ = processing.ParseTimestamp(raw)
			}
			if raw, ok := src["indexedAt"].(string); ok {
				e.IndexedAt, _ = time.Parse(time.RFC3339Nano, raw)
			}
			for _, r := range derived {
				if ids := stringList(src[r.Field]); len(ids) > 0 {
					if e.Derived == nil {
						e.Derived = map[string][]string{}
					}
					e.Derived[r.Name] = ids
				}
			}
			out[extID] = e
		}
	}
	return out, nil
}

// FindByExternalID returns the indexed document, or nil when it is absent.
func (c *Client) FindByExternalID(ctx context.Context, t models.DocType, externalID string) (*models.Document, error) {
	schema := models.SchemaFor(t)
	parsed, err := c.search(ctx, map[string]any{
		"size":  1,
		"query": termsQuery(t, schema.IDField, []string{externalID}),
	})
	if err != nil {
		return nil, err
	}
	if len(parsed.Hits.Hits) == 0 {
		return nil, nil
	}
	return decodeHit(parsed.Hits.Hits[0])
}

// ExistingKeys reports which values of field are present on documents of type t.
// An empty field means the external id.
func (c *Client) ExistingKeys(ctx context.Context, t models.DocType, field string, values []string) (map[string]bool, error) {
	if field == "" {
		field = models.SchemaFor(t).IDField
	}
	out := make(map[string]bool, len(values))
	for start := 0; start < len(values); start += lookupChunk {
		chunk := values[start:min(start+lookupChunk, len(values))]
		parsed, err := c.search(ctx, map[string]any{
			"size":    len(chunk),
			"_source": []string{field},
			"query":   termsQuery(t, field, chunk),
		})
		if err != nil {
			return nil, err
		}
		for _, h := range parsed.Hits.Hits {
			var src map[string]any
			if err := json.Unmarshal(h.Source, &src); err != nil {
				return nil, fmt.Errorf("decode hit %s: %w", h.ID, err)
			}
			for _, v := range stringList(src[field]) {
				out[v] = true
			}
		}
	}
	return out, nil
}

// stringList reads a keyword field that holds one string or a list.
func stringList(v any) []string {
	switch x := v.(type) {
	case string:
		return []string{x}
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Scan walks every document matching a query_string query with the scroll API.
func (c *Client) Scan(ctx context.Context, query string, batch int, fn func(*models.Document) error) error {
	if batch <= 0 {
		batch = 500
	}
	const keepAlive = time.Minute
	payload, err := json.Marshal(map[string]any{"query": queryString(query)})
	if err != nil {
		return fmt.Errorf("marshal scan body: %w", err)
	}
	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(bytes.NewReader(payload)),
		c.es.Search.WithScroll(keepAlive),
		c.es.Search.WithSize(batch),
	)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	var page searchResponse
	if err := decode(res, "scan", &page); err != nil {
		return err
	}

	defer func() {
		if page.ScrollID == "" {
			return
		}
		res, err := c.es.ClearScroll(c.es.ClearScroll.WithScrollID(page.ScrollID))
		if err == nil {
			res.Body.Close()
		}
	}()

	for len(page.Hits.Hits) > 0 {
		for _, h := range page.Hits.Hits {
			d, err := decodeHit(h)
			if err != nil {
				return err
			}
			if err := fn(d); err != nil {
				return err
			}
		}
		res, err := c.es.Scroll(
			c.es.Scroll.WithContext(ctx),
			c.es.Scroll.WithScrollID(page.ScrollID),
			c.es.Scroll.WithScroll(keepAlive),
		)
		if err != nil {
			return fmt.Errorf("scroll: %w", err)
		}
		page = searchResponse{ScrollID: page.ScrollID}
		if err := decode(res, "scroll", &page); err != nil {
			return err
		}
	}
	return nil
}

func decodeHit(h hit) (*models.Document, error) {
	var d models.Document
	if err := json.Unmarshal(h.Source, &d); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", h.ID, err)
	}
	if d.ID == "" {
		d.ID = h.ID
	}
	return &d, nil
}
