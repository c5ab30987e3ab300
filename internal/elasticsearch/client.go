package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/DeafMist/ecolex-harvester/internal/logger"
)

// Client wraps go-elasticsearch with the lookups and writes the pipeline needs.
type Client struct {
	es    *elasticsearch.Client
	index string
	log   *slog.Logger
}

// New instantiates the Elasticsearch client.
func New(addr, index string, log *slog.Logger) (*Client, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{addr},
	}

	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	if log == nil {
		log = logger.Discard()
	}

	return &Client{es: es, index: index, log: log}, nil
}

// Index is the name of the target index.
func (c *Client) Index() string { return c.index }

// Ping checks if Elasticsearch is available.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch ping failed: %s", res.Status())
	}

	return nil
}

// Health checks the cluster health endpoint.
func (c *Client) Health(ctx context.Context) error {
	res, err := c.es.Cluster.Health(c.es.Cluster.Health.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(res.Body)
		return fmt.Errorf("cluster health bad: %s", strings.TrimSpace(string(data)))
	}
	return nil
}

// indexMapping keeps strings exact by default and analyses titles, abstracts
// and extracted text.
var indexMapping = map[string]any{
	"mappings": map[string]any{
		"date_detection": false,
		"dynamic_templates": []map[string]any{
			{"localised_text": map[string]any{
				"match_pattern":      "regex",
				"match":              `^.*(Title|Abstract|Name|Body|Summary).*_(en|fr|es|other)$`,
				"match_mapping_type": "string",
				"mapping": map[string]any{
					"type":   "text",
					"fields": map[string]any{"raw": map[string]any{"type": "keyword", "ignore_above": 1024}},
				},
			}},
			{"strings": map[string]any{
				"match_mapping_type": "string",
				"mapping":            map[string]any{"type": "keyword", "ignore_above": 4096},
			}},
		},
		"properties": map[string]any{
			"id":          map[string]any{"type": "keyword"},
			"type":        map[string]any{"type": "keyword"},
			"slug":        map[string]any{"type": "keyword"},
			"indexStatus": map[string]any{"type": "keyword"},
			"indexedAt":   map[string]any{"type": "date"},
			"trText":      map[string]any{"type": "text"},
			"decText":     map[string]any{"type": "text"},
			"legText":     map[string]any{"type": "text"},
			"cdText":      map[string]any{"type": "text"},
			"litText":     map[string]any{"type": "text"},
		},
	},
}

// EnsureIndex creates the index with its mapping when it does not exist.
func (c *Client) EnsureIndex(ctx context.Context) error {
	res, err := c.es.Indices.Exists([]string{c.index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index: %w", err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("check index failed: %s", res.Status())
	}

	payload, err := json.Marshal(indexMapping)
	if err != nil {
		return fmt.Errorf("marshal mapping: %w", err)
	}
	res, err = c.es.Indices.Create(c.index,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	if err := decode(res, "create index", nil); err != nil {
		return err
	}
	c.log.Info("index created", slog.String("index", c.index))
	return nil
}

// decode closes res and, on success, decodes its body into out.
func decode(res *esapi.Response, op string, out any) error {
	defer res.Body.Close()
	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return fmt.Errorf("%s failed: %s", op, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}
