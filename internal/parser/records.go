package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/DeafMist/ecolex-harvester/internal/logger"
	"github.com/DeafMist/ecolex-harvester/internal/models"
)

// recordElements names the XML element holding one record, per type.
var recordElements = map[models.DocType]string{
	models.Treaty:      "document",
	models.Literature:  "document",
	models.Legislation: "record",
}

// Split cuts a source page into records.
func Split(t models.DocType, body []byte) ([]Record, error) {
	if elem, ok := recordElements[t]; ok {
		nodes, err := SplitXML(body, elem)
		if err != nil {
			return nil, err
		}
		out := make([]Record, 0, len(nodes))
		for _, n := range nodes {
			out = append(out, Record{Node: n})
		}
		return out, nil
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	if body[0] != '[' {
		return []Record{{JSON: body}}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("split %s page: %w", t, err)
	}
	out := make([]Record, 0, len(items))
	for _, item := range items {
		out = append(out, Record{JSON: item})
	}
	return out, nil
}

// Count returns the number of records in an XML page of type t.
func Count(t models.DocType, body []byte) int {
	elem, ok := recordElements[t]
	if !ok {
		return 0
	}
	re := regexp.MustCompile(`(?i)<` + elem + `[\s/>]`)
	return len(re.FindAllIndex(body, -1))
}

// TextSource resolves the extracted text of one attached file.
type TextSource interface {
	GetOrExtract(ctx context.Context, docType models.DocType, docID, url string) (string, error)
}

// AttachText extracts every attached file into FullText. The document is
// fullyIndexed when every file yielded text and indexed otherwise.
func AttachText(ctx context.Context, d *models.Document, texts TextSource, log *slog.Logger) {
	if log == nil {
		log = logger.Discard()
	}
	status := models.StatusFullyIndexed
	var parts []string
	for _, u := range d.FileURLs() {
		text, err := texts.GetOrExtract(ctx, d.Type, d.ExternalID, u)
		if err != nil {
			log.Warn("file text unavailable",
				slog.String("docType", string(d.Type)),
				slog.String("externalId", d.ExternalID),
				slog.String("url", u),
				slog.Any("err", err),
			)
			status = models.StatusIndexed
			continue
		}
		if strings.TrimSpace(text) == "" {
			status = models.StatusIndexed
			continue
		}
		parts = append(parts, text)
	}
	d.FullText = strings.Join(parts, "\n")
	d.Status = status
}

// Registry holds one parser per document type.
type Registry map[models.DocType]Parser

// NewRegistry indexes parsers by their type.
func NewRegistry(parsers ...Parser) Registry {
	r := Registry{}
	for _, p := range parsers {
		r[p.Type()] = p
	}
	return r
}

// For returns the parser of t.
func (r Registry) For(t models.DocType) (Parser, error) {
	p, ok := r[t]
	if !ok {
		return nil, fmt.Errorf("no parser for %s", t)
	}
	return p, nil
}
