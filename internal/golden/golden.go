// Package golden checks the parsers against packaged sample records. Every
// expected record lists a subset of the serialised attributes it must carry.
package golden

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"sort"

	"github.com/DeafMist/ecolex-harvester/internal/models"
	"github.com/DeafMist/ecolex-harvester/internal/parser"
)

//go:embed data
var fixtures embed.FS

// Mismatch is one attribute that differs from the expectation.
type Mismatch struct {
	ExternalID string
	Field      string
	Want       any
	Got        any
}

func (m Mismatch) String() string {
	if m.Field == "" {
		return fmt.Sprintf("%s: record not parsed", m.ExternalID)
	}
	return fmt.Sprintf("%s %s: want %v, got %v", m.ExternalID, m.Field, m.Want, m.Got)
}

// Result is the outcome of checking one type.
type Result struct {
	Type       models.DocType
	Records    int
	Ignored    int
	Mismatches []Mismatch
}

// OK reports whether every expectation held.
func (r Result) OK() bool { return len(r.Mismatches) == 0 }

var inputs = map[models.DocType]string{
	models.Treaty:        "data/treaty.xml",
	models.Literature:    "data/literature.xml",
	models.Legislation:   "data/legislation.xml",
	models.Decision:      "data/decision.json",
	models.CourtDecision: "data/court_decision.json",
}

// Check parses the fixture of t with reg and compares it with its expectation.
func Check(ctx context.Context, reg parser.Registry, t models.DocType) (Result, error) {
	res := Result{Type: t}
	p, err := reg.For(t)
	if err != nil {
		return res, err
	}
	input, ok := inputs[t]
	if !ok {
		return res, fmt.Errorf("no fixture for %s", t)
	}
	body, err := fs.ReadFile(fixtures, input)
	if err != nil {
		return res, fmt.Errorf("read fixture: %w", err)
	}
	want, err := expected(t)
	if err != nil {
		return res, err
	}

	recs, err := parser.Split(t, body)
	if err != nil {
		return res, err
	}
	got := map[string]map[string]any{}
	for _, rec := range recs {
		d, err := p.Parse(ctx, rec)
		if errors.Is(err, parser.ErrIgnored) {
			res.Ignored++
			continue
		}
		if err != nil {
			return res, fmt.Errorf("parse fixture: %w", err)
		}
		res.Records++
		flat, err := normalise(d.Flatten())
		if err != nil {
			return res, err
		}
		got[d.ExternalID] = flat
	}

	idField := models.SchemaFor(t).IDField
	for _, w := range want {
		id, _ := w[idField].(string)
		actual, ok := got[id]
		if !ok {
			res.Mismatches = append(res.Mismatches, Mismatch{ExternalID: id})
			continue
		}
		res.Mismatches = append(res.Mismatches, compare(id, w, actual)...)
	}
	return res, nil
}

func expected(t models.DocType) ([]map[string]any, error) {
	raw, err := fs.ReadFile(fixtures, "data/"+string(t)+".expected.json")
	if err != nil {
		return nil, fmt.Errorf("read expectation: %w", err)
	}
	var out []map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode expectation: %w", err)
	}
	return out, nil
}

// normalise passes the attributes through JSON so they compare with decoded
// expectations.
func normalise(flat map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(flat)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func compare(id string, want, got map[string]any) []Mismatch {
	keys := make([]string, 0, len(want))
	for k := range want {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []Mismatch
	for _, k := range keys {
		if !reflect.DeepEqual(want[k], got[k]) {
			out = append(out, Mismatch{ExternalID: id, Field: k, Want: want[k], Got: got[k]})
		}
	}
	return out
}
