package models

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// DocType tags the record variant.
type DocType string

const (
	Treaty        DocType = "treaty"
	Decision      DocType = "decision"
	Legislation   DocType = "legislation"
	CourtDecision DocType = "court_decision"
	Literature    DocType = "literature"
)

// AllTypes lists every record type in harvest order.
var AllTypes = []DocType{Treaty, Decision, Legislation, CourtDecision, Literature}

// ParseDocType validates a type name coming from the CLI or config.
func ParseDocType(raw string) (DocType, error) {
	t := DocType(strings.TrimSpace(strings.ToLower(raw)))
	if slices.Contains(AllTypes, t) {
		return t, nil
	}
	return "", fmt.Errorf("unknown document type %q", raw)
}

// Status is the indexing state shared by documents and cache rows.
type Status string

const (
	StatusPending      Status = "pending"
	StatusIndexed      Status = "indexed"
	StatusFullyIndexed Status = "fullyIndexed"
	StatusFailed       Status = "failed"
)

// Triple is a value localised into the three portal languages.
type Triple struct {
	EN string `json:"en" yaml:"en"`
	FR string `json:"fr" yaml:"fr"`
	ES string `json:"es" yaml:"es"`
}

// Header carries the fields every document variant has.
type Header struct {
	ID         string
	Type       DocType
	ExternalID string
	Slug       string
	UpdatedAt  time.Time
	IndexedAt  time.Time
	Status     Status
}

// Party is one row of a treaty participant table. Events maps the party event
// field (for example partyDateOfRatification) to a normalised date; absent
// events have no key.
type Party struct {
	Country Triple
	Events  map[string]string
}

// Document is the normalised record written to the index.
//
// Fields holds the per-type payload. Values are string, []string, int64 or bool.
// Refs maps a relation name from the type schema to remote external ids.
type Document struct {
	Header
	Fields   map[string]any
	Refs     map[string][]string
	Parties  []Party
	FullText string
}

// New returns an empty document of the given type.
func New(t DocType, externalID string) *Document {
	return &Document{
		Header: Header{Type: t, ExternalID: externalID, Status: StatusPending},
		Fields: map[string]any{},
		Refs:   map[string][]string{},
	}
}

// Schema returns the type schema of the document.
func (d *Document) Schema() Schema {
	return SchemaFor(d.Type)
}

// Set stores a field, ignoring empty strings and empty lists so that missing
// translations stay absent.
func (d *Document) Set(field string, value any) {
	switch v := value.(type) {
	case string:
		if v == "" {
			return
		}
	case []string:
		if len(v) == 0 {
			return
		}
	case nil:
		return
	}
	if d.Fields == nil {
		d.Fields = map[string]any{}
	}
	d.Fields[field] = value
}

// String returns a string field or "".
func (d *Document) String(field string) string {
	if v, ok := d.Fields[field].(string); ok {
		return v
	}
	return ""
}

// Strings returns a list field. A single string is returned as a one-item list.
func (d *Document) Strings(field string) []string {
	switch v := d.Fields[field].(type) {
	case []string:
		return v
	case string:
		if v != "" {
			return []string{v}
		}
	}
	return nil
}

// AddRef appends remote ids to a relation list.
func (d *Document) AddRef(relation string, ids ...string) {
	if d.Refs == nil {
		d.Refs = map[string][]string{}
	}
	list, ok := d.Refs[relation]
	if !ok {
		list = []string{}
	}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" {
			list = append(list, id)
		}
	}
	d.Refs[relation] = list
}

// Key returns the value of a lookup key field; "" means the external id.
func (d *Document) Key(field string) string {
	if field == "" || field == d.Schema().IDField {
		return d.ExternalID
	}
	return d.String(field)
}

// FileURLs lists the attached file links declared by the schema, in order.
func (d *Document) FileURLs() []string {
	var out []string
	seen := map[string]struct{}{}
	for _, f := range d.Schema().FileFields {
		for _, u := range d.Strings(f) {
			if _, ok := seen[u]; ok {
				continue
			}
			seen[u] = struct{}{}
			out = append(out, u)
		}
	}
	return out
}

// Title picks the first available title along the schema fallback chain.
func (d *Document) Title() string {
	for _, f := range d.Schema().TitleFields {
		if s := strings.TrimSpace(d.String(f)); s != "" {
			return s
		}
		if list := d.Strings(f); len(list) > 0 {
			return list[0]
		}
	}
	return ""
}

// copyFieldPrefixes are computed by the index from other fields and must not be written.
var copyFieldPrefixes = []string{
	"docDate", "docId", "docSubject_", "docKeyword_", "docCountry_",
	"docRegion_", "docLanguage_",
}

var copyFieldNames = map[string]struct{}{"docDate": {}, "docId": {}, "litAuthor": {}}

// IsCopyField reports whether the field is derived by the index.
func IsCopyField(name string) bool {
	if _, ok := copyFieldNames[name]; ok {
		return true
	}
	for _, p := range copyFieldPrefixes {
		if strings.HasSuffix(p, "_") && strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// StripCopyFields removes index-derived fields in place.
func StripCopyFields(d *Document) {
	for k := range d.Fields {
		if IsCopyField(k) {
			delete(d.Fields, k)
		}
	}
}
