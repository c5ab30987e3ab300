package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Attribute names shared by every type in the serialised form.
const (
	FieldID          = "id"
	FieldType        = "type"
	FieldSlug        = "slug"
	FieldIndexedAt   = "indexedAt"
	FieldIndexStatus = "indexStatus"
)

const (
	timestampLayout = "2006-01-02T15:04:05Z"
	partySentinel   = "0002-11-30T00:00:00Z"
)

var partyCountryFields = [3]string{"partyCountry_en", "partyCountry_fr", "partyCountry_es"}

// MarshalJSON writes the flat attribute map stored in the index.
func (d Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Flatten())
}

// Flatten returns the serialised attribute map.
func (d *Document) Flatten() map[string]any {
	s := d.Schema()
	out := make(map[string]any, len(d.Fields)+8)
	for k, v := range d.Fields {
		out[k] = v
	}

	if d.ID != "" {
		out[FieldID] = d.ID
	}
	out[FieldType] = string(d.Type)
	if d.Slug != "" {
		out[FieldSlug] = d.Slug
	}
	if !d.IndexedAt.IsZero() {
		out[FieldIndexedAt] = d.IndexedAt.UTC().Format(time.RFC3339Nano)
	}
	if d.Status != "" {
		out[FieldIndexStatus] = string(d.Status)
	}
	if s.IDField != "" {
		out[s.IDField] = d.ExternalID
	}
	if s.UpdatedField != "" && !d.UpdatedAt.IsZero() {
		out[s.UpdatedField] = d.UpdatedAt.UTC().Format(timestampLayout)
	}
	if s.TextField != "" && d.FullText != "" {
		out[s.TextField] = d.FullText
	}

	for name, ids := range d.Refs {
		r, ok := s.Relation(name)
		if !ok {
			continue
		}
		list := make([]string, len(ids))
		copy(list, ids)
		out[r.Field] = list
	}

	if s.HasParties && len(d.Parties) > 0 {
		flattenParties(out, d.Parties)
	}
	return out
}

// flattenParties writes parallel party columns. Columns where every party lacks
// the event are left out; other gaps carry the sentinel date.
func flattenParties(out map[string]any, parties []Party) {
	en := make([]string, len(parties))
	fr := make([]string, len(parties))
	es := make([]string, len(parties))
	for i, p := range parties {
		en[i], fr[i], es[i] = p.Country.EN, p.Country.FR, p.Country.ES
	}
	out[partyCountryFields[0]] = en
	out[partyCountryFields[1]] = fr
	out[partyCountryFields[2]] = es

	for _, event := range PartyEvents {
		column := make([]string, len(parties))
		present := false
		for i, p := range parties {
			if v, ok := p.Events[event]; ok && v != "" {
				column[i] = v
				present = true
			} else {
				column[i] = partySentinel
			}
		}
		if present {
			out[event] = column
		}
	}
}

// UnmarshalJSON reads the flat attribute map back into a document.
func (d *Document) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	doc, err := FromMap(raw)
	if err != nil {
		return err
	}
	*d = *doc
	return nil
}

// FromMap builds a document from a decoded attribute map.
func FromMap(raw map[string]any) (*Document, error) {
	typeName, _ := raw[FieldType].(string)
	t, err := ParseDocType(typeName)
	if err != nil {
		return nil, err
	}
	s := SchemaFor(t)
	d := New(t, "")
	d.Status = ""

	var partyCols map[string][]string
	for key, value := range raw {
		switch key {
		case FieldType:
			continue
		case FieldID:
			d.ID = asString(value)
			continue
		case FieldSlug:
			d.Slug = asString(value)
			continue
		case FieldIndexedAt:
			ts, err := time.Parse(time.RFC3339Nano, asString(value))
			if err != nil {
				return nil, fmt.Errorf("decode %s: %w", key, err)
			}
			d.IndexedAt = ts.UTC()
			continue
		case FieldIndexStatus:
			d.Status = Status(asString(value))
			continue
		case s.IDField:
			d.ExternalID = asString(value)
			continue
		case s.UpdatedField:
			ts, err := time.Parse(timestampLayout, asString(value))
			if err != nil {
				return nil, fmt.Errorf("decode %s: %w", key, err)
			}
			d.UpdatedAt = ts.UTC()
			continue
		case s.TextField:
			d.FullText = asString(value)
			continue
		}

		if r, ok := s.RelationByField(key); ok {
			d.Refs[r.Name] = asStrings(value)
			continue
		}
		if s.HasParties && isPartyColumn(key) {
			if partyCols == nil {
				partyCols = map[string][]string{}
			}
			partyCols[key] = asStrings(value)
			continue
		}

		v, err := normaliseValue(value)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		d.Fields[key] = v
	}

	if partyCols != nil {
		d.Parties = unflattenParties(partyCols)
	}
	return d, nil
}

func isPartyColumn(key string) bool {
	for _, f := range partyCountryFields {
		if key == f {
			return true
		}
	}
	for _, e := range PartyEvents {
		if key == e {
			return true
		}
	}
	return false
}

func unflattenParties(cols map[string][]string) []Party {
	n := len(cols[partyCountryFields[0]])
	parties := make([]Party, n)
	for i := range parties {
		parties[i].Country = Triple{
			EN: at(cols[partyCountryFields[0]], i),
			FR: at(cols[partyCountryFields[1]], i),
			ES: at(cols[partyCountryFields[2]], i),
		}
	}

	events := make([]string, 0, len(cols))
	for k := range cols {
		if strings.HasPrefix(k, "partyCountry_") {
			continue
		}
		events = append(events, k)
	}
	sort.Strings(events)
	for _, event := range events {
		for i, v := range cols[event] {
			if i >= n || v == "" || v == partySentinel {
				continue
			}
			if parties[i].Events == nil {
				parties[i].Events = map[string]string{}
			}
			parties[i].Events[event] = v
		}
	}
	return parties
}

func at(list []string, i int) string {
	if i < len(list) {
		return list[i]
	}
	return ""
}

func asString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}

func asStrings(v any) []string {
	switch x := v.(type) {
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			out = append(out, asString(item))
		}
		return out
	case []string:
		return x
	case nil:
		return []string{}
	default:
		return []string{asString(x)}
	}
}

func normaliseValue(v any) (any, error) {
	switch x := v.(type) {
	case string, bool:
		return x, nil
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return nil, fmt.Errorf("non-integer number %q", x.String())
		}
		return n, nil
	case float64:
		return int64(x), nil
	case []any:
		return asStrings(x), nil
	case []string:
		return x, nil
	default:
		return nil, fmt.Errorf("unsupported value %T", v)
	}
}
