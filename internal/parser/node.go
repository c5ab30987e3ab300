package parser

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// Values holds raw source values: normalised field key -> language tag -> values.
// The empty language tag is used for language-agnostic values.
type Values map[string]map[string][]string

func (v Values) add(key, lang, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	if v[key] == nil {
		v[key] = map[string][]string{}
	}
	v[key][lang] = append(v[key][lang], value)
}

// Get returns the language-agnostic values of key, falling back to the first
// language that has any, in en, fr, es, then alphabetical order.
func (v Values) Get(key string) []string {
	langs := v[key]
	if len(langs) == 0 {
		return nil
	}
	for _, l := range []string{"", "en", "fr", "es"} {
		if vs := langs[l]; len(vs) > 0 {
			return vs
		}
	}
	keys := make([]string, 0, len(langs))
	for l := range langs {
		keys = append(keys, l)
	}
	sort.Strings(keys)
	return langs[keys[0]]
}

// First returns the first value of the first key that has one.
func (v Values) First(keys ...string) string {
	for _, k := range keys {
		if vs := v.Get(k); len(vs) > 0 {
			return vs[0]
		}
	}
	return ""
}

// NormKey folds a source element or attribute name: lower case, no '_' or '-'.
func NormKey(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.NewReplacer("_", "", "-", "").Replace(name)
}

// Node is a generic XML element.
type Node struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Text     string     `xml:",chardata"`
	Children []*Node    `xml:",any"`
}

// Attr returns the value of the named attribute, matched case-insensitively.
func (n *Node) Attr(name string) string {
	for _, a := range n.Attrs {
		if strings.EqualFold(a.Name.Local, name) {
			return strings.TrimSpace(a.Value)
		}
	}
	return ""
}

// Find returns the direct children with the given element name.
func (n *Node) Find(name string) []*Node {
	var out []*Node
	for _, c := range n.Children {
		if strings.EqualFold(c.XMLName.Local, name) {
			out = append(out, c)
		}
	}
	return out
}

// Values flattens the leaf children of n. Elements of the form
// <meta name="x" content="y"/> contribute x=y. A lang attribute tags the value.
func (n *Node) Values() Values {
	out := Values{}
	for _, a := range n.Attrs {
		out.add(NormKey(a.Name.Local), "", a.Value)
	}
	for _, c := range n.Children {
		if strings.EqualFold(c.XMLName.Local, "meta") && c.Attr("name") != "" {
			out.add(NormKey(c.Attr("name")), strings.ToLower(c.Attr("lang")), c.Attr("content"))
			continue
		}
		if len(c.Children) > 0 {
			continue
		}
		out.add(NormKey(c.XMLName.Local), strings.ToLower(c.Attr("lang")), c.Text)
	}
	return out
}

// SplitXML streams data and returns every element named elem, at any depth.
func SplitXML(data []byte, elem string) ([]*Node, error) {
	d := xml.NewDecoder(bytes.NewReader(data))
	d.Strict = false
	d.AutoClose = xml.HTMLAutoClose
	d.Entity = xml.HTMLEntity
	d.CharsetReader = charsetReader

	var out []*Node
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("read xml: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok || !strings.EqualFold(se.Name.Local, elem) {
			continue
		}
		n := &Node{}
		if err := d.DecodeElement(n, &se); err != nil {
			return out, fmt.Errorf("decode <%s>: %w", elem, err)
		}
		out = append(out, n)
	}
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "iso-8859-1", "latin1", "latin-1", "iso8859-1":
		return charmap.ISO8859_1.NewDecoder().Reader(input), nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252.NewDecoder().Reader(input), nil
	case "utf-8", "utf8", "":
		return input, nil
	}
	return nil, fmt.Errorf("unsupported charset %q", label)
}

// defaultKeys are the object members read when a JSON value is a list of objects.
var defaultKeys = []string{"value", "url", "label", "uuid", "odata_identifier", "iso", "tid"}

// JSONObject is a decoded JSON node.
type JSONObject map[string]json.RawMessage

// DecodeObject decodes a JSON object.
func DecodeObject(data []byte) (JSONObject, error) {
	var obj JSONObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("decode json node: %w", err)
	}
	if obj == nil {
		return nil, errors.New("decode json node: not an object")
	}
	return obj, nil
}

// Values reads every member of o into Values. Members that are language maps
// ({"en":[{"value":..}], "und":[..]}) keep their tags, with "und" folded into
// the empty tag.
func (o JSONObject) Values(keys ...string) Values {
	if len(keys) == 0 {
		keys = defaultKeys
	}
	out := Values{}
	for name, raw := range o {
		key := NormKey(name)
		for lang, vs := range jsonValues(raw, keys) {
			for _, v := range vs {
				out.add(key, lang, v)
			}
		}
	}
	return out
}

// Member returns the values of one member read with specific object keys.
func (o JSONObject) Member(name string, keys ...string) map[string][]string {
	raw, ok := o[name]
	if !ok {
		return nil
	}
	if len(keys) == 0 {
		keys = defaultKeys
	}
	return jsonValues(raw, keys)
}

// String returns a scalar member as a string.
func (o JSONObject) String(name string) string {
	raw, ok := o[name]
	if !ok {
		return ""
	}
	return scalar(raw)
}

func jsonValues(raw json.RawMessage, keys []string) map[string][]string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	switch raw[0] {
	case '[':
		return map[string][]string{"": listValues(raw, keys)}
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil
		}
		if v, ok := pick(obj, keys); ok {
			return map[string][]string{"": {v}}
		}
		out := map[string][]string{}
		for lang, inner := range obj {
			tag := strings.ToLower(lang)
			if tag == "und" || tag == "zxx" {
				tag = ""
			}
			out[tag] = append(out[tag], listValues(inner, keys)...)
		}
		return out
	default:
		if s := scalar(raw); s != "" {
			return map[string][]string{"": {s}}
		}
	}
	return nil
}

func listValues(raw json.RawMessage, keys []string) []string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	if raw[0] != '[' {
		if raw[0] == '{' {
			var obj map[string]json.RawMessage
			if err := json.Unmarshal(raw, &obj); err == nil {
				if v, ok := pick(obj, keys); ok {
					return []string{v}
				}
			}
			return nil
		}
		if s := scalar(raw); s != "" {
			return []string{s}
		}
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, listValues(item, keys)...)
	}
	return out
}

func pick(obj map[string]json.RawMessage, keys []string) (string, bool) {
	for _, k := range keys {
		if raw, ok := obj[k]; ok {
			if s := scalar(raw); s != "" {
				return s, true
			}
		}
	}
	return "", false
}

func scalar(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return strings.TrimSpace(s)
		}
		return ""
	}
	if raw[0] == '{' || raw[0] == '[' {
		return ""
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b)
	}
	return ""
}
