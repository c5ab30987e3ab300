package parser

import (
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/DeafMist/ecolex-harvester/internal/models"
	"github.com/DeafMist/ecolex-harvester/internal/processing"
	"github.com/DeafMist/ecolex-harvester/internal/vocab"
)

// Field maps one source key onto the document.
type Field struct {
	// Source is the normalised source key (see NormKey).
	Source string
	// Target is the document field. Multilingual and controlled fields get
	// a _<lang> suffix appended.
	Target string
	// Multilingual emits one Target_<lang> per language tag in the source.
	Multilingual bool
	// FalseMultilingual reads a language-tagged source but emits Target only.
	FalseMultilingual bool
	Multivalued       bool
	Date              bool
	Int               bool
	// Controlled resolves values through the vocabulary into _en/_fr/_es.
	Controlled vocab.Kind
	// Relation appends the values to a document relation instead of a field.
	Relation string
	// URL rewrites the legacy file host.
	URL bool
	// Transform is applied to every cleaned value.
	Transform func(string) string
}

// languages are the tags emitted for multilingual fields; others are dropped.
var languages = map[string]string{
	"en": "en", "eng": "en",
	"fr": "fr", "fra": "fr", "fre": "fr",
	"es": "es", "spa": "es", "sp": "es",
	"ru": "ru", "rus": "ru",
	"ar": "ar", "ara": "ar",
	"zh": "zh", "chi": "zh", "zho": "zh",
	"other": "other",
}

// engine applies field descriptors with shared vocabulary and logging.
type engine struct {
	vocab *vocab.Vocabulary
	log   *slog.Logger
}

func (e *engine) apply(d *models.Document, vals Values, fields []Field) {
	for _, f := range fields {
		langs := vals[f.Source]
		if len(langs) == 0 {
			continue
		}
		if f.Multilingual {
			tags := make([]string, 0, len(langs))
			for tag := range langs {
				tags = append(tags, tag)
			}
			sort.Strings(tags)
			for _, tag := range tags {
				suffix, ok := languages[tag]
				if !ok {
					continue
				}
				e.emit(d, f, f.Target+"_"+suffix, langs[tag])
			}
			continue
		}
		var raw []string
		if f.Multivalued && !f.FalseMultilingual {
			raw = allValues(langs)
		} else {
			raw = vals.Get(f.Source)
		}
		e.emit(d, f, f.Target, raw)
	}
}

func (e *engine) emit(d *models.Document, f Field, target string, raw []string) {
	vs := make([]string, 0, len(raw))
	for _, v := range raw {
		v = processing.CleanText(v)
		if f.Transform != nil {
			v = f.Transform(v)
		}
		if f.URL {
			v = processing.RewriteURL(v)
		}
		if f.Date {
			norm, err := processing.NormaliseDate(v)
			if err != nil {
				e.log.Debug("dropping invalid date",
					slog.String("externalId", d.ExternalID),
					slog.String("field", target),
					slog.String("rawValue", v),
				)
				continue
			}
			v = norm
		}
		if v != "" {
			vs = append(vs, v)
		}
	}
	if len(vs) == 0 {
		return
	}

	switch {
	case f.Relation != "":
		d.AddRef(f.Relation, vs...)
	case f.Controlled != "":
		e.setControlled(d, f, target, vs)
	case f.Int:
		n, err := strconv.ParseInt(strings.TrimSpace(vs[0]), 10, 64)
		if err != nil {
			e.log.Debug("dropping invalid integer", slog.String("field", target), slog.String("rawValue", vs[0]))
			return
		}
		d.Set(target, n)
	case f.Multivalued:
		d.Set(target, processing.Dedupe(slices.Concat(d.Strings(target), vs)))
	default:
		d.Set(target, vs[0])
	}
}

func (e *engine) setControlled(d *models.Document, f Field, target string, vs []string) {
	miss := vocab.Miss{DocType: d.Type, ExternalID: d.ExternalID, Field: target}
	if f.Multivalued {
		setAligned(d, target, e.vocab.ResolveList(f.Controlled, miss, vs))
		return
	}
	setTriple(d, target, e.vocab.Resolve(f.Controlled, miss, vs[0]))
}

func setAligned(d *models.Document, target string, a vocab.Aligned) {
	if a.Len() == 0 {
		return
	}
	d.Set(target+"_en", a.EN)
	d.Set(target+"_fr", a.FR)
	d.Set(target+"_es", a.ES)
}

func setTriple(d *models.Document, target string, t models.Triple) {
	d.Set(target+"_en", t.EN)
	d.Set(target+"_fr", t.FR)
	d.Set(target+"_es", t.ES)
}

// allValues concatenates every language of a source key, language-agnostic first.
func allValues(langs map[string][]string) []string {
	tags := make([]string, 0, len(langs))
	for tag := range langs {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	var out []string
	for _, tag := range tags {
		out = append(out, langs[tag]...)
	}
	return out
}
