// Package vocab resolves codes and English labels of the controlled
// vocabularies into localised triples.
package vocab

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/DeafMist/ecolex-harvester/internal/logger"
	"github.com/DeafMist/ecolex-harvester/internal/models"
	"github.com/DeafMist/ecolex-harvester/internal/processing"
)

//go:embed data/*.yaml
var packaged embed.FS

// Kind names a controlled vocabulary.
type Kind string

const (
	Country  Kind = "country"
	Language Kind = "language"
	Region   Kind = "region"
	Subject  Kind = "subject"
	Keyword  Kind = "keyword"
)

// Miss identifies the document field a lookup was made for, for warnings.
type Miss struct {
	DocType    models.DocType
	ExternalID string
	Field      string
}

// TreatyRef is one row of the treaty identity table.
type TreatyRef struct {
	UUID      string `yaml:"uuid"`
	EcolexID  string `yaml:"ecolexId"`
	ShortName string `yaml:"shortName"`
}

// Aligned holds positionally aligned per-language sequences.
type Aligned struct {
	EN []string
	FR []string
	ES []string
}

// Len is the common length of the three sequences.
func (a Aligned) Len() int { return len(a.EN) }

type countryRow struct {
	ISO     string   `yaml:"iso"`
	EN      string   `yaml:"en"`
	FR      string   `yaml:"fr"`
	ES      string   `yaml:"es"`
	Regions []string `yaml:"regions"`
}

type codedRow struct {
	Code  string `yaml:"code"`
	Code3 string `yaml:"code3"`
	EN    string `yaml:"en"`
	FR    string `yaml:"fr"`
	ES    string `yaml:"es"`
}

// Vocabulary is the set of lookup tables loaded once at startup.
type Vocabulary struct {
	countries      map[string]models.Triple
	countryLabels  map[string]string
	countryRegions map[string][]string
	languages      map[string]models.Triple
	languageLabels map[string]models.Triple
	regions        map[string]models.Triple
	subjects       map[string]models.Triple
	subjectLabels  map[string]models.Triple
	keywords       map[string]models.Triple
	keywordLabels  map[string]models.Triple
	foreign        map[string][]string
	treaties       map[string]TreatyRef
	log            *slog.Logger
}

// Files lists the data files a vocabulary directory must contain.
var Files = []string{
	"countries.yaml", "languages.yaml", "regions.yaml", "subjects.yaml",
	"keywords.yaml", "foreign_keywords.yaml", "treaties.yaml",
}

// Open loads the vocabularies from dir, or from the packaged data when dir is empty.
func Open(dir string, log *slog.Logger) (*Vocabulary, error) {
	if dir == "" {
		sub, err := fs.Sub(packaged, "data")
		if err != nil {
			return nil, fmt.Errorf("open packaged vocabularies: %w", err)
		}
		return Load(sub, log)
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("vocabulary dir: %w", err)
	}
	return Load(os.DirFS(dir), log)
}

// Load reads every vocabulary file from fsys.
func Load(fsys fs.FS, log *slog.Logger) (*Vocabulary, error) {
	if log == nil {
		log = logger.Discard()
	}
	v := &Vocabulary{
		countries:      map[string]models.Triple{},
		countryLabels:  map[string]string{},
		countryRegions: map[string][]string{},
		languages:      map[string]models.Triple{},
		languageLabels: map[string]models.Triple{},
		regions:        map[string]models.Triple{},
		subjects:       map[string]models.Triple{},
		subjectLabels:  map[string]models.Triple{},
		keywords:       map[string]models.Triple{},
		keywordLabels:  map[string]models.Triple{},
		foreign:        map[string][]string{},
		treaties:       map[string]TreatyRef{},
		log:            log,
	}

	var countries []countryRow
	if err := readYAML(fsys, "countries.yaml", &countries); err != nil {
		return nil, err
	}
	for _, c := range countries {
		iso := strings.ToUpper(strings.TrimSpace(c.ISO))
		t := fill(models.Triple{EN: c.EN, FR: c.FR, ES: c.ES})
		v.countries[iso] = t
		v.countryLabels[processing.FoldLabel(c.EN)] = iso
		v.countryRegions[iso] = c.Regions
	}

	var languages []codedRow
	if err := readYAML(fsys, "languages.yaml", &languages); err != nil {
		return nil, err
	}
	for _, l := range languages {
		t := fill(models.Triple{EN: l.EN, FR: l.FR, ES: l.ES})
		for _, code := range []string{l.Code, l.Code3} {
			if code != "" {
				v.languages[strings.ToLower(code)] = t
			}
		}
		v.languageLabels[processing.FoldLabel(l.EN)] = t
	}

	var regions []models.Triple
	if err := readYAML(fsys, "regions.yaml", &regions); err != nil {
		return nil, err
	}
	for _, r := range regions {
		v.regions[processing.FoldLabel(r.EN)] = fill(r)
	}

	if err := v.loadCoded(fsys, "subjects.yaml", v.subjects, v.subjectLabels); err != nil {
		return nil, err
	}
	if err := v.loadCoded(fsys, "keywords.yaml", v.keywords, v.keywordLabels); err != nil {
		return nil, err
	}

	var foreign map[string][]string
	if err := readYAML(fsys, "foreign_keywords.yaml", &foreign); err != nil {
		return nil, err
	}
	for label, codes := range foreign {
		v.foreign[processing.FoldLabel(label)] = codes
	}

	var treaties []TreatyRef
	if err := readYAML(fsys, "treaties.yaml", &treaties); err != nil {
		return nil, err
	}
	for _, t := range treaties {
		v.treaties[t.UUID] = t
	}

	return v, nil
}

func (v *Vocabulary) loadCoded(fsys fs.FS, name string, byCode, byLabel map[string]models.Triple) error {
	var rows []codedRow
	if err := readYAML(fsys, name, &rows); err != nil {
		return err
	}
	for _, r := range rows {
		t := fill(models.Triple{EN: r.EN, FR: r.FR, ES: r.ES})
		byCode[r.Code] = t
		byLabel[processing.FoldLabel(r.EN)] = t
	}
	return nil
}

func readYAML(fsys fs.FS, name string, out any) error {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("missing vocabulary file %s", name)
		}
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}

// fill copies the English label into missing translations.
func fill(t models.Triple) models.Triple {
	if t.FR == "" {
		t.FR = t.EN
	}
	if t.ES == "" {
		t.ES = t.EN
	}
	return t
}

// ResolveCountry looks up an ISO code, then an English country name.
func (v *Vocabulary) ResolveCountry(iso string) (models.Triple, bool) {
	code := strings.ToUpper(strings.TrimSpace(iso))
	if t, ok := v.countries[code]; ok {
		return t, true
	}
	if code, ok := v.countryLabels[processing.FoldLabel(iso)]; ok {
		return v.countries[code], true
	}
	return models.Triple{}, false
}

// ResolveLanguage looks up a 2 or 3 letter code, then an English language name.
func (v *Vocabulary) ResolveLanguage(code string) (models.Triple, bool) {
	if t, ok := v.languages[strings.ToLower(strings.TrimSpace(code))]; ok {
		return t, true
	}
	t, ok := v.languageLabels[processing.FoldLabel(code)]
	return t, ok
}

// ResolveRegion looks up an English region name, ignoring case and accents.
func (v *Vocabulary) ResolveRegion(label string) (models.Triple, bool) {
	t, ok := v.regions[processing.FoldLabel(label)]
	return t, ok
}

// ResolveSubject looks up a subject code. Feeds that carry the English label
// instead of the code are matched on the label.
func (v *Vocabulary) ResolveSubject(code string) (models.Triple, bool) {
	if t, ok := v.subjects[strings.TrimSpace(code)]; ok {
		return t, true
	}
	t, ok := v.subjectLabels[processing.FoldLabel(code)]
	return t, ok
}

// ResolveKeyword looks up a keyword code, then an English keyword label.
func (v *Vocabulary) ResolveKeyword(code string) (models.Triple, bool) {
	if t, ok := v.keywords[strings.TrimSpace(code)]; ok {
		return t, true
	}
	t, ok := v.keywordLabels[processing.FoldLabel(code)]
	return t, ok
}

// MapForeignKeyword maps an external-vocabulary label to local keyword codes.
func (v *Vocabulary) MapForeignKeyword(label string) []string {
	return v.foreign[processing.FoldLabel(label)]
}

// RegionsForCountry returns the English region names a country belongs to.
func (v *Vocabulary) RegionsForCountry(iso string) []string {
	return v.countryRegions[strings.ToUpper(strings.TrimSpace(iso))]
}

// CountryCode returns the ISO code for a code or English name.
func (v *Vocabulary) CountryCode(raw string) (string, bool) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if _, ok := v.countries[code]; ok {
		return code, true
	}
	code, ok := v.countryLabels[processing.FoldLabel(raw)]
	return code, ok
}

// TreatyByUUID resolves the treaty identity table.
func (v *Vocabulary) TreatyByUUID(uuid string) (TreatyRef, bool) {
	t, ok := v.treaties[strings.TrimSpace(uuid)]
	return t, ok
}

// Lookup dispatches on kind.
func (v *Vocabulary) Lookup(kind Kind, raw string) (models.Triple, bool) {
	switch kind {
	case Country:
		return v.ResolveCountry(raw)
	case Language:
		return v.ResolveLanguage(raw)
	case Region:
		return v.ResolveRegion(raw)
	case Subject:
		return v.ResolveSubject(raw)
	case Keyword:
		return v.ResolveKeyword(raw)
	}
	return models.Triple{}, false
}

// Resolve looks up one value. A miss is logged and the raw value is returned as
// English only.
func (v *Vocabulary) Resolve(kind Kind, m Miss, raw string) models.Triple {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return models.Triple{}
	}
	if t, ok := v.Lookup(kind, raw); ok {
		return t
	}
	v.warn(kind, m, raw)
	return models.Triple{EN: raw}
}

// ResolveList resolves a sequence into three aligned sequences. Positions that
// miss keep the raw English value in every language. Repeated triples are
// dropped, keeping the first.
func (v *Vocabulary) ResolveList(kind Kind, m Miss, raws []string) Aligned {
	out := Aligned{EN: []string{}, FR: []string{}, ES: []string{}}
	seen := map[models.Triple]struct{}{}
	for _, raw := range raws {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		t, ok := v.Lookup(kind, raw)
		if !ok {
			v.warn(kind, m, raw)
			t = models.Triple{EN: raw, FR: raw, ES: raw}
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out.EN = append(out.EN, t.EN)
		out.FR = append(out.FR, t.FR)
		out.ES = append(out.ES, t.ES)
	}
	return out
}

func (v *Vocabulary) warn(kind Kind, m Miss, raw string) {
	v.log.Warn("vocabulary miss",
		slog.String("vocabulary", string(kind)),
		slog.String("docType", string(m.DocType)),
		slog.String("externalId", m.ExternalID),
		slog.String("field", m.Field),
		slog.String("rawValue", raw),
	)
}
