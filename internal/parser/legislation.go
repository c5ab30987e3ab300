package parser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/DeafMist/ecolex-harvester/internal/models"
	"github.com/DeafMist/ecolex-harvester/internal/processing"
	"github.com/DeafMist/ecolex-harvester/internal/vocab"
)

// ignoredLegislationType is the type code of records excluded from the index.
const ignoredLegislationType = "A"

// Legislation status values.
const (
	LegislationRepealed = "repealed"
	LegislationInForce  = "in force"
)

var legislationFields = []Field{
	{Source: "titleoftext", Target: "legTitle"},
	{Source: "longtitleoftext", Target: "legLongTitle"},
	{Source: "typeoftextcode", Target: "legTypeCode"},
	{Source: "typeoftext", Target: "legType_en"},
	{Source: "dateoftext", Target: "legDateOfText", Date: true},
	{Source: "dateoforiginaltext", Target: "legDateOfOriginalText", Date: true},
	{Source: "dateofconsolidation", Target: "legDateOfConsolidation", Date: true},
	{Source: "entryintoforce", Target: "legEntryIntoForce"},
	{Source: "territorialsubdivision", Target: "legTerritorialSubdivision"},
	{Source: "serialimprint", Target: "legSource"},
	{Source: "abstract", Target: "legAbstract"},
	{Source: "basin", Target: "legBasin_en", Multivalued: true},
	{Source: "relatedweblink", Target: "legRelatedWebSite", Multivalued: true},
	{Source: "linktofulltext", Target: "legLinkToFullText", Multivalued: true, URL: true},
	{Source: "documenturl", Target: "legLinkToFullText", Multivalued: true, URL: true},
	{Source: "keywordcode", Target: "legKeyword", Controlled: vocab.Keyword, Multivalued: true},
	{Source: "subjectselectioncode", Target: "legSubject", Controlled: vocab.Subject, Multivalued: true},
	{Source: "languagecode", Target: "legLanguage", Controlled: vocab.Language, Multivalued: true},
	{Source: "implementingtreaty", Relation: "implements", Transform: trimPDF},
	{Source: "implement", Relation: "implementsLegislation", Transform: trimPDF},
	{Source: "amends", Relation: "amends"},
	{Source: "repeals", Relation: "repeals"},
}

func trimPDF(id string) string {
	if strings.HasSuffix(strings.ToLower(id), ".pdf") {
		return id[:len(id)-len(".pdf")]
	}
	return id
}

// LegislationParser reads <record> elements of the packaged legislation XML.
type LegislationParser struct {
	base
}

// NewLegislationParser returns a legislation parser.
func NewLegislationParser(v *vocab.Vocabulary, log *slog.Logger) *LegislationParser {
	return &LegislationParser{base: newBase(v, log)}
}

// Type implements Parser.
func (p *LegislationParser) Type() models.DocType { return models.Legislation }

// Parse implements Parser. Records of type code A return ErrIgnored.
func (p *LegislationParser) Parse(_ context.Context, rec Record) (*models.Document, error) {
	if rec.Node == nil {
		return nil, parseErr(models.Legislation, "", "missing xml node")
	}
	vals := rec.Node.Values()
	id := vals.First("id", "faolexid", "legid", "recid")
	if id == "" {
		return nil, parseErr(models.Legislation, "", "missing record id")
	}
	for _, key := range []string{"typeoftextcode", "typeoftext"} {
		if strings.EqualFold(vals.First(key), ignoredLegislationType) {
			return nil, fmt.Errorf("legislation %s: %w", id, ErrIgnored)
		}
	}

	d := models.New(models.Legislation, id)
	updated, err := timestamp(models.Legislation, id, vals.First("dateofmodification", "dateofentry"))
	if err != nil {
		return nil, err
	}
	d.UpdatedAt = updated

	p.apply(d, vals, legislationFields)
	d.Set("legUrl", processing.RewriteURL(rec.Node.Attr("url")))

	legDate := processing.FirstNonEmpty(d.String("legDateOfText"), d.String("legDateOfConsolidation"))
	if legDate != "" {
		d.Set("legDate", legDate)
		if y := processing.Year(legDate); y > 0 {
			d.Set("legYear", y)
		}
	}

	p.country(d, vals.First("countryiso3", "countryiso", "country"))

	status := LegislationInForce
	switch strings.ToLower(vals.First("repealed")) {
	case "y", "yes", "true", "1", LegislationRepealed:
		status = LegislationRepealed
	}
	d.Set("legStatus", status)

	finish(d)
	return d, nil
}

func (p *LegislationParser) country(d *models.Document, raw string) {
	raw = processing.CleanText(raw)
	if raw == "" {
		return
	}
	miss := vocab.Miss{DocType: models.Legislation, ExternalID: d.ExternalID, Field: "legCountry"}
	setTriple(d, "legCountry", p.vocab.Resolve(vocab.Country, miss, raw))

	iso, ok := p.vocab.CountryCode(raw)
	if !ok {
		return
	}
	d.Set("legCountry_iso", iso)
	regions := p.vocab.RegionsForCountry(iso)
	miss.Field = "legGeoArea"
	setAligned(d, "legGeoArea", p.vocab.ResolveList(vocab.Region, miss, regions))
}
