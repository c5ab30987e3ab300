package parser

import (
	"context"
	"log/slog"
	"strings"

	"github.com/DeafMist/ecolex-harvester/internal/models"
	"github.com/DeafMist/ecolex-harvester/internal/processing"
	"github.com/DeafMist/ecolex-harvester/internal/vocab"
)

var literatureFields = []Field{
	{Source: "authora", Target: "litAuthorArticle", Multivalued: true, Transform: processing.StripAuthorMarkers},
	{Source: "authorm", Target: "litAuthorMonograph", Multivalued: true, Transform: processing.StripAuthorMarkers},
	{Source: "corpauthora", Target: "litCorpAuthorArticle", Multivalued: true},
	{Source: "corpauthorm", Target: "litCorpAuthorMonograph", Multivalued: true},
	{Source: "titleoftext", Target: "litLongTitle_en"},
	{Source: "titleoftextfr", Target: "litLongTitle_fr"},
	{Source: "titleoftextsp", Target: "litLongTitle_es"},
	{Source: "titleoftextother", Target: "litLongTitle_other"},
	{Source: "papertitleoftext", Target: "litPaperTitleOfText_en"},
	{Source: "papertitleoftextfr", Target: "litPaperTitleOfText_fr"},
	{Source: "papertitleoftextsp", Target: "litPaperTitleOfText_es"},
	{Source: "papertitleoftextother", Target: "litPaperTitleOfText_other"},
	{Source: "typeoftext", Target: "litTypeOfText_en"},
	{Source: "dateofentry", Target: "litDateOfEntry", Date: true},
	{Source: "abstract", Target: "litAbstract_en"},
	{Source: "abstractfr", Target: "litAbstract_fr"},
	{Source: "abstractsp", Target: "litAbstract_es"},
	{Source: "publisher", Target: "litPublisher"},
	{Source: "placeofpublication", Target: "litPublPlace"},
	{Source: "isbn", Target: "litISBN", Multivalued: true},
	{Source: "issn", Target: "litISSN"},
	{Source: "serialtitle", Target: "litSerialTitle"},
	{Source: "volumeno", Target: "litVolumeNo"},
	{Source: "collation", Target: "litCollation"},
	{Source: "callno", Target: "litCallNo"},
	{Source: "subject", Target: "litSubject", Controlled: vocab.Subject, Multivalued: true},
	{Source: "keyword", Target: "litKeyword", Controlled: vocab.Keyword, Multivalued: true},
	{Source: "region", Target: "litRegion", Controlled: vocab.Region, Multivalued: true},
	{Source: "country", Target: "litCountry", Controlled: vocab.Country, Multivalued: true},
	{Source: "languageofdocument", Target: "litLanguageOfDocument", Controlled: vocab.Language, Multivalued: true},
	{Source: "linktofulltext", Target: "litLinkToFullText", Multivalued: true, URL: true},
	{Source: "referencetotreaties", Relation: "citesTreaty"},
	{Source: "referencetocourtdecision", Relation: "citesCourtDecision"},
	{Source: "referencetofaolex", Relation: "citesLegislation"},
	{Source: "referencetoliterature", Relation: "citesLiterature"},
}

var displayTypes = map[string]string{
	"MON": "monograph",
	"ANA": "article",
}

// LiteratureParser reads <document> elements of the literature feed.
type LiteratureParser struct {
	base
}

// NewLiteratureParser returns a literature parser.
func NewLiteratureParser(v *vocab.Vocabulary, log *slog.Logger) *LiteratureParser {
	return &LiteratureParser{base: newBase(v, log)}
}

// Type implements Parser.
func (p *LiteratureParser) Type() models.DocType { return models.Literature }

// Parse implements Parser.
func (p *LiteratureParser) Parse(_ context.Context, rec Record) (*models.Document, error) {
	if rec.Node == nil {
		return nil, parseErr(models.Literature, "", "missing xml node")
	}
	vals := rec.Node.Values()
	id := vals.First("id", "recid", "litid")
	if id == "" {
		return nil, parseErr(models.Literature, "", "missing record id")
	}

	d := models.New(models.Literature, id)
	updated, err := timestamp(models.Literature, id, vals.First("dateofmodification", "dateofentry"))
	if err != nil {
		return nil, err
	}
	if updated.IsZero() {
		return nil, parseErr(models.Literature, id, "missing dateofmodification and dateofentry")
	}
	d.UpdatedAt = updated

	p.apply(d, vals, literatureFields)
	p.dateOfText(d, vals.First("dateoftext"))
	for prefix, display := range displayTypes {
		if strings.HasPrefix(strings.ToUpper(id), prefix) {
			d.Set("litDisplayType", display)
		}
	}
	finish(d)
	return d, nil
}

// dateOfText accepts a single date or a "YYYY-YYYY" range.
func (p *LiteratureParser) dateOfText(d *models.Document, raw string) {
	raw = processing.CleanText(raw)
	if raw == "" {
		return
	}
	if start, end, ok := processing.YearRange(raw); ok {
		if norm, err := processing.NormaliseDate(start); err == nil {
			d.Set("litDateOfText", norm)
		}
		if norm, err := processing.NormaliseDate(end); err == nil {
			d.Set("litDateOfTextEnd", norm)
		}
		return
	}
	norm, err := processing.NormaliseDate(raw)
	if err != nil {
		p.log.Debug("dropping invalid date", slog.String("externalId", d.ExternalID), slog.String("rawValue", raw))
		return
	}
	d.Set("litDateOfText", norm)
}
