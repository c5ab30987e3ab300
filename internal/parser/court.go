package parser

import (
	"context"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"github.com/DeafMist/ecolex-harvester/internal/models"
	"github.com/DeafMist/ecolex-harvester/internal/processing"
	"github.com/DeafMist/ecolex-harvester/internal/vocab"
)

var courtFields = []Field{
	{Source: "titlefield", Target: "cdTitleOfText", Multilingual: true},
	{Source: "fieldabstract", Target: "cdAbstract", Multilingual: true},
	{Source: "fieldoriginalid", Target: "cdOriginalId", FalseMultilingual: true},
	{Source: "fieldtypeofdocument", Target: "cdTypeOfText", FalseMultilingual: true},
	{Source: "fieldjurisdiction", Target: "cdJurisdiction", FalseMultilingual: true},
	{Source: "fieldcourtname", Target: "cdCourtName", FalseMultilingual: true},
	{Source: "fieldinstance", Target: "cdInstance", FalseMultilingual: true},
	{Source: "fieldreferencenumber", Target: "cdReferenceNumber", FalseMultilingual: true},
	{Source: "fieldjustices", Target: "cdJustices", FalseMultilingual: true},
	{Source: "fieldsubdivision", Target: "cdTerritorialSubdivision", FalseMultilingual: true},
	{Source: "fieldcitation", Target: "cdSeatOfCourt", FalseMultilingual: true},
	{Source: "fieldnotes", Target: "cdNotes", FalseMultilingual: true},
	{Source: "fielddatepublication", Target: "cdDateOfText", Date: true},
	{Source: "fieldsourcelanguage", Target: "cdLanguageOfDocument", Controlled: vocab.Language, Multivalued: true},
	{Source: "fieldcountry", Target: "cdCountry", Controlled: vocab.Country, Multivalued: true},
	{Source: "fieldsubject", Target: "cdSubject", Controlled: vocab.Subject, Multivalued: true},
	{Source: "fieldnumberofpages", Target: "cdNumberOfPages", Int: true},
	{Source: "fieldurl", Target: "cdRelatedUrl", Multilingual: true, URL: true},
	{Source: "fieldecolextreatyraw", Relation: "citesTreaty", Multivalued: true},
	{Source: "fieldfaolexreferenceraw", Relation: "citesLegislation", Multivalued: true},
	{Source: "fieldcourtdecisionraw", Relation: "citesCourtDecision", Multivalued: true},
	{Source: "fieldrelatedcourtdecision", Relation: "relatedDecision", Multivalued: true},
}

// CourtDecisionParser reads court decision JSON nodes.
type CourtDecisionParser struct {
	base
}

// NewCourtDecisionParser returns a court decision parser.
func NewCourtDecisionParser(v *vocab.Vocabulary, log *slog.Logger) *CourtDecisionParser {
	return &CourtDecisionParser{base: newBase(v, log)}
}

// Type implements Parser.
func (p *CourtDecisionParser) Type() models.DocType { return models.CourtDecision }

// Parse implements Parser.
func (p *CourtDecisionParser) Parse(_ context.Context, rec Record) (*models.Document, error) {
	obj, err := DecodeObject(rec.JSON)
	if err != nil {
		return nil, &ParseError{DocType: models.CourtDecision, Err: err}
	}
	id := obj.String("uuid")
	if id == "" {
		return nil, parseErr(models.CourtDecision, "", "missing uuid")
	}

	d := models.New(models.CourtDecision, id)
	// Nodes fetched through the listing carry its last_update when changed is absent.
	changed := processing.FirstNonEmpty(obj.String("changed"), obj.String("last_update"))
	if changed == "" {
		return nil, parseErr(models.CourtDecision, id, "missing changed")
	}
	updated, err := timestamp(models.CourtDecision, id, changed)
	if err != nil {
		return nil, err
	}
	d.UpdatedAt = updated

	vals := obj.Values()
	p.apply(d, vals, courtFields)

	files := allValues(obj.Member("field_files", "url"))
	files = append(files, allValues(obj.Member("field_external_url", "url"))...)
	if len(files) == 0 {
		files = d.Strings("cdRelatedUrl_en")
	}
	for i := range files {
		files[i] = processing.RewriteURL(files[i])
	}
	d.Set("cdLinkToFullText", processing.Dedupe(files))

	regions := allValues(obj.Member("field_region"))
	if len(regions) == 0 {
		regions = allValues(obj.Member("field_ecolex_region"))
	}
	miss := vocab.Miss{DocType: models.CourtDecision, ExternalID: id, Field: "cdRegion"}
	setAligned(d, "cdRegion", p.vocab.ResolveList(vocab.Region, miss, regions))

	keywords := allValues(obj.Member("field_ecolex_keywords"))
	if len(keywords) == 0 {
		keywords = foreignKeywords(p.vocab, allValues(obj.Member("field_informea_tags")))
	}
	miss.Field = "cdKeyword"
	setAligned(d, "cdKeyword", p.vocab.ResolveList(vocab.Keyword, miss, keywords))

	finish(d)
	return d, nil
}

// foreignKeywords maps external tags, given as labels or term URLs, to local
// keyword codes.
func foreignKeywords(v *vocab.Vocabulary, tags []string) []string {
	var out []string
	for _, tag := range tags {
		out = append(out, v.MapForeignKeyword(tagLabel(tag))...)
	}
	return processing.Dedupe(out)
}

// tagLabel turns "http://host/terms/biological-diversity" into "biological diversity".
func tagLabel(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Scheme != "" && u.Host != "" {
		raw = path.Base(strings.TrimSuffix(u.Path, "/"))
		raw = strings.NewReplacer("-", " ", "_", " ").Replace(raw)
	}
	return strings.TrimSpace(raw)
}
