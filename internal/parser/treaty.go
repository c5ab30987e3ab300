package parser

import (
	"context"
	"log/slog"
	"strings"

	"github.com/DeafMist/ecolex-harvester/internal/models"
	"github.com/DeafMist/ecolex-harvester/internal/processing"
	"github.com/DeafMist/ecolex-harvester/internal/vocab"
)

var treatyFields = []Field{
	{Source: "titleoftext", Target: "trTitleOfText_en"},
	{Source: "titleoftextfr", Target: "trTitleOfText_fr"},
	{Source: "titleoftextsp", Target: "trTitleOfText_es"},
	{Source: "titleoftextother", Target: "trTitleOfText_other"},
	{Source: "titleoftextshort", Target: "trTitleOfTextShort"},
	{Source: "titleabbreviation", Target: "trTitleAbbreviation", Multivalued: true},
	{Source: "typeoftext", Target: "trTypeOfText_en"},
	{Source: "typeoftextfrfr", Target: "trTypeOfText_fr"},
	{Source: "typeoftexteses", Target: "trTypeOfText_es"},
	{Source: "jurisdiction", Target: "trJurisdiction_en"},
	{Source: "jurisdictionfrfr", Target: "trJurisdiction_fr"},
	{Source: "jurisdictioneses", Target: "trJurisdiction_es"},
	{Source: "fieldofapplication", Target: "trFieldOfApplication_en"},
	{Source: "fieldofapplicationfrfr", Target: "trFieldOfApplication_fr"},
	{Source: "fieldofapplicationeses", Target: "trFieldOfApplication_es"},
	{Source: "subject", Target: "trSubject", Controlled: vocab.Subject, Multivalued: true},
	{Source: "keyword", Target: "trKeyword", Controlled: vocab.Keyword, Multivalued: true},
	{Source: "region", Target: "trRegion", Controlled: vocab.Region, Multivalued: true},
	{Source: "languageofdocument", Target: "trLanguageOfDocument", Controlled: vocab.Language, Multivalued: true},
	{Source: "placeofadoption", Target: "trPlaceOfAdoption"},
	{Source: "depository", Target: "trDepository_en", Multivalued: true},
	{Source: "depositoryfrfr", Target: "trDepository_fr", Multivalued: true},
	{Source: "depositoryeses", Target: "trDepository_es", Multivalued: true},
	{Source: "dateoftext", Target: "trDateOfText", Date: true},
	{Source: "entryintoforcedate", Target: "trEntryIntoForceDate", Date: true},
	{Source: "dateofentry", Target: "trDateOfEntry", Date: true},
	{Source: "abstract", Target: "trAbstract_en"},
	{Source: "abstractfr", Target: "trAbstract_fr"},
	{Source: "abstractes", Target: "trAbstract_es"},
	{Source: "comment", Target: "trComment"},
	{Source: "officialpublication", Target: "trOfficialPublication", Multivalued: true},
	{Source: "numberofpages", Target: "trNumberOfPages", Int: true},
	{Source: "informeaid", Target: "trInformeaId"},
	{Source: "basin", Target: "trBasin_en", Multivalued: true},
	{Source: "basinfrfr", Target: "trBasin_fr", Multivalued: true},
	{Source: "basineses", Target: "trBasin_es", Multivalued: true},
	{Source: "internetreference", Target: "trInternetReference_en", Multivalued: true, URL: true},
	{Source: "internetreferencefr", Target: "trInternetReference_fr", Multivalued: true, URL: true},
	{Source: "internetreferencees", Target: "trInternetReference_es", Multivalued: true, URL: true},
	{Source: "internetreferenceother", Target: "trInternetReference_other", Multivalued: true, URL: true},
	{Source: "linktofulltext", Target: "trLinkToFullText_en", Multivalued: true, URL: true},
	{Source: "linktofulltextfr", Target: "trLinkToFullText_fr", Multivalued: true, URL: true},
	{Source: "linktofulltextsp", Target: "trLinkToFullText_es", Multivalued: true, URL: true},
	{Source: "linktofulltextother", Target: "trLinkToFullText_other", Multivalued: true, URL: true},
	{Source: "availablein", Target: "trAvailableIn", Transform: expandAvailableIn},
	{Source: "amendstreaty", Relation: "amends"},
	{Source: "supersedestreaty", Relation: "supersedes"},
	{Source: "citestreaty", Relation: "cites"},
	{Source: "enabledbytreaty", Relation: "enabledBy"},
}

// partyColumns maps the party row source keys onto party event fields.
var partyColumns = map[string]string{
	"entryintoforce":               "partyEntryIntoForce",
	"dateofratification":           "partyDateOfRatification",
	"dateofaccessionapprobation":   "partyDateOfAccessionApprobation",
	"dateofacceptanceapproval":     "partyDateOfAcceptanceApproval",
	"dateofconsenttobebound":       "partyDateOfConsentToBeBound",
	"dateofsuccession":             "partyDateOfSuccession",
	"dateofdefinitesignature":      "partyDateOfDefiniteSignature",
	"dateofsimplesignature":        "partyDateOfSimpleSignature",
	"dateofprovisionalapplication": "partyDateOfProvisionalApplication",
	"dateofparticipation":          "partyDateOfParticipation",
	"dateofdeclaration":            "partyDateOfDeclaration",
	"dateofreservation":            "partyDateOfReservation",
	"dateofwithdrawal":             "partyDateOfWithdrawal",
}

var availableIn = map[string]string{
	"B7": "B7 International Environmental Law: Multilateral Agreements",
}

func expandAvailableIn(code string) string {
	if label, ok := availableIn[strings.ToUpper(code)]; ok {
		return label
	}
	return code
}

// treatyOverrides correct upstream data for individual treaties.
var treatyOverrides = map[string]map[string]string{
	"TRE-149349": {"trDateOfText": "2009-10-02T00:00:00Z"},
}

// TreatyParser reads <document> elements of the treaty feed.
type TreatyParser struct {
	base
}

// NewTreatyParser returns a treaty parser.
func NewTreatyParser(v *vocab.Vocabulary, log *slog.Logger) *TreatyParser {
	return &TreatyParser{base: newBase(v, log)}
}

// Type implements Parser.
func (p *TreatyParser) Type() models.DocType { return models.Treaty }

// Parse implements Parser.
func (p *TreatyParser) Parse(_ context.Context, rec Record) (*models.Document, error) {
	if rec.Node == nil {
		return nil, parseErr(models.Treaty, "", "missing xml node")
	}
	vals := rec.Node.Values()
	id := vals.First("recid", "trelisid", "id")
	if id == "" {
		return nil, parseErr(models.Treaty, "", "missing record id")
	}

	d := models.New(models.Treaty, id)
	updated, err := timestamp(models.Treaty, id, vals.First("dateofmodification"))
	if err != nil {
		return nil, err
	}
	if updated.IsZero() {
		return nil, parseErr(models.Treaty, id, "missing dateofmodification")
	}
	d.UpdatedAt = updated

	p.apply(d, vals, treatyFields)
	for field, value := range treatyOverrides[id] {
		d.Fields[field] = value
	}
	d.Parties = p.parties(rec.Node)
	d.Set("trStatus", TreatyStatus(d, false))
	finish(d)
	return d, nil
}

func (p *TreatyParser) parties(n *Node) []models.Party {
	rows := n.Find("party")
	for _, wrap := range n.Find("parties") {
		rows = append(rows, wrap.Find("party")...)
	}
	var out []models.Party
	for _, row := range rows {
		vals := row.Values()
		name := processing.CleanText(vals.First("country"))
		if name == "" {
			continue
		}
		country := models.Triple{
			EN: name,
			FR: processing.CleanText(vals.First("countryfr")),
			ES: processing.CleanText(vals.First("countrysp")),
		}
		if country.FR == "" || country.ES == "" {
			if t, ok := p.vocab.ResolveCountry(name); ok {
				country.FR = processing.FirstNonEmpty(country.FR, t.FR)
				country.ES = processing.FirstNonEmpty(country.ES, t.ES)
			}
		}
		country.FR = processing.FirstNonEmpty(country.FR, name)
		country.ES = processing.FirstNonEmpty(country.ES, name)

		party := models.Party{Country: country, Events: map[string]string{}}
		for key, column := range partyColumns {
			raw := vals.First(key)
			if raw == "" {
				continue
			}
			norm, err := processing.NormaliseDate(raw)
			if err != nil || norm == processing.PartySentinel {
				continue
			}
			party.Events[column] = norm
		}
		out = append(out, party)
	}
	return out
}

// TreatyStatus derives trStatus. superseded reports that another treaty
// supersedes this one.
func TreatyStatus(d *models.Document, superseded bool) string {
	switch {
	case superseded || len(d.Refs["supersededBy"]) > 0:
		return models.TreatySuperseded
	case d.String("trEntryIntoForceDate") == "":
		return models.TreatyNotInForce
	default:
		return models.TreatyInForce
	}
}
