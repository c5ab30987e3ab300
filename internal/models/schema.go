package models

// Relation describes one outbound reference kind of a type.
type Relation struct {
	Name string
	// Field is the serialised attribute name.
	Field string
	// Inverse is the relation appended on in-batch targets, "" when none.
	Inverse string
	Target  DocType
	// TargetKey is the target field the remote id is matched against; "" is
	// the target's external id.
	TargetKey string
	// Derived relations are only ever written by the graph closer.
	Derived bool
}

// Schema is the per-type serialisation and lookup description.
type Schema struct {
	Type         DocType
	IDField      string
	UpdatedField string
	TextField    string
	TitleFields  []string
	FileFields   []string
	Relations    []Relation
	HasParties   bool
}

// Relation looks up a relation by name.
func (s Schema) Relation(name string) (Relation, bool) {
	for _, r := range s.Relations {
		if r.Name == name {
			return r, true
		}
	}
	return Relation{}, false
}

// RelationByField looks up a relation by its serialised attribute.
func (s Schema) RelationByField(field string) (Relation, bool) {
	for _, r := range s.Relations {
		if r.Field == field {
			return r, true
		}
	}
	return Relation{}, false
}

// Treaty party event columns, in display order.
var PartyEvents = []string{
	"partyEntryIntoForce",
	"partyDateOfRatification",
	"partyDateOfAccessionApprobation",
	"partyDateOfAcceptanceApproval",
	"partyDateOfConsentToBeBound",
	"partyDateOfSuccession",
	"partyDateOfDefiniteSignature",
	"partyDateOfSimpleSignature",
	"partyDateOfProvisionalApplication",
	"partyDateOfParticipation",
	"partyDateOfDeclaration",
	"partyDateOfReservation",
	"partyDateOfWithdrawal",
}

// Treaty status values.
const (
	TreatyInForce    = "inForce"
	TreatyNotInForce = "notInForce"
	TreatySuperseded = "superseded"
)

var schemas = map[DocType]Schema{
	Treaty: {
		Type:         Treaty,
		IDField:      "trElisId",
		UpdatedField: "trDateOfModification",
		TextField:    "trText",
		TitleFields: []string{
			"trTitleOfText_en", "trTitleOfText_fr", "trTitleOfText_es", "trTitleOfText_other",
			"trTitleOfTextShort", "trTitleAbbreviation",
		},
		FileFields: []string{"trLinkToFullText_en", "trLinkToFullText_fr", "trLinkToFullText_es", "trLinkToFullText_other"},
		HasParties: true,
		Relations: []Relation{
			{Name: "amends", Field: "trAmendsTreaty", Inverse: "amendedBy", Target: Treaty},
			{Name: "supersedes", Field: "trSupersedesTreaty", Inverse: "supersededBy", Target: Treaty},
			{Name: "cites", Field: "trCitesTreaty", Inverse: "citedBy", Target: Treaty},
			{Name: "enabledBy", Field: "trEnabledByTreaty", Inverse: "enables", Target: Treaty},
			{Name: "amendedBy", Field: "trAmendedBy", Target: Treaty, Derived: true},
			{Name: "supersededBy", Field: "trSupersededBy", Target: Treaty, Derived: true},
			{Name: "citedBy", Field: "trCitedBy", Target: Treaty, Derived: true},
			{Name: "enables", Field: "trEnablesTreaty", Target: Treaty, Derived: true},
		},
	},
	Decision: {
		Type:         Decision,
		IDField:      "decId",
		UpdatedField: "decUpdateDate",
		TextField:    "decText",
		TitleFields: []string{
			"decShortTitle_en", "decShortTitle_es", "decShortTitle_fr",
			"decShortTitle_ru", "decShortTitle_ar", "decShortTitle_zh",
		},
		FileFields: []string{"decFileUrls"},
		Relations: []Relation{
			{Name: "treatyOf", Field: "decTreaty", Target: Treaty},
		},
	},
	Legislation: {
		Type:         Legislation,
		IDField:      "legId",
		UpdatedField: "legModificationDate",
		TextField:    "legText",
		TitleFields:  []string{"legTitle", "legLongTitle"},
		FileFields:   []string{"legLinkToFullText"},
		Relations: []Relation{
			{Name: "implements", Field: "legImplementTreaty", Inverse: "", Target: Treaty},
			{Name: "amends", Field: "legAmends", Inverse: "amendedBy", Target: Legislation},
			{Name: "repeals", Field: "legRepeals", Inverse: "repealedBy", Target: Legislation},
			{Name: "implementedBy", Field: "legImplementedBy", Target: Legislation, Derived: true},
			{Name: "implementsLegislation", Field: "legImplement", Inverse: "implementedBy", Target: Legislation},
			{Name: "amendedBy", Field: "legAmendedBy", Target: Legislation, Derived: true},
			{Name: "repealedBy", Field: "legRepealedBy", Target: Legislation, Derived: true},
		},
	},
	CourtDecision: {
		Type:         CourtDecision,
		IDField:      "cdLeoId",
		UpdatedField: "cdDateOfModification",
		TextField:    "cdText",
		TitleFields:  []string{"cdTitleOfText_en", "cdTitleOfText_fr", "cdTitleOfText_es", "cdTitleOfText_other"},
		FileFields:   []string{"cdLinkToFullText"},
		Relations: []Relation{
			{Name: "citesTreaty", Field: "cdTreatyReference", Target: Treaty},
			{Name: "citesLegislation", Field: "cdFaolexReference", Target: Legislation},
			{Name: "citesCourtDecision", Field: "cdCourtDecisionReference", Inverse: "citedByCourtDecision", Target: CourtDecision, TargetKey: "cdOriginalId"},
			{Name: "relatedDecision", Field: "cdRelatedDecision", Inverse: "relatedDecision", Target: CourtDecision},
			{Name: "citedByCourtDecision", Field: "cdCitedByCourtDecision", Target: CourtDecision, Derived: true},
		},
	},
	Literature: {
		Type:         Literature,
		IDField:      "litId",
		UpdatedField: "litDateOfModification",
		TextField:    "litText",
		TitleFields: []string{
			"litLongTitle_en", "litLongTitle_fr", "litLongTitle_es", "litLongTitle_other",
			"litPaperTitleOfText_en", "litPaperTitleOfText_fr", "litPaperTitleOfText_es", "litPaperTitleOfText_other",
		},
		FileFields: []string{"litLinkToFullText"},
		Relations: []Relation{
			{Name: "citesTreaty", Field: "litTreatyReference", Target: Treaty},
			{Name: "citesCourtDecision", Field: "litCourtDecisionReference", Target: CourtDecision, TargetKey: "cdOriginalId"},
			{Name: "citesLegislation", Field: "litFaolexReference", Target: Legislation},
			{Name: "citesLiterature", Field: "litLiteratureReference", Inverse: "citedByLiterature", Target: Literature},
			{Name: "citedByLiterature", Field: "litCitedByLiterature", Target: Literature, Derived: true},
		},
	},
}

// SchemaFor returns the schema registered for t. Unknown types get an empty schema.
func SchemaFor(t DocType) Schema {
	return schemas[t]
}
