package parser

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/DeafMist/ecolex-harvester/internal/memo"
	"github.com/DeafMist/ecolex-harvester/internal/models"
	"github.com/DeafMist/ecolex-harvester/internal/processing"
	"github.com/DeafMist/ecolex-harvester/internal/vocab"
)

var decisionFields = []Field{
	{Source: "titlefield", Target: "decShortTitle", Multilingual: true},
	{Source: "fielddecisionnumber", Target: "decNumber", FalseMultilingual: true},
	{Source: "fieldsortingdate", Target: "decPublishDate", Date: true},
	{Source: "fielddecisionstatus", Target: "decStatus", FalseMultilingual: true},
	{Source: "fielddecisiontype", Target: "decType", FalseMultilingual: true},
	{Source: "fieldurl", Target: "decLink", Multivalued: true, URL: true},
	{Source: "fieldfiles", Target: "decFileUrls", Multivalued: true, URL: true},
}

var meetingFields = []Field{
	{Source: "titlefield", Target: "decMeetingTitle", Multilingual: true},
	{Source: "fieldmeetingtype", Target: "decMeetingType", FalseMultilingual: true},
	{Source: "fieldurl", Target: "decMeetingUrl", FalseMultilingual: true, URL: true},
	{Source: "fielddate", Target: "decMeetingDate", Date: true},
	{Source: "fieldcity", Target: "decMeetingCity", FalseMultilingual: true},
}

// treatyTitleLanguages are copied from the linked treaty into decTreatyName_*.
var treatyTitleLanguages = []string{"en", "fr", "es", "other"}

// TreatyLookup finds an indexed document by external id. It returns nil, nil
// when the document is absent.
type TreatyLookup interface {
	FindByExternalID(ctx context.Context, t models.DocType, externalID string) (*models.Document, error)
}

// MeetingSource fetches the JSON node of one meeting.
type MeetingSource interface {
	Meeting(ctx context.Context, uuid string) ([]byte, error)
}

// DecisionParser reads decision detail JSON nodes. Treaties and meetings are
// memoised for the life of the parser.
type DecisionParser struct {
	base
	treaties    TreatyLookup
	meetings    MeetingSource
	treatyMemo  *memo.Cache[string, *models.Document]
	meetingMemo *memo.Cache[string, JSONObject]
}

// NewDecisionParser returns a decision parser. treaties and meetings may be nil.
func NewDecisionParser(v *vocab.Vocabulary, treaties TreatyLookup, meetings MeetingSource, ttl time.Duration, log *slog.Logger) *DecisionParser {
	return &DecisionParser{
		base:        newBase(v, log),
		treaties:    treaties,
		meetings:    meetings,
		treatyMemo:  memo.New[string, *models.Document](1024, ttl),
		meetingMemo: memo.New[string, JSONObject](1024, ttl),
	}
}

// Type implements Parser.
func (p *DecisionParser) Type() models.DocType { return models.Decision }

// Parse implements Parser.
func (p *DecisionParser) Parse(ctx context.Context, rec Record) (*models.Document, error) {
	obj, err := DecodeObject(rec.JSON)
	if err != nil {
		return nil, &ParseError{DocType: models.Decision, Err: err}
	}
	id := obj.String("uuid")
	if id == "" {
		return nil, parseErr(models.Decision, "", "missing uuid")
	}

	d := models.New(models.Decision, id)
	raw := processing.FirstNonEmpty(obj.String("last_update"), obj.String("changed"))
	updated, err := timestamp(models.Decision, id, raw)
	if err != nil {
		return nil, err
	}
	if updated.IsZero() {
		return nil, parseErr(models.Decision, id, "missing last_update")
	}
	d.UpdatedAt = updated

	p.apply(d, obj.Values(), decisionFields)
	p.body(d, obj)
	d.Set("decFileNames", processing.Dedupe(allValues(obj.Member("field_files", "filename"))))

	miss := vocab.Miss{DocType: models.Decision, ExternalID: id, Field: "decKeyword"}
	keywords := foreignKeywords(p.vocab, allValues(obj.Member("field_informea_tags")))
	setAligned(d, "decKeyword", p.vocab.ResolveList(vocab.Keyword, miss, keywords))

	if uuids := allValues(obj.Member("field_treaty", "uuid")); len(uuids) > 0 {
		p.attachTreaty(ctx, d, uuids[0])
	}
	if uuids := allValues(obj.Member("field_meeting", "uuid")); len(uuids) > 0 {
		p.attachMeeting(ctx, d, uuids[0])
	}

	finish(d)
	return d, nil
}

func (p *DecisionParser) body(d *models.Document, obj JSONObject) {
	for target, key := range map[string]string{"decBody": "value", "decSummary": "summary"} {
		langs := obj.Member("body", key)
		tags := make([]string, 0, len(langs))
		for tag := range langs {
			tags = append(tags, tag)
		}
		sort.Strings(tags)
		for _, tag := range tags {
			suffix, ok := languages[tag]
			if !ok || len(langs[tag]) == 0 {
				continue
			}
			d.Set(target+"_"+suffix, processing.CleanText(langs[tag][0]))
		}
	}
}

// attachTreaty links the decision to its treaty through the identity table and
// copies treaty-derived fields from the indexed treaty.
func (p *DecisionParser) attachTreaty(ctx context.Context, d *models.Document, uuid string) {
	d.Set("decTreatyId", uuid)
	ref, ok := p.vocab.TreatyByUUID(uuid)
	if !ok {
		p.log.Warn("treaty not in identity table",
			slog.String("externalId", d.ExternalID),
			slog.String("treatyUuid", uuid),
		)
		return
	}
	d.AddRef("treatyOf", ref.EcolexID)

	var treaty *models.Document
	if p.treaties != nil {
		var err error
		treaty, err = p.treatyMemo.GetOrLoad(ref.EcolexID, func() (*models.Document, error) {
			return p.treaties.FindByExternalID(ctx, models.Treaty, ref.EcolexID)
		})
		if err != nil {
			p.log.Warn("treaty lookup failed",
				slog.String("externalId", d.ExternalID),
				slog.String("treaty", ref.EcolexID),
				slog.Any("err", err),
			)
		}
	}
	if treaty != nil {
		for _, lang := range treatyTitleLanguages {
			d.Set("decTreatyName_"+lang, treaty.String("trTitleOfText_"+lang))
		}
		countries := [3][]string{}
		for _, party := range treaty.Parties {
			countries[0] = append(countries[0], party.Country.EN)
			countries[1] = append(countries[1], party.Country.FR)
			countries[2] = append(countries[2], party.Country.ES)
		}
		for i, lang := range []string{"en", "fr", "es"} {
			d.Set("partyCountry_"+lang, countries[i])
			d.Set("trSubject_"+lang, treaty.Strings("trSubject_"+lang))
		}
	}
	if d.String("decTreatyName_en") == "" {
		d.Set("decTreatyName_en", ref.ShortName)
	}
}

func (p *DecisionParser) attachMeeting(ctx context.Context, d *models.Document, uuid string) {
	d.Set("decMeetingId", uuid)
	if p.meetings == nil {
		return
	}
	meeting, err := p.meetingMemo.GetOrLoad(uuid, func() (JSONObject, error) {
		body, err := p.meetings.Meeting(ctx, uuid)
		if err != nil {
			return nil, err
		}
		obj, err := DecodeObject(body)
		if err != nil {
			return nil, fmt.Errorf("meeting %s: %w", uuid, err)
		}
		return obj, nil
	})
	if err != nil {
		p.log.Warn("meeting lookup failed",
			slog.String("externalId", d.ExternalID),
			slog.String("meeting", uuid),
			slog.Any("err", err),
		)
		return
	}
	p.apply(d, meeting.Values(), meetingFields)
}

// NeedsUpdate reports whether a listing entry's last_update is newer than the
// indexed copy.
func NeedsUpdate(lastUpdate, indexed time.Time) bool {
	return indexed.IsZero() || lastUpdate.After(indexed)
}
