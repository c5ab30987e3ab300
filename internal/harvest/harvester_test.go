package harvest

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/ecolex-harvester/internal/config"
	"github.com/DeafMist/ecolex-harvester/internal/elasticsearch"
	"github.com/DeafMist/ecolex-harvester/internal/events"
	"github.com/DeafMist/ecolex-harvester/internal/fetch"
	"github.com/DeafMist/ecolex-harvester/internal/models"
	"github.com/DeafMist/ecolex-harvester/internal/parser"
	"github.com/DeafMist/ecolex-harvester/internal/store"
	"github.com/DeafMist/ecolex-harvester/internal/upsert"
	"github.com/DeafMist/ecolex-harvester/internal/vocab"
)

type stubFetcher struct {
	mu    sync.Mutex
	pages func(rawURL string, params url.Values) (string, error)
	calls []url.Values
	urls  []string
}

func (s *stubFetcher) FetchPage(_ context.Context, rawURL string, params url.Values) (*fetch.Page, error) {
	s.mu.Lock()
	s.calls = append(s.calls, params)
	s.urls = append(s.urls, rawURL)
	s.mu.Unlock()
	body, err := s.pages(rawURL, params)
	if err != nil {
		return nil, err
	}
	return &fetch.Page{StatusCode: 200, Body: []byte(body)}, nil
}

func (s *stubFetcher) Download(_ context.Context, rawURL string) ([]byte, error) {
	body, err := s.pages(rawURL, nil)
	return []byte(body), err
}

type stubIndex struct {
	docs      map[string]*models.Document
	deleted   []string
	committed int
}

func newStubIndex(docs ...*models.Document) *stubIndex {
	s := &stubIndex{docs: map[string]*models.Document{}}
	for _, d := range docs {
		s.docs[d.ExternalID] = d
	}
	return s
}

func (s *stubIndex) ExistingKeys(_ context.Context, t models.DocType, _ string, values []string) (map[string]bool, error) {
	out := map[string]bool{}
	for _, v := range values {
		if d, ok := s.docs[v]; ok && d.Type == t {
			out[v] = true
		}
	}
	return out, nil
}

func (s *stubIndex) FindExisting(_ context.Context, t models.DocType, ids []string) (map[string]elasticsearch.Existing, error) {
	out := map[string]elasticsearch.Existing{}
	for _, id := range ids {
		d, ok := s.docs[id]
		if !ok || d.Type != t {
			continue
		}
		e := elasticsearch.Existing{ID: d.ID, UpdatedAt: d.UpdatedAt, IndexedAt: d.IndexedAt, Derived: map[string][]string{}}
		for name, refs := range d.Refs {
			if r, ok := d.Schema().Relation(name); ok && r.Derived {
				e.Derived[name] = refs
			}
		}
		out[id] = e
	}
	return out, nil
}

func (s *stubIndex) Scan(_ context.Context, _ string, _ int, fn func(*models.Document) error) error {
	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := fn(s.docs[id]); err != nil {
			return err
		}
	}
	return nil
}

func (s *stubIndex) DeleteByQuery(_ context.Context, query string, _ int) (int64, error) {
	s.deleted = append(s.deleted, query)
	return 1, nil
}

func (s *stubIndex) CommitOptimise(context.Context) error {
	s.committed++
	return nil
}

func (s *stubIndex) BulkUpsert(_ context.Context, docs []*models.Document) (map[string]error, error) {
	for _, d := range docs {
		s.docs[d.ExternalID] = d
	}
	return nil, nil
}

func (s *stubIndex) Upsert(_ context.Context, d *models.Document) error {
	s.docs[d.ExternalID] = d
	return nil
}

type stubCursors struct {
	start string
	saved []string
}

func (s *stubCursors) Cursor(context.Context, models.DocType) (string, error) { return s.start, nil }

func (s *stubCursors) SaveCursor(_ context.Context, _ models.DocType, c string) error {
	s.saved = append(s.saved, c)
	return nil
}

type stubProgress struct {
	pending []string
	entries []store.Entry
}

func (s *stubProgress) Pending(_ context.Context, d *models.Document) error {
	s.pending = append(s.pending, d.ExternalID)
	return nil
}

func (s *stubProgress) Failures(context.Context, models.DocType) ([]store.Entry, error) {
	return s.entries, nil
}

type stubDead struct{ failures []events.Failure }

func (s *stubDead) Failed(_ context.Context, f events.Failure) error {
	s.failures = append(s.failures, f)
	return nil
}

var now = time.Date(2020, 9, 20, 0, 0, 0, 0, time.UTC)

func newHarvester(t *testing.T, f Fetcher, idx *stubIndex, deps Deps) *Harvester {
	t.Helper()
	v, err := vocab.Open("", nil)
	require.NoError(t, err)
	deps.Fetcher = f
	deps.Index = idx
	deps.Writer = upsert.New(idx, nil, nil, upsert.Config{BatchSize: 10, Backoff: time.Millisecond}, nil)
	deps.Parsers = parser.NewRegistry(
		parser.NewTreatyParser(v, nil),
		parser.NewLegislationParser(v, nil),
		parser.NewDecisionParser(v, nil, nil, time.Minute, nil),
		parser.NewCourtDecisionParser(v, nil),
	)
	if deps.Sources.BatchSize == 0 {
		deps.Sources = config.Sources{
			TreatyURL:        "http://elis/tre",
			TreatyQuery:      "DM={year}{month}*",
			ElisPageSize:     2,
			DecisionURL:      "http://informea/decisions",
			DecisionNodeURL:  "http://informea/node",
			DecisionPageSize: 10,
			CourtURL:         "http://leo/ws/court_decisions",
			CourtPageSize:    10,
			BatchSize:        10,
		}
	}
	h := New(deps)
	h.now = func() time.Time { return now }
	return h
}

const treatyPage = `<result>
  <document><recid>TRE-000002</recid><dateofmodification>2020-01-05</dateofmodification>
    <titleoftext>New Convention</titleoftext><entryintoforcedate>2001-01-01</entryintoforcedate>
    <supersedestreaty>TRE-000001</supersedestreaty><supersedestreaty>TRE-999999</supersedestreaty></document>
  <document><recid>TRE-000001</recid><dateofmodification>2020-01-04</dateofmodification>
    <titleoftext>Old Convention</titleoftext><entryintoforcedate>1990-01-01</entryintoforcedate></document>
</result>`

func treatyPages(_ string, params url.Values) (string, error) {
	if params.Get("spage_first") == "0" {
		return treatyPage, nil
	}
	return `<result><error>no more records</error></result>`, nil
}

func TestMonths(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want []month
	}{
		{name: "default is current month", want: []month{{2020, 9}}},
		{name: "year only", opts: Options{StartYear: 2019}, want: func() []month {
			var out []month
			for m := 1; m <= 12; m++ {
				out = append(out, month{2019, m})
			}
			return out
		}()},
		{name: "window", opts: Options{StartYear: 2018, EndYear: 2019, StartMonth: 11, EndMonth: 12},
			want: []month{{2018, 11}, {2018, 12}, {2019, 11}, {2019, 12}}},
		{name: "end before start", opts: Options{StartYear: 2019, EndYear: 2010, StartMonth: 3, EndMonth: 3},
			want: []month{{2019, 3}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, months(tt.opts, now))
		})
	}
}

func TestHarvestTreaties(t *testing.T) {
	f := &stubFetcher{pages: treatyPages}
	idx := newStubIndex()
	cursors := &stubCursors{}
	progress := &stubProgress{}
	h := newHarvester(t, f, idx, Deps{Cursors: cursors, Progress: progress})

	opts := Options{StartYear: 2020, StartMonth: 1, EndMonth: 1}
	report, err := h.Harvest(context.Background(), models.Treaty, opts)
	require.NoError(t, err)
	require.Equal(t, upsert.Report{Inserted: 2}, report)
	require.Equal(t, []string{"2020-01:2", ""}, cursors.saved)
	require.ElementsMatch(t, []string{"TRE-000001", "TRE-000002"}, progress.pending)
	require.Equal(t, 1, idx.committed)

	query, err := hex.DecodeString(f.calls[0].Get("spage_query"))
	require.NoError(t, err)
	require.Equal(t, "DM=202001*", string(query))

	newer, old := idx.docs["TRE-000002"], idx.docs["TRE-000001"]
	require.Equal(t, []string{"TRE-000001"}, newer.Refs["supersedes"])
	require.Equal(t, []string{"TRE-000002"}, old.Refs["supersededBy"])
	require.Equal(t, models.TreatySuperseded, old.String("trStatus"))
	require.Equal(t, models.TreatyInForce, newer.String("trStatus"))

	// a second run over unchanged records writes nothing
	report, err = h.Harvest(context.Background(), models.Treaty, opts)
	require.NoError(t, err)
	require.Equal(t, upsert.Report{Skipped: 2}, report)
	require.Equal(t, 1, idx.committed)
}

func TestHarvestWritesInverseOnUnchangedTarget(t *testing.T) {
	page := `<result>
  <document><recid>TRE-000001</recid><dateofmodification>2020-01-04</dateofmodification>
    <titleoftext>Old Convention</titleoftext><entryintoforcedate>1990-01-01</entryintoforcedate></document>
</result>`
	f := &stubFetcher{pages: func(_ string, params url.Values) (string, error) {
		if params.Get("spage_first") == "0" {
			return page, nil
		}
		return `<result><error>no more records</error></result>`, nil
	}}
	idx := newStubIndex()
	h := newHarvester(t, f, idx, Deps{})
	opts := Options{StartYear: 2020, StartMonth: 1, EndMonth: 1}

	report, err := h.Harvest(context.Background(), models.Treaty, opts)
	require.NoError(t, err)
	require.Equal(t, upsert.Report{Inserted: 1}, report)
	require.Equal(t, models.TreatyInForce, idx.docs["TRE-000001"].String("trStatus"))

	// TRE-000001 is unchanged upstream but now has a superseding treaty
	page = treatyPage
	report, err = h.Harvest(context.Background(), models.Treaty, opts)
	require.NoError(t, err)
	require.Equal(t, upsert.Report{Inserted: 1, Updated: 1}, report)
	old := idx.docs["TRE-000001"]
	require.Equal(t, []string{"TRE-000002"}, old.Refs["supersededBy"])
	require.Equal(t, models.TreatySuperseded, old.String("trStatus"))
}

func TestHarvestResumesFromCursor(t *testing.T) {
	f := &stubFetcher{pages: func(string, url.Values) (string, error) { return `<result/>`, nil }}
	cursors := &stubCursors{start: "2020-02:4"}
	h := newHarvester(t, f, newStubIndex(), Deps{Cursors: cursors})

	_, err := h.Harvest(context.Background(), models.Treaty, Options{
		StartYear: 2020, StartMonth: 1, EndMonth: 3, Resume: true,
	})
	require.NoError(t, err)
	require.Len(t, f.calls, 2)
	require.Equal(t, "4", f.calls[0].Get("spage_first"))
	query, err := hex.DecodeString(f.calls[0].Get("spage_query"))
	require.NoError(t, err)
	require.Equal(t, "DM=202002*", string(query))
	require.Equal(t, "0", f.calls[1].Get("spage_first"))
}

func TestHarvestStopsOnFetchError(t *testing.T) {
	f := &stubFetcher{pages: func(string, url.Values) (string, error) {
		return "", &fetch.SourceError{StatusCode: 404}
	}}
	cursors := &stubCursors{}
	h := newHarvester(t, f, newStubIndex(), Deps{Cursors: cursors})

	_, err := h.Harvest(context.Background(), models.Treaty, Options{StartYear: 2020, StartMonth: 1, EndMonth: 1})
	var serr *fetch.SourceError
	require.ErrorAs(t, err, &serr)
	require.Empty(t, cursors.saved)
}

func TestDecisionSource(t *testing.T) {
	f := &stubFetcher{pages: func(rawURL string, params url.Values) (string, error) {
		switch {
		case rawURL == "http://informea/node/u1":
			return `{"uuid":[{"value":"u1"}],"title":[{"value":"Decision 1"}]}`, nil
		case params.Get("page") == "0":
			return `[
				{"uuid":"u1","last_update":"1600000000","data_url":"http://informea/node/u1"},
				{"uuid":"u2","last_update":1600000000},
				{"uuid":"u3","last_update":"1500000000"}
			]`, nil
		}
		return `[]`, nil
	}}
	indexed := models.New(models.Decision, "u2")
	indexed.UpdatedAt = time.Unix(1600000000, 0).UTC()
	h := newHarvester(t, f, newStubIndex(indexed), Deps{})

	src, err := h.source(context.Background(), models.Decision, Options{DaysAgo: 30}, h.Log)
	require.NoError(t, err)

	b, err := src.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, b.Skipped)
	require.Equal(t, "page:1", b.Cursor)
	require.Len(t, b.Records, 1)

	var detail map[string]any
	require.NoError(t, json.Unmarshal(b.Records[0].JSON, &detail))
	require.Equal(t, "1600000000", detail["last_update"])
	require.Equal(t, []any{map[string]any{"value": "u1"}}, detail["uuid"])

	_, err = src.Next(context.Background())
	require.ErrorIs(t, err, io.EOF)
}

func TestDecisionSourceForceSkipsNeedsUpdate(t *testing.T) {
	f := &stubFetcher{pages: func(rawURL string, params url.Values) (string, error) {
		if params.Get("page") == "0" {
			return `[{"uuid":"u2","last_update":1600000000}]`, nil
		}
		if strings.HasSuffix(rawURL, "/u2") {
			return `{"title":"x"}`, nil
		}
		return `[]`, nil
	}}
	indexed := models.New(models.Decision, "u2")
	indexed.UpdatedAt = time.Unix(1600000000, 0).UTC()
	h := newHarvester(t, f, newStubIndex(indexed), Deps{})

	src, err := h.source(context.Background(), models.Decision, Options{Force: true, DaysAgo: -1}, h.Log)
	require.NoError(t, err)
	b, err := src.Next(context.Background())
	require.NoError(t, err)
	require.Zero(t, b.Skipped)
	require.Len(t, b.Records, 1)
	require.Contains(t, string(b.Records[0].JSON), `"uuid":"u2"`)
}

func courtPages(rawURL string, params url.Values) (string, error) {
	switch {
	case rawURL == "http://leo/node/c1/json":
		return `[{"uuid":"c1","title_field":{"en":[{"value":"Smith v State"}]}}]`, nil
	case rawURL == "http://leo/node/c3/json":
		return `{"uuid":"c3","changed":"1700000500","title_field":{"en":[{"value":"Doe v Council"}]}}`, nil
	case rawURL == "http://leo/ws/court_decisions" && params.Get("page") == "0":
		return `[
			{"uuid":"c1","last_update":"1700000000","data_url":"http://leo/node/c1/json"},
			{"uuid":"c2","last_update":"1500000000","data_url":"http://leo/node/c2/json"},
			{"uuid":"c3","last_update":1700000500}
		]`, nil
	case rawURL == "http://leo/ws/court_decisions":
		return `[]`, nil
	}
	return "", fmt.Errorf("unexpected fetch %s", rawURL)
}

func TestHarvestCourtDecisions(t *testing.T) {
	indexed := models.New(models.CourtDecision, "c2")
	indexed.ID = "doc-c2"
	indexed.UpdatedAt = time.Unix(1600000000, 0).UTC()
	idx := newStubIndex(indexed)
	f := &stubFetcher{pages: courtPages}
	h := newHarvester(t, f, idx, Deps{})

	report, err := h.Harvest(context.Background(), models.CourtDecision, Options{})
	require.NoError(t, err)
	require.Equal(t, upsert.Report{Inserted: 2, Skipped: 1}, report)

	require.NotContains(t, f.urls, "http://leo/node/c2/json")
	require.Contains(t, f.urls, "http://leo/node/c1/json")
	require.Contains(t, f.urls, "http://leo/node/c3/json")

	c1 := idx.docs["c1"]
	require.Equal(t, "Smith v State", c1.String("cdTitleOfText_en"))
	require.True(t, time.Unix(1700000000, 0).Equal(c1.UpdatedAt), "got %s", c1.UpdatedAt)
	require.True(t, time.Unix(1700000500, 0).Equal(idx.docs["c3"].UpdatedAt))
}

func TestCourtSourceForceRefetchesIndexed(t *testing.T) {
	indexed := models.New(models.CourtDecision, "c2")
	indexed.UpdatedAt = time.Unix(1600000000, 0).UTC()
	f := &stubFetcher{pages: func(rawURL string, params url.Values) (string, error) {
		if rawURL == "http://leo/node/c2/json" {
			return `{"title_field":{"en":[{"value":"Old case"}]}}`, nil
		}
		return courtPages(rawURL, params)
	}}
	h := newHarvester(t, f, newStubIndex(indexed), Deps{})

	src, err := h.source(context.Background(), models.CourtDecision, Options{Force: true}, h.Log)
	require.NoError(t, err)
	b, err := src.Next(context.Background())
	require.NoError(t, err)
	require.Zero(t, b.Skipped)
	require.Len(t, b.Records, 3)
	require.Contains(t, string(b.Records[1].JSON), `"last_update":"1500000000"`)
}

func TestNodeTargets(t *testing.T) {
	tests := []struct {
		name   string
		t      models.DocType
		uuid   string
		url    string
		format string
	}{
		{name: "court node on the listing host", t: models.CourtDecision, uuid: "c9", url: "http://leo/node/c9/json"},
		{name: "decision node", t: models.Decision, uuid: "u9", url: "http://informea/node/u9", format: "json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &stubFetcher{pages: func(string, url.Values) (string, error) {
				return `{"changed":"1700000000","title_field":{"en":[{"value":"x"}]}}`, nil
			}}
			h := newHarvester(t, f, newStubIndex(), Deps{})

			src, err := h.source(context.Background(), tt.t, Options{UUIDs: []string{tt.uuid}}, h.Log)
			require.NoError(t, err)
			b, err := src.Next(context.Background())
			require.NoError(t, err)
			require.Len(t, b.Records, 1)
			require.Equal(t, []string{tt.url}, f.urls)
			require.Equal(t, tt.format, f.calls[0].Get("_format"))
		})
	}
}

const legislationPackage = `<records>
  <record><meta name="Id" content="LEX-1"/><meta name="Title_of_Text" content="Water Act"/>
    <meta name="Date_of_Modification" content="2015-03-04"/></record>
  <record><meta name="Id" content="LEX-2"/><meta name="Type_of_Text" content="A"/></record>
  <record><meta name="Title_of_Text" content="No id"/></record>
</records>`

func zipped(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(files[name]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestIngestLegislation(t *testing.T) {
	idx := newStubIndex()
	dead := &stubDead{}
	h := newHarvester(t, nil, idx, Deps{Dead: dead})

	report, err := h.Ingest(context.Background(), zipped(t, map[string]string{"export.xml": legislationPackage}))
	require.NoError(t, err)
	require.Equal(t, upsert.Report{Inserted: 1, Ignored: 1, Failed: 1}, report)
	require.Contains(t, idx.docs, "LEX-1")
	require.NotContains(t, idx.docs, "LEX-2")

	require.Len(t, dead.failures, 1)
	require.Equal(t, models.Legislation, dead.failures[0].Type)
	require.Equal(t, "parse", dead.failures[0].Stage)
	require.NotEmpty(t, dead.failures[0].Payload)
}

func TestUnpack(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		limit    int64
		want     string
		wantErr  bool
		tooLarge bool
	}{
		{name: "plain xml", data: []byte("<records/>"), want: "<records/>"},
		{name: "zip", data: zipped(t, map[string]string{"readme.txt": "x", "data/export.XML": "<records/>"}), want: "<records/>"},
		{name: "zip without xml", data: zipped(t, map[string]string{"readme.txt": "x"}), wantErr: true},
		{name: "at the bound", data: zipped(t, map[string]string{"export.xml": "<records/>"}), limit: 10, want: "<records/>"},
		{name: "over the bound", data: zipped(t, map[string]string{"export.xml": "<records>" + strings.Repeat("<r/>", 64) + "</records>"}), limit: 32, tooLarge: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Unpack(tt.data, tt.limit)
			if tt.tooLarge {
				require.ErrorIs(t, err, ErrTooLarge)
				return
			}
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, string(got))
		})
	}
}

func TestReindexFailed(t *testing.T) {
	d := models.New(models.Treaty, "TRE-000003")
	d.UpdatedAt = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	d.Set("trTitleOfText_en", "Pending Convention")
	raw, err := json.Marshal(d)
	require.NoError(t, err)

	idx := newStubIndex()
	progress := &stubProgress{entries: []store.Entry{
		{DocID: "TRE-000003", DocType: models.Treaty, ParsedJSON: raw},
		{DocID: "TRE-000004", DocType: models.Treaty},
	}}
	h := newHarvester(t, nil, idx, Deps{Progress: progress})

	report, err := h.ReindexFailed(context.Background(), models.Treaty)
	require.NoError(t, err)
	require.Equal(t, upsert.Report{Inserted: 1, Failed: 1}, report)
	require.Equal(t, "Pending Convention", idx.docs["TRE-000003"].String("trTitleOfText_en"))
}

func TestUpdateStatus(t *testing.T) {
	newer := models.New(models.Treaty, "TRE-A")
	newer.ID = "id-a"
	newer.Set("trEntryIntoForceDate", "2001-01-01T00:00:00Z")
	newer.Set("trStatus", models.TreatyInForce)
	newer.AddRef("supersedes", "TRE-B")

	old := models.New(models.Treaty, "TRE-B")
	old.ID = "id-b"
	old.Set("trEntryIntoForceDate", "1990-01-01T00:00:00Z")
	old.Set("trStatus", models.TreatyInForce)

	idx := newStubIndex(newer, old)
	h := newHarvester(t, nil, idx, Deps{})

	report, err := h.UpdateStatus(context.Background())
	require.NoError(t, err)
	require.Equal(t, upsert.Report{Updated: 1}, report)
	require.Equal(t, models.TreatySuperseded, idx.docs["TRE-B"].String("trStatus"))
	require.Equal(t, "id-b", idx.docs["TRE-B"].ID)
	require.Equal(t, models.TreatyInForce, idx.docs["TRE-A"].String("trStatus"))
}

func TestDeleteBySlug(t *testing.T) {
	idx := newStubIndex()
	h := newHarvester(t, nil, idx, Deps{})

	n, err := h.DeleteBySlug(context.Background(), "forest-act-lex-1")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	require.Equal(t, []string{`slug:forest\-act\-lex\-1`}, idx.deleted)
	require.Equal(t, 1, idx.committed)

	_, err = h.DeleteBySlug(context.Background(), "  ")
	require.Error(t, err)
}

func TestHarvestAllJoinsErrors(t *testing.T) {
	f := &stubFetcher{pages: func(string, url.Values) (string, error) { return "", errors.New("connection refused") }}
	h := newHarvester(t, f, newStubIndex(), Deps{})

	reports, err := h.HarvestAll(context.Background(), []models.DocType{models.Treaty, models.Legislation}, Options{DaysAgo: -1})
	require.Error(t, err)
	require.ErrorContains(t, err, "treaty")
	require.ErrorContains(t, err, "legislation needs an input")
	require.Len(t, reports, 2)
}

func TestCursorPage(t *testing.T) {
	require.Equal(t, 3, cursorPage("page:3"))
	require.Equal(t, 0, cursorPage(""))
	require.Equal(t, 0, cursorPage("page:-1"))
}
