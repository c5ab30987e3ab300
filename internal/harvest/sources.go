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
	"log/slog"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/DeafMist/ecolex-harvester/internal/fetch"
	"github.com/DeafMist/ecolex-harvester/internal/models"
	"github.com/DeafMist/ecolex-harvester/internal/parser"
	"github.com/DeafMist/ecolex-harvester/internal/processing"
)

// ErrTooLarge is returned when an unpacked package exceeds the configured bound.
var ErrTooLarge = errors.New("unpacked package too large")

// Batch is one source page worth of records.
type Batch struct {
	Records []parser.Record
	// Skipped counts entries dropped before parsing because they are not newer.
	Skipped int
	// Failed counts entries that could not be fetched.
	Failed int
	// Cursor resumes the source after this batch.
	Cursor string
}

// Source yields batches until it returns io.EOF.
type Source interface {
	Next(ctx context.Context) (*Batch, error)
}

// Fetcher is the HTTP surface sources use.
type Fetcher interface {
	fetch.PageFetcher
	Download(ctx context.Context, rawURL string) ([]byte, error)
}

// month is one step of the ELIS time window.
type month struct{ year, month int }

// months expands the window, defaulting to the current month.
func months(opts Options, now time.Time) []month {
	startYear, endYear := opts.StartYear, opts.EndYear
	startMonth, endMonth := opts.StartMonth, opts.EndMonth
	if startYear == 0 {
		startYear = now.Year()
		if startMonth == 0 {
			startMonth = int(now.Month())
		}
	}
	if endYear < startYear {
		endYear = startYear
	}
	if startMonth == 0 {
		startMonth = 1
	}
	if endMonth == 0 {
		if opts.StartYear == 0 && opts.StartMonth == 0 {
			endMonth = startMonth
		} else {
			endMonth = 12
		}
	}
	var out []month
	for y := startYear; y <= endYear; y++ {
		for m := startMonth; m <= endMonth; m++ {
			out = append(out, month{y, m})
		}
	}
	return out
}

// elisDatabases names the ELIS database per type.
var elisDatabases = map[models.DocType]string{
	models.Treaty:     "tre",
	models.Literature: "libcat",
}

// elisSource walks the month window, paging each month's query by skip count.
type elisSource struct {
	f        fetch.PageFetcher
	t        models.DocType
	url      string
	query    string
	pageSize int
	months   []month
	idx      int
	start    int
	pager    *fetch.Pager
	log      *slog.Logger
}

func newElisSource(f fetch.PageFetcher, t models.DocType, rawURL, query string, pageSize int, opts Options, now time.Time, log *slog.Logger) *elisSource {
	s := &elisSource{f: f, t: t, url: rawURL, query: query, pageSize: pageSize, months: months(opts, now), log: log}
	if y, m, off, ok := parseElisCursor(opts.Cursor); ok {
		for i, mo := range s.months {
			if mo.year == y && mo.month == m {
				s.idx, s.start = i, off
				break
			}
		}
	}
	return s
}

func (s *elisSource) monthQuery(m month) string {
	return strings.NewReplacer(
		"{year}", fmt.Sprintf("%04d", m.year),
		"{month}", fmt.Sprintf("%02d", m.month),
	).Replace(s.query)
}

func (s *elisSource) Next(ctx context.Context) (*Batch, error) {
	for s.idx < len(s.months) {
		m := s.months[s.idx]
		if s.pager == nil {
			encoded := hex.EncodeToString([]byte(s.monthQuery(m)))
			database := elisDatabases[s.t]
			s.pager = fetch.NewPager(s.f, fetch.PagerConfig{
				URL:      s.url,
				PageSize: s.pageSize,
				Start:    s.start,
				Mode:     fetch.BySkip,
				Params: func(offset, size int) url.Values {
					return url.Values{
						"database":    {database},
						"search_type": {"page_search"},
						"format_name": {"@xmlexp"},
						"lang":        {"xmlf"},
						"page_header": {"@xmlh"},
						"spage_query": {encoded},
						"spage_first": {strconv.Itoa(offset)},
						"spage_size":  {strconv.Itoa(size)},
					}
				},
				Done: fetch.Any(fetch.ContainsTag("error"), func(p *fetch.Page) bool {
					return parser.Count(s.t, p.Body) == 0
				}),
				Count: func(p *fetch.Page) int { return parser.Count(s.t, p.Body) },
			}, s.log)
			s.start = 0
		}

		page, _, err := s.pager.Next(ctx)
		if errors.Is(err, io.EOF) {
			s.idx++
			s.pager = nil
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s %04d-%02d: %w", s.t, m.year, m.month, err)
		}
		recs, err := parser.Split(s.t, page.Body)
		if err != nil {
			return nil, err
		}
		return &Batch{Records: recs, Cursor: fmt.Sprintf("%04d-%02d:%d", m.year, m.month, s.pager.Offset())}, nil
	}
	return nil, io.EOF
}

func parseElisCursor(c string) (year, month, offset int, ok bool) {
	ym, off, found := strings.Cut(c, ":")
	if !found {
		return 0, 0, 0, false
	}
	var err error
	if _, err = fmt.Sscanf(ym, "%d-%d", &year, &month); err != nil {
		return 0, 0, 0, false
	}
	if offset, err = strconv.Atoi(off); err != nil {
		return 0, 0, 0, false
	}
	return year, month, offset, true
}

func pageParams(offset, size int) url.Values {
	return url.Values{
		"page":           {strconv.Itoa(offset)},
		"items_per_page": {strconv.Itoa(size)},
		"_format":        {"json"},
	}
}

// staticSource serves records already in memory in fixed-size batches.
type staticSource struct {
	recs []parser.Record
	size int
	pos  int
}

func (s *staticSource) Next(context.Context) (*Batch, error) {
	if s.pos >= len(s.recs) {
		return nil, io.EOF
	}
	end := min(s.pos+s.size, len(s.recs))
	b := &Batch{Records: s.recs[s.pos:end]}
	s.pos = end
	return b, nil
}

// flexString decodes a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type listingEntry struct {
	UUID       string     `json:"uuid"`
	LastUpdate flexString `json:"last_update"`
	DataURL    string     `json:"data_url"`
}

// nodeTarget gives the detail URL and query of one uuid.
type nodeTarget func(uuid string) (string, url.Values)

var jsonFormat = url.Values{"_format": {"json"}}

// listingSource pages an index of {uuid, last_update, data_url} entries and
// fetches the detail of every entry that is newer than its indexed copy.
type listingSource struct {
	f      fetch.PageFetcher
	t      models.DocType
	pager  *fetch.Pager
	node   nodeTarget
	lookup updatedLookup
	force  bool
	since  time.Time
	log    *slog.Logger
}

// updatedLookup returns the indexed modification time per external id.
type updatedLookup func(ctx context.Context, t models.DocType, ids []string) (map[string]time.Time, error)

func (s *listingSource) Next(ctx context.Context) (*Batch, error) {
	page, _, err := s.pager.Next(ctx)
	if err != nil {
		return nil, err
	}
	var entries []listingEntry
	if err := json.Unmarshal(page.Body, &entries); err != nil {
		return nil, fmt.Errorf("decode %s index: %w", s.t, err)
	}

	batch := &Batch{Cursor: "page:" + strconv.Itoa(s.pager.Offset())}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.UUID)
	}
	indexed := map[string]time.Time{}
	if !s.force && s.lookup != nil {
		if indexed, err = s.lookup(ctx, s.t, ids); err != nil {
			return nil, err
		}
	}

	for _, e := range entries {
		if e.UUID == "" {
			continue
		}
		updated, err := processing.ParseTimestamp(string(e.LastUpdate))
		if err != nil {
			s.log.Warn("index entry without last_update", slog.String("externalId", e.UUID))
			batch.Failed++
			continue
		}
		if !s.since.IsZero() && updated.Before(s.since) {
			batch.Skipped++
			continue
		}
		if !s.force && !parser.NeedsUpdate(updated, indexed[e.UUID]) {
			batch.Skipped++
			continue
		}
		detail, err := s.detail(ctx, e)
		if err != nil {
			s.log.Warn("detail fetch failed", slog.String("externalId", e.UUID), slog.Any("err", err))
			batch.Failed++
			continue
		}
		batch.Records = append(batch.Records, parser.Record{JSON: detail})
	}
	return batch, nil
}

func (s *listingSource) detail(ctx context.Context, e listingEntry) ([]byte, error) {
	target, params := s.node(e.UUID)
	if e.DataURL != "" {
		target = e.DataURL
	}
	page, err := s.f.FetchPage(ctx, target, params)
	if err != nil {
		return nil, err
	}
	body, err := firstObject(page.Body)
	if err != nil {
		return nil, err
	}
	return withDefaults(body, map[string]string{"uuid": e.UUID, "last_update": string(e.LastUpdate)})
}

// firstObject unwraps a detail response that comes as a one-item list.
func firstObject(body []byte) ([]byte, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '[' {
		return body, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("decode node: %w", err)
	}
	if len(items) == 0 {
		return nil, errors.New("decode node: empty list")
	}
	return items[0], nil
}

// decisionNode addresses decision nodes under the configured node URL.
func decisionNode(nodeURL string) nodeTarget {
	return func(uuid string) (string, url.Values) {
		return strings.TrimRight(nodeURL, "/") + "/" + url.PathEscape(uuid), jsonFormat
	}
}

// courtNode addresses court decision nodes at /node/<uuid>/json on the host
// of the court listing.
func courtNode(courtURL string) nodeTarget {
	root := courtURL
	if u, err := url.Parse(courtURL); err == nil && u.Host != "" {
		root = u.Scheme + "://" + u.Host
	}
	return func(uuid string) (string, url.Values) {
		return strings.TrimRight(root, "/") + "/node/" + url.PathEscape(uuid) + "/json", nil
	}
}

// withDefaults adds string members missing from a JSON object.
func withDefaults(body []byte, defaults map[string]string) ([]byte, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("decode node: %w", err)
	}
	if obj == nil {
		return nil, errors.New("decode node: not an object")
	}
	for k, v := range defaults {
		if _, ok := obj[k]; ok || v == "" {
			continue
		}
		raw, _ := json.Marshal(v)
		obj[k] = raw
	}
	return json.Marshal(obj)
}

// nodeSource fetches the JSON nodes of explicit uuids.
type nodeSource struct {
	f     fetch.PageFetcher
	t     models.DocType
	node  nodeTarget
	uuids []string
	done  bool
}

func (s *nodeSource) Next(ctx context.Context) (*Batch, error) {
	if s.done {
		return nil, io.EOF
	}
	s.done = true
	batch := &Batch{}
	for _, id := range s.uuids {
		target, params := s.node(id)
		page, err := s.f.FetchPage(ctx, target, params)
		if err != nil {
			return nil, fmt.Errorf("fetch %s %s: %w", s.t, id, err)
		}
		recs, err := parser.Split(s.t, page.Body)
		if err != nil {
			return nil, err
		}
		for i := range recs {
			if recs[i].JSON, err = withDefaults(recs[i].JSON, map[string]string{"uuid": id}); err != nil {
				return nil, err
			}
		}
		batch.Records = append(batch.Records, recs...)
	}
	return batch, nil
}

// MeetingFetcher resolves meeting nodes for the decision parser.
type MeetingFetcher struct {
	F       fetch.PageFetcher
	NodeURL string
}

// Meeting implements parser.MeetingSource.
func (m MeetingFetcher) Meeting(ctx context.Context, uuid string) ([]byte, error) {
	target, params := decisionNode(m.NodeURL)(uuid)
	page, err := m.F.FetchPage(ctx, target, params)
	if err != nil {
		return nil, err
	}
	return page.Body, nil
}

// ReadInput loads a legislation package from a local path or an http(s) URL.
func ReadInput(ctx context.Context, f Fetcher, input string) ([]byte, error) {
	if u, err := url.Parse(input); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return f.Download(ctx, input)
	}
	data, err := os.ReadFile(input)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return data, nil
}

// Unpack returns the XML payload of data, which is either plain XML or a zip
// archive holding one XML file. The unpacked file may not exceed limit bytes;
// a limit of zero or less means no bound.
func Unpack(data []byte, limit int64) ([]byte, error) {
	if !bytes.HasPrefix(data, []byte("PK\x03\x04")) {
		return data, nil
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	for _, file := range zr.File {
		if file.FileInfo().IsDir() || !strings.EqualFold(path.Ext(file.Name), ".xml") {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", file.Name, err)
		}
		defer rc.Close()
		var r io.Reader = rc
		if limit > 0 {
			r = io.LimitReader(rc, limit+1)
		}
		body, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file.Name, err)
		}
		if limit > 0 && int64(len(body)) > limit {
			return nil, fmt.Errorf("%s: %w", file.Name, ErrTooLarge)
		}
		return body, nil
	}
	return nil, errors.New("zip archive holds no xml file")
}
