package processing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/ecolex-harvester/internal/processing"
)

func TestCleanText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "", want: ""},
		{name: "entities", input: "Flora &amp; Fauna", want: "Flora & Fauna"},
		{name: "collapse whitespace", input: "foo\n\nbar\t baz ", want: "foo bar baz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := processing.CleanText(tt.input); got != tt.want {
				t.Fatalf("CleanText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSlugify(t *testing.T) {
	require.Equal(t, "forest-act-lex-1", processing.Slugify("Forest Act", "LEX-1"))
	require.Equal(t, "loi-sur-l-amerique", processing.Slugify("Loi sur l'Amérique"))
	require.Equal(t, "", processing.Slugify("  --  "))
}

func TestFolding(t *testing.T) {
	require.Equal(t, "Amerique", processing.StripAccents("Amérique"))
	require.Equal(t, "cote d'ivoire", processing.FoldLabel("  Côte   d'Ivoire "))
}

func TestStripAuthorMarkers(t *testing.T) {
	require.Equal(t, "Smith, J. ed.", processing.StripAuthorMarkers("^aSmith, J.^bed."))
	require.Equal(t, "Doe", processing.StripAuthorMarkers("Doe"))
}

func TestRewriteURL(t *testing.T) {
	require.Equal(t,
		"http://www.ecolex.org/server2neu.php/libcat/docs/TRE-1.pdf",
		processing.RewriteURL("http://www.ecolex.org/server2.php/server2neu.php/libcat/docs/TRE-1.pdf"),
	)
	require.Equal(t, "https://example.org/a.pdf", processing.RewriteURL(" https://example.org/a.pdf "))
}

func TestDedupe(t *testing.T) {
	require.Equal(t, []string{"a", "b"}, processing.Dedupe([]string{"a", "", "b", "a"}))
	require.Nil(t, processing.Dedupe(nil))
	require.Equal(t, "x", processing.FirstNonEmpty("", " ", " x ", "y"))
}

func TestNormaliseDate(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "2020", want: "2020-01-01T00:00:00Z"},
		{raw: "2020-07", want: "2020-07-01T00:00:00Z"},
		{raw: "2020-00-00", want: "2020-01-01T00:00:00Z"},
		{raw: "1992-6-5", want: "1992-06-05T00:00:00Z"},
		{raw: "2015-03-04T10:00:00Z", want: "2015-03-04T00:00:00Z"},
		{raw: "2015-03-04T00:00:00Z", want: "2015-03-04T00:00:00Z"},
		{raw: "Fri Jun 12 09:30:00 CEST 2015", want: "2015-06-12T00:00:00Z"},
		{raw: "0000-01-01", wantErr: true},
		{raw: "2019-02-30", wantErr: true},
		{raw: "2019-13-01", wantErr: true},
		{raw: "1990-1995", wantErr: true},
		{raw: "unknown", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := processing.NormaliseDate(tt.raw)
			if tt.wantErr {
				require.ErrorIs(t, err, processing.ErrInvalidDate)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Time
	}{
		{raw: "2020-09-20T10:11:12Z", want: time.Date(2020, 9, 20, 10, 11, 12, 0, time.UTC)},
		{raw: "2020-09-20T12:11:12+02:00", want: time.Date(2020, 9, 20, 10, 11, 12, 0, time.UTC)},
		{raw: "2020-09-20 10:11:12", want: time.Date(2020, 9, 20, 10, 11, 12, 0, time.UTC)},
		{raw: "1600000000", want: time.Date(2020, 9, 13, 12, 26, 40, 0, time.UTC)},
		{raw: "999999999", want: time.Date(2001, 9, 9, 1, 46, 39, 0, time.UTC)},
		{raw: "20200102", want: time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)},
		{raw: "Fri Jun 12 09:30:00 CEST 2015", want: time.Date(2015, 6, 12, 9, 30, 0, 0, time.UTC)},
		{raw: "2020", want: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := processing.ParseTimestamp(tt.raw)
			require.NoError(t, err)
			require.True(t, tt.want.Equal(got), "got %s", got)
		})
	}

	for _, raw := range []string{"", "12345", "20201302"} {
		_, err := processing.ParseTimestamp(raw)
		require.ErrorIs(t, err, processing.ErrInvalidDate, raw)
	}
	require.Equal(t, "2020-09-13T12:26:40Z", processing.FormatTimestamp(time.Unix(1600000000, 0)))
}

func TestYearRange(t *testing.T) {
	start, end, ok := processing.YearRange("1990 - 1995")
	require.True(t, ok)
	require.Equal(t, "1990", start)
	require.Equal(t, "1995", end)

	_, _, ok = processing.YearRange("1990")
	require.False(t, ok)

	require.Equal(t, int64(2020), processing.Year("2020-01-01T00:00:00Z"))
	require.Zero(t, processing.Year(""))
}
