package fetch_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/ecolex-harvester/internal/fetch"
)

func testClient() *fetch.Client {
	return fetch.New(fetch.Config{
		Timeout:     time.Second,
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}, nil)
}

func TestFetchPageRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		require.Equal(t, "2", r.URL.Query().Get("page"))
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	page, err := testClient().FetchPage(context.Background(), srv.URL, url.Values{"page": {"2"}})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, page.StatusCode)
	require.Equal(t, "ok", string(page.Body))
	require.Equal(t, int32(3), calls.Load())
}

func TestFetchPageGivesUpAfterAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testClient().FetchPage(context.Background(), srv.URL, nil)
	require.Error(t, err)
	require.True(t, fetch.IsTransient(err))
	require.Equal(t, int32(3), calls.Load())
}

func TestFetchPageClientErrorIsNotRetried(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		calls   int32
		isFinal bool
	}{
		{name: "not found", status: http.StatusNotFound, calls: 1, isFinal: true},
		{name: "forbidden", status: http.StatusForbidden, calls: 1, isFinal: true},
		{name: "request timeout", status: http.StatusRequestTimeout, calls: 3},
		{name: "too many requests", status: http.StatusTooManyRequests, calls: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := testClient().FetchPage(context.Background(), srv.URL, nil)
			require.Error(t, err)
			var se *fetch.SourceError
			require.Equal(t, tt.isFinal, errors.As(err, &se))
			require.Equal(t, tt.calls, calls.Load())
		})
	}
}

func TestSizeUsesHead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("Content-Length", "1234")
	}))
	defer srv.Close()

	size, err := testClient().Size(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, int64(1234), size)
}

func TestPagerByNumberStopsOnEmptyJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page >= 2 {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		_, _ = w.Write([]byte(`[{"uuid":"u` + strconv.Itoa(page) + `"}]`))
	}))
	defer srv.Close()

	p := fetch.NewPager(testClient(), fetch.PagerConfig{
		URL:      srv.URL,
		PageSize: 1,
		Mode:     fetch.ByNumber,
		Params: func(offset, size int) url.Values {
			return url.Values{"page": {strconv.Itoa(offset)}, "items_per_page": {strconv.Itoa(size)}}
		},
		Done: fetch.EmptyJSON,
	}, nil)

	var offsets []int
	for {
		_, at, err := p.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		offsets = append(offsets, at)
	}
	require.Equal(t, []int{0, 1}, offsets)
	require.Equal(t, 2, p.Offset())
}

func TestPagerBySkipStopsOnErrorTag(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		skip := r.URL.Query().Get("spage_first")
		seen = append(seen, skip)
		if skip == "4" {
			_, _ = w.Write([]byte(`<result><error>no results</error></result>`))
			return
		}
		_, _ = w.Write([]byte(`<result><document/><document/></result>`))
	}))
	defer srv.Close()

	p := fetch.NewPager(testClient(), fetch.PagerConfig{
		URL:      srv.URL,
		PageSize: 2,
		Mode:     fetch.BySkip,
		Params: func(offset, size int) url.Values {
			return url.Values{"spage_first": {strconv.Itoa(offset)}, "per_page": {strconv.Itoa(size)}}
		},
		Done:  fetch.ContainsTag("error"),
		Count: func(*fetch.Page) int { return 2 },
	}, nil)

	pages := 0
	for {
		_, _, err := p.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		pages++
	}
	require.Equal(t, 2, pages)
	require.Equal(t, []string{"0", "2", "4"}, seen)
}

func TestPagerSkipsTransientPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "0":
			w.WriteHeader(http.StatusInternalServerError)
		case "1":
			_, _ = w.Write([]byte(`[1]`))
		default:
			_, _ = w.Write([]byte(`[]`))
		}
	}))
	defer srv.Close()

	p := fetch.NewPager(testClient(), fetch.PagerConfig{
		URL: srv.URL,
		Params: func(offset, _ int) url.Values {
			return url.Values{"page": {strconv.Itoa(offset)}}
		},
		Done: fetch.EmptyJSON,
	}, nil)

	page, at, err := p.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, at)
	require.Equal(t, "[1]", string(page.Body))

	_, _, err = p.Next(context.Background())
	require.ErrorIs(t, err, io.EOF)
}

func TestEmptyJSON(t *testing.T) {
	tests := []struct {
		body string
		want bool
	}{
		{body: "", want: true},
		{body: "[]", want: true},
		{body: " null ", want: true},
		{body: "{}", want: true},
		{body: `[{"a":1}]`, want: false},
		{body: "<xml/>", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			require.Equal(t, tt.want, fetch.EmptyJSON(&fetch.Page{Body: []byte(tt.body)}))
		})
	}
}
