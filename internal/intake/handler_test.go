package intake_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/ecolex-harvester/internal/intake"
	"github.com/DeafMist/ecolex-harvester/internal/upsert"
)

type stubIngester struct {
	report upsert.Report
	err    error
	got    []byte
}

func (s *stubIngester) Ingest(_ context.Context, data []byte) (upsert.Report, error) {
	s.got = data
	return s.report, s.err
}

type stubHealth struct{ err error }

func (s stubHealth) Health(context.Context) error { return s.err }

func upload(t *testing.T, field string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	w, err := mw.CreateFormFile(field, "export.zip")
	require.NoError(t, err)
	_, err = w.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUpload(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		field    string
		content  []byte
		ingest   *stubIngester
		status   int
		response *intake.Response
		errMsg   string
	}{
		{
			name:    "accepted",
			key:     "secret",
			field:   "file",
			content: []byte("PK\x03\x04zip"),
			ingest:  &stubIngester{report: upsert.Report{Inserted: 2, Updated: 1, Ignored: 1, Skipped: 1}},
			status:  http.StatusOK,
			response: &intake.Response{
				Status: "ok", Total: 5, Added: 2, Updated: 1, Ignored: 1,
			},
		},
		{name: "missing key", field: "file", content: []byte("x"), ingest: &stubIngester{}, status: http.StatusForbidden, errMsg: "forbidden"},
		{name: "wrong key", key: "guess", field: "file", content: []byte("x"), ingest: &stubIngester{}, status: http.StatusForbidden, errMsg: "forbidden"},
		{name: "missing file field", key: "secret", field: "other", content: []byte("x"), ingest: &stubIngester{}, status: http.StatusBadRequest},
		{name: "too large", key: "secret", field: "file", content: bytes.Repeat([]byte("x"), 4096), ingest: &stubIngester{}, status: http.StatusRequestEntityTooLarge},
		{
			name: "pipeline error is hidden", key: "secret", field: "file", content: []byte("x"),
			ingest: &stubIngester{err: errors.New("dial tcp 10.0.0.1:9200: connection refused")},
			status: http.StatusInternalServerError, errMsg: "internal error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := intake.New(tt.ingest, nil, intake.Config{APIKey: "secret", MaxUploadBytes: 2048, ScratchDir: t.TempDir()}, nil)
			body, contentType := upload(t, tt.field, tt.content)
			req := httptest.NewRequest(http.MethodPost, "/legislation", body)
			req.Header.Set("Content-Type", contentType)
			if tt.key != "" {
				req.Header.Set(intake.KeyHeader, tt.key)
			}
			rec := httptest.NewRecorder()
			h.Routes().ServeHTTP(rec, req)

			require.Equal(t, tt.status, rec.Code)
			if tt.response != nil {
				var got intake.Response
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
				require.Equal(t, *tt.response, got)
				require.Equal(t, tt.content, tt.ingest.got)
			}
			if tt.errMsg != "" {
				var got map[string]string
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
				require.Equal(t, tt.errMsg, got["error"])
			}
			if tt.status == http.StatusForbidden {
				require.Nil(t, tt.ingest.got)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		health intake.HealthChecker
		status int
	}{
		{name: "ok", health: stubHealth{}, status: http.StatusOK},
		{name: "index down", health: stubHealth{err: errors.New("red")}, status: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := intake.New(&stubIngester{}, tt.health, intake.Config{APIKey: "secret"}, nil)
			rec := httptest.NewRecorder()
			h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			require.Equal(t, tt.status, rec.Code)
		})
	}
}
