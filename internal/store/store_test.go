package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/ecolex-harvester/internal/models"
	"github.com/DeafMist/ecolex-harvester/internal/store"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "cache", "document_text.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertGetAndConflict(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	e := &store.Entry{
		DocID:   "u1",
		DocType: models.Decision,
		URL:     "http://files/a.pdf",
		Size:    -1,
		Status:  models.StatusPending,
	}
	require.NoError(t, s.Insert(ctx, e))
	require.NotZero(t, e.ID)

	got, err := s.Get(ctx, models.Decision, "u1", "http://files/a.pdf")
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, got.Status)
	require.Equal(t, int64(-1), got.Size)
	require.Empty(t, got.Text)

	dup := &store.Entry{DocID: "u1", DocType: models.Decision, URL: "http://files/a.pdf", Size: -1, Status: models.StatusPending}
	err = s.Insert(ctx, dup)
	require.True(t, errors.Is(err, store.ErrConflict))

	_, err = s.Get(ctx, models.Treaty, "u1", "http://files/a.pdf")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSaveUpdatesInPlace(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	e := &store.Entry{DocID: "TRE-1", DocType: models.Treaty, URL: "u", Size: 10, Status: models.StatusPending}
	require.NoError(t, s.Save(ctx, e))

	e.Text = "hello"
	e.Status = models.StatusFullyIndexed
	require.NoError(t, s.Save(ctx, e))

	got, err := s.Get(ctx, models.Treaty, "TRE-1", "u")
	require.NoError(t, err)
	require.Equal(t, "hello", got.Text)
	require.Equal(t, int64(10), got.Size)
	require.Equal(t, models.StatusFullyIndexed, got.Status)

	require.NoError(t, s.SetStatus(ctx, models.Treaty, "TRE-1", "u", models.StatusFailed))
	got, err = s.Get(ctx, models.Treaty, "TRE-1", "u")
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, got.Status)

	require.ErrorIs(t, s.SetStatus(ctx, models.Treaty, "missing", "u", models.StatusFailed), store.ErrNotFound)
}

func TestLedgerLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	ledger := s.Ledger()

	doc := models.New(models.Treaty, "TRE-000001")
	doc.UpdatedAt = time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	doc.Set("trTitleOfText_en", "X")

	require.NoError(t, ledger.Pending(ctx, doc))
	pending, err := ledger.Failures(ctx, models.Treaty)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	var decoded models.Document
	require.NoError(t, json.Unmarshal(pending[0].ParsedJSON, &decoded))
	require.Equal(t, "TRE-000001", decoded.ExternalID)
	require.Equal(t, "X", decoded.String("trTitleOfText_en"))

	doc.Status = models.StatusFullyIndexed
	require.NoError(t, ledger.Written(ctx, doc))
	pending, err = ledger.Failures(ctx, models.Treaty)
	require.NoError(t, err)
	require.Empty(t, pending)

	row, err := s.Get(ctx, models.Treaty, "TRE-000001", "")
	require.NoError(t, err)
	require.NotEmpty(t, row.ParsedJSON)

	require.NoError(t, ledger.Failed(ctx, doc, errors.New("bulk rejected")))
	failed, err := ledger.Failures(ctx, models.Treaty)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, models.StatusFailed, failed[0].Status)

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, counts[models.Treaty][models.StatusFailed])
}

func TestCursorRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	cur, err := s.Cursor(ctx, models.CourtDecision)
	require.NoError(t, err)
	require.Empty(t, cur)

	require.NoError(t, s.SaveCursor(ctx, models.CourtDecision, "3"))
	require.NoError(t, s.SaveCursor(ctx, models.CourtDecision, "4"))
	cur, err = s.Cursor(ctx, models.CourtDecision)
	require.NoError(t, err)
	require.Equal(t, "4", cur)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.sqlite")
	ctx := context.Background()

	s, err := store.Open(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveCursor(ctx, models.Treaty, "2024-01:20"))
	require.NoError(t, s.Close())

	s, err = store.Open(path)
	require.NoError(t, err)
	defer s.Close()
	cur, err := s.Cursor(ctx, models.Treaty)
	require.NoError(t, err)
	require.Equal(t, "2024-01:20", cur)
}

func TestPingAfterClose(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "ping.db"))
	require.NoError(t, err)
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())
	require.Error(t, s.Ping(context.Background()))
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	_, err := store.Open("")
	require.ErrorContains(t, err, "cache path is empty")
}
