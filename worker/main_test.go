package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/ecolex-harvester/internal/harvest"
	"github.com/DeafMist/ecolex-harvester/internal/models"
	"github.com/DeafMist/ecolex-harvester/internal/upsert"
)

type stubHarvester struct {
	reports   map[models.DocType]upsert.Report
	err       error
	opts      harvest.Options
	reindexed []models.DocType
	statuses  int
}

func (s *stubHarvester) HarvestAll(_ context.Context, _ []models.DocType, opts harvest.Options) (map[models.DocType]upsert.Report, error) {
	s.opts = opts
	return s.reports, s.err
}

func (s *stubHarvester) ReindexFailed(_ context.Context, t models.DocType) (upsert.Report, error) {
	s.reindexed = append(s.reindexed, t)
	return upsert.Report{Updated: 1}, nil
}

func (s *stubHarvester) UpdateStatus(context.Context) (upsert.Report, error) {
	s.statuses++
	return upsert.Report{}, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunOnce(t *testing.T) {
	tests := []struct {
		name      string
		reports   map[models.DocType]upsert.Report
		err       error
		reindexed []models.DocType
		statuses  int
	}{
		{
			name: "treaty changes recompute status",
			reports: map[models.DocType]upsert.Report{
				models.Treaty:   {Inserted: 1},
				models.Decision: {Skipped: 4},
			},
			statuses: 1,
		},
		{
			name: "failures are swept",
			reports: map[models.DocType]upsert.Report{
				models.Treaty:     {Skipped: 2},
				models.Literature: {Inserted: 1, Failed: 2},
			},
			reindexed: []models.DocType{models.Literature},
		},
		{
			name:    "partial failure still sweeps the rest",
			reports: map[models.DocType]upsert.Report{models.Decision: {Failed: 1}},
			err:     errors.New("treaty: connection refused"),
			reindexed: []models.DocType{
				models.Decision,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &stubHarvester{reports: tt.reports, err: tt.err}
			types := []models.DocType{models.Treaty, models.Decision, models.Literature}
			runOnce(context.Background(), discard(), h, types, time.Minute)

			require.True(t, h.opts.Resume)
			require.Equal(t, tt.reindexed, h.reindexed)
			require.Equal(t, tt.statuses, h.statuses)
		})
	}
}

func TestParseTypes(t *testing.T) {
	types, err := parseTypes([]string{"treaty", "Court_Decision"})
	require.NoError(t, err)
	require.Equal(t, []models.DocType{models.Treaty, models.CourtDecision}, types)

	_, err = parseTypes([]string{"news"})
	require.ErrorContains(t, err, "WORKER_TYPES")
}
