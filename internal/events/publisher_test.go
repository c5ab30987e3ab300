package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/DeafMist/ecolex-harvester/internal/logger"
	"github.com/DeafMist/ecolex-harvester/internal/models"
)

type stubWriter struct {
	msgs     []kafka.Message
	failures int
	closed   bool
}

func (s *stubWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("leader not available")
	}
	s.msgs = append(s.msgs, msgs...)
	return nil
}

func (s *stubWriter) Close() error {
	s.closed = true
	return nil
}

func TestNoBrokersIsNoop(t *testing.T) {
	p := New(nil, "ecolex_documents", nil)
	require.False(t, p.Enabled())
	require.NoError(t, p.Indexed(context.Background(), "insert", []*models.Document{models.New(models.Treaty, "TRE-1")}))
	require.NoError(t, p.Failed(context.Background(), Failure{Type: models.Treaty}))
	require.NoError(t, p.Close())
}

func TestIndexedWritesOneMessagePerDocument(t *testing.T) {
	w := &stubWriter{}
	p := &Publisher{writer: w, log: logger.Discard()}

	d := models.New(models.Decision, "u1")
	d.ID = "doc-1"
	d.Slug = "t-u1"
	d.Status = models.StatusFullyIndexed
	require.NoError(t, p.Indexed(context.Background(), "insert", []*models.Document{d}))

	require.Len(t, w.msgs, 1)
	require.Equal(t, "doc-1", string(w.msgs[0].Key))
	var ev Indexed
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ev))
	require.Equal(t, "u1", ev.ExternalID)
	require.Equal(t, models.Decision, ev.Type)
	require.Equal(t, "insert", ev.Action)
	require.Equal(t, models.StatusFullyIndexed, ev.Status)
}

func TestFailedRetriesDLQ(t *testing.T) {
	dlq := &stubWriter{failures: 2}
	p := &Publisher{dlq: dlq, attempts: 5, backoff: time.Millisecond, log: logger.Discard()}

	err := p.Failed(context.Background(), Failure{
		Type:       models.Legislation,
		ExternalID: "LEX-1",
		Stage:      "parse",
		Payload:    []byte("<record/>"),
		Err:        errors.New("missing record id"),
	})
	require.NoError(t, err)
	require.Len(t, dlq.msgs, 1)

	headers := map[string]string{}
	for _, h := range dlq.msgs[0].Headers {
		headers[h.Key] = string(h.Value)
	}
	require.Equal(t, "legislation", headers["doc_type"])
	require.Equal(t, "parse", headers["stage"])
	require.Equal(t, "missing record id", headers["error"])
	require.NotEmpty(t, headers["timestamp"])
}

func TestFailedGivesUp(t *testing.T) {
	dlq := &stubWriter{failures: 10}
	p := &Publisher{dlq: dlq, attempts: 2, backoff: time.Millisecond, log: logger.Discard()}

	err := p.Failed(context.Background(), Failure{Type: models.Treaty, ExternalID: "TRE-1"})
	require.ErrorContains(t, err, "exhausted")
	require.NoError(t, p.Close())
	require.True(t, dlq.closed)
}
