// Package events publishes indexing outcomes to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/DeafMist/ecolex-harvester/internal/logger"
	"github.com/DeafMist/ecolex-harvester/internal/models"
)

// Indexed is the message written for every document committed to the index.
type Indexed struct {
	ID         string         `json:"id"`
	Type       models.DocType `json:"type"`
	ExternalID string         `json:"externalId"`
	Slug       string         `json:"slug"`
	Action     string         `json:"action"`
	Status     models.Status  `json:"indexStatus"`
	IndexedAt  time.Time      `json:"indexedAt"`
}

// Failure describes a record the pipeline could not process.
type Failure struct {
	Type       models.DocType
	ExternalID string
	Stage      string
	Payload    []byte
	Err        error
}

// messageWriter is the part of kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes Indexed events to the topic and failures to topic_dlq.
// The zero-broker publisher drops everything.
type Publisher struct {
	writer   messageWriter
	dlq      messageWriter
	attempts int
	backoff  time.Duration
	log      *slog.Logger
}

// New returns a publisher for brokers. With no brokers it is a no-op.
func New(brokers []string, topic string, log *slog.Logger) *Publisher {
	if log == nil {
		log = logger.Discard()
	}
	p := &Publisher{attempts: 5, backoff: time.Second, log: log}
	if len(brokers) == 0 {
		return p
	}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireOne,
	}
	p.dlq = &kafka.Writer{
		Addr:        kafka.TCP(brokers...),
		Topic:       topic + "_dlq",
		MaxAttempts: 3,
	}
	return p
}

// Enabled reports whether events leave the process.
func (p *Publisher) Enabled() bool { return p.writer != nil }

// Indexed publishes one event per written document, keyed by document id.
func (p *Publisher) Indexed(ctx context.Context, action string, docs []*models.Document) error {
	if p.writer == nil || len(docs) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(docs))
	for _, d := range docs {
		payload, err := json.Marshal(Indexed{
			ID:         d.ID,
			Type:       d.Type,
			ExternalID: d.ExternalID,
			Slug:       d.Slug,
			Action:     action,
			Status:     d.Status,
			IndexedAt:  d.IndexedAt,
		})
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(d.ID), Value: payload})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish indexed events: %w", err)
	}
	return nil
}

// Failed sends a failure to the dead-letter topic, retrying with exponential backoff.
func (p *Publisher) Failed(ctx context.Context, f Failure) error {
	if p.dlq == nil {
		return nil
	}
	msg := kafka.Message{
		Key:   []byte(f.ExternalID),
		Value: f.Payload,
		Headers: []kafka.Header{
			{Key: "doc_type", Value: []byte(f.Type)},
			{Key: "external_id", Value: []byte(f.ExternalID)},
			{Key: "stage", Value: []byte(f.Stage)},
			{Key: "error", Value: []byte(errString(f.Err))},
			{Key: "timestamp", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		},
	}

	var lastErr error
	for attempt := range p.attempts {
		lastErr = p.dlq.WriteMessages(ctx, msg)
		if lastErr == nil {
			return nil
		}
		backoff := time.Duration(1<<uint(attempt)) * p.backoff
		p.log.Warn("DLQ write failed, retrying",
			slog.Any("err", lastErr),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("dlq write exhausted retries: %w", lastErr)
}

// Close flushes and closes the writers.
func (p *Publisher) Close() error {
	var firstErr error
	for _, w := range []messageWriter{p.writer, p.dlq} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
