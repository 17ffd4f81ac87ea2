package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/aeronet-etl/internal/config"
	"github.com/couchcryptid/aeronet-etl/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// batchSize bounds the messages handed to a single WriteMessages call.
const batchSize = 500

// Writer publishes derived rows to a Kafka topic, one JSON message per row.
// It implements pipeline.Publisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// Publish sends every row of t, keyed by site and timestamp so rows of one
// site land on one partition in order. It returns the number of rows
// acknowledged before the first failure.
func (w *Writer) Publish(ctx context.Context, runID string, t *domain.Table) (int, error) {
	sent := 0
	for start := 0; start < t.Len(); start += batchSize {
		end := min(start+batchSize, t.Len())
		msgs := make([]kafkago.Message, 0, end-start)
		for i := start; i < end; i++ {
			msg, err := serializeRow(runID, t.Row(i))
			if err != nil {
				return sent, err
			}
			msgs = append(msgs, msg)
		}
		if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
			return sent, fmt.Errorf("publish rows %d-%d: %w", start, end-1, err)
		}
		sent += len(msgs)
		w.logger.Debug("rows published", "topic", w.writer.Topic, "rows", len(msgs), "total", sent)
	}
	return sent, nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeRow marshals one derived row into a Kafka message.
func serializeRow(runID string, row map[string]any) (kafkago.Message, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize row: %w", err)
	}
	site, _ := row[domain.SiteColumn].(string)
	ts, _ := row[domain.TimestampColumn].(string)
	return kafkago.Message{
		Key:   []byte(site + "|" + ts),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "run_id", Value: []byte(runID)},
			{Key: "site", Value: []byte(site)},
		},
	}, nil
}
