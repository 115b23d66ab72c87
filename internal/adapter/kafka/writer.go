package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/listing-score-service/internal/config"
	"github.com/couchcryptid/listing-score-service/internal/domain"
)

// Writer produces enriched listings to a Kafka topic.
// It implements pipeline.BatchLoader.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	return &Writer{writer: newProducer(cfg.KafkaBrokers, cfg.KafkaSinkTopic), logger: logger}
}

func newProducer(brokers []string, topic string) *kafkago.Writer {
	return &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
}

// LoadBatch serializes and publishes enriched listings in a single
// WriteMessages call. Listings are keyed by id so every version of a listing
// lands on the same partition.
func (w *Writer) LoadBatch(ctx context.Context, listings []domain.EnrichedListing) error {
	if len(listings) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(listings))
	for i := range listings {
		msg, err := serializeListing(listings[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write enriched listings: %w", err)
	}
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// ScoreWriter publishes recomputed scores. It implements pipeline.ScoreLoader.
type ScoreWriter struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewScoreWriter creates a producer for the configured score topic.
func NewScoreWriter(cfg *config.Config, logger *slog.Logger) *ScoreWriter {
	return &ScoreWriter{writer: newProducer(cfg.KafkaBrokers, cfg.KafkaScoreTopic), logger: logger}
}

// LoadScores publishes one message per score, keyed by listing id.
func (w *ScoreWriter) LoadScores(ctx context.Context, scores []domain.ScoreResult) error {
	if len(scores) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(scores))
	for i := range scores {
		msg, err := serializeScore(scores[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write scores: %w", err)
	}
	w.logger.Debug("scores published", "count", len(scores))
	return nil
}

func (w *ScoreWriter) Close() error {
	return w.writer.Close()
}

func serializeListing(l domain.EnrichedListing) (kafkago.Message, error) {
	data, err := json.Marshal(l)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize enriched listing %s: %w", l.Listing.ID, err)
	}
	return kafkago.Message{
		Key:   []byte(l.Listing.ID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "incomplete", Value: []byte(strconv.FormatBool(l.Incomplete))},
			{Key: "processed_at", Value: []byte(l.ProcessedAt.Format(time.RFC3339))},
		},
	}, nil
}

func serializeScore(s domain.ScoreResult) (kafkago.Message, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize score %s: %w", s.ListingID, err)
	}
	return kafkago.Message{
		Key:   []byte(s.ListingID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "weight_version", Value: []byte(s.WeightVersion)},
		},
	}, nil
}
