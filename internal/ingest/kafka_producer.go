package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/delivery-tracking/internal/models"
	"github.com/example/delivery-tracking/internal/observability"
)

// KafkaProducer ships accepted location samples to the external location
// sink. Writes are asynchronous so the broadcast path never waits on Kafka.
type KafkaProducer struct {
	writer *kafka.Writer
	logger *slog.Logger
}

func NewKafkaProducer(brokers []string, topic string, logger *slog.Logger) *KafkaProducer {
	if logger == nil {
		logger = slog.Default()
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // key = order id keeps per-order order
		Async:        true,
		BatchTimeout: 50 * time.Millisecond,
		WriteTimeout: 2 * time.Second,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				observability.SinkErrors.Add(float64(len(msgs)))
				logger.Warn("location_sink_write_failed", "count", len(msgs), "error", err)
			}
		},
	}
	return &KafkaProducer{writer: w, logger: logger}
}

// Record implements location.Sink.
func (k *KafkaProducer) Record(s models.LocationSample) {
	if err := k.PublishSample(context.Background(), s); err != nil {
		observability.SinkErrors.Inc()
		k.logger.Warn("location_sink_enqueue_failed", "order_id", s.OrderID, "error", err)
	}
}

func (k *KafkaProducer) PublishSample(ctx context.Context, s models.LocationSample) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(s.OrderID), Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
