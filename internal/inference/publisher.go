package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"stock-prediction-lab/internal/domain"
	"stock-prediction-lab/internal/observability"
)

// PredictionEvent is the published wire format for one prediction.
type PredictionEvent struct {
	EventID             string    `json:"event_id"`
	ModelID             int64     `json:"model_id"`
	StockID             int64     `json:"stock_id"`
	PredictionTimestamp time.Time `json:"prediction_timestamp"`
	TargetTimestamp     time.Time `json:"target_timestamp"`
	PredictedValue      float64   `json:"predicted_value"`
	ConfidenceLower     float64   `json:"confidence_lower"`
	ConfidenceUpper     float64   `json:"confidence_upper"`
}

// kafkaWriter is the subset of kafka.Writer used, extracted for tests.
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes prediction events to a Kafka topic, keyed by
// stock ID so one stock's predictions stay ordered within a partition.
type KafkaPublisher struct {
	writer kafkaWriter
}

// NewKafkaPublisher creates a publisher writing to the topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// Compile-time interface check.
var _ Publisher = (*KafkaPublisher)(nil)

// Publish emits one event per prediction.
func (p *KafkaPublisher) Publish(ctx context.Context, preds []*domain.StockPrediction) error {
	if len(preds) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, len(preds))
	for i, pred := range preds {
		event := PredictionEvent{
			EventID:             uuid.NewString(),
			ModelID:             pred.ModelID,
			StockID:             pred.StockID,
			PredictionTimestamp: pred.PredictionTimestamp,
			TargetTimestamp:     pred.TargetTimestamp,
			PredictedValue:      pred.PredictedValue,
			ConfidenceLower:     pred.ConfidenceLower,
			ConfidenceUpper:     pred.ConfidenceUpper,
		}
		value, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("marshal prediction event: %w", err)
		}
		msgs[i] = kafka.Message{
			Key:   []byte(fmt.Sprintf("%d", pred.StockID)),
			Value: value,
		}
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write prediction events: %w", err)
	}
	observability.RecordPredictionsPublished(len(msgs))
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
