package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	KindReminder      = "reminder"
	KindMonthlyReport = "monthly_report"
	KindHistoryExport = "history_export"
)

// Artifact is something a job hands to the outside world: a reminder, a
// report or an export file. Jobs never persist artifacts themselves.
type Artifact struct {
	Kind        string    `json:"kind"`
	Recipient   string    `json:"recipient"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
	Filename    string    `json:"filename,omitempty"`
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
}

type ArtifactSink interface {
	Emit(ctx context.Context, a Artifact) error
}

// LogSink writes artifacts to the structured log.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{log: logger.With(zap.String("sink", "log"))}
}

func (s *LogSink) Emit(_ context.Context, a Artifact) error {
	fields := []zap.Field{
		zap.String("kind", a.Kind),
		zap.String("recipient", a.Recipient),
		zap.String("subject", a.Subject),
	}
	if a.Filename != "" {
		fields = append(fields, zap.String("filename", a.Filename), zap.Int("bytes", len(a.Body)))
	} else {
		fields = append(fields, zap.String("body", a.Body))
	}
	s.log.Info("artifact emitted", fields...)
	return nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes artifacts as JSON, keyed by recipient so all of one
// person's artifacts land on the same partition.
type KafkaSink struct {
	writer messageWriter
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      brokers,
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: int(kafka.RequireOne),
	})
	return &KafkaSink{writer: writer}
}

func (s *KafkaSink) Emit(ctx context.Context, a Artifact) error {
	value, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(a.Recipient),
		Value: value,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(a.Kind)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish artifact: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// MultiSink emits to every sink and reports all failures together.
type MultiSink []ArtifactSink

func (m MultiSink) Emit(ctx context.Context, a Artifact) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewSink returns the log sink, fanned out to Kafka when brokers are set.
// The returned close func flushes the Kafka writer.
func NewSink(brokers []string, topic string, logger *zap.Logger) (ArtifactSink, func() error) {
	logSink := NewLogSink(logger)
	if len(brokers) == 0 {
		return logSink, func() error { return nil }
	}

	kafkaSink := NewKafkaSink(brokers, topic)
	logger.Info("publishing artifacts to kafka",
		zap.Strings("brokers", brokers),
		zap.String("topic", topic),
	)
	return MultiSink{logSink, kafkaSink}, kafkaSink.Close
}
