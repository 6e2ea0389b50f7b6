// Package kafkasink forwards delivery reports to a Kafka topic as CloudEvents.
package kafkasink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/kart-io/commshub/pkg/logger"
	"github.com/kart-io/commshub/pkg/report"
)

// Writer is the subset of *kafka.Writer used by the sink.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config configures a kafka-go writer.
type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// NewWriter creates a synchronous kafka-go writer for config.
func NewWriter(config Config) *kafka.Writer {
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: config.WriteTimeout,
	}
}

// Sink is a report observer producing one message per report, keyed by
// dispatch id so reports of one dispatch share a partition.
type Sink struct {
	writer  Writer
	timeout time.Duration
	logger  logger.Logger
}

// New creates a sink over writer.
func New(writer Writer, log logger.Logger) *Sink {
	return &Sink{writer: writer, timeout: 10 * time.Second, logger: logger.OrDiscard(log)}
}

// OnReport implements report.Observer. Failures are logged.
func (s *Sink) OnReport(r *report.Report) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.Send(ctx, r); err != nil {
		s.logger.Error("Failed to forward report", "report_id", r.ID, "error", err)
	}
}

// Send writes r as a structured-mode CloudEvent message.
func (s *Sink) Send(ctx context.Context, r *report.Report) error {
	data, err := report.MarshalCloudEvent(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	key := r.DispatchID
	if key == "" {
		key = r.ID
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  r.Timestamp,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/cloudevents+json")},
			{Key: "ce_type", Value: []byte(report.EventTypePrefix + strings.ToLower(r.EventName))},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (s *Sink) Close() error {
	return s.writer.Close()
}
