// Package redissink persists delivery reports to a Redis stream as CloudEvents.
package redissink

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kart-io/commshub/pkg/logger"
	"github.com/kart-io/commshub/pkg/report"
)

// Config configures the sink.
type Config struct {
	Stream  string
	MaxLen  int64
	Timeout time.Duration
}

// Sink is a report observer appending every report to a stream.
type Sink struct {
	client redis.UniversalClient
	config Config
	logger logger.Logger
}

// New creates a sink. Stream defaults to "commshub:reports".
func New(client redis.UniversalClient, config Config, log logger.Logger) *Sink {
	if config.Stream == "" {
		config.Stream = "commshub:reports"
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	return &Sink{client: client, config: config, logger: logger.OrDiscard(log)}
}

// OnReport implements report.Observer. Failures are logged.
func (s *Sink) OnReport(r *report.Report) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
	defer cancel()
	if _, err := s.Append(ctx, r); err != nil {
		s.logger.Error("Failed to persist report", "report_id", r.ID, "stream", s.config.Stream, "error", err)
	}
}

// Append writes r to the stream and returns the stream entry id.
func (s *Sink) Append(ctx context.Context, r *report.Report) (string, error) {
	data, err := report.MarshalCloudEvent(r)
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: s.config.Stream,
		MaxLen: s.config.MaxLen,
		Approx: s.config.MaxLen > 0,
		Values: map[string]interface{}{
			"id":         r.ID,
			"event":      r.EventName,
			"channel":    r.ChannelID,
			"data":       string(data),
			"created_at": r.Timestamp.Unix(),
		},
	}
	id, err := s.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("add to stream: %w", err)
	}
	return id, nil
}
