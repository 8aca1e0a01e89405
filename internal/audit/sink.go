// Package audit delivers reset-device audit entries to one or more sinks.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hostedid/devicereset/internal/database"
	"github.com/hostedid/devicereset/internal/logger"
	"github.com/hostedid/devicereset/internal/model"
)

// Sink receives audit entries. Entries never carry tokens, token hashes or answers.
type Sink interface {
	Record(ctx context.Context, entry *model.AuditLog) error
}

// NopSink discards entries.
type NopSink struct{}

// Record implements Sink.
func (NopSink) Record(context.Context, *model.AuditLog) error { return nil }

// Multi fans an entry out to every sink. All sinks are attempted; their
// errors are joined.
type Multi []Sink

// Record implements Sink.
func (m Multi) Record(ctx context.Context, entry *model.AuditLog) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes entries as structured log lines
type LogSink struct {
	log *logger.Logger
}

// NewLogSink creates a LogSink
func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{log: log.WithComponent("audit")}
}

// Record implements Sink.
func (s *LogSink) Record(_ context.Context, entry *model.AuditLog) error {
	s.log.Audit(entry)
	return nil
}

// StreamSink publishes entries as JSON on a Redis pub/sub channel for
// downstream consumers (SIEM forwarders, support dashboards).
type StreamSink struct {
	redis   *database.Redis
	channel string
}

// NewStreamSink creates a StreamSink
func NewStreamSink(rdb *database.Redis, channel string) *StreamSink {
	return &StreamSink{redis: rdb, channel: channel}
}

// Record implements Sink.
func (s *StreamSink) Record(ctx context.Context, entry *model.AuditLog) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode audit entry: %w", err)
	}
	if err := s.redis.Publish(ctx, s.channel, payload); err != nil {
		return fmt.Errorf("failed to publish audit entry: %w", err)
	}
	return nil
}
