package audit

import (
	"context"
	"errors"
	"log/slog"

	"authgate.org/internal/obs"
)

// Sink persists events. Implementations may block; callers go through a
// Recorder to bound and detach them.
type Sink interface {
	Record(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

func (f SinkFunc) Record(ctx context.Context, e Event) error { return f(ctx, e) }

// LogSink writes events as JSON lines through the shared logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a sink writing to logger, or to the shared logger when nil.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(ctx context.Context, e Event) error {
	if e.Action == "" {
		return errors.New("audit: event action is required")
	}
	logger := s.logger
	if logger == nil {
		logger = obs.Logger()
	}
	fields := e.Metadata
	if fields == nil {
		fields = map[string]any{}
	}
	attrs := []slog.Attr{
		slog.String("type", "audit"),
		slog.String("event", e.Action),
		slog.String("audit_id", e.ID),
		slog.Time("occurred_at", e.Timestamp),
		slog.Any("fields", fields),
	}
	for _, kv := range []struct{ k, v string }{
		{"actor_id", e.ActorID},
		{"entity_type", e.EntityType},
		{"entity_id", e.EntityID},
		{"ip", e.IPAddress},
		{"user_agent", e.UserAgent},
		{"request_id", e.RequestID},
	} {
		if kv.v != "" {
			attrs = append(attrs, slog.String(kv.k, kv.v))
		}
	}
	logger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
	return nil
}

// MultiSink fans an event out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Record(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
