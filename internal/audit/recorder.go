package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"authgate.org/internal/ids"
	"authgate.org/internal/obs"
)

const (
	defaultQueueSize = 1024
	defaultTimeout   = 2 * time.Second
)

var _ Emitter = (*Recorder)(nil)

// Recorder delivers events to a Sink from a background worker. Emit never
// blocks on the sink and never fails; events that cannot be queued or
// delivered are dropped, logged and counted.
type Recorder struct {
	sink    Sink
	timeout time.Duration
	log     *slog.Logger
	now     func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithQueueSize bounds the number of pending events.
func WithQueueSize(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.queue = make(chan Event, n)
		}
	}
}

// WithTimeout bounds each sink call.
func WithTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger overrides the logger used for delivery failures.
func WithLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRecorder starts a recorder delivering to sink.
func NewRecorder(sink Sink, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		sink:    sink,
		timeout: defaultTimeout,
		log:     obs.Logger(),
		now:     time.Now,
		queue:   make(chan Event, defaultQueueSize),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.run()
	return r
}

// Emit stamps e and queues it for delivery.
func (r *Recorder) Emit(ctx context.Context, e Event) {
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = r.now().UTC()
	}
	if e.RequestID == "" {
		e.RequestID = RequestIDFromContext(ctx)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.drop(e, "closed")
		return
	}
	select {
	case r.queue <- e:
	default:
		r.drop(e, "queue_full")
	}
}

// Close stops accepting events and waits for queued ones to be delivered or
// for ctx to end.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("audit: close: %w", ctx.Err())
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.queue {
		r.deliver(e)
	}
}

func (r *Recorder) deliver(e Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("audit sink panicked", "event", e.Action, "panic", fmt.Sprint(rec))
			obs.AuditDropped("panic")
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.sink.Record(ctx, e); err != nil {
		r.log.Error("audit sink failed", "event", e.Action, "audit_id", e.ID, "error", err)
		obs.AuditDropped("sink_error")
	}
}

func (r *Recorder) drop(e Event, reason string) {
	r.log.Warn("audit event dropped", "event", e.Action, "reason", reason)
	obs.AuditDropped(reason)
}
