package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"intakehub/pkg/requestcontext"
)

// Observer receives audit persistence outcomes for metrics.
type Observer interface {
	ObserveAuditWrite(action string, seconds float64, err error)
}

// Recorder writes entries with fail-closed semantics: Record blocks until
// the store accepts the entry and returns an error otherwise. Callers that
// are about to release sensitive data MUST abort when Record fails.
type Recorder struct {
	store    Store
	logger   *slog.Logger
	observer Observer
}

// Option configures the Recorder.
type Option func(*Recorder)

// WithLogger sets a logger for error reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(r *Recorder) {
		r.observer = o
	}
}

// NewRecorder creates a recorder over store.
func NewRecorder(store Store, opts ...Option) *Recorder {
	r := &Recorder{store: store}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record validates and persists entry, filling id, timestamp and request
// metadata from ctx when the caller left them empty.
func (r *Recorder) Record(ctx context.Context, entry Entry) error {
	start := time.Now()

	if entry.Action == "" {
		return fmt.Errorf("audit entry requires Action")
	}
	if entry.ResourceType == "" {
		return fmt.Errorf("audit entry requires ResourceType")
	}
	if entry.ActorID == "" {
		return fmt.Errorf("audit entry requires ActorID")
	}

	entry = enrich(ctx, entry)

	err := r.store.Append(ctx, entry)
	if r.observer != nil {
		r.observer.ObserveAuditWrite(string(entry.Action), time.Since(start).Seconds(), err)
	}
	if err != nil {
		if r.logger != nil {
			r.logger.ErrorContext(ctx, "CRITICAL: audit write failed",
				"action", entry.Action,
				"resource_type", entry.ResourceType,
				"resource_id", entry.ResourceID,
				"request_id", entry.RequestID,
				"error", err,
			)
		}
		return fmt.Errorf("audit persistence failed: %w", err)
	}
	return nil
}

func enrich(ctx context.Context, e Entry) Entry {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = requestcontext.Now(ctx).UTC()
	}
	if e.RequestID == "" {
		e.RequestID = requestcontext.RequestID(ctx)
	}
	if e.ClientIP == "" {
		e.ClientIP = requestcontext.ClientIP(ctx)
	}
	if e.UserAgent == "" {
		e.UserAgent = requestcontext.UserAgent(ctx)
	}
	if e.Device == "" {
		e.Device = requestcontext.Device(ctx)
	}
	return e
}
