package observability

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Actor identifies who caused an audit event.
type Actor struct {
	Type string `json:"type"` // "plugin", "system", "admin"
	ID   string `json:"id"`
}

// Resource identifies what an audit event acted on.
type Resource struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// AuditEvent is one structured entry on the audit bus.
type AuditEvent struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	TenantID  int64                  `json:"tenant_id,omitempty"`
	Actor     Actor                  `json:"actor"`
	Resource  Resource               `json:"resource"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
}

// Observer receives every recorded event, e.g. the gateway's live tail.
type Observer func(AuditEvent)

// AuditLogger records audit events to a JSON log sink and, when a span is
// active, as OpenTelemetry span events. Constructed once at boot and
// injected; there is no package-level instance.
type AuditLogger struct {
	logger   zerolog.Logger
	mu       sync.Mutex
	file     *os.File
	observer Observer
}

// Config configures an audit logger.
type Config struct {
	// Path is the audit log file. Empty means stderr.
	Path     string
	Observer Observer
}

// NewAuditLogger creates an audit logger writing to the configured sink.
func NewAuditLogger(cfg Config) (*AuditLogger, error) {
	var (
		sink zerolog.Logger
		file *os.File
	)

	if cfg.Path == "" {
		sink = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		f, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		sink = zerolog.New(f).With().Timestamp().Logger()
		file = f
	}

	return &AuditLogger{
		logger:   sink,
		file:     file,
		observer: cfg.Observer,
	}, nil
}

// Record emits an audit event.
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		event.TraceID = span.SpanContext().TraceID().String()

		span.AddEvent(event.Type, trace.WithAttributes(
			attribute.String("audit.actor_type", event.Actor.Type),
			attribute.String("audit.actor_id", event.Actor.ID),
			attribute.String("audit.resource_type", event.Resource.Type),
			attribute.String("audit.resource_id", event.Resource.ID),
		))
	}

	a.mu.Lock()
	entry := a.logger.Log().
		Str("id", event.ID).
		Str("type", event.Type).
		Str("actor_type", event.Actor.Type).
		Str("actor_id", event.Actor.ID).
		Str("resource_type", event.Resource.Type).
		Str("resource_id", event.Resource.ID)
	if event.TenantID != 0 {
		entry = entry.Int64("tenant_id", event.TenantID)
	}
	if event.TraceID != "" {
		entry = entry.Str("trace_id", event.TraceID)
	}
	if len(event.Meta) > 0 {
		entry = entry.Interface("meta", event.Meta)
	}
	entry.Msg("audit")
	observer := a.observer
	a.mu.Unlock()

	if observer != nil {
		observer(event)
	}
}

// SetObserver installs the live-tail observer. The gateway exists only
// after the audit logger does, so the hookup happens late.
func (a *AuditLogger) SetObserver(observer Observer) {
	a.mu.Lock()
	a.observer = observer
	a.mu.Unlock()
}

// RecordPluginEvent records an event caused by a plugin.
func (a *AuditLogger) RecordPluginEvent(ctx context.Context, pluginID, eventType string, tenantID int64, resource Resource, meta map[string]interface{}) {
	a.Record(ctx, AuditEvent{
		Type:     eventType,
		TenantID: tenantID,
		Actor:    Actor{Type: "plugin", ID: pluginID},
		Resource: resource,
		Meta:     meta,
	})
}

// RecordSystemEvent records an event caused by the host itself.
func (a *AuditLogger) RecordSystemEvent(ctx context.Context, eventType string, resource Resource, meta map[string]interface{}) {
	a.Record(ctx, AuditEvent{
		Type:     eventType,
		Actor:    Actor{Type: "system", ID: "host"},
		Resource: resource,
		Meta:     meta,
	})
}

// Close closes the audit file sink if one is open.
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		return a.file.Close()
	}
	return nil
}
