package audit

import (
	"context"
	"time"

	"github.com/platinummonkey/hiregate/pkg/contextkeys"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records an audit event
	Log(ctx context.Context, event *AuditEvent) error

	// Close closes the logger and flushes any buffered events
	Close() error
}

// NoOp returns a logger that discards every event.
func NoOp() Logger { return noOpLogger{} }

type noOpLogger struct{}

func (noOpLogger) Log(context.Context, *AuditEvent) error { return nil }
func (noOpLogger) Close() error                           { return nil }

// NewEvent builds an event stamped with the current time, the request id
// and the authenticated actor found in ctx.
func NewEvent(ctx context.Context, eventType EventType, status EventStatus) *AuditEvent {
	event := &AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		RequestID: contextkeys.GetRequestID(ctx),
		Metadata:  make(map[string]interface{}),
	}
	if identity, ok := contextkeys.GetIdentity(ctx); ok {
		id := identity.ID()
		event.UserID = &id
		event.UserRole = identity.Role().String()
	}
	return event
}
