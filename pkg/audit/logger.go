// Package audit records discrete security events emitted by the
// authentication core: logins, failures, lockouts, token issuance and
// revocation. The core emits events through the Logger interface; delivery
// and retention are the concern of the configured sink(s).
package audit

import (
	"context"
	"time"

	"github.com/platinummonkey/turnstile/pkg/contextkeys"
)

// Logger is the interface for audit event sinks
type Logger interface {
	// Log records a single audit event
	Log(ctx context.Context, event *Event) error

	// Close closes the logger and flushes any buffered events
	Close() error
}

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return contextkeys.WithAuditLogger(ctx, logger)
}

// FromContext retrieves the audit logger from context
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(contextkeys.AuditLoggerKey).(Logger); ok {
		return logger
	}
	return &noOpLogger{}
}

// noOpLogger is a logger that does nothing (used when no sink is configured)
type noOpLogger struct{}

func (n *noOpLogger) Log(ctx context.Context, event *Event) error { return nil }
func (n *noOpLogger) Close() error                                { return nil }

// NewNoOpLogger returns a sink that discards all events
func NewNoOpLogger() Logger {
	return &noOpLogger{}
}

func newEvent(ctx context.Context, eventType EventType, status EventStatus) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		RequestID: contextkeys.GetRequestID(ctx),
		Metadata:  make(map[string]interface{}),
	}
}

// Authentication records a login-related event. identityID may be empty when
// the presented identifier did not resolve to a known identity.
func Authentication(ctx context.Context, l Logger, eventType EventType, identityID string, status EventStatus, reason string) error {
	event := newEvent(ctx, eventType, status)
	event.IdentityID = identityID
	event.ResourceType = ResourceTypeIdentity
	event.ResourceID = identityID
	event.Reason = reason
	return l.Log(ctx, event)
}

// Token records a token lifecycle event. The resource ID is the token's
// record address, never the raw token.
func Token(ctx context.Context, l Logger, eventType EventType, identityID, recordID string, status EventStatus) error {
	event := newEvent(ctx, eventType, status)
	event.IdentityID = identityID
	event.ResourceType = ResourceTypeToken
	event.ResourceID = recordID
	return l.Log(ctx, event)
}
