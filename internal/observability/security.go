package observability

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// SecurityEvent names a security relevant occurrence.
type SecurityEvent string

const (
	EventRateLimited      SecurityEvent = "rate_limited"
	EventAuthFail         SecurityEvent = "auth_fail"
	EventMetaUnauthorized SecurityEvent = "meta_unauthorized_ids"
	EventImproveError     SecurityEvent = "improve_error"
	EventConfigError      SecurityEvent = "config_error"
)

// RequestInfo identifies the request an event belongs to. It never carries
// the raw client address.
type RequestInfo struct {
	RequestID string
	Route     string
	IPHash    string
	UserID    string
}

// Auditor forwards events to the audit trail.
type Auditor interface {
	Emit(ctx context.Context, level, text, requestID string, userID *string)
}

// SecurityLog writes one structured line per security event and mirrors it
// to the audit trail.
type SecurityLog struct {
	log   zerolog.Logger
	audit Auditor
}

// NewSecurityLog constructs a SecurityLog. audit may be nil.
func NewSecurityLog(logger zerolog.Logger, audit Auditor) *SecurityLog {
	return &SecurityLog{log: logger, audit: audit}
}

// Record emits event at level with extra fields.
func (s *SecurityLog) Record(ctx context.Context, level zerolog.Level, event SecurityEvent, info RequestInfo, fields map[string]any) {
	if s == nil {
		return
	}
	IncSecurityEvent(string(event))

	entry := s.log.WithLevel(level).
		Str("event", string(event)).
		Str("request_id", info.RequestID).
		Str("route", info.Route).
		Str("ip_hash", info.IPHash)
	if info.UserID != "" {
		entry = entry.Str("user_id", info.UserID)
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		entry = entry.Str("trace_id", sc.TraceID().String())
	}
	entry.Fields(fields).Msg("security_event")

	if s.audit != nil {
		var userID *string
		if info.UserID != "" {
			id := info.UserID
			userID = &id
		}
		s.audit.Emit(ctx, level.String(), string(event), info.RequestID, userID)
	}
}

// Warn records a warning level event.
func (s *SecurityLog) Warn(ctx context.Context, event SecurityEvent, info RequestInfo, fields map[string]any) {
	s.Record(ctx, zerolog.WarnLevel, event, info, fields)
}

// Error records an error level event.
func (s *SecurityLog) Error(ctx context.Context, event SecurityEvent, info RequestInfo, fields map[string]any) {
	s.Record(ctx, zerolog.ErrorLevel, event, info, fields)
}
