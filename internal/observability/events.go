package observability

import "time"

// EventEnvelope wraps an event published to the message broker.
type EventEnvelope struct {
	EventType  string `json:"event_type"`
	EventName  string `json:"event_name"`
	OccurredAt string `json:"occurred_at"`
	Payload    any    `json:"payload"`
}

// WSEvent describes a realtime connection lifecycle event.
type WSEvent struct {
	Event         string `json:"event"`
	ConnID        string `json:"conn_id"`
	UserID        string `json:"user_id"`
	IPHash        string `json:"ip_hash"`
	DurationMS    int64  `json:"duration_ms"`
	Subscriptions int    `json:"subscriptions"`
	Reason        string `json:"reason,omitempty"`
}

// WSRoutingKey is the broker routing key for realtime lifecycle events.
const WSRoutingKey = "ws_events.realtime"

// NewWSEnvelope wraps a lifecycle event.
func NewWSEnvelope(ev WSEvent) EventEnvelope {
	return EventEnvelope{
		EventType:  "ws_events",
		EventName:  ev.Event,
		OccurredAt: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:    ev,
	}
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
