package ws

import "time"

// ConnInfo identifies a realtime connection in logs and lifecycle events.
type ConnInfo struct {
	ConnID      string
	UserID      string
	IPHash      string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}
