package realtime

// FrameType identifies a websocket frame of the change feed protocol.
type FrameType string

const (
	FrameSubscribe   FrameType = "subscribe"
	FrameUnsubscribe FrameType = "unsubscribe"
	FrameEvent       FrameType = "event"
	FrameError       FrameType = "error"
)

// Frame is the JSON message exchanged over the realtime websocket. Clients
// send subscribe/unsubscribe frames tagged with a ref of their choosing; the
// server answers with event frames carrying the same ref.
type Frame struct {
	Type  FrameType `json:"type"`
	Ref   string    `json:"ref,omitempty"`
	Topic *Topic    `json:"topic,omitempty"`
	Event *Event    `json:"event,omitempty"`
	Error string    `json:"error,omitempty"`
}
