package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"textly-chat/internal/auth"
	"textly-chat/internal/observability"
	"textly-chat/internal/realtime"
)

// TokenVerifier validates session tokens.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// EventPublisher publishes lifecycle events to the message broker.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

// Handler upgrades realtime websocket connections.
type Handler struct {
	hub       *Hub
	verifier  TokenVerifier
	publisher EventPublisher
	security  *observability.SecurityLog
	log       zerolog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(hub *Hub, verifier TokenVerifier, publisher EventPublisher, security *observability.SecurityLog, logger zerolog.Logger) *Handler {
	return &Handler{hub: hub, verifier: verifier, publisher: publisher, security: security, log: logger}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates the handshake, upgrades the connection and serves
// subscribe/unsubscribe frames until the peer goes away.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("textly-chat/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := auth.BearerToken(c.GetHeader("Authorization"))
	if token == "" {
		token = c.Query("token")
	}

	requestID := observability.RequestIDFromRequest(c.Request)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	ipHash := observability.HashIP(observability.IPFromRequest(c.Request))

	claims, err := h.verifier.Verify(token)
	if err != nil {
		h.security.Warn(ctx, observability.EventAuthFail, observability.RequestInfo{
			RequestID: requestID, Route: "/realtime", IPHash: ipHash,
		}, map[string]any{"reason": err.Error()})
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      claims.UserID(),
		IPHash:      ipHash,
		RequestID:   requestID,
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	cl := newClient(conn, info)
	h.hub.add(cl)
	observability.IncWSActive()
	h.lifecycle(cl, "ws_connect", "")

	go cl.writePump()
	go h.readPump(cl)
}

func (h *Handler) readPump(cl *client) {
	var closeReason string
	defer func() {
		h.hub.remove(cl)
		cl.close()
		observability.DecWSActive()
		h.lifecycle(cl, "ws_disconnect", closeReason)
	}()

	cl.conn.SetReadLimit(64 << 10)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f realtime.Frame
		if err := cl.conn.ReadJSON(&f); err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !isClosedByServer(cl) {
				h.lifecycle(cl, "ws_error", closeReason)
			}
			return
		}
		_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch f.Type {
		case realtime.FrameSubscribe:
			if f.Ref == "" || f.Topic == nil || !subscribableTables[f.Topic.Table] {
				cl.writeFrame(realtime.Frame{Type: realtime.FrameError, Ref: f.Ref, Error: "invalid subscription"})
				continue
			}
			cl.subscribe(f.Ref, *f.Topic)
		case realtime.FrameUnsubscribe:
			cl.unsubscribe(f.Ref)
		default:
			cl.writeFrame(realtime.Frame{Type: realtime.FrameError, Ref: f.Ref, Error: "unknown frame type"})
		}
	}
}

func (h *Handler) lifecycle(cl *client, event, reason string) {
	observability.IncWSEvent(event)
	logEvent := h.log.Info()
	if event == "ws_error" {
		logEvent = h.log.Warn()
	}
	logEvent.Str("event", event).Str("conn_id", cl.info.ConnID).Str("user_id", cl.info.UserID).Str("reason", reason).Msg("realtime connection")

	if h.publisher == nil {
		return
	}
	envelope := observability.NewWSEnvelope(observability.WSEvent{
		Event:         event,
		ConnID:        cl.info.ConnID,
		UserID:        cl.info.UserID,
		IPHash:        cl.info.IPHash,
		DurationMS:    time.Since(cl.info.ConnectedAt).Milliseconds(),
		Subscriptions: cl.subscriptionCount(),
		Reason:        reason,
	})
	_ = h.publisher.Publish(context.Background(), observability.WSRoutingKey, envelope,
		observability.BuildHeaders(cl.info.RequestID, cl.info.TraceID))
}

func isClosedByServer(cl *client) bool {
	select {
	case <-cl.done:
		return true
	default:
		return false
	}
}
