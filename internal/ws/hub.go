package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"textly-chat/internal/observability"
	"textly-chat/internal/realtime"
)

const (
	sendQueueSize = 64
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = 50 * time.Second
)

// subscribableTables lists the tables clients may subscribe to.
var subscribableTables = map[string]bool{
	realtime.TableRooms:       true,
	realtime.TableMessages:    true,
	realtime.TableFriendships: true,
}

// Hub maintains realtime connections and fans change events out to their
// subscriptions.
type Hub struct {
	mu         sync.RWMutex
	conns      map[*client]struct{}
	visibility Visibility
	log        zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(visibility Visibility, logger zerolog.Logger) *Hub {
	return &Hub{
		conns:      make(map[*client]struct{}),
		visibility: visibility,
		log:        logger,
	}
}

// Attach subscribes the hub to every subscribable table of feed.
func (h *Hub) Attach(feed realtime.Feed) ([]realtime.Subscription, error) {
	subs := make([]realtime.Subscription, 0, len(subscribableTables))
	for table := range subscribableTables {
		sub, err := feed.Subscribe(realtime.Topic{Table: table}, h.Dispatch)
		if err != nil {
			for _, s := range subs {
				s.Unsubscribe()
			}
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// Dispatch delivers ev to every connection with a matching subscription that
// is allowed to see the row.
func (h *Hub) Dispatch(ev realtime.Event) {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.conns))
	for c := range h.conns {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	visible := map[string]bool{}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, c := range clients {
		refs := c.matchingRefs(ev)
		if len(refs) == 0 {
			continue
		}
		allowed, seen := visible[c.info.UserID]
		if !seen {
			allowed = h.visibility.CanSee(ctx, c.info.UserID, ev)
			visible[c.info.UserID] = allowed
		}
		if !allowed {
			continue
		}
		for _, ref := range refs {
			event := ev
			payload, err := json.Marshal(realtime.Frame{Type: realtime.FrameEvent, Ref: ref, Event: &event})
			if err != nil {
				h.log.Error().Err(err).Msg("encode realtime frame")
				continue
			}
			if !c.enqueue(payload) {
				h.log.Warn().Str("conn_id", c.info.ConnID).Msg("realtime send queue full, dropping connection")
				c.close()
				break
			}
			observability.IncChangeDelivered(ev.Table, string(ev.Type))
		}
	}
}

// Count returns the number of registered connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close drops every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.conns))
	for c := range h.conns {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

type client struct {
	conn *websocket.Conn
	info ConnInfo
	send chan []byte

	mu   sync.Mutex
	subs map[string]realtime.Topic

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, info ConnInfo) *client {
	return &client{
		conn: conn,
		info: info,
		send: make(chan []byte, sendQueueSize),
		subs: make(map[string]realtime.Topic),
		done: make(chan struct{}),
	}
}

func (c *client) subscribe(ref string, topic realtime.Topic) {
	c.mu.Lock()
	c.subs[ref] = topic
	c.mu.Unlock()
}

func (c *client) unsubscribe(ref string) {
	c.mu.Lock()
	delete(c.subs, ref)
	c.mu.Unlock()
}

func (c *client) subscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

func (c *client) matchingRefs(ev realtime.Event) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var refs []string
	for ref, topic := range c.subs {
		if topic.Matches(ev) {
			refs = append(refs, ref)
		}
	}
	return refs
}

func (c *client) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// writePump is the only goroutine writing to the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *client) writeFrame(f realtime.Frame) {
	payload, err := json.Marshal(f)
	if err != nil {
		return
	}
	c.enqueue(payload)
}
