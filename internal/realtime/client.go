package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ErrClosed is returned when subscribing on a closed client.
var ErrClosed = errors.New("realtime client closed")

// Client is a Feed backed by the server's realtime websocket. Handlers run on
// the client's single read goroutine, in arrival order.
type Client struct {
	conn *websocket.Conn
	log  zerolog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	nextRef  int
	handlers map[string]Handler
	closed   bool

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the realtime endpoint authenticating with token.
func Dial(ctx context.Context, url, token string, logger zerolog.Logger) (*Client, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial realtime: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("dial realtime: %w", err)
	}

	c := &Client{
		conn:     conn,
		log:      logger,
		handlers: make(map[string]Handler),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Subscribe asks the server for topic and routes its events to handler.
func (c *Client) Subscribe(topic Topic, handler Handler) (Subscription, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.nextRef++
	ref := strconv.Itoa(c.nextRef)
	c.handlers[ref] = handler
	c.mu.Unlock()

	if err := c.write(Frame{Type: FrameSubscribe, Ref: ref, Topic: &topic}); err != nil {
		c.mu.Lock()
		delete(c.handlers, ref)
		c.mu.Unlock()
		return nil, fmt.Errorf("subscribe %s: %w", topic.Table, err)
	}
	return &clientSubscription{client: c, ref: ref}, nil
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close terminates the connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.writeMu.Lock()
		_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *Client) write(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(f)
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		var f Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.mu.Lock()
				closed := c.closed
				c.mu.Unlock()
				if !closed {
					c.log.Warn().Err(err).Msg("realtime connection lost")
				}
			}
			return
		}

		switch f.Type {
		case FrameEvent:
			c.mu.Lock()
			handler := c.handlers[f.Ref]
			c.mu.Unlock()
			if handler != nil && f.Event != nil {
				handler(*f.Event)
			}
		case FrameError:
			c.log.Warn().Str("ref", f.Ref).Str("error", f.Error).Msg("realtime subscription rejected")
		}
	}
}

type clientSubscription struct {
	client *Client
	ref    string
	once   sync.Once
}

func (s *clientSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.client.mu.Lock()
		delete(s.client.handlers, s.ref)
		closed := s.client.closed
		s.client.mu.Unlock()
		if !closed {
			_ = s.client.write(Frame{Type: FrameUnsubscribe, Ref: s.ref})
		}
	})
}
