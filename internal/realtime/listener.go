package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

const loadRowTimeout = 5 * time.Second

// Publisher accepts decoded change events.
type Publisher interface {
	Publish(ev Event)
}

// RowLoader fetches the current JSON form of a row. The listener uses it for
// rows too large to travel in a notification.
type RowLoader interface {
	LoadRow(ctx context.Context, table, id string) (json.RawMessage, error)
}

// SQLRowLoader loads rows of the change feed tables with row_to_json, the
// same encoding the trigger uses.
type SQLRowLoader struct {
	db *sqlx.DB
}

// NewSQLRowLoader constructs a SQLRowLoader.
func NewSQLRowLoader(db *sqlx.DB) *SQLRowLoader {
	return &SQLRowLoader{db: db}
}

// LoadRow returns the row of table with the given id.
func (l *SQLRowLoader) LoadRow(ctx context.Context, table, id string) (json.RawMessage, error) {
	switch table {
	case TableRooms, TableMessages, TableFriendships:
	default:
		return nil, fmt.Errorf("unknown table %q", table)
	}
	var raw []byte
	err := l.db.QueryRowxContext(ctx, `SELECT row_to_json(t) FROM `+table+` t WHERE t.id=$1`, id).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("load %s row %s: %w", table, id, err)
	}
	return raw, nil
}

// Listener bridges Postgres NOTIFY payloads into a Publisher.
type Listener struct {
	dsn     string
	channel string
	pub     Publisher
	rows    RowLoader
	log     zerolog.Logger
}

// NewListener constructs a Listener for channel. rows may be nil, in which
// case oversized notifications are dropped.
func NewListener(dsn, channel string, pub Publisher, rows RowLoader, logger zerolog.Logger) *Listener {
	return &Listener{dsn: dsn, channel: channel, pub: pub, rows: rows, log: logger}
}

// Run listens until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	listener := pq.NewListener(l.dsn, 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			l.log.Warn().Err(err).Int("event", int(ev)).Msg("change listener connection event")
		}
	})
	defer listener.Close()

	if err := listener.Listen(l.channel); err != nil {
		return fmt.Errorf("listen %s: %w", l.channel, err)
	}
	l.log.Info().Str("channel", l.channel).Msg("change listener started")

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			if n == nil {
				l.log.Info().Msg("change listener reconnected")
				continue
			}
			l.handle(ctx, n.Extra)
		case <-ping.C:
			go func() {
				if err := listener.Ping(); err != nil {
					l.log.Warn().Err(err).Msg("change listener ping failed")
				}
			}()
		}
	}
}

func (l *Listener) handle(ctx context.Context, payload string) {
	n, err := parseNotification(payload)
	if err != nil {
		l.log.Warn().Err(err).Msg("dropping malformed change notification")
		return
	}
	ev := n.Event
	if n.Oversized {
		if ev, err = l.loadOversized(ctx, n); err != nil {
			l.log.Warn().Err(err).Str("table", n.Table).Str("id", n.ID).Msg("dropping oversized change notification")
			return
		}
	}
	l.pub.Publish(ev)
}

func (l *Listener) loadOversized(ctx context.Context, n notification) (Event, error) {
	if n.Type == Delete {
		return Event{}, fmt.Errorf("deleted row can no longer be loaded")
	}
	if l.rows == nil || n.ID == "" {
		return Event{}, fmt.Errorf("no row loader")
	}
	ctx, cancel := context.WithTimeout(ctx, loadRowTimeout)
	defer cancel()
	row, err := l.rows.LoadRow(ctx, n.Table, n.ID)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: n.Type, Table: n.Table, New: row}, nil
}

// notification is the trigger payload. Oversized payloads carry only the row
// id.
type notification struct {
	Event
	ID        string `json:"id,omitempty"`
	Oversized bool   `json:"oversized,omitempty"`
}

// ParseNotification decodes a row change payload produced by the database
// trigger.
func ParseNotification(payload string) (Event, error) {
	n, err := parseNotification(payload)
	return n.Event, err
}

func parseNotification(payload string) (notification, error) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return notification{}, fmt.Errorf("decode notification: %w", err)
	}
	switch n.Type {
	case Insert, Update, Delete:
	default:
		return notification{}, fmt.Errorf("unknown change type %q", n.Type)
	}
	if n.Table == "" {
		return notification{}, fmt.Errorf("notification without table")
	}
	return n, nil
}
