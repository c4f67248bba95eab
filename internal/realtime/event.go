// Package realtime defines the change feed consumed by the client stores and
// its in-process, websocket and Postgres implementations.
package realtime

import (
	"encoding/json"
	"errors"
	"slices"
)

// EventType is the kind of row change.
type EventType string

const (
	Insert EventType = "insert"
	Update EventType = "update"
	Delete EventType = "delete"
)

// Tables carried by the change feed.
const (
	TableRooms       = "rooms"
	TableMessages    = "messages"
	TableFriendships = "friendships"
)

// ErrNoRow is returned when decoding a row the event does not carry.
var ErrNoRow = errors.New("event carries no row")

// Event is a single row change.
type Event struct {
	Type  EventType       `json:"type"`
	Table string          `json:"table"`
	New   json.RawMessage `json:"new,omitempty"`
	Old   json.RawMessage `json:"old,omitempty"`
}

// NewEvent builds an event from typed rows. Either row may be nil.
func NewEvent(typ EventType, table string, newRow, oldRow any) (Event, error) {
	ev := Event{Type: typ, Table: table}
	var err error
	if newRow != nil {
		if ev.New, err = json.Marshal(newRow); err != nil {
			return Event{}, err
		}
	}
	if oldRow != nil {
		if ev.Old, err = json.Marshal(oldRow); err != nil {
			return Event{}, err
		}
	}
	return ev, nil
}

// DecodeNew unmarshals the row after the change.
func (e Event) DecodeNew(v any) error {
	return decodeRow(e.New, v)
}

// DecodeOld unmarshals the row before the change.
func (e Event) DecodeOld(v any) error {
	return decodeRow(e.Old, v)
}

// Row returns the new row, or the old one for deletes.
func (e Event) Row() json.RawMessage {
	if e.Type == Delete || isEmpty(e.New) {
		return e.Old
	}
	return e.New
}

func decodeRow(raw json.RawMessage, v any) error {
	if isEmpty(raw) {
		return ErrNoRow
	}
	return json.Unmarshal(raw, v)
}

func isEmpty(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// Topic selects the events a subscriber receives. An empty Events list
// matches every event type. When Column is set, only rows whose Column
// equals Value match.
type Topic struct {
	Table  string      `json:"table"`
	Events []EventType `json:"events,omitempty"`
	Column string      `json:"column,omitempty"`
	Value  string      `json:"value,omitempty"`
}

// Matches reports whether ev belongs to the topic.
func (t Topic) Matches(ev Event) bool {
	if t.Table != ev.Table {
		return false
	}
	if len(t.Events) > 0 && !slices.Contains(t.Events, ev.Type) {
		return false
	}
	if t.Column == "" {
		return true
	}
	var row map[string]any
	if err := json.Unmarshal(ev.Row(), &row); err != nil {
		return false
	}
	value, ok := row[t.Column].(string)
	return ok && value == t.Value
}

// Handler receives matching events.
type Handler func(Event)

// Subscription is an open subscription. Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe()
}

// Feed is a source of change events.
type Feed interface {
	Subscribe(topic Topic, handler Handler) (Subscription, error)
}
