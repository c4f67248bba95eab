// Package cache is a small durable key/value store for client state.
//
// Values are stored as JSON envelopes {"timestamp": <unix ms>, "data": ...}
// in an embedded SQLite database. Every failure degrades to a cache miss.
package cache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

const keyPrefix = "textly:"

// Kind names a family of cached collections.
type Kind string

const (
	KindRooms    Kind = "rooms"
	KindMessages Kind = "messages"
	KindProfiles Kind = "profiles"
)

// Key builds the storage key for a collection owned by userID, optionally
// scoped to a room.
func Key(kind Kind, userID string, roomID ...string) string {
	parts := []string{keyPrefix + string(kind), userID}
	parts = append(parts, roomID...)
	return strings.Join(parts, ":")
}

type envelope struct {
	Timestamp *int64          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Entry is a decoded cache value and the moment it was written.
type Entry[T any] struct {
	Data      T
	WrittenAt time.Time
}

// Cache persists JSON envelopes. A Cache without a database is disabled and
// every method is a no-op.
type Cache struct {
	db  *sqlx.DB
	now func() time.Time
	log zerolog.Logger
}

// Option customizes a Cache.
type Option func(*Cache)

// WithClock overrides the clock used for envelope timestamps and max-age checks.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// Open opens or creates the cache database at path. An empty path, or a path
// that cannot be opened, yields a disabled cache.
func Open(path string, logger zerolog.Logger, opts ...Option) *Cache {
	c := &Cache{now: time.Now, log: logger}
	for _, opt := range opts {
		opt(c)
	}
	if path == "" {
		return c
	}

	db, err := sqlx.Open("sqlite", path)
	if err == nil {
		db.SetMaxOpenConns(1)
		err = db.Ping()
	}
	if err == nil {
		_, err = db.Exec(`CREATE TABLE IF NOT EXISTS entries (
			key TEXT PRIMARY KEY,
			payload BLOB NOT NULL
		)`)
	}
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("durable cache disabled")
		if db != nil {
			_ = db.Close()
		}
		return c
	}
	c.db = db
	return c
}

// Disabled returns a cache that never stores anything.
func Disabled() *Cache {
	return &Cache{now: time.Now, log: zerolog.Nop()}
}

// Enabled reports whether the cache is backed by storage.
func (c *Cache) Enabled() bool {
	return c != nil && c.db != nil
}

// Write stores data under key with the current timestamp.
func (c *Cache) Write(key string, data any) {
	if !c.Enabled() {
		return
	}
	body, err := json.Marshal(data)
	if err != nil {
		c.log.Debug().Err(err).Str("key", key).Msg("cache encode failed")
		return
	}
	ts := c.now().UnixMilli()
	payload, err := json.Marshal(envelope{Timestamp: &ts, Data: body})
	if err != nil {
		return
	}
	if _, err := c.db.Exec(`INSERT INTO entries (key, payload) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload`, key, payload); err != nil {
		c.log.Debug().Err(err).Str("key", key).Msg("cache write failed")
	}
}

// Remove deletes key. Removing a missing key is not an error.
func (c *Cache) Remove(key string) {
	if !c.Enabled() {
		return
	}
	if _, err := c.db.Exec(`DELETE FROM entries WHERE key = ?`, key); err != nil {
		c.log.Debug().Err(err).Str("key", key).Msg("cache remove failed")
	}
}

// RemovePrefix deletes every key starting with prefix.
func (c *Cache) RemovePrefix(prefix string) {
	if !c.Enabled() || prefix == "" {
		return
	}
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	if _, err := c.db.Exec(`DELETE FROM entries WHERE key LIKE ? ESCAPE '\'`, escaped+"%"); err != nil {
		c.log.Debug().Err(err).Str("prefix", prefix).Msg("cache remove failed")
	}
}

// Close releases the underlying database.
func (c *Cache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.db.Close()
}

// Lookup reads key and decodes its data into T. A maxAge of zero disables the
// age filter. Entries that are unreadable, malformed or older than maxAge are
// evicted and reported as a miss.
func Lookup[T any](c *Cache, key string, maxAge time.Duration) (Entry[T], bool) {
	var zero Entry[T]
	if !c.Enabled() {
		return zero, false
	}

	var payload []byte
	if err := c.db.Get(&payload, `SELECT payload FROM entries WHERE key = ?`, key); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			c.log.Debug().Err(err).Str("key", key).Msg("cache read failed")
		}
		return zero, false
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil || env.Timestamp == nil || len(env.Data) == 0 {
		c.Remove(key)
		return zero, false
	}
	writtenAt := time.UnixMilli(*env.Timestamp)
	if maxAge > 0 && c.now().Sub(writtenAt) > maxAge {
		c.Remove(key)
		return zero, false
	}

	var data T
	if err := json.Unmarshal(env.Data, &data); err != nil {
		c.Remove(key)
		return zero, false
	}
	return Entry[T]{Data: data, WrittenAt: writtenAt}, true
}

// Read is Lookup without the write timestamp.
func Read[T any](c *Cache, key string, maxAge time.Duration) (T, bool) {
	entry, ok := Lookup[T](c, key, maxAge)
	return entry.Data, ok
}
