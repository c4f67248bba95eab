// Package messages holds the active room's thread and the per-room unread
// counters fed by the inbox subscription.
package messages

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"textly-chat/internal/cache"
	"textly-chat/internal/models"
	"textly-chat/internal/realtime"
	"textly-chat/internal/repositories"
	"textly-chat/internal/rooms"
)

// MaxLength is the longest message Send accepts, in characters.
const MaxLength = repositories.MaxMessageLength

// ErrMessageTooLong is returned by Send for content over MaxLength.
var ErrMessageTooLong = repositories.ErrMessageTooLong

const (
	// CacheLimit is the number of most recent messages kept per room.
	CacheLimit = 200
	// DefaultFreshness is how recent a cached thread must be to skip the fetch.
	DefaultFreshness = 20 * time.Second

	cacheMaxAge = 24 * time.Hour
)

// State is the lifecycle of the active thread.
type State int

const (
	Idle State = iota
	Loading
	Ready
	Invalidated
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Invalidated:
		return "invalidated"
	default:
		return "idle"
	}
}

// Repository is the subset of message persistence the store needs.
type Repository interface {
	ListMessages(ctx context.Context, roomID string) ([]models.Message, error)
	CreateMessage(ctx context.Context, roomID, senderID, content string) (models.Message, error)
}

// Rooms is the view of the room store the message store relies on.
type Rooms interface {
	Has(roomID string) bool
	ValidateActive(ctx context.Context) error
	HandleDeleted(roomID string)
}

// ProfileLoader resolves display profiles for user ids.
type ProfileLoader interface {
	Resolve(ctx context.Context, ids []string)
}

// Store owns the message list of the active room and the unread map.
type Store struct {
	repo      Repository
	rooms     Rooms
	feed      realtime.Feed
	profiles  ProfileLoader
	cache     *cache.Cache
	log       zerolog.Logger
	freshness time.Duration
	now       func() time.Time

	mu          sync.Mutex
	ctx         context.Context
	userID      string
	activeID    string
	state       State
	messages    []models.Message
	unread      map[string]int
	invalidated map[string]struct{}
	// rooms that received messages while inactive; their cached thread is
	// not trusted as fresh
	stale map[string]struct{}
	inbox realtime.Subscription
}

// Option customizes a Store.
type Option func(*Store)

// WithFreshness sets how recent a cached thread must be to skip the network
// fetch on activation. Zero always fetches.
func WithFreshness(d time.Duration) Option {
	return func(s *Store) { s.freshness = d }
}

// WithClock overrides the store clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore constructs a Store. feed, profiles and c may be nil.
func NewStore(repo Repository, roomStore Rooms, feed realtime.Feed, profiles ProfileLoader, c *cache.Cache, logger zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		repo:        repo,
		rooms:       roomStore,
		feed:        feed,
		profiles:    profiles,
		cache:       c,
		log:         logger.With().Str("component", "messages").Logger(),
		freshness:   DefaultFreshness,
		now:         time.Now,
		ctx:         context.Background(),
		unread:      make(map[string]int),
		invalidated: make(map[string]struct{}),
		stale:       make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mount binds the store to userID and opens the inbox subscription.
func (s *Store) Mount(ctx context.Context, userID string) {
	s.Unmount()

	s.mu.Lock()
	s.ctx = context.WithoutCancel(ctx)
	s.userID = userID
	s.activeID = ""
	s.state = Idle
	s.messages = nil
	s.unread = make(map[string]int)
	s.invalidated = make(map[string]struct{})
	s.stale = make(map[string]struct{})
	s.mu.Unlock()

	if s.feed == nil {
		return
	}
	topic := realtime.Topic{Table: realtime.TableMessages, Events: []realtime.EventType{realtime.Insert}}
	sub, err := s.feed.Subscribe(topic, s.onInboxMessage)
	if err != nil {
		s.log.Warn().Err(err).Msg("subscribe to inbox")
		return
	}
	s.mu.Lock()
	s.inbox = sub
	s.mu.Unlock()
}

// Unmount closes the inbox subscription.
func (s *Store) Unmount() {
	s.mu.Lock()
	sub := s.inbox
	s.inbox = nil
	s.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
}

// Activate switches the thread to roomID: unread is reset, the cached thread
// is painted and then superseded by the network unless the cache is fresh.
func (s *Store) Activate(ctx context.Context, roomID string) error {
	s.mu.Lock()
	if roomID == "" {
		s.activeID = ""
		s.messages = nil
		if s.state != Invalidated {
			s.state = Idle
		}
		s.mu.Unlock()
		return nil
	}
	if _, gone := s.invalidated[roomID]; gone {
		s.mu.Unlock()
		return rooms.ErrRoomDeleted
	}
	s.activeID = roomID
	s.state = Loading
	s.unread[roomID] = 0
	s.messages = nil
	fresh := false
	if entry, ok := cache.Lookup[[]models.Message](s.cache, s.cacheKeyLocked(roomID), cacheMaxAge); ok {
		s.messages = entry.Data
		_, stale := s.stale[roomID]
		fresh = !stale && s.freshness > 0 && s.now().Sub(entry.WrittenAt) < s.freshness
	}
	delete(s.stale, roomID)
	if fresh {
		s.state = Ready
	}
	s.mu.Unlock()

	if fresh {
		s.log.Debug().Str("room_id", roomID).Msg("cached thread is fresh, skipping fetch")
		return nil
	}
	_, err := s.LoadMessages(ctx, roomID)
	return err
}

// LoadMessages fetches the full thread of roomID and merges it into the
// active list. The result is dropped when roomID stopped being active while
// the fetch was in flight.
func (s *Store) LoadMessages(ctx context.Context, roomID string) ([]models.Message, error) {
	list, err := s.repo.ListMessages(ctx, roomID)
	if err != nil {
		s.mu.Lock()
		if s.activeID == roomID && s.state == Loading {
			s.state = Ready
		}
		s.mu.Unlock()
		return nil, fmt.Errorf("load messages: %w", err)
	}

	s.mu.Lock()
	_, gone := s.invalidated[roomID]
	if s.activeID != roomID || gone {
		s.mu.Unlock()
		s.log.Debug().Str("room_id", roomID).Msg("discarding thread of a room that is no longer active")
		return list, nil
	}
	s.messages = merge(s.messages, list...)
	s.state = Ready
	s.persistLocked()
	ctx = s.ctx
	s.mu.Unlock()

	s.resolveSenders(ctx, list)
	return list, nil
}

// Send posts text to the active room. Blank text or no active room is a
// no-op. A room deleted concurrently is reported as rooms.ErrRoomDeleted.
func (s *Store) Send(ctx context.Context, text string) (*models.Message, error) {
	content := strings.TrimSpace(text)
	s.mu.Lock()
	roomID, userID := s.activeID, s.userID
	s.mu.Unlock()
	if content == "" || roomID == "" {
		return nil, nil
	}
	if utf8.RuneCountInString(content) > MaxLength {
		return nil, ErrMessageTooLong
	}

	if s.rooms != nil {
		if err := s.rooms.ValidateActive(ctx); err != nil {
			if errors.Is(err, rooms.ErrRoomDeleted) {
				return nil, err
			}
			return nil, fmt.Errorf("validate room: %w", err)
		}
	}

	msg, err := s.repo.CreateMessage(ctx, roomID, userID, content)
	if errors.Is(err, repositories.ErrRoomGone) {
		if s.rooms != nil {
			s.rooms.HandleDeleted(roomID)
		}
		s.Invalidate(roomID)
		return nil, rooms.ErrRoomDeleted
	}
	if errors.Is(err, repositories.ErrMessageTooLong) {
		return nil, ErrMessageTooLong
	}
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	s.mu.Lock()
	if s.activeID == roomID {
		s.messages = merge(s.messages, msg)
		s.persistLocked()
	}
	s.mu.Unlock()
	return &msg, nil
}

// Invalidate marks roomID as deleted. The thread is cleared when it was
// active and the room can no longer be activated.
func (s *Store) Invalidate(roomID string) {
	s.mu.Lock()
	s.invalidated[roomID] = struct{}{}
	delete(s.unread, roomID)
	if s.activeID == roomID {
		s.activeID = ""
		s.messages = nil
		s.state = Invalidated
	}
	key := s.cacheKeyLocked(roomID)
	s.mu.Unlock()
	s.cache.Remove(key)
}

// ForgetRoom drops the unread counter and cached thread of a removed room.
func (s *Store) ForgetRoom(roomID string) {
	s.mu.Lock()
	delete(s.unread, roomID)
	key := s.cacheKeyLocked(roomID)
	s.mu.Unlock()
	s.cache.Remove(key)
}

// MarkRead resets the unread counter of roomID.
func (s *Store) MarkRead(roomID string) {
	s.mu.Lock()
	s.unread[roomID] = 0
	s.mu.Unlock()
}

// Unread returns the unread counter of roomID.
func (s *Store) Unread(roomID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread[roomID]
}

// UnreadCounts copies the non-zero unread counters.
func (s *Store) UnreadCounts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.unread))
	for id, n := range s.unread {
		if n > 0 {
			out[id] = n
		}
	}
	return out
}

// Messages copies the active thread.
func (s *Store) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages)
}

// ActiveID returns the room whose thread is loaded.
func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// State returns the thread state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Store) onInboxMessage(ev realtime.Event) {
	var msg models.Message
	if err := ev.DecodeNew(&msg); err != nil || msg.ID == "" {
		return
	}
	if s.rooms != nil && !s.rooms.Has(msg.RoomID) {
		return
	}

	s.mu.Lock()
	if _, gone := s.invalidated[msg.RoomID]; gone {
		s.mu.Unlock()
		return
	}
	if msg.RoomID == s.activeID {
		s.messages = merge(s.messages, msg)
		s.persistLocked()
		ctx := s.ctx
		s.mu.Unlock()
		s.resolveSenders(ctx, []models.Message{msg})
		return
	}
	s.stale[msg.RoomID] = struct{}{}
	if msg.SenderID != s.userID {
		s.unread[msg.RoomID]++
	}
	s.mu.Unlock()
}

func (s *Store) resolveSenders(ctx context.Context, list []models.Message) {
	if s.profiles == nil || len(list) == 0 {
		return
	}
	var ids []string
	for _, m := range list {
		if m.SenderID != "" && !slices.Contains(ids, m.SenderID) {
			ids = append(ids, m.SenderID)
		}
	}
	s.profiles.Resolve(ctx, ids)
}

func (s *Store) persistLocked() {
	if s.activeID == "" || s.userID == "" {
		return
	}
	list := s.messages
	if len(list) > CacheLimit {
		list = list[len(list)-CacheLimit:]
	}
	s.cache.Write(s.cacheKeyLocked(s.activeID), list)
}

func (s *Store) cacheKeyLocked(roomID string) string {
	return cache.Key(cache.KindMessages, s.userID, roomID)
}

// merge adds incoming to current with set-union semantics by id and keeps
// the result ordered by creation time.
func merge(current []models.Message, incoming ...models.Message) []models.Message {
	seen := make(map[string]struct{}, len(current)+len(incoming))
	out := make([]models.Message, 0, len(current)+len(incoming))
	for _, m := range current {
		if _, dup := seen[m.ID]; !dup {
			seen[m.ID] = struct{}{}
			out = append(out, m)
		}
	}
	for _, m := range incoming {
		if _, dup := seen[m.ID]; !dup {
			seen[m.ID] = struct{}{}
			out = append(out, m)
		}
	}
	slices.SortStableFunc(out, func(a, b models.Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}
