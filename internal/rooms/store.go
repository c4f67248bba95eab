// Package rooms keeps the current user's room list and active room in sync
// with the datastore and the change feed.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"textly-chat/internal/cache"
	"textly-chat/internal/models"
	"textly-chat/internal/realtime"
	"textly-chat/internal/repositories"
)

const (
	cacheMaxAge     = 12 * time.Hour
	maxCodeAttempts = 5
)

var (
	ErrRoomNotFound   = repositories.ErrRoomNotFound
	ErrRoomFull       = repositories.ErrRoomFull
	ErrAlreadyCreator = errors.New("already creator")
	// ErrRoomDeleted reports that a room vanished while the user was in it.
	ErrRoomDeleted = errors.New("room was deleted")
	ErrNotMounted  = errors.New("room store not mounted")
)

// Repository is the subset of room persistence the store needs.
type Repository interface {
	ListRoomsForUser(ctx context.Context, userID string) ([]models.Room, error)
	GetRoom(ctx context.Context, roomID string) (models.Room, error)
	CreateRoom(ctx context.Context, ownerID string, name *string, shareCode string) (models.Room, error)
	CreatePairRoom(ctx context.Context, userA, userB, shareCode string) (models.Room, error)
	FindRoomByShareCode(ctx context.Context, shareCode string) (models.Room, error)
	FindRoomByParticipants(ctx context.Context, userA, userB string) (models.Room, error)
	SetSecondParticipant(ctx context.Context, roomID, userID string) (models.Room, error)
	DeleteRoom(ctx context.Context, roomID, userID string) error
}

// ProfileLoader resolves display profiles for user ids.
type ProfileLoader interface {
	Resolve(ctx context.Context, ids []string)
}

// Hooks connect the store to the rest of the session. All are optional and
// are called without the store lock held.
type Hooks struct {
	// OnActiveChange runs after the active room changes; roomID is "" when
	// no room is active.
	OnActiveChange func(ctx context.Context, roomID string) error
	// OnRoomDeleted runs when the active room was deleted by someone else.
	OnRoomDeleted func(roomID string)
	// OnRoomRemoved runs whenever a room leaves the list.
	OnRoomRemoved func(roomID string)
}

type snapshot struct {
	Rooms    []models.Room `json:"rooms"`
	ActiveID string        `json:"active_id"`
}

// Store owns the room list and the active-room pointer.
type Store struct {
	repo     Repository
	feed     realtime.Feed
	profiles ProfileLoader
	cache    *cache.Cache
	log      zerolog.Logger
	newCode  func() (string, error)

	mu            sync.Mutex
	ctx           context.Context
	userID        string
	rooms         []models.Room
	activeID      string
	pendingDelete map[string]struct{}
	hooks         Hooks

	subMu     sync.Mutex
	subs      []realtime.Subscription
	deleteSub realtime.Subscription
}

// Option customizes a Store.
type Option func(*Store)

// WithCodeGenerator replaces the share code generator.
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(s *Store) { s.newCode = gen }
}

// NewStore constructs a Store. feed, profiles and c may be nil.
func NewStore(repo Repository, feed realtime.Feed, profiles ProfileLoader, c *cache.Cache, logger zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		repo:          repo,
		feed:          feed,
		profiles:      profiles,
		cache:         c,
		log:           logger.With().Str("component", "rooms").Logger(),
		newCode:       NewShareCode,
		ctx:           context.Background(),
		pendingDelete: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetHooks installs the session callbacks.
func (s *Store) SetHooks(h Hooks) {
	s.mu.Lock()
	s.hooks = h
	s.mu.Unlock()
}

// Mount binds the store to userID: it paints from the cache, opens the room
// subscriptions and then loads the authoritative list.
func (s *Store) Mount(ctx context.Context, userID string) ([]models.Room, error) {
	s.Unmount()

	s.mu.Lock()
	s.ctx = context.WithoutCancel(ctx)
	s.userID = userID
	s.rooms = nil
	s.activeID = ""
	if snap, ok := cache.Read[snapshot](s.cache, cache.Key(cache.KindRooms, userID), cacheMaxAge); ok {
		s.rooms = snap.Rooms
		if containsRoom(snap.Rooms, snap.ActiveID) {
			s.activeID = snap.ActiveID
		}
	}
	activeID := s.activeID
	s.mu.Unlock()

	s.subscribeRoomChanges()
	s.watchDeletion(activeID)

	return s.LoadRooms(ctx)
}

// Unmount closes every subscription.
func (s *Store) Unmount() {
	s.subMu.Lock()
	subs := s.subs
	deleteSub := s.deleteSub
	s.subs = nil
	s.deleteSub = nil
	s.subMu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	if deleteSub != nil {
		deleteSub.Unsubscribe()
	}
}

// LoadRooms fetches every room the user participates in, newest first, and
// replaces the local list with it.
func (s *Store) LoadRooms(ctx context.Context) ([]models.Room, error) {
	userID := s.currentUser()
	if userID == "" {
		return nil, ErrNotMounted
	}
	rooms, err := s.repo.ListRoomsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load rooms: %w", err)
	}
	sortRooms(rooms)

	s.mu.Lock()
	if s.userID != userID {
		s.mu.Unlock()
		return rooms, nil
	}
	s.rooms = slices.Clone(rooms)
	lostActive := s.activeID != "" && !containsRoom(rooms, s.activeID)
	if lostActive {
		s.activeID = ""
	}
	s.persistLocked()
	s.mu.Unlock()

	if lostActive {
		s.watchDeletion("")
		s.notifyActive(ctx, "")
	}
	return rooms, nil
}

// CreateRoom creates a room owned by the current user and activates it.
// Share code collisions are retried with fresh codes.
func (s *Store) CreateRoom(ctx context.Context, name string) (models.Room, error) {
	userID := s.currentUser()
	if userID == "" {
		return models.Room{}, ErrNotMounted
	}
	var roomName *string
	if trimmed := strings.TrimSpace(name); trimmed != "" {
		roomName = &trimmed
	}

	room, err := s.withFreshCode(func(code string) (models.Room, error) {
		return s.repo.CreateRoom(ctx, userID, roomName, code)
	})
	if err != nil {
		return models.Room{}, fmt.Errorf("create room: %w", err)
	}
	s.Upsert(room)
	s.activateLogged(ctx, room.ID)
	return room, nil
}

// JoinRoom takes the open seat of the room identified by code and activates it.
func (s *Store) JoinRoom(ctx context.Context, code string) (models.Room, error) {
	userID := s.currentUser()
	if userID == "" {
		return models.Room{}, ErrNotMounted
	}
	room, err := s.repo.FindRoomByShareCode(ctx, NormalizeShareCode(code))
	if err != nil {
		return models.Room{}, err
	}
	if room.Participant1 == userID {
		return models.Room{}, ErrAlreadyCreator
	}
	if room.Participant2 != nil {
		return models.Room{}, ErrRoomFull
	}
	room, err = s.repo.SetSecondParticipant(ctx, room.ID, userID)
	if err != nil {
		return models.Room{}, err
	}

	s.Upsert(room)
	s.resolve(ctx, room.Participant1)
	s.activateLogged(ctx, room.ID)
	return room, nil
}

// CreateWith creates a two-participant room with otherID and activates it.
// When creation fails it falls back to an existing room of the pair.
func (s *Store) CreateWith(ctx context.Context, otherID string) (models.Room, error) {
	userID := s.currentUser()
	if userID == "" {
		return models.Room{}, ErrNotMounted
	}
	room, err := s.withFreshCode(func(code string) (models.Room, error) {
		return s.repo.CreatePairRoom(ctx, userID, otherID, code)
	})
	if err != nil {
		s.log.Warn().Err(err).Str("other_id", otherID).Msg("pair room creation failed, looking for an existing room")
		existing, findErr := s.OpenWith(ctx, otherID)
		if findErr != nil {
			return models.Room{}, errors.Join(fmt.Errorf("create pair room: %w", err), findErr)
		}
		return existing, nil
	}
	s.Upsert(room)
	s.resolve(ctx, otherID)
	s.activateLogged(ctx, room.ID)
	return room, nil
}

// OpenWith activates the most recent room shared with otherID.
func (s *Store) OpenWith(ctx context.Context, otherID string) (models.Room, error) {
	userID := s.currentUser()
	if userID == "" {
		return models.Room{}, ErrNotMounted
	}
	room, err := s.repo.FindRoomByParticipants(ctx, userID, otherID)
	if err != nil {
		return models.Room{}, err
	}
	s.Upsert(room)
	s.resolve(ctx, otherID)
	s.activateLogged(ctx, room.ID)
	return room, nil
}

// DeleteRoom deletes a room and drops it locally. When it was active the
// next most recent room becomes active.
func (s *Store) DeleteRoom(ctx context.Context, roomID string) error {
	userID := s.currentUser()
	if userID == "" {
		return ErrNotMounted
	}

	s.mu.Lock()
	s.pendingDelete[roomID] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pendingDelete, roomID)
		s.mu.Unlock()
	}()

	if err := s.repo.DeleteRoom(ctx, roomID, userID); err != nil {
		return fmt.Errorf("delete room: %w", err)
	}

	s.mu.Lock()
	wasActive := s.activeID == roomID
	s.rooms = slices.DeleteFunc(s.rooms, func(r models.Room) bool { return r.ID == roomID })
	next := s.activeID
	if wasActive {
		next = ""
		if len(s.rooms) > 0 {
			next = s.rooms[0].ID
		}
		s.activeID = next
	}
	s.persistLocked()
	hooks := s.hooks
	s.mu.Unlock()

	if hooks.OnRoomRemoved != nil {
		hooks.OnRoomRemoved(roomID)
	}
	if wasActive {
		s.watchDeletion(next)
		if err := s.notifyActive(ctx, next); err != nil {
			s.log.Warn().Err(err).Str("room_id", next).Msg("activate fallback room")
		}
	}
	return nil
}

// SetActive makes roomID the active room. An empty id clears the selection.
func (s *Store) SetActive(ctx context.Context, roomID string) error {
	s.mu.Lock()
	if roomID != "" && !containsRoom(s.rooms, roomID) {
		s.mu.Unlock()
		return ErrRoomNotFound
	}
	s.activeID = roomID
	s.persistLocked()
	s.mu.Unlock()

	s.watchDeletion(roomID)
	return s.notifyActive(ctx, roomID)
}

// ValidateActive confirms the active room still exists. A missing room is
// handled as a deletion and reported as ErrRoomDeleted.
func (s *Store) ValidateActive(ctx context.Context) error {
	roomID := s.ActiveID()
	if roomID == "" {
		return nil
	}
	_, err := s.repo.GetRoom(ctx, roomID)
	if errors.Is(err, repositories.ErrRoomNotFound) {
		s.HandleDeleted(roomID)
		return ErrRoomDeleted
	}
	return err
}

// HandleDeleted drops a room that disappeared underneath the user. When it
// was the active room the selection is cleared and OnRoomDeleted fires.
func (s *Store) HandleDeleted(roomID string) {
	s.mu.Lock()
	if _, mine := s.pendingDelete[roomID]; mine {
		s.mu.Unlock()
		return
	}
	known := containsRoom(s.rooms, roomID)
	wasActive := s.activeID == roomID
	s.rooms = slices.DeleteFunc(s.rooms, func(r models.Room) bool { return r.ID == roomID })
	if wasActive {
		s.activeID = ""
	}
	s.persistLocked()
	hooks := s.hooks
	ctx := s.ctx
	s.mu.Unlock()

	if !known && !wasActive {
		return
	}
	s.log.Info().Str("room_id", roomID).Bool("active", wasActive).Msg("room deleted remotely")
	if hooks.OnRoomRemoved != nil {
		hooks.OnRoomRemoved(roomID)
	}
	if wasActive {
		s.watchDeletion("")
		if hooks.OnRoomDeleted != nil {
			hooks.OnRoomDeleted(roomID)
		}
		_ = s.notifyActive(ctx, "")
	}
}

// Upsert inserts or replaces a room, keeping the list newest first.
func (s *Store) Upsert(room models.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertLocked(room)
	s.persistLocked()
}

// Rooms returns a copy of the room list, newest first.
func (s *Store) Rooms() []models.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.rooms)
}

// Room returns a room from the local list.
func (s *Store) Room(roomID string) (models.Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rooms {
		if r.ID == roomID {
			return r, true
		}
	}
	return models.Room{}, false
}

// Has reports whether the user participates in roomID as far as the store
// knows.
func (s *Store) Has(roomID string) bool {
	_, ok := s.Room(roomID)
	return ok
}

// ActiveID returns the active room id or "".
func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// Active returns the active room.
func (s *Store) Active() (models.Room, bool) {
	return s.Room(s.ActiveID())
}

// CounterpartIDs lists the other participant of every room.
func (s *Store) CounterpartIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, r := range s.rooms {
		if other := r.Counterpart(s.userID); other != "" && !slices.Contains(ids, other) {
			ids = append(ids, other)
		}
	}
	return ids
}

func (s *Store) subscribeRoomChanges() {
	if s.feed == nil {
		return
	}
	var subs []realtime.Subscription
	for _, typ := range []realtime.EventType{realtime.Insert, realtime.Update} {
		sub, err := s.feed.Subscribe(realtime.Topic{Table: realtime.TableRooms, Events: []realtime.EventType{typ}}, s.onRoomChange)
		if err != nil {
			s.log.Warn().Err(err).Str("event", string(typ)).Msg("subscribe to room changes")
			continue
		}
		subs = append(subs, sub)
	}
	s.subMu.Lock()
	s.subs = append(s.subs, subs...)
	s.subMu.Unlock()
}

// watchDeletion moves the delete subscription to roomID.
func (s *Store) watchDeletion(roomID string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.deleteSub != nil {
		s.deleteSub.Unsubscribe()
		s.deleteSub = nil
	}
	if s.feed == nil || roomID == "" {
		return
	}
	topic := realtime.Topic{
		Table:  realtime.TableRooms,
		Events: []realtime.EventType{realtime.Delete},
		Column: "id",
		Value:  roomID,
	}
	sub, err := s.feed.Subscribe(topic, s.onRoomDelete)
	if err != nil {
		s.log.Warn().Err(err).Str("room_id", roomID).Msg("subscribe to room deletion")
		return
	}
	s.deleteSub = sub
}

func (s *Store) onRoomChange(ev realtime.Event) {
	var room models.Room
	if err := ev.DecodeNew(&room); err != nil {
		s.log.Debug().Err(err).Msg("ignoring undecodable room event")
		return
	}

	s.mu.Lock()
	userID := s.userID
	if !room.HasParticipant(userID) {
		s.mu.Unlock()
		return
	}
	if ev.Type == realtime.Insert && containsRoom(s.rooms, room.ID) {
		s.mu.Unlock()
		return
	}
	s.upsertLocked(room)
	s.persistLocked()
	ctx := s.ctx
	s.mu.Unlock()

	s.resolve(ctx, room.Counterpart(userID))
}

func (s *Store) onRoomDelete(ev realtime.Event) {
	var room models.Room
	if err := ev.DecodeOld(&room); err != nil || room.ID == "" {
		return
	}
	if room.ID != s.ActiveID() {
		return
	}
	s.HandleDeleted(room.ID)
}

func (s *Store) withFreshCode(insert func(code string) (models.Room, error)) (models.Room, error) {
	var lastErr error
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return models.Room{}, err
		}
		room, err := insert(code)
		if !errors.Is(err, repositories.ErrShareCodeConflict) {
			return room, err
		}
		lastErr = err
		s.log.Debug().Int("attempt", attempt+1).Msg("share code collision")
	}
	return models.Room{}, lastErr
}

func (s *Store) activateLogged(ctx context.Context, roomID string) {
	if err := s.SetActive(ctx, roomID); err != nil {
		s.log.Warn().Err(err).Str("room_id", roomID).Msg("activate room")
	}
}

func (s *Store) notifyActive(ctx context.Context, roomID string) error {
	s.mu.Lock()
	hook := s.hooks.OnActiveChange
	s.mu.Unlock()
	if hook == nil {
		return nil
	}
	return hook(ctx, roomID)
}

func (s *Store) resolve(ctx context.Context, ids ...string) {
	if s.profiles == nil {
		return
	}
	ids = slices.DeleteFunc(ids, func(id string) bool { return id == "" })
	if len(ids) > 0 {
		s.profiles.Resolve(ctx, ids)
	}
}

func (s *Store) currentUser() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Store) upsertLocked(room models.Room) {
	for i, r := range s.rooms {
		if r.ID == room.ID {
			s.rooms[i] = room
			sortRooms(s.rooms)
			return
		}
	}
	s.rooms = append(s.rooms, room)
	sortRooms(s.rooms)
}

func (s *Store) persistLocked() {
	if s.userID == "" {
		return
	}
	s.cache.Write(cache.Key(cache.KindRooms, s.userID), snapshot{Rooms: s.rooms, ActiveID: s.activeID})
}

func sortRooms(rooms []models.Room) {
	slices.SortStableFunc(rooms, func(a, b models.Room) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
}

func containsRoom(rooms []models.Room, roomID string) bool {
	if roomID == "" {
		return false
	}
	return slices.ContainsFunc(rooms, func(r models.Room) bool { return r.ID == roomID })
}
