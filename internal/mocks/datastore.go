package mocks

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"textly-chat/internal/models"
	"textly-chat/internal/realtime"
	"textly-chat/internal/repositories"
)

// Datastore is an in-memory stand-in for the Postgres repositories. Every
// write is published to the attached feed the way the row_changes trigger
// does it.
type Datastore struct {
	mu          sync.Mutex
	feed        realtime.Publisher
	now         func() time.Time
	rooms       map[string]models.Room
	messages    []models.Message
	friendships map[string]models.Friendship
}

// NewDatastore returns an empty Datastore publishing to feed, which may be nil.
func NewDatastore(feed realtime.Publisher) *Datastore {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	return &Datastore{
		feed: feed,
		now: func() time.Time {
			tick++
			return start.Add(time.Duration(tick) * time.Second)
		},
		rooms:       make(map[string]models.Room),
		friendships: make(map[string]models.Friendship),
	}
}

func (d *Datastore) emit(typ realtime.EventType, table string, newRow, oldRow any) {
	if d.feed == nil {
		return
	}
	ev, err := realtime.NewEvent(typ, table, newRow, oldRow)
	if err != nil {
		panic(fmt.Sprintf("encode %s event: %v", table, err))
	}
	d.feed.Publish(ev)
}

// Rooms

func (d *Datastore) ListRoomsForUser(_ context.Context, userID string) ([]models.Room, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := []models.Room{}
	for _, r := range d.rooms {
		if r.HasParticipant(userID) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (d *Datastore) GetRoom(_ context.Context, roomID string) (models.Room, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.rooms[roomID]
	if !ok {
		return models.Room{}, repositories.ErrRoomNotFound
	}
	return r, nil
}

func (d *Datastore) CreateRoom(_ context.Context, ownerID string, name *string, shareCode string) (models.Room, error) {
	return d.insertRoom(models.Room{RoomName: name, Participant1: ownerID, ShareCode: shareCode})
}

func (d *Datastore) CreatePairRoom(_ context.Context, userA, userB, shareCode string) (models.Room, error) {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return d.insertRoom(models.Room{Participant1: pair[0], Participant2: &pair[1], ShareCode: shareCode})
}

func (d *Datastore) insertRoom(room models.Room) (models.Room, error) {
	d.mu.Lock()
	for _, r := range d.rooms {
		if r.ShareCode == room.ShareCode {
			d.mu.Unlock()
			return models.Room{}, repositories.ErrShareCodeConflict
		}
	}
	room.ID = uuid.NewString()
	room.CreatedAt = d.now()
	d.rooms[room.ID] = room
	d.mu.Unlock()

	d.emit(realtime.Insert, realtime.TableRooms, room, nil)
	return room, nil
}

func (d *Datastore) FindRoomByShareCode(_ context.Context, shareCode string) (models.Room, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range d.rooms {
		if r.ShareCode == shareCode {
			return r, nil
		}
	}
	return models.Room{}, repositories.ErrRoomNotFound
}

func (d *Datastore) FindRoomByParticipants(_ context.Context, userA, userB string) (models.Room, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var found *models.Room
	for _, r := range d.rooms {
		if r.HasParticipant(userA) && r.HasParticipant(userB) && r.Participant2 != nil {
			if found == nil || r.CreatedAt.After(found.CreatedAt) {
				r := r
				found = &r
			}
		}
	}
	if found == nil {
		return models.Room{}, repositories.ErrRoomNotFound
	}
	return *found, nil
}

func (d *Datastore) SetSecondParticipant(_ context.Context, roomID, userID string) (models.Room, error) {
	d.mu.Lock()
	r, ok := d.rooms[roomID]
	if !ok || r.Participant2 != nil || r.Participant1 == userID {
		d.mu.Unlock()
		return models.Room{}, repositories.ErrRoomFull
	}
	old := r
	r.Participant2 = &userID
	d.rooms[roomID] = r
	d.mu.Unlock()

	d.emit(realtime.Update, realtime.TableRooms, r, old)
	return r, nil
}

func (d *Datastore) DeleteRoom(_ context.Context, roomID, userID string) error {
	d.mu.Lock()
	r, ok := d.rooms[roomID]
	if !ok || !r.HasParticipant(userID) {
		d.mu.Unlock()
		return repositories.ErrRoomNotFound
	}
	delete(d.rooms, roomID)
	d.messages = slices.DeleteFunc(d.messages, func(m models.Message) bool { return m.RoomID == roomID })
	d.mu.Unlock()

	d.emit(realtime.Delete, realtime.TableRooms, nil, r)
	return nil
}

// DropRoom deletes a room on behalf of someone else.
func (d *Datastore) DropRoom(roomID string) {
	d.mu.Lock()
	r, ok := d.rooms[roomID]
	delete(d.rooms, roomID)
	d.mu.Unlock()
	if ok {
		d.emit(realtime.Delete, realtime.TableRooms, nil, r)
	}
}

func (d *Datastore) IsParticipant(_ context.Context, roomID, userID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.rooms[roomID]
	return ok && r.HasParticipant(userID), nil
}

func (d *Datastore) CoParticipantIDs(_ context.Context, userID string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := []string{}
	for _, r := range d.rooms {
		if !r.HasParticipant(userID) {
			continue
		}
		if other := r.Counterpart(userID); other != "" && !slices.Contains(ids, other) {
			ids = append(ids, other)
		}
	}
	return ids, nil
}

// Messages

func (d *Datastore) ListMessages(_ context.Context, roomID string) ([]models.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := []models.Message{}
	for _, m := range d.messages {
		if m.RoomID == roomID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (d *Datastore) CreateMessage(_ context.Context, roomID, senderID, content string) (models.Message, error) {
	if utf8.RuneCountInString(content) > repositories.MaxMessageLength {
		return models.Message{}, repositories.ErrMessageTooLong
	}
	d.mu.Lock()
	if _, ok := d.rooms[roomID]; !ok {
		d.mu.Unlock()
		return models.Message{}, repositories.ErrRoomGone
	}
	m := models.Message{ID: uuid.NewString(), RoomID: roomID, SenderID: senderID, Content: content, CreatedAt: d.now()}
	d.messages = append(d.messages, m)
	d.mu.Unlock()

	d.emit(realtime.Insert, realtime.TableMessages, m, nil)
	return m, nil
}

// Friendships

func (d *Datastore) ListPendingReceived(_ context.Context, userID string) ([]models.Friendship, error) {
	return d.listFriendships(func(f models.Friendship) bool {
		return f.ReceiverID == userID && f.Status == models.FriendshipPending
	}), nil
}

func (d *Datastore) ListPendingSent(_ context.Context, userID string) ([]models.Friendship, error) {
	return d.listFriendships(func(f models.Friendship) bool {
		return f.SenderID == userID && f.Status == models.FriendshipPending
	}), nil
}

func (d *Datastore) listFriendships(keep func(models.Friendship) bool) []models.Friendship {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := []models.Friendship{}
	for _, f := range d.friendships {
		if keep(f) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (d *Datastore) FindBetween(_ context.Context, userA, userB string) (models.Friendship, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var found *models.Friendship
	for _, f := range d.friendships {
		pair := (f.SenderID == userA && f.ReceiverID == userB) || (f.SenderID == userB && f.ReceiverID == userA)
		if pair && (found == nil || f.CreatedAt.After(found.CreatedAt)) {
			f := f
			found = &f
		}
	}
	if found == nil {
		return models.Friendship{}, repositories.ErrFriendshipNotFound
	}
	return *found, nil
}

func (d *Datastore) CreateFriendship(_ context.Context, senderID, receiverID string) (models.Friendship, error) {
	d.mu.Lock()
	for _, f := range d.friendships {
		pair := (f.SenderID == senderID && f.ReceiverID == receiverID) || (f.SenderID == receiverID && f.ReceiverID == senderID)
		if pair && f.Status != models.FriendshipBlocked {
			d.mu.Unlock()
			return models.Friendship{}, repositories.ErrFriendshipExists
		}
	}
	f := models.Friendship{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Status:     models.FriendshipPending,
		CreatedAt:  d.now(),
	}
	d.friendships[f.ID] = f
	d.mu.Unlock()

	d.emit(realtime.Insert, realtime.TableFriendships, f, nil)
	return f, nil
}

func (d *Datastore) AcceptFriendship(_ context.Context, id, receiverID string) (models.Friendship, error) {
	d.mu.Lock()
	f, ok := d.friendships[id]
	if !ok || f.ReceiverID != receiverID || f.Status != models.FriendshipPending {
		d.mu.Unlock()
		return models.Friendship{}, repositories.ErrFriendshipNotFound
	}
	old := f
	f.Status = models.FriendshipAccepted
	d.friendships[id] = f
	d.mu.Unlock()

	d.emit(realtime.Update, realtime.TableFriendships, f, old)
	return f, nil
}

func (d *Datastore) CancelFriendship(_ context.Context, id, senderID string) error {
	d.mu.Lock()
	f, ok := d.friendships[id]
	if !ok || f.SenderID != senderID || f.Status != models.FriendshipPending {
		d.mu.Unlock()
		return repositories.ErrFriendshipNotFound
	}
	delete(d.friendships, id)
	d.mu.Unlock()

	d.emit(realtime.Delete, realtime.TableFriendships, nil, f)
	return nil
}

var (
	_ repositories.RoomRepository       = (*Datastore)(nil)
	_ repositories.MessageRepository    = (*Datastore)(nil)
	_ repositories.FriendshipRepository = (*Datastore)(nil)
)
