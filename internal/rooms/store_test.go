package rooms

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"textly-chat/internal/cache"
	"textly-chat/internal/mocks"
	"textly-chat/internal/models"
	"textly-chat/internal/realtime"
	"textly-chat/internal/repositories"
)

type recordingProfiles struct {
	mu  sync.Mutex
	ids []string
}

func (p *recordingProfiles) Resolve(_ context.Context, ids []string) {
	p.mu.Lock()
	p.ids = append(p.ids, ids...)
	p.mu.Unlock()
}

func (p *recordingProfiles) requested() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.ids...)
}

type hookLog struct {
	mu      sync.Mutex
	active  []string
	deleted []string
	removed []string
}

func (h *hookLog) hooks() Hooks {
	return Hooks{
		OnActiveChange: func(_ context.Context, id string) error {
			h.mu.Lock()
			h.active = append(h.active, id)
			h.mu.Unlock()
			return nil
		},
		OnRoomDeleted: func(id string) {
			h.mu.Lock()
			h.deleted = append(h.deleted, id)
			h.mu.Unlock()
		},
		OnRoomRemoved: func(id string) {
			h.mu.Lock()
			h.removed = append(h.removed, id)
			h.mu.Unlock()
		},
	}
}

func sequentialCodes(codes ...string) func() (string, error) {
	i := 0
	return func() (string, error) {
		if i >= len(codes) {
			return "", fmt.Errorf("out of codes")
		}
		code := codes[i]
		i++
		return code, nil
	}
}

func newStore(t *testing.T, data *mocks.Datastore, feed realtime.Feed, codes ...string) (*Store, *hookLog, *recordingProfiles) {
	t.Helper()
	profiles := &recordingProfiles{}
	var opts []Option
	if len(codes) > 0 {
		opts = append(opts, WithCodeGenerator(sequentialCodes(codes...)))
	}
	s := NewStore(data, feed, profiles, nil, zerolog.Nop(), opts...)
	hooks := &hookLog{}
	s.SetHooks(hooks.hooks())
	t.Cleanup(s.Unmount)
	return s, hooks, profiles
}

func TestJoinRoomEdgeCases(t *testing.T) {
	ctx := context.Background()
	broker := realtime.NewBroker()
	data := mocks.NewDatastore(broker)

	owner, _, _ := newStore(t, data, broker, "12345678", "87654321")
	_, err := owner.Mount(ctx, "user-x")
	require.NoError(t, err)
	room, err := owner.CreateRoom(ctx, "  Proyecto  ")
	require.NoError(t, err)
	require.NotNil(t, room.RoomName)
	assert.Equal(t, "Proyecto", *room.RoomName)
	assert.Equal(t, room.ID, owner.ActiveID())

	guest, guestHooks, guestProfiles := newStore(t, data, broker)
	_, err = guest.Mount(ctx, "user-y")
	require.NoError(t, err)

	_, err = guest.JoinRoom(ctx, "00000000")
	assert.ErrorIs(t, err, ErrRoomNotFound)
	assert.EqualError(t, err, "room not found")

	_, err = owner.JoinRoom(ctx, "12345678")
	assert.ErrorIs(t, err, ErrAlreadyCreator)

	joined, err := guest.JoinRoom(ctx, " 12345678 ")
	require.NoError(t, err)
	require.NotNil(t, joined.Participant2)
	assert.Equal(t, "user-y", *joined.Participant2)
	assert.Equal(t, joined.ID, guest.ActiveID())
	assert.Contains(t, guestHooks.active, joined.ID)
	assert.Contains(t, guestProfiles.requested(), "user-x")

	// a seated second participant cannot take the seat again
	_, err = guest.JoinRoom(ctx, "12345678")
	assert.ErrorIs(t, err, ErrRoomFull)

	third, _, _ := newStore(t, data, broker)
	_, err = third.Mount(ctx, "user-z")
	require.NoError(t, err)
	_, err = third.JoinRoom(ctx, "12345678")
	assert.ErrorIs(t, err, ErrRoomFull)
	assert.EqualError(t, err, "room full")

	// the owner learns about the new participant through the update feed
	updated, ok := owner.Room(room.ID)
	require.True(t, ok)
	require.NotNil(t, updated.Participant2)
	assert.Equal(t, "user-y", *updated.Participant2)
}

func TestCreateRoomRetriesShareCodeConflicts(t *testing.T) {
	ctx := context.Background()
	repo := new(mocks.RoomRepositoryMock)
	repo.On("ListRoomsForUser", mock.Anything, "u1").Return([]models.Room{}, nil)
	repo.On("CreateRoom", mock.Anything, "u1", (*string)(nil), "11111111").Return(nil, repositories.ErrShareCodeConflict).Once()
	repo.On("CreateRoom", mock.Anything, "u1", (*string)(nil), "22222222").Return(models.Room{ID: "r1", Participant1: "u1", ShareCode: "22222222"}, nil).Once()

	s := NewStore(repo, nil, nil, nil, zerolog.Nop(), WithCodeGenerator(sequentialCodes("11111111", "22222222")))
	_, err := s.Mount(ctx, "u1")
	require.NoError(t, err)

	room, err := s.CreateRoom(ctx, "   ")
	require.NoError(t, err)
	assert.Equal(t, "22222222", room.ShareCode)
	assert.Equal(t, "r1", s.ActiveID())
	repo.AssertExpectations(t)
}

func TestCreateRoomGivesUpAfterRepeatedConflicts(t *testing.T) {
	ctx := context.Background()
	repo := new(mocks.RoomRepositoryMock)
	repo.On("ListRoomsForUser", mock.Anything, "u1").Return([]models.Room{}, nil)
	repo.On("CreateRoom", mock.Anything, "u1", (*string)(nil), mock.Anything).Return(nil, repositories.ErrShareCodeConflict).Times(maxCodeAttempts)

	s := NewStore(repo, nil, nil, nil, zerolog.Nop())
	_, err := s.Mount(ctx, "u1")
	require.NoError(t, err)

	_, err = s.CreateRoom(ctx, "")
	assert.ErrorIs(t, err, repositories.ErrShareCodeConflict)
	assert.Empty(t, s.Rooms())
	repo.AssertExpectations(t)
}

func TestDeleteRoomFallsBackToMostRecent(t *testing.T) {
	ctx := context.Background()
	broker := realtime.NewBroker()
	data := mocks.NewDatastore(broker)
	s, hooks, _ := newStore(t, data, broker, "10000001", "10000002", "10000003")
	_, err := s.Mount(ctx, "u1")
	require.NoError(t, err)

	oldest, err := s.CreateRoom(ctx, "a")
	require.NoError(t, err)
	middle, err := s.CreateRoom(ctx, "b")
	require.NoError(t, err)
	newest, err := s.CreateRoom(ctx, "c")
	require.NoError(t, err)
	require.Equal(t, []string{newest.ID, middle.ID, oldest.ID}, roomIDs(s.Rooms()))

	require.NoError(t, s.DeleteRoom(ctx, newest.ID))
	assert.Equal(t, middle.ID, s.ActiveID())
	assert.Equal(t, []string{middle.ID, oldest.ID}, roomIDs(s.Rooms()))
	assert.Empty(t, hooks.deleted, "own deletions raise no deleted notice")
	assert.Equal(t, []string{newest.ID}, hooks.removed)

	require.NoError(t, s.DeleteRoom(ctx, oldest.ID))
	assert.Equal(t, middle.ID, s.ActiveID())

	require.NoError(t, s.DeleteRoom(ctx, middle.ID))
	assert.Equal(t, "", s.ActiveID())
	assert.Equal(t, "", hooks.active[len(hooks.active)-1])
}

func TestRemoteDeletionOfActiveRoom(t *testing.T) {
	ctx := context.Background()
	broker := realtime.NewBroker()
	data := mocks.NewDatastore(broker)
	s, hooks, _ := newStore(t, data, broker, "20000001", "20000002")
	_, err := s.Mount(ctx, "u1")
	require.NoError(t, err)

	other, err := s.CreateRoom(ctx, "other")
	require.NoError(t, err)
	active, err := s.CreateRoom(ctx, "active")
	require.NoError(t, err)

	// deleting a non-active room remotely is not observed by the delete topic
	data.DropRoom(other.ID)
	assert.Empty(t, hooks.deleted)

	data.DropRoom(active.ID)
	assert.Equal(t, []string{active.ID}, hooks.deleted)
	assert.Equal(t, "", s.ActiveID())
	assert.False(t, s.Has(active.ID))
}

func TestValidateActiveDetectsMissingRoom(t *testing.T) {
	ctx := context.Background()
	data := mocks.NewDatastore(nil)
	s, hooks, _ := newStore(t, data, nil, "30000001")
	_, err := s.Mount(ctx, "u1")
	require.NoError(t, err)
	room, err := s.CreateRoom(ctx, "")
	require.NoError(t, err)

	require.NoError(t, s.ValidateActive(ctx))
	data.DropRoom(room.ID)

	assert.ErrorIs(t, s.ValidateActive(ctx), ErrRoomDeleted)
	assert.Equal(t, []string{room.ID}, hooks.deleted)
	assert.Equal(t, "", s.ActiveID())
	assert.NoError(t, s.ValidateActive(ctx))
}

func TestRealtimeInsertAddsRoomsForParticipantsOnly(t *testing.T) {
	ctx := context.Background()
	broker := realtime.NewBroker()
	data := mocks.NewDatastore(broker)
	s, _, profiles := newStore(t, data, broker)
	_, err := s.Mount(ctx, "u1")
	require.NoError(t, err)

	_, err = data.CreatePairRoom(ctx, "u1", "u2", "40000001")
	require.NoError(t, err)
	_, err = data.CreateRoom(ctx, "u3", nil, "40000002")
	require.NoError(t, err)

	rooms := s.Rooms()
	require.Len(t, rooms, 1)
	assert.True(t, rooms[0].HasParticipant("u2"))
	assert.Contains(t, profiles.requested(), "u2")
	assert.Equal(t, "", s.ActiveID(), "remote inserts do not change the selection")
	assert.Equal(t, []string{"u2"}, s.CounterpartIDs())
}

func TestCreateWithFallsBackToExistingRoom(t *testing.T) {
	ctx := context.Background()
	data := mocks.NewDatastore(nil)
	existing, err := data.CreatePairRoom(ctx, "u1", "u2", "50000001")
	require.NoError(t, err)

	s, _, _ := newStore(t, data, nil, "50000001", "50000001", "50000001", "50000001", "50000001")
	_, err = s.Mount(ctx, "u1")
	require.NoError(t, err)

	room, err := s.CreateWith(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, existing.ID, room.ID)
	assert.Equal(t, existing.ID, s.ActiveID())

	_, err = s.CreateWith(ctx, "u9")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestMountPaintsFromCache(t *testing.T) {
	ctx := context.Background()
	c := cache.Open(filepath.Join(t.TempDir(), "cache.db"), zerolog.Nop())
	t.Cleanup(func() { _ = c.Close() })

	cached := models.Room{ID: "cached", Participant1: "u1", ShareCode: "60000001"}
	c.Write(cache.Key(cache.KindRooms, "u1"), snapshot{Rooms: []models.Room{cached}, ActiveID: "cached"})

	repo := new(mocks.RoomRepositoryMock)
	painted := make(chan []models.Room, 1)
	var s *Store
	repo.On("ListRoomsForUser", mock.Anything, "u1").Run(func(mock.Arguments) {
		painted <- s.Rooms()
	}).Return([]models.Room{{ID: "fresh", Participant1: "u1", ShareCode: "60000002"}}, nil).Once()

	s = NewStore(repo, nil, nil, c, zerolog.Nop())
	hooks := &hookLog{}
	s.SetHooks(hooks.hooks())
	rooms, err := s.Mount(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, []string{"cached"}, roomIDs(<-painted))
	assert.Equal(t, []string{"fresh"}, roomIDs(rooms))
	assert.Equal(t, []string{"fresh"}, roomIDs(s.Rooms()))
	assert.Equal(t, "", s.ActiveID(), "a cached active room missing from the network result is dropped")
	assert.Equal(t, []string{""}, hooks.active)

	snap, ok := cache.Read[snapshot](c, cache.Key(cache.KindRooms, "u1"), 0)
	require.True(t, ok)
	assert.Equal(t, []string{"fresh"}, roomIDs(snap.Rooms))
}

func TestShareCodeFormat(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := NewShareCode()
		require.NoError(t, err)
		assert.Regexp(t, `^[0-9]{8}$`, code)
	}
	assert.Equal(t, "AB12CD34", NormalizeShareCode("  ab12cd34 "))
}

func roomIDs(rooms []models.Room) []string {
	ids := make([]string, len(rooms))
	for i, r := range rooms {
		ids[i] = r.ID
	}
	return ids
}
