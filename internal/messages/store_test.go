package messages

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"textly-chat/internal/cache"
	"textly-chat/internal/mocks"
	"textly-chat/internal/models"
	"textly-chat/internal/realtime"
	"textly-chat/internal/repositories"
	"textly-chat/internal/rooms"
)

type memberRooms struct {
	ids      map[string]bool
	validate error
	deleted  []string
}

func (m *memberRooms) Has(roomID string) bool                { return m.ids[roomID] }
func (m *memberRooms) ValidateActive(context.Context) error { return m.validate }
func (m *memberRooms) HandleDeleted(roomID string)          { m.deleted = append(m.deleted, roomID) }

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func msg(id, room, sender string, offset int) models.Message {
	return models.Message{ID: id, RoomID: room, SenderID: sender, Content: "m-" + id, CreatedAt: base.Add(time.Duration(offset) * time.Second)}
}

func publish(t *testing.T, b *realtime.Broker, m models.Message) {
	t.Helper()
	ev, err := realtime.NewEvent(realtime.Insert, realtime.TableMessages, m, nil)
	require.NoError(t, err)
	b.Publish(ev)
}

func messageIDs(list []models.Message) []string {
	ids := make([]string, len(list))
	for i, m := range list {
		ids[i] = m.ID
	}
	return ids
}

func TestInboxDeduplicatesAndOrders(t *testing.T) {
	ctx := context.Background()
	broker := realtime.NewBroker()
	repo := new(mocks.MessageRepositoryMock)
	repo.On("ListMessages", mock.Anything, "r1").Return([]models.Message{msg("b", "r1", "u2", 2)}, nil)

	s := NewStore(repo, &memberRooms{ids: map[string]bool{"r1": true}}, broker, nil, nil, zerolog.Nop())
	s.Mount(ctx, "u1")
	t.Cleanup(s.Unmount)
	require.NoError(t, s.Activate(ctx, "r1"))

	for _, m := range []models.Message{
		msg("c", "r1", "u2", 3),
		msg("a", "r1", "u2", 1),
		msg("b", "r1", "u2", 2),
		msg("c", "r1", "u2", 3),
		msg("a", "r1", "u2", 1),
	} {
		publish(t, broker, m)
	}

	assert.Equal(t, []string{"a", "b", "c"}, messageIDs(s.Messages()))
	assert.Equal(t, Ready, s.State())

	// a late bulk load is a set union, not a replace
	_, err := s.LoadMessages(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, messageIDs(s.Messages()))
}

func TestUnreadCountsAndMarkRead(t *testing.T) {
	ctx := context.Background()
	broker := realtime.NewBroker()
	repo := new(mocks.MessageRepositoryMock)
	repo.On("ListMessages", mock.Anything, mock.Anything).Return([]models.Message{}, nil)

	s := NewStore(repo, &memberRooms{ids: map[string]bool{"r1": true, "r2": true}}, broker, nil, nil, zerolog.Nop())
	s.Mount(ctx, "u1")
	t.Cleanup(s.Unmount)
	require.NoError(t, s.Activate(ctx, "r1"))

	for i := 0; i < 4; i++ {
		publish(t, broker, msg(string(rune('a'+i)), "r2", "u2", i))
	}
	publish(t, broker, msg("own", "r2", "u1", 10))
	publish(t, broker, msg("foreign", "r9", "u3", 11))

	assert.Equal(t, 4, s.Unread("r2"))
	assert.Equal(t, 0, s.Unread("r9"), "rooms the user is not in are ignored")
	assert.Equal(t, map[string]int{"r2": 4}, s.UnreadCounts())
	assert.Empty(t, s.Messages())

	s.MarkRead("r2")
	assert.Equal(t, 0, s.Unread("r2"))
	s.MarkRead("r2")
	assert.Equal(t, 0, s.Unread("r2"))

	publish(t, broker, msg("x", "r2", "u2", 20))
	require.NoError(t, s.Activate(ctx, "r2"))
	assert.Equal(t, 0, s.Unread("r2"), "activation resets the counter")
}

func TestLoadForSwitchedAwayRoomIsDiscarded(t *testing.T) {
	ctx := context.Background()
	repo := new(mocks.MessageRepositoryMock)
	started := make(chan struct{})
	release := make(chan struct{})
	repo.On("ListMessages", mock.Anything, "slow").Run(func(mock.Arguments) {
		close(started)
		<-release
	}).Return([]models.Message{msg("s1", "slow", "u2", 1)}, nil).Once()
	repo.On("ListMessages", mock.Anything, "fast").Return([]models.Message{msg("f1", "fast", "u2", 1)}, nil).Once()

	s := NewStore(repo, &memberRooms{ids: map[string]bool{"slow": true, "fast": true}}, nil, nil, nil, zerolog.Nop())
	s.Mount(ctx, "u1")

	done := make(chan error)
	go func() { done <- s.Activate(ctx, "slow") }()
	<-started
	require.NoError(t, s.Activate(ctx, "fast"))
	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, "fast", s.ActiveID())
	assert.Equal(t, []string{"f1"}, messageIDs(s.Messages()))
}

func TestSendGuards(t *testing.T) {
	ctx := context.Background()
	repo := new(mocks.MessageRepositoryMock)
	repo.On("ListMessages", mock.Anything, "r1").Return([]models.Message{}, nil)
	member := &memberRooms{ids: map[string]bool{"r1": true}}
	s := NewStore(repo, member, nil, nil, nil, zerolog.Nop())
	s.Mount(ctx, "u1")

	sent, err := s.Send(ctx, "hola")
	require.NoError(t, err)
	assert.Nil(t, sent, "no active room")

	require.NoError(t, s.Activate(ctx, "r1"))
	sent, err = s.Send(ctx, "   ")
	require.NoError(t, err)
	assert.Nil(t, sent)
	repo.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	repo.On("CreateMessage", mock.Anything, "r1", "u1", "hola").Return(msg("m1", "r1", "u1", 1), nil).Once()
	sent, err = s.Send(ctx, " hola ")
	require.NoError(t, err)
	require.NotNil(t, sent)
	assert.Equal(t, []string{"m1"}, messageIDs(s.Messages()))

	member.validate = rooms.ErrRoomDeleted
	_, err = s.Send(ctx, "otra")
	assert.ErrorIs(t, err, rooms.ErrRoomDeleted)
	member.validate = nil

	long := strings.Repeat("ñ", repositories.MaxMessageLength+1)
	_, err = s.Send(ctx, long)
	assert.ErrorIs(t, err, ErrMessageTooLong)
	repo.AssertNumberOfCalls(t, "CreateMessage", 1)

	atLimit := strings.Repeat("ñ", repositories.MaxMessageLength)
	repo.On("CreateMessage", mock.Anything, "r1", "u1", atLimit).Return(msg("m2", "r1", "u1", 2), nil).Once()
	sent, err = s.Send(ctx, atLimit)
	require.NoError(t, err)
	require.NotNil(t, sent)
}

func TestSendIntoDeletedRoomInvalidates(t *testing.T) {
	ctx := context.Background()
	repo := new(mocks.MessageRepositoryMock)
	repo.On("ListMessages", mock.Anything, "r1").Return([]models.Message{msg("m0", "r1", "u2", 0)}, nil)
	repo.On("CreateMessage", mock.Anything, "r1", "u1", "hola").Return(nil, repositories.ErrRoomGone).Once()
	member := &memberRooms{ids: map[string]bool{"r1": true}}
	s := NewStore(repo, member, nil, nil, nil, zerolog.Nop())
	s.Mount(ctx, "u1")
	require.NoError(t, s.Activate(ctx, "r1"))

	_, err := s.Send(ctx, "hola")
	assert.ErrorIs(t, err, rooms.ErrRoomDeleted)
	assert.Equal(t, []string{"r1"}, member.deleted)
	assert.Equal(t, Invalidated, s.State())
	assert.Empty(t, s.Messages())
	assert.ErrorIs(t, s.Activate(ctx, "r1"), rooms.ErrRoomDeleted)
}

func TestActivateSkipsFetchForFreshCache(t *testing.T) {
	ctx := context.Background()
	c := cache.Open(filepath.Join(t.TempDir(), "cache.db"), zerolog.Nop())
	t.Cleanup(func() { _ = c.Close() })

	repo := new(mocks.MessageRepositoryMock)
	repo.On("ListMessages", mock.Anything, "r1").Return([]models.Message{msg("a", "r1", "u2", 1)}, nil).Once()
	repo.On("ListMessages", mock.Anything, "r2").Return([]models.Message{}, nil)

	member := &memberRooms{ids: map[string]bool{"r1": true, "r2": true}}
	s := NewStore(repo, member, nil, nil, c, zerolog.Nop(), WithFreshness(time.Minute))
	s.Mount(ctx, "u1")

	require.NoError(t, s.Activate(ctx, "r1"))
	require.NoError(t, s.Activate(ctx, "r2"))
	require.NoError(t, s.Activate(ctx, "r1"))

	assert.Equal(t, []string{"a"}, messageIDs(s.Messages()))
	assert.Equal(t, Ready, s.State())
	repo.AssertExpectations(t)
}

func TestPersistCapsCachedThread(t *testing.T) {
	ctx := context.Background()
	c := cache.Open(filepath.Join(t.TempDir(), "cache.db"), zerolog.Nop())
	t.Cleanup(func() { _ = c.Close() })

	list := make([]models.Message, 0, CacheLimit+25)
	for i := 0; i < CacheLimit+25; i++ {
		list = append(list, msg(time.Duration(i).String(), "r1", "u2", i))
	}
	repo := new(mocks.MessageRepositoryMock)
	repo.On("ListMessages", mock.Anything, "r1").Return(list, nil)

	s := NewStore(repo, &memberRooms{ids: map[string]bool{"r1": true}}, nil, nil, c, zerolog.Nop())
	s.Mount(ctx, "u1")
	require.NoError(t, s.Activate(ctx, "r1"))
	assert.Len(t, s.Messages(), CacheLimit+25)

	cached, ok := cache.Read[[]models.Message](c, cache.Key(cache.KindMessages, "u1", "r1"), 0)
	require.True(t, ok)
	require.Len(t, cached, CacheLimit)
	assert.Equal(t, list[len(list)-1].ID, cached[CacheLimit-1].ID)

	s.ForgetRoom("r1")
	_, ok = cache.Read[[]models.Message](c, cache.Key(cache.KindMessages, "u1", "r1"), 0)
	assert.False(t, ok)
}
