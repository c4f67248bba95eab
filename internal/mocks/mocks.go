package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"textly-chat/internal/models"
	"textly-chat/internal/repositories"
)

type RoomRepositoryMock struct {
	mock.Mock
}

func (m *RoomRepositoryMock) ListRoomsForUser(ctx context.Context, userID string) ([]models.Room, error) {
	args := m.Called(ctx, userID)
	var rooms []models.Room
	if val := args.Get(0); val != nil {
		rooms = val.([]models.Room)
	}
	return rooms, args.Error(1)
}

func (m *RoomRepositoryMock) GetRoom(ctx context.Context, roomID string) (models.Room, error) {
	args := m.Called(ctx, roomID)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepositoryMock) CreateRoom(ctx context.Context, ownerID string, name *string, shareCode string) (models.Room, error) {
	args := m.Called(ctx, ownerID, name, shareCode)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepositoryMock) CreatePairRoom(ctx context.Context, userA, userB, shareCode string) (models.Room, error) {
	args := m.Called(ctx, userA, userB, shareCode)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepositoryMock) FindRoomByShareCode(ctx context.Context, shareCode string) (models.Room, error) {
	args := m.Called(ctx, shareCode)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepositoryMock) FindRoomByParticipants(ctx context.Context, userA, userB string) (models.Room, error) {
	args := m.Called(ctx, userA, userB)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepositoryMock) SetSecondParticipant(ctx context.Context, roomID, userID string) (models.Room, error) {
	args := m.Called(ctx, roomID, userID)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepositoryMock) DeleteRoom(ctx context.Context, roomID, userID string) error {
	args := m.Called(ctx, roomID, userID)
	return args.Error(0)
}

func (m *RoomRepositoryMock) IsParticipant(ctx context.Context, roomID, userID string) (bool, error) {
	args := m.Called(ctx, roomID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *RoomRepositoryMock) CoParticipantIDs(ctx context.Context, userID string) ([]string, error) {
	args := m.Called(ctx, userID)
	var ids []string
	if val := args.Get(0); val != nil {
		ids = val.([]string)
	}
	return ids, args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) ListMessages(ctx context.Context, roomID string) ([]models.Message, error) {
	args := m.Called(ctx, roomID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, roomID, senderID, content string) (models.Message, error) {
	args := m.Called(ctx, roomID, senderID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

type FriendshipRepositoryMock struct {
	mock.Mock
}

func (m *FriendshipRepositoryMock) ListPendingReceived(ctx context.Context, userID string) ([]models.Friendship, error) {
	args := m.Called(ctx, userID)
	var list []models.Friendship
	if val := args.Get(0); val != nil {
		list = val.([]models.Friendship)
	}
	return list, args.Error(1)
}

func (m *FriendshipRepositoryMock) ListPendingSent(ctx context.Context, userID string) ([]models.Friendship, error) {
	args := m.Called(ctx, userID)
	var list []models.Friendship
	if val := args.Get(0); val != nil {
		list = val.([]models.Friendship)
	}
	return list, args.Error(1)
}

func (m *FriendshipRepositoryMock) FindBetween(ctx context.Context, userA, userB string) (models.Friendship, error) {
	args := m.Called(ctx, userA, userB)
	var f models.Friendship
	if val := args.Get(0); val != nil {
		f = val.(models.Friendship)
	}
	return f, args.Error(1)
}

func (m *FriendshipRepositoryMock) CreateFriendship(ctx context.Context, senderID, receiverID string) (models.Friendship, error) {
	args := m.Called(ctx, senderID, receiverID)
	var f models.Friendship
	if val := args.Get(0); val != nil {
		f = val.(models.Friendship)
	}
	return f, args.Error(1)
}

func (m *FriendshipRepositoryMock) AcceptFriendship(ctx context.Context, id, receiverID string) (models.Friendship, error) {
	args := m.Called(ctx, id, receiverID)
	var f models.Friendship
	if val := args.Get(0); val != nil {
		f = val.(models.Friendship)
	}
	return f, args.Error(1)
}

func (m *FriendshipRepositoryMock) CancelFriendship(ctx context.Context, id, senderID string) error {
	args := m.Called(ctx, id, senderID)
	return args.Error(0)
}

type ProfileRepositoryMock struct {
	mock.Mock
}

func (m *ProfileRepositoryMock) PublicProfiles(ctx context.Context, ids []string) ([]models.PublicProfile, error) {
	args := m.Called(ctx, ids)
	var list []models.PublicProfile
	if val := args.Get(0); val != nil {
		list = val.([]models.PublicProfile)
	}
	return list, args.Error(1)
}

func (m *ProfileRepositoryMock) SearchByUsernamePrefix(ctx context.Context, prefix, excludeID string, limit int) ([]models.PublicProfile, error) {
	args := m.Called(ctx, prefix, excludeID, limit)
	var list []models.PublicProfile
	if val := args.Get(0); val != nil {
		list = val.([]models.PublicProfile)
	}
	return list, args.Error(1)
}

func (m *ProfileRepositoryMock) AuthUsers(ctx context.Context, ids []string) ([]models.AuthUser, error) {
	args := m.Called(ctx, ids)
	var list []models.AuthUser
	if val := args.Get(0); val != nil {
		list = val.([]models.AuthUser)
	}
	return list, args.Error(1)
}

type SettingsRepositoryMock struct {
	mock.Mock
}

func (m *SettingsRepositoryMock) GetSettings(ctx context.Context, userID string) (models.UserSettings, error) {
	args := m.Called(ctx, userID)
	var s models.UserSettings
	if val := args.Get(0); val != nil {
		s = val.(models.UserSettings)
	}
	return s, args.Error(1)
}

func (m *SettingsRepositoryMock) UpsertSettings(ctx context.Context, settings models.UserSettings) (models.UserSettings, error) {
	args := m.Called(ctx, settings)
	var s models.UserSettings
	if val := args.Get(0); val != nil {
		s = val.(models.UserSettings)
	}
	return s, args.Error(1)
}

// MetadataSourceMock mocks the profile metadata endpoint client.
type MetadataSourceMock struct {
	mock.Mock
}

func (m *MetadataSourceMock) UserMetadata(ctx context.Context, ids []string) ([]models.MetaUser, error) {
	args := m.Called(ctx, ids)
	var list []models.MetaUser
	if val := args.Get(0); val != nil {
		list = val.([]models.MetaUser)
	}
	return list, args.Error(1)
}

var (
	_ repositories.RoomRepository       = (*RoomRepositoryMock)(nil)
	_ repositories.MessageRepository    = (*MessageRepositoryMock)(nil)
	_ repositories.FriendshipRepository = (*FriendshipRepositoryMock)(nil)
	_ repositories.ProfileRepository    = (*ProfileRepositoryMock)(nil)
	_ repositories.SettingsRepository   = (*SettingsRepositoryMock)(nil)
)
