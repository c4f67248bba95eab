package ws

import (
	"context"

	"github.com/rs/zerolog"

	"textly-chat/internal/models"
	"textly-chat/internal/realtime"
)

// Visibility decides whether a user may receive a row change.
type Visibility interface {
	CanSee(ctx context.Context, userID string, ev realtime.Event) bool
}

// MembershipChecker answers room membership questions.
type MembershipChecker interface {
	IsParticipant(ctx context.Context, roomID, userID string) (bool, error)
}

// RowVisibility limits rooms and friendships to their parties and messages
// to the participants of their room.
type RowVisibility struct {
	rooms MembershipChecker
	log   zerolog.Logger
}

// NewRowVisibility constructs a RowVisibility.
func NewRowVisibility(rooms MembershipChecker, logger zerolog.Logger) *RowVisibility {
	return &RowVisibility{rooms: rooms, log: logger}
}

func (v *RowVisibility) CanSee(ctx context.Context, userID string, ev realtime.Event) bool {
	row := realtime.Event{Type: ev.Type, Table: ev.Table, New: ev.Row()}
	switch ev.Table {
	case realtime.TableRooms:
		var room models.Room
		if err := row.DecodeNew(&room); err != nil {
			return false
		}
		return room.HasParticipant(userID)
	case realtime.TableFriendships:
		var f models.Friendship
		if err := row.DecodeNew(&f); err != nil {
			return false
		}
		return f.SenderID == userID || f.ReceiverID == userID
	case realtime.TableMessages:
		var msg models.Message
		if err := row.DecodeNew(&msg); err != nil {
			return false
		}
		ok, err := v.rooms.IsParticipant(ctx, msg.RoomID, userID)
		if err != nil {
			v.log.Warn().Err(err).Str("room_id", msg.RoomID).Msg("membership check failed")
			return false
		}
		return ok
	}
	return false
}
