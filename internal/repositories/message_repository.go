package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"textly-chat/internal/models"
)

// MaxMessageLength is the largest message content, in characters, the
// messages table accepts.
const MaxMessageLength = 4000

var (
	// ErrRoomGone is returned when a message targets a room that no longer exists.
	ErrRoomGone = errors.New("room no longer exists")
	// ErrMessageTooLong is returned for content over MaxMessageLength.
	ErrMessageTooLong = fmt.Errorf("message longer than %d characters", MaxMessageLength)
)

// MessageRepository defines interactions for room messages.
type MessageRepository interface {
	ListMessages(ctx context.Context, roomID string) ([]models.Message, error)
	CreateMessage(ctx context.Context, roomID, senderID, content string) (models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// ListMessages returns the messages of a room in ascending time order.
func (r *MessageRepo) ListMessages(ctx context.Context, roomID string) ([]models.Message, error) {
	msgs := []models.Message{}
	err := r.db.SelectContext(ctx, &msgs, `SELECT id, room_id, sender_id, content, created_at
        FROM messages WHERE room_id=$1 ORDER BY created_at ASC, id ASC`, roomID)
	return msgs, err
}

// CreateMessage stores a message in a room.
func (r *MessageRepo) CreateMessage(ctx context.Context, roomID, senderID, content string) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (room_id, sender_id, content) VALUES ($1, $2, $3)
        RETURNING id, room_id, sender_id, content, created_at`, roomID, senderID, content).StructScan(&msg)
	switch {
	case pqCode(err) == pqForeignKeyViolation:
		return models.Message{}, ErrRoomGone
	case pqCode(err) == pqCheckViolation && pqConstraint(err) == "messages_content_length":
		return models.Message{}, ErrMessageTooLong
	}
	return msg, err
}
