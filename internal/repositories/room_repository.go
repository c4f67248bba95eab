package repositories

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/jmoiron/sqlx"

	"textly-chat/internal/models"
)

var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrRoomFull          = errors.New("room full")
	ErrShareCodeConflict = errors.New("share code already in use")
)

const roomColumns = `id, room_name, participant_1, participant_2, share_code, created_at`

// RoomRepository abstracts room persistence.
type RoomRepository interface {
	ListRoomsForUser(ctx context.Context, userID string) ([]models.Room, error)
	GetRoom(ctx context.Context, roomID string) (models.Room, error)
	CreateRoom(ctx context.Context, ownerID string, name *string, shareCode string) (models.Room, error)
	CreatePairRoom(ctx context.Context, userA, userB, shareCode string) (models.Room, error)
	FindRoomByShareCode(ctx context.Context, shareCode string) (models.Room, error)
	FindRoomByParticipants(ctx context.Context, userA, userB string) (models.Room, error)
	SetSecondParticipant(ctx context.Context, roomID, userID string) (models.Room, error)
	DeleteRoom(ctx context.Context, roomID, userID string) error
	IsParticipant(ctx context.Context, roomID, userID string) (bool, error)
	CoParticipantIDs(ctx context.Context, userID string) ([]string, error)
}

// RoomRepo is a sqlx implementation of RoomRepository.
type RoomRepo struct {
	db *sqlx.DB
}

// NewRoomRepo constructs a RoomRepo.
func NewRoomRepo(db *sqlx.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

// ListRoomsForUser returns the user's rooms, newest first.
func (r *RoomRepo) ListRoomsForUser(ctx context.Context, userID string) ([]models.Room, error) {
	rooms := []models.Room{}
	err := r.db.SelectContext(ctx, &rooms, `SELECT `+roomColumns+` FROM rooms
        WHERE participant_1=$1 OR participant_2=$1
        ORDER BY created_at DESC`, userID)
	return rooms, err
}

// GetRoom fetches a room by id.
func (r *RoomRepo) GetRoom(ctx context.Context, roomID string) (models.Room, error) {
	var room models.Room
	err := r.db.GetContext(ctx, &room, `SELECT `+roomColumns+` FROM rooms WHERE id=$1`, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, ErrRoomNotFound
	}
	return room, err
}

// CreateRoom inserts an open room owned by ownerID.
func (r *RoomRepo) CreateRoom(ctx context.Context, ownerID string, name *string, shareCode string) (models.Room, error) {
	var room models.Room
	err := r.db.QueryRowxContext(ctx, `INSERT INTO rooms (room_name, participant_1, share_code)
        VALUES ($1, $2, $3) RETURNING `+roomColumns, name, ownerID, shareCode).StructScan(&room)
	return room, translateRoomInsertErr(err)
}

// CreatePairRoom inserts a full room for two users. Participants are stored
// in sorted order.
func (r *RoomRepo) CreatePairRoom(ctx context.Context, userA, userB, shareCode string) (models.Room, error) {
	pair := []string{userA, userB}
	sort.Strings(pair)

	var room models.Room
	err := r.db.QueryRowxContext(ctx, `INSERT INTO rooms (participant_1, participant_2, share_code)
        VALUES ($1, $2, $3) RETURNING `+roomColumns, pair[0], pair[1], shareCode).StructScan(&room)
	return room, translateRoomInsertErr(err)
}

// FindRoomByShareCode looks up a room by its share code.
func (r *RoomRepo) FindRoomByShareCode(ctx context.Context, shareCode string) (models.Room, error) {
	var room models.Room
	err := r.db.GetContext(ctx, &room, `SELECT `+roomColumns+` FROM rooms WHERE share_code=$1`, shareCode)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, ErrRoomNotFound
	}
	return room, err
}

// FindRoomByParticipants returns the most recent room shared by both users.
func (r *RoomRepo) FindRoomByParticipants(ctx context.Context, userA, userB string) (models.Room, error) {
	var room models.Room
	err := r.db.GetContext(ctx, &room, `SELECT `+roomColumns+` FROM rooms
        WHERE (participant_1=$1 AND participant_2=$2) OR (participant_1=$2 AND participant_2=$1)
        ORDER BY created_at DESC LIMIT 1`, userA, userB)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, ErrRoomNotFound
	}
	return room, err
}

// SetSecondParticipant fills the open seat of a room. It fails with
// ErrRoomFull when the seat was taken in the meantime.
func (r *RoomRepo) SetSecondParticipant(ctx context.Context, roomID, userID string) (models.Room, error) {
	var room models.Room
	err := r.db.QueryRowxContext(ctx, `UPDATE rooms SET participant_2=$2
        WHERE id=$1 AND participant_2 IS NULL AND participant_1<>$2
        RETURNING `+roomColumns, roomID, userID).StructScan(&room)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, ErrRoomFull
	}
	return room, err
}

// DeleteRoom removes a room the user participates in.
func (r *RoomRepo) DeleteRoom(ctx context.Context, roomID, userID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM rooms WHERE id=$1 AND (participant_1=$2 OR participant_2=$2)`, roomID, userID)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrRoomNotFound
	}
	return nil
}

// IsParticipant checks whether a user belongs to the room.
func (r *RoomRepo) IsParticipant(ctx context.Context, roomID, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM rooms WHERE id=$1 AND (participant_1=$2 OR participant_2=$2))`, roomID, userID)
	return exists, err
}

// CoParticipantIDs returns every user sharing at least one room with userID.
func (r *RoomRepo) CoParticipantIDs(ctx context.Context, userID string) ([]string, error) {
	ids := []string{}
	err := r.db.SelectContext(ctx, &ids, `SELECT DISTINCT other FROM (
            SELECT CASE WHEN participant_1=$1 THEN participant_2 ELSE participant_1 END AS other
            FROM rooms WHERE participant_1=$1 OR participant_2=$1
        ) pairs WHERE other IS NOT NULL`, userID)
	return ids, err
}

func translateRoomInsertErr(err error) error {
	if pqCode(err) == pqUniqueViolation && pqConstraint(err) == "rooms_share_code_key" {
		return ErrShareCodeConflict
	}
	return err
}
