package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"textly-chat/internal/models"
)

var (
	ErrFriendshipNotFound = errors.New("friendship not found")
	ErrFriendshipExists   = errors.New("friendship already exists")
)

const friendshipColumns = `id, sender_id, receiver_id, status, created_at`

// FriendshipRepository abstracts friend request persistence.
type FriendshipRepository interface {
	ListPendingReceived(ctx context.Context, userID string) ([]models.Friendship, error)
	ListPendingSent(ctx context.Context, userID string) ([]models.Friendship, error)
	FindBetween(ctx context.Context, userA, userB string) (models.Friendship, error)
	CreateFriendship(ctx context.Context, senderID, receiverID string) (models.Friendship, error)
	AcceptFriendship(ctx context.Context, id, receiverID string) (models.Friendship, error)
	CancelFriendship(ctx context.Context, id, senderID string) error
}

// FriendshipRepo is a sqlx implementation of FriendshipRepository.
type FriendshipRepo struct {
	db *sqlx.DB
}

// NewFriendshipRepo constructs a FriendshipRepo.
func NewFriendshipRepo(db *sqlx.DB) *FriendshipRepo {
	return &FriendshipRepo{db: db}
}

// ListPendingReceived returns pending requests addressed to the user.
func (r *FriendshipRepo) ListPendingReceived(ctx context.Context, userID string) ([]models.Friendship, error) {
	list := []models.Friendship{}
	err := r.db.SelectContext(ctx, &list, `SELECT `+friendshipColumns+` FROM friendships
        WHERE receiver_id=$1 AND status='pending' ORDER BY created_at DESC`, userID)
	return list, err
}

// ListPendingSent returns pending requests sent by the user.
func (r *FriendshipRepo) ListPendingSent(ctx context.Context, userID string) ([]models.Friendship, error) {
	list := []models.Friendship{}
	err := r.db.SelectContext(ctx, &list, `SELECT `+friendshipColumns+` FROM friendships
        WHERE sender_id=$1 AND status='pending' ORDER BY created_at DESC`, userID)
	return list, err
}

// FindBetween returns the most recent friendship row between two users in
// either direction.
func (r *FriendshipRepo) FindBetween(ctx context.Context, userA, userB string) (models.Friendship, error) {
	var f models.Friendship
	err := r.db.GetContext(ctx, &f, `SELECT `+friendshipColumns+` FROM friendships
        WHERE (sender_id=$1 AND receiver_id=$2) OR (sender_id=$2 AND receiver_id=$1)
        ORDER BY created_at DESC LIMIT 1`, userA, userB)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Friendship{}, ErrFriendshipNotFound
	}
	return f, err
}

// CreateFriendship inserts a pending request.
func (r *FriendshipRepo) CreateFriendship(ctx context.Context, senderID, receiverID string) (models.Friendship, error) {
	var f models.Friendship
	err := r.db.QueryRowxContext(ctx, `INSERT INTO friendships (sender_id, receiver_id, status)
        VALUES ($1, $2, 'pending') RETURNING `+friendshipColumns, senderID, receiverID).StructScan(&f)
	if pqCode(err) == pqUniqueViolation {
		return models.Friendship{}, ErrFriendshipExists
	}
	return f, err
}

// AcceptFriendship marks a pending request as accepted. Only the receiver
// can accept.
func (r *FriendshipRepo) AcceptFriendship(ctx context.Context, id, receiverID string) (models.Friendship, error) {
	var f models.Friendship
	err := r.db.QueryRowxContext(ctx, `UPDATE friendships SET status='accepted'
        WHERE id=$1 AND receiver_id=$2 AND status='pending'
        RETURNING `+friendshipColumns, id, receiverID).StructScan(&f)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Friendship{}, ErrFriendshipNotFound
	}
	return f, err
}

// CancelFriendship deletes a pending request sent by senderID.
func (r *FriendshipRepo) CancelFriendship(ctx context.Context, id, senderID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM friendships WHERE id=$1 AND sender_id=$2 AND status='pending'`, id, senderID)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrFriendshipNotFound
	}
	return nil
}
