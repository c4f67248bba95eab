package models

import "time"

// FriendshipStatus is the lifecycle state of a friendship row.
type FriendshipStatus string

const (
	FriendshipPending  FriendshipStatus = "pending"
	FriendshipAccepted FriendshipStatus = "accepted"
	FriendshipBlocked  FriendshipStatus = "blocked"
)

// Friendship is a directed request between two users.
type Friendship struct {
	ID         string           `db:"id" json:"id"`
	SenderID   string           `db:"sender_id" json:"sender_id"`
	ReceiverID string           `db:"receiver_id" json:"receiver_id"`
	Status     FriendshipStatus `db:"status" json:"status"`
	CreatedAt  time.Time        `db:"created_at" json:"created_at"`
}

// Counterpart returns the other party of the friendship.
func (f Friendship) Counterpart(userID string) string {
	if f.SenderID == userID {
		return f.ReceiverID
	}
	return f.SenderID
}
