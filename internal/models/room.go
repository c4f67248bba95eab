package models

import "time"

// Room is a two-participant conversation joined through its share code.
type Room struct {
	ID           string    `db:"id" json:"id"`
	RoomName     *string   `db:"room_name" json:"room_name"`
	Participant1 string    `db:"participant_1" json:"participant_1"`
	Participant2 *string   `db:"participant_2" json:"participant_2"`
	ShareCode    string    `db:"share_code" json:"share_code"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// HasParticipant reports whether userID is one of the room's participants.
func (r Room) HasParticipant(userID string) bool {
	if userID == "" {
		return false
	}
	return r.Participant1 == userID || (r.Participant2 != nil && *r.Participant2 == userID)
}

// Counterpart returns the participant that is not userID, or "" when the
// room has no second participant yet.
func (r Room) Counterpart(userID string) string {
	if r.Participant1 == userID {
		if r.Participant2 == nil {
			return ""
		}
		return *r.Participant2
	}
	return r.Participant1
}

// ParticipantIDs lists the room's participants.
func (r Room) ParticipantIDs() []string {
	ids := []string{r.Participant1}
	if r.Participant2 != nil && *r.Participant2 != "" {
		ids = append(ids, *r.Participant2)
	}
	return ids
}
