package models

import "time"

// Profile is the chat-facing projection of a user.
type Profile struct {
	ID        string  `json:"id"`
	Email     *string `json:"email,omitempty"`
	Username  string  `json:"username"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

// PublicProfile is a row of the public profiles relation.
type PublicProfile struct {
	ID        string    `db:"id" json:"id"`
	Email     *string   `db:"email" json:"email"`
	Username  *string   `db:"username" json:"username"`
	AvatarURL *string   `db:"avatar_url" json:"avatar_url"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ProfileMatch is a search hit enriched with avatar metadata.
type ProfileMatch struct {
	ID        string    `json:"id"`
	Email     *string   `json:"email,omitempty"`
	Username  string    `json:"username"`
	AvatarURL *string   `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// MetaUser is one entry of the metadata endpoint response.
type MetaUser struct {
	ID        string  `json:"id"`
	Email     *string `json:"email,omitempty"`
	Name      string  `json:"nombre"`
	AvatarURL *string `json:"avatarUrl"`
}

// AuthUser is an identity record with its provider metadata.
type AuthUser struct {
	ID       string
	Email    *string
	Metadata map[string]any
}
