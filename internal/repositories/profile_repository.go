package repositories

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"textly-chat/internal/models"
)

// ProfileRepository reads public profiles and identity metadata.
type ProfileRepository interface {
	PublicProfiles(ctx context.Context, ids []string) ([]models.PublicProfile, error)
	SearchByUsernamePrefix(ctx context.Context, prefix, excludeID string, limit int) ([]models.PublicProfile, error)
	AuthUsers(ctx context.Context, ids []string) ([]models.AuthUser, error)
}

// ProfileRepo is a sqlx implementation of ProfileRepository.
type ProfileRepo struct {
	db *sqlx.DB
}

// NewProfileRepo constructs a ProfileRepo.
func NewProfileRepo(db *sqlx.DB) *ProfileRepo {
	return &ProfileRepo{db: db}
}

// PublicProfiles returns the public profile rows for ids.
func (r *ProfileRepo) PublicProfiles(ctx context.Context, ids []string) ([]models.PublicProfile, error) {
	profiles := []models.PublicProfile{}
	if len(ids) == 0 {
		return profiles, nil
	}
	err := r.db.SelectContext(ctx, &profiles, `SELECT id, email, username, avatar_url, created_at
        FROM profiles WHERE id = ANY($1::uuid[])`, pq.Array(ids))
	return profiles, err
}

// SearchByUsernamePrefix finds profiles whose username starts with prefix,
// ignoring case.
func (r *ProfileRepo) SearchByUsernamePrefix(ctx context.Context, prefix, excludeID string, limit int) ([]models.PublicProfile, error) {
	profiles := []models.PublicProfile{}
	pattern := escapeLike(prefix) + "%"
	err := r.db.SelectContext(ctx, &profiles, `SELECT id, email, username, avatar_url, created_at
        FROM profiles
        WHERE username ILIKE $1 AND ($2 = '' OR id::text <> $2)
        ORDER BY username ASC LIMIT $3`, pattern, excludeID, limit)
	return profiles, err
}

// AuthUsers returns identity records with decoded provider metadata.
func (r *ProfileRepo) AuthUsers(ctx context.Context, ids []string) ([]models.AuthUser, error) {
	if len(ids) == 0 {
		return []models.AuthUser{}, nil
	}
	rows, err := r.db.QueryxContext(ctx, `SELECT id, email, user_metadata FROM users WHERE id = ANY($1::uuid[])`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []models.AuthUser{}
	for rows.Next() {
		var (
			user     models.AuthUser
			metadata []byte
		)
		if err := rows.Scan(&user.ID, &user.Email, &metadata); err != nil {
			return nil, err
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &user.Metadata); err != nil {
				user.Metadata = nil
			}
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
