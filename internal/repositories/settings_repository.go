package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"textly-chat/internal/models"
)

var ErrSettingsNotFound = errors.New("settings not found")

const settingsColumns = `user_id, assistant_enabled, writing_mode, translation_language, created_at, updated_at`

// SettingsRepository persists assistant preferences.
type SettingsRepository interface {
	GetSettings(ctx context.Context, userID string) (models.UserSettings, error)
	UpsertSettings(ctx context.Context, settings models.UserSettings) (models.UserSettings, error)
}

// SettingsRepo is a sqlx implementation of SettingsRepository.
type SettingsRepo struct {
	db *sqlx.DB
}

// NewSettingsRepo constructs a SettingsRepo.
func NewSettingsRepo(db *sqlx.DB) *SettingsRepo {
	return &SettingsRepo{db: db}
}

// GetSettings returns the stored preferences of a user.
func (r *SettingsRepo) GetSettings(ctx context.Context, userID string) (models.UserSettings, error) {
	var s models.UserSettings
	err := r.db.GetContext(ctx, &s, `SELECT `+settingsColumns+` FROM user_settings WHERE user_id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.UserSettings{}, ErrSettingsNotFound
	}
	return s, err
}

// UpsertSettings writes the full preference row for a user.
func (r *SettingsRepo) UpsertSettings(ctx context.Context, s models.UserSettings) (models.UserSettings, error) {
	var saved models.UserSettings
	err := r.db.QueryRowxContext(ctx, `INSERT INTO user_settings (user_id, assistant_enabled, writing_mode, translation_language)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (user_id) DO UPDATE SET
            assistant_enabled = EXCLUDED.assistant_enabled,
            writing_mode = EXCLUDED.writing_mode,
            translation_language = EXCLUDED.translation_language,
            updated_at = NOW()
        RETURNING `+settingsColumns, s.UserID, s.AssistantEnabled, s.WritingMode, s.TranslationLanguage).StructScan(&saved)
	return saved, err
}

// LoadSettings returns stored preferences or the defaults when none exist.
func LoadSettings(ctx context.Context, repo SettingsRepository, userID string) (models.UserSettings, error) {
	s, err := repo.GetSettings(ctx, userID)
	if errors.Is(err, ErrSettingsNotFound) {
		return models.DefaultSettings(userID), nil
	}
	return s, err
}
