package models

import "time"

// WritingMode selects the register used when rewriting text.
type WritingMode string

const (
	WritingFormal   WritingMode = "formal"
	WritingInformal WritingMode = "informal"
)

// TranslationLanguages lists the supported translation targets.
var TranslationLanguages = map[string]string{
	"es": "Spanish",
	"en": "English",
	"pt": "Portuguese",
	"it": "Italian",
	"de": "German",
}

// UserSettings holds the assistant preferences of a user.
type UserSettings struct {
	UserID              string      `db:"user_id" json:"user_id"`
	AssistantEnabled    bool        `db:"assistant_enabled" json:"assistant_enabled"`
	WritingMode         WritingMode `db:"writing_mode" json:"writing_mode"`
	TranslationLanguage string      `db:"translation_language" json:"translation_language"`
	CreatedAt           time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time   `db:"updated_at" json:"updated_at"`
}

// DefaultSettings returns the preferences used when a user has none stored.
func DefaultSettings(userID string) UserSettings {
	return UserSettings{
		UserID:              userID,
		AssistantEnabled:    true,
		WritingMode:         WritingInformal,
		TranslationLanguage: "es",
	}
}

// SettingsPatch is a partial update of UserSettings.
type SettingsPatch struct {
	AssistantEnabled    *bool        `json:"assistant_enabled"`
	WritingMode         *WritingMode `json:"writing_mode" binding:"omitempty,oneof=formal informal"`
	TranslationLanguage *string      `json:"translation_language" binding:"omitempty,oneof=es en pt it de"`
}

// Apply returns s with the patch fields overlaid.
func (p SettingsPatch) Apply(s UserSettings) UserSettings {
	if p.AssistantEnabled != nil {
		s.AssistantEnabled = *p.AssistantEnabled
	}
	if p.WritingMode != nil {
		s.WritingMode = *p.WritingMode
	}
	if p.TranslationLanguage != nil {
		s.TranslationLanguage = *p.TranslationLanguage
	}
	return s
}
