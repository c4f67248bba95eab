package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"textly-chat/internal/middleware"
	"textly-chat/internal/models"
	"textly-chat/internal/repositories"
)

// SettingsHandler reads and updates the caller's assistant preferences.
type SettingsHandler struct {
	repo repositories.SettingsRepository
	log  zerolog.Logger
}

// NewSettingsHandler builds a SettingsHandler.
func NewSettingsHandler(repo repositories.SettingsRepository, logger zerolog.Logger) *SettingsHandler {
	return &SettingsHandler{repo: repo, log: logger}
}

// GetSettings returns stored preferences, or the defaults.
func (h *SettingsHandler) GetSettings(c *gin.Context) {
	settings, err := repositories.LoadSettings(c.Request.Context(), h.repo, middleware.UserID(c))
	if err != nil {
		h.log.Error().Err(err).Str("request_id", middleware.RequestID(c)).Msg("load settings")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, settings)
}

// UpdateSettings applies a partial update.
func (h *SettingsHandler) UpdateSettings(c *gin.Context) {
	var patch models.SettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if patch.TranslationLanguage != nil {
		if _, ok := models.TranslationLanguages[*patch.TranslationLanguage]; !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}
	}

	ctx := c.Request.Context()
	current, err := repositories.LoadSettings(ctx, h.repo, middleware.UserID(c))
	if err != nil {
		h.log.Error().Err(err).Str("request_id", middleware.RequestID(c)).Msg("load settings")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	saved, err := h.repo.UpsertSettings(ctx, patch.Apply(current))
	if err != nil {
		h.log.Error().Err(err).Str("request_id", middleware.RequestID(c)).Msg("save settings")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, saved)
}
