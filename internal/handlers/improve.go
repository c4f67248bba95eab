package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"textly-chat/internal/assist"
	"textly-chat/internal/middleware"
	"textly-chat/internal/models"
	"textly-chat/internal/observability"
	"textly-chat/internal/repositories"
)

// Transformer runs an assistant action with the caller's preferences.
type Transformer interface {
	Transform(ctx context.Context, action assist.Action, text string, settings models.UserSettings) (string, error)
}

// ImproveHandler serves the text rewrite and translation endpoint.
type ImproveHandler struct {
	settings  repositories.SettingsRepository
	assistant Transformer
	security  *observability.SecurityLog
	log       zerolog.Logger
}

// NewImproveHandler builds an ImproveHandler.
func NewImproveHandler(settings repositories.SettingsRepository, assistant Transformer, security *observability.SecurityLog, logger zerolog.Logger) *ImproveHandler {
	return &ImproveHandler{settings: settings, assistant: assistant, security: security, log: logger}
}

type improveRequest struct {
	Action string `json:"action" binding:"required"`
	Text   string `json:"text" binding:"required"`
}

// Improve rewrites or translates the request text.
func (h *ImproveHandler) Improve(c *gin.Context) {
	var req improveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	action, err := assist.ParseAction(req.Action)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	text, err := assist.ValidateText(req.Text)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	ctx := c.Request.Context()
	settings, err := repositories.LoadSettings(ctx, h.settings, middleware.UserID(c))
	if err != nil {
		h.log.Error().Err(err).Str("request_id", middleware.RequestID(c)).Msg("load settings")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	out, err := h.assistant.Transform(ctx, action, text, settings)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"outputText": out})
	case errors.Is(err, assist.ErrDisabled):
		c.JSON(http.StatusForbidden, gin.H{"error": "assistant disabled"})
	case errors.Is(err, assist.ErrNotConfigured):
		h.security.Error(ctx, observability.EventConfigError, middleware.Info(c), map[string]any{"reason": err.Error()})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	default:
		h.security.Error(ctx, observability.EventImproveError, middleware.Info(c), map[string]any{
			"action": string(action),
			"detail": err.Error(),
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
