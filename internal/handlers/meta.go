package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"textly-chat/internal/middleware"
	"textly-chat/internal/models"
	"textly-chat/internal/observability"
	"textly-chat/internal/profiles"
)

// MaxMetaIDs is the largest id list accepted by the metadata endpoint.
const MaxMetaIDs = 50

// CoParticipantLister returns the users sharing a room with a user.
type CoParticipantLister interface {
	CoParticipantIDs(ctx context.Context, userID string) ([]string, error)
}

// AuthUserSource reads identity records.
type AuthUserSource interface {
	AuthUsers(ctx context.Context, ids []string) ([]models.AuthUser, error)
}

// MetaHandler serves display metadata for users the caller may see.
type MetaHandler struct {
	rooms    CoParticipantLister
	users    AuthUserSource
	security *observability.SecurityLog
	log      zerolog.Logger
}

// NewMetaHandler builds a MetaHandler.
func NewMetaHandler(rooms CoParticipantLister, users AuthUserSource, security *observability.SecurityLog, logger zerolog.Logger) *MetaHandler {
	return &MetaHandler{rooms: rooms, users: users, security: security, log: logger}
}

type metaRequest struct {
	IDs []string `json:"ids" binding:"required,min=1,max=50,dive,uuid"`
}

// UsersMeta resolves names and avatars for the requested ids. Ids outside
// the caller and its co-participants are dropped silently.
func (h *MetaHandler) UsersMeta(c *gin.Context) {
	var req metaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	ctx := c.Request.Context()
	callerID := middleware.UserID(c)

	coParticipants, err := h.rooms.CoParticipantIDs(ctx, callerID)
	if err != nil {
		h.log.Error().Err(err).Str("request_id", middleware.RequestID(c)).Msg("load co-participants")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	allowed := make(map[string]struct{}, len(coParticipants)+1)
	allowed[callerID] = struct{}{}
	for _, id := range coParticipants {
		allowed[id] = struct{}{}
	}

	requested := dedupe(req.IDs)
	authorized := make([]string, 0, len(requested))
	for _, id := range requested {
		if _, ok := allowed[id]; ok {
			authorized = append(authorized, id)
		}
	}
	if dropped := len(requested) - len(authorized); dropped > 0 {
		h.security.Warn(ctx, observability.EventMetaUnauthorized, middleware.Info(c), map[string]any{"dropped_count": dropped})
	}
	if len(authorized) == 0 {
		c.JSON(http.StatusOK, gin.H{"users": []models.MetaUser{}})
		return
	}

	users, err := h.users.AuthUsers(ctx, authorized)
	if err != nil {
		h.log.Error().Err(err).Str("request_id", middleware.RequestID(c)).Msg("load auth users")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	out := make([]models.MetaUser, 0, len(users))
	for _, u := range users {
		email := ""
		if u.Email != nil {
			email = *u.Email
		}
		out = append(out, models.MetaUser{
			ID:        u.ID,
			Email:     u.Email,
			Name:      profiles.DisplayNameFromMetadata(u.Metadata, email, profiles.FallbackUsername),
			AvatarURL: profiles.AvatarFromMetadata(u.Metadata),
		})
	}
	c.JSON(http.StatusOK, gin.H{"users": out})
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
