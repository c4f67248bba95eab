// Package session composes identity, the client stores and the assistant
// into one view of a signed-in user.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"textly-chat/internal/assist"
	"textly-chat/internal/auth"
	"textly-chat/internal/cache"
	"textly-chat/internal/friendships"
	"textly-chat/internal/messages"
	"textly-chat/internal/models"
	"textly-chat/internal/profiles"
	"textly-chat/internal/realtime"
	"textly-chat/internal/rooms"
)

var (
	// ErrAssistantBusy is returned when a transform is already running.
	ErrAssistantBusy     = errors.New("assistant is busy")
	ErrAssistantDisabled = assist.ErrDisabled
)

// Identity is the signed-in user.
type Identity struct {
	UserID    string
	Email     *string
	Username  string
	AvatarURL *string
}

// IdentityFromToken reads the user from a session token. The token is not
// verified; the server does that on every call.
func IdentityFromToken(token string) (Identity, error) {
	claims, err := auth.ParseUnverified(token)
	if err != nil {
		return Identity{}, err
	}
	id := Identity{UserID: claims.UserID(), AvatarURL: profiles.AvatarFromMetadata(claims.UserMetadata)}
	if claims.Email != "" {
		email := claims.Email
		id.Email = &email
	}
	id.Username = profiles.DisplayNameFromMetadata(claims.UserMetadata, claims.Email, profiles.FallbackSelfName)
	return id, nil
}

// API is the server surface the session calls directly.
type API interface {
	Transform(ctx context.Context, action assist.Action, text string) (string, error)
	GetSettings(ctx context.Context) (models.UserSettings, error)
	UpdateSettings(ctx context.Context, patch models.SettingsPatch) (models.UserSettings, error)
}

// Deps are the collaborators of a Session.
type Deps struct {
	Rooms       rooms.Repository
	Messages    messages.Repository
	Friendships friendships.Repository
	Profiles    profiles.PublicSource
	Metadata    profiles.MetadataSource
	Feed        realtime.Feed
	API         API
	Cache       *cache.Cache
	Logger      zerolog.Logger

	RoomOptions    []rooms.Option
	MessageOptions []messages.Option
}

// Session is the composition root of the client.
type Session struct {
	identity Identity
	api      API
	log      zerolog.Logger

	Profiles    *profiles.Resolver
	Rooms       *rooms.Store
	Messages    *messages.Store
	Friendships *friendships.Store

	selfOnce sync.Once

	mu            sync.Mutex
	settings      models.UserSettings
	busy          bool
	busyAction    assist.Action
	deletedNotice []string
}

// New wires the stores for identity.
func New(identity Identity, deps Deps) *Session {
	logger := deps.Logger.With().Str("user_id", identity.UserID).Logger()
	s := &Session{
		identity: identity,
		api:      deps.API,
		log:      logger,
		settings: models.DefaultSettings(identity.UserID),
	}
	s.Profiles = profiles.NewResolver(deps.Profiles, deps.Metadata, deps.Cache, logger)
	s.Rooms = rooms.NewStore(deps.Rooms, deps.Feed, s.Profiles, deps.Cache, logger, deps.RoomOptions...)
	s.Messages = messages.NewStore(deps.Messages, s.Rooms, deps.Feed, s.Profiles, deps.Cache, logger, deps.MessageOptions...)
	s.Friendships = friendships.NewStore(deps.Friendships, s.Rooms, deps.Feed, s.Profiles, logger)

	s.Rooms.SetHooks(rooms.Hooks{
		OnActiveChange: s.Messages.Activate,
		OnRoomDeleted: func(roomID string) {
			s.Messages.Invalidate(roomID)
			s.mu.Lock()
			s.deletedNotice = append(s.deletedNotice, roomID)
			s.mu.Unlock()
		},
		OnRoomRemoved: s.Messages.ForgetRoom,
	})
	return s
}

// Identity returns the signed-in user.
func (s *Session) Identity() Identity {
	return s.identity
}

// Start mounts every store, resolves the profiles of all counterparts and
// loads the assistant settings.
func (s *Session) Start(ctx context.Context) error {
	userID := s.identity.UserID
	if userID == "" {
		return errors.New("session has no user")
	}

	s.Profiles.Hydrate(userID)
	s.selfOnce.Do(func() {
		s.Profiles.RegisterSelf(userID, models.Profile{
			Email:     s.identity.Email,
			Username:  s.identity.Username,
			AvatarURL: s.identity.AvatarURL,
		})
	})

	s.Messages.Mount(ctx, userID)
	if _, err := s.Rooms.Mount(ctx, userID); err != nil {
		return err
	}
	if ids := s.Rooms.CounterpartIDs(); len(ids) > 0 {
		s.Profiles.Resolve(ctx, ids)
	}
	if active := s.Rooms.ActiveID(); active != "" {
		if err := s.Messages.Activate(ctx, active); err != nil {
			s.log.Warn().Err(err).Str("room_id", active).Msg("restore active room")
		}
	}
	if err := s.Friendships.Mount(ctx, userID); err != nil {
		return err
	}
	s.loadSettings(ctx)
	return nil
}

// Close tears down every subscription.
func (s *Session) Close() {
	s.Friendships.Unmount()
	s.Rooms.Unmount()
	s.Messages.Unmount()
}

// SelectRoom activates roomID, or clears the selection when it is "".
func (s *Session) SelectRoom(ctx context.Context, roomID string) error {
	return s.Rooms.SetActive(ctx, roomID)
}

// Send posts text to the active room.
func (s *Session) Send(ctx context.Context, text string) (*models.Message, error) {
	return s.Messages.Send(ctx, text)
}

// DisplayName returns the name to show for userID. The signed-in user is
// shown with the profile seeded at start.
func (s *Session) DisplayName(userID string) string {
	if p, ok := s.Profiles.Profile(userID); ok {
		return p.Username
	}
	if userID == s.identity.UserID {
		return profiles.FallbackSelfName
	}
	return profiles.FallbackUsername
}

// TakeDeletedNotices returns and clears the rooms deleted under the user
// since the last call.
func (s *Session) TakeDeletedNotices() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.deletedNotice
	s.deletedNotice = nil
	return out
}

// Settings returns the current assistant preferences.
func (s *Session) Settings() models.UserSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// UpdateSettings applies patch optimistically, persists it and rolls back
// when the server rejects it.
func (s *Session) UpdateSettings(ctx context.Context, patch models.SettingsPatch) (models.UserSettings, error) {
	s.mu.Lock()
	previous := s.settings
	optimistic := patch.Apply(previous)
	s.settings = optimistic
	s.mu.Unlock()

	if s.api == nil {
		return optimistic, nil
	}
	stored, err := s.api.UpdateSettings(ctx, patch)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if s.settings == optimistic {
			s.settings = previous
		}
		return s.settings, fmt.Errorf("update settings: %w", err)
	}
	s.settings = stored
	return stored, nil
}

// Improve rewrites text with the assistant.
func (s *Session) Improve(ctx context.Context, text string) (string, error) {
	return s.Transform(ctx, assist.ActionImprove, text)
}

// Translate translates text into the configured language.
func (s *Session) Translate(ctx context.Context, text string) (string, error) {
	return s.Transform(ctx, assist.ActionTranslate, text)
}

// Transform runs action on text. Blank text is returned unchanged and only
// one transform may run at a time.
func (s *Session) Transform(ctx context.Context, action assist.Action, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}

	s.mu.Lock()
	if !s.settings.AssistantEnabled {
		s.mu.Unlock()
		return "", ErrAssistantDisabled
	}
	if s.busy {
		running := s.busyAction
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s in progress", ErrAssistantBusy, running)
	}
	s.busy, s.busyAction = true, action
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.busy, s.busyAction = false, ""
		s.mu.Unlock()
	}()

	if s.api == nil {
		return "", assist.ErrNotConfigured
	}
	return s.api.Transform(ctx, action, text)
}

// Busy reports whether a transform is running and which one.
func (s *Session) Busy() (bool, assist.Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy, s.busyAction
}

func (s *Session) loadSettings(ctx context.Context) {
	if s.api == nil {
		return
	}
	settings, err := s.api.GetSettings(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("load settings, using defaults")
		return
	}
	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()
}
