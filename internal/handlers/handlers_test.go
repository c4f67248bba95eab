package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"textly-chat/internal/assist"
	"textly-chat/internal/auth"
	"textly-chat/internal/middleware"
	"textly-chat/internal/mocks"
	"textly-chat/internal/models"
	"textly-chat/internal/observability"
	"textly-chat/internal/repositories"
)

const (
	secret = "handler-secret"
	caller = "11111111-1111-1111-1111-111111111111"
	friend = "22222222-2222-2222-2222-222222222222"
	other  = "33333333-3333-3333-3333-333333333333"
)

type fixture struct {
	router   *gin.Engine
	rooms    *mocks.RoomRepositoryMock
	profiles *mocks.ProfileRepositoryMock
	settings *mocks.SettingsRepositoryMock
	provider *stubTransformer
	logs     *bytes.Buffer
}

type stubTransformer struct {
	out      string
	err      error
	settings models.UserSettings
	calls    int
}

func (s *stubTransformer) Transform(_ context.Context, action assist.Action, text string, settings models.UserSettings) (string, error) {
	s.calls++
	s.settings = settings
	if s.err != nil {
		return "", s.err
	}
	if !settings.AssistantEnabled {
		return "", assist.ErrDisabled
	}
	return s.out, nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := &fixture{
		rooms:    new(mocks.RoomRepositoryMock),
		profiles: new(mocks.ProfileRepositoryMock),
		settings: new(mocks.SettingsRepositoryMock),
		provider: &stubTransformer{out: "Hola, ¿cómo estás?"},
		logs:     &bytes.Buffer{},
	}
	security := observability.NewSecurityLog(zerolog.New(f.logs), nil)

	r := gin.New()
	r.Use(middleware.RequestContext())
	api := r.Group("/api", middleware.Auth(auth.NewVerifier(secret), security))
	api.POST("/users/meta", NewMetaHandler(f.rooms, f.profiles, security, zerolog.Nop()).UsersMeta)
	api.POST("/improve", NewImproveHandler(f.settings, f.provider, security, zerolog.Nop()).Improve)
	settings := NewSettingsHandler(f.settings, zerolog.Nop())
	api.GET("/settings", settings.GetSettings)
	api.PUT("/settings", settings.UpdateSettings)
	f.router = r
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	token, err := auth.Issue(secret, caller, auth.Claims{}, time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) events(t *testing.T) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(f.logs.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal(line, &m))
		out = append(out, m)
	}
	return out
}

func strPtr(s string) *string { return &s }

func TestUsersMetaFiltersUnauthorizedIDs(t *testing.T) {
	f := newFixture(t)
	f.rooms.On("CoParticipantIDs", mock.Anything, caller).Return([]string{friend}, nil).Once()
	f.profiles.On("AuthUsers", mock.Anything, []string{caller, friend}).Return([]models.AuthUser{
		{ID: caller, Email: strPtr("ana@example.com"), Metadata: map[string]any{"picture": "//cdn.example.com/a.png"}},
		{ID: friend, Metadata: map[string]any{"full_name": "Bruno Díaz", "imagen": "not a url"}},
	}, nil).Once()

	body := `{"ids":["` + caller + `","` + friend + `","` + other + `","` + friend + `"]}`
	rec := f.do(t, http.MethodPost, "/api/users/meta", body)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Users []models.MetaUser `json:"users"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Users, 2)
	assert.Equal(t, "ana", resp.Users[0].Name)
	require.NotNil(t, resp.Users[0].AvatarURL)
	assert.Equal(t, "https://cdn.example.com/a.png", *resp.Users[0].AvatarURL)
	assert.Equal(t, "Bruno Díaz", resp.Users[1].Name)
	assert.Nil(t, resp.Users[1].AvatarURL)

	events := f.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, "meta_unauthorized_ids", events[0]["event"])
	assert.Equal(t, "warn", events[0]["level"])
	assert.EqualValues(t, 1, events[0]["dropped_count"])
	assert.Equal(t, "req-1", events[0]["request_id"])
	assert.Equal(t, "/api/users/meta", events[0]["route"])
	f.rooms.AssertExpectations(t)
	f.profiles.AssertExpectations(t)
}

func TestUsersMetaAllDroppedReturnsEmpty(t *testing.T) {
	f := newFixture(t)
	f.rooms.On("CoParticipantIDs", mock.Anything, caller).Return([]string{}, nil).Once()

	rec := f.do(t, http.MethodPost, "/api/users/meta", `{"ids":["`+other+`"]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"users":[]}`, rec.Body.String())
	f.profiles.AssertNotCalled(t, "AuthUsers", mock.Anything, mock.Anything)
}

func TestUsersMetaRejectsInvalidPayloads(t *testing.T) {
	f := newFixture(t)
	tooMany := make([]string, MaxMetaIDs+1)
	for i := range tooMany {
		tooMany[i] = `"` + friend + `"`
	}

	for _, body := range []string{
		`{}`,
		`{"ids":[]}`,
		`{"ids":["not-a-uuid"]}`,
		`{"ids":[` + strings.Join(tooMany, ",") + `]}`,
		`not json`,
	} {
		rec := f.do(t, http.MethodPost, "/api/users/meta", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.JSONEq(t, `{"error":"invalid payload"}`, rec.Body.String())
	}
	f.rooms.AssertNotCalled(t, "CoParticipantIDs", mock.Anything, mock.Anything)
}

func TestImprove(t *testing.T) {
	f := newFixture(t)
	stored := models.DefaultSettings(caller)
	stored.WritingMode = models.WritingFormal
	f.settings.On("GetSettings", mock.Anything, caller).Return(stored, nil).Once()

	rec := f.do(t, http.MethodPost, "/api/improve", `{"action":"improve","text":"  hola q tal  "}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"outputText":"Hola, ¿cómo estás?"}`, rec.Body.String())
	assert.Equal(t, models.WritingFormal, f.provider.settings.WritingMode)
}

func TestImproveUsesDefaultsWithoutStoredSettings(t *testing.T) {
	f := newFixture(t)
	f.settings.On("GetSettings", mock.Anything, caller).Return(nil, repositories.ErrSettingsNotFound).Once()

	rec := f.do(t, http.MethodPost, "/api/improve", `{"action":"translate","text":"hello"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "es", f.provider.settings.TranslationLanguage)
	assert.True(t, f.provider.settings.AssistantEnabled)
}

func TestImproveValidation(t *testing.T) {
	f := newFixture(t)
	for _, body := range []string{
		`{"action":"summarize","text":"hola"}`,
		`{"action":"improve","text":"    "}`,
		`{"action":"improve"}`,
		`{"action":"improve","text":"` + strings.Repeat("ñ", assist.MaxInputLength+1) + `"}`,
	} {
		rec := f.do(t, http.MethodPost, "/api/improve", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Zero(t, f.provider.calls)
}

func TestImproveDisabledAssistant(t *testing.T) {
	f := newFixture(t)
	disabled := models.DefaultSettings(caller)
	disabled.AssistantEnabled = false
	f.settings.On("GetSettings", mock.Anything, caller).Return(disabled, nil).Once()

	rec := f.do(t, http.MethodPost, "/api/improve", `{"action":"improve","text":"hola"}`)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"assistant disabled"}`, rec.Body.String())
}

func TestImproveProviderFailureHidesDetail(t *testing.T) {
	f := newFixture(t)
	f.settings.On("GetSettings", mock.Anything, caller).Return(models.DefaultSettings(caller), nil).Once()
	f.provider.err = errors.New("upstream quota exhausted for key sk-123")

	rec := f.do(t, http.MethodPost, "/api/improve", `{"action":"improve","text":"hola"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
	events := f.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, "improve_error", events[0]["event"])
	assert.Contains(t, events[0]["detail"], "quota exhausted")
}

func TestImproveUnconfiguredProvider(t *testing.T) {
	f := newFixture(t)
	f.settings.On("GetSettings", mock.Anything, caller).Return(models.DefaultSettings(caller), nil).Once()
	f.provider.err = assist.ErrNotConfigured

	rec := f.do(t, http.MethodPost, "/api/improve", `{"action":"improve","text":"hola"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	events := f.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, "config_error", events[0]["event"])
}

func TestSettingsGetAndUpdate(t *testing.T) {
	f := newFixture(t)
	f.settings.On("GetSettings", mock.Anything, caller).Return(nil, repositories.ErrSettingsNotFound)
	f.settings.On("UpsertSettings", mock.Anything, mock.MatchedBy(func(s models.UserSettings) bool {
		return s.UserID == caller && s.WritingMode == models.WritingFormal && s.TranslationLanguage == "es" && s.AssistantEnabled
	})).Return(models.UserSettings{UserID: caller, AssistantEnabled: true, WritingMode: models.WritingFormal, TranslationLanguage: "es"}, nil).Once()

	rec := f.do(t, http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.UserSettings
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, models.DefaultSettings(caller).WritingMode, got.WritingMode)

	rec = f.do(t, http.MethodPut, "/api/settings", `{"writing_mode":"formal"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, models.WritingFormal, got.WritingMode)

	for _, body := range []string{`{"writing_mode":"casual"}`, `{"translation_language":"fr"}`} {
		rec = f.do(t, http.MethodPut, "/api/settings", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	f.settings.AssertExpectations(t)
}

func TestHealthz(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/healthz", Healthz(pingFunc(func(context.Context) error { return nil })))
	r.GET("/down", Healthz(pingFunc(func(context.Context) error { return errors.New("down") })))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/down", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type pingFunc func(context.Context) error

func (p pingFunc) PingContext(ctx context.Context) error { return p(ctx) }
