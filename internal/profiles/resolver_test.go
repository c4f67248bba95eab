package profiles

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"textly-chat/internal/cache"
	"textly-chat/internal/mocks"
	"textly-chat/internal/models"
)

func strPtr(s string) *string { return &s }

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestResolver(t *testing.T, opts ...Option) (*Resolver, *mocks.ProfileRepositoryMock, *mocks.MetadataSourceMock) {
	t.Helper()
	public := new(mocks.ProfileRepositoryMock)
	meta := new(mocks.MetadataSourceMock)
	r := NewResolver(public, meta, nil, zerolog.Nop(), opts...)
	return r, public, meta
}

func TestResolveUsesMetadataNameWhenPublicUsernameMissing(t *testing.T) {
	r, public, meta := newTestResolver(t)
	ids := []string{"u-ana", "u-anon"}

	public.On("PublicProfiles", mock.Anything, ids).Return([]models.PublicProfile{
		{ID: "u-ana", Email: strPtr("ana@example.com")},
		{ID: "u-anon"},
	}, nil).Once()
	meta.On("UserMetadata", mock.Anything, ids).Return([]models.MetaUser{
		{ID: "u-ana", Name: "Ana", AvatarURL: strPtr("//cdn.example.com/ana.png")},
	}, nil).Once()

	r.Resolve(context.Background(), ids)

	ana, ok := r.Profile("u-ana")
	require.True(t, ok)
	assert.Equal(t, "Ana", ana.Username)
	assert.Equal(t, strPtr("https://cdn.example.com/ana.png"), ana.AvatarURL)
	assert.Equal(t, strPtr("ana@example.com"), ana.Email)

	anon, ok := r.Profile("u-anon")
	require.True(t, ok)
	assert.Equal(t, "Usuario", anon.Username)
	assert.Nil(t, anon.AvatarURL)

	public.AssertExpectations(t)
	meta.AssertExpectations(t)
}

func TestResolvePrefersPublicUsernameAndFallsBackToPublicAvatar(t *testing.T) {
	r, public, meta := newTestResolver(t)

	public.On("PublicProfiles", mock.Anything, []string{"u1"}).Return([]models.PublicProfile{
		{ID: "u1", Username: strPtr("bruno"), AvatarURL: strPtr("https://img.example.com/b.png")},
	}, nil).Once()
	meta.On("UserMetadata", mock.Anything, []string{"u1"}).Return([]models.MetaUser{
		{ID: "u1", Name: "Bruno Díaz", AvatarURL: strPtr("null")},
	}, nil).Once()

	r.Resolve(context.Background(), []string{"u1"})

	p, ok := r.Profile("u1")
	require.True(t, ok)
	assert.Equal(t, "bruno", p.Username)
	assert.Equal(t, strPtr("https://img.example.com/b.png"), p.AvatarURL)
}

func TestResolveSkipsKnownAndDuplicateIDs(t *testing.T) {
	clk := &clock{t: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}
	r, public, meta := newTestResolver(t, WithClock(clk.now))
	r.RegisterSelf("me", models.Profile{Username: "Yo mismo"})

	public.On("PublicProfiles", mock.Anything, []string{"u1"}).Return([]models.PublicProfile{{ID: "u1", Username: strPtr("uno")}}, nil).Once()
	meta.On("UserMetadata", mock.Anything, []string{"u1"}).Return([]models.MetaUser{}, nil).Once()

	r.Resolve(context.Background(), []string{"u1", "u1", "me", ""})
	// already known and fresh: no second lookup
	r.Resolve(context.Background(), []string{"u1", "me"})

	public.AssertExpectations(t)
	meta.AssertExpectations(t)
	assert.Equal(t, "Yo mismo", r.DisplayName("me"))
	assert.Equal(t, "uno", r.DisplayName("u1"))
	assert.Equal(t, FallbackUsername, r.DisplayName("nobody"))
}

func TestResolveRefetchesStaleProfiles(t *testing.T) {
	clk := &clock{t: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}
	r, public, meta := newTestResolver(t, WithClock(clk.now), WithTTL(time.Minute))

	public.On("PublicProfiles", mock.Anything, []string{"u1"}).Return([]models.PublicProfile{{ID: "u1", Username: strPtr("old")}}, nil).Once()
	public.On("PublicProfiles", mock.Anything, []string{"u1"}).Return([]models.PublicProfile{{ID: "u1", Username: strPtr("new")}}, nil).Once()
	meta.On("UserMetadata", mock.Anything, []string{"u1"}).Return([]models.MetaUser{}, nil).Twice()

	r.Resolve(context.Background(), []string{"u1"})
	clk.t = clk.t.Add(2 * time.Minute)
	r.Resolve(context.Background(), []string{"u1"})

	assert.Equal(t, "new", r.DisplayName("u1"))
	public.AssertExpectations(t)
}

func TestResolveTreatsDroppedMetadataAsUnresolved(t *testing.T) {
	r, public, meta := newTestResolver(t)

	public.On("PublicProfiles", mock.Anything, []string{"u1", "u2"}).Return([]models.PublicProfile{
		{ID: "u1", Username: strPtr("uno")},
	}, nil).Once()
	meta.On("UserMetadata", mock.Anything, []string{"u1", "u2"}).Return(nil, errors.New("rate limited")).Once()

	r.Resolve(context.Background(), []string{"u1", "u2"})

	assert.Equal(t, "uno", r.DisplayName("u1"))
	_, ok := r.Profile("u2")
	assert.False(t, ok, "ids without any source stay unresolved")

	// unresolved ids are retried on the next call
	public.On("PublicProfiles", mock.Anything, []string{"u2"}).Return([]models.PublicProfile{}, nil).Once()
	meta.On("UserMetadata", mock.Anything, []string{"u2"}).Return([]models.MetaUser{}, nil).Once()
	r.Resolve(context.Background(), []string{"u2"})
	public.AssertExpectations(t)
}

func TestResolveRemembersMissingIDsUntilTTL(t *testing.T) {
	clk := &clock{t: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}
	r, public, meta := newTestResolver(t, WithClock(clk.now), WithTTL(time.Minute))

	public.On("PublicProfiles", mock.Anything, []string{"hidden"}).Return([]models.PublicProfile{}, nil).Twice()
	meta.On("UserMetadata", mock.Anything, []string{"hidden"}).Return([]models.MetaUser{}, nil).Twice()

	for i := 0; i < 5; i++ {
		r.Resolve(context.Background(), []string{"hidden"})
	}
	meta.AssertNumberOfCalls(t, "UserMetadata", 1)
	_, ok := r.Profile("hidden")
	assert.False(t, ok)

	clk.t = clk.t.Add(2 * time.Minute)
	r.Resolve(context.Background(), []string{"hidden"})
	meta.AssertNumberOfCalls(t, "UserMetadata", 2)
	public.AssertExpectations(t)
}

func TestResolveSkipsIDsAlreadyInFlight(t *testing.T) {
	r, public, meta := newTestResolver(t)
	started := make(chan struct{})
	release := make(chan struct{})

	public.On("PublicProfiles", mock.Anything, []string{"u1"}).Run(func(mock.Arguments) {
		close(started)
		<-release
	}).Return([]models.PublicProfile{{ID: "u1", Username: strPtr("uno")}}, nil).Once()
	meta.On("UserMetadata", mock.Anything, []string{"u1"}).Return([]models.MetaUser{}, nil).Once()

	done := make(chan struct{})
	go func() {
		r.Resolve(context.Background(), []string{"u1"})
		close(done)
	}()
	<-started
	r.Resolve(context.Background(), []string{"u1"})
	close(release)
	<-done

	public.AssertExpectations(t)
	assert.Equal(t, "uno", r.DisplayName("u1"))
}

func TestSearchCapsExcludesAndEnriches(t *testing.T) {
	r, public, meta := newTestResolver(t)

	rows := []models.PublicProfile{{ID: "me", Username: strPtr("ana-me")}}
	ids := []string{}
	for i := 0; i < 9; i++ {
		id := string(rune('a'+i)) + "-id"
		rows = append(rows, models.PublicProfile{ID: id, Username: strPtr("ana" + id)})
		if i < SearchLimit {
			ids = append(ids, id)
		}
	}
	public.On("SearchByUsernamePrefix", mock.Anything, "ana", "me", SearchLimit).Return(rows, nil).Once()
	meta.On("UserMetadata", mock.Anything, ids).Return([]models.MetaUser{
		{ID: "a-id", AvatarURL: strPtr("https://img.example.com/a.png")},
	}, nil).Once()

	matches, err := r.Search(context.Background(), "  ana ", "me")
	require.NoError(t, err)
	require.Len(t, matches, SearchLimit)
	for _, m := range matches {
		assert.NotEqual(t, "me", m.ID)
	}
	assert.Equal(t, strPtr("https://img.example.com/a.png"), matches[0].AvatarURL)
	assert.Nil(t, matches[1].AvatarURL)
	meta.AssertExpectations(t)
}

func TestSearchBlankQueryDoesNothing(t *testing.T) {
	r, public, _ := newTestResolver(t)
	matches, err := r.Search(context.Background(), "   ", "me")
	require.NoError(t, err)
	assert.Empty(t, matches)
	public.AssertNotCalled(t, "SearchByUsernamePrefix", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProfilesPersistAcrossResolvers(t *testing.T) {
	c := cache.Open(filepath.Join(t.TempDir(), "cache.db"), zerolog.Nop())
	t.Cleanup(func() { _ = c.Close() })

	public := new(mocks.ProfileRepositoryMock)
	public.On("PublicProfiles", mock.Anything, []string{"u1"}).Return([]models.PublicProfile{{ID: "u1", Username: strPtr("uno")}}, nil).Once()

	first := NewResolver(public, nil, c, zerolog.Nop())
	first.Hydrate("me")
	first.Resolve(context.Background(), []string{"u1"})

	second := NewResolver(public, nil, c, zerolog.Nop())
	second.Hydrate("me")
	assert.Equal(t, "uno", second.DisplayName("u1"))
	second.Resolve(context.Background(), []string{"u1"})
	public.AssertExpectations(t)

	other := NewResolver(public, nil, c, zerolog.Nop())
	other.Hydrate("someone-else")
	_, ok := other.Profile("u1")
	assert.False(t, ok)
}
