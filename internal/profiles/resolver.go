// Package profiles resolves user ids into display profiles.
package profiles

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"textly-chat/internal/cache"
	"textly-chat/internal/models"
)

const (
	// SearchLimit caps the number of search results.
	SearchLimit = 8
	// DefaultTTL is how long a resolved profile is considered fresh.
	DefaultTTL = 5 * time.Minute

	cacheLimit  = 120
	cacheMaxAge = 12 * time.Hour
)

// PublicSource reads the public profile relation.
type PublicSource interface {
	PublicProfiles(ctx context.Context, ids []string) ([]models.PublicProfile, error)
	SearchByUsernamePrefix(ctx context.Context, prefix, excludeID string, limit int) ([]models.PublicProfile, error)
}

// MetadataSource calls the authorization-gated metadata endpoint. Ids the
// caller may not see are silently absent from the result.
type MetadataSource interface {
	UserMetadata(ctx context.Context, ids []string) ([]models.MetaUser, error)
}

type entry struct {
	Profile   models.Profile `json:"profile"`
	FetchedAt time.Time      `json:"fetched_at"`
}

type keyedEntry struct {
	id string
	e  entry
}

// Resolver owns the shared id → profile map.
type Resolver struct {
	public PublicSource
	meta   MetadataSource
	cache  *cache.Cache
	log    zerolog.Logger
	ttl    time.Duration
	now    func() time.Time

	mu       sync.Mutex
	userID   string
	entries  map[string]entry
	inFlight map[string]struct{}
	// misses records ids neither source returned, so they are not asked for
	// again until the TTL passes.
	misses map[string]time.Time
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithTTL sets the freshness window. Zero keeps profiles forever.
func WithTTL(ttl time.Duration) Option {
	return func(r *Resolver) { r.ttl = ttl }
}

// WithClock overrides the resolver clock.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// NewResolver constructs a Resolver. meta and c may be nil.
func NewResolver(public PublicSource, meta MetadataSource, c *cache.Cache, logger zerolog.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		public:   public,
		meta:     meta,
		cache:    c,
		log:      logger,
		ttl:      DefaultTTL,
		now:      time.Now,
		entries:  make(map[string]entry),
		inFlight: make(map[string]struct{}),
		misses:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Hydrate binds the resolver to userID and merges that user's cached
// profiles into memory.
func (r *Resolver) Hydrate(userID string) {
	cached, _ := cache.Read[map[string]entry](r.cache, cache.Key(cache.KindProfiles, userID), cacheMaxAge)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.userID = userID
	for id, e := range cached {
		if cur, ok := r.entries[id]; ok && !cur.FetchedAt.Before(e.FetchedAt) {
			continue
		}
		r.entries[id] = e
	}
}

// RegisterSelf seeds the current user's own profile without a network call.
func (r *Resolver) RegisterSelf(id string, p models.Profile) {
	if id == "" {
		return
	}
	p.ID = id
	if strings.TrimSpace(p.Username) == "" {
		p.Username = FallbackSelfName
	}
	p.AvatarURL = NormalizeAvatarPtr(p.AvatarURL)

	r.mu.Lock()
	r.entries[id] = entry{Profile: p, FetchedAt: r.now()}
	r.mu.Unlock()
	r.persist()
}

// Resolve fetches profiles for ids that are neither known and fresh nor
// already being fetched, and merges them into the shared map. Lookup
// failures are logged and whatever rows came back are still merged. Ids
// missing from both sources stay unresolved and are retried after the TTL.
func (r *Resolver) Resolve(ctx context.Context, ids []string) {
	batch := r.claim(ids)
	if len(batch) == 0 {
		return
	}
	defer r.release(batch)

	failed := false
	publicRows, err := r.public.PublicProfiles(ctx, batch)
	if err != nil {
		failed = true
		r.log.Warn().Err(err).Int("ids", len(batch)).Msg("public profile lookup failed")
	}
	var metaRows []models.MetaUser
	if r.meta != nil {
		metaRows, err = r.meta.UserMetadata(ctx, batch)
		if err != nil {
			failed = true
			r.log.Warn().Err(err).Int("ids", len(batch)).Msg("profile metadata lookup failed")
		}
	}

	public := make(map[string]models.PublicProfile, len(publicRows))
	for _, p := range publicRows {
		public[p.ID] = p
	}
	meta := make(map[string]models.MetaUser, len(metaRows))
	for _, m := range metaRows {
		meta[m.ID] = m
	}

	now := r.now()
	r.mu.Lock()
	for _, id := range batch {
		p, hasPublic := public[id]
		m, hasMeta := meta[id]
		if !hasPublic && !hasMeta {
			if !failed {
				r.misses[id] = now
			}
			continue
		}
		delete(r.misses, id)
		r.entries[id] = entry{Profile: mergeProfile(id, p, m), FetchedAt: now}
	}
	r.mu.Unlock()
	r.persist()
}

// Search finds up to SearchLimit users whose username starts with query,
// excluding excludeID, with avatars taken from the metadata endpoint.
func (r *Resolver) Search(ctx context.Context, query, excludeID string) ([]models.ProfileMatch, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return []models.ProfileMatch{}, nil
	}

	rows, err := r.public.SearchByUsernamePrefix(ctx, q, excludeID, SearchLimit)
	if err != nil {
		return nil, err
	}
	filtered := rows[:0]
	for _, row := range rows {
		if row.ID != excludeID {
			filtered = append(filtered, row)
		}
	}
	if len(filtered) > SearchLimit {
		filtered = filtered[:SearchLimit]
	}

	meta := map[string]models.MetaUser{}
	if r.meta != nil && len(filtered) > 0 {
		ids := make([]string, len(filtered))
		for i, row := range filtered {
			ids[i] = row.ID
		}
		metaRows, err := r.meta.UserMetadata(ctx, ids)
		if err != nil {
			r.log.Warn().Err(err).Msg("search metadata lookup failed")
		}
		for _, m := range metaRows {
			meta[m.ID] = m
		}
	}

	matches := make([]models.ProfileMatch, 0, len(filtered))
	for _, row := range filtered {
		p := mergeProfile(row.ID, row, meta[row.ID])
		matches = append(matches, models.ProfileMatch{
			ID:        row.ID,
			Email:     p.Email,
			Username:  p.Username,
			AvatarURL: p.AvatarURL,
			CreatedAt: row.CreatedAt,
		})
	}
	return matches, nil
}

// Profile returns the resolved profile for id.
func (r *Resolver) Profile(id string) (models.Profile, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return e.Profile, ok
}

// DisplayName returns the username for id, or the generic fallback.
func (r *Resolver) DisplayName(id string) string {
	if p, ok := r.Profile(id); ok {
		return p.Username
	}
	return FallbackUsername
}

// Snapshot copies the profile map.
func (r *Resolver) Snapshot() map[string]models.Profile {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]models.Profile, len(r.entries))
	for id, e := range r.entries {
		out[id] = e.Profile
	}
	return out
}

func (r *Resolver) claim(ids []string) []string {
	now := r.now()
	seen := make(map[string]struct{}, len(ids))

	r.mu.Lock()
	defer r.mu.Unlock()
	var batch []string
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, busy := r.inFlight[id]; busy {
			continue
		}
		if e, ok := r.entries[id]; ok && r.fresh(now, e.FetchedAt) {
			continue
		}
		if missed, ok := r.misses[id]; ok && r.fresh(now, missed) {
			continue
		}
		r.inFlight[id] = struct{}{}
		batch = append(batch, id)
	}
	return batch
}

func (r *Resolver) fresh(now, fetchedAt time.Time) bool {
	return r.ttl <= 0 || now.Sub(fetchedAt) < r.ttl
}

func (r *Resolver) release(batch []string) {
	r.mu.Lock()
	for _, id := range batch {
		delete(r.inFlight, id)
	}
	r.mu.Unlock()
}

// persist writes the most recently fetched profiles to the durable cache.
func (r *Resolver) persist() {
	r.mu.Lock()
	userID := r.userID
	list := make([]keyedEntry, 0, len(r.entries))
	for id, e := range r.entries {
		list = append(list, keyedEntry{id: id, e: e})
	}
	r.mu.Unlock()

	if userID == "" || !r.cache.Enabled() {
		return
	}
	sort.Slice(list, func(i, j int) bool { return list[i].e.FetchedAt.After(list[j].e.FetchedAt) })
	if len(list) > cacheLimit {
		list = list[:cacheLimit]
	}
	out := make(map[string]entry, len(list))
	for _, item := range list {
		out[item.id] = item.e
	}
	r.cache.Write(cache.Key(cache.KindProfiles, userID), out)
}

func mergeProfile(id string, p models.PublicProfile, m models.MetaUser) models.Profile {
	username := firstNonEmpty(p.Username)
	if username == "" {
		username = strings.TrimSpace(m.Name)
	}
	if username == "" {
		username = FallbackUsername
	}

	email := p.Email
	if firstNonEmpty(email) == "" {
		email = m.Email
	}

	avatar := NormalizeAvatarPtr(m.AvatarURL)
	if avatar == nil {
		avatar = NormalizeAvatarPtr(p.AvatarURL)
	}
	return models.Profile{ID: id, Email: email, Username: username, AvatarURL: avatar}
}
