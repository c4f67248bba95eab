// Package friendships tracks pending friend requests and the
// request/accept/cancel flow.
package friendships

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"textly-chat/internal/models"
	"textly-chat/internal/realtime"
	"textly-chat/internal/repositories"
)

var (
	// ErrCancelRejected is returned when a cancel matched no pending request
	// sent by the caller.
	ErrCancelRejected = errors.New("request could not be cancelled")
	ErrNotMounted     = errors.New("friendship store not mounted")
)

// Repository is the subset of friendship persistence the store needs.
type Repository interface {
	ListPendingReceived(ctx context.Context, userID string) ([]models.Friendship, error)
	ListPendingSent(ctx context.Context, userID string) ([]models.Friendship, error)
	FindBetween(ctx context.Context, userA, userB string) (models.Friendship, error)
	CreateFriendship(ctx context.Context, senderID, receiverID string) (models.Friendship, error)
	AcceptFriendship(ctx context.Context, id, receiverID string) (models.Friendship, error)
	CancelFriendship(ctx context.Context, id, senderID string) error
}

// Rooms opens the conversation of an accepted friendship.
type Rooms interface {
	CreateWith(ctx context.Context, otherID string) (models.Room, error)
	OpenWith(ctx context.Context, otherID string) (models.Room, error)
}

// ProfileLoader resolves display profiles for user ids.
type ProfileLoader interface {
	Resolve(ctx context.Context, ids []string)
}

// Store owns the received and sent pending request lists.
type Store struct {
	repo     Repository
	rooms    Rooms
	feed     realtime.Feed
	profiles ProfileLoader
	log      zerolog.Logger

	mu       sync.Mutex
	ctx      context.Context
	userID   string
	received []models.Friendship
	sent     []models.Friendship
	sub      realtime.Subscription
}

// NewStore constructs a Store. feed and profiles may be nil.
func NewStore(repo Repository, roomStore Rooms, feed realtime.Feed, profiles ProfileLoader, logger zerolog.Logger) *Store {
	return &Store{
		repo:     repo,
		rooms:    roomStore,
		feed:     feed,
		profiles: profiles,
		log:      logger.With().Str("component", "friendships").Logger(),
		ctx:      context.Background(),
	}
}

// Mount binds the store to userID, subscribes to friendship changes and
// loads the pending lists.
func (s *Store) Mount(ctx context.Context, userID string) error {
	s.Unmount()

	s.mu.Lock()
	s.ctx = context.WithoutCancel(ctx)
	s.userID = userID
	s.received = nil
	s.sent = nil
	s.mu.Unlock()

	if s.feed != nil {
		sub, err := s.feed.Subscribe(realtime.Topic{Table: realtime.TableFriendships}, s.onChange)
		if err != nil {
			s.log.Warn().Err(err).Msg("subscribe to friendships")
		} else {
			s.mu.Lock()
			s.sub = sub
			s.mu.Unlock()
		}
	}
	return s.LoadRequests(ctx)
}

// Unmount closes the subscription.
func (s *Store) Unmount() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
}

// LoadRequests fetches the pending requests received and sent by the user.
func (s *Store) LoadRequests(ctx context.Context) error {
	userID := s.currentUser()
	if userID == "" {
		return ErrNotMounted
	}
	received, err := s.repo.ListPendingReceived(ctx, userID)
	if err != nil {
		return fmt.Errorf("load received requests: %w", err)
	}
	sent, err := s.repo.ListPendingSent(ctx, userID)
	if err != nil {
		return fmt.Errorf("load sent requests: %w", err)
	}

	s.mu.Lock()
	s.received = received
	s.sent = sent
	s.mu.Unlock()

	var ids []string
	for _, f := range received {
		ids = append(ids, f.SenderID)
	}
	for _, f := range sent {
		ids = append(ids, f.ReceiverID)
	}
	s.resolve(ctx, ids...)
	return nil
}

// SendRequest asks targetID to become a friend. Existing rows between the
// pair are reconciled instead of duplicated.
func (s *Store) SendRequest(ctx context.Context, targetID string) error {
	userID := s.currentUser()
	if userID == "" {
		return ErrNotMounted
	}
	if targetID == "" || targetID == userID {
		return nil
	}

	existing, err := s.repo.FindBetween(ctx, userID, targetID)
	switch {
	case err == nil:
		return s.reconcile(ctx, existing)
	case !errors.Is(err, repositories.ErrFriendshipNotFound):
		return fmt.Errorf("could not send request: %w", err)
	}

	f, err := s.repo.CreateFriendship(ctx, userID, targetID)
	if err != nil {
		return fmt.Errorf("could not send request: %w", err)
	}
	s.mu.Lock()
	s.sent = upsert(s.sent, f)
	s.mu.Unlock()
	s.resolve(ctx, targetID)
	return nil
}

func (s *Store) reconcile(ctx context.Context, f models.Friendship) error {
	userID := s.currentUser()
	other := f.Counterpart(userID)
	switch f.Status {
	case models.FriendshipAccepted:
		if _, err := s.rooms.OpenWith(ctx, other); err != nil {
			if errors.Is(err, repositories.ErrRoomNotFound) {
				s.log.Info().Str("other_id", other).Msg("already friends, no shared room yet")
				return nil
			}
			return err
		}
	case models.FriendshipPending:
		s.mu.Lock()
		if f.SenderID == userID {
			s.sent = upsert(s.sent, f)
		} else {
			s.received = upsert(s.received, f)
		}
		s.mu.Unlock()
	default:
		s.log.Info().Str("other_id", other).Str("status", string(f.Status)).Msg("friend request not sent")
	}
	return nil
}

// AcceptRequest accepts a request addressed to the user and opens a room
// with its sender. The request leaves the pending list even when no room
// could be opened.
func (s *Store) AcceptRequest(ctx context.Context, requestID, senderID string) (models.Room, error) {
	userID := s.currentUser()
	if userID == "" {
		return models.Room{}, ErrNotMounted
	}
	if _, err := s.repo.AcceptFriendship(ctx, requestID, userID); err != nil {
		return models.Room{}, fmt.Errorf("accept request: %w", err)
	}

	room, err := s.rooms.CreateWith(ctx, senderID)

	s.mu.Lock()
	s.received = remove(s.received, requestID)
	s.mu.Unlock()

	if err != nil {
		return models.Room{}, fmt.Errorf("open room after accepting: %w", err)
	}
	return room, nil
}

// CancelRequest withdraws a pending request sent by the user. A request that
// is not the caller's or no longer pending fails with ErrCancelRejected and
// leaves the sent list untouched.
func (s *Store) CancelRequest(ctx context.Context, requestID string) error {
	userID := s.currentUser()
	if userID == "" {
		return ErrNotMounted
	}
	err := s.repo.CancelFriendship(ctx, requestID, userID)
	if errors.Is(err, repositories.ErrFriendshipNotFound) {
		return fmt.Errorf("%w: %s", ErrCancelRejected, requestID)
	}
	if err != nil {
		return fmt.Errorf("cancel request: %w", err)
	}
	s.mu.Lock()
	s.sent = remove(s.sent, requestID)
	s.mu.Unlock()
	return nil
}

// Received copies the pending requests addressed to the user.
func (s *Store) Received() []models.Friendship {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.received)
}

// Sent copies the pending requests the user sent.
func (s *Store) Sent() []models.Friendship {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.sent)
}

func (s *Store) onChange(ev realtime.Event) {
	if ev.Type == realtime.Delete {
		var old models.Friendship
		if err := ev.DecodeOld(&old); err != nil || old.ID == "" {
			return
		}
		s.mu.Lock()
		s.received = remove(s.received, old.ID)
		s.sent = remove(s.sent, old.ID)
		s.mu.Unlock()
		return
	}

	var f models.Friendship
	if err := ev.DecodeNew(&f); err != nil || f.ID == "" {
		return
	}
	s.mu.Lock()
	userID := s.userID
	ctx := s.ctx
	if f.SenderID != userID && f.ReceiverID != userID {
		s.mu.Unlock()
		return
	}
	added := false
	if f.Status == models.FriendshipPending {
		if f.ReceiverID == userID {
			added = !contains(s.received, f.ID)
			s.received = upsert(s.received, f)
		} else {
			added = !contains(s.sent, f.ID)
			s.sent = upsert(s.sent, f)
		}
	} else {
		s.received = remove(s.received, f.ID)
		s.sent = remove(s.sent, f.ID)
	}
	s.mu.Unlock()

	if added {
		s.resolve(ctx, f.Counterpart(userID))
	}
}

func (s *Store) resolve(ctx context.Context, ids ...string) {
	if s.profiles == nil {
		return
	}
	ids = slices.DeleteFunc(ids, func(id string) bool { return id == "" })
	if len(ids) > 0 {
		s.profiles.Resolve(ctx, ids)
	}
}

func (s *Store) currentUser() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func contains(list []models.Friendship, id string) bool {
	return slices.ContainsFunc(list, func(f models.Friendship) bool { return f.ID == id })
}

func upsert(list []models.Friendship, f models.Friendship) []models.Friendship {
	for i := range list {
		if list[i].ID == f.ID {
			list[i] = f
			return list
		}
	}
	return append([]models.Friendship{f}, list...)
}

func remove(list []models.Friendship, id string) []models.Friendship {
	return slices.DeleteFunc(list, func(f models.Friendship) bool { return f.ID == id })
}
