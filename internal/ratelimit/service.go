package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Namespace separates the limits of different endpoints.
type Namespace string

const (
	NamespaceUsersMeta Namespace = "users_meta"
	NamespaceImprove   Namespace = "improve"
)

// Policy is the budget of one namespace.
type Policy struct {
	Max    int
	Window time.Duration
}

// Config selects the backend and the per-namespace budgets.
type Config struct {
	RedisURL   string
	Prefix     string
	Window     time.Duration
	MetaMax    int
	ImproveMax int
	Production bool
}

// Service applies namespace policies on top of a Limiter.
type Service struct {
	limiter  Limiter
	policies map[Namespace]Policy
	backend  string
	closer   func() error
}

// New builds the Service for cfg. Without a usable Redis URL production
// gets a misconfigured service and other environments a LocalLimiter.
func New(cfg Config, logger zerolog.Logger) *Service {
	s := &Service{
		policies: map[Namespace]Policy{
			NamespaceUsersMeta: {Max: cfg.MetaMax, Window: cfg.Window},
			NamespaceImprove:   {Max: cfg.ImproveMax, Window: cfg.Window},
		},
		closer: func() error { return nil },
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err == nil {
			client := redis.NewClient(opts)
			s.limiter = NewRedisLimiter(client, cfg.Prefix)
			s.backend = "redis"
			s.closer = client.Close
			return s
		}
		logger.Error().Err(err).Msg("invalid REDIS_URL")
	}
	if cfg.Production {
		logger.Error().Msg("rate limiter has no backend in production")
		s.backend = "none"
		return s
	}
	logger.Warn().Msg("REDIS_URL not set, using in-process rate limiter")
	s.limiter = NewLocalLimiter()
	s.backend = "local"
	return s
}

// NewWithLimiter builds a Service around an existing limiter.
func NewWithLimiter(limiter Limiter, policies map[Namespace]Policy) *Service {
	return &Service{limiter: limiter, policies: policies, backend: "custom", closer: func() error { return nil }}
}

// Backend names the active backend: redis, local, custom or none.
func (s *Service) Backend() string { return s.backend }

// Key builds the limiter key of a caller in namespace.
func Key(ns Namespace, userID, ipHash string) string {
	return fmt.Sprintf("rl:%s:%s:%s", ns, userID, ipHash)
}

// Check records one request of userID from ipHash in namespace.
func (s *Service) Check(ctx context.Context, ns Namespace, userID, ipHash string) (Result, error) {
	if s == nil || s.limiter == nil {
		return Result{}, ErrMisconfigured
	}
	policy, ok := s.policies[ns]
	if !ok || policy.Max <= 0 || policy.Window <= 0 {
		return Result{}, fmt.Errorf("%w: no policy for %q", ErrMisconfigured, ns)
	}
	return s.limiter.Allow(ctx, Key(ns, userID, ipHash), policy.Max, policy.Window)
}

// Close releases the backend connection.
func (s *Service) Close() error {
	if s == nil {
		return nil
	}
	return s.closer()
}
