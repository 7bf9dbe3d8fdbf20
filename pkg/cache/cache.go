package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"pims/pkg/domain"
	dErrors "pims/pkg/domain-errors"
)

// defaultTTL bounds how long a cached mapping is trusted. Mappings never
// change server-side, but deletions must eventually become visible.
const defaultTTL = 24 * time.Hour

// Pseudonymizer is the operation being decorated; keyfile.KeyFile satisfies
// it.
type Pseudonymizer interface {
	Pseudonymize(ctx context.Context, identifiers []domain.Identifier) ([]domain.Key, error)
}

// PseudonymCache is a read-through cache over a Pseudonymizer. Cache
// unavailability is never fatal: on any redis failure the call degrades to
// the inner operation.
type PseudonymCache struct {
	inner     Pseudonymizer
	redis     redis.UniversalClient
	keyfileID int
	ttl       time.Duration
	logger    *slog.Logger
}

// Option configures a PseudonymCache.
type Option func(*PseudonymCache)

// WithTTL overrides the default 24h cache entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *PseudonymCache) { c.ttl = ttl }
}

// WithLogger injects a structured logger; defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *PseudonymCache) { c.logger = logger }
}

// New wraps inner with a redis-backed cache. keyfileID namespaces the cache
// keys, since the same identifier maps to different pseudonyms per keyfile.
func New(inner Pseudonymizer, client redis.UniversalClient, keyfileID int, opts ...Option) *PseudonymCache {
	c := &PseudonymCache{
		inner:     inner,
		redis:     client,
		keyfileID: keyfileID,
		ttl:       defaultTTL,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *PseudonymCache) cacheKey(identifier domain.Identifier) string {
	return fmt.Sprintf("pims:%d:%s:%s", c.keyfileID, identifier.Source, identifier.Value)
}

// Pseudonymize resolves identifiers through the cache, fetching only the
// misses from the server. Result order matches input order.
func (c *PseudonymCache) Pseudonymize(ctx context.Context, identifiers []domain.Identifier) ([]domain.Key, error) {
	if len(identifiers) == 0 {
		return nil, nil
	}

	cacheKeys := make([]string, len(identifiers))
	for i, identifier := range identifiers {
		cacheKeys[i] = c.cacheKey(identifier)
	}

	cached, err := c.redis.MGet(ctx, cacheKeys...).Result()
	if err != nil {
		c.logger.Warn("pseudonym cache read failed, falling through",
			"keyfile_id", c.keyfileID, "error", err)
		return c.inner.Pseudonymize(ctx, identifiers)
	}

	keys := make([]domain.Key, len(identifiers))
	var misses []domain.Identifier
	var missIndexes []int
	for i, identifier := range identifiers {
		pseudonym, ok := cached[i].(string)
		if !ok || pseudonym == "" {
			misses = append(misses, identifier)
			missIndexes = append(missIndexes, i)
			continue
		}
		keys[i] = domain.NewKeyFromStrings(pseudonym, identifier.Value, identifier.Source)
	}

	if len(misses) > 0 {
		fetched, err := c.inner.Pseudonymize(ctx, misses)
		if err != nil {
			return nil, err
		}
		// The inner operation reorders mixed-source input by partition, so
		// the merge matches on the identifier rather than on position.
		byIdentifier := make(map[domain.Identifier]domain.Key, len(fetched))
		pipe := c.redis.Pipeline()
		for _, key := range fetched {
			byIdentifier[key.Identifier] = key
			pipe.Set(ctx, c.cacheKey(key.Identifier), key.Pseudonym.Value, c.ttl)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			c.logger.Warn("pseudonym cache write failed",
				"keyfile_id", c.keyfileID, "error", err)
		}
		for _, idx := range missIndexes {
			key, ok := byIdentifier[identifiers[idx]]
			if !ok {
				return nil, dErrors.Newf(dErrors.CodeResponseCardinality,
					"no pseudonym returned for %s", identifiers[idx])
			}
			keys[idx] = key
		}
	}

	c.logger.Debug("pseudonym cache lookup",
		"keyfile_id", c.keyfileID,
		"requested", len(identifiers),
		"hits", len(identifiers)-len(misses),
	)
	return keys, nil
}

// Invalidate drops the cached mappings of the given identifiers, e.g. after
// deleting them from the keyfile.
func (c *PseudonymCache) Invalidate(ctx context.Context, identifiers []domain.Identifier) error {
	if len(identifiers) == 0 {
		return nil
	}
	cacheKeys := make([]string, len(identifiers))
	for i, identifier := range identifiers {
		cacheKeys[i] = c.cacheKey(identifier)
	}
	return c.redis.Del(ctx, cacheKeys...).Err()
}
