// Package cache adds an optional redis-backed pseudonym cache in front of a
// keyfile. Pseudonym mappings are immutable once issued, which makes them
// safe to cache; the cache only ever short-circuits lookups, all writes still
// go to the server.
package cache

import (
	"context"

	"github.com/redis/go-redis/v9"

	dErrors "pims/pkg/domain-errors"
)

// NewRedisClient connects to redis at the given URL and verifies the
// connection with a ping.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "parse redis URL")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, dErrors.Wrap(err, dErrors.CodeNoConnection, "redis ping failed")
	}
	return client, nil
}
