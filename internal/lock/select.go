package lock

import (
	"context"
	"time"

	"coinrounds/internal/game"
)

// ForURL returns a Redis locker when redisURL is set and an in-process one
// otherwise. The returned close func releases the Redis client.
func ForURL(ctx context.Context, redisURL string, wait time.Duration) (game.Locker, func() error, error) {
	if redisURL == "" {
		return NewLocal(), func() error { return nil }, nil
	}
	client, err := Connect(ctx, redisURL)
	if err != nil {
		return nil, nil, err
	}
	return NewRedis(client, 0, wait), client.Close, nil
}
