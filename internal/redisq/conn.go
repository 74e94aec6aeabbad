package redisq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultConnTimeout bounds how long ConnectLoop retries before giving up.
const DefaultConnTimeout = 5 * time.Second

// ConnectLoop tries to connect to Redis with retries until the connTimeout
// is reached. It returns the client and a close function.
//
//nolint:ireturn // return external client.
func ConnectLoop(
	ctx context.Context,
	addr string,
	connTimeout time.Duration,
	logger *slog.Logger,
) (client redis.UniversalClient, closeFunc func() error, err error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	if err = rdb.Ping(ctx).Err(); err == nil {
		return rdb, rdb.Close, nil
	}

	logger.Error("redis: ping problem", slog.Any("error", err))

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	timeoutExceeded := time.After(connTimeout)

	for {
		select {
		case <-timeoutExceeded:
			return nil, nil, fmt.Errorf("redis: connection failed after %s timeout", connTimeout)
		case <-ticker.C:
			if err = rdb.Ping(ctx).Err(); err == nil {
				return rdb, rdb.Close, nil
			}
			logger.Error("redis: ping problem", slog.Any("error", err))
		case <-ctx.Done():
			return nil, nil, fmt.Errorf("redis: connection failed, ctx done: %w", ctx.Err())
		}
	}
}
