package redisq

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ory/dockertest"
	"github.com/ory/dockertest/docker"
	"github.com/redis/go-redis/v9"
)

const (
	// defaultRedisImageRef is the default Redis container to use.
	defaultRedisImageRef = "redis:7-alpine"

	// redisPort is the default Redis port.
	redisPort = "6379/tcp"
)

// RedisTestInstance is a wrapper around the Docker-based Redis instance.
type RedisTestInstance struct {
	pool       *dockertest.Pool
	container  *dockertest.Resource
	client     *redis.Client
	skipReason string
}

// MustTestInstance is NewTestInstance, except it prints errors to stderr and
// calls os.Exit when finished.
func MustTestInstance() *RedisTestInstance {
	instance, err := NewTestInstance()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	return instance
}

// NewTestInstance creates a new Docker-based Redis instance.
func NewTestInstance() (*RedisTestInstance, error) {
	if os.Getenv("INTEGRATION") == "" {
		return &RedisTestInstance{
			skipReason: "🚧 Skipping queue tests (INTEGRATION is not set)!",
		}, nil
	}

	pool, err := dockertest.NewPool("")
	if err != nil {
		return nil, fmt.Errorf("failed to create redis docker pool: %w", err)
	}

	repository, tag, err := redisRepo()
	if err != nil {
		return nil, fmt.Errorf("failed to determine redis repository: %w", err)
	}

	container, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository:   repository,
		Tag:          tag,
		ExposedPorts: []string{redisPort},
	}, func(c *docker.HostConfig) {
		c.AutoRemove = true
		c.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start redis container: %w", err)
	}

	if err := container.Expire(120); err != nil {
		return nil, fmt.Errorf("failed to expire redis container: %w", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: container.GetHostPort(redisPort),
	})

	if err := pool.Retry(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return client.Ping(ctx).Err()
	}); err != nil {
		return nil, fmt.Errorf("failed waiting for redis container to be ready: %w", err)
	}

	return &RedisTestInstance{
		pool:      pool,
		container: container,
		client:    client,
	}, nil
}

// MustClose is Close, except it prints the error to stderr and calls os.Exit
// when finished.
func (i *RedisTestInstance) MustClose() {
	if err := i.Close(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// Close terminates the test instance, cleaning up the container.
func (i *RedisTestInstance) Close() error {
	if i.skipReason != "" {
		return nil
	}
	if err := i.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	if err := i.pool.Purge(i.container); err != nil {
		return fmt.Errorf("failed to purge redis container: %w", err)
	}
	return nil
}

// NewConfig returns a queue Config bound to a queue name unique to this
// test, so parallel tests never share lists.
func (i *RedisTestInstance) NewConfig(tb testing.TB) Config {
	tb.Helper()

	if i.skipReason != "" {
		tb.Skip(i.skipReason)
	}

	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		tb.Fatalf("failed to generate queue suffix: %v", err)
	}

	return Config{
		Client:       i.client,
		Logger:       slog.New(slog.DiscardHandler),
		Name:         "test:jobs:" + hex.EncodeToString(b),
		ClaimTimeout: 100 * time.Millisecond,
	}
}

// redisRepo returns the Redis container image name based on an optional
// environment variable.
func redisRepo() (string, string, error) {
	ref := os.Getenv("CI_REDIS_IMAGE")
	if ref == "" {
		ref = defaultRedisImageRef
	}
	parts := strings.SplitN(ref, ":", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("failed to parse redis image ref %q", ref)
	}
	return parts[0], parts[1], nil
}
