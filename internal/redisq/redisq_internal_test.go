package redisq

import (
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFinalize_Defaults(t *testing.T) {
	t.Parallel()

	cfg := Config{Client: redis.NewClient(&redis.Options{})}

	require.NoError(t, cfg.finalize())

	assert.Equal(t, DefaultName, cfg.Name)
	assert.Equal(t, DefaultMaxAttempts, cfg.MaxAttempts)
	assert.Equal(t, DefaultClaimTimeout, cfg.ClaimTimeout)
	assert.NotNil(t, cfg.Logger)
}

func TestConfigFinalize_RequiresClient(t *testing.T) {
	t.Parallel()

	cfg := Config{Logger: slog.New(slog.DiscardHandler)}

	require.Error(t, cfg.finalize())
}

func TestConfigFinalize_KeepsExplicitValues(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Client:       redis.NewClient(&redis.Options{}),
		Name:         "custom:jobs",
		MaxAttempts:  3,
		ClaimTimeout: time.Second,
	}

	require.NoError(t, cfg.finalize())

	assert.Equal(t, "custom:jobs", cfg.Name)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, time.Second, cfg.ClaimTimeout)
}

func TestConfigKeys(t *testing.T) {
	t.Parallel()

	cfg := Config{Name: "adpulse:jobs"}

	assert.Equal(t, "adpulse:jobs:queued", cfg.queuedKey())
	assert.Equal(t, "adpulse:jobs:active", cfg.activeKey())
	assert.Equal(t, "adpulse:jobs:state:abc", cfg.stateKey("abc"))
}
