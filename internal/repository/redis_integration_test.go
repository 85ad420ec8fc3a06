//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminate redis container: %v", err)
		}
	})

	addr, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRedisLoginAttemptsCountAndReset(t *testing.T) {
	client := setupRedis(t)
	repo := NewLoginAttemptRepository(client)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := repo.RecordFailure(ctx, "alice", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	count, err := repo.Failures(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	ttl, err := client.TTL(ctx, loginAttemptKey("alice")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)

	require.NoError(t, repo.Reset(ctx, "alice"))
	count, err = repo.Failures(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRedisLoginAttemptWindowIsNotExtended(t *testing.T) {
	client := setupRedis(t)
	repo := NewLoginAttemptRepository(client)
	ctx := context.Background()

	_, err := repo.RecordFailure(ctx, "bob", 30*time.Second)
	require.NoError(t, err)
	_, err = repo.RecordFailure(ctx, "bob", time.Hour)
	require.NoError(t, err)

	ttl, err := client.TTL(ctx, loginAttemptKey("bob")).Result()
	require.NoError(t, err)
	assert.LessOrEqual(t, ttl, 30*time.Second)
}
