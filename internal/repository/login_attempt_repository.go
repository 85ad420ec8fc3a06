package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const loginAttemptPrefix = "login:failures:"

// LoginAttemptRepository counts failed logins per username in Redis.
// A nil client disables throttling.
type LoginAttemptRepository struct {
	client *redis.Client
}

// NewLoginAttemptRepository constructs the repository.
func NewLoginAttemptRepository(client *redis.Client) *LoginAttemptRepository {
	return &LoginAttemptRepository{client: client}
}

func loginAttemptKey(username string) string {
	return loginAttemptPrefix + username
}

// Failures returns the current failure count for username.
func (r *LoginAttemptRepository) Failures(ctx context.Context, username string) (int64, error) {
	if r.client == nil {
		return 0, nil
	}
	count, err := r.client.Get(ctx, loginAttemptKey(username)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("redis get login failures: %w", err)
	}
	return count, nil
}

// RecordFailure increments the counter. The window starts at the first failure.
func (r *LoginAttemptRepository) RecordFailure(ctx context.Context, username string, window time.Duration) (int64, error) {
	if r.client == nil {
		return 0, nil
	}
	key := loginAttemptKey(username)
	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, window)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis record login failure: %w", err)
	}
	return incr.Val(), nil
}

// Reset clears the counter after a successful login.
func (r *LoginAttemptRepository) Reset(ctx context.Context, username string) error {
	if r.client == nil {
		return nil
	}
	if err := r.client.Del(ctx, loginAttemptKey(username)).Err(); err != nil {
		return fmt.Errorf("redis reset login failures: %w", err)
	}
	return nil
}
