// Package dedupe remembers recent submission fingerprints so a resubmitted
// form inside the window is turned away. Only keyed hashes are stored.
package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "intake:fp:"

// RedisGuard claims fingerprints with SET NX so concurrent replicas agree.
type RedisGuard struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisGuard {
	return &RedisGuard{client: client}
}

// Claim reports false when fingerprint was already claimed inside its ttl.
func (g *RedisGuard) Claim(ctx context.Context, fingerprint string, ttl time.Duration) (bool, error) {
	ok, err := g.client.SetNX(ctx, keyPrefix+fingerprint, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim fingerprint: %w", err)
	}
	return ok, nil
}

func (g *RedisGuard) Release(ctx context.Context, fingerprint string) error {
	if err := g.client.Del(ctx, keyPrefix+fingerprint).Err(); err != nil {
		return fmt.Errorf("release fingerprint: %w", err)
	}
	return nil
}
