package auth

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

const blacklistPrefix = "blacklist:"

// Blacklist remembers logged-out tokens until they would have expired anyway.
// A nil client disables it.
type Blacklist struct {
	client  redis.UniversalClient
	timeout time.Duration
}

func NewBlacklist(client redis.UniversalClient, timeout time.Duration) *Blacklist {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Blacklist{client: client, timeout: timeout}
}

func (b *Blacklist) Enabled() bool { return b != nil && b.client != nil }

// Revoke blacklists token until expiresAt. Already expired tokens are ignored.
func (b *Blacklist) Revoke(ctx context.Context, token string, expiresAt time.Time) error {
	if !b.Enabled() {
		return nil
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.client.Set(ctx, blacklistPrefix+token, "1", ttl).Err()
}

func (b *Blacklist) IsRevoked(ctx context.Context, token string) (bool, error) {
	if !b.Enabled() {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	n, err := b.client.Exists(ctx, blacklistPrefix+token).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
