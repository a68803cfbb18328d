package presence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	verificationKeyPrefix = "user:verification:"
	// VerificationTTL outlives the disconnect grace period.
	VerificationTTL = 30 * time.Second
)

// VerificationStore records "this user proved liveness recently".
// Absence of the flag only means "not recently confirmed".
type VerificationStore struct {
	client  redis.UniversalClient
	timeout time.Duration
	log     *slog.Logger
}

func NewVerificationStore(client redis.UniversalClient, timeout time.Duration, l *slog.Logger) *VerificationStore {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if l == nil {
		l = slog.Default()
	}
	return &VerificationStore{client: client, timeout: timeout, log: l.With("component", "verification")}
}

func (s *VerificationStore) MarkVerified(ctx context.Context, userID uint) Outcome {
	if s.client == nil {
		return Degraded
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Set(ctx, verificationKey(userID), "verified", VerificationTTL).Err(); err != nil {
		s.log.Warn("failed to set verification flag", "user_id", userID, "error", err)
		return Failed
	}
	return Succeeded
}

func (s *VerificationStore) Clear(ctx context.Context, userID uint) Outcome {
	if s.client == nil {
		return Degraded
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Del(ctx, verificationKey(userID)).Err(); err != nil {
		s.log.Warn("failed to clear verification flag", "user_id", userID, "error", err)
		return Failed
	}
	return Succeeded
}

// IsVerified is false when the flag is absent, expired, or the store is down.
func (s *VerificationStore) IsVerified(ctx context.Context, userID uint) bool {
	if s.client == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.client.Exists(ctx, verificationKey(userID)).Result()
	if err != nil {
		s.log.Warn("failed to check verification flag", "user_id", userID, "error", err)
		return false
	}
	return n > 0
}

func verificationKey(userID uint) string {
	return fmt.Sprintf("%s%d", verificationKeyPrefix, userID)
}
