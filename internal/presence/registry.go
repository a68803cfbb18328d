// Package presence keeps per-user connection sets and liveness flags in Redis.
package presence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	connectionsKeyPrefix = "user:sockets:"
	// ConnectionsTTL is refreshed on every Track so leaked sets from dead processes heal.
	ConnectionsTTL = 24 * time.Hour

	DefaultTimeout = 2 * time.Second
)

// untrackScript removes one member and drops the key once the set is empty,
// so "key exists" keeps meaning "user online".
var untrackScript = redis.NewScript(`
redis.call('SREM', KEYS[1], ARGV[1])
local n = redis.call('SCARD', KEYS[1])
if n == 0 then
	redis.call('DEL', KEYS[1])
end
return n
`)

type Registry struct {
	client  redis.UniversalClient
	timeout time.Duration
	log     *slog.Logger
}

// NewRegistry builds a registry; a nil client disables tracking.
func NewRegistry(client redis.UniversalClient, timeout time.Duration, l *slog.Logger) *Registry {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if l == nil {
		l = slog.Default()
	}
	return &Registry{client: client, timeout: timeout, log: l.With("component", "registry")}
}

func (r *Registry) Enabled() bool { return r.client != nil }

// Track adds connID to the user's set and resets the set TTL.
func (r *Registry) Track(ctx context.Context, userID uint, connID string) Outcome {
	if r.client == nil {
		r.log.Warn("redis not available, socket tracking disabled", "op", "track", "user_id", userID)
		return Degraded
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	key := connectionsKey(userID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, key, connID)
		pipe.Expire(ctx, key, ConnectionsTTL)
		return nil
	})
	if err != nil {
		r.log.Warn("failed to track socket connection", "user_id", userID, "conn_id", connID, "error", err)
		return Failed
	}
	return Succeeded
}

// Untrack removes connID; an emptied set is deleted.
func (r *Registry) Untrack(ctx context.Context, userID uint, connID string) Outcome {
	if r.client == nil {
		r.log.Warn("redis not available, socket tracking disabled", "op", "untrack", "user_id", userID)
		return Degraded
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := untrackScript.Run(ctx, r.client, []string{connectionsKey(userID)}, connID).Err(); err != nil {
		r.log.Warn("failed to remove socket connection", "user_id", userID, "conn_id", connID, "error", err)
		return Failed
	}
	return Succeeded
}

// ListConnections returns the user's connection IDs; empty on miss or store failure.
func (r *Registry) ListConnections(ctx context.Context, userID uint) []string {
	if r.client == nil {
		return []string{}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	members, err := r.client.SMembers(ctx, connectionsKey(userID)).Result()
	if err != nil {
		r.log.Warn("failed to list socket connections", "user_id", userID, "error", err)
		return []string{}
	}
	return members
}

// HasOtherConnections distinguishes "last tab closed" from "one of several closed".
func (r *Registry) HasOtherConnections(ctx context.Context, userID uint, excludingConnID string) bool {
	for _, id := range r.ListConnections(ctx, userID) {
		if id != excludingConnID {
			return true
		}
	}
	return false
}

func (r *Registry) IsOnline(ctx context.Context, userID uint) bool {
	if r.client == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	n, err := r.client.Exists(ctx, connectionsKey(userID)).Result()
	if err != nil {
		r.log.Warn("failed to check online state", "user_id", userID, "error", err)
		return false
	}
	return n > 0
}

func connectionsKey(userID uint) string {
	return fmt.Sprintf("%s%d", connectionsKeyPrefix, userID)
}
