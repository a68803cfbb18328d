package presence

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const roomMembersKeyPrefix = "room:members:"

// RoomMembers is the cluster-wide view of who sits in a room: a hash of
// connection ID to user ID, shared by every process.
type RoomMembers struct {
	client  redis.UniversalClient
	timeout time.Duration
	log     *slog.Logger
}

// NewRoomMembers builds the store; a nil client disables it and callers fall
// back to their local view.
func NewRoomMembers(client redis.UniversalClient, timeout time.Duration, l *slog.Logger) *RoomMembers {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if l == nil {
		l = slog.Default()
	}
	return &RoomMembers{client: client, timeout: timeout, log: l.With("component", "room_members")}
}

func (m *RoomMembers) Add(ctx context.Context, code string, userID uint, connID string) Outcome {
	if m.client == nil {
		return Degraded
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	key := roomMembersKey(code)
	_, err := m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, connID, strconv.FormatUint(uint64(userID), 10))
		pipe.Expire(ctx, key, ConnectionsTTL)
		return nil
	})
	if err != nil {
		m.log.Warn("failed to add room member", "room", code, "conn_id", connID, "error", err)
		return Failed
	}
	return Succeeded
}

func (m *RoomMembers) Remove(ctx context.Context, code, connID string) Outcome {
	if m.client == nil {
		return Degraded
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.client.HDel(ctx, roomMembersKey(code), connID).Err(); err != nil {
		m.log.Warn("failed to remove room member", "room", code, "conn_id", connID, "error", err)
		return Failed
	}
	return Succeeded
}

// Users returns the distinct user IDs in the room, ascending. The outcome is
// Succeeded only when the list came from the store.
func (m *RoomMembers) Users(ctx context.Context, code string) ([]uint, Outcome) {
	if m.client == nil {
		return nil, Degraded
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	values, err := m.client.HVals(ctx, roomMembersKey(code)).Result()
	if err != nil {
		m.log.Warn("failed to list room members", "room", code, "error", err)
		return nil, Failed
	}

	seen := make(map[uint]struct{}, len(values))
	ids := make([]uint, 0, len(values))
	for _, v := range values {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			continue
		}
		id := uint(n)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, Succeeded
}

func roomMembersKey(code string) string {
	return roomMembersKeyPrefix + code
}
