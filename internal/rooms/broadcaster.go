package rooms

import (
	"context"
	"errors"
	"log/slog"

	"github.com/thereayou/roomkit/internal/database"
	"github.com/thereayou/roomkit/internal/models"
	"github.com/thereayou/roomkit/internal/presence"
	"github.com/thereayou/roomkit/internal/websocket"
)

// Presence is the presence.update payload. Each one replaces the previous.
type Presence struct {
	Room    models.Snapshot   `json:"room"`
	Members []models.UserView `json:"members"`
}

type Broadcaster struct {
	store     Store
	transport Transport
	members   *presence.RoomMembers
	log       *slog.Logger
}

// NewBroadcaster reads membership from members when it is backed by a store,
// otherwise from the local socket group.
func NewBroadcaster(store Store, transport Transport, members *presence.RoomMembers, l *slog.Logger) *Broadcaster {
	if l == nil {
		l = slog.Default()
	}
	if members == nil {
		members = presence.NewRoomMembers(nil, 0, l)
	}
	return &Broadcaster{store: store, transport: transport, members: members, log: l.With("component", "broadcaster")}
}

// Publish sends the current state of the room to its group. A deleted room is a no-op.
func (b *Broadcaster) Publish(ctx context.Context, roomID uint) error {
	room, err := b.store.GetRoom(ctx, roomID)
	if errors.Is(err, database.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return b.publish(ctx, room)
}

func (b *Broadcaster) PublishCode(ctx context.Context, code string) error {
	room, err := b.store.FindRoomByCode(ctx, code)
	if errors.Is(err, database.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return b.publish(ctx, room)
}

func (b *Broadcaster) publish(ctx context.Context, room *models.Room) error {
	group := websocket.GroupName(room.Code)

	members := make([]models.UserView, 0)
	if ids := b.memberIDs(ctx, room.Code, group); len(ids) > 0 {
		users, err := b.store.ListUsers(ctx, ids)
		if err != nil {
			// The room itself is still worth publishing.
			b.log.Warn("loading room members", "room", room.Code, "error", err)
		}
		for i := range users {
			members = append(members, users[i].View())
		}
	}

	return b.transport.EmitToGroup(ctx, group, websocket.EventPresenceUpdate, Presence{
		Room:    room.Snapshot(),
		Members: members,
	})
}

// memberIDs prefers the shared view so relayed updates stay a full replace
// across processes.
func (b *Broadcaster) memberIDs(ctx context.Context, code, group string) []uint {
	if ids, outcome := b.members.Users(ctx, code); outcome.OK() {
		return ids
	}
	return b.transport.GroupUsers(group)
}
