package rooms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thereayou/roomkit/internal/database"
	"github.com/thereayou/roomkit/internal/models"
	"github.com/thereayou/roomkit/internal/presence"
	"github.com/thereayou/roomkit/internal/tasks"
	"github.com/thereayou/roomkit/internal/testutil"
	"github.com/thereayou/roomkit/internal/websocket"
)

type fixture struct {
	db     *database.Database
	hub    *websocket.Hub
	mr     *miniredis.Miniredis
	coord  *Coordinator
	runner *tasks.Runner
	owner  *models.User
	room   *models.Room
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, grace time.Duration, policy InactivityPolicy) *fixture {
	t.Helper()
	l := quietLogger()

	db := testutil.NewDatabase(t)
	mr, rdb := testutil.NewRedis(t)

	hub := websocket.NewHub(websocket.WithLogger(l))
	go hub.Run()
	t.Cleanup(hub.Stop)

	runner := tasks.NewRunner(l)
	t.Cleanup(func() { _ = runner.Stop(context.Background()) })

	coord := NewCoordinator(Deps{
		Store:        db,
		Transport:    hub,
		Registry:     presence.NewRegistry(rdb, time.Second, l),
		Verification: presence.NewVerificationStore(rdb, time.Second, l),
		Members:      presence.NewRoomMembers(rdb, time.Second, l),
		Runner:       runner,
		Policy:       policy,
		GracePeriod:  grace,
		Logger:       l,
	})

	ctx := context.Background()
	owner, err := db.UpsertGoogleUser(ctx, database.GoogleProfile{Subject: "owner", Name: "Owner"})
	require.NoError(t, err)
	room, err := db.CreateRoom(ctx, owner.ID)
	require.NoError(t, err)

	return &fixture{db: db, hub: hub, mr: mr, coord: coord, runner: runner, owner: owner, room: room}
}

func (f *fixture) user(t *testing.T, name string) *models.User {
	t.Helper()
	u, err := f.db.UpsertGoogleUser(context.Background(), database.GoogleProfile{Subject: "sub-" + name, Name: name})
	require.NoError(t, err)
	return u
}

// connect registers a socket-less client and runs the connect transition.
func (f *fixture) connect(t *testing.T, userID uint) *websocket.Client {
	t.Helper()
	client := websocket.NewClient(f.hub, nil, userID)
	f.hub.Register(client)
	f.coord.Connect(context.Background(), client)
	return client
}

func (f *fixture) disconnect(t *testing.T, client *websocket.Client) {
	t.Helper()
	groups := client.Groups()
	f.hub.Unregister(client)
	f.coord.HandleDisconnect(client, groups)
}

func send(t *testing.T, c *Coordinator, client *websocket.Client, event string, data interface{}) {
	t.Helper()
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		require.NoError(t, err)
		raw = b
	}
	c.HandleEvent(client, event, raw)
}

// frames drains whatever is queued for the client right now.
func frames(t *testing.T, client *websocket.Client) []websocket.Envelope {
	t.Helper()
	var out []websocket.Envelope
	for {
		select {
		case frame, ok := <-client.Send:
			if !ok {
				return out
			}
			var env websocket.Envelope
			require.NoError(t, json.Unmarshal(frame, &env))
			out = append(out, env)
		case <-time.After(50 * time.Millisecond):
			return out
		}
	}
}

func byEvent(envs []websocket.Envelope, event string) []websocket.Envelope {
	var out []websocket.Envelope
	for _, e := range envs {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func TestJoin_UnknownRoomEmitsErrorWithoutBroadcast(t *testing.T) {
	f := newFixture(t, 0, nil)
	observer := f.connect(t, f.owner.ID)
	send(t, f.coord, observer, websocket.EventRoomJoin, map[string]string{"code": f.room.Code})
	frames(t, observer)

	joiner := f.connect(t, f.user(t, "bob").ID)
	send(t, f.coord, joiner, websocket.EventRoomJoin, map[string]string{"code": "ffffffffffffff"})

	got := frames(t, joiner)
	require.Len(t, got, 1)
	assert.Equal(t, websocket.EventRoomError, got[0].Event)
	assert.JSONEq(t, `{"error":"Room not found"}`, string(got[0].Data))

	assert.Empty(t, frames(t, observer))
	assert.Empty(t, joiner.Groups())
}

func TestJoin_MissingCode(t *testing.T) {
	f := newFixture(t, 0, nil)
	client := f.connect(t, f.owner.ID)

	send(t, f.coord, client, websocket.EventRoomJoin, nil)
	for _, raw := range []string{`{}`, `{"code":""}`, `{"code":null}`, `{"code":0}`, `{"code":false}`} {
		f.coord.HandleEvent(client, websocket.EventRoomJoin, json.RawMessage(raw))
	}

	got := frames(t, client)
	require.Len(t, got, 6)
	for _, env := range got {
		assert.Equal(t, websocket.EventRoomError, env.Event)
		assert.JSONEq(t, `{"error":"Room code required"}`, string(env.Data))
	}
}

func TestJoin_CodeIsNotNormalised(t *testing.T) {
	f := newFixture(t, 0, nil)
	client := f.connect(t, f.owner.ID)

	for _, raw := range []string{
		`{"code":"  "}`,
		`{"code":" ` + f.room.Code + ` "}`,
		`{"code":123}`,
		`{"code":["` + f.room.Code + `"]}`,
	} {
		f.coord.HandleEvent(client, websocket.EventRoomJoin, json.RawMessage(raw))
	}

	got := frames(t, client)
	require.Len(t, got, 4)
	for _, env := range got {
		assert.Equal(t, websocket.EventRoomError, env.Event)
		assert.JSONEq(t, `{"error":"Room not found"}`, string(env.Data))
	}
	assert.Empty(t, client.Groups())
}

func TestJoin_MalformedPayload(t *testing.T) {
	f := newFixture(t, 0, nil)
	client := f.connect(t, f.owner.ID)

	f.coord.HandleEvent(client, websocket.EventRoomJoin, json.RawMessage(`"not an object"`))

	got := frames(t, client)
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"error":"Failed to join room"}`, string(got[0].Data))
}

func TestJoin_ValidCode(t *testing.T) {
	f := newFixture(t, 0, nil)
	now := time.Unix(1_700_000_000, 0)
	f.coord.now = func() time.Time { return now }

	observer := f.connect(t, f.owner.ID)
	send(t, f.coord, observer, websocket.EventRoomJoin, map[string]string{"code": f.room.Code})
	frames(t, observer)

	bob := f.user(t, "bob")
	require.NoError(t, f.db.SetUserActive(context.Background(), bob.ID, false))
	joiner := f.connect(t, bob.ID)
	send(t, f.coord, joiner, websocket.EventRoomJoin, map[string]interface{}{"code": f.room.Code, "clientTimestamp": 1699999999123})

	got := frames(t, joiner)
	results := byEvent(got, websocket.EventJoinResult)
	require.Len(t, results, 1)
	assert.Len(t, byEvent(got, websocket.EventPresenceUpdate), 1)

	var result JoinResult
	require.NoError(t, json.Unmarshal(results[0].Data, &result))
	assert.True(t, result.OK)
	assert.Equal(t, f.room.Code, result.Code)
	assert.Equal(t, f.room.ID, result.Snapshot.ID)
	assert.Equal(t, now.UnixMilli(), result.ServerNowMs)
	require.NotNil(t, result.ClientTimestamp)
	assert.Equal(t, float64(1699999999123), *result.ClientTimestamp)

	updates := byEvent(frames(t, observer), websocket.EventPresenceUpdate)
	require.Len(t, updates, 1)
	var p Presence
	require.NoError(t, json.Unmarshal(updates[0].Data, &p))
	assert.Equal(t, f.room.Code, p.Room.Code)
	assert.Len(t, p.Members, 2)

	stored, err := f.db.GetUser(context.Background(), bob.ID)
	require.NoError(t, err)
	assert.Equal(t, now.Unix(), stored.LastSeen)
	assert.True(t, stored.Active)
}

func TestJoin_SeveralRoomsPerConnection(t *testing.T) {
	f := newFixture(t, 0, nil)
	second, err := f.db.CreateRoom(context.Background(), f.owner.ID)
	require.NoError(t, err)

	client := f.connect(t, f.owner.ID)
	send(t, f.coord, client, websocket.EventRoomJoin, map[string]string{"code": f.room.Code})
	send(t, f.coord, client, websocket.EventRoomJoin, map[string]string{"code": second.Code})

	assert.Len(t, byEvent(frames(t, client), websocket.EventJoinResult), 2)
	assert.ElementsMatch(t, []string{websocket.GroupName(f.room.Code), websocket.GroupName(second.Code)}, client.Groups())
}

func TestLeave_MissingCodeIsNoop(t *testing.T) {
	f := newFixture(t, 0, nil)
	f.coord.now = func() time.Time { return time.Unix(1_000, 0) }

	client := f.connect(t, f.owner.ID)
	send(t, f.coord, client, websocket.EventRoomJoin, map[string]string{"code": f.room.Code})
	frames(t, client)

	f.coord.now = func() time.Time { return time.Unix(2_000, 0) }
	send(t, f.coord, client, websocket.EventRoomLeave, nil)
	send(t, f.coord, client, websocket.EventRoomLeave, map[string]string{})
	send(t, f.coord, client, websocket.EventRoomLeave, map[string]string{"code": "ffffffffffffff"})

	assert.Empty(t, frames(t, client))
	assert.True(t, client.InGroup(websocket.GroupName(f.room.Code)))

	stored, err := f.db.GetUser(context.Background(), f.owner.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), stored.LastSeen)
}

func TestLeave_RemovesFromGroupAndPublishes(t *testing.T) {
	f := newFixture(t, 0, nil)
	observer := f.connect(t, f.owner.ID)
	send(t, f.coord, observer, websocket.EventRoomJoin, map[string]string{"code": f.room.Code})

	bob := f.user(t, "bob")
	leaver := f.connect(t, bob.ID)
	send(t, f.coord, leaver, websocket.EventRoomJoin, map[string]string{"code": f.room.Code})
	frames(t, observer)
	frames(t, leaver)

	send(t, f.coord, leaver, websocket.EventRoomLeave, map[string]string{"code": f.room.Code})

	assert.Empty(t, frames(t, leaver))
	updates := byEvent(frames(t, observer), websocket.EventPresenceUpdate)
	require.Len(t, updates, 1)

	var p Presence
	require.NoError(t, json.Unmarshal(updates[0].Data, &p))
	require.Len(t, p.Members, 1)
	assert.Equal(t, f.owner.ID, p.Members[0].ID)
	assert.False(t, leaver.InGroup(websocket.GroupName(f.room.Code)))
}

func TestConcurrentJoins(t *testing.T) {
	f := newFixture(t, 0, nil)
	const n = 50

	clients := make([]*websocket.Client, n)
	for i := range clients {
		clients[i] = f.connect(t, f.user(t, fmt.Sprintf("u%d", i)).ID)
	}

	var wg sync.WaitGroup
	for _, client := range clients {
		wg.Add(1)
		go func(client *websocket.Client) {
			defer wg.Done()
			send(t, f.coord, client, websocket.EventRoomJoin, map[string]string{"code": f.room.Code})
		}(client)
	}
	wg.Wait()

	sawFullRoom := false
	for _, client := range clients {
		got := frames(t, client)
		assert.Len(t, byEvent(got, websocket.EventJoinResult), 1, "client %s", client.ID)
		for _, update := range byEvent(got, websocket.EventPresenceUpdate) {
			var p Presence
			require.NoError(t, json.Unmarshal(update.Data, &p))
			if len(p.Members) == n {
				sawFullRoom = true
			}
		}
	}
	assert.True(t, sawFullRoom, "no presence.update carried the final membership")
}

func TestEventHandlerPanicBecomesJoinError(t *testing.T) {
	f := newFixture(t, 0, nil)
	f.coord.now = func() time.Time { panic("clock exploded") }

	client := f.connect(t, f.owner.ID)
	assert.NotPanics(t, func() {
		send(t, f.coord, client, websocket.EventRoomJoin, map[string]string{"code": f.room.Code})
	})

	got := frames(t, client)
	require.Len(t, got, 1)
	assert.Equal(t, websocket.EventRoomError, got[0].Event)
	assert.JSONEq(t, `{"error":"Failed to join room"}`, string(got[0].Data))
}

func TestConnectAndDisconnectTracking(t *testing.T) {
	f := newFixture(t, 0, nil)
	ctx := context.Background()

	first := f.connect(t, f.owner.ID)
	second := f.connect(t, f.owner.ID)
	assert.True(t, f.coord.registry.IsOnline(ctx, f.owner.ID))
	assert.True(t, f.coord.verification.IsVerified(ctx, f.owner.ID))

	f.disconnect(t, first)
	// The surviving connection is asked to confirm it is alive.
	survivor := frames(t, second)
	require.Len(t, survivor, 1)
	assert.Equal(t, websocket.EventUserVerifyRequest, survivor[0].Event)
	assert.True(t, f.coord.verification.IsVerified(ctx, f.owner.ID))

	f.disconnect(t, second)
	assert.False(t, f.coord.registry.IsOnline(ctx, f.owner.ID))
	assert.False(t, f.coord.verification.IsVerified(ctx, f.owner.ID))
	assert.Zero(t, f.runner.Pending())
}

func TestVerifyEventMarksVerified(t *testing.T) {
	f := newFixture(t, 0, nil)
	ctx := context.Background()
	client := f.connect(t, f.owner.ID)

	f.coord.verification.Clear(ctx, f.owner.ID)
	send(t, f.coord, client, websocket.EventUserVerify, struct{}{})

	assert.True(t, f.coord.verification.IsVerified(ctx, f.owner.ID))
	assert.Empty(t, frames(t, client))
}

func TestRoomsKeepWorkingWithoutRedis(t *testing.T) {
	policy := newRecordingPolicy()
	f := newFixture(t, 20*time.Millisecond, policy)
	f.mr.Close()

	bob := f.user(t, "bob")
	observer := f.connect(t, f.owner.ID)
	leaver := f.connect(t, bob.ID)

	send(t, f.coord, observer, websocket.EventRoomJoin, map[string]string{"code": f.room.Code})
	got := frames(t, observer)
	require.Len(t, byEvent(got, websocket.EventJoinResult), 1)
	require.Len(t, byEvent(got, websocket.EventPresenceUpdate), 1)

	send(t, f.coord, leaver, websocket.EventRoomJoin, map[string]string{"code": f.room.Code})
	got = frames(t, leaver)
	require.Len(t, byEvent(got, websocket.EventJoinResult), 1)
	updates := byEvent(got, websocket.EventPresenceUpdate)
	require.Len(t, updates, 1)

	// Membership falls back to this process's sockets.
	var p Presence
	require.NoError(t, json.Unmarshal(updates[0].Data, &p))
	assert.Len(t, p.Members, 2)
	frames(t, observer)

	send(t, f.coord, leaver, websocket.EventRoomLeave, map[string]string{"code": f.room.Code})
	updates = byEvent(frames(t, observer), websocket.EventPresenceUpdate)
	require.Len(t, updates, 1)
	require.NoError(t, json.Unmarshal(updates[0].Data, &p))
	require.Len(t, p.Members, 1)
	assert.Equal(t, f.owner.ID, p.Members[0].ID)

	// The registry cannot say whether this was the last connection, so nothing is scheduled.
	f.disconnect(t, observer)
	f.disconnect(t, leaver)
	assert.Zero(t, f.runner.Pending())
	assert.Empty(t, policy.calls())
}
