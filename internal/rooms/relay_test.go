package rooms

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thereayou/roomkit/internal/database"
	"github.com/thereayou/roomkit/internal/presence"
	"github.com/thereayou/roomkit/internal/tasks"
	"github.com/thereayou/roomkit/internal/testutil"
	"github.com/thereayou/roomkit/internal/websocket"
)

type node struct {
	hub   *websocket.Hub
	coord *Coordinator
}

// waitForMembers reads frames until a presence.update lists exactly want.
func waitForMembers(t *testing.T, client *websocket.Client, want ...uint) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	var last []uint
	for {
		select {
		case frame := <-client.Send:
			var env websocket.Envelope
			require.NoError(t, json.Unmarshal(frame, &env))
			if env.Event != websocket.EventPresenceUpdate {
				continue
			}
			var p Presence
			require.NoError(t, json.Unmarshal(env.Data, &p))
			last = last[:0]
			for _, m := range p.Members {
				last = append(last, m.ID)
			}
			if assert.ObjectsAreEqual(want, last) {
				return
			}
		case <-deadline:
			t.Fatalf("members never became %v, last saw %v", want, last)
		}
	}
}

func TestPresenceAcrossRelayedProcesses(t *testing.T) {
	l := quietLogger()
	ctx := context.Background()
	db := testutil.NewDatabase(t)
	mr, rdb := testutil.NewRedis(t)

	newNode := func() node {
		relay := websocket.NewRedisRelay(redis.NewClient(&redis.Options{Addr: mr.Addr()}), l)
		hub := websocket.NewHub(websocket.WithRelay(relay), websocket.WithLogger(l))
		go hub.Run()
		t.Cleanup(hub.Stop)

		runner := tasks.NewRunner(l)
		t.Cleanup(func() { _ = runner.Stop(context.Background()) })

		return node{hub: hub, coord: NewCoordinator(Deps{
			Store:        db,
			Transport:    hub,
			Registry:     presence.NewRegistry(rdb, time.Second, l),
			Verification: presence.NewVerificationStore(rdb, time.Second, l),
			Members:      presence.NewRoomMembers(rdb, time.Second, l),
			Runner:       runner,
			Logger:       l,
		})}
	}
	first, second := newNode(), newNode()
	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(websocket.RelayChannel)[websocket.RelayChannel] == 2
	}, 2*time.Second, 10*time.Millisecond)

	ann, err := db.UpsertGoogleUser(ctx, database.GoogleProfile{Subject: "ann", Name: "Ann"})
	require.NoError(t, err)
	bob, err := db.UpsertGoogleUser(ctx, database.GoogleProfile{Subject: "bob", Name: "Bob"})
	require.NoError(t, err)
	room, err := db.CreateRoom(ctx, ann.ID)
	require.NoError(t, err)

	connectTo := func(n node, userID uint) *websocket.Client {
		client := websocket.NewClient(n.hub, nil, userID)
		n.hub.Register(client)
		n.coord.Connect(ctx, client)
		return client
	}

	annClient := connectTo(first, ann.ID)
	send(t, first.coord, annClient, websocket.EventRoomJoin, map[string]string{"code": room.Code})
	waitForMembers(t, annClient, ann.ID)

	bobClient := connectTo(second, bob.ID)
	send(t, second.coord, bobClient, websocket.EventRoomJoin, map[string]string{"code": room.Code})

	// Bob's process publishes; Ann on the other process still sees herself.
	waitForMembers(t, annClient, ann.ID, bob.ID)
	waitForMembers(t, bobClient, ann.ID, bob.ID)

	send(t, second.coord, bobClient, websocket.EventRoomLeave, map[string]string{"code": room.Code})
	waitForMembers(t, annClient, ann.ID)
}
