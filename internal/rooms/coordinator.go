package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/thereayou/roomkit/internal/database"
	"github.com/thereayou/roomkit/internal/models"
	"github.com/thereayou/roomkit/internal/presence"
	"github.com/thereayou/roomkit/internal/tasks"
	"github.com/thereayou/roomkit/internal/websocket"
)

// Store is the slice of the relational store the room layer needs.
type Store interface {
	GetRoom(ctx context.Context, id uint) (*models.Room, error)
	FindRoomByCode(ctx context.Context, code string) (*models.Room, error)
	ListUsers(ctx context.Context, ids []uint) ([]models.User, error)
	UpdateLastSeen(ctx context.Context, id uint, ts time.Time, markActive bool) error
	SetUserActive(ctx context.Context, id uint, active bool) error
}

// Transport is implemented by *websocket.Hub.
type Transport interface {
	JoinGroup(client *websocket.Client, group string)
	LeaveGroup(client *websocket.Client, group string)
	EmitToGroup(ctx context.Context, group, event string, data interface{}) error
	EmitToConnection(ctx context.Context, connID, event string, data interface{}) error
	GroupUsers(group string) []uint
}

type Deps struct {
	Store        Store
	Transport    Transport
	Registry     *presence.Registry
	Verification *presence.VerificationStore
	// Members is optional; without it presence lists only this process's sockets.
	Members *presence.RoomMembers
	Runner  *tasks.Runner
	// Policy defaults to MarkInactivePolicy.
	Policy InactivityPolicy
	// GracePeriod of zero disables the deferred inactivity check.
	GracePeriod time.Duration
	Logger      *slog.Logger
}

// Coordinator drives each connection through connect, join, leave and disconnect.
type Coordinator struct {
	store        Store
	transport    Transport
	registry     *presence.Registry
	verification *presence.VerificationStore
	members      *presence.RoomMembers
	broadcaster  *Broadcaster
	runner       *tasks.Runner
	policy       InactivityPolicy
	grace        time.Duration
	log          *slog.Logger
	metrics      *metrics
	now          func() time.Time
}

func NewCoordinator(d Deps) *Coordinator {
	l := d.Logger
	if l == nil {
		l = slog.Default()
	}
	members := d.Members
	if members == nil {
		members = presence.NewRoomMembers(nil, 0, l)
	}
	broadcaster := NewBroadcaster(d.Store, d.Transport, members, l)

	policy := d.Policy
	if policy == nil {
		policy = &MarkInactivePolicy{Store: d.Store, Broadcaster: broadcaster, Logger: l}
	}

	return &Coordinator{
		store:        d.Store,
		transport:    d.Transport,
		registry:     d.Registry,
		verification: d.Verification,
		members:      members,
		broadcaster:  broadcaster,
		runner:       d.Runner,
		policy:       policy,
		grace:        d.GracePeriod,
		log:          l.With("component", "coordinator"),
		metrics:      newMetrics(),
		now:          time.Now,
	}
}

func (c *Coordinator) Broadcaster() *Broadcaster { return c.broadcaster }

type joinRequest struct {
	Code            json.RawMessage `json:"code"`
	ClientTimestamp *float64        `json:"clientTimestamp"`
}

type leaveRequest struct {
	Code json.RawMessage `json:"code"`
}

// JoinResult acknowledges a join to the requesting connection only.
type JoinResult struct {
	OK              bool            `json:"ok"`
	Code            string          `json:"code"`
	Snapshot        models.Snapshot `json:"snapshot"`
	ServerNowMs     int64           `json:"serverNowMs"`
	ClientTimestamp *float64        `json:"clientTimestamp"`
}

type errorPayload struct {
	Error string `json:"error"`
}

// Connect runs once the handshake token was accepted and the client registered.
func (c *Coordinator) Connect(ctx context.Context, client *websocket.Client) {
	defer c.recoverEvent(client, "connect", nil)

	if outcome := c.registry.Track(ctx, client.UserID, client.ID); !outcome.OK() {
		c.log.Debug("connection not tracked", "user_id", client.UserID, "conn_id", client.ID, "outcome", outcome)
	}
	// A fresh handshake counts as proof of life.
	c.verification.MarkVerified(ctx, client.UserID)

	c.log.Info("client connected", "user_id", client.UserID, "conn_id", client.ID)
}

// HandleEvent dispatches one client frame.
func (c *Coordinator) HandleEvent(client *websocket.Client, event string, data json.RawMessage) {
	ctx := context.Background()

	switch event {
	case websocket.EventRoomJoin:
		c.join(ctx, client, data)
	case websocket.EventRoomLeave:
		c.leave(ctx, client, data)
	case websocket.EventUserVerify:
		c.verify(ctx, client)
	default:
		c.log.Debug("unknown event", "event", event, "conn_id", client.ID)
	}
}

func (c *Coordinator) join(ctx context.Context, client *websocket.Client, data json.RawMessage) {
	ctx, span := c.metrics.tracer.Start(ctx, "room join")
	defer span.End()

	defer c.recoverEvent(client, websocket.EventRoomJoin, func() {
		c.emitError(client, ErrJoinFailed)
	})

	var req joinRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			c.failJoin(ctx, client, websocket.ErrInvalidMessage, span)
			return
		}
	}

	code, err := parseCode(req.Code)
	if err != nil {
		c.failJoin(ctx, client, err, span)
		return
	}

	lookup := lookupRoom(ctx, c.store, code)
	if !lookup.ok() {
		c.failJoin(ctx, client, lookup.failure, span)
		return
	}
	room := lookup.room

	span.SetAttributes(
		attribute.String("room.code", room.Code),
		attribute.Int64("user.id", int64(client.UserID)),
	)

	now := c.now()
	err = c.store.UpdateLastSeen(ctx, client.UserID, now, true)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		c.failJoin(ctx, client, err, span)
		return
	}

	c.transport.JoinGroup(client, websocket.GroupName(room.Code))
	c.members.Add(ctx, room.Code, client.UserID, client.ID)

	if err := c.broadcaster.Publish(ctx, room.ID); err != nil {
		c.log.Warn("presence publish after join", "room", room.Code, "error", err)
	}

	result := JoinResult{
		OK:              true,
		Code:            room.Code,
		Snapshot:        room.Snapshot(),
		ServerNowMs:     now.UnixMilli(),
		ClientTimestamp: req.ClientTimestamp,
	}
	if err := client.Emit(websocket.EventJoinResult, result); err != nil {
		c.log.Warn("join result not delivered", "conn_id", client.ID, "error", err)
	}

	c.metrics.joins.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "ok")))
	c.log.Info("joined room", "user_id", client.UserID, "conn_id", client.ID, "room", room.Code)
}

func (c *Coordinator) failJoin(ctx context.Context, client *websocket.Client, err error, span trace.Span) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	reason := "error"
	switch {
	case errors.Is(err, ErrCodeRequired):
		reason = "code_required"
	case errors.Is(err, ErrRoomNotFound):
		reason = "not_found"
	default:
		c.log.Error("join failed", "user_id", client.UserID, "conn_id", client.ID, "error", err)
	}
	c.metrics.joins.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", reason)))

	c.emitError(client, err)
}

func (c *Coordinator) emitError(client *websocket.Client, err error) {
	if emitErr := client.Emit(websocket.EventRoomError, errorPayload{Error: errorMessage(err)}); emitErr != nil {
		c.log.Debug("room.error not delivered", "conn_id", client.ID, "error", emitErr)
	}
}

// leave never reports failure to the caller.
func (c *Coordinator) leave(ctx context.Context, client *websocket.Client, data json.RawMessage) {
	ctx, span := c.metrics.tracer.Start(ctx, "room leave")
	defer span.End()

	defer c.recoverEvent(client, websocket.EventRoomLeave, nil)

	var req leaveRequest
	if len(data) == 0 || json.Unmarshal(data, &req) != nil {
		return
	}

	code, err := parseCode(req.Code)
	if err != nil {
		return
	}
	lookup := lookupRoom(ctx, c.store, code)
	if !lookup.ok() {
		return
	}
	room := lookup.room
	span.SetAttributes(attribute.String("room.code", room.Code))

	if err := c.store.UpdateLastSeen(ctx, client.UserID, c.now(), false); err != nil {
		c.log.Debug("touch last seen on leave", "user_id", client.UserID, "error", err)
	}

	c.transport.LeaveGroup(client, websocket.GroupName(room.Code))
	c.members.Remove(ctx, room.Code, client.ID)

	if err := c.broadcaster.Publish(ctx, room.ID); err != nil {
		c.log.Warn("presence publish after leave", "room", room.Code, "error", err)
	}

	c.metrics.leaves.Add(ctx, 1)
	c.log.Info("left room", "user_id", client.UserID, "conn_id", client.ID, "room", room.Code)
}

func (c *Coordinator) verify(ctx context.Context, client *websocket.Client) {
	defer c.recoverEvent(client, websocket.EventUserVerify, nil)

	c.verification.MarkVerified(ctx, client.UserID)
	if err := c.store.UpdateLastSeen(ctx, client.UserID, c.now(), true); err != nil {
		c.log.Debug("touch last seen on verify", "user_id", client.UserID, "error", err)
	}
}

// HandleDisconnect untracks the connection. It does not broadcast or mark the
// user inactive; when this was the last connection a grace job decides later.
func (c *Coordinator) HandleDisconnect(client *websocket.Client, groups []string) {
	ctx := context.Background()
	defer c.recoverEvent(client, "disconnect", nil)

	c.metrics.disconnects.Add(ctx, 1)
	log := c.log.With("user_id", client.UserID, "conn_id", client.ID)

	codes := roomCodes(groups)
	for _, code := range codes {
		c.members.Remove(ctx, code, client.ID)
	}

	if outcome := c.registry.Untrack(ctx, client.UserID, client.ID); outcome != presence.Succeeded {
		// Without the registry there is no way to tell whether this was the last connection.
		log.Debug("disconnect not tracked", "outcome", outcome)
		return
	}

	remaining := c.registry.ListConnections(ctx, client.UserID)
	if len(remaining) > 0 {
		// Ask the survivors to prove they are still there.
		for _, connID := range remaining {
			if err := c.transport.EmitToConnection(ctx, connID, websocket.EventUserVerifyRequest, struct{}{}); err != nil {
				log.Debug("verify request not delivered", "target", connID, "error", err)
			}
		}
		log.Info("client disconnected", "remaining", len(remaining))
		return
	}

	c.verification.Clear(ctx, client.UserID)
	log.Info("last connection closed")

	if c.grace <= 0 || c.runner == nil {
		return
	}

	job := GraceJob{
		UserID:       client.UserID,
		ConnectionID: client.ID,
		RoomCodes:    codes,
		DisconnectAt: c.now(),
	}
	c.runner.After(c.grace, "presence-grace", func(ctx context.Context) {
		c.runGraceJob(ctx, job)
	})
}

// recoverEvent is deferred by every handler so a fault stays with its event.
func (c *Coordinator) recoverEvent(client *websocket.Client, event string, onPanic func()) {
	r := recover()
	if r == nil {
		return
	}
	c.log.Error("event handler panicked",
		"event", event,
		"user_id", client.UserID,
		"conn_id", client.ID,
		"panic", r,
		"stack", string(debug.Stack()),
	)
	if onPanic != nil {
		onPanic()
	}
}
