package websocket

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Hub owns this process's connections and socket-group membership.
// With a Relay configured, group emits reach members connected to other processes too.
type Hub struct {
	clients map[string]*Client

	// A user may hold several connections (tabs, devices).
	userClients map[uint]map[string]*Client

	// Socket groups: group name -> connection id -> client.
	groups map[string]map[string]*Client

	register   chan *Client
	unregister chan *Client
	inbound    chan RelayMessage

	relay    Relay
	nodeID   string
	pongWait time.Duration
	log      *slog.Logger

	mu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
}

type Option func(*Hub)

func WithRelay(r Relay) Option {
	return func(h *Hub) { h.relay = r }
}

func WithPongWait(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.pongWait = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.log = l
		}
	}
}

func NewHub(opts ...Option) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		clients:     make(map[string]*Client),
		userClients: make(map[uint]map[string]*Client),
		groups:      make(map[string]map[string]*Client),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		inbound:     make(chan RelayMessage, 256),
		nodeID:      uuid.NewString(),
		pongWait:    DefaultPongWait,
		log:         slog.Default(),
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.With("component", "hub")
	return h
}

// Run processes registrations and relayed frames until Stop.
func (h *Hub) Run() {
	if h.relay != nil {
		err := h.relay.Subscribe(h.ctx, func(m RelayMessage) {
			select {
			case h.inbound <- m:
			case <-h.ctx.Done():
			}
		})
		if err != nil {
			h.log.Warn("broadcast relay subscribe failed, group emits stay process-local", "error", err)
		}
	}

	for {
		select {
		case <-h.ctx.Done():
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case m := <-h.inbound:
			h.handleRelayed(m)
		}
	}
}

func (h *Hub) Stop() {
	h.cancel()

	h.mu.Lock()
	defer h.mu.Unlock()

	for id, client := range h.clients {
		close(client.Send)
		if client.Conn != nil {
			client.Conn.Close()
		}
		delete(h.clients, id)
	}

	if h.relay != nil {
		if err := h.relay.Close(); err != nil {
			h.log.Warn("closing broadcast relay", "error", err)
		}
	}
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.ID] = client

	if _, ok := h.userClients[client.UserID]; !ok {
		h.userClients[client.UserID] = make(map[string]*Client)
	}
	h.userClients[client.UserID][client.ID] = client

	h.log.Debug("client registered", "conn_id", client.ID, "user_id", client.UserID)
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return
	}

	for _, group := range client.Groups() {
		h.leaveGroupUnsafe(client, group)
	}

	if userClients, ok := h.userClients[client.UserID]; ok {
		delete(userClients, client.ID)
		if len(userClients) == 0 {
			delete(h.userClients, client.UserID)
		}
	}

	delete(h.clients, client.ID)
	close(client.Send)

	h.log.Debug("client unregistered", "conn_id", client.ID, "user_id", client.UserID)
}

// JoinGroup subscribes the connection to a socket group. Joining twice is harmless.
func (h *Hub) JoinGroup(client *Client, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.groups[group]; !ok {
		h.groups[group] = make(map[string]*Client)
	}
	h.groups[group][client.ID] = client

	client.mu.Lock()
	client.groups[group] = true
	client.mu.Unlock()
}

func (h *Hub) LeaveGroup(client *Client, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveGroupUnsafe(client, group)
}

func (h *Hub) leaveGroupUnsafe(client *Client, group string) {
	if members, ok := h.groups[group]; ok {
		delete(members, client.ID)
		if len(members) == 0 {
			delete(h.groups, group)
		}
	}

	client.mu.Lock()
	delete(client.groups, group)
	client.mu.Unlock()
}

// EmitToGroup fans an event out to every member of group, here and, via the relay, elsewhere.
func (h *Hub) EmitToGroup(ctx context.Context, group, event string, data interface{}) error {
	frame, err := Encode(event, data)
	if err != nil {
		return err
	}

	h.deliverToGroup(group, frame)

	if h.relay != nil {
		m := RelayMessage{Origin: h.nodeID, Group: group, Frame: frame}
		if err := h.relay.Publish(ctx, m); err != nil {
			h.log.Warn("relay publish failed", "group", group, "event", event, "error", err)
		}
	}
	return nil
}

// EmitToConnection targets one connection, wherever it lives.
func (h *Hub) EmitToConnection(ctx context.Context, connID, event string, data interface{}) error {
	frame, err := Encode(event, data)
	if err != nil {
		return err
	}

	if h.deliverToConnection(connID, frame) {
		return nil
	}

	if h.relay == nil {
		return ErrClientNotFound
	}
	return h.relay.Publish(ctx, RelayMessage{Origin: h.nodeID, ConnID: connID, Frame: frame})
}

func (h *Hub) deliverToGroup(group string, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.groups[group] {
		if err := client.enqueue(frame); err != nil {
			h.log.Warn("dropping group frame", "conn_id", client.ID, "group", group, "error", err)
		}
	}
}

func (h *Hub) deliverToConnection(connID string, frame []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	client, ok := h.clients[connID]
	if !ok {
		return false
	}
	if err := client.enqueue(frame); err != nil {
		h.log.Warn("dropping frame", "conn_id", connID, "error", err)
	}
	return true
}

func (h *Hub) handleRelayed(m RelayMessage) {
	if m.Origin == h.nodeID {
		return
	}
	switch {
	case m.Group != "":
		h.deliverToGroup(m.Group, m.Frame)
	case m.ConnID != "":
		h.deliverToConnection(m.ConnID, m.Frame)
	}
}

// GroupConnections lists the local connection ids subscribed to group.
func (h *Hub) GroupConnections(group string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.groups[group]))
	for id := range h.groups[group] {
		ids = append(ids, id)
	}
	return ids
}

// GroupUsers lists distinct local users subscribed to group.
func (h *Hub) GroupUsers(group string) []uint {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[uint]bool)
	users := make([]uint, 0)
	for _, client := range h.groups[group] {
		if !seen[client.UserID] {
			seen[client.UserID] = true
			users = append(users, client.UserID)
		}
	}
	return users
}

// Stats is a point-in-time count of local connections.
type Stats struct {
	Connections int `json:"connections"`
	Users       int `json:"users"`
	Groups      int `json:"groups"`
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{Connections: len(h.clients), Users: len(h.userClients), Groups: len(h.groups)}
}

func (h *Hub) pingPeriod() time.Duration {
	return (h.pongWait * 9) / 10
}
