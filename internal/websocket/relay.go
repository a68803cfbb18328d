package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/nats-io/nats.go"
)

// RelayChannel is the Redis channel / NATS subject shared by every process.
const RelayChannel = "roomkit.broadcast"

// RelayMessage carries an encoded frame between processes. Exactly one of
// Group and ConnID is set.
type RelayMessage struct {
	Origin string `json:"origin"`
	Group  string `json:"group,omitempty"`
	ConnID string `json:"conn_id,omitempty"`
	Frame  []byte `json:"frame"`
}

type Relay interface {
	Publish(ctx context.Context, m RelayMessage) error
	// Subscribe delivers messages from every process, including this one, until ctx ends.
	Subscribe(ctx context.Context, fn func(RelayMessage)) error
	Close() error
}

// NewRelay picks the relay implementation from the URL scheme.
func NewRelay(rawURL string, l *slog.Logger) (Relay, error) {
	switch {
	case strings.HasPrefix(rawURL, "redis://"), strings.HasPrefix(rawURL, "rediss://"):
		opts, err := redis.ParseURL(rawURL)
		if err != nil {
			return nil, fmt.Errorf("invalid relay url: %w", err)
		}
		return NewRedisRelay(redis.NewClient(opts), l), nil
	case strings.HasPrefix(rawURL, "nats://"), strings.HasPrefix(rawURL, "tls://"):
		nc, err := nats.Connect(rawURL, nats.Name("roomkit-relay"))
		if err != nil {
			return nil, fmt.Errorf("connect relay: %w", err)
		}
		return NewNATSRelay(nc, l), nil
	default:
		return nil, fmt.Errorf("unsupported relay url %q", rawURL)
	}
}

type RedisRelay struct {
	client *redis.Client
	pubsub *redis.PubSub
	log    *slog.Logger
}

func NewRedisRelay(client *redis.Client, l *slog.Logger) *RedisRelay {
	if l == nil {
		l = slog.Default()
	}
	return &RedisRelay{client: client, log: l.With("component", "relay", "kind", "redis")}
}

func (r *RedisRelay) Publish(ctx context.Context, m RelayMessage) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, RelayChannel, data).Err()
}

func (r *RedisRelay) Subscribe(ctx context.Context, fn func(RelayMessage)) error {
	r.pubsub = r.client.Subscribe(ctx, RelayChannel)
	// Wait for the subscription confirmation so no publish is missed afterwards.
	if _, err := r.pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", RelayChannel, err)
	}

	ch := r.pubsub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var m RelayMessage
				if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
					r.log.Warn("undecodable relay message", "error", err)
					continue
				}
				fn(m)
			}
		}
	}()
	return nil
}

func (r *RedisRelay) Close() error {
	if r.pubsub != nil {
		r.pubsub.Close()
	}
	return r.client.Close()
}

type NATSRelay struct {
	conn *nats.Conn
	sub  *nats.Subscription
	log  *slog.Logger
}

func NewNATSRelay(conn *nats.Conn, l *slog.Logger) *NATSRelay {
	if l == nil {
		l = slog.Default()
	}
	return &NATSRelay{conn: conn, log: l.With("component", "relay", "kind", "nats")}
}

func (r *NATSRelay) Publish(_ context.Context, m RelayMessage) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return r.conn.Publish(RelayChannel, data)
}

func (r *NATSRelay) Subscribe(ctx context.Context, fn func(RelayMessage)) error {
	sub, err := r.conn.Subscribe(RelayChannel, func(msg *nats.Msg) {
		var m RelayMessage
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			r.log.Warn("undecodable relay message", "error", err)
			return
		}
		fn(m)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", RelayChannel, err)
	}
	r.sub = sub

	go func() {
		<-ctx.Done()
		sub.Unsubscribe()
	}()
	return nil
}

func (r *NATSRelay) Close() error {
	if r.sub != nil {
		r.sub.Unsubscribe()
	}
	r.conn.Close()
	return nil
}
