package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// DefaultChannel is where order updates are published unless configured otherwise.
const DefaultChannel = "orders-stream"

// TypeOrderUpdated announces that an order's snapshot changed.
const TypeOrderUpdated = "order_updated"

// Message is a flat JSON object: type, project_id and order_id plus Fields.
type Message struct {
	Type      string
	ProjectID int64
	OrderID   int64
	Fields    map[string]any
}

// OrderUpdated builds the message sent after ingestion or enrichment.
func OrderUpdated(projectID, orderID int64, fields map[string]any) Message {
	return Message{Type: TypeOrderUpdated, ProjectID: projectID, OrderID: orderID, Fields: fields}
}

// MarshalJSON flattens Fields next to the fixed keys. The fixed keys win.
func (m Message) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Fields)+3)
	maps.Copy(out, m.Fields)
	out["type"] = m.Type
	out["project_id"] = m.ProjectID
	out["order_id"] = m.OrderID
	return json.Marshal(out)
}

// Publisher fans order updates out to listeners.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Nop drops every message.
type Nop struct{}

func (Nop) Publish(context.Context, Message) error { return nil }
func (Nop) Close() error                           { return nil }

// RedisPublisher publishes messages on a redis pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher connects lazily to the redis server at url
// (redis://[:password@]host:port/db).
func NewRedisPublisher(url, channel string) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: redis.NewClient(opts), channel: channel}, nil
}

func (p *RedisPublisher) Channel() string {
	return p.channel
}

func (p *RedisPublisher) Publish(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", p.channel, err)
	}
	log.Debug().Str("channel", p.channel).Int64("project", msg.ProjectID).Int64("order", msg.OrderID).Msg("Published order update")
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// New returns a redis publisher, or Nop when url is empty.
func New(url, channel string) (Publisher, error) {
	if url == "" {
		return Nop{}, nil
	}
	return NewRedisPublisher(url, channel)
}
