package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisTopic is the pub/sub channel shared by every instance.
const RedisTopic = "posts:events"

type envelope struct {
	Target  string          `json:"target,omitempty"`
	Name    string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RedisChannel publishes events to Redis so that every instance's local hub
// delivers them. Run must be active for this instance's own subscribers to
// see anything.
type RedisChannel struct {
	client redis.UniversalClient
	local  *Hub
	log    *zap.Logger
	ready  chan struct{}
}

// NewRedisChannel creates a channel publishing through client and relaying
// into local.
func NewRedisChannel(client redis.UniversalClient, local *Hub, log *zap.Logger) *RedisChannel {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisChannel{
		client: client,
		local:  local,
		log:    log.Named("redis_broadcast"),
		ready:  make(chan struct{}),
	}
}

// BroadcastAll publishes ev for every subscriber on every instance.
func (c *RedisChannel) BroadcastAll(ctx context.Context, ev Event) error {
	return c.publish(ctx, "", ev)
}

// BroadcastTo publishes ev for memberID's sessions on every instance.
func (c *RedisChannel) BroadcastTo(ctx context.Context, memberID string, ev Event) error {
	return c.publish(ctx, memberID, ev)
}

func (c *RedisChannel) publish(ctx context.Context, target string, ev Event) error {
	env := envelope{Target: target, Name: ev.Name}
	if ev.Payload != nil {
		raw, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", ev.Name, err)
		}
		env.Payload = raw
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.Name, err)
	}
	if err := c.client.Publish(ctx, RedisTopic, body).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Name, err)
	}
	return nil
}

// Ready is closed once Run has an active subscription.
func (c *RedisChannel) Ready() <-chan struct{} { return c.ready }

// Run subscribes to the topic and relays messages into the local hub until
// ctx is done.
func (c *RedisChannel) Run(ctx context.Context) error {
	sub := c.client.Subscribe(ctx, RedisTopic)
	defer func() {
		_ = sub.Close()
	}()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", RedisTopic, err)
	}
	close(c.ready)
	c.log.Info("relaying broadcast events", zap.String("topic", RedisTopic))

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return errors.New("redis subscription closed")
			}
			c.relay(ctx, msg.Payload)
		}
	}
}

func (c *RedisChannel) relay(ctx context.Context, body string) {
	var env envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		c.log.Warn("dropping malformed broadcast", zap.Error(err))
		return
	}
	ev := Event{Name: env.Name}
	if len(env.Payload) > 0 {
		ev.Payload = env.Payload
	}
	if env.Target == "" {
		_ = c.local.BroadcastAll(ctx, ev)
		return
	}
	_ = c.local.BroadcastTo(ctx, env.Target, ev)
}
