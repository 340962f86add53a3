package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/trivia/internal/domain"
)

// RedisNotifier fans broadcasts out through redis pub/sub, so every instance delivers them
// to the connections it holds.
type RedisNotifier struct {
	redis  redis.UniversalClient
	prefix string
	hub    *Hub
}

func NewRedisNotifier(rc redis.UniversalClient, prefix string, hub *Hub) *RedisNotifier {
	return &RedisNotifier{
		redis:  rc,
		prefix: prefix,
		hub:    hub,
	}
}

func (r *RedisNotifier) Broadcast(ctx context.Context, sessionID string, n domain.Notification) error {
	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", n.Event, err)
	}

	return r.redis.Publish(ctx, r.channel(sessionID), b).Err()
}

// Forward delivers the broadcasts of every session to the local hub until ctx is done.
func (r *RedisNotifier) Forward(ctx context.Context) error {
	sub := r.redis.PSubscribe(ctx, r.channel("*"))
	defer sub.Close()

	// Wait for the subscription, messages published before it are lost.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("pubsub: subscribe: %w", err)
	}

	slog.InfoContext(ctx, "pubsub: forwarding broadcasts", "pattern", r.channel("*"))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			sessionID, found := strings.CutPrefix(msg.Channel, r.channel(""))
			if !found {
				continue
			}
			r.hub.deliver(ctx, sessionID, []byte(msg.Payload))
		}
	}
}

func (r *RedisNotifier) channel(sessionID string) string {
	return fmt.Sprintf("%s:session:%s", r.prefix, sessionID)
}
