package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-hailing/internal/models"
)

// ChannelPrefix is the Redis Pub/Sub channel namespace for ride updates.
// The full channel name is ChannelPrefix + riderID.
const ChannelPrefix = "ride:updates:"

// Channel returns the Pub/Sub channel carrying updates for one rider.
func Channel(riderID string) string { return ChannelPrefix + riderID }

// RedisBridge feeds remote ride updates into the local hub. In a multi-node
// deployment the store only notifies subscribers in the process that wrote;
// the notifier binary re-publishes lifecycle events to Redis, and every API
// node runs a bridge so its websockets see writes made elsewhere.
type RedisBridge struct {
	client *redis.Client
	hub    *Hub
	logger *slog.Logger
}

func NewRedisBridge(addr, password string, hub *Hub, logger *slog.Logger) *RedisBridge {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisBridge{client: c, hub: hub, logger: logger}
}

// Run blocks consuming the update channels until ctx is cancelled.
func (b *RedisBridge) Run(ctx context.Context) error {
	sub := b.client.PSubscribe(ctx, ChannelPrefix+"*")
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			riderID := strings.TrimPrefix(msg.Channel, ChannelPrefix)
			var req models.RideRequest
			if err := json.Unmarshal([]byte(msg.Payload), &req); err != nil {
				b.logger.Warn("bad ride update payload", "channel", msg.Channel, "error", err)
				continue
			}
			b.hub.Deliver(riderID, &req)
		}
	}
}

func (b *RedisBridge) Close() error { return b.client.Close() }
