package broadcast

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "attendance:room:"

// RedisRelay routes published events through a Redis channel per room so that
// every API instance sees every event. Each instance feeds its local hub from
// the subscription; observers always attach to the local hub.
type RedisRelay struct {
	client *redis.Client
	hub    *Hub
}

// NewRedisRelay starts relaying room channels into the hub until ctx is done.
func NewRedisRelay(ctx context.Context, client *redis.Client, hub *Hub) *RedisRelay {
	r := &RedisRelay{client: client, hub: hub}
	go r.run(ctx)
	return r
}

// Publish sends the event to the room's Redis channel. Failures are logged and
// swallowed; they must not affect the attendance write.
func (r *RedisRelay) Publish(ctx context.Context, sessionID string, evt Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		log.Printf("broadcast marshal failed: %v", err)
		return
	}
	if err := r.client.Publish(ctx, channelPrefix+sessionID, payload).Err(); err != nil {
		log.Printf("broadcast publish failed for session %s: %v", sessionID, err)
	}
}

func (r *RedisRelay) run(ctx context.Context) {
	sub := r.client.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()
	for {
		select {
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				log.Printf("broadcast decode failed: %v", err)
				continue
			}
			sessionID := strings.TrimPrefix(msg.Channel, channelPrefix)
			r.hub.Publish(ctx, sessionID, evt)
		case <-ctx.Done():
			return
		}
	}
}
