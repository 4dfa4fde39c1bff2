package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/poiesis-run/poiesis/pkg/poiesiserr"
	"github.com/redis/go-redis/v9"
)

// RedisBus is the network-backed Bus variant, used whenever
// MESSAGE_BROKER_HOST is configured, so the engine scales across hosts
// rather than a single API/Orchestrator process. go-redis/v9 is carried
// into this repository from the jordigilh-kubernaut example; the teacher
// has no network pub/sub client of its own.
type RedisBus struct {
	client *redis.Client
}

// NewRedisBus dials a Redis instance for use as the Bus backend.
func NewRedisBus(addr, password string) *RedisBus {
	return &RedisBus{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})}
}

func (b *RedisBus) Publish(ctx context.Context, channel string, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return poiesiserr.Wrap(poiesiserr.KindBusUnavailable, "marshal message", err)
	}
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return poiesiserr.Wrap(poiesiserr.KindBusUnavailable, "publish", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, channel string, timeout time.Duration) (Message, error) {
	sub := b.client.Subscribe(ctx, channel)
	defer sub.Close()

	subCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		subCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	raw, err := sub.ReceiveMessage(subCtx)
	if err != nil {
		if subCtx.Err() != nil && ctx.Err() == nil {
			return Message{}, ErrTimeout
		}
		return Message{}, poiesiserr.Wrap(poiesiserr.KindBusUnavailable, "subscribe", err)
	}

	var msg Message
	if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
		return Message{}, poiesiserr.Wrap(poiesiserr.KindBusUnavailable, "decode message", err)
	}
	return msg, nil
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}

// Addr formats a Redis host/port pair the way redis.Options.Addr expects.
func Addr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
