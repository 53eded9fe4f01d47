package realtime

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Relay 跨实例事件中继
type Relay interface {
	Publish(ctx context.Context, room string, data []byte) error
	// Subscribe 阻塞接收其他实例（含本实例）发布的事件，直到 ctx 结束
	Subscribe(ctx context.Context, deliver func(room string, data []byte)) error
}

// DefaultRelayChannel Redis 频道名
const DefaultRelayChannel = "scansuite:realtime"

type envelope struct {
	Room string          `json:"room"`
	Data json.RawMessage `json:"data"`
}

// RedisRelay 基于 Redis Pub/Sub 的中继
type RedisRelay struct {
	client  *redis.Client
	channel string
	log     *slog.Logger
}

// NewRedisRelay 创建 Redis 中继
func NewRedisRelay(client *redis.Client, log *slog.Logger) *RedisRelay {
	return &RedisRelay{client: client, channel: DefaultRelayChannel, log: log.With("component", "realtime_relay")}
}

// OpenRedis 解析 REDIS_URL 并探活
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// Publish 发布事件
func (r *RedisRelay) Publish(ctx context.Context, room string, data []byte) error {
	payload, err := json.Marshal(envelope{Room: room, Data: data})
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, payload).Err()
}

// Subscribe 订阅频道并投递到本地房间
func (r *RedisRelay) Subscribe(ctx context.Context, deliver func(room string, data []byte)) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.log.Warn("relay_decode_failed", "error", err)
				continue
			}
			deliver(env.Room, env.Data)
		}
	}
}
