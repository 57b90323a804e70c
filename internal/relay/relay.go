package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/DoyleJ11/race-board-backend/internal/types"
	"github.com/go-redis/redis/v9"
)

const channelPrefix = "raceboard:"

// RedisPublisher mirrors room notifications onto Redis pub/sub so tools
// outside the process can follow a room.
type RedisPublisher struct {
	client *redis.Client
}

type Settings struct {
	Address  string
	Password string
	DB       int
}

func NewRedisPublisher(settings Settings) *RedisPublisher {
	return &RedisPublisher{
		client: redis.NewClient(&redis.Options{
			Addr:     settings.Address,
			Password: settings.Password,
			DB:       settings.DB,
		}),
	}
}

func Channel(code string) string { return channelPrefix + code }

func (r *RedisPublisher) Publish(ctx context.Context, code string, msg types.ServerMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, Channel(code), payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", Channel(code), err)
	}
	return nil
}

func (r *RedisPublisher) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisPublisher) Close() error {
	return r.client.Close()
}
