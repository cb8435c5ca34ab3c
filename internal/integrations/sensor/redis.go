package sensor

import (
	"context"
	"errors"
	"fmt"

	"daa-assistant/backend/shared/redis"
)

// RedisReader reads device state mirrored into Redis under {prefix}{name}.
type RedisReader struct {
	client *redis.RedisClient
	prefix string
}

func NewRedisReader(client *redis.RedisClient, prefix string) *RedisReader {
	return &RedisReader{client: client, prefix: prefix}
}

func (r *RedisReader) ReadSensor(ctx context.Context, name string) (map[string]any, error) {
	raw, err := r.client.Get(ctx, r.prefix+name)
	if errors.Is(err, redis.ErrNil) {
		return nil, fmt.Errorf("no state stored for %s", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return decode(name, []byte(raw))
}

func (r *RedisReader) Ping(ctx context.Context) error {
	return r.client.Ping(ctx)
}
