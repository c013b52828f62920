package kvstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisStore maps the Store interface onto native Redis hashes, one
// HSET-backed hash per database. Selected with the redis_socket option.
type RedisStore struct {
	client *redis.Client
}

// OpenRedis connects to a Redis server. A socket value starting with
// "/" is treated as a unix socket path, anything else as host:port.
func OpenRedis(ctx context.Context, socket string) (*RedisStore, error) {
	opts := &redis.Options{Addr: socket}
	if strings.HasPrefix(socket, "/") {
		opts.Network = "unix"
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", socket, err)
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) HSet(ctx context.Context, db, field, value string) error {
	if err := s.client.HSet(ctx, db, field, value).Err(); err != nil {
		return fmt.Errorf("redis hset %s/%s: %w", db, field, err)
	}
	return nil
}

func (s *RedisStore) HMSet(ctx context.Context, db string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	args := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		args[k] = v
	}
	if err := s.client.HSet(ctx, db, args).Err(); err != nil {
		return fmt.Errorf("redis hmset %s: %w", db, err)
	}
	return nil
}

func (s *RedisStore) HGet(ctx context.Context, db, field string) (string, error) {
	value, err := s.client.HGet(ctx, db, field).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis hget %s/%s: %w", db, field, err)
	}
	return value, nil
}

func (s *RedisStore) HKeys(ctx context.Context, db string) ([]string, error) {
	keys, err := s.client.HKeys(ctx, db).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hkeys %s: %w", db, err)
	}
	return keys, nil
}

func (s *RedisStore) HGetAll(ctx context.Context, db string) (map[string]string, error) {
	all, err := s.client.HGetAll(ctx, db).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall %s: %w", db, err)
	}
	return all, nil
}

func (s *RedisStore) HExists(ctx context.Context, db, field string) (bool, error) {
	ok, err := s.client.HExists(ctx, db, field).Result()
	if err != nil {
		return false, fmt.Errorf("redis hexists %s/%s: %w", db, field, err)
	}
	return ok, nil
}

func (s *RedisStore) HDel(ctx context.Context, db string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	if err := s.client.HDel(ctx, db, fields...).Err(); err != nil {
		return fmt.Errorf("redis hdel %s: %w", db, err)
	}
	return nil
}

func (s *RedisStore) Del(ctx context.Context, dbs ...string) error {
	if len(dbs) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, dbs...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Flush asks the server to persist its dataset.
func (s *RedisStore) Flush(ctx context.Context) error {
	if err := s.client.BgSave(ctx).Err(); err != nil {
		// A BGSAVE already in progress is fine.
		if strings.Contains(err.Error(), "in progress") {
			return nil
		}
		return fmt.Errorf("redis bgsave: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
