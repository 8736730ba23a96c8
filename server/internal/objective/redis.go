package objective

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"junction-sim/server/internal/config"
	"junction-sim/server/internal/model"
)

const defaultRedisPrefix = "objectives"

// RedisStore 把每个角色的目标列表以 JSON 存在 "<prefix>:<characterID>" 下。
// 多个服务实例共享同一 Redis 时，目标状态对所有实例可见。
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore 连接 Redis 并校验可达性。
func NewRedisStore(cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
	}
	return NewRedisStoreWithClient(client, cfg.Prefix, cfg.TTL), nil
}

// NewRedisStoreWithClient 使用已有客户端，ttl 为 0 表示不过期。
func NewRedisStoreWithClient(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(characterID string) string {
	return s.prefix + ":" + characterID
}

func (s *RedisStore) Get(ctx context.Context, characterID string) ([]model.Objective, error) {
	raw, err := s.client.Get(ctx, s.key(characterID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", characterID, err)
	}

	var objs []model.Objective
	if err := json.Unmarshal(raw, &objs); err != nil {
		return nil, fmt.Errorf("decode objectives %s: %w", characterID, err)
	}
	if objs == nil {
		objs = []model.Objective{}
	}
	return objs, nil
}

func (s *RedisStore) Put(ctx context.Context, characterID string, objectives []model.Objective) error {
	if objectives == nil {
		objectives = []model.Objective{}
	}
	raw, err := json.Marshal(objectives)
	if err != nil {
		return fmt.Errorf("encode objectives %s: %w", characterID, err)
	}
	if err := s.client.Set(ctx, s.key(characterID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", characterID, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, characterID string) error {
	if err := s.client.Del(ctx, s.key(characterID)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", characterID, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
