package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "Yelp-Navigator/internal/errors"
)

// RedisConfig 描述 Redis 缓存的连接参数。
type RedisConfig struct {
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// RedisCache 以每个商户一个 hash、每个种类一个 field 的方式存储记录，
// HSET 对单个 field 的写入是原子的。
type RedisCache struct {
	client *redis.Client
	prefix string
	owned  bool
}

type redisEntry struct {
	Payload   json.RawMessage `json:"payload,omitempty"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// NewRedis 连接 Redis 并创建缓存。
func NewRedis(ctx context.Context, cfg RedisConfig) (*RedisCache, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	c := NewRedisWithClient(client, cfg.KeyPrefix)
	c.owned = true
	return c, nil
}

// NewRedisWithClient 复用已有的 Redis 客户端。
func NewRedisWithClient(client *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "navigator:"
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) businessKey(id string) string {
	return c.prefix + "business:" + id
}

func (c *RedisCache) knownKey() string {
	return c.prefix + "known"
}

// Get 实现 Cache。
func (c *RedisCache) Get(ctx context.Context, businessID string, kind Kind) (Record, bool, error) {
	raw, err := c.client.HGet(ctx, c.businessKey(businessID), string(kind)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 Redis 缓存失败")
	}
	var entry redisEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Record{}, false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析 Redis 缓存失败")
	}
	return Record{BusinessID: businessID, Kind: kind, Payload: entry.Payload, FetchedAt: entry.FetchedAt}, true, nil
}

// Put 实现 Cache。
func (c *RedisCache) Put(ctx context.Context, record Record) error {
	if record.BusinessID == "" || !record.Kind.Valid() {
		return xerrors.New(xerrors.CodeInvalidArgument, "缓存记录缺少商户 ID 或种类无效")
	}
	encoded, err := json.Marshal(redisEntry{Payload: record.Payload, FetchedAt: record.FetchedAt})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化缓存记录失败")
	}
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, c.businessKey(record.BusinessID), string(record.Kind), encoded)
		pipe.SAdd(ctx, c.knownKey(), record.BusinessID)
		return nil
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入 Redis 缓存失败")
	}
	return nil
}

// ListKnown 实现 Cache，结果按 ID 排序。
func (c *RedisCache) ListKnown(ctx context.Context) ([]string, error) {
	ids, err := c.client.SMembers(ctx, c.knownKey()).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取已知商户失败")
	}
	sort.Strings(ids)
	return ids, nil
}

// Close 关闭自行创建的 Redis 连接。
func (c *RedisCache) Close() error {
	if c == nil || c.client == nil || !c.owned {
		return nil
	}
	return c.client.Close()
}
