package events

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "Yelp-Navigator/internal/errors"
)

// RedisConfig 描述 Redis list 事件队列。
type RedisConfig struct {
	Address   string        `mapstructure:"address"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	List      string        `mapstructure:"list"`
	MaxLen    int64         `mapstructure:"max_len"`
	BlockWait time.Duration `mapstructure:"block_wait"`
}

// RedisSink 使用 Redis list 保存事件，LPUSH 发布、BRPOP 消费。
type RedisSink struct {
	client *redis.Client
	list   string
	maxLen int64
	wait   time.Duration
	owned  bool
}

// NewRedis 创建 Redis 事件队列并检查连通性。
func NewRedis(ctx context.Context, cfg RedisConfig) (*RedisSink, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitFailure, err, "连接 Redis 失败")
	}
	sink := NewRedisWithClient(client, cfg)
	sink.owned = true
	return sink, nil
}

// NewRedisWithClient 复用已有客户端，Close 不会关闭该客户端。
func NewRedisWithClient(client *redis.Client, cfg RedisConfig) *RedisSink {
	list := cfg.List
	if list == "" {
		list = "navigator:events"
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisSink{client: client, list: list, maxLen: cfg.MaxLen, wait: wait}
}

// Publish 实现 Publisher。MaxLen 大于 0 时保留最新的 MaxLen 条。
func (r *RedisSink) Publish(ctx context.Context, ev Event) error {
	raw, err := marshal(ev)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, r.list, raw)
		if r.maxLen > 0 {
			pipe.LTrim(ctx, r.list, 0, r.maxLen-1)
		}
		return nil
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "Redis 发布事件失败")
	}
	return nil
}

// Consume 实现 Subscriber，按发布顺序读取事件。
func (r *RedisSink) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		values, err := r.client.BRPop(ctx, r.wait, r.list).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "Redis 读取事件失败")
		}
		if len(values) != 2 {
			continue
		}
		ev, err := unmarshal([]byte(values[1]))
		if err != nil {
			continue
		}
		_ = handler(ctx, ev)
	}
}

// Close 关闭自行创建的 Redis 连接。
func (r *RedisSink) Close() error {
	if r == nil || r.client == nil || !r.owned {
		return nil
	}
	return r.client.Close()
}
