package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig 描述 Redis Mailbox 的连接参数。
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	Prefix    string
	BlockWait time.Duration
	// TTL 为会话 key 设置的过期时间，避免中断的会话残留数据。
	TTL time.Duration
}

// RedisMailbox 使用 Redis list 实现 Mailbox：LPUSH 投递，BRPOP 取出。
type RedisMailbox struct {
	client *redis.Client
	prefix string
	wait   time.Duration
	ttl    time.Duration
}

// NewRedisMailbox 连接 Redis 并创建 Mailbox。
func NewRedisMailbox(ctx context.Context, cfg RedisConfig) (*RedisMailbox, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return newRedisMailbox(client, cfg), nil
}

func newRedisMailbox(client *redis.Client, cfg RedisConfig) *RedisMailbox {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "fxledger:"
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = time.Second
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisMailbox{client: client, prefix: prefix, wait: wait, ttl: ttl}
}

// Push 将消息写入 list 头部并刷新过期时间。
func (m *RedisMailbox) Push(ctx context.Context, key string, payload []byte) error {
	full := m.prefix + key
	pipe := m.client.TxPipeline()
	pipe.LPush(ctx, full, payload)
	pipe.Expire(ctx, full, m.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("Redis 投递消息失败: %w", err)
	}
	return nil
}

// Pop 通过 BRPOP 阻塞读取，超时后继续等待直到 ctx 结束。
func (m *RedisMailbox) Pop(ctx context.Context, key string) ([]byte, error) {
	full := m.prefix + key
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		values, err := m.client.BRPop(ctx, m.wait, full).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("Redis 读取消息失败: %w", err)
		}
		if len(values) != 2 {
			continue
		}
		return []byte(values[1]), nil
	}
}

// Close 关闭 Redis 连接。
func (m *RedisMailbox) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Close()
}
