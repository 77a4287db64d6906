// Package redis 封装 go-redis，作为 Frigate 共享实例目录的存储
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	cfgpkg "github.com/taoyao-code/frigate-gateway/internal/config"
)

const defaultInstancesKey = "frigate:instances"

// Client 实例目录客户端：hash 的 field 为实例 ID，value 为实例 JSON
type Client struct {
	rdb          *redis.Client
	instancesKey string
}

// NewClient 按配置连接 Redis 并 ping 一次
func NewClient(cfg cfgpkg.RedisConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, errors.New("redis is not enabled")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return Wrap(rdb, cfg.InstancesKey), nil
}

// Wrap 复用已有连接；instancesKey 为空时使用默认 key
func Wrap(rdb *redis.Client, instancesKey string) *Client {
	if instancesKey == "" {
		instancesKey = defaultInstancesKey
	}
	return &Client{rdb: rdb, instancesKey: instancesKey}
}

// InstancesKey 实例目录所在的 hash key
func (c *Client) InstancesKey() string {
	return c.instancesKey
}

// Instances 读取整个实例目录
func (c *Client) Instances(ctx context.Context) (map[string]string, error) {
	return c.rdb.HGetAll(ctx, c.instancesKey).Result()
}

// PutInstance 写入或替换一个实例
func (c *Client) PutInstance(ctx context.Context, id, raw string) error {
	return c.rdb.HSet(ctx, c.instancesKey, id, raw).Err()
}

// RemoveInstance 删除一个实例
func (c *Client) RemoveInstance(ctx context.Context, id string) error {
	return c.rdb.HDel(ctx, c.instancesKey, id).Err()
}

// Ping 健康检查
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// PoolStats 连接池统计
func (c *Client) PoolStats() *redis.PoolStats {
	return c.rdb.PoolStats()
}

// Close 关闭连接
func (c *Client) Close() error {
	if c.rdb != nil {
		return c.rdb.Close()
	}
	return nil
}
