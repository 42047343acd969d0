// internal/pkg/redis/client.go
package redis

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Client 是对 go-redis 的一层薄封装。
// reward 引擎中 Redis 只承担展示数据的短 TTL 缓存：账本余额和库存计数
// 的权威状态只存在于数据库，绝不允许进入缓存（否则会掩盖并发冲突）。
type Client struct {
	rdb redis.UniversalClient
}

// NewClient 根据地址列表创建客户端。
// 传入多个地址（逗号分隔）时按 Cluster 模式连接，单个地址按普通模式连接。
func NewClient(addrs string) (*Client, error) {
	list := strings.Split(addrs, ",")

	var rdb redis.UniversalClient
	if len(list) > 1 {
		rdb = redis.NewClusterClient(&redis.ClusterOptions{Addrs: list})
	} else {
		rdb = redis.NewClient(&redis.Options{Addr: list[0]})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "redis ping failed")
	}

	return &Client{rdb: rdb}, nil
}

// NewClientFromRDB 从一个已有的底层连接构造 Client，测试时配合 miniredis 使用。
func NewClientFromRDB(rdb redis.UniversalClient) *Client {
	return &Client{rdb: rdb}
}

// GetClient 暴露底层客户端，供需要 pipeline 等高级操作的调用方使用。
func (c *Client) GetClient() redis.UniversalClient {
	return c.rdb
}

// GetBytes 读取一个 key，key 不存在时返回 (nil, false, nil)。
func (c *Client) GetBytes(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// SetBytes 带 TTL 写入一个 key。ttl 必须为正值，防止展示缓存退化为永久状态。
func (c *Client) SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("display cache requires a positive ttl")
	}
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// Delete 删除指定 key，用于主动失效。
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

// Close 关闭底层连接。
func (c *Client) Close() error {
	return c.rdb.Close()
}
