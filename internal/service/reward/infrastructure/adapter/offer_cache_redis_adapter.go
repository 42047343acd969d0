// internal/service/reward/infrastructure/adapter/offer_cache_redis_adapter.go
package adapter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"courtside/internal/pkg/redis"
	"courtside/internal/service/reward/domain"
)

const offerListingKey = "reward:offers:listing"

// OfferCacheRedisAdapter 实现 port.OfferCache：商店橱窗列表的短 TTL 缓存。
//
// 边界约束：这里只允许缓存展示数据。余额和库存计数的权威状态只在
// 数据库里，编排器的事务路径不会经过这个适配器——缓存这类状态会
// 掩盖本引擎必须暴露的并发冲突。橱窗里看到的剩余库存允许短暂偏旧，
// 真正下单时事务内的条件更新才是裁决者。
type OfferCacheRedisAdapter struct {
	client *redis.Client
	ttl    time.Duration
}

// NewOfferCacheRedisAdapter 创建橱窗缓存适配器。ttl 必须为正值。
func NewOfferCacheRedisAdapter(client *redis.Client, ttl time.Duration) (*OfferCacheRedisAdapter, error) {
	if ttl <= 0 {
		return nil, errors.New("offer display cache requires a positive ttl")
	}
	return &OfferCacheRedisAdapter{client: client, ttl: ttl}, nil
}

// GetListing 读取缓存的橱窗列表，未命中时 ok 为 false。
func (a *OfferCacheRedisAdapter) GetListing(ctx context.Context) ([]*domain.Offer, bool, error) {
	data, found, err := a.client.GetBytes(ctx, offerListingKey)
	if err != nil {
		return nil, false, errors.Wrap(err, "read offer listing cache")
	}
	if !found {
		return nil, false, nil
	}

	var offers []*domain.Offer
	if err := json.Unmarshal(data, &offers); err != nil {
		// 缓存内容损坏按未命中处理，同时清掉脏数据
		_ = a.client.Delete(ctx, offerListingKey)
		return nil, false, nil
	}
	return offers, true, nil
}

// SetListing 带 TTL 写入橱窗列表。
func (a *OfferCacheRedisAdapter) SetListing(ctx context.Context, offers []*domain.Offer) error {
	data, err := json.Marshal(offers)
	if err != nil {
		return errors.Wrap(err, "marshal offer listing")
	}
	return a.client.SetBytes(ctx, offerListingKey, data, a.ttl)
}

// Invalidate 主动失效橱窗缓存。
func (a *OfferCacheRedisAdapter) Invalidate(ctx context.Context) error {
	return a.client.Delete(ctx, offerListingKey)
}
