package port

import (
	"context"

	"courtside/internal/service/reward/domain"
)

// OfferCache 是商店橱窗列表的短 TTL 展示缓存。
// 只允许缓存展示数据：编排器的事务路径绝不读取它，
// 余额和库存计数的权威状态永远只在数据库里。
type OfferCache interface {
	// GetListing 返回缓存的橱窗列表，未命中时 ok 为 false。
	GetListing(ctx context.Context) (offers []*domain.Offer, ok bool, err error)

	// SetListing 带 TTL 写入橱窗列表。
	SetListing(ctx context.Context, offers []*domain.Offer) error

	// Invalidate 主动失效，活动变更的运营工具可以调用。
	Invalidate(ctx context.Context) error
}
