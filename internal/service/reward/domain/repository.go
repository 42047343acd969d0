// internal/service/reward/domain/repository.go
package domain

import "context"

// OfferRepository 是奖励活动的只读仓储接口。
type OfferRepository interface {
	FindByID(ctx context.Context, id string) (*Offer, error)
	// ListRedeemable 返回当前上架且在有效期内的活动，供商店橱窗展示。
	ListRedeemable(ctx context.Context) ([]*Offer, error)
}

// UserRepository 读取用户账户在本引擎中的投影（余额 + 资格属性）。
type UserRepository interface {
	FindByID(ctx context.Context, id string) (*UserAccount, error)
}

// RedemptionRepository 是兑换审计记录的查询接口。
type RedemptionRepository interface {
	// FindByIdempotencyKey 按幂等键查找既有记录，没有时返回 (nil, nil)。
	FindByIdempotencyKey(ctx context.Context, key string) (*RedemptionRecord, error)
	// CountActiveByUserAndOffer 统计某用户对某活动未取消的兑换次数。
	CountActiveByUserAndOffer(ctx context.Context, userID, offerID string) (int64, error)
	// ListByUser 按创建时间倒序返回某用户的兑换记录，status 为 nil 时不过滤。
	ListByUser(ctx context.Context, userID string, status *RedemptionStatus) ([]*RedemptionRecord, error)
}

// RedemptionCommand 是一次兑换的输入。
type RedemptionCommand struct {
	UserID          string
	OfferID         string
	ShippingAddress string
	IdempotencyKey  string
}

// RedemptionOutcome 是事务提交后的结果。
type RedemptionOutcome struct {
	Record      *RedemptionRecord
	NewBalance  int64
	BonusPoints int64
}

// RedemptionStore 是事务核心的出站端口：在一个原子事务内完成
// 库存/上限的条件再校验、余额的条件扣减、奖励入账、审计记录和账本
// 流水的写入以及赞助商汇总的累加。任何一步失败整个事务回滚。
//
// nextCode 用于生成确认码；撞上唯一索引时存储实现会再次调用它重试。
type RedemptionStore interface {
	ExecuteRedemption(ctx context.Context, cmd *RedemptionCommand, nextCode func() string) (*RedemptionOutcome, error)
}
