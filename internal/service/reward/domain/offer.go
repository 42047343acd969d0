// internal/service/reward/domain/offer.go
package domain

import "time"

// OfferStatus 定义了赞助商奖励的上架状态。
type OfferStatus string

const (
	OfferStatusActive   OfferStatus = "ACTIVE"
	OfferStatusPaused   OfferStatus = "PAUSED"
	OfferStatusArchived OfferStatus = "ARCHIVED" // 软下架。有兑换记录引用的 offer 永远不物理删除
)

// Offer 是一个赞助商供给的、可以用积分兑换的奖励。
// Offer 由赞助商侧的运营工具创建和编辑；在本引擎中，只有编排器
// 可以修改 CurrentRedemptions / RedemptionCount / ClickCount 三个计数器。
type Offer struct {
	ID          string
	SponsorID   string
	Title       string
	Description string

	PointsCost  int64   // 兑换价格（积分），必须为正
	RetailValue float64 // 市场价值，入账到赞助商营收汇总

	Status     OfferStatus
	IsApproved bool // 平台审核标记，和 Status 同时生效才可兑换

	StartDate time.Time // 有效期窗口，闭区间
	EndDate   time.Time

	// 库存模型：UnlimitedStock 为 false 时 StockQuantity 生效，
	// 不变量 CurrentRedemptions <= StockQuantity 由数据库条件更新保证。
	UnlimitedStock     bool
	StockQuantity      *int64
	CurrentRedemptions int64

	// MaxTotalRedemptions 是跨所有用户的全局上限（可选）。
	MaxTotalRedemptions *int64
	// MaxRedemptionsPerUser 是单个用户的上限，按该用户未取消的兑换记录数统计。
	MaxRedemptionsPerUser int64

	RequiredSkillLevel *SkillLevel
	ExclusiveToTier    *SubscriptionTier

	// AchievementBonusPoints 兑换成功后额外赠送的积分（可选），
	// 和扣费是两笔独立的账本记录，不做轧差。
	AchievementBonusPoints *int64

	// RuleDefinition 是赞助商自定义的附加资格规则（CEL 表达式，可选）。
	// 留空表示没有附加规则。在八个固定闸门全部通过后才评估。
	RuleDefinition string

	// 冗余计数器，供赞助商侧报表展示用。
	RedemptionCount int64
	ClickCount      int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsListed 判断 offer 是否处于可兑换的上架状态。
func (o *Offer) IsListed() bool {
	return o.Status == OfferStatusActive && o.IsApproved
}

// InWindow 判断 now 是否落在有效期窗口内（闭区间）。
func (o *Offer) InWindow(now time.Time) bool {
	return !now.Before(o.StartDate) && !now.After(o.EndDate)
}

// HasStock 判断是否还有剩余库存。
func (o *Offer) HasStock() bool {
	if o.UnlimitedStock {
		return true
	}
	return o.StockQuantity != nil && o.CurrentRedemptions < *o.StockQuantity
}

// UnderGlobalCap 判断全局兑换上限是否还有余量。
func (o *Offer) UnderGlobalCap() bool {
	if o.MaxTotalRedemptions == nil {
		return true
	}
	return o.CurrentRedemptions < *o.MaxTotalRedemptions
}

// BonusPoints 返回兑换成功后应赠送的积分，未配置时为 0。
func (o *Offer) BonusPoints() int64 {
	if o.AchievementBonusPoints == nil {
		return 0
	}
	return *o.AchievementBonusPoints
}
