// internal/service/reward/infrastructure/gorm_models.go
package infrastructure

import (
	"time"
)

// UserAccountModel 对应 user_accounts 表。
// 表由外部的用户服务拥有；本引擎只读属性列，写 points_balance 列。
type UserAccountModel struct {
	ID               string `gorm:"primaryKey;size:64"`
	PointsBalance    int64  `gorm:"not null;default:0"`
	SkillLevel       string `gorm:"size:32"`
	SubscriptionTier string `gorm:"size:32"`
}

func (UserAccountModel) TableName() string {
	return "user_accounts"
}

// OfferModel 对应 reward_offers 表。
type OfferModel struct {
	ID          string `gorm:"primaryKey;size:64"`
	SponsorID   string `gorm:"size:64;index"`
	Title       string `gorm:"size:255"`
	Description string `gorm:"type:text"`

	PointsCost  int64
	RetailValue float64 `gorm:"type:decimal(10,2)"`

	Status     string `gorm:"size:32;index"`
	IsApproved bool

	StartDate time.Time
	EndDate   time.Time

	UnlimitedStock     bool
	StockQuantity      *int64
	CurrentRedemptions int64 `gorm:"not null;default:0"`

	MaxTotalRedemptions   *int64
	MaxRedemptionsPerUser int64 `gorm:"not null;default:1"`

	RequiredSkillLevel *string `gorm:"size:32"`
	ExclusiveToTier    *string `gorm:"size:32"`

	AchievementBonusPoints *int64

	RuleDefinition string `gorm:"type:text"`

	RedemptionCount int64 `gorm:"not null;default:0"`
	ClickCount      int64 `gorm:"not null;default:0"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (OfferModel) TableName() string {
	return "reward_offers"
}

// RedemptionRecordModel 对应 redemption_records 表（append-mostly 审计表）。
// confirmation_code 和 idempotency_key 都有唯一索引：确认码的全局唯一
// 由索引加重试保证；幂等键用指针类型，未携带时存 NULL 不参与唯一约束。
type RedemptionRecordModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	UserID    string `gorm:"size:64;index:idx_redemptions_user_offer"`
	OfferID   string `gorm:"size:64;index:idx_redemptions_user_offer"`
	SponsorID string `gorm:"size:64;index"`

	PointsSpent       int64
	BonusPointsEarned *int64
	RetailValue       float64 `gorm:"type:decimal(10,2)"`

	ConfirmationCode string  `gorm:"size:64;uniqueIndex"`
	IdempotencyKey   *string `gorm:"size:128;uniqueIndex"`

	ShippingAddress string `gorm:"type:text"`

	OfferTitle  string `gorm:"size:255"`
	SponsorName string `gorm:"size:255"`

	Status    string `gorm:"size:32;index"`
	CreatedAt time.Time
}

func (RedemptionRecordModel) TableName() string {
	return "redemption_records"
}

// LedgerEntryModel 对应 point_ledger_entries 表。
// 每次余额变动一条流水：兑换扣费为负，奖励入账为正，永不更新。
type LedgerEntryModel struct {
	ID           string `gorm:"primaryKey;size:64"`
	UserID       string `gorm:"size:64;index"`
	Delta        int64
	Reason       string `gorm:"size:32"`
	RedemptionID string `gorm:"size:64;index"`
	CreatedAt    time.Time
}

func (LedgerEntryModel) TableName() string {
	return "point_ledger_entries"
}

// SponsorAggregateModel 对应 sponsor_aggregates 表。
type SponsorAggregateModel struct {
	SponsorID        string  `gorm:"primaryKey;size:64"`
	Name             string  `gorm:"size:255"`
	TotalRedemptions int64   `gorm:"not null;default:0"`
	TotalRevenue     float64 `gorm:"type:decimal(12,2);not null;default:0"`
}

func (SponsorAggregateModel) TableName() string {
	return "sponsor_aggregates"
}
