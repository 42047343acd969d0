// internal/service/reward/domain/redemption.go
package domain

import "time"

// RedemptionStatus 定义了兑换记录的履约状态。
// 本引擎只负责以 PENDING 创建记录；后续的状态流转属于
// 履约工作流（发货、签收、退款），不在 reward 引擎范围内。
type RedemptionStatus string

const (
	RedemptionPending    RedemptionStatus = "PENDING"
	RedemptionProcessing RedemptionStatus = "PROCESSING"
	RedemptionShipped    RedemptionStatus = "SHIPPED"
	RedemptionDelivered  RedemptionStatus = "DELIVERED"
	RedemptionCancelled  RedemptionStatus = "CANCELLED"
	RedemptionRefunded   RedemptionStatus = "REFUNDED"
)

// IsTerminal 判断状态是否为终态。
func (s RedemptionStatus) IsTerminal() bool {
	switch s {
	case RedemptionDelivered, RedemptionCancelled, RedemptionRefunded:
		return true
	}
	return false
}

// CountsTowardUserCap 判断该状态的记录是否计入单用户兑换上限。
// 已取消的兑换把名额还给用户，其余状态都占用名额。
func (s RedemptionStatus) CountsTowardUserCap() bool {
	return s != RedemptionCancelled
}

// RedemptionRecord 是一次兑换的不可变审计记录（append-mostly）。
// PointsSpent / RetailValue / OfferTitle / SponsorName 都是事务提交时刻的
// 快照：之后赞助商修改 offer 不会改写历史记录，报表也绝不回查活动表。
type RedemptionRecord struct {
	ID        string
	UserID    string
	OfferID   string
	SponsorID string

	PointsSpent       int64
	BonusPointsEarned *int64
	RetailValue       float64

	// ConfirmationCode 是全局唯一、可以口头/短信分享的确认码。
	// 唯一性由数据库唯一索引加冲突重试保证，而不是寄希望于碰撞概率。
	ConfirmationCode string

	// IdempotencyKey 由客户端在重试场景下携带，非空时唯一。
	IdempotencyKey string

	ShippingAddress string // 可选的不透明履约信息，本引擎不解析

	// 展示快照，列表查询直接使用，避免和活动表做实时 join。
	OfferTitle  string
	SponsorName string

	Status    RedemptionStatus
	CreatedAt time.Time
}
