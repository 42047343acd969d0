// internal/service/reward/domain/errors.go
package domain

import (
	"errors"
	"fmt"
)

// 校验类错误：目标不存在，不做任何变更直接返回。
var (
	ErrOfferNotFound = errors.New("offer not found")
	ErrUserNotFound  = errors.New("user not found")
)

// ErrConflict 表示事务因为并发竞争或超时被放弃，没有产生任何部分效果。
// 这是唯一允许调用方重试的错误类别。
var ErrConflict = errors.New("redemption aborted due to a conflicting concurrent update")

// ErrIdempotencyReplay 是存储层的内部信号：插入记录时撞上了幂等键唯一索引，
// 说明同一个请求已经成功过。编排器捕获后回查既有记录原样返回，绝不二次扣费。
var ErrIdempotencyReplay = errors.New("idempotency key already consumed")

// IneligibilityReason 是资格校验失败的机器可读原因码。
type IneligibilityReason string

const (
	ReasonOfferUnavailable        IneligibilityReason = "OFFER_UNAVAILABLE"
	ReasonOfferNotCurrentlyActive IneligibilityReason = "OFFER_NOT_CURRENTLY_ACTIVE"
	ReasonOutOfStock              IneligibilityReason = "OUT_OF_STOCK"
	ReasonRedemptionLimitReached  IneligibilityReason = "REDEMPTION_LIMIT_REACHED"
	ReasonInsufficientPoints      IneligibilityReason = "INSUFFICIENT_POINTS"
	ReasonSkillLevelTooLow        IneligibilityReason = "SKILL_LEVEL_TOO_LOW"
	ReasonTierNotEligible         IneligibilityReason = "TIER_NOT_ELIGIBLE"
	ReasonPerUserLimitReached     IneligibilityReason = "PER_USER_LIMIT_REACHED"
	ReasonRuleNotSatisfied        IneligibilityReason = "RULE_NOT_SATISFIED"
)

// IneligibilityError 携带具体的拒绝原因。属于规则类失败：
// 调用方拿到它之后不应该自动重试（和 ErrConflict 形成对照）。
type IneligibilityError struct {
	Reason IneligibilityReason
	Detail string

	// PointsNeeded 只在 INSUFFICIENT_POINTS 时有值，表示还差多少积分。
	PointsNeeded int64
}

func (e *IneligibilityError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("not eligible: %s (%s)", e.Reason, e.Detail)
	}
	return fmt.Sprintf("not eligible: %s", e.Reason)
}

// AsIneligibility 从错误链中提取 IneligibilityError。
func AsIneligibility(err error) (*IneligibilityError, bool) {
	var ie *IneligibilityError
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}

func newIneligibility(reason IneligibilityReason, detail string) *IneligibilityError {
	return &IneligibilityError{Reason: reason, Detail: detail}
}

// NewInsufficientPoints 构造带缺口数额的积分不足错误。
func NewInsufficientPoints(shortfall int64) *IneligibilityError {
	return &IneligibilityError{
		Reason:       ReasonInsufficientPoints,
		Detail:       fmt.Sprintf("need %d more points", shortfall),
		PointsNeeded: shortfall,
	}
}
