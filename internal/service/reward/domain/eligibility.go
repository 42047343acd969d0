// internal/service/reward/domain/eligibility.go
package domain

import (
	"fmt"
	"time"
)

// Evaluate 是资格校验器：纯函数，无任何副作用。
// 按固定顺序执行八个闸门，第一个失败的闸门决定返回的原因（短路）。
// 闸门顺序是对外契约的一部分，客户端会依赖原因码做引导文案，不允许调整。
//
// 注意这里的检查只是乐观预检：库存、全局上限和余额会在编排器的
// 事务内以条件更新的形式再校验一次，以关闭预检和事务之间的竞态窗口。
func Evaluate(offer *Offer, user *UserAccount, existingUserRedemptionCount int64, now time.Time) error {
	// 1. 上架状态 + 平台审核
	if !offer.IsListed() {
		return newIneligibility(ReasonOfferUnavailable, "offer is not active or not approved")
	}

	// 2. 有效期窗口（闭区间）
	if !offer.InWindow(now) {
		return newIneligibility(ReasonOfferNotCurrentlyActive,
			fmt.Sprintf("offer window is %s ~ %s",
				offer.StartDate.Format(time.RFC3339), offer.EndDate.Format(time.RFC3339)))
	}

	// 3. 库存
	if !offer.HasStock() {
		return newIneligibility(ReasonOutOfStock, "no stock remaining")
	}

	// 4. 全局兑换上限
	if !offer.UnderGlobalCap() {
		return newIneligibility(ReasonRedemptionLimitReached, "offer has reached its total redemption cap")
	}

	// 5. 积分余额（报告缺口数额）
	if user.PointsBalance < offer.PointsCost {
		return NewInsufficientPoints(offer.PointsCost - user.PointsBalance)
	}

	// 6. 技术等级
	if offer.RequiredSkillLevel != nil && !user.SkillLevel.AtLeast(*offer.RequiredSkillLevel) {
		return newIneligibility(ReasonSkillLevelTooLow,
			fmt.Sprintf("requires %s or above", *offer.RequiredSkillLevel))
	}

	// 7. 订阅档位
	if offer.ExclusiveToTier != nil && !user.SubscriptionTier.AtLeast(*offer.ExclusiveToTier) {
		return newIneligibility(ReasonTierNotEligible,
			fmt.Sprintf("exclusive to %s members", *offer.ExclusiveToTier))
	}

	// 8. 单用户上限
	if existingUserRedemptionCount >= offer.MaxRedemptionsPerUser {
		return newIneligibility(ReasonPerUserLimitReached,
			fmt.Sprintf("limit is %d per user", offer.MaxRedemptionsPerUser))
	}

	return nil
}

// DiagnoseOfferGate 在事务内的条件更新没有命中任何行时，把失败还原成
// 具体的拒绝原因。能分类的（下架、过期、售罄、到达上限）按规则类错误
// 返回；都不匹配则说明是没有覆盖到的竞态，按可重试的冲突处理。
func DiagnoseOfferGate(offer *Offer, now time.Time) error {
	if !offer.IsListed() {
		return newIneligibility(ReasonOfferUnavailable, "offer is not active or not approved")
	}
	if !offer.InWindow(now) {
		return newIneligibility(ReasonOfferNotCurrentlyActive, "outside offer validity window")
	}
	if !offer.HasStock() {
		return newIneligibility(ReasonOutOfStock, "no stock remaining")
	}
	if !offer.UnderGlobalCap() {
		return newIneligibility(ReasonRedemptionLimitReached, "offer has reached its total redemption cap")
	}
	return ErrConflict
}
