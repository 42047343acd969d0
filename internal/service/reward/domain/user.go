// internal/service/reward/domain/user.go
package domain

// SkillLevel 是用户在教练平台上的技术等级。
type SkillLevel string

const (
	SkillBeginner     SkillLevel = "BEGINNER"
	SkillIntermediate SkillLevel = "INTERMEDIATE"
	SkillAdvanced     SkillLevel = "ADVANCED"
	SkillPro          SkillLevel = "PRO"
)

// SubscriptionTier 是用户的订阅档位。
type SubscriptionTier string

const (
	TierFree    SubscriptionTier = "FREE"
	TierTrial   SubscriptionTier = "TRIAL"
	TierPro     SubscriptionTier = "PRO"
	TierPremium SubscriptionTier = "PREMIUM"
)

// 序数表只在这里定义一次，所有资格比较都必须经过 Rank 方法，
// 禁止在调用方重新推导大小关系。
var skillRanks = map[SkillLevel]int{
	SkillBeginner:     0,
	SkillIntermediate: 1,
	SkillAdvanced:     2,
	SkillPro:          3,
}

var tierRanks = map[SubscriptionTier]int{
	TierFree:    0,
	TierTrial:   1,
	TierPro:     2,
	TierPremium: 3,
}

// Rank 返回技术等级的序数，未知等级按最低档处理。
func (s SkillLevel) Rank() int {
	if r, ok := skillRanks[s]; ok {
		return r
	}
	return 0
}

// AtLeast 判断当前等级是否不低于 required。
func (s SkillLevel) AtLeast(required SkillLevel) bool {
	return s.Rank() >= required.Rank()
}

// Rank 返回订阅档位的序数，未知档位按 FREE 处理。
func (t SubscriptionTier) Rank() int {
	if r, ok := tierRanks[t]; ok {
		return r
	}
	return 0
}

// AtLeast 判断当前档位是否不低于 required。
func (t SubscriptionTier) AtLeast(required SubscriptionTier) bool {
	return t.Rank() >= required.Rank()
}

// UserAccount 是用户账户在 reward 引擎中的投影。
// 账户本体由外部的用户服务拥有；本引擎只读取技术等级和订阅档位，
// 并且是 PointsBalance 的唯一写入方（通过编排器的条件更新）。
type UserAccount struct {
	ID               string
	PointsBalance    int64 // 不变量：永远 >= 0，由条件 UPDATE 保证
	SkillLevel       SkillLevel
	SubscriptionTier SubscriptionTier
}
