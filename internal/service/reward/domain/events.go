// internal/service/reward/domain/events.go
package domain

import "time"

// RedemptionConfirmed 是兑换成功后发布的领域事件。
// 通过 Kafka 投递给通知服务和推送网关，属于 best-effort：
// 事件投递失败只记日志，绝不回滚已提交的兑换。
type RedemptionConfirmed struct {
	RedemptionID     string    `json:"redemptionId"`
	UserID           string    `json:"userId"`
	OfferID          string    `json:"offerId"`
	OfferTitle       string    `json:"offerTitle"`
	SponsorName      string    `json:"sponsorName"`
	ConfirmationCode string    `json:"confirmationCode"`
	PointsSpent      int64     `json:"pointsSpent"`
	BonusPoints      int64     `json:"bonusPoints,omitempty"`
	PointsRemaining  int64     `json:"pointsRemaining"`
	RedeemedAt       time.Time `json:"redeemedAt"`
}
