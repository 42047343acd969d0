// internal/service/reward/application/dto.go
package application

import (
	"time"

	"courtside/internal/service/reward/domain"
)

// RedeemRequest 是发起兑换的请求体。
// UserID 不在请求体里：由外部认证层解出调用者身份后通过 header 注入。
type RedeemRequest struct {
	UserID          string // 来自认证上下文
	OfferID         string `json:"offer_id"`
	ShippingAddress string `json:"shipping_address,omitempty"`
	IdempotencyKey  string // 来自 X-Idempotency-Key header，可选
}

// RedeemResponse 是兑换成功的响应体。
type RedeemResponse struct {
	Redemption        *RedemptionView `json:"redemption"`
	ConfirmationCode  string          `json:"confirmation_code"`
	PointsRemaining   int64           `json:"points_remaining"`
	BonusPointsEarned int64           `json:"bonus_points_earned"`
}

// RedemptionView 是兑换记录的对外投影。
// 展示字段取自记录上的快照列，不回查活动表。
type RedemptionView struct {
	ID               string    `json:"id"`
	OfferID          string    `json:"offer_id"`
	OfferTitle       string    `json:"offer_title"`
	SponsorName      string    `json:"sponsor_name"`
	PointsSpent      int64     `json:"points_spent"`
	BonusPoints      int64     `json:"bonus_points,omitempty"`
	RetailValue      float64   `json:"retail_value"`
	ConfirmationCode string    `json:"confirmation_code"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
}

// ListRedemptionsResponse 是兑换历史查询的响应体。
type ListRedemptionsResponse struct {
	Redemptions []*RedemptionView `json:"redemptions"`
}

// OfferView 是商店橱窗里单个活动的投影。
type OfferView struct {
	ID             string  `json:"id"`
	SponsorID      string  `json:"sponsor_id"`
	Title          string  `json:"title"`
	Description    string  `json:"description"`
	PointsCost     int64   `json:"points_cost"`
	RetailValue    float64 `json:"retail_value"`
	EndDate        string  `json:"end_date"`
	StockRemaining *int64  `json:"stock_remaining,omitempty"` // 无限库存时省略
}

// ListOffersResponse 是商店橱窗的响应体。
type ListOffersResponse struct {
	Offers []*OfferView `json:"offers"`
}

func toRedemptionView(r *domain.RedemptionRecord) *RedemptionView {
	v := &RedemptionView{
		ID:               r.ID,
		OfferID:          r.OfferID,
		OfferTitle:       r.OfferTitle,
		SponsorName:      r.SponsorName,
		PointsSpent:      r.PointsSpent,
		RetailValue:      r.RetailValue,
		ConfirmationCode: r.ConfirmationCode,
		Status:           string(r.Status),
		CreatedAt:        r.CreatedAt,
	}
	if r.BonusPointsEarned != nil {
		v.BonusPoints = *r.BonusPointsEarned
	}
	return v
}

func toOfferView(o *domain.Offer) *OfferView {
	v := &OfferView{
		ID:          o.ID,
		SponsorID:   o.SponsorID,
		Title:       o.Title,
		Description: o.Description,
		PointsCost:  o.PointsCost,
		RetailValue: o.RetailValue,
		EndDate:     o.EndDate.Format(time.RFC3339),
	}
	if !o.UnlimitedStock && o.StockQuantity != nil {
		remaining := *o.StockQuantity - o.CurrentRedemptions
		if remaining < 0 {
			remaining = 0
		}
		v.StockRemaining = &remaining
	}
	return v
}
