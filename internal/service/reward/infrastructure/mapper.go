// internal/service/reward/infrastructure/mapper.go
package infrastructure

import (
	"courtside/internal/service/reward/domain"
)

// ToDomainUserAccount 将数据库模型转换为领域模型。
func ToDomainUserAccount(model *UserAccountModel) *domain.UserAccount {
	if model == nil {
		return nil
	}
	return &domain.UserAccount{
		ID:               model.ID,
		PointsBalance:    model.PointsBalance,
		SkillLevel:       domain.SkillLevel(model.SkillLevel),
		SubscriptionTier: domain.SubscriptionTier(model.SubscriptionTier),
	}
}

// ToDomainOffer 将数据库模型转换为领域模型。
func ToDomainOffer(model *OfferModel) *domain.Offer {
	if model == nil {
		return nil
	}
	offer := &domain.Offer{
		ID:                     model.ID,
		SponsorID:              model.SponsorID,
		Title:                  model.Title,
		Description:            model.Description,
		PointsCost:             model.PointsCost,
		RetailValue:            model.RetailValue,
		Status:                 domain.OfferStatus(model.Status),
		IsApproved:             model.IsApproved,
		StartDate:              model.StartDate,
		EndDate:                model.EndDate,
		UnlimitedStock:         model.UnlimitedStock,
		StockQuantity:          model.StockQuantity,
		CurrentRedemptions:     model.CurrentRedemptions,
		MaxTotalRedemptions:    model.MaxTotalRedemptions,
		MaxRedemptionsPerUser:  model.MaxRedemptionsPerUser,
		AchievementBonusPoints: model.AchievementBonusPoints,
		RuleDefinition:         model.RuleDefinition,
		RedemptionCount:        model.RedemptionCount,
		ClickCount:             model.ClickCount,
		CreatedAt:              model.CreatedAt,
		UpdatedAt:              model.UpdatedAt,
	}
	if model.RequiredSkillLevel != nil {
		level := domain.SkillLevel(*model.RequiredSkillLevel)
		offer.RequiredSkillLevel = &level
	}
	if model.ExclusiveToTier != nil {
		tier := domain.SubscriptionTier(*model.ExclusiveToTier)
		offer.ExclusiveToTier = &tier
	}
	return offer
}

// ToDomainRedemption 将数据库模型转换为领域模型。
func ToDomainRedemption(model *RedemptionRecordModel) *domain.RedemptionRecord {
	if model == nil {
		return nil
	}
	record := &domain.RedemptionRecord{
		ID:                model.ID,
		UserID:            model.UserID,
		OfferID:           model.OfferID,
		SponsorID:         model.SponsorID,
		PointsSpent:       model.PointsSpent,
		BonusPointsEarned: model.BonusPointsEarned,
		RetailValue:       model.RetailValue,
		ConfirmationCode:  model.ConfirmationCode,
		ShippingAddress:   model.ShippingAddress,
		OfferTitle:        model.OfferTitle,
		SponsorName:       model.SponsorName,
		Status:            domain.RedemptionStatus(model.Status),
		CreatedAt:         model.CreatedAt,
	}
	if model.IdempotencyKey != nil {
		record.IdempotencyKey = *model.IdempotencyKey
	}
	return record
}
