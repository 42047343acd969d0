// internal/service/reward/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"courtside/internal/service/reward/domain"
)

// GormOfferRepository 是 domain.OfferRepository 的 GORM 实现（只读）。
type GormOfferRepository struct {
	db *gorm.DB
}

func NewGormOfferRepository(db *gorm.DB) *GormOfferRepository {
	return &GormOfferRepository{db: db}
}

func (r *GormOfferRepository) FindByID(ctx context.Context, id string) (*domain.Offer, error) {
	var model OfferModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOfferNotFound
		}
		return nil, err
	}
	return ToDomainOffer(&model), nil
}

// ListRedeemable 返回上架、已审核且在有效期内的活动，供商店橱窗使用。
func (r *GormOfferRepository) ListRedeemable(ctx context.Context) ([]*domain.Offer, error) {
	now := time.Now()
	var models []*OfferModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND is_approved = ?", string(domain.OfferStatusActive), true).
		Where("start_date <= ? AND end_date >= ?", now, now).
		Order("points_cost ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	offers := make([]*domain.Offer, len(models))
	for i, m := range models {
		offers[i] = ToDomainOffer(m)
	}
	return offers, nil
}

// GormUserRepository 读取用户账户投影。
type GormUserRepository struct {
	db *gorm.DB
}

func NewGormUserRepository(db *gorm.DB) *GormUserRepository {
	return &GormUserRepository{db: db}
}

func (r *GormUserRepository) FindByID(ctx context.Context, id string) (*domain.UserAccount, error) {
	var model UserAccountModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	return ToDomainUserAccount(&model), nil
}

// GormRedemptionRepository 是兑换审计记录的查询仓储。
type GormRedemptionRepository struct {
	db *gorm.DB
}

func NewGormRedemptionRepository(db *gorm.DB) *GormRedemptionRepository {
	return &GormRedemptionRepository{db: db}
}

func (r *GormRedemptionRepository) FindByIdempotencyKey(ctx context.Context, key string) (*domain.RedemptionRecord, error) {
	var model RedemptionRecordModel
	err := r.db.WithContext(ctx).First(&model, "idempotency_key = ?", key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return ToDomainRedemption(&model), nil
}

func (r *GormRedemptionRepository) CountActiveByUserAndOffer(ctx context.Context, userID, offerID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&RedemptionRecordModel{}).
		Where("user_id = ? AND offer_id = ? AND status <> ?", userID, offerID, string(domain.RedemptionCancelled)).
		Count(&count).Error
	return count, err
}

func (r *GormRedemptionRepository) ListByUser(ctx context.Context, userID string, status *domain.RedemptionStatus) ([]*domain.RedemptionRecord, error) {
	query := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if status != nil {
		query = query.Where("status = ?", string(*status))
	}

	var models []*RedemptionRecordModel
	if err := query.Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}

	records := make([]*domain.RedemptionRecord, len(models))
	for i, m := range models {
		records[i] = ToDomainRedemption(m)
	}
	return records, nil
}
