// internal/service/reward/infrastructure/redemption_store.go
package infrastructure

import (
	"context"
	stderrors "errors"
	"time"

	sqldriver "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"courtside/internal/service/reward/domain"
)

// codeRetryLimit 是确认码撞上唯一索引后换码重试的上限。
const codeRetryLimit = 3

// GormRedemptionStore 是事务核心（domain.RedemptionStore）的 GORM 实现。
//
// 并发控制完全落在数据库上：库存、全局上限和余额都用条件 UPDATE
// 再校验一次，语句命中的行锁持有到提交。两个请求争抢最后一件库存时，
// 后到的事务会在 WHERE 条件上落空并整体回滚，绝不会双双成功。
// 进程内没有任何锁——多实例部署时进程内锁保护不了任何东西。
type GormRedemptionStore struct {
	db *gorm.DB
}

func NewGormRedemptionStore(db *gorm.DB) *GormRedemptionStore {
	return &GormRedemptionStore{db: db}
}

// ExecuteRedemption 在单个原子事务内完成一次兑换的全部写操作。
// 任何一步失败都回滚整个事务，不存在部分效果。
func (s *GormRedemptionStore) ExecuteRedemption(ctx context.Context, cmd *domain.RedemptionCommand, nextCode func() string) (*domain.RedemptionOutcome, error) {
	var outcome *domain.RedemptionOutcome

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()

		// 幂等键前置锁定读。必须在所有闸门之前：重放时余额、库存和
		// 单用户计数都已经是兑换后的状态，先跑闸门会把重放误判成
		// INSUFFICIENT_POINTS / OUT_OF_STOCK 这类不可重试的拒绝。
		// 插入时的冲突分辨保留，兜住两个同键事务并发到此都未命中的竞态。
		if cmd.IdempotencyKey != "" {
			var existing RedemptionRecordModel
			lookupErr := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				First(&existing, "idempotency_key = ?", cmd.IdempotencyKey).Error
			if lookupErr == nil {
				return domain.ErrIdempotencyReplay
			}
			if !stderrors.Is(lookupErr, gorm.ErrRecordNotFound) {
				return classifyTxError(lookupErr)
			}
		}

		// a. 活动闸门 + 三个计数器，一条条件 UPDATE 完成。
		//    WHERE 子句重演了上架、窗口、库存、全局上限四个闸门，
		//    关闭只读预检和事务之间的竞态窗口；命中行的锁持有到提交，
		//    同一活动的兑换在这里串行化。
		res := tx.Model(&OfferModel{}).
			Where("id = ? AND status = ? AND is_approved = ?", cmd.OfferID, string(domain.OfferStatusActive), true).
			Where("start_date <= ? AND end_date >= ?", now, now).
			Where("unlimited_stock = ? OR current_redemptions < stock_quantity", true).
			Where("max_total_redemptions IS NULL OR current_redemptions < max_total_redemptions").
			Updates(map[string]interface{}{
				"current_redemptions": gorm.Expr("current_redemptions + 1"),
				"redemption_count":    gorm.Expr("redemption_count + 1"),
				"click_count":         gorm.Expr("click_count + 1"),
				"updated_at":          now,
			})
		if res.Error != nil {
			return classifyTxError(res.Error)
		}
		if res.RowsAffected == 0 {
			// 没有命中任何行：还原出具体的拒绝原因。
			var om OfferModel
			if err := tx.First(&om, "id = ?", cmd.OfferID).Error; err != nil {
				if stderrors.Is(err, gorm.ErrRecordNotFound) {
					return domain.ErrOfferNotFound
				}
				return classifyTxError(err)
			}
			return domain.DiagnoseOfferGate(ToDomainOffer(&om), now)
		}

		// 重新读取活动行，拿到本事务内的最新计数和快照字段。
		var om OfferModel
		if err := tx.First(&om, "id = ?", cmd.OfferID).Error; err != nil {
			return classifyTxError(err)
		}
		offer := ToDomainOffer(&om)

		// b. 单用户上限。统计发生在活动行锁之后，同一活动的并发兑换
		//    已经串行，这里的 count-then-insert 不再有竞态。
		var userCount int64
		if err := tx.Model(&RedemptionRecordModel{}).
			Where("user_id = ? AND offer_id = ? AND status <> ?",
				cmd.UserID, cmd.OfferID, string(domain.RedemptionCancelled)).
			Count(&userCount).Error; err != nil {
			return classifyTxError(err)
		}
		if userCount >= offer.MaxRedemptionsPerUser {
			return &domain.IneligibilityError{
				Reason: domain.ReasonPerUserLimitReached,
				Detail: "per-user redemption limit reached",
			}
		}

		// c. 余额条件扣减：只有 points_balance >= cost 才会命中，
		//    余额永远不可能被扣成负数。
		res = tx.Model(&UserAccountModel{}).
			Where("id = ? AND points_balance >= ?", cmd.UserID, offer.PointsCost).
			Update("points_balance", gorm.Expr("points_balance - ?", offer.PointsCost))
		if res.Error != nil {
			return classifyTxError(res.Error)
		}
		if res.RowsAffected == 0 {
			var um UserAccountModel
			if err := tx.First(&um, "id = ?", cmd.UserID).Error; err != nil {
				if stderrors.Is(err, gorm.ErrRecordNotFound) {
					return domain.ErrUserNotFound
				}
				return classifyTxError(err)
			}
			return domain.NewInsufficientPoints(offer.PointsCost - um.PointsBalance)
		}

		// d. 成就奖励入账。独立的一条 UPDATE，和扣费不轧差，
		//    下游分析要能看到完整的两腿。
		bonus := offer.BonusPoints()
		if bonus > 0 {
			if err := tx.Model(&UserAccountModel{}).
				Where("id = ?", cmd.UserID).
				Update("points_balance", gorm.Expr("points_balance + ?", bonus)).Error; err != nil {
				return classifyTxError(err)
			}
		}

		// 赞助商名称用于记录上的展示快照。
		var sponsorName string
		var sm SponsorAggregateModel
		if err := tx.First(&sm, "sponsor_id = ?", offer.SponsorID).Error; err == nil {
			sponsorName = sm.Name
		} else if !stderrors.Is(err, gorm.ErrRecordNotFound) {
			return classifyTxError(err)
		}

		// e. 插入审计记录。RetailValue / 价格 / 标题都是此刻的快照，
		//    之后活动变更不会改写历史。
		record := &RedemptionRecordModel{
			ID:              uuid.New().String(),
			UserID:          cmd.UserID,
			OfferID:         cmd.OfferID,
			SponsorID:       offer.SponsorID,
			PointsSpent:     offer.PointsCost,
			RetailValue:     offer.RetailValue,
			ShippingAddress: cmd.ShippingAddress,
			OfferTitle:      offer.Title,
			SponsorName:     sponsorName,
			Status:          string(domain.RedemptionPending),
			CreatedAt:       now,
		}
		if bonus > 0 {
			record.BonusPointsEarned = &bonus
		}
		if cmd.IdempotencyKey != "" {
			key := cmd.IdempotencyKey
			record.IdempotencyKey = &key
		}
		if err := s.insertRecord(tx, record, cmd.IdempotencyKey, nextCode); err != nil {
			return err
		}

		// f. 账本流水：扣费一腿，奖励一腿。
		entries := []LedgerEntryModel{{
			ID:           uuid.New().String(),
			UserID:       cmd.UserID,
			Delta:        -offer.PointsCost,
			Reason:       string(domain.LedgerReasonSpend),
			RedemptionID: record.ID,
			CreatedAt:    now,
		}}
		if bonus > 0 {
			entries = append(entries, LedgerEntryModel{
				ID:           uuid.New().String(),
				UserID:       cmd.UserID,
				Delta:        bonus,
				Reason:       string(domain.LedgerReasonBonus),
				RedemptionID: record.ID,
				CreatedAt:    now,
			})
		}
		if err := tx.Create(&entries).Error; err != nil {
			return classifyTxError(err)
		}

		// g. 赞助商汇总累加（首次兑换时落一行初始汇总）。
		res = tx.Model(&SponsorAggregateModel{}).
			Where("sponsor_id = ?", offer.SponsorID).
			Updates(map[string]interface{}{
				"total_redemptions": gorm.Expr("total_redemptions + 1"),
				"total_revenue":     gorm.Expr("total_revenue + ?", offer.RetailValue),
			})
		if res.Error != nil {
			return classifyTxError(res.Error)
		}
		if res.RowsAffected == 0 {
			if err := tx.Create(&SponsorAggregateModel{
				SponsorID:        offer.SponsorID,
				TotalRedemptions: 1,
				TotalRevenue:     offer.RetailValue,
			}).Error; err != nil {
				return classifyTxError(err)
			}
		}

		// 读回提交后的余额返回给调用方。
		var um UserAccountModel
		if err := tx.Select("points_balance").First(&um, "id = ?", cmd.UserID).Error; err != nil {
			return classifyTxError(err)
		}

		outcome = &domain.RedemptionOutcome{
			Record:      ToDomainRedemption(record),
			NewBalance:  um.PointsBalance,
			BonusPoints: bonus,
		}
		return nil
	})

	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// insertRecord 插入审计记录，处理两种唯一索引冲突：
//   - 幂等键冲突：同一请求已经成功过，返回 ErrIdempotencyReplay 让整个
//     事务回滚（本次的计数和扣费全部撤销），由应用层回查赢家的记录；
//   - 确认码冲突：换一个码重试，有限次数内不成功按冲突处理。
func (s *GormRedemptionStore) insertRecord(tx *gorm.DB, record *RedemptionRecordModel, idempotencyKey string, nextCode func() string) error {
	for attempt := 0; attempt < codeRetryLimit; attempt++ {
		record.ConfirmationCode = nextCode()
		err := tx.Create(record).Error
		if err == nil {
			return nil
		}
		if !isDuplicateKey(err) {
			return classifyTxError(err)
		}

		if idempotencyKey != "" {
			// 用锁定读越过快照，确认冲突是否来自幂等键。
			var existing RedemptionRecordModel
			lookupErr := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				First(&existing, "idempotency_key = ?", idempotencyKey).Error
			if lookupErr == nil {
				return domain.ErrIdempotencyReplay
			}
			if !stderrors.Is(lookupErr, gorm.ErrRecordNotFound) {
				return classifyTxError(lookupErr)
			}
		}
		// 冲突来自确认码，换码继续。
	}
	return errors.Wrap(domain.ErrConflict, "could not allocate a unique confirmation code")
}

// isDuplicateKey 判断错误是否为唯一索引冲突。
// 优先依赖 GORM 的错误翻译（需要在 Open 时开启 TranslateError），
// 并对 MySQL 的 1062 做一层兜底。
func isDuplicateKey(err error) bool {
	if stderrors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *sqldriver.MySQLError
	if stderrors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// classifyTxError 把基础设施层错误归类到错误分类学：
// 超时、取消、死锁和锁等待超时都按可重试的 ErrConflict 上抛，
// 其余保持原样作为需要排查的意外错误。
func classifyTxError(err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return errors.Wrap(domain.ErrConflict, "transaction timed out, presumed aborted")
	}
	var mysqlErr *sqldriver.MySQLError
	if stderrors.As(err, &mysqlErr) {
		// 1213: deadlock victim, 1205: lock wait timeout
		if mysqlErr.Number == 1213 || mysqlErr.Number == 1205 {
			return errors.Wrap(domain.ErrConflict, mysqlErr.Message)
		}
	}
	return err
}
