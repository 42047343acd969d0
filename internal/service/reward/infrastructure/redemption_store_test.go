package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"courtside/internal/service/reward/domain"
)

func setupRewardTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// 单连接串行化，避免内存库在并发事务下报 busy
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&UserAccountModel{},
		&OfferModel{},
		&RedemptionRecordModel{},
		&LedgerEntryModel{},
		&SponsorAggregateModel{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedUser(t *testing.T, db *gorm.DB, id string, balance int64) {
	t.Helper()
	um := UserAccountModel{
		ID:               id,
		PointsBalance:    balance,
		SkillLevel:       string(domain.SkillIntermediate),
		SubscriptionTier: string(domain.TierPro),
	}
	if err := db.Create(&um).Error; err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
}

func seedOffer(t *testing.T, db *gorm.DB, mutate func(*OfferModel)) *OfferModel {
	t.Helper()
	now := time.Now()
	om := &OfferModel{
		ID:                    uuid.NewString(),
		SponsorID:             "sponsor-1",
		Title:                 "Signature Basketball",
		PointsCost:            100,
		RetailValue:           29.99,
		Status:                string(domain.OfferStatusActive),
		IsApproved:            true,
		StartDate:             now.Add(-24 * time.Hour),
		EndDate:               now.Add(24 * time.Hour),
		UnlimitedStock:        true,
		MaxRedemptionsPerUser: 1,
	}
	if mutate != nil {
		mutate(om)
	}
	if err := db.Create(om).Error; err != nil {
		t.Fatalf("seed offer: %v", err)
	}
	return om
}

func seedSponsor(t *testing.T, db *gorm.DB, id, name string) {
	t.Helper()
	sm := SponsorAggregateModel{SponsorID: id, Name: name}
	if err := db.Create(&sm).Error; err != nil {
		t.Fatalf("seed sponsor %s: %v", id, err)
	}
}

func sequentialCodes(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func TestExecuteRedemptionHappyPath(t *testing.T) {
	db := setupRewardTestDB(t)
	store := NewGormRedemptionStore(db)
	ctx := context.Background()

	bonus := int64(10)
	stock := int64(5)
	seedUser(t, db, "user-1", 150)
	seedSponsor(t, db, "sponsor-1", "Hoops Gear Co.")
	om := seedOffer(t, db, func(o *OfferModel) {
		o.UnlimitedStock = false
		o.StockQuantity = &stock
		o.AchievementBonusPoints = &bonus
	})

	key := "req-abc"
	outcome, err := store.ExecuteRedemption(ctx, &domain.RedemptionCommand{
		UserID:         "user-1",
		OfferID:        om.ID,
		IdempotencyKey: key,
	}, sequentialCodes("RDM-T"))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}

	// 余额：150 - 100 + 10 = 60
	if outcome.NewBalance != 60 {
		t.Errorf("NewBalance = %d, want 60", outcome.NewBalance)
	}
	if outcome.BonusPoints != 10 {
		t.Errorf("BonusPoints = %d, want 10", outcome.BonusPoints)
	}

	rec := outcome.Record
	if rec.PointsSpent != 100 || rec.Status != domain.RedemptionPending {
		t.Errorf("record = %+v, want 100 points spent and PENDING", rec)
	}
	if rec.ConfirmationCode == "" {
		t.Error("confirmation code must be assigned")
	}
	if rec.OfferTitle != "Signature Basketball" || rec.SponsorName != "Hoops Gear Co." {
		t.Errorf("snapshot = %q / %q, want offer title and sponsor name", rec.OfferTitle, rec.SponsorName)
	}

	var um UserAccountModel
	if err := db.First(&um, "id = ?", "user-1").Error; err != nil {
		t.Fatalf("read user: %v", err)
	}
	if um.PointsBalance != 60 {
		t.Errorf("stored balance = %d, want 60", um.PointsBalance)
	}

	var got OfferModel
	if err := db.First(&got, "id = ?", om.ID).Error; err != nil {
		t.Fatalf("read offer: %v", err)
	}
	if got.CurrentRedemptions != 1 || got.RedemptionCount != 1 || got.ClickCount != 1 {
		t.Errorf("counters = %d/%d/%d, want 1/1/1",
			got.CurrentRedemptions, got.RedemptionCount, got.ClickCount)
	}

	// 账本必须是完整的两腿：-100 SPEND 和 +10 BONUS，不轧差
	var entries []LedgerEntryModel
	if err := db.Order("delta ASC").Find(&entries, "redemption_id = ?", rec.ID).Error; err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("ledger entries = %d, want 2", len(entries))
	}
	if entries[0].Delta != -100 || entries[0].Reason != string(domain.LedgerReasonSpend) {
		t.Errorf("spend leg = %+v", entries[0])
	}
	if entries[1].Delta != 10 || entries[1].Reason != string(domain.LedgerReasonBonus) {
		t.Errorf("bonus leg = %+v", entries[1])
	}

	var sm SponsorAggregateModel
	if err := db.First(&sm, "sponsor_id = ?", "sponsor-1").Error; err != nil {
		t.Fatalf("read sponsor: %v", err)
	}
	if sm.TotalRedemptions != 1 || sm.TotalRevenue != 29.99 {
		t.Errorf("sponsor aggregate = %d / %.2f, want 1 / 29.99", sm.TotalRedemptions, sm.TotalRevenue)
	}
}

func TestExecuteRedemptionWithoutBonus(t *testing.T) {
	db := setupRewardTestDB(t)
	store := NewGormRedemptionStore(db)

	seedUser(t, db, "user-1", 150)
	om := seedOffer(t, db, nil)

	outcome, err := store.ExecuteRedemption(context.Background(), &domain.RedemptionCommand{
		UserID:  "user-1",
		OfferID: om.ID,
	}, sequentialCodes("RDM-T"))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if outcome.NewBalance != 50 || outcome.BonusPoints != 0 {
		t.Errorf("outcome = %d / %d, want 50 / 0", outcome.NewBalance, outcome.BonusPoints)
	}
	if outcome.Record.BonusPointsEarned != nil {
		t.Error("BonusPointsEarned must stay nil when the offer has no bonus")
	}

	// 没有奖励就只有扣费一腿
	var count int64
	if err := db.Model(&LedgerEntryModel{}).
		Where("redemption_id = ?", outcome.Record.ID).Count(&count).Error; err != nil {
		t.Fatalf("count ledger: %v", err)
	}
	if count != 1 {
		t.Errorf("ledger entries = %d, want 1", count)
	}

	// 没有既有汇总行时首个兑换要落一行初始汇总
	var sm SponsorAggregateModel
	if err := db.First(&sm, "sponsor_id = ?", "sponsor-1").Error; err != nil {
		t.Fatalf("read sponsor: %v", err)
	}
	if sm.TotalRedemptions != 1 {
		t.Errorf("sponsor total = %d, want 1", sm.TotalRedemptions)
	}
}

func TestExecuteRedemptionNotFound(t *testing.T) {
	db := setupRewardTestDB(t)
	store := NewGormRedemptionStore(db)
	ctx := context.Background()

	seedUser(t, db, "user-1", 150)
	om := seedOffer(t, db, nil)

	_, err := store.ExecuteRedemption(ctx, &domain.RedemptionCommand{
		UserID: "user-1", OfferID: "no-such-offer",
	}, sequentialCodes("RDM-T"))
	if !errors.Is(err, domain.ErrOfferNotFound) {
		t.Errorf("missing offer: got %v, want ErrOfferNotFound", err)
	}

	_, err = store.ExecuteRedemption(ctx, &domain.RedemptionCommand{
		UserID: "ghost", OfferID: om.ID,
	}, sequentialCodes("RDM-T"))
	if !errors.Is(err, domain.ErrUserNotFound) {
		t.Errorf("missing user: got %v, want ErrUserNotFound", err)
	}

	// 失败的事务必须整体回滚，活动计数器不许留下痕迹
	var got OfferModel
	if err := db.First(&got, "id = ?", om.ID).Error; err != nil {
		t.Fatalf("read offer: %v", err)
	}
	if got.CurrentRedemptions != 0 {
		t.Errorf("current_redemptions = %d after rollback, want 0", got.CurrentRedemptions)
	}
}

func TestExecuteRedemptionInsufficientBalanceLeavesNoTrace(t *testing.T) {
	db := setupRewardTestDB(t)
	store := NewGormRedemptionStore(db)

	seedUser(t, db, "user-1", 50)
	om := seedOffer(t, db, nil) // 价格 100

	_, err := store.ExecuteRedemption(context.Background(), &domain.RedemptionCommand{
		UserID: "user-1", OfferID: om.ID,
	}, sequentialCodes("RDM-T"))

	ie, ok := domain.AsIneligibility(err)
	if !ok || ie.Reason != domain.ReasonInsufficientPoints {
		t.Fatalf("got %v, want INSUFFICIENT_POINTS", err)
	}
	if ie.PointsNeeded != 50 {
		t.Errorf("PointsNeeded = %d, want 50", ie.PointsNeeded)
	}

	var um UserAccountModel
	if err := db.First(&um, "id = ?", "user-1").Error; err != nil {
		t.Fatalf("read user: %v", err)
	}
	if um.PointsBalance != 50 {
		t.Errorf("balance = %d, want untouched 50", um.PointsBalance)
	}
	var got OfferModel
	if err := db.First(&got, "id = ?", om.ID).Error; err != nil {
		t.Fatalf("read offer: %v", err)
	}
	if got.CurrentRedemptions != 0 {
		t.Errorf("current_redemptions = %d, want 0 after rollback", got.CurrentRedemptions)
	}
	var records, ledger int64
	db.Model(&RedemptionRecordModel{}).Count(&records)
	db.Model(&LedgerEntryModel{}).Count(&ledger)
	if records != 0 || ledger != 0 {
		t.Errorf("left %d records / %d ledger rows, want none", records, ledger)
	}
}

func TestExecuteRedemptionSoldOut(t *testing.T) {
	db := setupRewardTestDB(t)
	store := NewGormRedemptionStore(db)

	stock := int64(1)
	seedUser(t, db, "user-1", 500)
	om := seedOffer(t, db, func(o *OfferModel) {
		o.UnlimitedStock = false
		o.StockQuantity = &stock
		o.CurrentRedemptions = 1
	})

	_, err := store.ExecuteRedemption(context.Background(), &domain.RedemptionCommand{
		UserID: "user-1", OfferID: om.ID,
	}, sequentialCodes("RDM-T"))

	ie, ok := domain.AsIneligibility(err)
	if !ok || ie.Reason != domain.ReasonOutOfStock {
		t.Fatalf("got %v, want OUT_OF_STOCK", err)
	}
}

func TestExecuteRedemptionPerUserLimitInsideTx(t *testing.T) {
	db := setupRewardTestDB(t)
	store := NewGormRedemptionStore(db)
	ctx := context.Background()

	seedUser(t, db, "user-1", 1000)
	om := seedOffer(t, db, func(o *OfferModel) { o.MaxRedemptionsPerUser = 1 })

	if _, err := store.ExecuteRedemption(ctx, &domain.RedemptionCommand{
		UserID: "user-1", OfferID: om.ID,
	}, sequentialCodes("RDM-A")); err != nil {
		t.Fatalf("first redeem: %v", err)
	}

	_, err := store.ExecuteRedemption(ctx, &domain.RedemptionCommand{
		UserID: "user-1", OfferID: om.ID,
	}, sequentialCodes("RDM-B"))
	ie, ok := domain.AsIneligibility(err)
	if !ok || ie.Reason != domain.ReasonPerUserLimitReached {
		t.Fatalf("got %v, want PER_USER_LIMIT_REACHED", err)
	}

	// 已取消的记录让出名额
	if err := db.Model(&RedemptionRecordModel{}).
		Where("user_id = ?", "user-1").
		Update("status", string(domain.RedemptionCancelled)).Error; err != nil {
		t.Fatalf("cancel record: %v", err)
	}
	if _, err := store.ExecuteRedemption(ctx, &domain.RedemptionCommand{
		UserID: "user-1", OfferID: om.ID,
	}, sequentialCodes("RDM-C")); err != nil {
		t.Fatalf("redeem after cancellation: %v", err)
	}
}

func TestExecuteRedemptionIdempotencyReplay(t *testing.T) {
	db := setupRewardTestDB(t)
	store := NewGormRedemptionStore(db)
	ctx := context.Background()

	bonus := int64(10)
	seedUser(t, db, "user-1", 150)
	om := seedOffer(t, db, func(o *OfferModel) {
		o.MaxRedemptionsPerUser = 5
		o.AchievementBonusPoints = &bonus
	})

	cmd := &domain.RedemptionCommand{
		UserID:         "user-1",
		OfferID:        om.ID,
		IdempotencyKey: "retry-key",
	}
	first, err := store.ExecuteRedemption(ctx, cmd, sequentialCodes("RDM-A"))
	if err != nil {
		t.Fatalf("first redeem: %v", err)
	}

	_, err = store.ExecuteRedemption(ctx, cmd, sequentialCodes("RDM-B"))
	if !errors.Is(err, domain.ErrIdempotencyReplay) {
		t.Fatalf("replay: got %v, want ErrIdempotencyReplay", err)
	}

	// 重放撞上幂等键后整个事务回滚：不二次扣费、不二次计数
	var um UserAccountModel
	if err := db.First(&um, "id = ?", "user-1").Error; err != nil {
		t.Fatalf("read user: %v", err)
	}
	if um.PointsBalance != first.NewBalance {
		t.Errorf("balance = %d, want %d (charged exactly once)", um.PointsBalance, first.NewBalance)
	}
	var got OfferModel
	if err := db.First(&got, "id = ?", om.ID).Error; err != nil {
		t.Fatalf("read offer: %v", err)
	}
	if got.CurrentRedemptions != 1 {
		t.Errorf("current_redemptions = %d, want 1", got.CurrentRedemptions)
	}
	var records int64
	db.Model(&RedemptionRecordModel{}).Count(&records)
	if records != 1 {
		t.Errorf("records = %d, want 1", records)
	}
}

func TestExecuteRedemptionReplayBeatsGateRejections(t *testing.T) {
	// 首次兑换之后，库存、单用户名额和余额全都进入兑换后状态。
	// 同键重放必须在闸门之前被识别，否则会被误判成
	// OUT_OF_STOCK / INSUFFICIENT_POINTS 这类不可重试的拒绝。
	db := setupRewardTestDB(t)
	store := NewGormRedemptionStore(db)
	ctx := context.Background()

	stock := int64(1)
	seedUser(t, db, "user-1", 100)
	om := seedOffer(t, db, func(o *OfferModel) {
		o.StockQuantity = &stock
		o.UnlimitedStock = false
		o.MaxRedemptionsPerUser = 1
	})

	cmd := &domain.RedemptionCommand{
		UserID:         "user-1",
		OfferID:        om.ID,
		IdempotencyKey: "replay-after-sellout",
	}
	if _, err := store.ExecuteRedemption(ctx, cmd, sequentialCodes("RDM-A")); err != nil {
		t.Fatalf("first redeem: %v", err)
	}

	// 库存已清零、名额已占满、余额已扣光——重放依然要返回重放哨兵。
	_, err := store.ExecuteRedemption(ctx, cmd, sequentialCodes("RDM-B"))
	if !errors.Is(err, domain.ErrIdempotencyReplay) {
		t.Fatalf("replay against sold-out state: got %v, want ErrIdempotencyReplay", err)
	}

	// 换一个键的请求照常吃到库存拒绝，闸门本身没有被绕过。
	_, err = store.ExecuteRedemption(ctx, &domain.RedemptionCommand{
		UserID:         "user-1",
		OfferID:        om.ID,
		IdempotencyKey: "fresh-key",
	}, sequentialCodes("RDM-C"))
	ie, ok := domain.AsIneligibility(err)
	if !ok || ie.Reason != domain.ReasonOutOfStock {
		t.Fatalf("fresh key: got %v, want OUT_OF_STOCK", err)
	}
}

func TestExecuteRedemptionConfirmationCodeCollision(t *testing.T) {
	db := setupRewardTestDB(t)
	store := NewGormRedemptionStore(db)
	ctx := context.Background()

	seedUser(t, db, "user-1", 1000)
	seedUser(t, db, "user-2", 1000)
	om := seedOffer(t, db, nil)

	if _, err := store.ExecuteRedemption(ctx, &domain.RedemptionCommand{
		UserID: "user-1", OfferID: om.ID,
	}, func() string { return "RDM-TAKEN" }); err != nil {
		t.Fatalf("first redeem: %v", err)
	}

	// 第二次先撞上已占用的码，换码重试后成功
	codes := []string{"RDM-TAKEN", "RDM-FRESH"}
	i := 0
	outcome, err := store.ExecuteRedemption(ctx, &domain.RedemptionCommand{
		UserID: "user-2", OfferID: om.ID,
	}, func() string { c := codes[i%len(codes)]; i++; return c })
	if err != nil {
		t.Fatalf("redeem with collision: %v", err)
	}
	if outcome.Record.ConfirmationCode != "RDM-FRESH" {
		t.Errorf("code = %s, want RDM-FRESH", outcome.Record.ConfirmationCode)
	}
}

func TestExecuteRedemptionCodeExhaustionIsConflict(t *testing.T) {
	db := setupRewardTestDB(t)
	store := NewGormRedemptionStore(db)
	ctx := context.Background()

	seedUser(t, db, "user-1", 1000)
	seedUser(t, db, "user-2", 1000)
	om := seedOffer(t, db, nil)

	if _, err := store.ExecuteRedemption(ctx, &domain.RedemptionCommand{
		UserID: "user-1", OfferID: om.ID,
	}, func() string { return "RDM-STUCK" }); err != nil {
		t.Fatalf("first redeem: %v", err)
	}

	_, err := store.ExecuteRedemption(ctx, &domain.RedemptionCommand{
		UserID: "user-2", OfferID: om.ID,
	}, func() string { return "RDM-STUCK" })
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("got %v, want ErrConflict after retry exhaustion", err)
	}
}

// 八个人抢三件库存，恰好三个成功，落库的计数和流水都必须对得上。
func TestExecuteRedemptionStockRace(t *testing.T) {
	db := setupRewardTestDB(t)
	store := NewGormRedemptionStore(db)
	ctx := context.Background()

	const contenders = 8
	stock := int64(3)
	om := seedOffer(t, db, func(o *OfferModel) {
		o.UnlimitedStock = false
		o.StockQuantity = &stock
	})
	for i := 0; i < contenders; i++ {
		seedUser(t, db, fmt.Sprintf("user-%d", i), 1000)
	}

	results := make([]error, contenders)
	var g errgroup.Group
	for i := 0; i < contenders; i++ {
		i := i
		g.Go(func() error {
			_, err := store.ExecuteRedemption(ctx, &domain.RedemptionCommand{
				UserID:  fmt.Sprintf("user-%d", i),
				OfferID: om.ID,
			}, sequentialCodes(fmt.Sprintf("RDM-%d", i)))
			results[i] = err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}

	var wins, soldOut int
	for i, err := range results {
		switch {
		case err == nil:
			wins++
		default:
			ie, ok := domain.AsIneligibility(err)
			if !ok || ie.Reason != domain.ReasonOutOfStock {
				t.Errorf("contender %d: got %v, want OUT_OF_STOCK", i, err)
				continue
			}
			soldOut++
		}
	}
	if wins != int(stock) || soldOut != contenders-int(stock) {
		t.Fatalf("wins/soldOut = %d/%d, want %d/%d", wins, soldOut, stock, contenders-int(stock))
	}

	var got OfferModel
	if err := db.First(&got, "id = ?", om.ID).Error; err != nil {
		t.Fatalf("read offer: %v", err)
	}
	if got.CurrentRedemptions != stock {
		t.Errorf("current_redemptions = %d, want %d", got.CurrentRedemptions, stock)
	}
	var records int64
	db.Model(&RedemptionRecordModel{}).Where("offer_id = ?", om.ID).Count(&records)
	if records != stock {
		t.Errorf("records = %d, want %d", records, stock)
	}
}

// 同一个用户并发抢同一个单人限购的活动，只能成功一次。
func TestExecuteRedemptionPerUserRace(t *testing.T) {
	db := setupRewardTestDB(t)
	store := NewGormRedemptionStore(db)
	ctx := context.Background()

	seedUser(t, db, "user-1", 10000)
	om := seedOffer(t, db, func(o *OfferModel) { o.MaxRedemptionsPerUser = 1 })

	const attempts = 4
	results := make([]error, attempts)
	var g errgroup.Group
	for i := 0; i < attempts; i++ {
		i := i
		g.Go(func() error {
			_, err := store.ExecuteRedemption(ctx, &domain.RedemptionCommand{
				UserID:  "user-1",
				OfferID: om.ID,
			}, sequentialCodes(fmt.Sprintf("RDM-%d", i)))
			results[i] = err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}

	var wins int
	for i, err := range results {
		if err == nil {
			wins++
			continue
		}
		ie, ok := domain.AsIneligibility(err)
		if !ok || ie.Reason != domain.ReasonPerUserLimitReached {
			t.Errorf("attempt %d: got %v, want PER_USER_LIMIT_REACHED", i, err)
		}
	}
	if wins != 1 {
		t.Fatalf("wins = %d, want exactly 1", wins)
	}

	var um UserAccountModel
	if err := db.First(&um, "id = ?", "user-1").Error; err != nil {
		t.Fatalf("read user: %v", err)
	}
	if um.PointsBalance != 10000-100 {
		t.Errorf("balance = %d, want charged exactly once", um.PointsBalance)
	}
}

// 活动后续的修改不追溯已经落库的快照。
func TestRedemptionRecordSnapshotIsImmutable(t *testing.T) {
	db := setupRewardTestDB(t)
	store := NewGormRedemptionStore(db)

	seedUser(t, db, "user-1", 500)
	om := seedOffer(t, db, nil)

	outcome, err := store.ExecuteRedemption(context.Background(), &domain.RedemptionCommand{
		UserID: "user-1", OfferID: om.ID,
	}, sequentialCodes("RDM-T"))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}

	if err := db.Model(&OfferModel{}).Where("id = ?", om.ID).
		Updates(map[string]interface{}{"title": "Renamed", "points_cost": 999}).Error; err != nil {
		t.Fatalf("update offer: %v", err)
	}

	var rec RedemptionRecordModel
	if err := db.First(&rec, "id = ?", outcome.Record.ID).Error; err != nil {
		t.Fatalf("read record: %v", err)
	}
	if rec.OfferTitle != "Signature Basketball" || rec.PointsSpent != 100 {
		t.Errorf("snapshot drifted: title=%q spent=%d", rec.OfferTitle, rec.PointsSpent)
	}
}
