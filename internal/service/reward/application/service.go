// internal/service/reward/application/service.go
package application

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"courtside/internal/pkg/logger"
	"courtside/internal/service/reward/domain"
	"courtside/internal/service/reward/domain/port"
)

// ErrInvalidStatusFilter 表示兑换历史查询带了未知的状态过滤值。
var ErrInvalidStatusFilter = errors.New("unknown redemption status filter")

// ErrInvalidInput 表示请求缺少必填字段。属于校验类失败（400），
// 和资源不存在的 not-found（404）是两类错误，不能混用哨兵。
var ErrInvalidInput = errors.New("missing required request field")

// redemptionOutcomes 按结果维度统计兑换请求，暴露在 /metrics 上。
var redemptionOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "reward_redemptions_total",
	Help: "Redemption attempts grouped by outcome.",
}, []string{"outcome"})

// RewardService 是兑换引擎的应用服务，负责编排一次兑换的完整流程：
// 幂等检查 -> 只读资格预检 -> 原子事务 -> 异步确认通知。
// 它自身不持有任何跨请求的可变状态，正确性完全由存储层的条件更新保证，
// 因此可以水平扩出任意多个进程实例。
type RewardService struct {
	offerRepo      domain.OfferRepository
	userRepo       domain.UserRepository
	redemptionRepo domain.RedemptionRepository
	store          domain.RedemptionStore

	ruleEngine port.RuleEngine
	notifier   port.NotificationProducer
	offerCache port.OfferCache

	tracer    trace.Tracer
	txTimeout time.Duration
}

// NewRewardService 创建应用服务实例。ruleEngine / notifier / offerCache
// 均可为 nil（例如测试环境），对应能力自动降级。
func NewRewardService(
	offerRepo domain.OfferRepository,
	userRepo domain.UserRepository,
	redemptionRepo domain.RedemptionRepository,
	store domain.RedemptionStore,
	ruleEngine port.RuleEngine,
	notifier port.NotificationProducer,
	offerCache port.OfferCache,
	tracer trace.Tracer,
	txTimeout time.Duration,
) *RewardService {
	if txTimeout <= 0 {
		txTimeout = 5 * time.Second
	}
	return &RewardService{
		offerRepo: offerRepo, userRepo: userRepo, redemptionRepo: redemptionRepo,
		store: store, ruleEngine: ruleEngine, notifier: notifier, offerCache: offerCache,
		tracer: tracer, txTimeout: txTimeout,
	}
}

// Redeem 执行一次积分兑换。
// 资格预检失败时不产生任何变更；事务内的条件更新会再次校验库存、
// 上限和余额，关闭预检与提交之间的竞态窗口。确认通知在提交后异步
// 投递，失败不影响兑换结果。
func (s *RewardService) Redeem(ctx context.Context, req *RedeemRequest) (*RedeemResponse, error) {
	ctx, span := s.tracer.Start(ctx, "reward.Redeem")
	defer span.End()

	span.SetAttributes(
		attribute.String("user.id", req.UserID),
		attribute.String("offer.id", req.OfferID),
		attribute.Bool("redeem.idempotent", req.IdempotencyKey != ""),
	)

	if req.UserID == "" || req.OfferID == "" {
		redemptionOutcomes.WithLabelValues("invalid").Inc()
		return nil, errors.Wrap(ErrInvalidInput, "user and offer id are required")
	}

	// 1. 幂等回放：同一个幂等键的重试直接返回首次的结果，不二次扣费。
	if req.IdempotencyKey != "" {
		existing, err := s.redemptionRepo.FindByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if existing != nil {
			span.AddEvent("Idempotency key replay, returning existing redemption")
			redemptionOutcomes.WithLabelValues("replayed").Inc()
			return s.replayResponse(ctx, existing)
		}
	}

	// 2. 加载活动和用户
	offer, err := s.offerRepo.FindByID(ctx, req.OfferID)
	if err != nil {
		s.recordFailure(span, err)
		return nil, err
	}
	user, err := s.userRepo.FindByID(ctx, req.UserID)
	if err != nil {
		s.recordFailure(span, err)
		return nil, err
	}

	// 3. 只读资格预检（八个固定闸门，短路）
	userCount, err := s.redemptionRepo.CountActiveByUserAndOffer(ctx, req.UserID, req.OfferID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := domain.Evaluate(offer, user, userCount, time.Now()); err != nil {
		s.recordFailure(span, err)
		return nil, err
	}

	// 4. 赞助商自定义规则（可选的第九闸门）
	if err := s.checkCustomRule(ctx, offer, user); err != nil {
		s.recordFailure(span, err)
		return nil, err
	}

	// 5. 原子事务，冲突时有限重试
	cmd := &domain.RedemptionCommand{
		UserID:          req.UserID,
		OfferID:         req.OfferID,
		ShippingAddress: req.ShippingAddress,
		IdempotencyKey:  req.IdempotencyKey,
	}
	outcome, err := s.executeWithRetry(ctx, cmd)
	if errors.Is(err, domain.ErrIdempotencyReplay) {
		// 两个携带同一幂等键的请求同时越过了第 1 步的检查，
		// 输掉插入竞争的一方回查赢家的记录原样返回。
		existing, ferr := s.redemptionRepo.FindByIdempotencyKey(ctx, req.IdempotencyKey)
		if ferr != nil || existing == nil {
			span.RecordError(err)
			return nil, domain.ErrConflict
		}
		redemptionOutcomes.WithLabelValues("replayed").Inc()
		return s.replayResponse(ctx, existing)
	}
	if err != nil {
		s.recordFailure(span, err)
		return nil, err
	}

	span.AddEvent("Redemption committed",
		trace.WithAttributes(attribute.String("redemption.confirmation_code", outcome.Record.ConfirmationCode)))
	redemptionOutcomes.WithLabelValues("success").Inc()

	// 6. 事务提交后异步投递确认通知（fire-and-forget）
	s.dispatchConfirmation(ctx, outcome)

	logger.Ctx(ctx).Info().
		Str("user_id", req.UserID).
		Str("offer_id", req.OfferID).
		Str("confirmation_code", outcome.Record.ConfirmationCode).
		Int64("points_remaining", outcome.NewBalance).
		Msg("redemption committed")

	return &RedeemResponse{
		Redemption:        toRedemptionView(outcome.Record),
		ConfirmationCode:  outcome.Record.ConfirmationCode,
		PointsRemaining:   outcome.NewBalance,
		BonusPointsEarned: outcome.BonusPoints,
	}, nil
}

// executeWithRetry 执行事务核心。只有并发冲突（含事务超时）允许重试，
// 且只重试一次：规则类失败重试毫无意义，必须原样上抛。
func (s *RewardService) executeWithRetry(ctx context.Context, cmd *domain.RedemptionCommand) (*domain.RedemptionOutcome, error) {
	const conflictBackoff = 50 * time.Millisecond

	outcome, err := s.executeOnce(ctx, cmd)
	if !errors.Is(err, domain.ErrConflict) {
		return outcome, err
	}

	select {
	case <-time.After(conflictBackoff):
	case <-ctx.Done():
		return nil, domain.ErrConflict
	}
	return s.executeOnce(ctx, cmd)
}

func (s *RewardService) executeOnce(ctx context.Context, cmd *domain.RedemptionCommand) (*domain.RedemptionOutcome, error) {
	txCtx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()
	return s.store.ExecuteRedemption(txCtx, cmd, newConfirmationCode)
}

// checkCustomRule 评估 offer 上的 CEL 附加规则。
// 规则本身评估失败（语法错误等）按不满足处理并告警：赞助商的配置
// 错误不能变成放行所有人的漏洞。
func (s *RewardService) checkCustomRule(ctx context.Context, offer *domain.Offer, user *domain.UserAccount) error {
	if offer.RuleDefinition == "" || s.ruleEngine == nil {
		return nil
	}

	fact := port.Fact{
		"user": map[string]interface{}{
			"id":             user.ID,
			"skill_level":    string(user.SkillLevel),
			"tier":           string(user.SubscriptionTier),
			"points_balance": user.PointsBalance,
		},
		"offer": map[string]interface{}{
			"id":          offer.ID,
			"sponsor_id":  offer.SponsorID,
			"points_cost": offer.PointsCost,
		},
	}

	ok, err := s.ruleEngine.Evaluate(offer.RuleDefinition, fact)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).
			Str("offer_id", offer.ID).
			Msg("custom rule evaluation failed, treating as not satisfied")
		return &domain.IneligibilityError{Reason: domain.ReasonRuleNotSatisfied, Detail: "rule evaluation failed"}
	}
	if !ok {
		return &domain.IneligibilityError{Reason: domain.ReasonRuleNotSatisfied, Detail: "sponsor rule not satisfied"}
	}
	return nil
}

// replayResponse 用既有记录拼出幂等回放的响应。
// 余额取当前值：回放不产生扣费，客户端拿到的是此刻的真实余额。
func (s *RewardService) replayResponse(ctx context.Context, record *domain.RedemptionRecord) (*RedeemResponse, error) {
	var balance int64
	if user, err := s.userRepo.FindByID(ctx, record.UserID); err == nil {
		balance = user.PointsBalance
	}

	var bonus int64
	if record.BonusPointsEarned != nil {
		bonus = *record.BonusPointsEarned
	}
	return &RedeemResponse{
		Redemption:        toRedemptionView(record),
		ConfirmationCode:  record.ConfirmationCode,
		PointsRemaining:   balance,
		BonusPointsEarned: bonus,
	}, nil
}

// dispatchConfirmation 在独立的 goroutine 里投递确认事件。
// 上下文从请求中剥离：只保留 Span 信息用于链路关联，不继承取消和超时，
// 调用方断开连接不会中断投递；投递失败也只记日志。
func (s *RewardService) dispatchConfirmation(ctx context.Context, outcome *domain.RedemptionOutcome) {
	if s.notifier == nil {
		return
	}

	record := outcome.Record
	event := &domain.RedemptionConfirmed{
		RedemptionID:     record.ID,
		UserID:           record.UserID,
		OfferID:          record.OfferID,
		OfferTitle:       record.OfferTitle,
		SponsorName:      record.SponsorName,
		ConfirmationCode: record.ConfirmationCode,
		PointsSpent:      record.PointsSpent,
		BonusPoints:      outcome.BonusPoints,
		PointsRemaining:  outcome.NewBalance,
		RedeemedAt:       record.CreatedAt,
	}

	spanCtx := trace.SpanContextFromContext(ctx)
	detached := trace.ContextWithSpanContext(context.Background(), spanCtx)

	go func() {
		sendCtx, cancel := context.WithTimeout(detached, 10*time.Second)
		defer cancel()
		if err := s.notifier.NotifyRedemptionConfirmed(sendCtx, event); err != nil {
			logger.Ctx(detached).Error().Err(err).
				Str("redemption_id", record.ID).
				Str("user_id", record.UserID).
				Msg("confirmation notification failed (redemption itself is committed)")
		}
	}()
}

// ListRedemptions 返回调用者的兑换历史，按创建时间倒序。
func (s *RewardService) ListRedemptions(ctx context.Context, userID, statusFilter string) (*ListRedemptionsResponse, error) {
	ctx, span := s.tracer.Start(ctx, "reward.ListRedemptions")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	var status *domain.RedemptionStatus
	if statusFilter != "" {
		st := domain.RedemptionStatus(strings.ToUpper(statusFilter))
		switch st {
		case domain.RedemptionPending, domain.RedemptionProcessing, domain.RedemptionShipped,
			domain.RedemptionDelivered, domain.RedemptionCancelled, domain.RedemptionRefunded:
			status = &st
		default:
			return nil, errors.Wrapf(ErrInvalidStatusFilter, "%q", statusFilter)
		}
	}

	records, err := s.redemptionRepo.ListByUser(ctx, userID, status)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	views := make([]*RedemptionView, len(records))
	for i, r := range records {
		views[i] = toRedemptionView(r)
	}
	return &ListRedemptionsResponse{Redemptions: views}, nil
}

// ListOffers 返回商店橱窗列表，优先走短 TTL 的展示缓存。
// 缓存故障降级为直接读库，写缓存失败也只记日志。
func (s *RewardService) ListOffers(ctx context.Context) (*ListOffersResponse, error) {
	ctx, span := s.tracer.Start(ctx, "reward.ListOffers")
	defer span.End()

	if s.offerCache != nil {
		offers, ok, err := s.offerCache.GetListing(ctx)
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("offer cache read failed, falling back to database")
		} else if ok {
			span.AddEvent("Offer listing served from cache")
			return offersResponse(offers), nil
		}
	}

	offers, err := s.offerRepo.ListRedeemable(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load offer listing")
		return nil, err
	}

	if s.offerCache != nil {
		if err := s.offerCache.SetListing(ctx, offers); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("offer cache write failed")
		}
	}
	return offersResponse(offers), nil
}

func offersResponse(offers []*domain.Offer) *ListOffersResponse {
	views := make([]*OfferView, len(offers))
	for i, o := range offers {
		views[i] = toOfferView(o)
	}
	return &ListOffersResponse{Offers: views}
}

// recordFailure 给 Span 记录错误并按错误类别累加指标。
func (s *RewardService) recordFailure(span trace.Span, err error) {
	span.RecordError(err)
	switch {
	case errors.Is(err, domain.ErrOfferNotFound), errors.Is(err, domain.ErrUserNotFound):
		redemptionOutcomes.WithLabelValues("not_found").Inc()
	case errors.Is(err, domain.ErrConflict):
		span.SetStatus(codes.Error, "concurrency conflict")
		redemptionOutcomes.WithLabelValues("conflict").Inc()
	default:
		if _, ok := domain.AsIneligibility(err); ok {
			redemptionOutcomes.WithLabelValues("ineligible").Inc()
			return
		}
		span.SetStatus(codes.Error, err.Error())
		redemptionOutcomes.WithLabelValues("error").Inc()
	}
}

// newConfirmationCode 生成确认码：毫秒时间戳（36 进制）+ 随机后缀。
// 全局唯一性不依赖这里的随机性，由数据库唯一索引加重试兜底。
func newConfirmationCode() string {
	ts := strings.ToUpper(strconv.FormatInt(time.Now().UnixMilli(), 36))
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
	return fmt.Sprintf("RDM-%s-%s", ts, suffix)
}
