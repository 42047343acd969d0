package port

import (
	"context"

	"courtside/internal/service/reward/domain"
)

// NotificationProducer 是兑换确认通知的出站端口。
// 投递发生在事务提交之后，fire-and-forget：失败只记日志，
// 不向调用方暴露，也不触发任何补偿。
type NotificationProducer interface {
	// NotifyRedemptionConfirmed 发送兑换成功的确认通知。
	NotifyRedemptionConfirmed(ctx context.Context, event *domain.RedemptionConfirmed) error

	// Close 释放底层资源。
	Close() error
}
