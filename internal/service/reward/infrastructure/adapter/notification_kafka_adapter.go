// internal/service/reward/infrastructure/adapter/notification_kafka_adapter.go
package adapter

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"courtside/internal/pkg/mq"
	"courtside/internal/service/reward/domain"
)

// NotificationKafkaAdapter 实现 port.NotificationProducer。
// 事件以 userID 为分区键写入通知 topic，同一用户的确认消息保持有序。
// 投递语义是 best-effort：调用方（应用服务）在独立 goroutine 里调用它，
// 失败只记日志，已提交的兑换绝不因此回滚。
type NotificationKafkaAdapter struct {
	writer *kafka.Writer
}

// NewNotificationKafkaAdapter 创建通知生产者适配器。
func NewNotificationKafkaAdapter(writer *kafka.Writer) *NotificationKafkaAdapter {
	return &NotificationKafkaAdapter{writer: writer}
}

// NotifyRedemptionConfirmed 发送兑换确认事件。
// mq.ProduceMessage 会把当前追踪上下文注入消息头，下游消费者可以接续链路。
func (a *NotificationKafkaAdapter) NotifyRedemptionConfirmed(ctx context.Context, event *domain.RedemptionConfirmed) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshal redemption confirmed event")
	}
	return mq.ProduceMessage(ctx, a.writer, []byte(event.UserID), eventBytes)
}

// Close 关闭底层的 Kafka writer。
func (a *NotificationKafkaAdapter) Close() error {
	return a.writer.Close()
}
