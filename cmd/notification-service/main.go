// cmd/notification-service/main.go
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"courtside/internal/pkg/mq"
	"courtside/internal/pkg/tracing"
	"courtside/internal/service/reward/domain"
)

const (
	serviceName     = "notification-service"
	consumerGroupID = "reward-notification-group"
)

var (
	tracer            = otel.Tracer(serviceName)
	jaegerEndpoint    = getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces")
	kafkaBrokers      = getEnv("KAFKA_BROKERS", "localhost:9092")
	notificationTopic = getEnv("NOTIFICATION_TOPIC", "reward-notifications")
)

// notification-service 消费兑换确认事件，调用外部渠道（邮件/短信）
// 通知用户。它处在事务边界之外：这里的任何失败都不会影响已提交的兑换。
func main() {
	tp, err := tracing.InitTracerProvider(serviceName, jaegerEndpoint)
	if err != nil {
		log.Fatalf("failed to initialize tracer provider: %v", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Printf("Error shutting down tracer provider: %v", err)
		}
	}()

	reader := mq.NewKafkaReader(strings.Split(kafkaBrokers, ","), notificationTopic, consumerGroupID)
	defer reader.Close()

	log.Printf("✅ Notification Service started as a Kafka consumer for topic '%s'", notificationTopic)

	// 有界并发消费：慢渠道不会无限堆积 goroutine
	g := new(errgroup.Group)
	g.SetLimit(16)

	for {
		msg, err := reader.ReadMessage(context.Background())
		if err != nil {
			log.Printf("ERROR: could not read message: %v. Retrying...", err)
			time.Sleep(time.Second)
			continue
		}
		g.Go(func() error {
			processConfirmation(msg)
			return nil
		})
	}
}

// processConfirmation 处理单条确认事件。
func processConfirmation(msg kafka.Message) {
	// 从消息头恢复追踪上下文，把投递动作接到兑换链路的末端
	ctx := mq.ExtractTraceContext(context.Background(), msg.Headers)

	spanOpts := []trace.SpanStartOption{
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
			attribute.String("messaging.kafka.message.key", string(msg.Key)),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	}
	ctx, span := tracer.Start(ctx, "notification-service.ProcessConfirmation", spanOpts...)
	defer span.End()

	var event domain.RedemptionConfirmed
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		log.Printf("ERROR: failed to unmarshal confirmation event: %v. Message skipped.", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}

	span.SetAttributes(
		attribute.String("user.id", event.UserID),
		attribute.String("redemption.confirmation_code", event.ConfirmationCode),
	)

	// 调用外部通知渠道。渠道接入被抽象在这一层之后，
	// 这里保留一个模拟的投递耗时。
	log.Printf("Sending confirmation to user %s: you redeemed %q, confirmation code %s",
		event.UserID, event.OfferTitle, event.ConfirmationCode)
	time.Sleep(50 * time.Millisecond)
	span.AddEvent("Confirmation delivered")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
