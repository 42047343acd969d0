// cmd/reward-service/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"courtside/internal/pkg/config"
	"courtside/internal/pkg/logger"
	"courtside/internal/pkg/mq"
	redispkg "courtside/internal/pkg/redis"
	"courtside/internal/pkg/tracing"
	"courtside/internal/service/reward/application"
	"courtside/internal/service/reward/infrastructure"
	"courtside/internal/service/reward/infrastructure/adapter"
	"courtside/internal/service/reward/infrastructure/rule"
	"courtside/internal/service/reward/interfaces"
)

const serviceName = "reward-service"

// main 是 reward 引擎的组装根 (Composition Root)：
// 创建并组装所有依赖项，然后启动 HTTP 服务。
func main() {
	cfg, err := config.Load(getEnv("CONFIG_PATH", ""))
	if err != nil {
		log.Fatalf("FATAL: failed to load config: %v", err)
	}

	logger.Init(serviceName, cfg.Service.LogLevel)

	// 1. 初始化核心技术组件
	tp, err := tracing.InitTracerProvider(serviceName, cfg.Jaeger.Endpoint)
	if err != nil {
		log.Fatalf("failed to initialize tracer provider: %v", err)
	}
	tracer := otel.Tracer(serviceName)

	// TranslateError 让各方言的唯一索引冲突统一翻译成 gorm.ErrDuplicatedKey，
	// 确认码和幂等键的冲突处理依赖它。
	db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatalf("failed to connect to mysql: %v", err)
	}
	if err := db.AutoMigrate(
		&infrastructure.UserAccountModel{},
		&infrastructure.OfferModel{},
		&infrastructure.RedemptionRecordModel{},
		&infrastructure.LedgerEntryModel{},
		&infrastructure.SponsorAggregateModel{},
	); err != nil {
		log.Fatalf("failed to migrate schema: %v", err)
	}

	redisClient, err := redispkg.NewClient(cfg.Redis.Addrs)
	if err != nil {
		log.Fatalf("failed to initialize redis client: %v", err)
	}

	kafkaWriter := mq.NewKafkaWriter(strings.Split(cfg.Kafka.Brokers, ","), cfg.Kafka.NotificationTopic)

	// 2. 组装业务组件
	ruleEngine, err := rule.NewCELRuleEngine()
	if err != nil {
		log.Fatalf("failed to initialize rule engine: %v", err)
	}
	offerCache, err := adapter.NewOfferCacheRedisAdapter(redisClient, cfg.Redeem.OfferCacheTTL)
	if err != nil {
		log.Fatalf("failed to initialize offer cache: %v", err)
	}
	notifier := adapter.NewNotificationKafkaAdapter(kafkaWriter)

	service := application.NewRewardService(
		infrastructure.NewGormOfferRepository(db),
		infrastructure.NewGormUserRepository(db),
		infrastructure.NewGormRedemptionRepository(db),
		infrastructure.NewGormRedemptionStore(db),
		ruleEngine,
		notifier,
		offerCache,
		tracer,
		cfg.Redeem.TxTimeout,
	)

	// 3. 注册路由并启动 HTTP Server
	mux := http.NewServeMux()
	interfaces.NewRewardHandler(service).RegisterRoutes(mux)

	server := &http.Server{Addr: ":" + strconv.Itoa(cfg.Service.Port), Handler: mux}
	go func() {
		log.Printf("✅ %s listening on :%d", serviceName, cfg.Service.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("could not listen on %s: %v", server.Addr, err)
		}
	}()

	// 4. 独立端口暴露健康检查和监控指标
	go func() {
		sideMux := http.NewServeMux()
		sideMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
		sideMux.Handle("/metrics", promhttp.Handler())
		log.Printf("✅ Health and metrics server on :%d", cfg.Service.MetricsPort)
		if err := http.ListenAndServe(":"+strconv.Itoa(cfg.Service.MetricsPort), sideMux); err != nil {
			log.Fatalf("failed to start health/metrics server: %v", err)
		}
	}()

	// 5. 优雅关停
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Printf("Shutting down %s...", serviceName)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 关停顺序：先停接新请求，再冲刷 trace 缓冲，最后释放连接
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Error shutting down http server: %v", err)
	}
	if err := tp.Shutdown(ctx); err != nil {
		log.Printf("Error shutting down tracer provider: %v", err)
	}
	if err := notifier.Close(); err != nil {
		log.Printf("Error closing kafka writer: %v", err)
	}
	if err := redisClient.Close(); err != nil {
		log.Printf("Error closing redis client: %v", err)
	}

	log.Printf("%s gracefully shut down.", serviceName)
}

// getEnv 从环境变量中读取配置，不存在时返回 fallback。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
