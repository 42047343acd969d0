// internal/pkg/config/config.go
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config 汇总了 reward 引擎所有可配置项。
// 配置加载顺序：YAML 文件 -> 环境变量覆盖。环境变量的优先级更高，
// 以便在容器编排环境中无需改动配置文件即可调整部署参数。
type Config struct {
	Service struct {
		Name        string `yaml:"name"`
		Port        int    `yaml:"port"`
		MetricsPort int    `yaml:"metrics_port"`
		LogLevel    string `yaml:"log_level"`
	} `yaml:"service"`

	MySQL struct {
		DSN string `yaml:"dsn"`
	} `yaml:"mysql"`

	Redis struct {
		Addrs string `yaml:"addrs"` // 逗号分隔，多于一个地址时按集群模式连接
	} `yaml:"redis"`

	Kafka struct {
		Brokers           string `yaml:"brokers"` // 逗号分隔
		NotificationTopic string `yaml:"notification_topic"`
	} `yaml:"kafka"`

	Jaeger struct {
		Endpoint string `yaml:"endpoint"`
	} `yaml:"jaeger"`

	Redeem struct {
		TxTimeout     time.Duration `yaml:"tx_timeout"`      // 单次兑换事务的超时上限
		OfferCacheTTL time.Duration `yaml:"offer_cache_ttl"` // 商店橱窗缓存的 TTL，只用于展示数据
	} `yaml:"redeem"`
}

// Load 从指定路径加载 YAML 配置，path 为空时使用内置默认值。
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, "parse config file")
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.Service.Name = "reward-service"
	cfg.Service.Port = 8084
	cfg.Service.MetricsPort = 8085
	cfg.Service.LogLevel = "info"
	cfg.MySQL.DSN = "root:root@tcp(localhost:3306)/courtside?charset=utf8mb4&parseTime=True&loc=Local"
	cfg.Redis.Addrs = "localhost:6379"
	cfg.Kafka.Brokers = "localhost:9092"
	cfg.Kafka.NotificationTopic = "reward-notifications"
	cfg.Jaeger.Endpoint = "http://localhost:14268/api/traces"
	cfg.Redeem.TxTimeout = 5 * time.Second
	cfg.Redeem.OfferCacheTTL = 30 * time.Second
	return cfg
}

func applyEnvOverrides(cfg *Config) {
	cfg.MySQL.DSN = getEnv("MYSQL_DSN", cfg.MySQL.DSN)
	cfg.Redis.Addrs = getEnv("REDIS_ADDRS", cfg.Redis.Addrs)
	cfg.Kafka.Brokers = getEnv("KAFKA_BROKERS", cfg.Kafka.Brokers)
	cfg.Kafka.NotificationTopic = getEnv("NOTIFICATION_TOPIC", cfg.Kafka.NotificationTopic)
	cfg.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", cfg.Jaeger.Endpoint)
	cfg.Service.LogLevel = getEnv("LOG_LEVEL", cfg.Service.LogLevel)
}

// getEnv 从环境变量中读取配置，不存在时返回 fallback。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
