// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// base 是全局的根 logger。所有通过 Ctx 获取的 logger 都派生自它。
var base = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Init 在服务启动时初始化全局 logger。
// service 会作为固定字段附加到每一条日志上，方便日志聚合平台按服务过滤。
func Init(service, level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	base = zerolog.New(os.Stdout).
		Level(lvl).
		With().
		Timestamp().
		Str("service", service).
		Logger()
}

// Ctx 返回一个绑定了追踪上下文的 logger。
// 如果 ctx 中存在有效的 Span，会自动附加 trace_id / span_id 字段，
// 使日志可以和 Jaeger 中的链路相互关联。
func Ctx(ctx context.Context) *zerolog.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return &base
	}
	l := base.With().
		Str("trace_id", spanCtx.TraceID().String()).
		Str("span_id", spanCtx.SpanID().String()).
		Logger()
	return &l
}
