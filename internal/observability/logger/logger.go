package logger

import (
	"context"
	"fmt"
	"strings"
	"time"

	obscontext "github.com/smallbiznis/allowance/internal/observability/context"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config configures the zap logger.
type Config struct {
	ServiceName string
	Environment string
	Version     string
	Level       string
	Format      string
	Debug       bool

	// Sampling applies outside debug mode only. Zero values fall back to
	// 100 entries per second, then every 100th.
	SamplingInitial    int
	SamplingThereafter int
	SamplingWindow     time.Duration

	IncludeCaller       bool
	IncludeStackOnError bool
}

// New builds the process logger and installs it as the zap global. It is
// flushed on shutdown.
func New(lc fx.Lifecycle, cfg Config) (*zap.Logger, error) {
	zapCfg, err := buildZapConfig(cfg)
	if err != nil {
		return nil, err
	}

	var opts []zap.Option
	if cfg.IncludeCaller {
		opts = append(opts, zap.AddCaller())
	}
	if cfg.IncludeStackOnError {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	if !cfg.Debug {
		opts = append(opts, zap.WrapCore(sampled(cfg)))
	}

	log, err := zapCfg.Build(opts...)
	if err != nil {
		return nil, err
	}
	log = log.With(
		zap.String("service", valueOr(cfg.ServiceName, "allowance")),
		zap.String("env", strings.TrimSpace(cfg.Environment)),
		zap.String("version", strings.TrimSpace(cfg.Version)),
	)
	zap.ReplaceGlobals(log)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				_ = log.Sync()
				return nil
			},
		})
	}
	return log, nil
}

func buildZapConfig(cfg Config) (zap.Config, error) {
	out := zap.NewProductionConfig()
	if cfg.Debug {
		out = zap.NewDevelopmentConfig()
	}
	out.Sampling = nil
	out.Encoding = "json"
	if strings.EqualFold(strings.TrimSpace(cfg.Format), "console") {
		out.Encoding = "console"
	}
	out.EncoderConfig.TimeKey = "ts"
	out.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	out.OutputPaths = []string{"stdout"}
	out.ErrorOutputPaths = []string{"stderr"}

	level := valueOr(cfg.Level, "info")
	if err := out.Level.UnmarshalText([]byte(level)); err != nil {
		return out, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return out, nil
}

func sampled(cfg Config) func(zapcore.Core) zapcore.Core {
	initial, thereafter, window := cfg.SamplingInitial, cfg.SamplingThereafter, cfg.SamplingWindow
	if initial <= 0 {
		initial = 100
	}
	if thereafter <= 0 {
		thereafter = 100
	}
	if window <= 0 {
		window = time.Second
	}
	return func(core zapcore.Core) zapcore.Core {
		return zapcore.NewSamplerWithOptions(core, window, initial, thereafter)
	}
}

func valueOr(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}

// Field constructors shared by the access log and the enforcement path.
func Workspace(id string) zap.Field { return zap.String("workspace_id", id) }
func Operation(op string) zap.Field { return zap.String("operation", op) }
func Feature(name string) zap.Field { return zap.String("feature", name) }
func Method(method string) zap.Field { return zap.String("method", method) }

// ForEnforcement scopes base to one metering call.
func ForEnforcement(ctx context.Context, base *zap.Logger, workspaceID, op, method string) *zap.Logger {
	log := WithContext(ctx, base)
	if log == nil {
		return nil
	}
	fields := []zap.Field{Operation(op)}
	// the request context already carries the workspace when the middleware resolved it
	if obscontext.WorkspaceIDFromContext(ctx) == "" && workspaceID != "" {
		fields = append(fields, Workspace(workspaceID))
	}
	if method != "" {
		fields = append(fields, Method(method))
	}
	return log.With(fields...)
}

// FromContext returns the global logger enriched with request-scoped fields.
func FromContext(ctx context.Context) *zap.Logger {
	return WithContext(ctx, zap.L())
}

// WithContext adds correlation fields from ctx to base.
func WithContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	if ctx == nil || base == nil {
		return base
	}

	var fields []zap.Field
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	if workspaceID := obscontext.WorkspaceIDFromContext(ctx); workspaceID != "" {
		fields = append(fields, Workspace(workspaceID))
	}
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}
