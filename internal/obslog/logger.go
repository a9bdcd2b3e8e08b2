// Package obslog provides context-carried structured logging shared by
// every module runtime in the coordination core.
package obslog

import (
	"context"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey string

const loggerKey contextKey = "obslog.logger"

// Prepare creates a new logger for the named module and stores it in ctx.
func Prepare(ctx context.Context, module string) (context.Context, *zap.Logger) {
	logger := NewFromEnv(module)
	return context.WithValue(ctx, loggerKey, logger), logger
}

// FromContext retrieves the logger stored in ctx, or a best-effort
// standalone logger if none is present. Never returns nil.
func FromContext(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return NewFromEnv("unknown")
	}
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return NewFromEnv("unknown")
}

// With returns a derived context carrying a logger with the given fields
// appended.
func With(ctx context.Context, fields ...zap.Field) context.Context {
	logger := FromContext(ctx).With(fields...)
	return context.WithValue(ctx, loggerKey, logger)
}

// WithModule tags the context logger with a "module" field.
func WithModule(ctx context.Context, module string) context.Context {
	return With(ctx, zap.String("module", module))
}

// WithTenant tags the context logger with a "tenant_id" field.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return With(ctx, zap.String("tenant_id", tenantID))
}

// NewProduction builds a JSON production logger, ISO8601 timestamps.
func NewProduction() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// NewDevelopment builds a human-readable console logger.
func NewDevelopment() *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// NewFromEnv picks production or development encoding based on TITAN_ENV,
// and tags every entry with the module name.
func NewFromEnv(module string) *zap.Logger {
	var base *zap.Logger
	env := os.Getenv("TITAN_ENV")
	if env == "development" || env == "dev" {
		base = NewDevelopment()
	} else {
		base = NewProduction()
	}
	return base.With(zap.String("module", module))
}

// Sync flushes the context logger; call before process exit.
func Sync(ctx context.Context) error {
	return FromContext(ctx).Sync()
}
