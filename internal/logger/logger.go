package logger

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/smallbiznis/reservebill/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Module provides the process logger and flushes it on shutdown.
var Module = fx.Module("logger",
	fx.Provide(NewFromConfig),
	fx.Invoke(syncOnStop),
)

// NewFromConfig builds the process logger stamped with the service
// identity and installs it as the zap global.
func NewFromConfig(cfg config.Config) (*zap.Logger, error) {
	log, err := New(cfg.LogLevel, developmentEnv(cfg.Environment),
		zap.String("service", cfg.AppName),
		zap.String("env", cfg.Environment),
		zap.String("version", cfg.AppVersion),
	)
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(log)
	return log, nil
}

// New builds a JSON logger at level, or a console logger when console is
// set. An empty level means info.
func New(level string, console bool, fields ...zap.Field) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(firstNonEmpty(level, "info"))); err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", level)
	}

	cfg := zap.NewProductionConfig()
	if console {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	log, err := cfg.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return nil, errors.Wrap(err, "build logger")
	}
	return log.With(fields...), nil
}

func syncOnStop(lc fx.Lifecycle, log *zap.Logger) {
	lc.Append(fx.StopHook(func(context.Context) error {
		// stdout sync fails with EINVAL on most terminals.
		_ = log.Sync()
		return nil
	}))
}

func developmentEnv(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "development", "local":
		return true
	}
	return false
}

func firstNonEmpty(value, fallback string) string {
	if value = strings.TrimSpace(value); value != "" {
		return value
	}
	return fallback
}
