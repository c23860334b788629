// Package log is a context-first logging facade over zap.
//
// All entry points take a context as the first argument; registered hooks
// derive extra fields from it (tenant, actor), so call sites never attach
// identity fields by hand.
package log

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap logger with a context hook pipeline.
type Logger struct {
	zl    *zap.Logger
	level zap.AtomicLevel
	hooks []Hook
}

// New builds a Logger from config. Unknown levels and formats fall back to
// info/console rather than failing startup.
func New(cfg Config, hooks ...Hook) *Logger {
	level := zap.NewAtomicLevelAt(parseLevel(cfg.Level))

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if cfg.Format == "json" {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(os.Stderr)), level)

	return &Logger{
		zl:    zap.New(core),
		level: level,
		hooks: hooks,
	}
}

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func (l *Logger) log(ctx context.Context, lvl zapcore.Level, msg string, fields []Field) {
	if l == nil || !l.level.Enabled(lvl) {
		return
	}

	for _, h := range l.hooks {
		fields = append(fields, h.Apply(ctx, msg)...)
	}

	if ce := l.zl.Check(lvl, msg); ce != nil {
		ce.Write(fields...)
	}
}

func (l *Logger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, zapcore.DebugLevel, msg, fields)
}

func (l *Logger) Info(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, zapcore.InfoLevel, msg, fields)
}

func (l *Logger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, zapcore.WarnLevel, msg, fields)
}

func (l *Logger) Error(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, zapcore.ErrorLevel, msg, fields)
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.zl.Sync()
}

var (
	globalMu sync.RWMutex
	global   = New(Config{Level: "info", Format: "console"}, HookFunc(TenantFields))
)

// SetGlobalLogger replaces the process-wide logger.
func SetGlobalLogger(l *Logger) {
	if l == nil {
		return
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	global = l
}

// GetGlobalLogger returns the process-wide logger.
func GetGlobalLogger() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()

	return global
}

// Debug logs at debug level through the global logger.
func Debug(ctx context.Context, msg string, fields ...Field) {
	GetGlobalLogger().Debug(ctx, msg, fields...)
}

// Info logs at info level through the global logger.
func Info(ctx context.Context, msg string, fields ...Field) {
	GetGlobalLogger().Info(ctx, msg, fields...)
}

// Warn logs at warn level through the global logger.
func Warn(ctx context.Context, msg string, fields ...Field) {
	GetGlobalLogger().Warn(ctx, msg, fields...)
}

// Error logs at error level through the global logger.
func Error(ctx context.Context, msg string, fields ...Field) {
	GetGlobalLogger().Error(ctx, msg, fields...)
}

// DebugEnabled reports whether debug-level logging is active, so callers can
// skip expensive field construction.
func DebugEnabled(ctx context.Context) bool {
	_ = ctx

	return GetGlobalLogger().level.Enabled(zapcore.DebugLevel)
}

// Fatalf logs a formatted message at error level and panics. Reserved for
// unrecoverable startup failures.
func Fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	GetGlobalLogger().Error(context.Background(), msg)
	panic(msg)
}
