// Package logger wires zap with a rotating file sink. Console output uses a
// colored development encoder, the file sink gets production JSON; both are
// driven by the level from config.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/script-exporter/config"
)

var (
	baseLogger  *zap.Logger
	initOnce    sync.Once
	initialized bool
)

// Init builds the global logger once. Later calls are no-ops.
func Init(cfg config.LogConfig) error {
	var err error
	initOnce.Do(func() {
		level := parseLevel(cfg.Level)

		if err = os.MkdirAll(cfg.Path, 0o755); err != nil {
			return
		}
		writer, wErr := rotatelogs.New(
			filepath.Join(cfg.Path, "script-exporter-%Y%m%d.log"),
			rotatelogs.WithMaxAge(7*24*time.Hour),
			rotatelogs.WithRotationTime(24*time.Hour),
			rotatelogs.WithRotationSize(100*1024*1024),
		)
		if wErr != nil {
			err = wErr
			return
		}

		consoleCfg := zap.NewDevelopmentEncoderConfig()
		consoleCfg.ConsoleSeparator = " "
		consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		consoleCfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(t.Format("2006-01-02 15:04:05.000 -07:00"))
		}
		consoleCfg.EncodeCaller = func(c zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
			rel := filepath.Join(filepath.Base(filepath.Dir(c.File)), filepath.Base(c.File))
			enc.AppendString(fmt.Sprintf("%s:%d", rel, c.Line))
		}

		jsonCfg := zap.NewProductionEncoderConfig()
		jsonCfg.TimeKey = "timestamp"
		jsonCfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(t.Format("2006-01-02 15:04:05.000 -07:00"))
		}
		jsonCfg.EncodeLevel = zapcore.LowercaseLevelEncoder

		core := zapcore.NewTee(
			zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.AddSync(os.Stdout), level),
			zapcore.NewCore(zapcore.NewJSONEncoder(jsonCfg), zapcore.AddSync(writer), level),
		)

		baseLogger = zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
		initialized = true
	})
	return err
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
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

// Get returns the global logger. Init must have been called.
func Get() *zap.Logger {
	if !initialized {
		panic("logger not initialized: call logger.Init() first")
	}
	return baseLogger
}

// Sync flushes buffered log entries. Safe before Init.
func Sync() error {
	if !initialized {
		return nil
	}
	return baseLogger.Sync()
}
