package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	Log   *zap.Logger
	Sugar *zap.SugaredLogger

	sinkMu    sync.Mutex
	closeSink func() error
)

func init() {
	// Until Configure is called everything goes to stderr so that library
	// users and tests get output without touching the filesystem.
	level := levelFromEnv(zapcore.InfoLevel)
	core := zapcore.NewCore(newEncoder(), zapcore.Lock(os.Stderr), level)
	set(zap.New(core, zap.AddCaller()))
}

// Configure redirects logging to path (stderr when empty) at the given level.
// An empty level keeps the env-derived default.
func Configure(path string, level string) error {
	lvl := levelFromEnv(zapcore.InfoLevel)
	if strings.TrimSpace(level) != "" {
		if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}

	sink := zapcore.Lock(os.Stderr)
	var closer func() error
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		sink = zapcore.Lock(file)
		closer = file.Close
	}

	sinkMu.Lock()
	defer sinkMu.Unlock()

	previous := Log
	core := zapcore.NewCore(newEncoder(), sink, lvl)
	set(zap.New(core, zap.AddCaller()))

	// The previous file is closed once nothing new is written to it.
	if previous != nil {
		_ = previous.Sync()
	}
	if closeSink != nil {
		_ = closeSink()
	}
	closeSink = closer
	return nil
}

func set(l *zap.Logger) {
	Log = l
	Sugar = l.Sugar()
}

func newEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("2006/01/02 15:04:05"))
	}
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	// Console encoder keeps the file human-readable.
	return zapcore.NewConsoleEncoder(encoderConfig)
}

func levelFromEnv(def zapcore.Level) zapcore.Level {
	level := def
	levelStr := strings.TrimSpace(os.Getenv("LINKBEAM_LOG_LEVEL"))
	if levelStr == "" {
		levelStr = strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	}
	if levelStr != "" {
		_ = level.UnmarshalText([]byte(strings.ToLower(levelStr)))
	}
	return level
}
