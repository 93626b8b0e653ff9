package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileSinkOptions configures the rotating log file used by long-running
// commands. A zero Path disables the file sink.
type FileSinkOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// NewLogger returns a zap logger configured for structured production logging.
func NewLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	return cfg.Build()
}

// NewFileLogger returns a production logger that writes JSON lines to both
// stderr and a rotating file.
func NewFileLogger(level string, sink FileSinkOptions) (*zap.Logger, error) {
	if strings.TrimSpace(sink.Path) == "" {
		return NewLogger(level)
	}

	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	fileSyncer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   sink.Path,
		MaxSize:    sink.MaxSizeMB,
		MaxBackups: sink.MaxBackups,
		MaxAge:     sink.MaxAgeDays,
	})
	atLevel := zap.NewAtomicLevelAt(parseLevel(level))

	core := zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), atLevel),
		zapcore.NewCore(encoder, fileSyncer, atLevel),
	)
	return zap.New(core), nil
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "info", "":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
