package util

import (
	"log"
	"strconv"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// parseLevel accepts a level name ("debug", "warn") or its zapcore number ("-1", "1").
func parseLevel(level string) zapcore.Level {
	if l, err := zapcore.ParseLevel(level); err == nil && level != "" {
		return l
	}
	if n, err := strconv.Atoi(level); err == nil {
		return zapcore.Level(n)
	}
	return zapcore.InfoLevel
}

func initLogger(level string) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	zapCfg.EncoderConfig.CallerKey = "ln"
	zapCfg.EncoderConfig.FunctionKey = ""
	zapCfg.EncoderConfig.LevelKey = "severity"
	zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.OutputPaths = []string{"stdout"}

	return zapCfg.Build()
}

// NewLogger builds the process logger and installs it as the zap global.
// The returned func restores the previous global and flushes.
func NewLogger(level string) (*zap.Logger, func()) {
	logger, err := initLogger(level)
	if err != nil {
		log.Fatalf("fail to init logger, error: %v", err)
	}

	undo := zap.ReplaceGlobals(logger)

	return logger, func() {
		undo()
		_ = logger.Sync()
	}
}
