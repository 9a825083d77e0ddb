package utils

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the process-wide logger. It is a no-op until InitLogger is called.
var Logger = zap.NewNop()

// InitLogger builds the process logger. "release" logs JSON at info level,
// anything else logs colored console output at debug level.
func InitLogger(mode string) (*zap.Logger, error) {
	var config zap.Config

	if mode == "release" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	Logger = logger
	return logger, nil
}

func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}
