package tools

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Builds the process logger. The caller owns it and calls Sync before exit.
func NewLogger(debug, silent, timestamp bool) (*zap.Logger, error) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		cfg.Sampling = nil
	}
	if silent {
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}
	if timestamp {
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		cfg.EncoderConfig.TimeKey = ""
	}
	return cfg.Build()
}
