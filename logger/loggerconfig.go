// loggerconfig.go
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// BuildLogger creates a Logger at the given level with either the "json" or the
// "console" encoder writing to stderr. It is the single construction point used
// by the connection package.
func BuildLogger(logLevel LogLevel, encoding string) Logger {
	// LogLevelNone sits outside zap's level range; short-circuit to the nop
	// logger instead of handing zap an undefined level.
	if logLevel == LogLevelNone {
		return NewNopLogger()
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var encoder zapcore.Encoder
	switch encoding {
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	default:
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	core := zapcore.NewCore(
		encoder,
		zapcore.Lock(os.Stderr),
		zap.NewAtomicLevelAt(zapcore.Level(logLevel)),
	)

	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	return &defaultLogger{
		logger:   logger,
		logLevel: logLevel,
	}
}

// NewNopLogger returns a Logger that discards everything. Used in tests and as
// the fallback when a caller passes no logger.
func NewNopLogger() Logger {
	return &defaultLogger{
		logger:   zap.NewNop(),
		logLevel: LogLevelNone,
	}
}
