// Package logger builds the zap loggers used by the API server and the seeder.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects how a process logs. Service is attached to every entry so
// API and seeder output can share a sink.
type Options struct {
	Service string
	JSON    bool
	Debug   bool
	// Output defaults to stdout.
	Output []string
}

// New builds the process logger.
func New(opts Options) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if opts.Debug {
		level.SetLevel(zapcore.DebugLevel)
	}

	encoding := "console"
	if opts.JSON {
		encoding = "json"
	}

	out := opts.Output
	if len(out) == 0 {
		out = []string{"stdout"}
	}

	cfg := zap.Config{
		Encoding:         encoding,
		Level:            level,
		OutputPaths:      out,
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:     "msg",
			LevelKey:       "level",
			TimeKey:        "ts",
			CallerKey:      "caller",
			StacktraceKey:  "stacktrace",
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.MillisDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
	}
	if opts.Service != "" {
		cfg.InitialFields = map[string]any{"service": opts.Service}
	}
	return cfg.Build()
}
