// Package loggerutil builds the zap.Logger causalctl and its long-running
// counterparts share: one encoder for every sink, JSON by default and
// human-readable console output in debug mode, written to stderr and, when a
// path is set, also to a rotated file.
package loggerutil

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	DefaultMaxSizeMB  = 100
	DefaultMaxAgeDays = 30
	DefaultMaxBackups = 10
)

type RotateOptions struct {
	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
	Compress   bool
	LocalTime  bool
}

type Options struct {
	RotateOptions

	Path  string
	Debug bool
}

// New builds a logger that always writes to stderr, and additionally to a
// rotated file when opts.Path is set.
func New(opts Options) (*zap.Logger, error) {
	writerSyncer := zapcore.AddSync(os.Stderr)
	if opts.Path != "" {
		fileSyncer := zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.Path,
			LocalTime:  opts.LocalTime,
			Compress:   opts.Compress,
			MaxSize:    orDefault(opts.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: orDefault(opts.MaxBackups, DefaultMaxBackups),
			MaxAge:     orDefault(opts.MaxAgeDays, DefaultMaxAgeDays),
		})
		writerSyncer = zapcore.NewMultiWriteSyncer(writerSyncer, fileSyncer)
	}

	var encoder zapcore.Encoder
	if opts.Debug {
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	} else {
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	}

	level := zap.InfoLevel
	if opts.Debug {
		level = zap.DebugLevel
	}
	core := zapcore.NewCore(encoder, writerSyncer, level)

	var zapOpts []zap.Option
	if opts.Debug {
		zapOpts = append(zapOpts, zap.Development())
	}
	return zap.New(core, zapOpts...), nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
