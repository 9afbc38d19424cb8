package main

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// loggingConfig selects the verbosity and destination of the relay log.
type loggingConfig struct {
	Verbose bool
	Debug   bool
	Format  string // console or json
	File    string // empty logs to stderr
}

// level maps the verbosity flags to a zap level. Without --verbose only errors are logged.
func (c loggingConfig) level() zapcore.Level {
	switch {
	case c.Debug:
		return zapcore.DebugLevel
	case c.Verbose:
		return zapcore.InfoLevel
	default:
		return zapcore.ErrorLevel
	}
}

// newLogger builds the root logger. The returned closer flushes and releases the log file.
func newLogger(c loggingConfig, stderr io.Writer) (*zap.SugaredLogger, io.Closer, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch c.Format {
	case "", "console":
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	default:
		return nil, nil, errors.Errorf("unknown log format %q (expected console or json)", c.Format)
	}

	var output zapcore.WriteSyncer
	var closer io.Closer = nopCloser{}
	if c.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   c.File,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		output = zapcore.AddSync(rotator)
		closer = rotator
	} else {
		if stderr == nil {
			stderr = os.Stderr
		}
		output = zapcore.AddSync(stderr)
	}

	core := zapcore.NewCore(encoder, output, zap.NewAtomicLevelAt(c.level()))
	logger := zap.New(core, zap.AddCaller())

	return logger.Sugar(), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
