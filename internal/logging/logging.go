// Package logging builds the process zap logger.
package logging

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	// Dev switches stdout to the human console encoder at debug level.
	Dev bool
	// File, when set, adds a rotated JSON log file.
	File string
}

func New(opts Options) *zap.Logger {
	return newLogger(opts, os.Stdout)
}

func newLogger(opts Options, stdout io.Writer) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.MessageKey = "message"
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	jsonEncoder := zapcore.NewJSONEncoder(encCfg)

	consoleEncoder := jsonEncoder
	level := zap.InfoLevel
	if opts.Dev {
		consoleEncoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		level = zap.DebugLevel
	}
	cores := []zapcore.Core{zapcore.NewCore(consoleEncoder, zapcore.Lock(zapcore.AddSync(stdout)), level)}

	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // MB
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(jsonEncoder, zapcore.AddSync(rotator), zap.InfoLevel))
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller())
}
