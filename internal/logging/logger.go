// Package logging builds the zap logger shared by the server and the CLI.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls log destinations and rotation
type Config struct {
	Directory  string // Empty disables file logging
	Level      string
	MaxSize    int // Megabytes
	MaxBackups int
	MaxAge     int // Days
	Compress   bool
	Console    io.Writer // Defaults to stderr
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Directory:  "logs",
		Level:      "info",
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     7,
		Compress:   true,
	}
}

// New returns a logger writing colored text to the console and, when a
// directory is configured, JSON to one rotating file per level.
func New(config Config) (*zap.Logger, error) {
	threshold, err := zapcore.ParseLevel(orDefault(config.Level, DefaultConfig().Level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	if config.MaxSize <= 0 {
		config.MaxSize = DefaultConfig().MaxSize
	}
	if config.MaxBackups <= 0 {
		config.MaxBackups = DefaultConfig().MaxBackups
	}
	if config.MaxAge <= 0 {
		config.MaxAge = DefaultConfig().MaxAge
	}
	if config.Console == nil {
		config.Console = os.Stderr
	}

	cores := []zapcore.Core{newConsoleCore(config.Console, threshold)}

	if config.Directory != "" {
		if err := os.MkdirAll(config.Directory, 0755); err != nil {
			return nil, fmt.Errorf("could not create log directory: %w", err)
		}
		for _, level := range []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel} {
			if level < threshold {
				continue
			}
			cores = append(cores, newFileCore(config, level))
		}
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

// NewNop returns a logger that discards everything
func NewNop() *zap.Logger {
	return zap.NewNop()
}

// newFileCore writes exactly one level to its own rotating file
func newFileCore(config Config, level zapcore.Level) zapcore.Core {
	encoderConfig := zapcore.EncoderConfig{
		MessageKey:   "message",
		LevelKey:     "level",
		TimeKey:      "time",
		CallerKey:    "caller",
		EncodeLevel:  zapcore.CapitalLevelEncoder,
		EncodeTime:   zapcore.ISO8601TimeEncoder,
		EncodeCaller: zapcore.ShortCallerEncoder,
	}

	fileName := filepath.Join(config.Directory, fmt.Sprintf("%s-%s.log", time.Now().Format("2006-01-02"), level.String()))
	writer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   fileName,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	})

	return zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		writer,
		zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l == level }),
	)
}

func newConsoleCore(w io.Writer, threshold zapcore.Level) zapcore.Core {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	return zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(w),
		zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l >= threshold }),
	)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
