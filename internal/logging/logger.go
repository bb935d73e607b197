package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a logger that writes JSON lines to logPath and a console
// rendering to stderr. Every entry carries the account name and PID.
func New(logPath, accountName string, level zapcore.Level) (*zap.Logger, error) {
	return build(logPath, accountName, level, true)
}

// NewFile is New without the stderr copy, for programs that draw on the
// terminal.
func NewFile(logPath, accountName string, level zapcore.Level) (*zap.Logger, error) {
	return build(logPath, accountName, level, false)
}

func build(logPath, accountName string, level zapcore.Level, console bool) (*zap.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0o700); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	enab := zap.NewAtomicLevelAt(level)
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.Lock(file), enab),
	}
	if console {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(consoleConfig()), zapcore.Lock(os.Stderr), enab))
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)).With(
		zap.String("account", accountName),
		zap.Int("pid", os.Getpid()),
	), nil
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.MillisDurationEncoder
	return cfg
}

func consoleConfig() zapcore.EncoderConfig {
	cfg := encoderConfig()
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	return cfg
}

// ParseLevel maps a level name to a zap level. Empty or unknown names give info.
func ParseLevel(s string) zapcore.Level {
	l, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel
	}
	return l
}
