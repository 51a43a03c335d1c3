package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu        sync.RWMutex
	level     = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	customLog = newConsole()
)

func newConsole() *zap.SugaredLogger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = level
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return zap.NewNop().Sugar()
	}

	return logger.Sugar()
}

// InitLogger resets the logger to the console.
func InitLogger() {
	mu.Lock()
	defer mu.Unlock()

	customLog = newConsole()
}

// SetLevel changes the minimum level: debug, info, warn or error.
func SetLevel(name string) error {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", name, err)
	}
	level.SetLevel(lvl)

	return nil
}

// ResetLogger redirects all output to a per-process file under <home>/logs.
func ResetLogger(home string) (string, error) {
	if home == "" {
		osHome, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home directory: %w", err)
		}
		home = filepath.Join(osHome, ".crank")
	}

	dir := filepath.Join(home, "logs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}

	name := fmt.Sprintf("%s.%d.log", filepath.Base(os.Args[0]), os.Getpid())
	path := filepath.Join(dir, name)

	cfg := zap.NewProductionConfig()
	cfg.Level = level
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{path}
	cfg.ErrorOutputPaths = []string{path}

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return "", fmt.Errorf("failed to create log file: %w", err)
	}

	Infof("From now on, all logs will be written to %s", path)

	mu.Lock()
	customLog = logger.Sugar()
	mu.Unlock()

	return path, nil
}

// With returns a logger carrying the given key/value pairs, for run-scoped logs.
func With(keysAndValues ...any) *zap.SugaredLogger {
	return current().Desugar().WithOptions(zap.AddCallerSkip(-1)).Sugar().With(keysAndValues...)
}

// Sync flushes buffered entries.
func Sync() {
	_ = current().Sync()
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()

	return customLog
}

func Debug(v ...any) {
	current().Debug(v...)
}

func Debugf(format string, v ...any) {
	current().Debugf(format, v...)
}

func Info(v ...any) {
	current().Info(v...)
}

func Infof(format string, v ...any) {
	current().Infof(format, v...)
}

func Warnf(format string, v ...any) {
	current().Warnf(format, v...)
}

func Error(v ...any) {
	current().Error(v...)
}

func Errorf(format string, v ...any) {
	current().Errorf(format, v...)
}
