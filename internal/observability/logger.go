// Package observability owns the process loggers.
//
// CLILogger is the console logger used by commands. When a log file is
// enabled, every record is also appended to a rotating JSON log so job
// lifecycle events survive after the terminal is closed.
package observability

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// CLILogger is the shared command logger. It is a no-op logger until
// InitCLILogger is called, so packages may log unconditionally.
var CLILogger = zap.NewNop()

var (
	mu        sync.Mutex
	level     = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	console   zapcore.Core
	fileSink  *lumberjack.Logger
	appName   string
	fileLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Log file rotation limits.
const (
	DefaultLogMaxSizeMB  = 10
	DefaultLogMaxBackups = 3
)

// InitCLILogger configures the console logger. verbose lowers the level to debug.
func InitCLILogger(name string, verbose bool) {
	mu.Lock()
	defer mu.Unlock()

	appName = name
	if verbose {
		level.SetLevel(zapcore.DebugLevel)
	} else {
		level.SetLevel(zapcore.InfoLevel)
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = ""
	encCfg.CallerKey = ""
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	console = zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), level)

	rebuild()
}

// SetLevel changes the console level ("debug", "info", "warn", "error").
func SetLevel(name string) error {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return err
	}
	level.SetLevel(l)
	return nil
}

// EnableFileLog tees all records at info and above into path. The file is
// appended to and rotated by size.
func EnableFileLog(path string) error {
	mu.Lock()
	defer mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	if fileSink != nil {
		_ = fileSink.Close()
	}
	fileSink = &lumberjack.Logger{
		Filename:   path,
		MaxSize:    DefaultLogMaxSizeMB,
		MaxBackups: DefaultLogMaxBackups,
	}

	rebuild()
	return nil
}

// Sync flushes buffered records and closes the log file.
func Sync() {
	mu.Lock()
	defer mu.Unlock()

	_ = CLILogger.Sync()
	if fileSink != nil {
		_ = fileSink.Close()
	}
}

// rebuild must be called with mu held.
func rebuild() {
	var cores []zapcore.Core
	if console != nil {
		cores = append(cores, console)
	}
	if fileSink != nil {
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(fileSink), fileLevel))
	}
	if len(cores) == 0 {
		CLILogger = zap.NewNop()
		return
	}

	logger := zap.New(zapcore.NewTee(cores...))
	if appName != "" {
		logger = logger.Named(appName)
	}
	CLILogger = logger
}
