// Package observability holds the process-wide loggers.
package observability

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// CLILogger is the process logger. It is a no-op until InitCLILogger or
// InitLogger runs.
var CLILogger = zap.NewNop()

// FileSink configures the optional rotating log file.
type FileSink struct {
	// Path of the log file. Empty disables the sink.
	Path string

	// MaxSizeMB is the size at which the file rotates. Default: 10
	MaxSizeMB int

	// MaxBackups is the number of rotated files kept. Default: 5
	MaxBackups int
}

// LogOptions configures InitLogger.
type LogOptions struct {
	Service string
	Level   string
	Verbose bool
	File    FileSink
}

var (
	mu       sync.Mutex
	rotators []*lumberjack.Logger
)

// InitCLILogger installs a console logger for service. Verbose lowers the
// level to debug.
func InitCLILogger(service string, verbose bool) {
	logger, err := InitLogger(LogOptions{Service: service, Verbose: verbose})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		return
	}
	CLILogger = logger
}

// InitLogger builds a logger writing human-readable lines to stderr and,
// when a file sink is set, JSON lines to a rotating file. The result is
// also installed as CLILogger.
func InitLogger(opts LogOptions) (*zap.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	if opts.Verbose {
		level = zapcore.DebugLevel
	}
	atom := zap.NewAtomicLevelAt(level)

	consoleCfg := zap.NewDevelopmentEncoderConfig()
	consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if !isTerminal(os.Stderr) {
		consoleCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.Lock(os.Stderr), atom),
	}

	if opts.File.Path != "" {
		rot := newRotator(opts.File)
		fileCfg := zap.NewProductionEncoderConfig()
		fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), zapcore.AddSync(rot), atom))

		mu.Lock()
		rotators = append(rotators, rot)
		mu.Unlock()
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	if opts.Service != "" {
		logger = logger.Named(opts.Service)
	}
	CLILogger = logger
	return logger, nil
}

// Sync flushes CLILogger and closes any rotating files.
func Sync() {
	_ = CLILogger.Sync()

	mu.Lock()
	defer mu.Unlock()
	for _, r := range rotators {
		_ = r.Close()
	}
	rotators = nil
}

// ParseLevel maps a config level name to a zap level. Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "trace", "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

func newRotator(f FileSink) *lumberjack.Logger {
	size := f.MaxSizeMB
	if size <= 0 {
		size = 10
	}
	backups := f.MaxBackups
	if backups <= 0 {
		backups = 5
	}
	return &lumberjack.Logger{
		Filename:   f.Path,
		MaxSize:    size,
		MaxBackups: backups,
		Compress:   false,
	}
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
