package logx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"hermannm.dev/devlog"
)

type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

const envLogLevel = "APGATE_LOG_LEVEL"

var (
	level slog.LevelVar

	mu     sync.Mutex
	logger *slog.Logger
)

func init() {
	level.Set(slog.LevelInfo)
	SetOutput(os.Stderr)
}

// SetOutput points all log output at w. cmd/apgate-fw wraps stderr in a
// redact.MaskingWriter once the device identity is known.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger = slog.New(devlog.NewHandler(w, &devlog.Options{Level: &level}))
}

func ParseLevel(v string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "info":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("invalid log level %q (expected debug|info|warn|error)", v)
	}
}

func (l Level) slog() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func SetLevel(v string) error {
	lvl, err := ParseLevel(v)
	if err != nil {
		return err
	}
	level.Set(lvl.slog())
	return nil
}

// Configure resolves log level from flags and env.
// Precedence: --log-level > --verbose > APGATE_LOG_LEVEL > default(info).
func Configure(flagLevel string, verbose bool) error {
	if strings.TrimSpace(flagLevel) != "" {
		return SetLevel(flagLevel)
	}
	if verbose {
		return SetLevel("debug")
	}
	if env := strings.TrimSpace(os.Getenv(envLogLevel)); env != "" {
		return SetLevel(env)
	}
	return SetLevel("info")
}

func IsDebug() bool {
	return level.Level() <= slog.LevelDebug
}

func logf(l Level, format string, args ...any) {
	sl := l.slog()
	if sl < level.Level() {
		return
	}
	mu.Lock()
	lg := logger
	mu.Unlock()
	lg.Log(context.Background(), sl, fmt.Sprintf(format, args...))
}

func Debugf(format string, args ...any) { logf(LevelDebug, format, args...) }
func Infof(format string, args ...any)  { logf(LevelInfo, format, args...) }
func Warnf(format string, args ...any)  { logf(LevelWarn, format, args...) }
func Errorf(format string, args ...any) { logf(LevelError, format, args...) }
