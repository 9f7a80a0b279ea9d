package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	mu            sync.RWMutex
	defaultLogger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	// level is shared by every handler installed here so SetLevel can
	// change verbosity without replacing the output.
	level = new(slog.LevelVar)
)

// SetLogger replaces the global logger. It keeps its own level.
func SetLogger(logger *slog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

// SetLevel changes the level of loggers installed by this package.
func SetLevel(l slog.Level) {
	level.Set(l)
}

func install(lvl slog.Level, h slog.Handler) {
	level.Set(lvl)
	SetLogger(slog.New(h))
}

// SetOutput logs JSON to w at info level.
func SetOutput(w io.Writer) {
	install(slog.LevelInfo, slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// SetTextOutput logs text to w at debug level.
func SetTextOutput(w io.Writer) {
	install(slog.LevelDebug, slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// ParseLevel parses debug, info, warn or error.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Configure installs a redacting logger writing to w at the named level,
// as "json" or "text".
func Configure(w io.Writer, levelName, format string) error {
	lvl, err := ParseLevel(levelName)
	if err != nil {
		return err
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch format {
	case "", "json":
		h = slog.NewJSONHandler(w, opts)
	case "text":
		h = slog.NewTextHandler(w, opts)
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	install(lvl, NewRedactingHandler(h))
	return nil
}

// Logger returns the global logger.
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// With returns the global logger with args attached to every record.
func With(args ...any) *slog.Logger { return Logger().With(args...) }

func Debug(msg string, args ...any) { Logger().Debug(msg, args...) }
func Info(msg string, args ...any)  { Logger().Info(msg, args...) }
func Warn(msg string, args ...any)  { Logger().Warn(msg, args...) }
func Error(msg string, args ...any) { Logger().Error(msg, args...) }

// Address logs addr under key in checksum hex.
func Address(key string, addr common.Address) slog.Attr {
	return slog.String(key, addr.Hex())
}

// TxHash logs a transaction or request hash.
func TxHash(h common.Hash) slog.Attr {
	return slog.String("tx_hash", h.Hex())
}

// Err logs err under "error". A nil error logs an empty string.
func Err(err error) slog.Attr {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return slog.String("error", msg)
}

// Component tags a record with the subsystem that wrote it.
func Component(name string) slog.Attr {
	return slog.String("component", name)
}
