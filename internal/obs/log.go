package obs

import (
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

var logger atomic.Pointer[slog.Logger]

// NewLogger builds a handler for env: text for local, debug JSON for dev,
// info JSON for everything else.
func NewLogger(env string, w io.Writer) *slog.Logger {
	switch env {
	case EnvLocal:
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case EnvDev:
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	default:
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
}

// SetupLogger installs the process logger on stdout and as the slog default.
func SetupLogger(env string) *slog.Logger {
	l := NewLogger(env, os.Stdout)
	SetLogger(l)
	return l
}

// SetLogger replaces the shared logger.
func SetLogger(l *slog.Logger) {
	if l == nil {
		return
	}
	logger.Store(l)
	slog.SetDefault(l)
}

// Logger returns the shared structured logger used across the service.
func Logger() *slog.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	return slog.Default()
}
