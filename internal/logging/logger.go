package logging

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Setup installs a JSON stdout logger at the level named by level
// (debug, info, warn, error; default info) and returns the stdout handler.
func Setup(level string) slog.Handler {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	slog.SetDefault(slog.New(handler))
	return handler
}

// AttachDatabase fans records out to stdout and to system_logs. The caller
// stops the returned handler on shutdown.
func AttachDatabase(stdout slog.Handler, db *gorm.DB) *DBHandler {
	dbHandler := NewDBHandler(db, 5*time.Second)
	slog.SetDefault(slog.New(NewMultiHandler(stdout, dbHandler)))
	return dbHandler
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
