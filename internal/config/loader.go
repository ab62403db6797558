// Package config loads environment-driven configuration for the
// calendar engine's demo wiring.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Config captures environment-driven configuration values for the
// calendar engine.
type Config struct {
	SQLiteDSN string
	LogLevel  slog.Level
	// MaxWindow is the widest GetOccurrences/GetRecurrences query
	// window configured for this deployment. It is loaded and validated
	// here only; neither the engine nor the demo in cmd/calendarengine
	// checks a query window against it.
	MaxWindow time.Duration
}

// Load parses configuration values from the current process
// environment, applying defaults for everything optional.
func Load() (Config, error) {
	cfg := Config{
		SQLiteDSN: "file:calendarengine.db?_pragma=busy_timeout(5000)",
		LogLevel:  slog.LevelInfo,
		MaxWindow: 365 * 24 * time.Hour,
	}

	invalid := make([]string, 0, 2)

	if dsn := strings.TrimSpace(os.Getenv("CALENDARENGINE_SQLITE_DSN")); dsn != "" {
		cfg.SQLiteDSN = dsn
	}

	if levelValue := strings.TrimSpace(os.Getenv("CALENDARENGINE_LOG_LEVEL")); levelValue != "" {
		var level slog.Level
		if err := level.UnmarshalText([]byte(levelValue)); err != nil {
			invalid = append(invalid, "CALENDARENGINE_LOG_LEVEL")
		} else {
			cfg.LogLevel = level
		}
	}

	if windowValue := strings.TrimSpace(os.Getenv("CALENDARENGINE_MAX_WINDOW")); windowValue != "" {
		window, err := time.ParseDuration(windowValue)
		if err != nil || window <= 0 {
			invalid = append(invalid, "CALENDARENGINE_MAX_WINDOW")
		} else {
			cfg.MaxWindow = window
		}
	}

	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("環境変数の値が不正です: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}
