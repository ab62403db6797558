// Command calendarengine wires the engine to its SQLite-backed
// repositories and runs a small set of demonstration operations. It is
// not a server: the engine's external interface is a Go API, consumed
// here directly rather than over HTTP.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/example/calendarengine/internal/calendarmodel"
	"github.com/example/calendarengine/internal/config"
	"github.com/example/calendarengine/internal/engine"
	"github.com/example/calendarengine/internal/logging"
	"github.com/example/calendarengine/internal/sqlitestore"
	"github.com/example/calendarengine/internal/tzmodel"
	"github.com/example/calendarengine/internal/validate"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.ContextWithLogger(ctx, logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	ctx = logging.ContextWithLogger(ctx, logger)

	store, err := sqlitestore.Open(cfg.SQLiteDSN)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()

	if err := store.Init(ctx); err != nil {
		logger.Error("failed to initialize schema", "error", err)
		os.Exit(1)
	}

	idGenerator := func() string { return uuid.NewString() }
	eng := engine.New(store.Recurrences(), store.Occurrences(), store.Exceptions(), store.Overrides(), idGenerator)

	if err := runDemo(ctx, eng, logger); err != nil {
		logger.Error("demo run failed", "error", err)
		os.Exit(1)
	}
}

// runDemo creates a monthly billing recurrence clamped to the last day
// of short months, then queries the first quarter it spans.
func runDemo(ctx context.Context, eng *engine.Engine, logger *slog.Logger) error {
	tenant := calendarmodel.Tenant{Organization: "acme", ResourcePath: "/billing"}

	clamp := calendarmodel.MonthDayClamp
	r, err := eng.CreateRecurrence(ctx, nil, validate.CreateRecurrenceInput{
		Tenant:      tenant,
		Type:        "invoice",
		StartTime:   tzmodel.TaggedTime{Kind: tzmodel.KindUTC, Value: time.Date(2024, 1, 31, 9, 0, 0, 0, time.UTC)},
		Duration:    time.Hour,
		RRule:       "FREQ=MONTHLY;BYMONTHDAY=31;UNTIL=20241231T235959Z",
		TimeZone:    "Etc/UTC",
		DayBehavior: &clamp,
	})
	if err != nil {
		return fmt.Errorf("create recurrence: %w", err)
	}
	logger.Info("created recurrence", "id", r.Id, "rrule", r.RRule)

	entries, err := eng.GetOccurrences(ctx, nil, tenant,
		tzmodel.TaggedTime{Kind: tzmodel.KindUTC, Value: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		tzmodel.TaggedTime{Kind: tzmodel.KindUTC, Value: time.Date(2024, 3, 31, 23, 59, 59, 0, time.UTC)},
		"Etc/UTC", nil)
	if err != nil {
		return fmt.Errorf("get occurrences: %w", err)
	}
	for _, e := range entries {
		logger.Info("occurrence", "start", e.StartTime, "variant", e.Variant.String())
	}
	return nil
}
