package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/example/calendarengine/internal/calendarmodel"
	"github.com/example/calendarengine/internal/engineerrors"
	"github.com/example/calendarengine/internal/testfixtures"
	"github.com/example/calendarengine/internal/tzmodel"
	"github.com/example/calendarengine/internal/validate"
)

func newTestEngine(store *memStore) *Engine {
	idGen := testfixtures.NewIDGenerator("id")
	return New(recurrenceRepo{store}, occurrenceRepo{store}, exceptionRepo{store}, overrideRepo{store}, idGen.NextFunc())
}

func parseTime(t *testing.T, value string) time.Time {
	t.Helper()
	pt, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse %q: %v", value, err)
	}
	return pt
}

func utcTagged(t time.Time) tzmodel.TaggedTime {
	return tzmodel.TaggedTime{Kind: tzmodel.KindUTC, Value: t}
}

var tenant = calendarmodel.Tenant{Organization: "acme", ResourcePath: "/rooms/1"}

func TestEngine_GetOccurrences_DailyWithException(t *testing.T) {
	store := newMemStore()
	eng := newTestEngine(store)
	ctx := context.Background()

	r, err := eng.CreateRecurrence(ctx, nil, validate.CreateRecurrenceInput{
		Tenant:    tenant,
		Type:      "meeting",
		StartTime: utcTagged(parseTime(t, "2024-01-01T09:00:00Z")),
		Duration:  time.Hour,
		RRule:     "FREQ=DAILY;UNTIL=20240105T235959Z",
		TimeZone:  "Etc/UTC",
	})
	if err != nil {
		t.Fatalf("CreateRecurrence: %v", err)
	}

	store.exceptions["x1"] = calendarmodel.OccurrenceException{
		Id: "x1", Tenant: tenant, RecurrenceId: r.Id,
		OriginalTimeUtc: parseTime(t, "2024-01-03T09:00:00Z"),
	}

	entries, err := eng.GetOccurrences(ctx, nil, tenant,
		utcTagged(parseTime(t, "2024-01-01T00:00:00Z")),
		utcTagged(parseTime(t, "2024-01-05T23:59:59Z")),
		"Etc/UTC", nil)
	if err != nil {
		t.Fatalf("GetOccurrences: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
}

func TestEngine_GetOccurrences_RejectsEmptyTypesList(t *testing.T) {
	store := newMemStore()
	eng := newTestEngine(store)
	_, err := eng.GetOccurrences(context.Background(), nil, tenant,
		utcTagged(parseTime(t, "2024-01-01T00:00:00Z")),
		utcTagged(parseTime(t, "2024-01-05T00:00:00Z")),
		"Etc/UTC", []string{})
	if !errors.Is(err, engineerrors.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestEngine_UpdateOccurrence_VirtualizedWithoutOverride_CreatesOverride(t *testing.T) {
	store := newMemStore()
	eng := newTestEngine(store)
	ctx := context.Background()

	r, err := eng.CreateRecurrence(ctx, nil, validate.CreateRecurrenceInput{
		Tenant:    tenant,
		Type:      "meeting",
		StartTime: utcTagged(parseTime(t, "2024-01-01T09:00:00Z")),
		Duration:  time.Hour,
		RRule:     "FREQ=DAILY;UNTIL=20240105T235959Z",
		TimeZone:  "Etc/UTC",
	})
	if err != nil {
		t.Fatalf("CreateRecurrence: %v", err)
	}

	originalInstant := parseTime(t, "2024-01-02T09:00:00Z")
	entry := calendarmodel.CalendarEntry{
		RecurrenceId: r.Id,
		Tenant:       tenant,
		Type:         "meeting",
		TimeZone:     "Etc/UTC",
		StartTime:    parseTime(t, "2024-01-02T14:00:00Z"),
		Duration:     30 * time.Minute,
		Original:     &calendarmodel.OriginalSnapshot{StartTime: originalInstant, Duration: time.Hour},
	}

	updated, err := eng.UpdateOccurrence(ctx, nil, tenant, entry)
	if err != nil {
		t.Fatalf("UpdateOccurrence: %v", err)
	}
	if updated.OverrideId == "" {
		t.Fatal("expected an override to be created")
	}
	if len(store.overrides) != 1 {
		t.Fatalf("expected 1 stored override, got %d", len(store.overrides))
	}
}

func TestEngine_DeleteOccurrence_VirtualizedWithOverride_DeletesOverrideThenCreatesException(t *testing.T) {
	store := newMemStore()
	eng := newTestEngine(store)
	ctx := context.Background()

	originalInstant := parseTime(t, "2024-01-02T09:00:00Z")
	store.overrides["v1"] = calendarmodel.OccurrenceOverride{
		Id: "v1", Tenant: tenant, RecurrenceId: "r1",
		OriginalTimeUtc: originalInstant,
		StartTime:       parseTime(t, "2024-01-02T14:00:00Z"),
		Duration:        30 * time.Minute,
	}

	entry := calendarmodel.CalendarEntry{
		RecurrenceId: "r1",
		OverrideId:   "v1",
		Original:     &calendarmodel.OriginalSnapshot{StartTime: originalInstant},
	}

	if err := eng.DeleteOccurrence(ctx, nil, tenant, entry); err != nil {
		t.Fatalf("DeleteOccurrence: %v", err)
	}
	if len(store.overrides) != 0 {
		t.Fatalf("expected override removed, got %d remaining", len(store.overrides))
	}
	if len(store.exceptions) != 1 {
		t.Fatalf("expected 1 exception created, got %d", len(store.exceptions))
	}
	for _, x := range store.exceptions {
		if !x.OriginalTimeUtc.Equal(originalInstant) {
			t.Errorf("exception recorded at wrong instant: %v", x.OriginalTimeUtc)
		}
	}
}

func TestEngine_RestoreOccurrence_DeletesOverride(t *testing.T) {
	store := newMemStore()
	eng := newTestEngine(store)
	ctx := context.Background()

	store.overrides["v1"] = calendarmodel.OccurrenceOverride{Id: "v1", Tenant: tenant, RecurrenceId: "r1"}
	entry := calendarmodel.CalendarEntry{
		RecurrenceId: "r1", OverrideId: "v1",
		Original: &calendarmodel.OriginalSnapshot{},
	}

	if err := eng.RestoreOccurrence(ctx, nil, tenant, entry); err != nil {
		t.Fatalf("RestoreOccurrence: %v", err)
	}
	if len(store.overrides) != 0 {
		t.Fatalf("expected override removed, got %d remaining", len(store.overrides))
	}
}

func TestEngine_RestoreOccurrence_RejectsNonOverrideVariant(t *testing.T) {
	store := newMemStore()
	eng := newTestEngine(store)
	entry := calendarmodel.CalendarEntry{OccurrenceId: "o1"}
	err := eng.RestoreOccurrence(context.Background(), nil, tenant, entry)
	if !errors.Is(err, engineerrors.ErrInvalidOperation) {
		t.Fatalf("expected ErrInvalidOperation, got %v", err)
	}
}

// TestEngine_DeleteRecurrence_CascadeAndRollback exercises scenario 6:
// R has 3 exceptions and 2 overrides. A failed cascade inside a
// transaction must leave all rows intact after rollback; a successful
// cascade must leave zero rows for R, its exceptions, and its
// overrides.
func TestEngine_DeleteRecurrence_CascadeAndRollback(t *testing.T) {
	store := newMemStore()
	eng := newTestEngine(store)
	ctx := context.Background()

	seed := func() {
		store.recurrences = map[string]calendarmodel.Recurrence{}
		store.exceptions = map[string]calendarmodel.OccurrenceException{}
		store.overrides = map[string]calendarmodel.OccurrenceOverride{}
		store.recurrences["r1"] = calendarmodel.Recurrence{Id: "r1", Tenant: tenant}
		for i := 0; i < 3; i++ {
			id := fmt.Sprintf("x%d", i)
			store.exceptions[id] = calendarmodel.OccurrenceException{Id: id, Tenant: tenant, RecurrenceId: "r1"}
		}
		for i := 0; i < 2; i++ {
			id := fmt.Sprintf("v%d", i)
			store.overrides[id] = calendarmodel.OccurrenceOverride{Id: id, Tenant: tenant, RecurrenceId: "r1"}
		}
	}

	seed()
	store.failOverrideDelete = true
	tx := store.begin()
	err := eng.DeleteRecurrence(ctx, tx, tenant, "r1")
	if err == nil {
		t.Fatal("expected the simulated backend failure to propagate")
	}
	store.rollback(tx)
	store.failOverrideDelete = false
	if len(store.recurrences) != 1 || len(store.exceptions) != 3 || len(store.overrides) != 2 {
		t.Fatalf("rollback left inconsistent state: R=%d X=%d V=%d", len(store.recurrences), len(store.exceptions), len(store.overrides))
	}

	tx = store.begin()
	if err := eng.DeleteRecurrence(ctx, tx, tenant, "r1"); err != nil {
		t.Fatalf("DeleteRecurrence: %v", err)
	}
	store.commit(tx)
	if len(store.recurrences) != 0 || len(store.exceptions) != 0 || len(store.overrides) != 0 {
		t.Fatalf("commit left rows behind: R=%d X=%d V=%d", len(store.recurrences), len(store.exceptions), len(store.overrides))
	}
}

func TestEngine_DeleteOccurrence_RecurrencePatternRejected(t *testing.T) {
	store := newMemStore()
	eng := newTestEngine(store)
	entry := calendarmodel.CalendarEntry{RecurrenceId: "r1"}
	err := eng.DeleteOccurrence(context.Background(), nil, tenant, entry)
	if !errors.Is(err, engineerrors.ErrInvalidOperation) {
		t.Fatalf("expected ErrInvalidOperation, got %v", err)
	}
}

func TestEngine_GetRecurrences_ReturnsPatternsInWindow(t *testing.T) {
	store := newMemStore()
	eng := newTestEngine(store)
	ctx := context.Background()

	// Anchor the query window relative to a fixed reference instant
	// rather than another ad hoc literal.
	clock := testfixtures.NewClock(time.Time{})
	recurrenceStart := clock.Current()
	windowStart := recurrenceStart.AddDate(0, 0, -1)
	windowEnd := clock.Advance(30 * 24 * time.Hour)

	r, err := eng.CreateRecurrence(ctx, nil, validate.CreateRecurrenceInput{
		Tenant:    tenant,
		Type:      "meeting",
		StartTime: utcTagged(recurrenceStart),
		Duration:  time.Hour,
		RRule:     "FREQ=WEEKLY;UNTIL=20240401T000000Z",
		TimeZone:  "Etc/UTC",
	})
	if err != nil {
		t.Fatalf("CreateRecurrence: %v", err)
	}

	entries, err := eng.GetRecurrences(ctx, nil, tenant, utcTagged(windowStart), utcTagged(windowEnd), "Etc/UTC", nil)
	if err != nil {
		t.Fatalf("GetRecurrences: %v", err)
	}
	if len(entries) != 1 || entries[0].RecurrenceId != r.Id {
		t.Fatalf("expected the single pattern entry, got %+v", entries)
	}
	if entries[0].Variant != calendarmodel.VariantRecurrence {
		t.Fatalf("expected VariantRecurrence, got %v", entries[0].Variant)
	}
}

func TestEngine_UpdateRecurrence_DurationAndExtensionsChangeInPlace(t *testing.T) {
	store := newMemStore()
	eng := newTestEngine(store)
	ctx := context.Background()

	r, err := eng.CreateRecurrence(ctx, nil, validate.CreateRecurrenceInput{
		Tenant:    tenant,
		Type:      "meeting",
		StartTime: utcTagged(parseTime(t, "2024-01-01T09:00:00Z")),
		Duration:  time.Hour,
		RRule:     "FREQ=DAILY;UNTIL=20240105T235959Z",
		TimeZone:  "Etc/UTC",
	})
	if err != nil {
		t.Fatalf("CreateRecurrence: %v", err)
	}

	incoming := r
	incoming.Duration = 90 * time.Minute
	incoming.Extensions = calendarmodel.Extensions{"room": "B12"}

	updated, err := eng.UpdateRecurrence(ctx, nil, tenant, incoming)
	if err != nil {
		t.Fatalf("UpdateRecurrence: %v", err)
	}
	if updated.Duration != 90*time.Minute {
		t.Fatalf("expected updated Duration, got %v", updated.Duration)
	}
	if updated.Extensions["room"] != "B12" {
		t.Fatalf("expected updated Extensions, got %+v", updated.Extensions)
	}
	if stored := store.recurrences[r.Id]; stored.Duration != 90*time.Minute {
		t.Fatalf("expected store to reflect the update, got %+v", stored)
	}
}

func TestEngine_UpdateRecurrence_RejectsImmutableFieldChange(t *testing.T) {
	store := newMemStore()
	eng := newTestEngine(store)
	ctx := context.Background()

	r, err := eng.CreateRecurrence(ctx, nil, validate.CreateRecurrenceInput{
		Tenant:    tenant,
		Type:      "meeting",
		StartTime: utcTagged(parseTime(t, "2024-01-01T09:00:00Z")),
		Duration:  time.Hour,
		RRule:     "FREQ=DAILY;UNTIL=20240105T235959Z",
		TimeZone:  "Etc/UTC",
	})
	if err != nil {
		t.Fatalf("CreateRecurrence: %v", err)
	}

	incoming := r
	incoming.StartTime = parseTime(t, "2024-02-01T09:00:00Z")

	_, err = eng.UpdateRecurrence(ctx, nil, tenant, incoming)
	if !errors.Is(err, engineerrors.ErrImmutableFieldViolation) {
		t.Fatalf("expected ErrImmutableFieldViolation, got %v", err)
	}
	if stored := store.recurrences[r.Id]; !stored.StartTime.Equal(r.StartTime) {
		t.Fatalf("expected R left unchanged, got %+v", stored)
	}
}
