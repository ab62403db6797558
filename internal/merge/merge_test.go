package merge

import (
	"testing"
	"time"

	"github.com/example/calendarengine/internal/calendarmodel"
	"github.com/example/calendarengine/internal/rulexpand"
)

func parse(t *testing.T, value string) time.Time {
	t.Helper()
	pt, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse %q: %v", value, err)
	}
	return pt
}

func dailyRecurrence(t *testing.T, until string) calendarmodel.Recurrence {
	return calendarmodel.Recurrence{
		Id:        "r1",
		Type:      "meeting",
		StartTime: parse(t, "2024-01-01T09:00:00Z"),
		Duration:  time.Hour,
		RRule:     "FREQ=DAILY;UNTIL=" + until,
		TimeZone:  "Etc/UTC",
		EndTime:   parse(t, until[:4]+"-"+until[4:6]+"-"+until[6:8]+"T23:59:59Z"),
	}
}

func TestScenario1_DailyWithOneException(t *testing.T) {
	r := dailyRecurrence(t, "20240105T235959Z")
	qStart := parse(t, "2024-01-01T00:00:00Z")
	qEnd := parse(t, "2024-01-05T23:59:59Z")

	instants, err := rulexpand.Expand(r, qStart, qEnd)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}

	exceptions := []calendarmodel.OccurrenceException{
		{Id: "x1", RecurrenceId: r.Id, OriginalTimeUtc: parse(t, "2024-01-03T09:00:00Z")},
	}

	entries, err := Recurrence(r, instants, exceptions, nil, qStart, qEnd)
	if err != nil {
		t.Fatalf("Recurrence: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e.StartTime.Day() == 3 {
			t.Errorf("day 3 should be excepted, but appeared: %+v", e)
		}
	}
}

func TestScenario2_MovedInOverride(t *testing.T) {
	r := dailyRecurrence(t, "20240120T235959Z")
	qStart := parse(t, "2024-01-01T00:00:00Z")
	qEnd := parse(t, "2024-01-05T23:59:59Z")

	instants, err := rulexpand.Expand(r, qStart, qEnd)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}

	overrides := []calendarmodel.OccurrenceOverride{
		{
			Id:               "v1",
			RecurrenceId:     r.Id,
			OriginalTimeUtc:  parse(t, "2024-01-15T09:00:00Z"),
			StartTime:        parse(t, "2024-01-03T14:00:00Z"),
			Duration:         time.Hour,
			OriginalDuration: time.Hour,
		},
	}

	entries, err := Recurrence(r, instants, nil, overrides, qStart, qEnd)
	if err != nil {
		t.Fatalf("Recurrence: %v", err)
	}
	if len(entries) != 6 {
		t.Fatalf("expected 6 entries (5 virtualized + 1 moved-in), got %d", len(entries))
	}

	foundMovedIn := false
	for _, e := range entries {
		if e.OverrideId == "v1" {
			foundMovedIn = true
			if e.Original == nil || !e.Original.StartTime.Equal(parse(t, "2024-01-15T09:00:00Z")) {
				t.Errorf("moved-in entry Original.StartTime mismatch: %+v", e.Original)
			}
		}
	}
	if !foundMovedIn {
		t.Fatal("expected the moved-in override to appear")
	}
}

func TestScenario5_ExceptionBeatsOverride(t *testing.T) {
	r := dailyRecurrence(t, "20240105T235959Z")
	qStart := parse(t, "2024-01-01T00:00:00Z")
	qEnd := parse(t, "2024-01-05T23:59:59Z")

	instants, err := rulexpand.Expand(r, qStart, qEnd)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}

	clashTime := parse(t, "2024-01-03T09:00:00Z")
	exceptions := []calendarmodel.OccurrenceException{{Id: "x1", RecurrenceId: r.Id, OriginalTimeUtc: clashTime}}
	overrides := []calendarmodel.OccurrenceOverride{{
		Id: "v1", RecurrenceId: r.Id, OriginalTimeUtc: clashTime,
		StartTime: clashTime.Add(2 * time.Hour), Duration: time.Hour, OriginalDuration: time.Hour,
	}}

	entries, err := Recurrence(r, instants, exceptions, overrides, qStart, qEnd)
	if err != nil {
		t.Fatalf("Recurrence: %v", err)
	}
	for _, e := range entries {
		if e.OverrideId == "v1" {
			t.Fatalf("override at an excepted instant must not appear: %+v", e)
		}
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
}
