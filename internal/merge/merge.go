// Package merge implements the Merge/Filter stage (C3): it combines
// the UTC instants produced by the Rule Expander with a recurrence's
// exceptions and overrides, plus standalone occurrences, into
// CalendarEntry values.
package merge

import (
	"time"

	"github.com/example/calendarengine/internal/calendarmodel"
	"github.com/example/calendarengine/internal/tzmodel"
)

// Recurrence merges one recurrence's expanded instants with its
// exceptions and overrides for the window [qStart, qEnd], following
// §4.3's per-R protocol: exception wins over override, overrides moved
// entirely outside the window are dropped, and a second pass surfaces
// overrides moved into the window from outside it.
func Recurrence(r calendarmodel.Recurrence, instants []time.Time, exceptions []calendarmodel.OccurrenceException, overrides []calendarmodel.OccurrenceOverride, qStart, qEnd time.Time) ([]calendarmodel.CalendarEntry, error) {
	excepted := make(map[int64]bool, len(exceptions))
	for _, x := range exceptions {
		excepted[x.OriginalTimeUtc.UnixNano()] = true
	}
	byOriginal := make(map[int64]calendarmodel.OccurrenceOverride, len(overrides))
	for _, v := range overrides {
		byOriginal[v.OriginalTimeUtc.UnixNano()] = v
	}

	var entries []calendarmodel.CalendarEntry

	for _, t := range instants {
		key := t.UnixNano()
		if excepted[key] {
			continue
		}
		if v, ok := byOriginal[key]; ok {
			if movedAway(v, qStart, qEnd) {
				continue
			}
			entry, err := overriddenEntry(r, v, t)
			if err != nil {
				return nil, err
			}
			entries = append(entries, entry)
			continue
		}
		entry, err := virtualizedEntry(r, t)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	// Moved-in pass: overrides whose original instant is outside the
	// window (so the expander loop above never considered them) but
	// whose new start/end overlaps it.
	for key, v := range byOriginal {
		if excepted[key] {
			continue
		}
		if !v.OriginalTimeUtc.Before(qStart) && !v.OriginalTimeUtc.After(qEnd) {
			continue // handled by the loop above (or not an expander instant at all)
		}
		if movedAway(v, qStart, qEnd) {
			continue
		}
		entry, err := overriddenEntry(r, v, v.OriginalTimeUtc)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// movedAway reports whether an override's new window has been shifted
// entirely outside [qStart, qEnd].
func movedAway(v calendarmodel.OccurrenceOverride, qStart, qEnd time.Time) bool {
	end := v.CalculatedEndTime()
	return end.Before(qStart) || v.StartTime.After(qEnd)
}

func virtualizedEntry(r calendarmodel.Recurrence, originalUtc time.Time) (calendarmodel.CalendarEntry, error) {
	localStart, err := tzmodel.ToLocal(originalUtc, r.TimeZone)
	if err != nil {
		return calendarmodel.CalendarEntry{}, err
	}
	return calendarmodel.CalendarEntry{
		Variant:      calendarmodel.VariantVirtualized,
		Tenant:       r.Tenant,
		Type:         r.Type,
		StartTime:    localStart,
		EndTime:      localStart.Add(r.Duration),
		Duration:     r.Duration,
		TimeZone:     r.TimeZone,
		Extensions:   r.Extensions.Clone(),
		RecurrenceId: r.Id,
		Original: &calendarmodel.OriginalSnapshot{
			StartTime:  originalUtc,
			Duration:   r.Duration,
			Extensions: r.Extensions.Clone(),
		},
	}, nil
}

func overriddenEntry(r calendarmodel.Recurrence, v calendarmodel.OccurrenceOverride, originalUtc time.Time) (calendarmodel.CalendarEntry, error) {
	localStart, err := tzmodel.ToLocal(v.StartTime, r.TimeZone)
	if err != nil {
		return calendarmodel.CalendarEntry{}, err
	}
	return calendarmodel.CalendarEntry{
		Variant:      calendarmodel.VariantVirtualized,
		Tenant:       r.Tenant,
		Type:         r.Type,
		StartTime:    localStart,
		EndTime:      localStart.Add(v.Duration),
		Duration:     v.Duration,
		TimeZone:     r.TimeZone,
		Extensions:   v.Extensions.Clone(),
		RecurrenceId: r.Id,
		OverrideId:   v.Id,
		Original: &calendarmodel.OriginalSnapshot{
			StartTime:  originalUtc,
			Duration:   v.OriginalDuration,
			Extensions: v.OriginalExtensions.Clone(),
		},
	}, nil
}

// Standalone converts a standalone Occurrence into its CalendarEntry
// surface form. Standalone entries are never deduplicated against
// virtualized ones that happen to coincide in time.
func Standalone(o calendarmodel.Occurrence) (calendarmodel.CalendarEntry, error) {
	localStart, err := tzmodel.ToLocal(o.StartTime, o.TimeZone)
	if err != nil {
		return calendarmodel.CalendarEntry{}, err
	}
	return calendarmodel.CalendarEntry{
		Variant:      calendarmodel.VariantStandalone,
		Tenant:       o.Tenant,
		Type:         o.Type,
		StartTime:    localStart,
		EndTime:      localStart.Add(o.Duration),
		Duration:     o.Duration,
		TimeZone:     o.TimeZone,
		Extensions:   o.Extensions.Clone(),
		OccurrenceId: o.Id,
	}, nil
}
